package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/options-ledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS positions (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		ticker TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('Call', 'Put')),
		direction TEXT NOT NULL CHECK (direction IN ('Compra', 'Venda')),
		strike NUMERIC,
		quantity BIGINT NOT NULL,
		opened_quantity BIGINT NOT NULL,
		unit_price NUMERIC NOT NULL,
		open_date DATE NOT NULL,
		expiry_date DATE NOT NULL,
		open_cashflow NUMERIC NOT NULL,
		structure TEXT NOT NULL DEFAULT '',
		rollover TEXT NOT NULL DEFAULT '',
		mark_price NUMERIC
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_ticker ON positions(ticker)`,
	`CREATE TABLE IF NOT EXISTS closed_records (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		position_id BIGINT NOT NULL,
		ticker TEXT NOT NULL,
		kind TEXT NOT NULL,
		direction TEXT NOT NULL,
		strike NUMERIC,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		open_unit_price NUMERIC NOT NULL,
		open_cashflow NUMERIC NOT NULL,
		open_date DATE NOT NULL,
		expiry_date DATE NOT NULL,
		structure TEXT NOT NULL DEFAULT '',
		rollover TEXT NOT NULL DEFAULT '',
		close_date DATE NOT NULL,
		close_unit_price NUMERIC NOT NULL,
		close_cashflow NUMERIC NOT NULL,
		gain_loss NUMERIC NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_closed_position ON closed_records(position_id)`,
	`CREATE INDEX IF NOT EXISTS idx_closed_close_date ON closed_records(close_date)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		mutation_id UUID NOT NULL,
		position_id BIGINT NOT NULL,
		field TEXT NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_position ON audit_log(position_id)`,
	`CREATE OR REPLACE FUNCTION reject_mutation() RETURNS trigger AS $$
	 BEGIN
		RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
	 END;
	 $$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS closed_records_append_only ON closed_records`,
	`CREATE TRIGGER closed_records_append_only BEFORE UPDATE OR DELETE ON closed_records
	 FOR EACH ROW EXECUTE FUNCTION reject_mutation()`,
	`DROP TRIGGER IF EXISTS audit_log_append_only ON audit_log`,
	`CREATE TRIGGER audit_log_append_only BEFORE UPDATE OR DELETE ON audit_log
	 FOR EACH ROW EXECUTE FUNCTION reject_mutation()`,
}

// Init creates the schema when absent.
func (s *PostgresStore) Init(ctx context.Context) error {
	for _, q := range postgresSchema {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return pgErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return pgErr(err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return pgErr(tx.Commit(ctx))
}

const pgPositionSelect = `SELECT id, ticker, kind, direction, strike::TEXT, quantity, opened_quantity,
	unit_price::TEXT, open_date::TEXT, expiry_date::TEXT, open_cashflow::TEXT,
	structure, rollover, mark_price::TEXT
	FROM positions`

func (s *PostgresStore) GetPosition(ctx context.Context, id int64) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx, pgPositionSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get position %d: %w", id, pgErr(err))
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, pgPositionSelect+` ORDER BY id`)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

const pgClosedSelect = `SELECT id, position_id, ticker, kind, direction, strike::TEXT, quantity,
	open_unit_price::TEXT, open_cashflow::TEXT, open_date::TEXT, expiry_date::TEXT,
	structure, rollover, close_date::TEXT, close_unit_price::TEXT, close_cashflow::TEXT,
	gain_loss::TEXT, reason
	FROM closed_records`

func (s *PostgresStore) ListClosedRecords(ctx context.Context) ([]model.ClosedRecord, error) {
	rows, err := s.pool.Query(ctx, pgClosedSelect+` ORDER BY id`)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()

	var records []model.ClosedRecord
	for rows.Next() {
		r, err := scanClosedRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, positionID int64) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, mutation_id::TEXT, position_id, field, old_value, new_value, kind, created_at
		 FROM audit_log WHERE position_id = $1 ORDER BY id`, positionID)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.MutationID, &e.PositionID, &e.Field,
			&e.OldValue, &e.NewValue, &kind, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = model.AuditKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetPosition(ctx context.Context, id int64) (*model.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx, pgPositionSelect+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock position %d: %w", id, pgErr(err))
	}
	return p, nil
}

func (t *pgTx) InsertPosition(ctx context.Context, p *model.Position) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO positions (`+positionInsertColumns+`)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7::NUMERIC, $8::DATE, $9::DATE,
		         $10::NUMERIC, $11, $12, $13::NUMERIC)
		 RETURNING id`,
		positionArgs(p)...).Scan(&id)
	return id, pgErr(err)
}

func (t *pgTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE positions
		 SET quantity = $2, opened_quantity = $3, open_cashflow = $4::NUMERIC,
		     structure = $5, rollover = $6, mark_price = $7::NUMERIC
		 WHERE id = $1`,
		p.ID, p.Quantity, p.OpenedQuantity, p.OpenCashflow.String(),
		p.Structure, p.Rollover, nullableDecimal(p.MarkPrice))
	if err != nil {
		return pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", model.ErrNotFound, p.ID)
	}
	return nil
}

func (t *pgTx) DeletePosition(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", model.ErrNotFound, id)
	}
	return nil
}

func (t *pgTx) ClosedQuantity(ctx context.Context, positionID int64) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)::BIGINT FROM closed_records WHERE position_id = $1`, positionID).
		Scan(&sum)
	return sum, pgErr(err)
}

func (t *pgTx) InsertClosedRecord(ctx context.Context, r *model.ClosedRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO closed_records (`+closedInsertColumns+`)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9::DATE, $10::DATE,
		         $11, $12, $13::DATE, $14::NUMERIC, $15::NUMERIC, $16::NUMERIC, $17)
		 RETURNING id`,
		closedArgs(r)...).Scan(&id)
	return id, pgErr(err)
}

func (t *pgTx) InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_log (mutation_id, position_id, field, old_value, new_value, kind, created_at)
		 VALUES ($1::UUID, $2, $3, $4, $5, $6, $7)`,
		e.MutationID, e.PositionID, e.Field, e.OldValue, e.NewValue, string(e.Kind), e.Timestamp)
	return pgErr(err)
}

// pgErr maps lock contention and missing rows onto the ledger taxonomy.
func pgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "55P03", "57014", "40001", "40P01": // lock_not_available, query_canceled, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", model.ErrStoreBusy, pe.Message)
		}
	}
	return err
}
