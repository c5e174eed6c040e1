package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/atmx/options-ledger/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. Write transactions
// start with BEGIN IMMEDIATE so the write lock is taken up front, and the
// driver's busy timeout bounds the wait for it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path in WAL mode.
// Call Init before first use.
func NewSQLiteStore(path string, lockTimeout time.Duration) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate",
		path, lockTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Init creates tables, indexes and append-only triggers when absent. Safe
// to call on every start.
func (s *SQLiteStore) Init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('Call', 'Put')),
			direction TEXT NOT NULL CHECK (direction IN ('Compra', 'Venda')),
			strike TEXT,
			quantity INTEGER NOT NULL,
			opened_quantity INTEGER NOT NULL,
			unit_price TEXT NOT NULL,
			open_date TEXT NOT NULL,
			expiry_date TEXT NOT NULL,
			open_cashflow TEXT NOT NULL,
			structure TEXT NOT NULL DEFAULT '',
			rollover TEXT NOT NULL DEFAULT '',
			mark_price TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_ticker ON positions(ticker);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_open_date ON positions(open_date);`,
		`CREATE TABLE IF NOT EXISTS closed_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			position_id INTEGER NOT NULL,
			ticker TEXT NOT NULL,
			kind TEXT NOT NULL,
			direction TEXT NOT NULL,
			strike TEXT,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			open_unit_price TEXT NOT NULL,
			open_cashflow TEXT NOT NULL,
			open_date TEXT NOT NULL,
			expiry_date TEXT NOT NULL,
			structure TEXT NOT NULL DEFAULT '',
			rollover TEXT NOT NULL DEFAULT '',
			close_date TEXT NOT NULL,
			close_unit_price TEXT NOT NULL,
			close_cashflow TEXT NOT NULL,
			gain_loss TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_closed_position ON closed_records(position_id);`,
		`CREATE INDEX IF NOT EXISTS idx_closed_close_date ON closed_records(close_date);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			mutation_id TEXT NOT NULL,
			position_id INTEGER NOT NULL,
			field TEXT NOT NULL,
			old_value TEXT NOT NULL,
			new_value TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_position ON audit_log(position_id);`,
	}
	for _, table := range []string{"closed_records", "audit_log"} {
		for _, op := range []string{"UPDATE", "DELETE"} {
			queries = append(queries, fmt.Sprintf(
				`CREATE TRIGGER IF NOT EXISTS %[1]s_no_%[2]s BEFORE %[2]s ON %[1]s
				 BEGIN SELECT RAISE(ABORT, '%[1]s is append-only'); END;`, table, op))
		}
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteErr(err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return sqliteErr(tx.Commit())
}

const sqlitePositionSelect = `SELECT id, ticker, kind, direction, strike, quantity, opened_quantity,
	unit_price, open_date, expiry_date, open_cashflow, structure, rollover, mark_price
	FROM positions`

func (s *SQLiteStore) GetPosition(ctx context.Context, id int64) (*model.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx, sqlitePositionSelect+` WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteErr(err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx, sqlitePositionSelect+` ORDER BY id`)
	if err != nil {
		return nil, sqliteErr(err)
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

const sqliteClosedSelect = `SELECT id, position_id, ticker, kind, direction, strike, quantity,
	open_unit_price, open_cashflow, open_date, expiry_date, structure, rollover,
	close_date, close_unit_price, close_cashflow, gain_loss, reason
	FROM closed_records`

func (s *SQLiteStore) ListClosedRecords(ctx context.Context) ([]model.ClosedRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteClosedSelect+` ORDER BY id`)
	if err != nil {
		return nil, sqliteErr(err)
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

func (s *SQLiteStore) ListAuditEntries(ctx context.Context, positionID int64) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mutation_id, position_id, field, old_value, new_value, kind, created_at
		 FROM audit_log WHERE position_id = ? ORDER BY id`, positionID)
	if err != nil {
		return nil, sqliteErr(err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var kind, ts string
		if err := rows.Scan(&e.ID, &e.MutationID, &e.PositionID, &e.Field,
			&e.OldValue, &e.NewValue, &kind, &ts); err != nil {
			return nil, err
		}
		e.Kind = model.AuditKind(kind)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("audit entry %d timestamp: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetPosition(ctx context.Context, id int64) (*model.Position, error) {
	p, err := scanPosition(t.tx.QueryRowContext(ctx, sqlitePositionSelect+` WHERE id = ?`, id))
	if err != nil {
		return nil, sqliteErr(err)
	}
	return p, nil
}

func (t *sqliteTx) InsertPosition(ctx context.Context, p *model.Position) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO positions (`+positionInsertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		positionArgs(p)...)
	if err != nil {
		return 0, sqliteErr(err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE positions
		 SET quantity = ?, opened_quantity = ?, open_cashflow = ?,
		     structure = ?, rollover = ?, mark_price = ?
		 WHERE id = ?`,
		p.Quantity, p.OpenedQuantity, p.OpenCashflow.String(),
		p.Structure, p.Rollover, nullableDecimal(p.MarkPrice), p.ID)
	if err != nil {
		return sqliteErr(err)
	}
	return expectOneRow(res, p.ID)
}

func (t *sqliteTx) DeletePosition(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return sqliteErr(err)
	}
	return expectOneRow(res, id)
}

func (t *sqliteTx) ClosedQuantity(ctx context.Context, positionID int64) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM closed_records WHERE position_id = ?`, positionID).
		Scan(&sum)
	return sum, sqliteErr(err)
}

func (t *sqliteTx) InsertClosedRecord(ctx context.Context, r *model.ClosedRecord) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO closed_records (`+closedInsertColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		closedArgs(r)...)
	if err != nil {
		return 0, sqliteErr(err)
	}
	return res.LastInsertId()
}

func (t *sqliteTx) InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO audit_log (mutation_id, position_id, field, old_value, new_value, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.MutationID, e.PositionID, e.Field, e.OldValue, e.NewValue, string(e.Kind),
		e.Timestamp.UTC().Format(time.RFC3339Nano))
	return sqliteErr(err)
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", model.ErrNotFound, id)
	}
	return nil
}

// sqliteErr maps driver errors onto the ledger taxonomy.
func sqliteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", model.ErrStoreBusy, err)
	}
	return err
}
