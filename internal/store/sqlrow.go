package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/options-ledger/internal/model"
)

// Both SQL stores move decimals and dates as text: NUMERIC/DATE columns in
// PostgreSQL are selected with a ::TEXT cast, SQLite stores TEXT directly.

const dateKeyLayout = "2006-01-02"

// rowScanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func dateKey(t time.Time) string { return t.Format(dateKeyLayout) }

func parseDateKey(s string) (time.Time, error) {
	// PostgreSQL may render a DATE with a time part depending on DateStyle.
	if len(s) > len(dateKeyLayout) {
		s = s[:len(dateKeyLayout)]
	}
	return time.Parse(dateKeyLayout, s)
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalFromNull(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// positionArgs lists the insertable columns in positionInsertColumns order.
const positionInsertColumns = `ticker, kind, direction, strike, quantity, opened_quantity,
	unit_price, open_date, expiry_date, open_cashflow, structure, rollover, mark_price`

func positionArgs(p *model.Position) []any {
	return []any{
		p.Ticker, string(p.Kind), string(p.Direction), nullableDecimal(p.Strike),
		p.Quantity, p.OpenedQuantity,
		p.UnitPrice.String(), dateKey(p.OpenDate), dateKey(p.ExpiryDate),
		p.OpenCashflow.String(), p.Structure, p.Rollover, nullableDecimal(p.MarkPrice),
	}
}

func scanPosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var kind, dir, unit, openDate, expiry, cash string
	var strike, mark sql.NullString

	if err := row.Scan(&p.ID, &p.Ticker, &kind, &dir, &strike,
		&p.Quantity, &p.OpenedQuantity,
		&unit, &openDate, &expiry, &cash,
		&p.Structure, &p.Rollover, &mark); err != nil {
		return nil, err
	}

	p.Kind = model.OptionKind(kind)
	p.Direction = model.Direction(dir)

	var err error
	if p.Strike, err = decimalFromNull(strike); err != nil {
		return nil, fmt.Errorf("position %d strike: %w", p.ID, err)
	}
	if p.MarkPrice, err = decimalFromNull(mark); err != nil {
		return nil, fmt.Errorf("position %d mark price: %w", p.ID, err)
	}
	if p.UnitPrice, err = decimal.NewFromString(unit); err != nil {
		return nil, fmt.Errorf("position %d unit price: %w", p.ID, err)
	}
	if p.OpenCashflow, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("position %d cash flow: %w", p.ID, err)
	}
	if p.OpenDate, err = parseDateKey(openDate); err != nil {
		return nil, fmt.Errorf("position %d open date: %w", p.ID, err)
	}
	if p.ExpiryDate, err = parseDateKey(expiry); err != nil {
		return nil, fmt.Errorf("position %d expiry: %w", p.ID, err)
	}
	return &p, nil
}

const closedInsertColumns = `position_id, ticker, kind, direction, strike, quantity,
	open_unit_price, open_cashflow, open_date, expiry_date, structure, rollover,
	close_date, close_unit_price, close_cashflow, gain_loss, reason`

func closedArgs(r *model.ClosedRecord) []any {
	return []any{
		r.PositionID, r.Ticker, string(r.Kind), string(r.Direction), nullableDecimal(r.Strike), r.Quantity,
		r.OpenUnitPrice.String(), r.OpenCashflow.String(), dateKey(r.OpenDate), dateKey(r.ExpiryDate),
		r.Structure, r.Rollover,
		dateKey(r.CloseDate), r.CloseUnitPrice.String(), r.CloseCashflow.String(), r.GainLoss.String(), r.Reason,
	}
}

func scanClosedRecord(row rowScanner) (*model.ClosedRecord, error) {
	var r model.ClosedRecord
	var kind, dir, openUnit, openCash, openDate, expiry, closeDate, closeUnit, closeCash, gainLoss string
	var strike sql.NullString

	if err := row.Scan(&r.ID, &r.PositionID, &r.Ticker, &kind, &dir, &strike, &r.Quantity,
		&openUnit, &openCash, &openDate, &expiry, &r.Structure, &r.Rollover,
		&closeDate, &closeUnit, &closeCash, &gainLoss, &r.Reason); err != nil {
		return nil, err
	}

	r.Kind = model.OptionKind(kind)
	r.Direction = model.Direction(dir)

	var err error
	if r.Strike, err = decimalFromNull(strike); err != nil {
		return nil, fmt.Errorf("closed record %d strike: %w", r.ID, err)
	}
	decimals := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&r.OpenUnitPrice, openUnit},
		{&r.OpenCashflow, openCash},
		{&r.CloseUnitPrice, closeUnit},
		{&r.CloseCashflow, closeCash},
		{&r.GainLoss, gainLoss},
	}
	for _, c := range decimals {
		if *c.dst, err = decimal.NewFromString(c.src); err != nil {
			return nil, fmt.Errorf("closed record %d: %w", r.ID, err)
		}
	}
	dates := []struct {
		dst *time.Time
		src string
	}{
		{&r.OpenDate, openDate},
		{&r.ExpiryDate, expiry},
		{&r.CloseDate, closeDate},
	}
	for _, c := range dates {
		if *c.dst, err = parseDateKey(c.src); err != nil {
			return nil, fmt.Errorf("closed record %d: %w", r.ID, err)
		}
	}
	return &r, nil
}
