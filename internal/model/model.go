// Package model defines the core domain types shared across the options ledger.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side a position was opened on.
type Direction string

const (
	Compra Direction = "Compra" // buy: cash leaves, quantity stored positive
	Venda  Direction = "Venda"  // sell: cash enters, quantity stored negative
)

// ParseDirection accepts exactly "Compra" or "Venda".
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Compra, Venda:
		return Direction(s), nil
	}
	return "", fmt.Errorf("%w: direction must be Compra or Venda, got %q", ErrValidation, s)
}

// Opposite returns the direction that offsets d. Closing a Compra is a Venda.
func (d Direction) Opposite() Direction {
	if d == Compra {
		return Venda
	}
	return Compra
}

// OptionKind is Call or Put.
type OptionKind string

const (
	Call OptionKind = "Call"
	Put  OptionKind = "Put"
)

// ParseOptionKind accepts exactly "Call" or "Put".
func ParseOptionKind(s string) (OptionKind, error) {
	switch OptionKind(s) {
	case Call, Put:
		return OptionKind(s), nil
	}
	return "", fmt.Errorf("%w: option kind must be Call or Put, got %q", ErrValidation, s)
}

// Position is an open (or partially closed) option operation.
// Quantity is signed: positive when opened as Compra, negative as Venda.
type Position struct {
	ID             int64            `json:"id"`
	Ticker         string           `json:"ticker"`
	Kind           OptionKind       `json:"kind"`
	Direction      Direction        `json:"direction"` // immutable provenance
	Strike         *decimal.Decimal `json:"strike,omitempty"`
	Quantity       int64            `json:"quantity"`        // signed remaining quantity
	OpenedQuantity int64            `json:"opened_quantity"` // magnitude opened, adjusted by amendments
	UnitPrice      decimal.Decimal  `json:"unit_price"`      // premium at open, always positive
	OpenDate       time.Time        `json:"open_date"`
	ExpiryDate     time.Time        `json:"expiry_date"`
	OpenCashflow   decimal.Decimal  `json:"open_cashflow"` // signed, for the remaining quantity
	Structure      string           `json:"structure,omitempty"`
	Rollover       string           `json:"rollover,omitempty"`
	MarkPrice      *decimal.Decimal `json:"mark_price,omitempty"`
}

// AbsQuantity returns the remaining quantity magnitude.
func (p *Position) AbsQuantity() int64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// ClosedRecord is an immutable settlement of all or part of a position.
// Once created, these are never modified or deleted.
type ClosedRecord struct {
	ID             int64            `json:"id"`
	PositionID     int64            `json:"position_id"` // may no longer exist in positions
	Ticker         string           `json:"ticker"`
	Kind           OptionKind       `json:"kind"`
	Direction      Direction        `json:"direction"` // original direction of the position
	Strike         *decimal.Decimal `json:"strike,omitempty"`
	Quantity       int64            `json:"quantity"` // closed quantity, always positive
	OpenUnitPrice  decimal.Decimal  `json:"open_unit_price"`
	OpenCashflow   decimal.Decimal  `json:"open_cashflow"` // attributable to the closed slice
	OpenDate       time.Time        `json:"open_date"`
	ExpiryDate     time.Time        `json:"expiry_date"`
	Structure      string           `json:"structure,omitempty"`
	Rollover       string           `json:"rollover,omitempty"`
	CloseDate      time.Time        `json:"close_date"`
	CloseUnitPrice decimal.Decimal  `json:"close_unit_price"`
	CloseCashflow  decimal.Decimal  `json:"close_cashflow"`
	GainLoss       decimal.Decimal  `json:"gain_loss"`
	Reason         string           `json:"reason,omitempty"`
}

// AuditKind names the mutation an audit entry belongs to.
type AuditKind string

const (
	AuditInsert AuditKind = "insert"
	AuditAmend  AuditKind = "amend"
	AuditClose  AuditKind = "close"
	AuditMark   AuditKind = "mark"
)

// AuditEntry records one field change. Append-only.
type AuditEntry struct {
	ID         int64     `json:"id"`
	MutationID string    `json:"mutation_id"` // groups the entries of one transaction
	PositionID int64     `json:"position_id"`
	Field      string    `json:"field"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	Kind       AuditKind `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
}

// Period is an inclusive date range. A nil bound is open.
type Period struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Contains reports whether the calendar date of t lies inside the period.
func (p Period) Contains(t time.Time) bool {
	day := DateOf(t)
	if p.From != nil && day.Before(DateOf(*p.From)) {
		return false
	}
	if p.To != nil && day.After(DateOf(*p.To)) {
		return false
	}
	return true
}

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
