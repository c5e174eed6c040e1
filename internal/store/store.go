// Package store defines the persistence interface for the options ledger.
// Implementations include SQLite (local default), PostgreSQL, Redis
// (read-through cache over either), and in-memory (for testing).
//
// Only the ledger package writes through Update. Every other consumer reads.
package store

import (
	"context"
	"time"

	"github.com/atmx/options-ledger/internal/model"
)

// DefaultLockTimeout bounds how long Update waits for the write lock before
// failing with model.ErrStoreBusy.
const DefaultLockTimeout = 5 * time.Second

// Store is the persistence interface. Positions are mutable; closed records
// and the audit log are append-only.
type Store interface {
	// Update runs fn inside one write transaction. All writes made through
	// tx commit together when fn returns nil; none do otherwise. Waiting for
	// the write lock is bounded and surfaces model.ErrStoreBusy.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// GetPosition retrieves an open position by its ID.
	GetPosition(ctx context.Context, id int64) (*model.Position, error)

	// ListPositions returns all open positions ordered by ID.
	ListPositions(ctx context.Context) ([]model.Position, error)

	// ListClosedRecords returns every closed record ordered by ID.
	ListClosedRecords(ctx context.Context) ([]model.ClosedRecord, error)

	// ListAuditEntries returns the audit trail of one position ordered by ID.
	// The position itself may no longer exist.
	ListAuditEntries(ctx context.Context, positionID int64) ([]model.AuditEntry, error)
}

// Tx is the write view handed to Update callbacks.
type Tx interface {
	// GetPosition reads a position and holds its row for the rest of the
	// transaction. Returns model.ErrNotFound when absent.
	GetPosition(ctx context.Context, id int64) (*model.Position, error)

	// InsertPosition stores p and returns its new, never reused ID.
	InsertPosition(ctx context.Context, p *model.Position) (int64, error)

	// UpdatePosition overwrites the mutable columns of p.
	UpdatePosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes a fully closed position.
	DeletePosition(ctx context.Context, id int64) error

	// ClosedQuantity sums the closed quantity recorded for a position.
	ClosedQuantity(ctx context.Context, positionID int64) (int64, error)

	// InsertClosedRecord appends an immutable settlement and returns its ID.
	InsertClosedRecord(ctx context.Context, r *model.ClosedRecord) (int64, error)

	// InsertAuditEntry appends one audit row.
	InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error
}
