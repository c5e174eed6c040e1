package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/atmx/options-ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A write transaction works on a private copy of the state and swaps it in
// on commit, so readers only ever see committed state.
type MemoryStore struct {
	mu          sync.RWMutex
	state       *memState
	writer      chan struct{} // single-writer token
	lockTimeout time.Duration
}

type memState struct {
	positions  map[int64]model.Position
	closed     []model.ClosedRecord
	audit      []model.AuditEntry
	nextPos    int64
	nextClosed int64
	nextAudit  int64
}

func (st *memState) clone() *memState {
	positions := make(map[int64]model.Position, len(st.positions))
	for id, p := range st.positions {
		positions[id] = p
	}
	return &memState{
		positions:  positions,
		closed:     slices.Clone(st.closed),
		audit:      slices.Clone(st.audit),
		nextPos:    st.nextPos,
		nextClosed: st.nextClosed,
		nextAudit:  st.nextAudit,
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:       &memState{positions: make(map[int64]model.Position)},
		writer:      make(chan struct{}, 1),
		lockTimeout: DefaultLockTimeout,
	}
}

// WithLockTimeout sets the bounded wait for the write token.
func (s *MemoryStore) WithLockTimeout(d time.Duration) *MemoryStore {
	s.lockTimeout = d
	return s
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.writer <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w: write lock not acquired within %s", model.ErrStoreBusy, s.lockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writer }()

	s.mu.RLock()
	tx := &memTx{state: s.state.clone()}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = tx.state
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id int64) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrNotFound, id)
	}
	return &p, nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.state.positions))
	for _, p := range s.state.positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	return positions, nil
}

func (s *MemoryStore) ListClosedRecords(_ context.Context) ([]model.ClosedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.state.closed), nil
}

func (s *MemoryStore) ListAuditEntries(_ context.Context, positionID int64) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.AuditEntry
	for _, e := range s.state.audit {
		if e.PositionID == positionID {
			result = append(result, e)
		}
	}
	return result, nil
}

// memTx mutates a private state copy owned by one Update call.
type memTx struct {
	state *memState
}

func (tx *memTx) GetPosition(_ context.Context, id int64) (*model.Position, error) {
	p, ok := tx.state.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrNotFound, id)
	}
	return &p, nil
}

func (tx *memTx) InsertPosition(_ context.Context, p *model.Position) (int64, error) {
	tx.state.nextPos++
	row := *p
	row.ID = tx.state.nextPos
	tx.state.positions[row.ID] = row
	return row.ID, nil
}

func (tx *memTx) UpdatePosition(_ context.Context, p *model.Position) error {
	if _, ok := tx.state.positions[p.ID]; !ok {
		return fmt.Errorf("%w: %d", model.ErrNotFound, p.ID)
	}
	tx.state.positions[p.ID] = *p
	return nil
}

func (tx *memTx) DeletePosition(_ context.Context, id int64) error {
	if _, ok := tx.state.positions[id]; !ok {
		return fmt.Errorf("%w: %d", model.ErrNotFound, id)
	}
	delete(tx.state.positions, id)
	return nil
}

func (tx *memTx) ClosedQuantity(_ context.Context, positionID int64) (int64, error) {
	var sum int64
	for _, r := range tx.state.closed {
		if r.PositionID == positionID {
			sum += r.Quantity
		}
	}
	return sum, nil
}

func (tx *memTx) InsertClosedRecord(_ context.Context, r *model.ClosedRecord) (int64, error) {
	tx.state.nextClosed++
	row := *r
	row.ID = tx.state.nextClosed
	tx.state.closed = append(tx.state.closed, row)
	return row.ID, nil
}

func (tx *memTx) InsertAuditEntry(_ context.Context, e *model.AuditEntry) error {
	tx.state.nextAudit++
	row := *e
	row.ID = tx.state.nextAudit
	tx.state.audit = append(tx.state.audit, row)
	return nil
}
