package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/options-ledger/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// list queries the reports run on every request. Cache keys carry a
// generation number that every committed write increments, so a reader that
// loaded the primary before the write can only fill a key nobody reads
// again. Reads check Redis first then fall back to the primary. When the
// generation cannot be read or bumped, reads bypass the cache entirely.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	prefix  string
	bypass  atomic.Bool // set while a generation bump has failed
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		prefix:  "ledger:",
	}
}

// WithPrefix namespaces the cache keys, e.g. per test or per deployment.
func (s *CachedStore) WithPrefix(prefix string) *CachedStore {
	s.prefix = prefix
	return s
}

// --- Write-through (write to primary, bump generation) ---

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := s.primary.Update(ctx, fn); err != nil {
		return err
	}
	// Entries of older generations are never read again and expire by TTL.
	if err := s.rdb.Incr(ctx, s.generationKey()).Err(); err != nil {
		slog.Warn("cache generation bump failed, bypassing cache", "err", err)
		s.bypass.Store(true)
		return nil
	}
	s.bypass.Store(false)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	gen, ok := s.generation(ctx)
	if !ok {
		return s.primary.ListPositions(ctx)
	}
	key := s.key("positions", gen)

	var positions []model.Position
	if s.load(ctx, key, &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	s.save(ctx, key, positions)
	return positions, nil
}

func (s *CachedStore) ListClosedRecords(ctx context.Context) ([]model.ClosedRecord, error) {
	gen, ok := s.generation(ctx)
	if !ok {
		return s.primary.ListClosedRecords(ctx)
	}
	key := s.key("closed", gen)

	var records []model.ClosedRecord
	if s.load(ctx, key, &records) {
		return records, nil
	}

	records, err := s.primary.ListClosedRecords(ctx)
	if err != nil {
		return nil, err
	}
	s.save(ctx, key, records)
	return records, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetPosition(ctx context.Context, id int64) (*model.Position, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) ListAuditEntries(ctx context.Context, positionID int64) ([]model.AuditEntry, error) {
	return s.primary.ListAuditEntries(ctx, positionID)
}

// --- Cache helpers ---

// generation returns the current cache generation. A missing counter is
// generation 0. ok is false when Redis cannot be trusted, in which case
// callers read the primary directly.
func (s *CachedStore) generation(ctx context.Context) (int64, bool) {
	if s.bypass.Load() {
		return 0, false
	}
	gen, err := s.rdb.Get(ctx, s.generationKey()).Int64()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		slog.Warn("cache generation read failed", "err", err)
		return 0, false
	}
}

func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) save(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) generationKey() string { return s.prefix + "gen" }

func (s *CachedStore) key(name string, gen int64) string {
	return s.prefix + name + ":" + strconv.FormatInt(gen, 10)
}
