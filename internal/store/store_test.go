package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/options-ledger/internal/model"
	"github.com/atmx/options-ledger/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func samplePosition() *model.Position {
	strike := d(37.25)
	return &model.Position{
		Ticker:         "PETRA280",
		Kind:           model.Call,
		Direction:      model.Venda,
		Strike:         &strike,
		Quantity:       -100,
		OpenedQuantity: 100,
		UnitPrice:      d(1.5),
		OpenDate:       day(2025, 1, 10),
		ExpiryDate:     day(2025, 1, 17),
		OpenCashflow:   d(150),
		Structure:      "covered call",
	}
}

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := s.Update(ctx, func(tx store.Tx) error {
		var err error
		id, err = tx.InsertPosition(ctx, samplePosition())
		if err != nil {
			return err
		}
		return tx.InsertAuditEntry(ctx, &model.AuditEntry{
			MutationID: "6f1c2e4a-1d7b-4c55-9a43-0d7c9f3b8e21",
			PositionID: id,
			Field:      "ticker",
			NewValue:   "PETRA280",
			Kind:       model.AuditInsert,
			Timestamp:  time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}

	p, err := s.GetPosition(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Quantity != -100 || !p.OpenCashflow.Equal(d(150)) || !p.Strike.Equal(d(37.25)) {
		t.Errorf("unexpected position round trip: %+v", p)
	}
	if !p.OpenDate.Equal(day(2025, 1, 10)) || p.MarkPrice != nil {
		t.Errorf("unexpected dates or mark: %+v", p)
	}

	// A failing callback leaves nothing behind.
	boom := errors.New("boom")
	err = s.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertPosition(ctx, samplePosition()); err != nil {
			return err
		}
		p.Quantity = -40
		if err := tx.UpdatePosition(ctx, p); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	positions, err := s.ListPositions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != -100 {
		t.Fatalf("rolled back writes are visible: %+v", positions)
	}

	// Close the position in two slices, deleting it on the last one.
	for i, qty := range []int64{40, 60} {
		err = s.Update(ctx, func(tx store.Tx) error {
			cur, err := tx.GetPosition(ctx, id)
			if err != nil {
				return err
			}
			if _, err := tx.InsertClosedRecord(ctx, &model.ClosedRecord{
				PositionID:     id,
				Ticker:         cur.Ticker,
				Kind:           cur.Kind,
				Direction:      cur.Direction,
				Strike:         cur.Strike,
				Quantity:       qty,
				OpenUnitPrice:  cur.UnitPrice,
				OpenCashflow:   d(1.5 * float64(qty)),
				OpenDate:       cur.OpenDate,
				ExpiryDate:     cur.ExpiryDate,
				CloseDate:      day(2025, 1, 15),
				CloseUnitPrice: d(0.25),
				CloseCashflow:  d(-0.25 * float64(qty)),
				GainLoss:       d(1.25 * float64(qty)),
			}); err != nil {
				return err
			}
			if i == 1 {
				return tx.DeletePosition(ctx, id)
			}
			cur.Quantity += qty
			return tx.UpdatePosition(ctx, cur)
		})
		if err != nil {
			t.Fatalf("close slice %d: %v", i, err)
		}
	}

	if _, err := s.GetPosition(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound after full close, got %v", err)
	}
	err = s.Update(ctx, func(tx store.Tx) error {
		sum, err := tx.ClosedQuantity(ctx, id)
		if err != nil {
			return err
		}
		if sum != 100 {
			t.Errorf("expected closed quantity 100, got %d", sum)
		}
		_, err = tx.GetPosition(ctx, id)
		return err
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound inside tx, got %v", err)
	}

	closed, err := s.ListClosedRecords(ctx)
	if err != nil {
		t.Fatalf("list closed: %v", err)
	}
	if len(closed) != 2 || closed[0].Quantity != 40 || !closed[1].GainLoss.Equal(d(75)) {
		t.Errorf("unexpected closed records: %+v", closed)
	}
	if !closed[0].CloseDate.Equal(day(2025, 1, 15)) {
		t.Errorf("close date: got %s", closed[0].CloseDate)
	}

	audit, err := s.ListAuditEntries(ctx, id)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(audit) != 1 || audit[0].Kind != model.AuditInsert || audit[0].NewValue != "PETRA280" {
		t.Errorf("unexpected audit: %+v", audit)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, store.NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s := newSQLite(t)
	exerciseStore(t, s)
}

func newSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	// Init is idempotent.
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second init: %v", err)
	}
	return s
}

func TestMemoryStore_BusyTimeout(t *testing.T) {
	s := store.NewMemoryStore().WithLockTimeout(20 * time.Millisecond)
	ctx := context.Background()

	hold := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Update(ctx, func(tx store.Tx) error {
			close(hold)
			<-release
			return nil
		})
	}()
	<-hold

	err := s.Update(ctx, func(tx store.Tx) error { return nil })
	if !errors.Is(err, model.ErrStoreBusy) {
		t.Errorf("expected ErrStoreBusy, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
	if err := s.Update(ctx, func(tx store.Tx) error { return nil }); err != nil {
		t.Errorf("lock should be free again: %v", err)
	}
}

func TestMemoryStore_ReadersSeeCommittedState(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	err := s.Update(ctx, func(tx store.Tx) error {
		if _, err := tx.InsertPosition(ctx, samplePosition()); err != nil {
			return err
		}
		positions, err := s.ListPositions(ctx)
		if err != nil {
			return err
		}
		if len(positions) != 0 {
			t.Errorf("uncommitted insert visible to reader")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	positions, _ := s.ListPositions(ctx)
	if len(positions) != 1 {
		t.Errorf("expected 1 position after commit, got %d", len(positions))
	}
}

func TestSQLiteStore_ClosedRecordsAppendOnly(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx store.Tx) error {
		_, err := tx.InsertClosedRecord(ctx, &model.ClosedRecord{
			PositionID:     1,
			Ticker:         "PETRA280",
			Kind:           model.Call,
			Direction:      model.Venda,
			Quantity:       10,
			OpenUnitPrice:  d(1),
			OpenCashflow:   d(10),
			OpenDate:       day(2025, 1, 2),
			ExpiryDate:     day(2025, 1, 17),
			CloseDate:      day(2025, 1, 3),
			CloseUnitPrice: d(0.5),
			CloseCashflow:  d(-5),
			GainLoss:       d(5),
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert closed: %v", err)
	}

	db := store.RawDB(s)
	if _, err := db.ExecContext(ctx, `UPDATE closed_records SET gain_loss = '0'`); err == nil {
		t.Error("expected update of closed_records to be rejected")
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM closed_records`); err == nil {
		t.Error("expected delete of closed_records to be rejected")
	}
	closed, _ := s.ListClosedRecords(ctx)
	if len(closed) != 1 || !closed[0].GainLoss.Equal(d(5)) {
		t.Errorf("closed record changed: %+v", closed)
	}
}

func TestSQLiteStore_UpdateMissingPosition(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx store.Tx) error {
		p := samplePosition()
		p.ID = 42
		return tx.UpdatePosition(ctx, p)
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// Two handles on one file stand in for two processes sharing the ledger.
func TestSQLiteStore_BusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	open := func() *store.SQLiteStore {
		s, err := store.NewSQLiteStore(path, 200*time.Millisecond)
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}
	holder, waiter := open(), open()
	ctx := context.Background()
	if err := holder.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	hold := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- holder.Update(ctx, func(tx store.Tx) error {
			if _, err := tx.InsertPosition(ctx, samplePosition()); err != nil {
				return err
			}
			close(hold)
			<-release
			return nil
		})
	}()
	select {
	case <-hold:
	case err := <-done:
		t.Fatalf("holder finished early: %v", err)
	}

	start := time.Now()
	err := waiter.Update(ctx, func(tx store.Tx) error {
		_, err := tx.InsertPosition(ctx, samplePosition())
		return err
	})
	waited := time.Since(start)
	if !errors.Is(err, model.ErrStoreBusy) {
		t.Errorf("expected ErrStoreBusy, got %v", err)
	}
	if waited < 150*time.Millisecond || waited > 2*time.Second {
		t.Errorf("expected to wait about the 200ms lock timeout, waited %s", waited)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}

	// The lock is free again and the holder's write is visible.
	if err := waiter.Update(ctx, func(tx store.Tx) error {
		_, err := tx.InsertPosition(ctx, samplePosition())
		return err
	}); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
	positions, err := waiter.ListPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 2 {
		t.Errorf("expected 2 positions, got %d", len(positions))
	}
}
