// Package ledger is the options ledger state machine. It opens positions,
// amends them, and closes them in one or more slices against an opposite
// trade, writing closed records and audit entries in the same transaction.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-ledger/internal/metrics"
	"github.com/atmx/options-ledger/internal/model"
	"github.com/atmx/options-ledger/internal/store"
	"github.com/atmx/options-ledger/internal/validate"
	"github.com/atmx/options-ledger/internal/valuation"
)

// Service executes ledger operations. Every mutation runs inside one
// store.Update call, so positions, closed records and audit entries commit
// together or not at all.
type Service struct {
	store    store.Store
	notifier Notifier
	max      decimal.Decimal
	now      func() time.Time
}

// NewService creates a ledger service.
// Pass nil for notifier if event broadcasting is not needed.
func NewService(st store.Store, notifier Notifier) *Service {
	return &Service{
		store:    st,
		notifier: notifier,
		max:      validate.DefaultMax,
		now:      time.Now,
	}
}

// WithMax sets the upper bound for quantities and prices.
func (s *Service) WithMax(max decimal.Decimal) *Service {
	s.max = max
	return s
}

// WithClock replaces the wall clock, which supplies the default open date
// and the audit timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenRequest describes a new position. Quantity and UnitPrice are
// magnitudes; the sign comes from Direction. A zero OpenDate means today.
type OpenRequest struct {
	Ticker     string
	Kind       model.OptionKind
	Direction  model.Direction
	Strike     *decimal.Decimal
	Quantity   int64
	UnitPrice  decimal.Decimal
	ExpiryDate time.Time
	Structure  string
	Rollover   string
	OpenDate   time.Time
}

// AmendRequest carries the editable fields. A nil field keeps its value.
type AmendRequest struct {
	Quantity  *int64
	Structure *string
	Rollover  *string
}

// CloseRequest describes a closing trade against an open position.
// Rollover, when blank, keeps the position's own annotation on the record.
type CloseRequest struct {
	Quantity  int64
	UnitPrice decimal.Decimal
	CloseDate time.Time
	Rollover  string
	Reason    string
}

// Open validates req and inserts a new position with one "insert" audit
// entry. It returns the new position ID.
func (s *Service) Open(ctx context.Context, req OpenRequest) (int64, error) {
	start := time.Now()
	ticker, err := validate.ParseTicker(req.Ticker)
	if err != nil {
		return 0, s.reject("open", err)
	}
	if _, err := model.ParseOptionKind(string(req.Kind)); err != nil {
		return 0, s.reject("open", err)
	}
	if _, err := model.ParseDirection(string(req.Direction)); err != nil {
		return 0, s.reject("open", err)
	}
	if err := s.checkQuantity(req.Quantity); err != nil {
		return 0, s.reject("open", err)
	}
	if err := validate.Positive("unit_price", req.UnitPrice, s.max); err != nil {
		return 0, s.reject("open", err)
	}
	if req.Strike != nil {
		if err := validate.Positive("strike", *req.Strike, s.max); err != nil {
			return 0, s.reject("open", err)
		}
	}
	if req.ExpiryDate.IsZero() {
		return 0, s.reject("open", fmt.Errorf("%w: expiry date is required", validate.ErrInvalidDate))
	}

	now := s.now()
	openDate := req.OpenDate
	if openDate.IsZero() {
		openDate = now
	}

	pos := &model.Position{
		Ticker:         ticker.Symbol,
		Kind:           req.Kind,
		Direction:      req.Direction,
		Strike:         req.Strike,
		Quantity:       valuation.SignQuantity(req.Direction, req.Quantity),
		OpenedQuantity: req.Quantity,
		UnitPrice:      req.UnitPrice.Abs(),
		OpenDate:       model.DateOf(openDate),
		ExpiryDate:     model.DateOf(req.ExpiryDate),
		OpenCashflow:   valuation.SignedOpenCashflow(req.Direction, req.Quantity, req.UnitPrice),
		Structure:      strings.TrimSpace(req.Structure),
		Rollover:       strings.TrimSpace(req.Rollover),
	}

	var id int64
	err = s.store.Update(ctx, func(tx store.Tx) error {
		var err error
		id, err = tx.InsertPosition(ctx, pos)
		if err != nil {
			return err
		}
		audit := newAudit(id, model.AuditInsert, now)
		return audit.add(ctx, tx, "position", "",
			fmt.Sprintf("%s/%s/%s", pos.Ticker, pos.Kind, pos.Direction))
	})
	if err != nil {
		return 0, s.fail("open", err)
	}

	metrics.LedgerOperations.WithLabelValues("open").Inc()
	metrics.LedgerLatency.WithLabelValues("open").Observe(time.Since(start).Seconds())
	metrics.OpenCashflow.WithLabelValues(string(pos.Kind), string(pos.Direction)).Add(pos.OpenCashflow.InexactFloat64())

	slog.Info("position opened",
		"position_id", id,
		"ticker", pos.Ticker,
		"kind", pos.Kind,
		"direction", pos.Direction,
		"qty", pos.Quantity,
		"unit_price", pos.UnitPrice.String(),
		"cashflow", pos.OpenCashflow.String(),
	)
	s.notify(Event{Type: EventOpened, PositionID: id, Ticker: pos.Ticker})
	return id, nil
}

// Amend changes the editable fields of an open position. A new quantity is
// re-signed with the position's original direction and the opening cash
// flow is recomputed from the original unit price. Each changed field gets
// one "amend" audit entry. Amending nothing that differs is a no-op.
func (s *Service) Amend(ctx context.Context, id int64, req AmendRequest) error {
	start := time.Now()
	if req.Quantity != nil {
		if err := s.checkQuantity(*req.Quantity); err != nil {
			return s.reject("amend", err)
		}
	}

	now := s.now()
	var (
		changed   int
		cashDelta decimal.Decimal
		bucket    [2]string
	)
	err := s.store.Update(ctx, func(tx store.Tx) error {
		pos, err := tx.GetPosition(ctx, id)
		if err != nil {
			return err
		}
		cashDelta = decimal.Zero
		bucket = [2]string{string(pos.Kind), string(pos.Direction)}
		audit := newAudit(id, model.AuditAmend, now)

		if req.Quantity != nil {
			qty := valuation.SignQuantity(pos.Direction, *req.Quantity)
			if qty != pos.Quantity {
				closedSum, err := tx.ClosedQuantity(ctx, id)
				if err != nil {
					return err
				}
				if closedSum+pos.AbsQuantity() != pos.OpenedQuantity {
					return fmt.Errorf("%w: position %d has %d closed + %d open, opened %d",
						model.ErrConsistency, id, closedSum, pos.AbsQuantity(), pos.OpenedQuantity)
				}
				cash := valuation.SignedOpenCashflow(pos.Direction, *req.Quantity, pos.UnitPrice)
				if err := audit.add(ctx, tx, "quantity", fmtInt(pos.Quantity), fmtInt(qty)); err != nil {
					return err
				}
				if err := audit.add(ctx, tx, "open_cashflow", pos.OpenCashflow.String(), cash.String()); err != nil {
					return err
				}
				pos.OpenedQuantity += *req.Quantity - pos.AbsQuantity()
				pos.Quantity = qty
				cashDelta = cash.Sub(pos.OpenCashflow)
				pos.OpenCashflow = cash
			}
		}
		if req.Structure != nil {
			if v := strings.TrimSpace(*req.Structure); v != pos.Structure {
				if err := audit.add(ctx, tx, "structure", pos.Structure, v); err != nil {
					return err
				}
				pos.Structure = v
			}
		}
		if req.Rollover != nil {
			if v := strings.TrimSpace(*req.Rollover); v != pos.Rollover {
				if err := audit.add(ctx, tx, "rollover", pos.Rollover, v); err != nil {
					return err
				}
				pos.Rollover = v
			}
		}

		changed = audit.count
		if changed == 0 {
			return nil
		}
		return tx.UpdatePosition(ctx, pos)
	})
	if err != nil {
		return s.fail("amend", err)
	}

	metrics.LedgerOperations.WithLabelValues("amend").Inc()
	metrics.LedgerLatency.WithLabelValues("amend").Observe(time.Since(start).Seconds())
	if !cashDelta.IsZero() {
		metrics.OpenCashflow.WithLabelValues(bucket[0], bucket[1]).Add(cashDelta.InexactFloat64())
	}

	slog.Info("position amended", "position_id", id, "fields", changed)
	if changed > 0 {
		s.notify(Event{Type: EventAmended, PositionID: id})
	}
	return nil
}

// Close settles quantity contracts of a position at the given unit price.
// It appends one immutable closed record and one "close" audit entry, then
// reduces the position, or deletes it when nothing remains. It returns the
// closed record ID.
func (s *Service) Close(ctx context.Context, id int64, req CloseRequest) (int64, error) {
	start := time.Now()
	if req.Quantity <= 0 {
		return 0, s.reject("close", fmt.Errorf("%w: closing quantity must be > 0, got %d", validate.ErrInvalidNumber, req.Quantity))
	}
	if req.UnitPrice.IsNegative() || req.UnitPrice.GreaterThan(s.max) {
		return 0, s.reject("close", fmt.Errorf("%w: closing price must be >= 0 and <= %s, got %s",
			validate.ErrInvalidNumber, s.max.String(), req.UnitPrice.String()))
	}

	now := s.now()
	closeDate := req.CloseDate
	if closeDate.IsZero() {
		closeDate = now
	}

	var (
		recordID  int64
		record    model.ClosedRecord
		remaining int64
	)
	err := s.store.Update(ctx, func(tx store.Tx) error {
		pos, err := tx.GetPosition(ctx, id)
		if err != nil {
			return err
		}
		open := pos.AbsQuantity()
		if req.Quantity > open {
			return fmt.Errorf("%w: closing %d of position %d exceeds remaining %d",
				validate.ErrInvalidNumber, req.Quantity, id, open)
		}

		closedSum, err := tx.ClosedQuantity(ctx, id)
		if err != nil {
			return err
		}
		if closedSum+open != pos.OpenedQuantity {
			return fmt.Errorf("%w: position %d has %d closed + %d open, opened %d",
				model.ErrConsistency, id, closedSum, open, pos.OpenedQuantity)
		}

		closeCash := valuation.SignedOpenCashflow(pos.Direction.Opposite(), req.Quantity, req.UnitPrice)
		openCash := valuation.SignedOpenCashflow(pos.Direction, req.Quantity, pos.UnitPrice)

		rollover := strings.TrimSpace(req.Rollover)
		if rollover == "" {
			rollover = pos.Rollover
		}
		record = model.ClosedRecord{
			PositionID:     id,
			Ticker:         pos.Ticker,
			Kind:           pos.Kind,
			Direction:      pos.Direction,
			Strike:         pos.Strike,
			Quantity:       req.Quantity,
			OpenUnitPrice:  pos.UnitPrice,
			OpenCashflow:   openCash,
			OpenDate:       pos.OpenDate,
			ExpiryDate:     pos.ExpiryDate,
			Structure:      pos.Structure,
			Rollover:       rollover,
			CloseDate:      model.DateOf(closeDate),
			CloseUnitPrice: req.UnitPrice.Abs(),
			CloseCashflow:  closeCash,
			GainLoss:       closeCash.Add(openCash),
			Reason:         strings.TrimSpace(req.Reason),
		}
		if recordID, err = tx.InsertClosedRecord(ctx, &record); err != nil {
			return err
		}
		record.ID = recordID

		remaining = open - req.Quantity
		status := "fully_closed"
		if remaining > 0 {
			status = fmt.Sprintf("partially_closed(%d)", req.Quantity)
		}
		audit := newAudit(id, model.AuditClose, now)
		if err := audit.add(ctx, tx, "status", "open", status); err != nil {
			return err
		}

		if remaining == 0 {
			return tx.DeletePosition(ctx, id)
		}
		pos.Quantity = valuation.SignQuantity(pos.Direction, remaining)
		pos.OpenCashflow = valuation.SignedOpenCashflow(pos.Direction, remaining, pos.UnitPrice)
		return tx.UpdatePosition(ctx, pos)
	})
	if err != nil {
		return 0, s.fail("close", err)
	}

	metrics.LedgerOperations.WithLabelValues("close").Inc()
	metrics.LedgerLatency.WithLabelValues("close").Observe(time.Since(start).Seconds())
	metrics.RealizedGainLoss.Add(record.GainLoss.InexactFloat64())
	metrics.OpenCashflow.WithLabelValues(string(record.Kind), string(record.Direction)).Sub(record.OpenCashflow.InexactFloat64())

	slog.Info("position closed",
		"position_id", id,
		"closed_id", recordID,
		"qty", req.Quantity,
		"remaining", remaining,
		"close_price", record.CloseUnitPrice.String(),
		"gain_loss", record.GainLoss.String(),
	)
	s.notify(Event{Type: EventClosed, PositionID: id, ClosedID: recordID, Ticker: record.Ticker, Remaining: &remaining})
	return recordID, nil
}

// UpdateMarkPrice sets the current mark price of a position, or clears it
// when price is nil. Quantity, cash flow and realized gain are untouched.
func (s *Service) UpdateMarkPrice(ctx context.Context, id int64, price *decimal.Decimal) error {
	start := time.Now()
	if price != nil && (price.IsNegative() || price.GreaterThan(s.max)) {
		return s.reject("mark", fmt.Errorf("%w: mark price must be >= 0 and <= %s, got %s",
			validate.ErrInvalidNumber, s.max.String(), price.String()))
	}

	now := s.now()
	err := s.store.Update(ctx, func(tx store.Tx) error {
		pos, err := tx.GetPosition(ctx, id)
		if err != nil {
			return err
		}
		audit := newAudit(id, model.AuditMark, now)
		if err := audit.add(ctx, tx, "mark_price", fmtOptional(pos.MarkPrice), fmtOptional(price)); err != nil {
			return err
		}
		pos.MarkPrice = price
		return tx.UpdatePosition(ctx, pos)
	})
	if err != nil {
		return s.fail("mark", err)
	}

	metrics.LedgerOperations.WithLabelValues("mark").Inc()
	metrics.LedgerLatency.WithLabelValues("mark").Observe(time.Since(start).Seconds())

	slog.Info("mark price updated", "position_id", id, "mark_price", fmtOptional(price))
	s.notify(Event{Type: EventMarked, PositionID: id})
	return nil
}

// --- Read accessors ---

// Position returns one open position.
func (s *Service) Position(ctx context.Context, id int64) (*model.Position, error) {
	return s.store.GetPosition(ctx, id)
}

// Positions returns every open position ordered by ID.
func (s *Service) Positions(ctx context.Context) ([]model.Position, error) {
	return s.store.ListPositions(ctx)
}

// ClosedRecords returns every closed record ordered by ID.
func (s *Service) ClosedRecords(ctx context.Context) ([]model.ClosedRecord, error) {
	return s.store.ListClosedRecords(ctx)
}

// AuditTrail returns the audit entries of a position, including positions
// that have since been fully closed.
func (s *Service) AuditTrail(ctx context.Context, positionID int64) ([]model.AuditEntry, error) {
	return s.store.ListAuditEntries(ctx, positionID)
}

// --- helpers ---

func (s *Service) checkQuantity(qty int64) error {
	return validate.Positive("quantity", decimal.NewFromInt(qty), s.max)
}

func (s *Service) reject(op string, err error) error {
	metrics.LedgerRejections.WithLabelValues(op, "validation").Inc()
	slog.Debug("ledger input rejected", "op", op, "err", err)
	return err
}

func (s *Service) fail(op string, err error) error {
	switch {
	case errors.Is(err, model.ErrValidation):
		return s.reject(op, err)
	case errors.Is(err, model.ErrNotFound):
		metrics.LedgerRejections.WithLabelValues(op, "not_found").Inc()
		slog.Debug("ledger position not found", "op", op, "err", err)
	case errors.Is(err, model.ErrStoreBusy):
		metrics.LedgerRejections.WithLabelValues(op, "busy").Inc()
		slog.Warn("ledger store busy", "op", op, "err", err)
	case errors.Is(err, model.ErrConsistency):
		metrics.LedgerRejections.WithLabelValues(op, "consistency").Inc()
		slog.Error("ledger consistency violation", "op", op, "err", err)
	default:
		metrics.LedgerRejections.WithLabelValues(op, "store").Inc()
		slog.Error("ledger store failure", "op", op, "err", err)
	}
	return err
}

func (s *Service) notify(e Event) {
	if s.notifier != nil {
		s.notifier.Notify(e)
	}
}

// auditBatch writes the entries of one mutation under a shared mutation ID.
type auditBatch struct {
	mutationID string
	positionID int64
	kind       model.AuditKind
	at         time.Time
	count      int
}

func newAudit(positionID int64, kind model.AuditKind, at time.Time) *auditBatch {
	return &auditBatch{
		mutationID: uuid.New().String(),
		positionID: positionID,
		kind:       kind,
		at:         at.UTC(),
	}
}

func (a *auditBatch) add(ctx context.Context, tx store.Tx, field, oldValue, newValue string) error {
	a.count++
	return tx.InsertAuditEntry(ctx, &model.AuditEntry{
		MutationID: a.mutationID,
		PositionID: a.positionID,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		Kind:       a.kind,
		Timestamp:  a.at,
	})
}

func fmtInt(v int64) string { return strconv.FormatInt(v, 10) }

func fmtOptional(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}
