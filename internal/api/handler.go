// Package api provides the JSON HTTP surface of the options ledger. It
// validates user-entered strings, calls the ledger service, and renders
// positions, closed records and reports.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-ledger/internal/ledger"
	"github.com/atmx/options-ledger/internal/model"
	"github.com/atmx/options-ledger/internal/report"
	"github.com/atmx/options-ledger/internal/validate"
	"github.com/atmx/options-ledger/internal/valuation"
)

// Handler serves the ledger API.
type Handler struct {
	ledger  *ledger.Service
	reports *report.Reporter
	max     decimal.Decimal
	now     func() time.Time
}

// NewHandler creates the HTTP handler set.
func NewHandler(svc *ledger.Service, reports *report.Reporter) *Handler {
	return &Handler{
		ledger:  svc,
		reports: reports,
		max:     validate.DefaultMax,
		now:     time.Now,
	}
}

// WithMax sets the bound applied by numeric field validation.
func (h *Handler) WithMax(max decimal.Decimal) *Handler {
	h.max = max
	return h
}

// WithClock replaces the wall clock used to resolve ticker expiries.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Mount registers the ledger routes on r, which is expected to be the
// /api/v1 sub-router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/positions", h.ListPositions)
	r.Post("/positions", h.OpenPosition)
	r.Get("/positions/{id}", h.GetPosition)
	r.Patch("/positions/{id}", h.AmendPosition)
	r.Post("/positions/{id}/close", h.ClosePosition)
	r.Put("/positions/{id}/mark", h.UpdateMark)
	r.Get("/positions/{id}/audit", h.GetAuditTrail)

	r.Get("/closed", h.ListClosed)

	r.Get("/reports/summary", h.GetSummary)
	r.Get("/reports/monthly", h.GetMonthly)

	r.Get("/tickers/{ticker}", h.DecodeTicker)
}

// --- Request/Response types ---

// OpenPositionRequest is the JSON body for POST /positions. Numbers are
// strings as typed by the user ("1,50", "R$ 2,00"). A blank kind is taken
// from the ticker series; a blank expiry from the ticker calendar.
type OpenPositionRequest struct {
	Ticker     string `json:"ticker"`
	Kind       string `json:"kind"`      // "Call" or "Put"
	Direction  string `json:"direction"` // "Compra" or "Venda"
	Strike     string `json:"strike"`
	Quantity   string `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	ExpiryDate string `json:"expiry_date"` // DD/MM/YYYY or DDMMYYYY
	OpenDate   string `json:"open_date"`   // blank means today
	Structure  string `json:"structure"`
	Rollover   string `json:"rollover"`
}

// AmendPositionRequest is the JSON body for PATCH /positions/{id}.
// Blank or absent fields keep their stored value.
type AmendPositionRequest struct {
	Quantity  string `json:"quantity"`
	Structure string `json:"structure"`
	Rollover  string `json:"rollover"`
}

// ClosePositionRequest is the JSON body for POST /positions/{id}/close.
type ClosePositionRequest struct {
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unit_price"` // may be "0" for an expired option
	CloseDate string `json:"close_date"` // blank means today
	Rollover  string `json:"rollover"`
	Reason    string `json:"reason"`
}

// MarkRequest is the JSON body for PUT /positions/{id}/mark. A blank price
// clears the mark.
type MarkRequest struct {
	Price string `json:"price"`
}

// PositionView is a position plus its display strings.
type PositionView struct {
	model.Position
	OpenCashflowDisplay string `json:"open_cashflow_display"`
	MarkPriceDisplay    string `json:"mark_price_display"`
	ExpiryDisplay       string `json:"expiry_display"`
}

// ClosedView is a closed record plus its display strings.
type ClosedView struct {
	model.ClosedRecord
	GainLossDisplay string `json:"gain_loss_display"`
	CloseDisplay    string `json:"close_date_display"`
}

// TickerResponse is the decoded ticker with its expiry in the current year.
type TickerResponse struct {
	validate.Ticker
	Expiry string `json:"expiry"`
}

// --- HTTP Handlers ---

// OpenPosition handles POST /api/v1/positions
func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ticker, err := validate.ParseTicker(req.Ticker)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	direction, err := model.ParseDirection(req.Direction)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	kind := ticker.Kind
	if strings.TrimSpace(req.Kind) != "" {
		if kind, err = model.ParseOptionKind(req.Kind); err != nil {
			writeLedgerError(w, err)
			return
		}
	}

	qty, err := h.requiredQuantity("quantity", req.Quantity)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	price, err := h.requiredPositive("unit_price", req.UnitPrice)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	strike, err := h.optionalPositive("strike", req.Strike)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	openDate := time.Time{}
	if strings.TrimSpace(req.OpenDate) != "" {
		if openDate, err = validate.ParseDate(req.OpenDate); err != nil {
			writeLedgerError(w, err)
			return
		}
	}

	var expiry time.Time
	if strings.TrimSpace(req.ExpiryDate) != "" {
		if expiry, err = validate.ParseDate(req.ExpiryDate); err != nil {
			writeLedgerError(w, err)
			return
		}
	} else {
		ref := openDate
		if ref.IsZero() {
			ref = h.now()
		}
		expiry = nextExpiry(ticker, ref)
	}

	id, err := h.ledger.Open(r.Context(), ledger.OpenRequest{
		Ticker:     ticker.Symbol,
		Kind:       kind,
		Direction:  direction,
		Strike:     strike,
		Quantity:   qty,
		UnitPrice:  price,
		ExpiryDate: expiry,
		Structure:  req.Structure,
		Rollover:   req.Rollover,
		OpenDate:   openDate,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	pos, err := h.ledger.Position(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, positionView(*pos))
}

// ListPositions handles GET /api/v1/positions
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.ledger.Positions(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetPosition handles GET /api/v1/positions/{id}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	pos, err := h.ledger.Position(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(*pos))
}

// AmendPosition handles PATCH /api/v1/positions/{id}
func (h *Handler) AmendPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req AmendPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var amend ledger.AmendRequest
	if strings.TrimSpace(req.Quantity) != "" {
		qty, err := h.requiredQuantity("quantity", req.Quantity)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		amend.Quantity = &qty
	}
	if strings.TrimSpace(req.Structure) != "" {
		amend.Structure = &req.Structure
	}
	if strings.TrimSpace(req.Rollover) != "" {
		amend.Rollover = &req.Rollover
	}

	if err := h.ledger.Amend(r.Context(), id, amend); err != nil {
		writeLedgerError(w, err)
		return
	}
	pos, err := h.ledger.Position(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(*pos))
}

// ClosePosition handles POST /api/v1/positions/{id}/close
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	qty, err := h.requiredQuantity("quantity", req.Quantity)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if strings.TrimSpace(req.UnitPrice) == "" {
		writeLedgerError(w, fmt.Errorf("%w: unit_price is required", validate.ErrInvalidNumber))
		return
	}
	price, err := validate.ParseNumber(req.UnitPrice)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	var closeDate time.Time
	if strings.TrimSpace(req.CloseDate) != "" {
		if closeDate, err = validate.ParseDate(req.CloseDate); err != nil {
			writeLedgerError(w, err)
			return
		}
	}

	closedID, err := h.ledger.Close(r.Context(), id, ledger.CloseRequest{
		Quantity:  qty,
		UnitPrice: price,
		CloseDate: closeDate,
		Rollover:  req.Rollover,
		Reason:    req.Reason,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	resp := map[string]any{"closed_id": closedID, "position_id": id}
	if pos, err := h.ledger.Position(r.Context(), id); err == nil {
		resp["remaining"] = pos.Quantity
	} else {
		resp["remaining"] = 0
	}
	writeJSON(w, http.StatusCreated, resp)
}

// UpdateMark handles PUT /api/v1/positions/{id}/mark
func (h *Handler) UpdateMark(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var price *decimal.Decimal
	if strings.TrimSpace(req.Price) != "" {
		v, err := validate.ParseNumber(req.Price)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		price = &v
	}
	if err := h.ledger.UpdateMarkPrice(r.Context(), id, price); err != nil {
		writeLedgerError(w, err)
		return
	}
	pos, err := h.ledger.Position(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(*pos))
}

// GetAuditTrail handles GET /api/v1/positions/{id}/audit
// The trail is returned even after the position was fully closed.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := positionID(w, r)
	if !ok {
		return
	}
	entries, err := h.ledger.AuditTrail(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListClosed handles GET /api/v1/closed
func (h *Handler) ListClosed(w http.ResponseWriter, r *http.Request) {
	closed, err := h.ledger.ClosedRecords(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	views := make([]ClosedView, 0, len(closed))
	for _, c := range closed {
		views = append(views, ClosedView{
			ClosedRecord:    c,
			GainLossDisplay: valuation.FormatMoney(c.GainLoss, 2),
			CloseDisplay:    validate.FormatDate(c.CloseDate),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// GetSummary handles GET /api/v1/reports/summary?from=&to=
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	summary, err := h.reports.Summary(r.Context(), period)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetMonthly handles GET /api/v1/reports/monthly?from=&to=
func (h *Handler) GetMonthly(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	months, err := h.reports.Monthly(r.Context(), period)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, months)
}

// DecodeTicker handles GET /api/v1/tickers/{ticker}
func (h *Handler) DecodeTicker(w http.ResponseWriter, r *http.Request) {
	t, err := validate.ParseTicker(chi.URLParam(r, "ticker"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TickerResponse{
		Ticker: *t,
		Expiry: validate.FormatDate(nextExpiry(t, h.now())),
	})
}

// --- helpers ---

func (h *Handler) requiredPositive(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, fmt.Errorf("%w: %s is required", validate.ErrInvalidNumber, field)
	}
	if !validate.NumericPositive(value, h.max) {
		return decimal.Zero, fmt.Errorf("%w: %s must be > 0 and <= %s, got %q",
			validate.ErrInvalidNumber, field, h.max.String(), value)
	}
	return validate.ParseNumber(value)
}

func (h *Handler) optionalPositive(field, value string) (*decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	v, err := h.requiredPositive(field, value)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (h *Handler) requiredQuantity(field, value string) (int64, error) {
	v, err := h.requiredPositive(field, value)
	if err != nil {
		return 0, err
	}
	if !v.IsInteger() {
		return 0, fmt.Errorf("%w: %s must be a whole number of contracts, got %q",
			validate.ErrInvalidNumber, field, value)
	}
	return v.IntPart(), nil
}

// nextExpiry is the first expiry of the ticker series on or after ref.
func nextExpiry(t *validate.Ticker, ref time.Time) time.Time {
	ref = model.DateOf(ref)
	exp := t.Expiry(ref.Year())
	if exp.Before(ref) {
		exp = t.Expiry(ref.Year() + 1)
	}
	return exp
}

func positionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, "invalid position id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func parsePeriod(r *http.Request) (model.Period, error) {
	var p model.Period
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := validate.ParseDate(v)
		if err != nil {
			return p, err
		}
		p.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := validate.ParseDate(v)
		if err != nil {
			return p, err
		}
		p.To = &t
	}
	if p.From != nil && p.To != nil && p.To.Before(*p.From) {
		return p, fmt.Errorf("%w: period ends before it starts", validate.ErrInvalidDate)
	}
	return p, nil
}

func positionView(p model.Position) PositionView {
	return PositionView{
		Position:            p,
		OpenCashflowDisplay: valuation.FormatMoney(p.OpenCashflow, 2),
		MarkPriceDisplay:    valuation.FormatOptional(p.MarkPrice, 2),
		ExpiryDisplay:       validate.FormatDate(p.ExpiryDate),
	}
}

// writeLedgerError maps the ledger error taxonomy onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrStoreBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
