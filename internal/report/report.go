// Package report computes the read-only aggregates shown on the ledger
// dashboard. Open-position figures filter on the open date, realized
// figures on the close date. Nothing here writes.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/options-ledger/internal/model"
	"github.com/atmx/options-ledger/internal/valuation"
)

// Source is the read side of the ledger store.
type Source interface {
	ListPositions(ctx context.Context) ([]model.Position, error)
	ListClosedRecords(ctx context.Context) ([]model.ClosedRecord, error)
}

// Bucket keys the opening cash flow breakdown.
type Bucket struct {
	Kind      model.OptionKind `json:"kind"`
	Direction model.Direction  `json:"direction"`
}

// Realized splits realized gain/loss by whether a structure tag is set.
type Realized struct {
	WithStructure    decimal.Decimal `json:"with_structure"`
	WithoutStructure decimal.Decimal `json:"without_structure"`
}

// Total is the sum of both halves.
func (r Realized) Total() decimal.Decimal {
	return r.WithStructure.Add(r.WithoutStructure)
}

// MonthAmount is realized gain/loss for one close month (YYYY-MM).
type MonthAmount struct {
	Month    string          `json:"month"`
	GainLoss decimal.Decimal `json:"gain_loss"`
}

// OpeningByKindDirection sums the opening cash flow of open positions by
// option kind and direction. All four buckets are always present.
func OpeningByKindDirection(positions []model.Position, period model.Period) map[Bucket]decimal.Decimal {
	out := make(map[Bucket]decimal.Decimal, 4)
	for _, k := range []model.OptionKind{model.Call, model.Put} {
		for _, dir := range []model.Direction{model.Compra, model.Venda} {
			out[Bucket{k, dir}] = decimal.Zero
		}
	}
	for _, p := range positions {
		if !period.Contains(p.OpenDate) {
			continue
		}
		b := Bucket{p.Kind, p.Direction}
		out[b] = out[b].Add(p.OpenCashflow)
	}
	return out
}

// RealizedByStructure sums realized gain/loss of closed records. A blank
// structure tag counts as none.
func RealizedByStructure(closed []model.ClosedRecord, period model.Period) Realized {
	r := Realized{WithStructure: decimal.Zero, WithoutStructure: decimal.Zero}
	for _, c := range closed {
		if !period.Contains(c.CloseDate) {
			continue
		}
		if strings.TrimSpace(c.Structure) == "" {
			r.WithoutStructure = r.WithoutStructure.Add(c.GainLoss)
		} else {
			r.WithStructure = r.WithStructure.Add(c.GainLoss)
		}
	}
	return r
}

// NetCashflow is the cash that moved in the period: opening cash flow of
// open positions and of closed slices by open date, plus closing cash flow
// by close date.
func NetCashflow(positions []model.Position, closed []model.ClosedRecord, period model.Period) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if period.Contains(p.OpenDate) {
			total = total.Add(p.OpenCashflow)
		}
	}
	for _, c := range closed {
		if period.Contains(c.OpenDate) {
			total = total.Add(c.OpenCashflow)
		}
		if period.Contains(c.CloseDate) {
			total = total.Add(c.CloseCashflow)
		}
	}
	return total
}

// OutstandingOpening is the opening cash flow still carried by open
// positions. It ignores any period.
func OutstandingOpening(positions []model.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.OpenCashflow)
	}
	return total
}

// MonthlyRealized groups realized gain/loss by close month, ascending.
func MonthlyRealized(closed []model.ClosedRecord, period model.Period) []MonthAmount {
	byMonth := make(map[string]decimal.Decimal)
	for _, c := range closed {
		if !period.Contains(c.CloseDate) {
			continue
		}
		m := c.CloseDate.Format("2006-01")
		byMonth[m] = byMonth[m].Add(c.GainLoss)
	}

	out := make([]MonthAmount, 0, len(byMonth))
	for m, v := range byMonth {
		out = append(out, MonthAmount{Month: m, GainLoss: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// Summary carries every dashboard aggregate, raw and formatted.
type Summary struct {
	Period             model.Period               `json:"period"`
	Opening            map[string]decimal.Decimal `json:"opening"` // "Call/Compra" -> sum
	Realized           Realized                   `json:"realized"`
	NetCashflow        decimal.Decimal            `json:"net_cashflow"`
	OutstandingOpening decimal.Decimal            `json:"outstanding_opening"`
	Formatted          map[string]string          `json:"formatted"`
}

// Reporter runs the aggregates against a Source.
type Reporter struct {
	src      Source
	decimals int32
}

// New creates a Reporter formatting money with two decimal places.
func New(src Source) *Reporter {
	return &Reporter{src: src, decimals: 2}
}

// Summary loads the ledger once and computes all four aggregates.
func (r *Reporter) Summary(ctx context.Context, period model.Period) (*Summary, error) {
	positions, closed, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Period:             period,
		Opening:            make(map[string]decimal.Decimal, 4),
		Realized:           RealizedByStructure(closed, period),
		NetCashflow:        NetCashflow(positions, closed, period),
		OutstandingOpening: OutstandingOpening(positions),
		Formatted:          make(map[string]string),
	}
	for b, v := range OpeningByKindDirection(positions, period) {
		key := fmt.Sprintf("%s/%s", b.Kind, b.Direction)
		s.Opening[key] = v
		s.Formatted[strings.ToLower(fmt.Sprintf("opening_%s_%s", b.Kind, b.Direction))] = valuation.FormatMoney(v, r.decimals)
	}
	s.Formatted["realized_with_structure"] = valuation.FormatMoney(s.Realized.WithStructure, r.decimals)
	s.Formatted["realized_without_structure"] = valuation.FormatMoney(s.Realized.WithoutStructure, r.decimals)
	s.Formatted["realized_total"] = valuation.FormatMoney(s.Realized.Total(), r.decimals)
	s.Formatted["net_cashflow"] = valuation.FormatMoney(s.NetCashflow, r.decimals)
	s.Formatted["outstanding_opening"] = valuation.FormatMoney(s.OutstandingOpening, r.decimals)
	return s, nil
}

// Monthly returns realized gain/loss per close month.
func (r *Reporter) Monthly(ctx context.Context, period model.Period) ([]MonthAmount, error) {
	closed, err := r.src.ListClosedRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load closed records: %w", err)
	}
	return MonthlyRealized(closed, period), nil
}

func (r *Reporter) load(ctx context.Context) ([]model.Position, []model.ClosedRecord, error) {
	positions, err := r.src.ListPositions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load positions: %w", err)
	}
	closed, err := r.src.ListClosedRecords(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load closed records: %w", err)
	}
	return positions, closed, nil
}
