// Package valuation holds the only sign and cash-flow arithmetic of the
// ledger, plus money formatting. Every mutating ledger operation goes
// through SignQuantity and SignedOpenCashflow; nothing else re-derives them.
package valuation

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-ledger/internal/model"
	"github.com/atmx/options-ledger/internal/validate"
)

// Grapheme is the currency marker printed by FormatMoney.
const Grapheme = "R$"

// SignQuantity stores a quantity magnitude with the sign convention of the
// direction: Compra positive, Venda negative. The input sign is ignored.
func SignQuantity(dir model.Direction, qty int64) int64 {
	if qty < 0 {
		qty = -qty
	}
	if dir == model.Compra {
		return qty
	}
	return -qty
}

// SignedOpenCashflow is the cash moved by trading qty contracts at
// unitPrice in direction dir: negative when buying, positive when selling.
// Both inputs are taken as magnitudes.
func SignedOpenCashflow(dir model.Direction, qty int64, unitPrice decimal.Decimal) decimal.Decimal {
	if qty < 0 {
		qty = -qty
	}
	amount := unitPrice.Abs().Mul(decimal.NewFromInt(qty))
	if dir == model.Compra {
		return amount.Neg()
	}
	return amount
}

// FormatMoney renders v as "R$ 1.234,56" with round-half-up to decimals
// places. Negative values get the minus before the marker: "-R$ 150,00".
func FormatMoney(v decimal.Decimal, decimals int32) string {
	return format(v, decimals, Grapheme, "$ 1")
}

// FormatNumber is FormatMoney without the currency marker.
func FormatNumber(v decimal.Decimal, decimals int32) string {
	return format(v, decimals, "", "1")
}

// FormatOptional formats a nullable amount; nil formats as zero.
func FormatOptional(v *decimal.Decimal, decimals int32) string {
	if v == nil {
		return FormatMoney(decimal.Zero, decimals)
	}
	return FormatMoney(*v, decimals)
}

// ParseMoney reads back a value produced by FormatMoney or typed by a user.
// Blank input is zero.
func ParseMoney(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return validate.ParseNumber(s)
}

func format(v decimal.Decimal, decimals int32, grapheme, template string) string {
	if decimals < 0 {
		decimals = 0
	}
	// decimal.Round rounds half away from zero, not to even.
	minor := v.Round(decimals).Shift(decimals).IntPart()
	f := money.NewFormatter(int(decimals), ",", ".", grapheme, template)
	return f.Format(minor)
}
