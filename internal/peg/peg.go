// Package peg evaluates the pegged asset price against its target band.
package peg

import (
	"github.com/shopspring/decimal"

	"pegkeeper/internal/domain"
)

// Band is the target price and the fractional tolerance around it.
type Band struct {
	Target    decimal.Decimal
	Tolerance decimal.Decimal
}

// DefaultBand returns target 1.0 with a 2% tolerance.
func DefaultBand() Band {
	return Band{Target: decimal.NewFromInt(1), Tolerance: decimal.RequireFromString("0.02")}
}

// Verdict summarises how far the observed price sits from the target.
type Verdict struct {
	Stable    bool
	Deviation decimal.Decimal
}

// DeviationPct returns the deviation expressed in percent.
func (v Verdict) DeviationPct() decimal.Decimal {
	return v.Deviation.Mul(decimal.NewFromInt(100))
}

// Evaluate reports |price - target| / target; the boundary itself counts as stable.
// Stability is decided on exact products so it always agrees with Decide; the
// rounded Deviation is for reporting only.
func Evaluate(price decimal.Decimal, band Band) Verdict {
	distance := price.Sub(band.Target).Abs()
	return Verdict{
		Stable:    distance.LessThanOrEqual(band.Target.Mul(band.Tolerance)),
		Deviation: distance.Div(band.Target),
	}
}

// Decide maps the price to BUY below the band, SELL above it and HOLD inside it.
func Decide(price decimal.Decimal, band Band) domain.Action {
	one := decimal.NewFromInt(1)
	upper := band.Target.Mul(one.Add(band.Tolerance))
	lower := band.Target.Mul(one.Sub(band.Tolerance))

	switch {
	case price.GreaterThan(upper):
		return domain.ActionSell
	case price.LessThan(lower):
		return domain.ActionBuy
	default:
		return domain.ActionHold
	}
}
