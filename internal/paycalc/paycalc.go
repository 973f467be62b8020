// Package paycalc holds the pure pay-line arithmetic. Everything here is
// decimal math with a single 2dp rounding step; no storage, no clock.
package paycalc

import (
	"github.com/shopspring/decimal"

	"payline/internal/domain"
)

var (
	otRate15 = decimal.NewFromFloat(1.5)
	otRate20 = decimal.NewFromFloat(2)
)

// Inputs are the caller-supplied components of one pay line. Tax, super and
// deductions are inputs, never derived.
type Inputs struct {
	Hours           decimal.Decimal
	Rate            decimal.Decimal
	OT15Hours       decimal.Decimal
	OT20Hours       decimal.Decimal
	Allowance       decimal.Decimal
	Tax             decimal.Decimal
	Super           decimal.Decimal
	DeductionsTotal decimal.Decimal
}

// Result carries the derived amounts and the line status tag.
type Result struct {
	Gross  decimal.Decimal
	Net    decimal.Decimal
	Status string
}

// Gross returns ordinary pay plus the 1.5x and 2x overtime tiers plus
// allowance, rounded to cents. decimal.Round is half-away-from-zero.
func Gross(in Inputs) decimal.Decimal {
	base := in.Hours.Mul(in.Rate)
	ot15 := in.OT15Hours.Mul(in.Rate).Mul(otRate15)
	ot20 := in.OT20Hours.Mul(in.Rate).Mul(otRate20)
	return base.Add(ot15).Add(ot20).Add(in.Allowance).Round(2)
}

// Net returns gross minus tax, super and deductions, rounded to cents.
func Net(gross decimal.Decimal, in Inputs) decimal.Decimal {
	return gross.Sub(in.Tax).Sub(in.Super).Sub(in.DeductionsTotal).Round(2)
}

// Compute derives gross, net and the status tag in one pass. Rounding
// happens here and nowhere else; stored amounts are already cents-exact.
func Compute(in Inputs) Result {
	gross := Gross(in)
	net := Net(gross, in)
	return Result{Gross: gross, Net: net, Status: statusFor(in, gross, net)}
}

// A line is tagged warning when it would pay a negative amount or when it
// carries neither hours nor gross. Everything else is ok.
func statusFor(in Inputs, gross, net decimal.Decimal) string {
	if net.IsNegative() {
		return domain.ItemStatusWarning
	}
	if in.Hours.IsZero() && gross.IsZero() {
		return domain.ItemStatusWarning
	}
	return domain.ItemStatusOK
}
