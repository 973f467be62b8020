package paycalc

import (
	"testing"

	"github.com/shopspring/decimal"

	"payline/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestComputeStandardLine(t *testing.T) {
	res := Compute(Inputs{
		Hours:     d("38"),
		Rate:      d("30"),
		OT15Hours: d("2"),
		Allowance: d("50"),
		Tax:       d("200"),
		Super:     d("80"),
	})
	if !res.Gross.Equal(d("1230")) {
		t.Fatalf("gross = %s, want 1230", res.Gross)
	}
	if !res.Net.Equal(d("950")) {
		t.Fatalf("net = %s, want 950", res.Net)
	}
	if res.Status != domain.ItemStatusOK {
		t.Fatalf("status = %s, want ok", res.Status)
	}
}

func TestComputeOvertimeTiers(t *testing.T) {
	res := Compute(Inputs{
		Hours:     d("40"),
		Rate:      d("20"),
		OT15Hours: d("3"),
		OT20Hours: d("1"),
	})
	// 800 + 3*20*1.5 + 1*20*2 = 930
	if !res.Gross.Equal(d("930")) {
		t.Fatalf("gross = %s, want 930", res.Gross)
	}
	if !res.Net.Equal(d("930")) {
		t.Fatalf("net = %s, want 930", res.Net)
	}
}

func TestComputeRoundsHalfAwayFromZero(t *testing.T) {
	// 0.5 * 30.01 = 15.005, rounds up to 15.01.
	res := Compute(Inputs{Hours: d("0.5"), Rate: d("30.01")})
	if !res.Gross.Equal(d("15.01")) {
		t.Fatalf("gross = %s, want 15.01", res.Gross)
	}

	// Negative half rounds away from zero too.
	net := Net(d("0"), Inputs{Tax: d("15.005")})
	if !net.Equal(d("-15.01")) {
		t.Fatalf("net = %s, want -15.01", net)
	}
}

func TestComputeRoundsOnceNotPerTier(t *testing.T) {
	// Per-tier rounding would give 0.01 + 0.01 = 0.02; a single rounding
	// step over the exact sum gives 0.01.
	res := Compute(Inputs{
		Hours:     d("1"),
		Rate:      d("0.005"),
		OT15Hours: d("0.6667"),
	})
	want := d("1").Mul(d("0.005")).
		Add(d("0.6667").Mul(d("0.005")).Mul(d("1.5"))).
		Round(2)
	if !res.Gross.Equal(want) {
		t.Fatalf("gross = %s, want %s", res.Gross, want)
	}
}

func TestStatusWarningOnNegativeNet(t *testing.T) {
	res := Compute(Inputs{Hours: d("1"), Rate: d("10"), Tax: d("50")})
	if !res.Net.Equal(d("-40")) {
		t.Fatalf("net = %s, want -40", res.Net)
	}
	if res.Status != domain.ItemStatusWarning {
		t.Fatalf("status = %s, want warning", res.Status)
	}
}

func TestStatusWarningOnEmptyLine(t *testing.T) {
	res := Compute(Inputs{})
	if res.Status != domain.ItemStatusWarning {
		t.Fatalf("status = %s, want warning", res.Status)
	}
}

func TestStatusOKWithAllowanceOnly(t *testing.T) {
	// No hours but a non-zero gross is a valid line.
	res := Compute(Inputs{Allowance: d("120")})
	if res.Status != domain.ItemStatusOK {
		t.Fatalf("status = %s, want ok", res.Status)
	}
	if !res.Gross.Equal(d("120")) {
		t.Fatalf("gross = %s, want 120", res.Gross)
	}
}
