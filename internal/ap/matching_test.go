package ap

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMatchLine(t *testing.T) {
	zero := MatchingConfig{}
	loose := MatchingConfig{QtyTolerancePct: d("10"), PriceTolerancePct: d("10"), AmountTolerancePct: d("25")}
	facts := LineFacts{ReceivedQty: d("10"), POUnitPrice: d("1000")}

	cases := []struct {
		name      string
		qty       string
		price     string
		cfg       MatchingConfig
		status    MatchStatus
		within    bool
		exact     bool
		amountPct string
	}{
		{name: "exact", qty: "10", price: "1000", cfg: zero, status: MatchMatched, within: true, exact: true, amountPct: "0"},
		{name: "over invoiced", qty: "10.5", price: "1000", cfg: loose, status: MatchOverInvoiced, amountPct: "5"},
		{name: "short qty", qty: "8", price: "1000", cfg: zero, status: MatchQtyVariance, amountPct: "-20"},
		{name: "price", qty: "10", price: "1100", cfg: zero, status: MatchPriceVariance, amountPct: "10"},
		{name: "both", qty: "8", price: "1200", cfg: zero, status: MatchBothVariance, amountPct: "-4"},
		{name: "within tolerance", qty: "9.5", price: "1050", cfg: loose, status: MatchMatched, within: true, amountPct: "-0.25"},
		{name: "amount breach keeps status", qty: "9.5", price: "1050", cfg: MatchingConfig{QtyTolerancePct: d("10"), PriceTolerancePct: d("10")},
			status: MatchMatched, amountPct: "-0.25"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			qty, price := d(tc.qty), d(tc.price)
			m := MatchLine(qty, price, qty.Mul(price).Round(2), facts, tc.cfg)
			require.Equal(t, tc.status, m.Status)
			require.Equal(t, tc.within, m.WithinTolerance)
			require.Equal(t, tc.exact, m.Exact())
			require.True(t, d(tc.amountPct).Equal(m.AmountVariancePct), "amount pct %s", m.AmountVariancePct)
		})
	}
}

func TestMatchLineZeroBase(t *testing.T) {
	m := MatchLine(d("0.5"), d("10"), d("5"), LineFacts{ReceivedQty: d("0"), POUnitPrice: d("0")}, MatchingConfig{})
	require.Equal(t, MatchOverInvoiced, m.Status)
	require.True(t, m.QtyVariancePct.IsZero())
	require.True(t, m.PriceVariancePct.IsZero())
}

func TestMatchLineFlagsVarianceBelowStoredPrecision(t *testing.T) {
	facts := LineFacts{ReceivedQty: d("10"), POUnitPrice: d("1000000")}
	price := d("1000000.01")
	m := MatchLine(d("10"), price, d("10").Mul(price).Round(2), facts, MatchingConfig{})

	require.True(t, m.PriceVariancePct.IsZero(), "stored pct is rounded: %s", m.PriceVariancePct)
	require.Equal(t, MatchPriceVariance, m.Status)
	require.False(t, m.WithinTolerance)
	status, exact := Outcome([]LineMatch{m})
	require.Equal(t, MatchVariance, status)
	require.False(t, exact)
}

func TestMatchLineVarianceAgainstZeroPOPrice(t *testing.T) {
	m := MatchLine(d("10"), d("5"), d("50"), LineFacts{ReceivedQty: d("10"), POUnitPrice: d("0")}, MatchingConfig{PriceTolerancePct: d("50")})
	require.Equal(t, MatchPriceVariance, m.Status)
	require.False(t, m.WithinTolerance)
}

func TestMatchLineUnderInvoicing(t *testing.T) {
	facts := LineFacts{ReceivedQty: d("10"), POUnitPrice: d("1000")}
	m := MatchLine(d("6"), d("1000"), d("6000"), facts, MatchingConfig{AllowUnderInvoicing: true})
	require.Equal(t, MatchMatched, m.Status)
	require.True(t, m.WithinTolerance)
	require.False(t, m.Exact())

	m = MatchLine(d("6"), d("1001"), d("6006"), facts, MatchingConfig{AllowUnderInvoicing: true})
	require.Equal(t, MatchPriceVariance, m.Status)
}

func TestOutcome(t *testing.T) {
	exact := LineMatch{Status: MatchMatched, WithinTolerance: true}
	tolerated := LineMatch{Status: MatchMatched, WithinTolerance: true, PriceVariance: d("1")}
	breach := LineMatch{Status: MatchQtyVariance, QtyVariance: d("-1")}

	status, isExact := Outcome([]LineMatch{exact, exact})
	require.Equal(t, MatchMatched, status)
	require.True(t, isExact)

	status, isExact = Outcome([]LineMatch{exact, tolerated})
	require.Equal(t, MatchMatched, status)
	require.False(t, isExact)

	status, _ = Outcome([]LineMatch{tolerated, breach})
	require.Equal(t, MatchVariance, status)
}

func TestSettle(t *testing.T) {
	paid, remaining, status := Settle(d("100"), d("0"), d("40"))
	require.True(t, d("40").Equal(paid))
	require.True(t, d("60").Equal(remaining))
	require.Equal(t, PaymentPartialPaid, status)

	paid, remaining, status = Settle(d("100"), d("40"), d("59.995"))
	require.True(t, d("100").Equal(paid))
	require.True(t, remaining.IsZero())
	require.Equal(t, PaymentPaid, status)

	_, _, status = Settle(d("100"), d("0"), d("0"))
	require.Equal(t, PaymentUnpaid, status)
}
