package ap

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	// moneyTolerance absorbs cent rounding when settling invoices.
	moneyTolerance = decimal.New(1, -2)
)

// LineFacts are the goods receipt and purchase order figures an invoice line
// is matched against.
type LineFacts struct {
	ReceivedQty decimal.Decimal
	POUnitPrice decimal.Decimal
}

// LineMatch is the outcome of matching one line.
type LineMatch struct {
	ExpectedQty       decimal.Decimal
	ExpectedUnitPrice decimal.Decimal
	ExpectedLineTotal decimal.Decimal
	QtyVariance       decimal.Decimal
	QtyVariancePct    decimal.Decimal
	PriceVariance     decimal.Decimal
	PriceVariancePct  decimal.Decimal
	AmountVariance    decimal.Decimal
	AmountVariancePct decimal.Decimal
	Status            MatchStatus
	WithinTolerance   bool
}

// Exact reports a line with no variance at all.
func (m LineMatch) Exact() bool {
	return m.QtyVariance.IsZero() && m.PriceVariance.IsZero() && m.AmountVariance.IsZero()
}

// MatchLine classifies one invoice line. Precedence, first match wins:
// invoiced qty above received qty is OVER_INVOICED whatever the config; a
// qty variance beyond tolerance is QTY_VARIANCE; a price variance beyond
// tolerance is PRICE_VARIANCE, or BOTH_VARIANCE when qty was flagged too; an
// amount variance beyond tolerance only clears WithinTolerance. With
// AllowUnderInvoicing, negative qty and amount variances are never breaches.
func MatchLine(qty, unitPrice, lineTotal decimal.Decimal, facts LineFacts, cfg MatchingConfig) LineMatch {
	m := LineMatch{
		ExpectedQty:       facts.ReceivedQty,
		ExpectedUnitPrice: facts.POUnitPrice,
		ExpectedLineTotal: facts.ReceivedQty.Mul(facts.POUnitPrice).Round(2),
	}
	m.QtyVariance = qty.Sub(facts.ReceivedQty)
	m.QtyVariancePct = percentOf(m.QtyVariance, facts.ReceivedQty)
	m.PriceVariance = unitPrice.Sub(facts.POUnitPrice)
	m.PriceVariancePct = percentOf(m.PriceVariance, facts.POUnitPrice)
	m.AmountVariance = lineTotal.Sub(m.ExpectedLineTotal)
	m.AmountVariancePct = percentOf(m.AmountVariance, m.ExpectedLineTotal)

	if m.QtyVariance.IsPositive() {
		m.Status = MatchOverInvoiced
		return m
	}
	under := cfg.AllowUnderInvoicing && m.QtyVariance.IsNegative()
	qtyBreach := !under && exceeds(m.QtyVariance, facts.ReceivedQty, cfg.QtyTolerancePct)
	priceBreach := exceeds(m.PriceVariance, facts.POUnitPrice, cfg.PriceTolerancePct)
	amountBreach := exceeds(m.AmountVariance, m.ExpectedLineTotal, cfg.AmountTolerancePct) &&
		!(cfg.AllowUnderInvoicing && m.AmountVariance.IsNegative())

	switch {
	case qtyBreach && priceBreach:
		m.Status = MatchBothVariance
	case qtyBreach:
		m.Status = MatchQtyVariance
	case priceBreach:
		m.Status = MatchPriceVariance
	default:
		m.Status = MatchMatched
	}
	m.WithinTolerance = !qtyBreach && !priceBreach && !amountBreach
	return m
}

// Outcome folds line results into the invoice level status. exact is true
// only when every line matched without any variance.
func Outcome(lines []LineMatch) (status MatchStatus, exact bool) {
	exact = true
	for _, l := range lines {
		if !l.WithinTolerance {
			return MatchVariance, false
		}
		if !l.Exact() {
			exact = false
		}
	}
	return MatchMatched, exact
}

// exceeds reports |v|/|base|*100 > tolPct without rounding. Any variance
// against a zero base is a breach.
func exceeds(v, base, tolPct decimal.Decimal) bool {
	if v.IsZero() {
		return false
	}
	if base.IsZero() {
		return true
	}
	return v.Abs().Mul(hundred).GreaterThan(tolPct.Mul(base.Abs()))
}

// percentOf returns v/base*100 rounded to 4 places for storage, or zero when
// base is zero.
func percentOf(v, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return v.Div(base).Mul(hundred).Round(4)
}

// Settle applies amount to paid and derives remaining and payment status.
// A remainder within one cent is snapped to zero with paid set to total.
func Settle(total, paid, amount decimal.Decimal) (newPaid, remaining decimal.Decimal, status PaymentStatus) {
	newPaid = paid.Add(amount)
	remaining = total.Sub(newPaid)
	if remaining.Abs().LessThanOrEqual(moneyTolerance) {
		return total, decimal.Zero, PaymentPaid
	}
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if newPaid.IsZero() {
		return newPaid, remaining, PaymentUnpaid
	}
	return newPaid, remaining, PaymentPartialPaid
}
