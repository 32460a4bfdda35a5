package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Aggregate sums movements into per-key balances, inbound minus outbound.
// Keys netting to zero are omitted, matching the cache's delete-at-zero rule.
func Aggregate(movements []Movement, f OnHandFilter) []Balance {
	sums := map[BalanceKey]decimal.Decimal{}
	add := func(loc *int64, m Movement, qty decimal.Decimal) {
		if loc == nil {
			return
		}
		if f.LocationID != nil && *f.LocationID != *loc {
			return
		}
		if f.ItemID != nil && *f.ItemID != m.ItemID {
			return
		}
		if f.UOMID != nil && (m.UOMID == nil || *m.UOMID != *f.UOMID) {
			return
		}
		k := KeyFor(*loc, m.ItemID, m.UOMID)
		sums[k] = sums[k].Add(qty)
	}
	for _, m := range movements {
		add(m.DestinationLocationID, m, m.Qty)
		add(m.SourceLocationID, m, m.Qty.Neg())
	}
	out := make([]Balance, 0, len(sums))
	for k, q := range sums {
		if q.IsZero() {
			continue
		}
		out = append(out, Balance{BalanceKey: k, Qty: q})
	}
	SortBalances(out)
	return out
}

// SortBalances orders balances by location, item, unit.
func SortBalances(b []Balance) {
	sort.Slice(b, func(i, j int) bool {
		if b[i].LocationID != b[j].LocationID {
			return b[i].LocationID < b[j].LocationID
		}
		if b[i].ItemID != b[j].ItemID {
			return b[i].ItemID < b[j].ItemID
		}
		return b[i].UOMID < b[j].UOMID
	})
}

// Sum totals balance quantities.
func Sum(b []Balance) decimal.Decimal {
	total := decimal.Zero
	for _, row := range b {
		total = total.Add(row.Qty)
	}
	return total
}

// Compare returns every key where ledger and cache differ.
func Compare(ledger, cache []Balance) []Drift {
	want := map[BalanceKey]decimal.Decimal{}
	for _, b := range ledger {
		want[b.BalanceKey] = b.Qty
	}
	have := map[BalanceKey]decimal.Decimal{}
	for _, b := range cache {
		have[b.BalanceKey] = b.Qty
	}
	var drifts []Drift
	for k, q := range want {
		if c, ok := have[k]; !ok || !c.Equal(q) {
			drifts = append(drifts, Drift{Key: k, Ledger: q, Cached: have[k]})
		}
	}
	for k, c := range have {
		if _, ok := want[k]; !ok {
			drifts = append(drifts, Drift{Key: k, Ledger: decimal.Zero, Cached: c})
		}
	}
	sort.Slice(drifts, func(i, j int) bool {
		a, b := drifts[i].Key, drifts[j].Key
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		return a.UOMID < b.UOMID
	})
	return drifts
}
