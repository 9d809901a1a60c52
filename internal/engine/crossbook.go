package engine

import "time"

// CrossBook matches the books of several exchanges for one pair. Each
// ordered exchange pair (A, B) contributes the opportunities of buying on A
// and selling on B.
type CrossBook struct {
	filters Filters

	// sameExchange also matches an exchange's buy side against its own
	// sell side.
	sameExchange bool

	nowFunc func() time.Time
}

// NewCrossBook creates a CrossBook. Call Filters.Validate beforehand.
func NewCrossBook(f Filters, includeSameExchange bool) *CrossBook {
	return &CrossBook{
		filters:      f,
		sameExchange: includeSameExchange,
		nowFunc:      time.Now,
	}
}

// Opportunities returns every qualifying trade across the snapshots, sorted
// by spreadPercent descending. Enumeration follows snapshot order so ties
// are deterministic.
func (cb *CrossBook) Opportunities(snaps []Snapshot) []Opportunity {
	now := cb.nowFunc()

	var out []Opportunity
	for i, buySide := range snaps {
		for j, sellSide := range snaps {
			if i == j && !cb.sameExchange {
				continue
			}
			if i != j && buySide.Exchange == sellSide.Exchange {
				continue
			}
			out = append(out, Match(buySide.BuyOrders, sellSide.SellOrders, cb.filters, now)...)
		}
	}

	SortBySpread(out)
	return out
}
