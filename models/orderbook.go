package models

import (
	"sort"
	"time"
)

// DefaultDepth is the number of levels kept per side when none is configured.
const DefaultDepth = 5

// PriceLevel is a single aggregated price level of the order book.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// L2Depth is a fixed-depth ladder: bids sorted descending by price and asks
// ascending. Levels that the exchange did not provide are zero.
type L2Depth struct {
	DateTime time.Time    `json:"date_time"`
	Depth    int          `json:"depth"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
}

func NewL2Depth(depth int) L2Depth {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return L2Depth{
		Depth: depth,
		Bids:  make([]PriceLevel, depth),
		Asks:  make([]PriceLevel, depth),
	}
}

func levelAt(levels []PriceLevel, i int) PriceLevel {
	if i < len(levels) {
		return levels[i]
	}
	return PriceLevel{}
}

// IsDiff reports whether any bid or ask level differs from other in price
// or volume. The observation time is not compared.
func (d L2Depth) IsDiff(other L2Depth) bool {
	n := max(len(d.Bids), len(other.Bids), len(d.Asks), len(other.Asks))
	for i := 0; i < n; i++ {
		if levelAt(d.Bids, i) != levelAt(other.Bids, i) {
			return true
		}
		if levelAt(d.Asks, i) != levelAt(other.Asks, i) {
			return true
		}
	}
	return false
}

// Copy returns a deep copy of the ladder.
func (d L2Depth) Copy() L2Depth {
	out := d
	out.Bids = append([]PriceLevel(nil), d.Bids...)
	out.Asks = append([]PriceLevel(nil), d.Asks...)
	return out
}

// BestBid returns the top bid level, or a zero level when the side is empty.
func (d L2Depth) BestBid() PriceLevel { return levelAt(d.Bids, 0) }

// BestAsk returns the top ask level, or a zero level when the side is empty.
func (d L2Depth) BestAsk() PriceLevel { return levelAt(d.Asks, 0) }

// SortAndTruncate builds a ladder of the given depth from unsorted levels.
// Bids are ordered descending and asks ascending before truncation, and
// short sides are padded with zero levels.
func SortAndTruncate(bids, asks []PriceLevel, depth int, at time.Time) L2Depth {
	out := NewL2Depth(depth)
	out.DateTime = at

	b := append([]PriceLevel(nil), bids...)
	sort.SliceStable(b, func(i, j int) bool { return b[i].Price > b[j].Price })
	a := append([]PriceLevel(nil), asks...)
	sort.SliceStable(a, func(i, j int) bool { return a[i].Price < a[j].Price })

	copy(out.Bids, b)
	copy(out.Asks, a)
	return out
}
