package domain

import "time"

// MarketOrder is a competing buy-order observed on the public order book.
type MarketOrder struct {
	OrderID string
	Title   string
	Price   float64
	Amount  int
}

// AggregatedPrice is the marketplace's best-bid/best-ask aggregate for one
// item title. A zero side means the book is empty on that side.
type AggregatedPrice struct {
	Game      Game
	Title     string
	BestBid   float64
	BestAsk   float64
	UpdatedAt time.Time
}

// MidPrice returns the mean of best bid and best ask when both sides exist,
// otherwise whichever side is available. Returns false when the book is
// empty on both sides.
func (p AggregatedPrice) MidPrice() (float64, bool) {
	switch {
	case p.BestBid > 0 && p.BestAsk > 0:
		return (p.BestBid + p.BestAsk) / 2, true
	case p.BestBid > 0:
		return p.BestBid, true
	case p.BestAsk > 0:
		return p.BestAsk, true
	default:
		return 0, false
	}
}
