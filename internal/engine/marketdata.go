package engine

import "time"

// DepthLevel is one (price, aggregate remaining quantity) pair in a depth
// snapshot.
type DepthLevel struct {
	Price    int64
	Quantity int64
}

// MarketData is the read-only §6 depth query response for one symbol.
// Bids are ordered descending by price, asks ascending, at most the
// requested number of levels per side.
type MarketData struct {
	Symbol    string
	BestBid   *int64
	BestAsk   *int64
	Bids      []DepthLevel
	Asks      []DepthLevel
	Timestamp time.Time
}
