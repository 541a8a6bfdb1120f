package engine

import "github.com/tidwall/btree"

// levels is an ordered price -> priceLevel map with a side-dependent
// "best-first" comparator (§4.2). A B-tree keyed by price gives O(log P)
// insert/lookup/delete and supports ordered iteration from the best
// price, unlike a heap: nothing is ever marked dead and skipped past, so
// best-price and depth queries never scan ghost entries (§9, §4.2).
type levels = btree.BTreeG[*priceLevel]

// bookSide owns every populated price level on one side of a symbol's
// book.
type bookSide struct {
	side   Side
	levels *levels
}

func newBookSide(side Side) *bookSide {
	var less func(a, b *priceLevel) bool
	if side == Buy {
		// Bids: highest price first.
		less = func(a, b *priceLevel) bool { return a.price > b.price }
	} else {
		// Asks: lowest price first.
		less = func(a, b *priceLevel) bool { return a.price < b.price }
	}
	return &bookSide{side: side, levels: btree.NewBTreeG(less)}
}

// bestLevel returns the best-first level, or (nil, false) if the side is
// empty.
func (b *bookSide) bestLevel() (*priceLevel, bool) {
	return b.levels.Min()
}

// bestPrice returns the best price on this side, or (0, false) if empty.
func (b *bookSide) bestPrice() (int64, bool) {
	lvl, ok := b.bestLevel()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// levelAt returns the level at an exact price, or (nil, false).
func (b *bookSide) levelAt(price int64) (*priceLevel, bool) {
	return b.levels.Get(&priceLevel{price: price})
}

// getOrCreateLevel finds the level at price, creating and inserting an
// empty one if none exists yet.
func (b *bookSide) getOrCreateLevel(price int64) *priceLevel {
	if lvl, ok := b.levels.Get(&priceLevel{price: price}); ok {
		return lvl
	}
	lvl := newPriceLevel(price)
	b.levels.Set(lvl)
	return lvl
}

// dropLevelIfEmpty removes a level from the side once it no longer holds
// any orders. Empty levels must never persist (§4.1, §4.3).
func (b *bookSide) dropLevelIfEmpty(lvl *priceLevel) {
	if lvl.empty() {
		b.levels.Delete(lvl)
	}
}

// depth walks up to n levels best-first, returning (price, aggregate
// remaining) pairs. Levels with zero volume cannot occur because they are
// deleted eagerly, so there is nothing to filter here.
func (b *bookSide) depth(n int) []DepthLevel {
	if n <= 0 {
		return nil
	}
	out := make([]DepthLevel, 0, n)
	b.levels.Scan(func(lvl *priceLevel) bool {
		out = append(out, DepthLevel{Price: lvl.price, Quantity: lvl.volume})
		return len(out) < n
	})
	return out
}

// iterAll walks every level best-first; used by the snapshotter to take a
// full structural copy of resting orders.
func (b *bookSide) iterAll(fn func(lvl *priceLevel) bool) {
	b.levels.Scan(fn)
}

func (b *bookSide) empty() bool {
	return b.levels.Len() == 0
}
