package engine

import (
	"container/list"
	"sync"
	"time"
)

// handle is the non-owning pointer the id index keeps into a resting
// order's exact location: which side, which price level, which list
// element within that level's FIFO queue (§4.1, §4.3).
type handle struct {
	side  Side
	level *priceLevel
	elem  *list.Element
}

// OrderBook owns the two sides of one symbol's book plus the id index
// that resolves every resting order id to its exact location (§4.3). One
// mutex per OrderBook is the entire locking discipline (§5): every
// operation that reads or mutates the book holds Mu for its whole
// critical section.
type OrderBook struct {
	Mu sync.Mutex

	Symbol string
	bids   *bookSide
	asks   *bookSide
	index  map[string]handle
}

// NewOrderBook constructs an empty book for one symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   newBookSide(Buy),
		asks:   newBookSide(Sell),
		index:  make(map[string]handle),
	}
}

func (b *OrderBook) sideFor(s Side) *bookSide {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// priceCrosses reports whether an order on side s at price p crosses the
// given best opposite price (§4.5).
func priceCrosses(s Side, p int64, bestOpposite int64) bool {
	if s == Buy {
		return p >= bestOpposite
	}
	return p <= bestOpposite
}

// undoStep is one reversible mutation recorded while Add/Cancel/Modify run.
// Callers roll back a failed persistence write by invoking the returned
// steps in reverse (LIFO) order, restoring the book to its pre-call state
// without re-deriving it (§4.5 atomicity, §4.6 rollback-on-PersistenceError).
type undoStep func()

// RunUndo reverts a sequence of undo steps in LIFO order.
func RunUndo(steps []undoStep) {
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// Add classifies the incoming order's side, runs the matching algorithm
// against resting liquidity, and inserts any remainder onto the book
// (§4.3, §4.5). Callers must hold Mu. Returns the trades produced, in
// match order, and the undo steps needed to fully reverse this call.
func (b *OrderBook) Add(order *Order) (trades []*Trade, undo []undoStep) {
	opposite := b.sideFor(order.Side.Opposite())
	own := b.sideFor(order.Side)

	for order.Remaining() > 0 {
		bestPrice, ok := opposite.bestPrice()
		if !ok || !priceCrosses(order.Side, order.Price, bestPrice) {
			break
		}

		lvl, _ := opposite.bestLevel()
		resting := lvl.head()

		qty := min(order.Remaining(), resting.Remaining())
		price := resting.Price // passive-price rule (§4.5)

		order.FilledQty += qty
		resting.FilledQty += qty
		order.refreshStatus()
		resting.refreshStatus()

		trade := &Trade{
			Symbol:     b.Symbol,
			Quantity:   qty,
			Price:      price,
			ExecutedAt: time.Now().UTC(),
		}
		if order.Side == Buy {
			trade.BuyOrderID, trade.SellOrderID = order.ID, resting.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = resting.ID, order.ID
		}
		trades = append(trades, trade)

		restingOrder := resting
		filledQty := qty
		lvl.reduceHeadVolume(qty)
		if restingOrder.Resting() {
			level := lvl
			undo = append(undo, func() {
				restingOrder.FilledQty -= filledQty
				restingOrder.refreshStatus()
				level.increaseVolume(filledQty)
			})
		} else {
			lvl.popHead()
			delete(b.index, restingOrder.ID)
			level := lvl
			side := opposite
			levelWasDropped := level.empty()
			if levelWasDropped {
				side.dropLevelIfEmpty(level)
			}
			undo = append(undo, func() {
				restingOrder.FilledQty -= filledQty
				restingOrder.refreshStatus()
				newElem := level.orders.PushFront(restingOrder)
				level.volume += restingOrder.Remaining()
				if levelWasDropped {
					side.levels.Set(level)
				}
				b.index[restingOrder.ID] = handle{side: opposite.side, level: level, elem: newElem}
			})
		}
	}

	if order.Remaining() > 0 {
		lvl := own.getOrCreateLevel(order.Price)
		elem := lvl.push(order)
		b.index[order.ID] = handle{side: order.Side, level: lvl, elem: elem}

		level := lvl
		side := own
		undo = append(undo, func() {
			remaining := order.Remaining()
			level.remove(elem, remaining)
			side.dropLevelIfEmpty(level)
			delete(b.index, order.ID)
		})
	}

	return trades, undo
}

// Cancel removes a resting order from the book. Callers must hold Mu. It
// fails with ErrNotFound if the id is unknown or the order is no longer
// resting (§4.3, §7).
func (b *OrderBook) Cancel(orderID string) (*Order, []undoStep, error) {
	h, ok := b.index[orderID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	order := h.elem.Value.(*Order)
	remaining := order.Remaining()

	next := h.elem.Next()
	h.level.remove(h.elem, remaining)
	side := b.sideFor(h.side)
	levelWasDropped := h.level.empty()
	if levelWasDropped {
		side.dropLevelIfEmpty(h.level)
	}
	delete(b.index, orderID)
	order.Cancelled = true
	order.refreshStatus()

	level := h.level
	undo := []undoStep{func() {
		order.Cancelled = false
		order.refreshStatus()
		var newElem *list.Element
		if next != nil {
			newElem = level.orders.InsertBefore(order, next)
		} else {
			newElem = level.orders.PushBack(order)
		}
		level.volume += remaining
		if levelWasDropped {
			side.levels.Set(level)
		}
		b.index[orderID] = handle{side: h.side, level: level, elem: newElem}
	}}

	return order, undo, nil
}

// ModifyDiscipline selects between the two modify semantics §4.4 defines.
type ModifyDiscipline int

const (
	// ModifyLenient preserves time priority when the price is unchanged
	// and either shrinks the resting order in place or, for a pure
	// quantity increase at the same price, grows it in place. Any price
	// change is cancel + insert with a fresh sequence.
	ModifyLenient ModifyDiscipline = iota
	// ModifyStrict always loses time priority: cancel + insert with a
	// fresh sequence, regardless of what changed.
	ModifyStrict
)

// Modify validates and applies a modify per §4.4, then re-runs matching
// (the new price may cross the opposite side) using the same algorithm as
// Add. Callers must hold Mu and supply nextSequence to mint a fresh
// acceptance sequence if the modify loses time priority.
//
// snapshot is a value copy of the order as it stood immediately after the
// quantity/price change was applied but before this call's own matching
// ran — the pre-match state a journal record must capture so that replay
// (which re-applies each RecordTradeExecuted on top) does not double-count
// a fill this same call already produced.
func (b *OrderBook) Modify(orderID string, newQty, newPrice int64, discipline ModifyDiscipline, nextSequence func() uint64, now func() time.Time) (trades []*Trade, snapshot *Order, undo []undoStep, err error) {
	h, ok := b.index[orderID]
	if !ok {
		return nil, nil, nil, ErrNotFound
	}
	order := h.elem.Value.(*Order)

	if newQty < order.FilledQty {
		return nil, nil, nil, ErrInvalidQuantity
	}

	samePriceShrinkOrGrow := discipline == ModifyLenient && newPrice == order.Price

	if samePriceShrinkOrGrow {
		oldOriginal := order.OriginalQty
		delta := newQty - oldOriginal
		order.OriginalQty = newQty
		order.refreshStatus()
		h.level.volume += delta

		undo = append(undo, func() {
			order.OriginalQty = oldOriginal
			order.refreshStatus()
			h.level.volume -= delta
		})

		preMatch := *order
		snapshot = &preMatch

		if order.Resting() {
			matchTrades, matchUndo := b.matchRestingInPlace(order, h)
			trades = append(trades, matchTrades...)
			undo = append(undo, matchUndo...)
		} else {
			next := h.elem.Next()
			h.level.remove(h.elem, 0)
			side := b.sideFor(h.side)
			levelWasDropped := h.level.empty()
			if levelWasDropped {
				side.dropLevelIfEmpty(h.level)
			}
			delete(b.index, orderID)
			level := h.level
			undo = append(undo, func() {
				var newElem *list.Element
				if next != nil {
					newElem = level.orders.InsertBefore(order, next)
				} else {
					newElem = level.orders.PushBack(order)
				}
				if levelWasDropped {
					side.levels.Set(level)
				}
				b.index[orderID] = handle{side: h.side, level: level, elem: newElem}
			})
		}
		return trades, snapshot, undo, nil
	}

	// Cancel + insert with a fresh sequence: loses time priority.
	_, cancelUndo, cerr := b.Cancel(orderID)
	if cerr != nil {
		return nil, nil, nil, cerr
	}
	undo = append(undo, cancelUndo...)

	fresh := &Order{
		ID:          order.ID,
		UserID:      order.UserID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Price:       newPrice,
		OriginalQty: newQty,
		FilledQty:   order.FilledQty,
		Sequence:    nextSequence(),
		AcceptedAt:  now(),
	}
	fresh.refreshStatus()

	preMatch := *fresh
	snapshot = &preMatch

	addTrades, addUndo := b.Add(fresh)
	trades = append(trades, addTrades...)
	undo = append(undo, addUndo...)

	// Copy the new state into the original order struct so a caller still
	// holding that pointer observes the post-modify values. The book and the
	// id index hold fresh itself, not the original struct. The undo step puts
	// the old contents back before the cancel is undone, so a rollback
	// re-inserts the order exactly as it was.
	prev := *order
	*order = *fresh
	undo = append(undo, func() { *order = prev })
	return trades, snapshot, undo, nil
}

// matchRestingInPlace re-runs the matching algorithm for an order that is
// already resting at its current FIFO position (used after a lenient
// same-price quantity change). It must only be called when order.Resting()
// and h still correctly locates it.
func (b *OrderBook) matchRestingInPlace(order *Order, h handle) (trades []*Trade, undo []undoStep) {
	opposite := b.sideFor(order.Side.Opposite())

	for order.Remaining() > 0 {
		bestPrice, ok := opposite.bestPrice()
		if !ok || !priceCrosses(order.Side, order.Price, bestPrice) {
			break
		}
		lvl, _ := opposite.bestLevel()
		resting := lvl.head()
		if resting.ID == order.ID {
			break // nothing left to match against but itself
		}

		qty := min(order.Remaining(), resting.Remaining())
		price := resting.Price

		order.FilledQty += qty
		resting.FilledQty += qty
		order.refreshStatus()
		resting.refreshStatus()
		h.level.reduceHeadVolume(qty)

		trade := &Trade{Symbol: b.Symbol, Quantity: qty, Price: price, ExecutedAt: time.Now().UTC()}
		if order.Side == Buy {
			trade.BuyOrderID, trade.SellOrderID = order.ID, resting.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = resting.ID, order.ID
		}
		trades = append(trades, trade)

		restingOrder := resting
		filledQty := qty
		if restingOrder.Resting() {
			level := lvl
			undo = append(undo, func() {
				restingOrder.FilledQty -= filledQty
				restingOrder.refreshStatus()
				level.increaseVolume(filledQty)
			})
		} else {
			lvl.popHead()
			delete(b.index, restingOrder.ID)
			level := lvl
			side := opposite
			levelWasDropped := level.empty()
			if levelWasDropped {
				side.dropLevelIfEmpty(level)
			}
			undo = append(undo, func() {
				restingOrder.FilledQty -= filledQty
				restingOrder.refreshStatus()
				newElem := level.orders.PushFront(restingOrder)
				level.volume += restingOrder.Remaining()
				if levelWasDropped {
					side.levels.Set(level)
				}
				b.index[restingOrder.ID] = handle{side: opposite.side, level: level, elem: newElem}
			})
		}
	}

	if order.Remaining() == 0 {
		h.level.remove(h.elem, 0)
		side := b.sideFor(h.side)
		levelWasDropped := h.level.empty()
		if levelWasDropped {
			side.dropLevelIfEmpty(h.level)
		}
		delete(b.index, order.ID)
		level := h.level
		undo = append(undo, func() {
			newElem := level.orders.PushFront(order)
			if levelWasDropped {
				side.levels.Set(level)
			}
			b.index[order.ID] = handle{side: h.side, level: level, elem: newElem}
		})
	}

	return trades, undo
}

// Depth returns up to n (price, aggregate remaining) pairs per side,
// best-first (§4.3).
func (b *OrderBook) Depth(n int) (bids, asks []DepthLevel) {
	return b.bids.depth(n), b.asks.depth(n)
}

// BestPrices returns the best bid and ask, each nil if that side is empty.
func (b *OrderBook) BestPrices() (bestBid, bestAsk *int64) {
	if p, ok := b.bids.bestPrice(); ok {
		bestBid = &p
	}
	if p, ok := b.asks.bestPrice(); ok {
		bestAsk = &p
	}
	return bestBid, bestAsk
}

// Get returns the resting order for an id, or (nil, false).
func (b *OrderBook) Get(orderID string) (*Order, bool) {
	h, ok := b.index[orderID]
	if !ok {
		return nil, false
	}
	return h.elem.Value.(*Order), true
}

// Crossed reports whether the book is in the pathological crossed state
// the matching algorithm must never leave behind (§3, §8 property 1).
func (b *OrderBook) Crossed() bool {
	bestBid, bestAsk := b.BestPrices()
	if bestBid == nil || bestAsk == nil {
		return false
	}
	return *bestBid >= *bestAsk
}

// RestingOrders returns every order still resting on the book, best-first
// within each side, for use by the snapshotter (§4.7). Callers are
// expected to copy what they need while Mu is held and release it before
// doing any I/O (§5).
func (b *OrderBook) RestingOrders() []*Order {
	var out []*Order
	collect := func(lvl *priceLevel) bool {
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(*Order))
		}
		return true
	}
	b.bids.iterAll(collect)
	b.asks.iterAll(collect)
	return out
}

// Restore re-inserts a previously-resting order directly into the
// appropriate side without running matching, used only during recovery
// (§4.7) where the source is already known to be non-crossed (snapshot)
// or replayed in original acceptance order (journal replay).
func (b *OrderBook) Restore(order *Order) {
	side := b.sideFor(order.Side)
	lvl := side.getOrCreateLevel(order.Price)
	elem := lvl.push(order)
	b.index[order.ID] = handle{side: order.Side, level: lvl, elem: elem}
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
