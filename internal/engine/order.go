package engine

import "time"

// Side identifies which side of the book an order rests on.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the client-observable lifecycle state of an order (§6).
type OrderStatus int8

const (
	StatusPending OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Order is a plain day limit order, resting or historical. Price and
// quantity are exact integers: Price is held in scaled minor ticks (the
// frontend converts a decimal request price into ticks at a fixed scale
// before handing the order to the engine) and Quantity is a whole unit
// count. Neither is ever compared or ordered as a binary float (§4.5).
type Order struct {
	ID          string
	UserID      string
	Symbol      string
	Side        Side
	Price       int64 // minor ticks, > 0
	OriginalQty int64 // > 0
	FilledQty   int64 // in [0, OriginalQty]

	// Sequence is the engine-wide monotonic acceptance sequence assigned
	// at accept time. Price-time priority compares Sequence, never wall
	// clock, so it stays exact even when two orders accept in the same
	// clock tick.
	Sequence uint64

	AcceptedAt time.Time
	Status     OrderStatus
	Cancelled  bool
}

// Remaining reports the unfilled quantity still eligible to match or rest.
func (o *Order) Remaining() int64 {
	return o.OriginalQty - o.FilledQty
}

// Resting reports whether the order still belongs on a book: unfilled and
// not cancelled.
func (o *Order) Resting() bool {
	return o.Remaining() > 0 && !o.Cancelled
}

// RecomputeStatus re-derives Status from the order's current quantities.
// Exported for callers outside this package (journal replay) that mutate
// FilledQty/Cancelled directly while reconstructing book state.
func (o *Order) RecomputeStatus() {
	o.refreshStatus()
}

// refreshStatus derives the client-visible lifecycle state from the
// order's current quantities, per the §6 status lifecycle.
func (o *Order) refreshStatus() {
	switch {
	case o.Cancelled:
		o.Status = StatusCancelled
	case o.Remaining() == 0:
		o.Status = StatusFilled
	case o.FilledQty > 0:
		o.Status = StatusPartiallyFilled
	default:
		o.Status = StatusPending
	}
}

// Trade records one execution produced by the matching algorithm (§4.5).
// Trades are immutable once produced.
type Trade struct {
	ID          string
	BuyOrderID  string
	SellOrderID string
	Symbol      string
	Quantity    int64
	Price       int64 // always the resting (passive) order's price
	ExecutedAt  time.Time
}
