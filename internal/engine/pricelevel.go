package engine

import "container/list"

// priceLevel is a FIFO queue of resting orders at a single price on one
// side (§4.1). Orders are appended at the tail and consumed from the
// head, so earlier acceptance always sits closer to the head. volume
// tracks the aggregate remaining quantity incrementally so depth queries
// are O(levels), never O(orders).
type priceLevel struct {
	price  int64
	orders *list.List // list.Element.Value is *Order
	volume int64
}

func newPriceLevel(price int64) *priceLevel {
	return &priceLevel{price: price, orders: list.New()}
}

// push appends an order to the tail of the level and returns the handle
// needed to remove it again in O(1).
func (l *priceLevel) push(o *Order) *list.Element {
	l.volume += o.Remaining()
	return l.orders.PushBack(o)
}

// head returns the oldest resting order in the level, or nil if empty.
func (l *priceLevel) head() *Order {
	front := l.orders.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*Order)
}

// popHead removes and returns the oldest order, adjusting volume.
func (l *priceLevel) popHead() *Order {
	front := l.orders.Front()
	if front == nil {
		return nil
	}
	o := front.Value.(*Order)
	l.orders.Remove(front)
	l.volume -= o.Remaining()
	return o
}

// remove deletes a specific order given its handle, adjusting volume by
// the quantity it still held at removal time.
func (l *priceLevel) remove(e *list.Element, remainingAtRemoval int64) {
	l.orders.Remove(e)
	l.volume -= remainingAtRemoval
}

// reduceHeadVolume accounts for a fill of qty against the head order
// without removing it from the level; a head that is now fully filled is
// removed afterwards with popHead.
func (l *priceLevel) reduceHeadVolume(qty int64) {
	l.volume -= qty
}

// increaseVolume adds qty back to the level's aggregate volume; used when
// rolling back a partial fill of an order still resting in the level.
func (l *priceLevel) increaseVolume(qty int64) {
	l.volume += qty
}

func (l *priceLevel) empty() bool {
	return l.orders.Len() == 0
}
