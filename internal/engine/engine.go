package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SubmitRequest is the engine-facing form of the §6 submit-order request,
// already uppercased/validated-at-the-boundary by the frontend.
type SubmitRequest struct {
	UserID   string
	Symbol   string
	Side     Side
	Quantity int64
	Price    int64 // minor ticks
}

// StatusView is the §6 order status lifecycle snapshot returned to
// clients.
type StatusView struct {
	OrderID   string
	Symbol    string
	Remaining int64
	Filled    int64
	Status    OrderStatus
}

// Engine is the multi-symbol matching dispatcher (§4.6). It holds one
// OrderBook per symbol, created lazily on first use, and owns the
// concurrency contract: the symbol map has its own lock used only for
// lookup/creation, never held while a book operation runs (§5).
type Engine struct {
	booksMu sync.Mutex
	books   map[string]*OrderBook

	journal    Journal
	seq        atomic.Uint64
	discipline ModifyDiscipline
	clock      func() time.Time

	snapshotDir      string
	snapshotInterval time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithModifyDiscipline selects the §4.4 modify semantics; the default is
// ModifyLenient (see DESIGN.md's Open Question decision).
func WithModifyDiscipline(d ModifyDiscipline) Option {
	return func(e *Engine) { e.discipline = d }
}

// WithSnapshotting enables periodic snapshotting to dir every interval.
// interval <= 0 disables it (§6 snapshot_interval_sec).
func WithSnapshotting(dir string, interval time.Duration) Option {
	return func(e *Engine) {
		e.snapshotDir = dir
		e.snapshotInterval = interval
	}
}

// WithClock overrides the engine's notion of "now", for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New constructs an Engine backed by journal. Books are created lazily as
// symbols are first seen.
func New(journal Journal, opts ...Option) *Engine {
	e := &Engine{
		books:      make(map[string]*OrderBook),
		journal:    journal,
		discipline: ModifyLenient,
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// getOrCreateBook looks up (and lazily creates) a symbol's book. The
// engine's map lock is held only for this lookup, never across a book
// operation (§5).
func (e *Engine) getOrCreateBook(symbol string) *OrderBook {
	e.booksMu.Lock()
	defer e.booksMu.Unlock()

	book, ok := e.books[symbol]
	if !ok {
		book = NewOrderBook(symbol)
		e.books[symbol] = book
	}
	return book
}

func (e *Engine) getBook(symbol string) (*OrderBook, bool) {
	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	book, ok := e.books[symbol]
	return book, ok
}

// nextSequence mints the engine-wide monotonic acceptance sequence.
func (e *Engine) nextSequence() uint64 {
	return e.seq.Add(1)
}

// Submit validates and accepts a new order, matches it against resting
// liquidity, and commits the result through the journal (§4.6). On
// success it returns the accepted order (post-match state) and every
// trade produced by this submit, in match order.
func (e *Engine) Submit(req SubmitRequest) (*Order, []*Trade, error) {
	if req.Side != Buy && req.Side != Sell {
		return nil, nil, fmt.Errorf("%w: invalid side", ErrValidation)
	}
	if req.Quantity <= 0 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if req.Price <= 0 {
		return nil, nil, fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if req.Symbol == "" {
		return nil, nil, fmt.Errorf("%w: symbol required", ErrValidation)
	}

	book := e.getOrCreateBook(req.Symbol)

	book.Mu.Lock()
	defer book.Mu.Unlock()

	order := &Order{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Price:       req.Price,
		OriginalQty: req.Quantity,
		Sequence:    e.nextSequence(),
		AcceptedAt:  e.clock(),
	}
	order.refreshStatus()

	// Snapshot the order before Add runs matching: Add mutates order.FilledQty
	// in place for any fill this same call produces, and recoverFromJournal
	// re-applies every RecordTradeExecuted on top of the accepted record, so
	// the accepted record must carry the pre-match (unfilled) quantity or a
	// self-filling order would be double-counted on journal replay.
	preMatch := *order
	trades, undo := book.Add(order)

	records := make([]JournalRecord, 0, len(trades)+1)
	records = append(records, JournalRecord{Kind: RecordOrderAccepted, Order: &preMatch})
	for _, t := range trades {
		t.ID = uuid.New().String()
		records = append(records, JournalRecord{Kind: RecordTradeExecuted, Trade: t})
	}

	if err := e.journal.Append(records); err != nil {
		RunUndo(undo)
		log.Error().Err(err).Str("symbol", req.Symbol).Msg("journal append failed, rolled back submit")
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	log.Info().
		Str("orderID", order.ID).
		Str("symbol", req.Symbol).
		Str("side", req.Side.String()).
		Int64("qty", req.Quantity).
		Int64("price", req.Price).
		Int("trades", len(trades)).
		Msg("order submitted")

	return order, trades, nil
}

// Cancel removes a resting order (§4.3, §4.6).
func (e *Engine) Cancel(orderID, symbol string) error {
	book, ok := e.getBook(symbol)
	if !ok {
		return ErrNotFound
	}

	book.Mu.Lock()
	defer book.Mu.Unlock()

	order, undo, err := book.Cancel(orderID)
	if err != nil {
		return err
	}

	if jerr := e.journal.Append([]JournalRecord{{Kind: RecordOrderCancelled, Order: order}}); jerr != nil {
		RunUndo(undo)
		log.Error().Err(jerr).Str("orderID", orderID).Msg("journal append failed, rolled back cancel")
		return fmt.Errorf("%w: %v", ErrPersistence, jerr)
	}

	log.Info().Str("orderID", orderID).Str("symbol", symbol).Msg("order cancelled")
	return nil
}

// Modify validates and applies a modify, re-running matching, and commits
// through the journal (§4.4, §4.6).
func (e *Engine) Modify(orderID, symbol string, newQty, newPrice int64) ([]*Trade, error) {
	if newQty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if newPrice <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
	}

	book, ok := e.getBook(symbol)
	if !ok {
		return nil, ErrNotFound
	}

	book.Mu.Lock()
	defer book.Mu.Unlock()

	// snapshot is the order's pre-match state (post qty/price change, before
	// this call's own rematching), the same requirement Submit has: it is
	// what the journal must record so replay doesn't double-count a fill
	// this modify's own rematch produced.
	trades, snapshot, undo, err := book.Modify(orderID, newQty, newPrice, e.discipline, e.nextSequence, e.clock)
	if err != nil {
		return nil, err
	}

	records := make([]JournalRecord, 0, len(trades)+1)
	if snapshot != nil {
		records = append(records, JournalRecord{Kind: RecordOrderModified, Order: snapshot})
	}
	for _, t := range trades {
		t.ID = uuid.New().String()
		records = append(records, JournalRecord{Kind: RecordTradeExecuted, Trade: t})
	}

	if jerr := e.journal.Append(records); jerr != nil {
		RunUndo(undo)
		log.Error().Err(jerr).Str("orderID", orderID).Msg("journal append failed, rolled back modify")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, jerr)
	}

	log.Info().Str("orderID", orderID).Str("symbol", symbol).Int("trades", len(trades)).Msg("order modified")
	return trades, nil
}

// Status returns the client-observable lifecycle view of an order (§6).
func (e *Engine) Status(orderID, symbol string) (*StatusView, error) {
	book, ok := e.getBook(symbol)
	if !ok {
		return nil, ErrNotFound
	}

	book.Mu.Lock()
	defer book.Mu.Unlock()

	order, ok := book.Get(orderID)
	if !ok {
		return nil, ErrNotFound
	}

	return &StatusView{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Remaining: order.Remaining(),
		Filled:    order.FilledQty,
		Status:    order.Status,
	}, nil
}

// MarketData returns a point-in-time read-only view for one symbol (§4,
// §6). An unknown symbol reports an empty book rather than NotFound,
// since "no orders yet" and "unknown symbol" are indistinguishable to an
// external observer.
func (e *Engine) MarketData(symbol string, levels int) *MarketData {
	book, ok := e.getBook(symbol)
	if !ok {
		return &MarketData{Symbol: symbol, Timestamp: e.clock()}
	}

	book.Mu.Lock()
	defer book.Mu.Unlock()

	bids, asks := book.Depth(levels)
	bestBid, bestAsk := book.BestPrices()

	return &MarketData{
		Symbol:    symbol,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Bids:      bids,
		Asks:      asks,
		Timestamp: e.clock(),
	}
}

// Symbols returns every symbol with a book, for the snapshotter.
func (e *Engine) Symbols() []string {
	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	return out
}

// BookFor exposes a symbol's book for the snapshotter; returns nil if the
// symbol has never been submitted to.
func (e *Engine) BookFor(symbol string) *OrderBook {
	book, _ := e.getBook(symbol)
	return book
}

// SnapshotDir returns the directory configured via WithSnapshotting, or
// "" if snapshotting was never enabled.
func (e *Engine) SnapshotDir() string {
	return e.snapshotDir
}

// HighWaterSequence returns the current acceptance-sequence high-water
// mark, recorded in snapshots so recovery can resume numbering correctly.
func (e *Engine) HighWaterSequence() uint64 {
	return e.seq.Load()
}

// RestoreSequence sets the acceptance-sequence counter, used during
// recovery to continue numbering past what a snapshot/journal recorded.
func (e *Engine) RestoreSequence(highWater uint64) {
	for {
		cur := e.seq.Load()
		if highWater <= cur {
			return
		}
		if e.seq.CompareAndSwap(cur, highWater) {
			return
		}
	}
}

// RestoreOrder re-inserts a resting order during recovery, bypassing
// matching (§4.7). Orders must be restored for a given symbol either
// straight from a non-crossed snapshot, or in ascending Sequence order
// when replaying the journal.
func (e *Engine) RestoreOrder(order *Order) {
	book := e.getOrCreateBook(order.Symbol)
	book.Mu.Lock()
	defer book.Mu.Unlock()
	book.Restore(order)
}
