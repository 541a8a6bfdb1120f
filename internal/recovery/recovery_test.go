package recovery

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/matchbook/matchbook/internal/engine"
	"github.com/matchbook/matchbook/internal/journal"
	"github.com/matchbook/matchbook/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nullJournal struct{}

func (nullJournal) Append(records []engine.JournalRecord) error { return nil }

func TestRecover_FromSnapshotRestoresRestingOrdersAndSequence(t *testing.T) {
	dir := t.TempDir()

	book := engine.NewOrderBook("AAPL")
	book.Restore(&engine.Order{ID: "o1", Symbol: "AAPL", Side: engine.Buy, Price: 100_00000000, OriginalQty: 100, Sequence: 5})
	fake := &fakeSnapEngine{books: map[string]*engine.OrderBook{"AAPL": book}}

	snap := snapshot.Capture(fake, 5)
	_, err := snapshot.Write(dir, snap)
	require.NoError(t, err)

	eng := engine.New(nullJournal{})
	journalPath := filepath.Join(dir, "unused.journal")

	require.NoError(t, Recover(eng, dir, journalPath))

	status, err := eng.Status("o1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(100), status.Remaining)
	assert.Equal(t, uint64(5), eng.HighWaterSequence())
}

func TestRecover_FromJournalWhenNoSnapshotExists(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "test.journal")

	jnl, err := journal.Open(journalPath)
	require.NoError(t, err)

	order := &engine.Order{ID: "o1", Symbol: "AAPL", Side: engine.Buy, Price: 100_00000000, OriginalQty: 100, Sequence: 1}
	require.NoError(t, jnl.Append([]engine.JournalRecord{{Kind: engine.RecordOrderAccepted, Order: order}}))

	order2 := &engine.Order{ID: "o2", Symbol: "AAPL", Side: engine.Sell, Price: 99_00000000, OriginalQty: 40, Sequence: 2}
	require.NoError(t, jnl.Append([]engine.JournalRecord{{Kind: engine.RecordOrderAccepted, Order: order2}}))

	trade := &engine.Trade{ID: "t1", BuyOrderID: "o1", SellOrderID: "o2", Symbol: "AAPL", Quantity: 40, Price: 100_00000000}
	require.NoError(t, jnl.Append([]engine.JournalRecord{{Kind: engine.RecordTradeExecuted, Trade: trade}}))
	require.NoError(t, jnl.Close())

	eng := engine.New(nullJournal{})
	require.NoError(t, Recover(eng, dir, journalPath))

	// o2 is fully filled and must not be resting.
	_, err = eng.Status("o2", "AAPL")
	assert.Error(t, err)

	status, err := eng.Status("o1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(60), status.Remaining)
	assert.Equal(t, uint64(2), eng.HighWaterSequence())
}

func TestRecover_FromJournalSkipsCancelledOrders(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "test.journal")

	jnl, err := journal.Open(journalPath)
	require.NoError(t, err)

	order := &engine.Order{ID: "o1", Symbol: "AAPL", Side: engine.Buy, Price: 100_00000000, OriginalQty: 100, Sequence: 1}
	require.NoError(t, jnl.Append([]engine.JournalRecord{{Kind: engine.RecordOrderAccepted, Order: order}}))
	require.NoError(t, jnl.Append([]engine.JournalRecord{{Kind: engine.RecordOrderCancelled, Order: order}}))
	require.NoError(t, jnl.Close())

	eng := engine.New(nullJournal{})
	require.NoError(t, Recover(eng, dir, journalPath))

	_, err = eng.Status("o1", "AAPL")
	assert.True(t, errors.Is(err, engine.ErrNotFound))
}

// TestRecover_FromJournal_RealEngineSubmitRoundTrip drives a real
// engine.Engine against a real journal.File (no hand-written records)
// through the exact scenario an order that partially self-fills on
// arrival must survive: a resting SELL rests first, then an incoming BUY
// for a larger quantity fills part of itself against it and rests the
// remainder. If Submit ever journals the accepted record post-match,
// replay double-counts that fill and silently drops the resting order.
func TestRecover_FromJournal_RealEngineSubmitRoundTrip(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "real.journal")

	jnl, err := journal.Open(journalPath)
	require.NoError(t, err)

	eng := engine.New(jnl)

	_, _, err = eng.Submit(engine.SubmitRequest{UserID: "u1", Symbol: "AAPL", Side: engine.Sell, Quantity: 5, Price: 100_00000000})
	require.NoError(t, err)

	buyOrder, trades, err := eng.Submit(engine.SubmitRequest{UserID: "u2", Symbol: "AAPL", Side: engine.Buy, Quantity: 10, Price: 100_00000000})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, int64(5), buyOrder.Remaining())

	require.NoError(t, jnl.Close())

	recovered := engine.New(nullJournal{})
	require.NoError(t, Recover(recovered, dir, journalPath))

	status, err := recovered.Status(buyOrder.ID, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.Remaining, "resting remainder must survive journal replay, not be double-counted away")
}

// fakeSnapEngine implements snapshot.Engine for this test file.
type fakeSnapEngine struct {
	books map[string]*engine.OrderBook
}

func (f *fakeSnapEngine) Symbols() []string {
	out := make([]string, 0, len(f.books))
	for s := range f.books {
		out = append(out, s)
	}
	return out
}

func (f *fakeSnapEngine) BookFor(symbol string) *engine.OrderBook {
	return f.books[symbol]
}
