package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJournal is an in-memory Journal for tests, optionally failing the
// next Append to exercise the submit/cancel/modify rollback path.
type fakeJournal struct {
	mu      sync.Mutex
	records []JournalRecord
	failNext bool
}

func (f *fakeJournal) Append(records []JournalRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("simulated journal failure")
	}
	f.records = append(f.records, records...)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEngine_SubmitAcceptsAndMatches(t *testing.T) {
	jnl := &fakeJournal{}
	eng := New(jnl, WithClock(fixedClock(time.Unix(0, 0))))

	_, _, err := eng.Submit(SubmitRequest{UserID: "u1", Symbol: "AAPL", Side: Sell, Quantity: 100, Price: 100_00000000})
	require.NoError(t, err)

	order, trades, err := eng.Submit(SubmitRequest{UserID: "u2", Symbol: "AAPL", Side: Buy, Quantity: 100, Price: 100_00000000})
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(100), trades[0].Quantity)
	assert.NotEmpty(t, trades[0].ID)
}

func TestEngine_SubmitValidation(t *testing.T) {
	eng := New(&fakeJournal{})

	_, _, err := eng.Submit(SubmitRequest{UserID: "u1", Symbol: "AAPL", Side: Buy, Quantity: 0, Price: 100})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = eng.Submit(SubmitRequest{UserID: "u1", Symbol: "AAPL", Side: Buy, Quantity: 10, Price: 0})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = eng.Submit(SubmitRequest{UserID: "u1", Symbol: "", Side: Buy, Quantity: 10, Price: 10})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEngine_SubmitRollsBackOnJournalFailure(t *testing.T) {
	jnl := &fakeJournal{}
	eng := New(jnl)

	_, _, err := eng.Submit(SubmitRequest{UserID: "u1", Symbol: "AAPL", Side: Buy, Quantity: 100, Price: 99_00000000})
	require.NoError(t, err)

	jnl.failNext = true
	_, _, err = eng.Submit(SubmitRequest{UserID: "u2", Symbol: "AAPL", Side: Buy, Quantity: 50, Price: 98_00000000})
	require.ErrorIs(t, err, ErrPersistence)

	// The book must show no trace of the rejected submit: depth must be
	// exactly the first order.
	md := eng.MarketData("AAPL", 10)
	require.Len(t, md.Bids, 1)
	assert.Equal(t, int64(100), md.Bids[0].Quantity)
}

func TestEngine_CancelUnknownSymbol(t *testing.T) {
	eng := New(&fakeJournal{})
	err := eng.Cancel("x", "AAPL")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_CancelRollsBackOnJournalFailure(t *testing.T) {
	jnl := &fakeJournal{}
	eng := New(jnl)

	order, _, err := eng.Submit(SubmitRequest{UserID: "u1", Symbol: "AAPL", Side: Buy, Quantity: 100, Price: 99_00000000})
	require.NoError(t, err)

	jnl.failNext = true
	err = eng.Cancel(order.ID, "AAPL")
	require.ErrorIs(t, err, ErrPersistence)

	status, err := eng.Status(order.ID, "AAPL")
	require.NoError(t, err, "cancel rollback must leave the order resting")
	assert.Equal(t, StatusPending, status.Status)
}

func TestEngine_StatusLifecycle(t *testing.T) {
	jnl := &fakeJournal{}
	eng := New(jnl)

	order, _, err := eng.Submit(SubmitRequest{UserID: "u1", Symbol: "AAPL", Side: Sell, Quantity: 100, Price: 100_00000000})
	require.NoError(t, err)

	status, err := eng.Status(order.ID, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status.Status)

	_, _, err = eng.Submit(SubmitRequest{UserID: "u2", Symbol: "AAPL", Side: Buy, Quantity: 40, Price: 100_00000000})
	require.NoError(t, err)

	status, err = eng.Status(order.ID, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, status.Status)
	assert.Equal(t, int64(40), status.Filled)
	assert.Equal(t, int64(60), status.Remaining)
}

func TestEngine_MarketDataUnknownSymbolIsEmptyNotError(t *testing.T) {
	eng := New(&fakeJournal{})
	md := eng.MarketData("NOPE", 5)
	assert.Equal(t, "NOPE", md.Symbol)
	assert.Nil(t, md.BestBid)
	assert.Nil(t, md.BestAsk)
}

func TestEngine_RestoreSequenceOnlyMovesForward(t *testing.T) {
	eng := New(&fakeJournal{})
	eng.RestoreSequence(50)
	assert.Equal(t, uint64(50), eng.HighWaterSequence())
	eng.RestoreSequence(10)
	assert.Equal(t, uint64(50), eng.HighWaterSequence(), "restoring a lower high-water mark must be a no-op")
}
