package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// randomOrderGen produces a deterministic stream of synthetic orders
// around a mid price, in the style of the pack's own scenario
// generators: a seeded RNG, a handful of tunable knobs, and a small
// helper per field rather than one big inline literal.
type randomOrderGen struct {
	rng    *rand.Rand
	mid    int64
	tick   int64
	maxQty int64
	nextID int
	symbol string
}

func newRandomOrderGen(seed int64, symbol string, mid int64) *randomOrderGen {
	return &randomOrderGen{
		rng:    rand.New(rand.NewSource(seed)),
		mid:    mid,
		tick:   1_00000000,
		maxQty: 500,
		symbol: symbol,
	}
}

func (g *randomOrderGen) randSide() Side {
	if g.rng.Float64() < 0.5 {
		return Buy
	}
	return Sell
}

func (g *randomOrderGen) randQty() int64 {
	return 1 + g.rng.Int63n(g.maxQty)
}

// randPrice scatters prices within +/-10 ticks of the configured mid so
// a long run produces plenty of crossing orders alongside resting ones.
func (g *randomOrderGen) randPrice() int64 {
	offset := int64(g.rng.Intn(21) - 10)
	price := g.mid + offset*g.tick
	if price < g.tick {
		price = g.tick
	}
	return price
}

func (g *randomOrderGen) next(userID string) SubmitRequest {
	g.nextID++
	return SubmitRequest{
		UserID:   userID,
		Symbol:   g.symbol,
		Side:     g.randSide(),
		Quantity: g.randQty(),
		Price:    g.randPrice(),
	}
}

// TestEngine_RandomOrderStreamMaintainsInvariants replays a large seeded
// stream of random submits, cancels, and modifies through a single book
// and checks invariants that must hold no matter how the stream lands:
// the book never crosses after any step, and every trade produced by a
// submit reports a price at or better than the submitted order's limit.
func TestEngine_RandomOrderStreamMaintainsInvariants(t *testing.T) {
	const symbol = "AAPL"
	const iterations = 5000

	jnl := &fakeJournal{}
	eng := New(jnl)
	gen := newRandomOrderGen(42, symbol, 100_00000000)

	var resting []string
	for i := 0; i < iterations; i++ {
		switch {
		case len(resting) > 0 && gen.rng.Float64() < 0.1:
			// Cancel a previously accepted order; a chunk of these will
			// already be fully filled, which must fail cleanly rather
			// than corrupt book state.
			id := resting[gen.rng.Intn(len(resting))]
			_ = eng.Cancel(id, symbol)

		case len(resting) > 0 && gen.rng.Float64() < 0.1:
			id := resting[gen.rng.Intn(len(resting))]
			_, _ = eng.Modify(id, symbol, gen.randQty(), gen.randPrice())

		default:
			order, trades, err := eng.Submit(gen.next("stress"))
			require.NoError(t, err)
			for _, tr := range trades {
				if order.Side == Buy {
					require.LessOrEqual(t, tr.Price, order.Price, "buy order filled worse than its limit")
				} else {
					require.GreaterOrEqual(t, tr.Price, order.Price, "sell order filled worse than its limit")
				}
			}
			if order.Remaining() > 0 {
				resting = append(resting, order.ID)
			}
		}

		assertBookNotCrossed(t, eng.MarketData(symbol, 1))
	}
}

// assertBookNotCrossed checks the §4.1 crossing invariant directly
// against the book's market data view: the best bid must never sit at
// or above the best ask.
func assertBookNotCrossed(t *testing.T, md *MarketData) {
	t.Helper()
	if md == nil || md.BestBid == nil || md.BestAsk == nil {
		return
	}
	require.Less(t, *md.BestBid, *md.BestAsk, "book crossed: bid %d >= ask %d", *md.BestBid, *md.BestAsk)
}
