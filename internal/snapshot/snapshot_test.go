package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matchbook/matchbook/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	books map[string]*engine.OrderBook
}

func (f *fakeEngine) Symbols() []string {
	out := make([]string, 0, len(f.books))
	for s := range f.books {
		out = append(out, s)
	}
	return out
}

func (f *fakeEngine) BookFor(symbol string) *engine.OrderBook {
	return f.books[symbol]
}

func newFakeEngineWithOneRestingOrder() *fakeEngine {
	book := engine.NewOrderBook("AAPL")
	book.Restore(&engine.Order{
		ID: "o1", Symbol: "AAPL", Side: engine.Buy, Price: 100_00000000,
		OriginalQty: 100, Sequence: 1, AcceptedAt: time.Unix(0, 0).UTC(),
	})
	return &fakeEngine{books: map[string]*engine.OrderBook{"AAPL": book}}
}

func TestSnapshot_CaptureWriteLatestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	eng := newFakeEngineWithOneRestingOrder()

	snap := Capture(eng, 42)
	require.Len(t, snap.Symbols["AAPL"], 1)

	path, err := Write(dir, snap)
	require.NoError(t, err)
	assert.FileExists(t, path)

	loaded, err := Latest(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(42), loaded.SequenceHighWater)
	require.Len(t, loaded.Symbols["AAPL"], 1)
	assert.Equal(t, "o1", loaded.Symbols["AAPL"][0].ID)
}

func TestSnapshot_LatestReturnsNilWhenDirEmpty(t *testing.T) {
	dir := t.TempDir()
	snap, err := Latest(dir)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSnapshot_LatestFallsBackPastCorruptGeneration(t *testing.T) {
	dir := t.TempDir()
	eng := newFakeEngineWithOneRestingOrder()

	good := Capture(eng, 1)
	_, err := Write(dir, good)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond) // ensure a distinct UnixNano filename
	bad := Capture(eng, 2)
	badPath, err := Write(dir, bad)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(badPath, []byte(`{"format_version":1,"checksum":0}`), 0o644))

	loaded, err := Latest(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(1), loaded.SequenceHighWater, "corrupt newest generation must fall back to the prior one")
}

func TestSnapshot_LatestFailsWhenEveryGenerationCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshot-1.json"), []byte(`not json`), 0o644))

	_, err := Latest(dir)
	assert.ErrorIs(t, err, engine.ErrCorruption)
}

func TestSnapshot_PruneKeepsOnlyNewestGenerations(t *testing.T) {
	dir := t.TempDir()
	eng := newFakeEngineWithOneRestingOrder()

	var paths []string
	for i := 0; i < 5; i++ {
		snap := Capture(eng, uint64(i))
		path, err := Write(dir, snap)
		require.NoError(t, err)
		paths = append(paths, path)
		time.Sleep(2 * time.Millisecond)
	}

	require.NoError(t, Prune(dir, 2))

	matches, err := filepath.Glob(filepath.Join(dir, "snapshot-*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.Contains(t, matches, paths[len(paths)-1])
	assert.Contains(t, matches, paths[len(paths)-2])
}
