// Package snapshot serializes and restores the matching engine's resting
// order state (§4.7). Snapshots let an instance restart without losing
// resting liquidity: the engine reloads every resting order and
// re-inserts it without re-running matching, since a consistent snapshot
// is non-crossed by invariant.
package snapshot

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/matchbook/matchbook/internal/engine"
	"github.com/rs/zerolog/log"
)

// FormatVersion is bumped whenever the on-disk shape changes
// incompatibly.
const FormatVersion = 1

// RestingOrder is the durable shape of one resting order (§4.7).
type RestingOrder struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Symbol      string           `json:"symbol"`
	Side        engine.Side      `json:"side"`
	Price       int64            `json:"price"`
	OriginalQty int64            `json:"original_qty"`
	FilledQty   int64            `json:"filled_qty"`
	Sequence    uint64           `json:"sequence"`
	AcceptedAt  time.Time        `json:"accepted_at"`
	Status      engine.OrderStatus `json:"status"`
}

// Snapshot is a single point-in-time capture of every symbol's resting
// orders, plus the engine metadata needed to resume numbering (§6
// "Snapshot file format").
type Snapshot struct {
	FormatVersion     int                       `json:"format_version"`
	SequenceHighWater uint64                    `json:"sequence_high_water"`
	TakenAt           time.Time                 `json:"taken_at"`
	Symbols           map[string][]RestingOrder `json:"symbols"`
	Checksum          uint32                    `json:"checksum"`
}

func payloadChecksum(s *Snapshot) (uint32, error) {
	cp := *s
	cp.Checksum = 0
	data, err := json.Marshal(cp)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(data), nil
}

// Engine is the subset of *engine.Engine the snapshotter needs, kept
// narrow so this package does not have to depend on engine's journal
// wiring.
type Engine interface {
	Symbols() []string
	BookFor(symbol string) *engine.OrderBook
}

// Capture takes a brief structural copy of every book under its own lock,
// then returns a Snapshot built entirely from that copy. Callers must not
// hold any book lock while calling this; Capture acquires and releases
// each book's lock itself, one at a time, so no lock is ever held across
// the (comparatively slow) snapshot write that follows (§5, §9).
func Capture(eng Engine, highWater uint64) *Snapshot {
	snap := &Snapshot{
		FormatVersion:     FormatVersion,
		SequenceHighWater: highWater,
		TakenAt:           time.Now().UTC(),
		Symbols:           make(map[string][]RestingOrder),
	}

	symbols := eng.Symbols()
	sort.Strings(symbols)

	for _, symbol := range symbols {
		book := eng.BookFor(symbol)
		if book == nil {
			continue
		}
		book.Mu.Lock()
		orders := book.RestingOrders()
		out := make([]RestingOrder, 0, len(orders))
		for _, o := range orders {
			out = append(out, RestingOrder{
				ID: o.ID, UserID: o.UserID, Symbol: o.Symbol, Side: o.Side,
				Price: o.Price, OriginalQty: o.OriginalQty, FilledQty: o.FilledQty,
				Sequence: o.Sequence, AcceptedAt: o.AcceptedAt, Status: o.Status,
			})
		}
		book.Mu.Unlock()
		snap.Symbols[symbol] = out
	}

	return snap
}

// Write serializes snap to dir using the rename-on-close pattern: write
// to a temp file, fsync, rename into place, so a crash mid-write can
// never leave a partially-written snapshot visible under its final name
// (§4.7, §9).
func Write(dir string, snap *Snapshot) (string, error) {
	sum, err := payloadChecksum(snap)
	if err != nil {
		return "", fmt.Errorf("checksum snapshot: %w", err)
	}
	snap.Checksum = sum

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	final := filepath.Join(dir, fmt.Sprintf("snapshot-%d.json", snap.TakenAt.UnixNano()))

	tmp, err := os.CreateTemp(dir, "snapshot-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("fsync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename snapshot into place: %w", err)
	}

	log.Info().Str("path", final).Int("symbols", len(snap.Symbols)).Msg("snapshot written")
	return final, nil
}

// Prune keeps only the newest keep generations of snapshot-*.json files
// in dir, removing the rest (§4.7 "old snapshots may be retained for N
// generations").
func Prune(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "snapshot-*.json"))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}
	sort.Strings(matches) // filenames embed UnixNano, so lexical order is chronological
	stale := matches[:len(matches)-keep]
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to prune old snapshot")
		}
	}
	return nil
}

// Latest loads the newest snapshot in dir whose checksum verifies. If the
// newest is corrupt it falls back to the next-newest, and so on; if every
// candidate is corrupt it returns ErrCorruption per §4.7/§7 ("the engine
// refuses to start rather than proceed with a partial book").
func Latest(dir string) (*Snapshot, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "snapshot-*.json"))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	var lastErr error
	for _, path := range matches {
		snap, err := load(path)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("path", path).Msg("snapshot failed validation, trying older generation")
	}
	return nil, fmt.Errorf("%w: no valid snapshot in %s: %v", engine.ErrCorruption, dir, lastErr)
}

func load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	want := snap.Checksum
	got, err := payloadChecksum(&snap)
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("checksum mismatch: got %d want %d", got, want)
	}
	if snap.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version %d", snap.FormatVersion)
	}
	return &snap, nil
}
