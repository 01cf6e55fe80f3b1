package tablebase

import (
	"github.com/corvidchess/corvid/internal/board"
	"github.com/corvidchess/corvid/internal/store"
)

// StoreBackedProber adds a disk-persisted probe cache in front of another
// Prober, so repeated engine runs against the same small set of endgame
// positions do not repeat network round-trips. It is deliberately a thin
// layer over CachedProber's in-memory cache rather than a replacement for
// it: the in-memory cache absorbs repeats within a single search, this one
// absorbs repeats across process restarts.
type StoreBackedProber struct {
	inner Prober
	db    *store.Store
}

// NewStoreBackedProber wraps inner with a persistent cache backed by db.
// A nil db disables persistence and falls through to inner unconditionally.
func NewStoreBackedProber(inner Prober, db *store.Store) *StoreBackedProber {
	return &StoreBackedProber{inner: inner, db: db}
}

func (sp *StoreBackedProber) Probe(pos *board.Position) ProbeResult {
	if sp.db != nil {
		if found, ok, wdl, dtz := sp.db.LoadProbe(pos.Hash); ok {
			return ProbeResult{Found: found, WDL: WDL(wdl), DTZ: dtz}
		}
	}

	result := sp.inner.Probe(pos)

	if sp.db != nil {
		_ = sp.db.SaveProbe(pos.Hash, result.Found, int(result.WDL), result.DTZ)
	}

	return result
}

// ProbeRoot is not persisted: it depends on the position's full legal move
// list rather than the hash alone, so a stale cache entry from a position
// reached by a different move order could return an illegal move.
func (sp *StoreBackedProber) ProbeRoot(pos *board.Position) RootResult {
	return sp.inner.ProbeRoot(pos)
}

func (sp *StoreBackedProber) MaxPieces() int { return sp.inner.MaxPieces() }
func (sp *StoreBackedProber) Available() bool { return sp.inner.Available() }
