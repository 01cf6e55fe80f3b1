package engine

import (
	"sync/atomic"

	"github.com/corvidchess/corvid/internal/board"
)

// TTFlag indicates the type of bound stored in the transposition table.
type TTFlag uint8

const (
	TTExact      TTFlag = iota // Exact score
	TTLowerBound               // Failed high (beta cutoff)
	TTUpperBound               // Failed low
)

// TTEntry is the decoded view of a transposition table slot returned by Probe.
type TTEntry struct {
	Key      uint32     // Upper 32 bits of Zobrist hash for verification
	BestMove board.Move // Best move found
	Score    int16      // Score (bounded by flag)
	Depth    int8       // Search depth
	Flag     TTFlag     // Type of bound
	Age      uint8      // Generation for replacement
	IsPV     bool        // Whether this entry was stored from a PV node
}

// slot is a lock-free table entry. Workers search the same table
// concurrently without a mutex, so every slot is read and written using two
// independent atomic words: data holds the packed entry, and keyXorData
// holds hash XOR data. A probe recomputes hash XOR data from the loaded
// data word and compares it against the loaded keyXorData word; since Store
// writes data and keyXorData with two separate atomic stores, a probe
// racing a store can observe a torn pair, and the XOR check catches it
// (falling back to a miss) instead of returning a corrupted entry.
type slot struct {
	keyXorData atomic.Uint64
	data       atomic.Uint64
}

const (
	dataMoveBits  = 16
	dataScoreBits = 16
	dataDepthBits = 8
	dataFlagBits  = 2
	dataPVBits    = 1
	dataAgeBits   = 8

	dataMoveShift  = 0
	dataScoreShift = dataMoveShift + dataMoveBits
	dataDepthShift = dataScoreShift + dataScoreBits
	dataFlagShift  = dataDepthShift + dataDepthBits
	dataPVShift    = dataFlagShift + dataFlagBits
	dataAgeShift   = dataPVShift + dataPVBits

	dataMoveMask  = uint64(1)<<dataMoveBits - 1
	dataScoreMask = uint64(1)<<dataScoreBits - 1
	dataDepthMask = uint64(1)<<dataDepthBits - 1
	dataFlagMask  = uint64(1)<<dataFlagBits - 1
	dataPVMask    = uint64(1)<<dataPVBits - 1
	dataAgeMask   = uint64(1)<<dataAgeBits - 1
)

func packData(depth int8, flag TTFlag, isPV bool, age uint8, score int16, move board.Move) uint64 {
	pv := uint64(0)
	if isPV {
		pv = 1
	}
	return (uint64(move)&dataMoveMask)<<dataMoveShift |
		(uint64(uint16(score))&dataScoreMask)<<dataScoreShift |
		(uint64(uint8(depth))&dataDepthMask)<<dataDepthShift |
		(uint64(flag)&dataFlagMask)<<dataFlagShift |
		pv<<dataPVShift |
		(uint64(age)&dataAgeMask)<<dataAgeShift
}

func unpackData(data uint64, key uint32) TTEntry {
	return TTEntry{
		Key:      key,
		BestMove: board.Move((data >> dataMoveShift) & dataMoveMask),
		Score:    int16(uint16((data >> dataScoreShift) & dataScoreMask)),
		Depth:    int8(uint8((data >> dataDepthShift) & dataDepthMask)),
		Flag:     TTFlag((data >> dataFlagShift) & dataFlagMask),
		IsPV:     (data>>dataPVShift)&dataPVMask != 0,
		Age:      uint8((data >> dataAgeShift) & dataAgeMask),
	}
}

// TranspositionTable is a lock-free hash table for storing search results,
// shared and probed concurrently by every Lazy SMP worker.
type TranspositionTable struct {
	entries []slot
	size    uint64
	mask    uint64
	age     atomic.Uint32

	// Statistics (best-effort under concurrent access, used only for
	// "info hashfull"-style reporting, never for search correctness).
	hits   atomic.Uint64
	probes atomic.Uint64
}

// NewTranspositionTable creates a transposition table with the given size in MB.
func NewTranspositionTable(sizeMB int) *TranspositionTable {
	entrySize := uint64(16) // two uint64 words per slot
	numEntries := (uint64(sizeMB) * 1024 * 1024) / entrySize

	numEntries = roundDownToPowerOf2(numEntries)
	if numEntries == 0 {
		numEntries = 1
	}

	return &TranspositionTable{
		entries: make([]slot, numEntries),
		size:    numEntries,
		mask:    numEntries - 1,
	}
}

// roundDownToPowerOf2 rounds n down to the nearest power of 2.
func roundDownToPowerOf2(n uint64) uint64 {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

// Probe looks up a position in the transposition table.
// Returns the entry and true if found, otherwise returns empty entry and false.
func (tt *TranspositionTable) Probe(hash uint64) (TTEntry, bool) {
	tt.probes.Add(1)

	s := &tt.entries[hash&tt.mask]
	data := s.data.Load()
	keyXorData := s.keyXorData.Load()

	if keyXorData^data != hash {
		return TTEntry{}, false
	}
	entry := unpackData(data, uint32(hash>>32))
	if entry.Depth <= 0 {
		return TTEntry{}, false
	}
	tt.hits.Add(1)
	return entry, true
}

// Store saves a position in the transposition table.
func (tt *TranspositionTable) Store(hash uint64, depth int, score int, flag TTFlag, bestMove board.Move, isPV bool) {
	s := &tt.entries[hash&tt.mask]
	age := uint8(tt.age.Load())

	// Replacement strategy: keep the existing entry only when it is for the
	// same position, from this generation, and deeper than the new one;
	// every other slot content (including another position's entry) is
	// overwritten.
	existingData := s.data.Load()
	existingKeyXorData := s.keyXorData.Load()
	if existingKeyXorData^existingData == hash {
		existing := unpackData(existingData, uint32(hash>>32))
		if existing.Age == age && depth < int(existing.Depth) {
			return
		}
	}

	data := packData(int8(depth), flag, isPV, age, int16(score), bestMove)
	// Store data before the XORed key word; Probe's XOR check rejects any
	// interleaving a concurrent reader might observe.
	s.data.Store(data)
	s.keyXorData.Store(hash ^ data)
}

// NewSearch increments the age counter for a new search.
// This helps with replacement decisions.
func (tt *TranspositionTable) NewSearch() {
	tt.age.Add(1)
}

// Clear clears the transposition table.
func (tt *TranspositionTable) Clear() {
	for i := range tt.entries {
		tt.entries[i].data.Store(0)
		tt.entries[i].keyXorData.Store(0)
	}
	tt.age.Store(0)
	tt.hits.Store(0)
	tt.probes.Store(0)
}

// HashFull returns the permille (parts per thousand) of the table that is used.
func (tt *TranspositionTable) HashFull() int {
	used := 0
	sampleSize := 1000
	if uint64(sampleSize) > tt.size {
		sampleSize = int(tt.size)
	}

	age := uint8(tt.age.Load())
	for i := 0; i < sampleSize; i++ {
		data := tt.entries[i].data.Load()
		entry := unpackData(data, 0)
		if entry.Depth > 0 && entry.Age == age {
			used++
		}
	}

	return (used * 1000) / sampleSize
}

// HitRate returns the cache hit rate as a percentage.
func (tt *TranspositionTable) HitRate() float64 {
	probes := tt.probes.Load()
	if probes == 0 {
		return 0
	}
	return float64(tt.hits.Load()) / float64(probes) * 100
}

// Size returns the number of entries in the table.
func (tt *TranspositionTable) Size() uint64 {
	return tt.size
}

// AdjustScoreFromTT adjusts a score from/to the transposition table.
// Mate scores need to be adjusted based on ply distance.
func AdjustScoreFromTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score - ply
	}
	if score < -MateScore+MaxPly {
		return score + ply
	}
	return score
}

// AdjustScoreToTT adjusts a score for storage in the transposition table.
func AdjustScoreToTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score + ply
	}
	if score < -MateScore+MaxPly {
		return score - ply
	}
	return score
}
