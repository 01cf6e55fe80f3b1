package engine

import "sync/atomic"

// SharedHistory is a history-heuristic table shared across all Lazy SMP
// workers, indexed by [from][to], so a beta cutoff found by one thread
// immediately improves move ordering in every other thread searching the
// same tree. Backed by atomic.Int32 since workers update it concurrently
// with no other synchronization.
type SharedHistory struct {
	scores [64][64]atomic.Int32
}

// NewSharedHistory creates an empty shared history table.
func NewSharedHistory() *SharedHistory {
	return &SharedHistory{}
}

// Get returns the current shared history score for a from/to pair.
func (h *SharedHistory) Get(from, to int) int {
	return int(h.scores[from][to].Load())
}

// Update adds bonus to the shared history score, clamped to
// [-400000, 400000]. (MoveOrderer.UpdateHistory clamps only negative scores
// and halves its whole table once a score passes 400000.)
func (h *SharedHistory) Update(from, to int, bonus int) {
	v := h.scores[from][to].Add(int32(bonus))
	if v > 400000 {
		h.scores[from][to].Store(400000)
	} else if v < -400000 {
		h.scores[from][to].Store(-400000)
	}
}
