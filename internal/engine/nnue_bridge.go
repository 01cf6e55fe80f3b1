package engine

import (
	"github.com/corvidchess/corvid/internal/board"
	"github.com/corvidchess/corvid/internal/nnue"
)

// computeDirtyPieces records the move about to be made, along with whatever
// piece currently sits on its destination square, so the accumulator can be
// updated once the move has been applied. Must be called before MakeMove,
// while pos still reflects the pre-move position.
func (w *Worker) computeDirtyPieces(m board.Move) {
	if !w.useNNUE || w.nnueEval == nil {
		return
	}
	w.nnuePendingMove = m
	if m.Flag() == board.FlagEnPassant {
		w.nnuePendingCaptured = board.NoPiece
	} else {
		w.nnuePendingCaptured = w.pos.PieceAt(m.To())
	}
}

// nnuePush saves accumulator state before making a move.
func (w *Worker) nnuePush() {
	if w.useNNUE && w.nnueEval != nil {
		w.nnueEval.Push()
	}
}

// nnuePop restores accumulator state after unmaking a move.
func (w *Worker) nnuePop() {
	if w.useNNUE && w.nnueEval != nil {
		w.nnueEval.Pop()
	}
}

// nnueCommit applies the move recorded by computeDirtyPieces to the
// just-pushed accumulator slot. Call once, right after MakeMove succeeds.
func (w *Worker) nnueCommit() {
	if w.useNNUE && w.nnueEval != nil {
		w.nnueEval.Update(w.pos, w.nnuePendingMove, w.nnuePendingCaptured)
	}
}

// resetNNUEAccumulators forces the accumulator stack back to a single,
// freshly computed slot for the worker's current position.
func (w *Worker) resetNNUEAccumulators() {
	if w.nnueEval != nil {
		w.nnueEval.Reset()
		w.nnueEval.Refresh(w.pos)
	}
}

// initNNUE attaches an evaluator to the worker and refreshes it for the
// worker's current position. Passing nil disables NNUE for this worker.
func (w *Worker) initNNUE(eval *nnue.Evaluator) {
	w.nnueEval = eval
	if eval != nil {
		eval.Refresh(w.pos)
	}
}

// nnueEvaluate blends the classical evaluator's score with the network's,
// weighting the network term toward the endgame as material comes off the
// board. With no network loaded, this is just the classical score.
func (w *Worker) nnueEvaluate() int {
	classical := EvaluateWithPawnTable(w.pos, w.pawnTable)
	if w.nnueEval == nil || !w.nnueEval.Loaded() {
		return classical
	}
	return blendWithNNUE(classical, w.pos, w.nnueEval)
}

// blendWithNNUE linearly interpolates a classical score toward an NNUE
// score as the position's game phase shrinks: nnueWeight is 0 in a full
// middlegame position and approaches 1 in a bare endgame, so the network's
// opinion dominates exactly where its training data is usually strongest.
func blendWithNNUE(classical int, pos *board.Position, eval *nnue.Evaluator) int {
	nnueWeight := 1.0 - float64(GamePhase(pos))/float64(MaxPhase)
	nnueTerm := eval.Evaluate(pos, nnueWeight)
	return int(float64(classical)*(1.0-nnueWeight)) + nnueTerm
}
