package nnue

import (
	"bytes"
	"testing"

	"github.com/corvidchess/corvid/internal/board"
)

func TestUnloadedNetworkFallsBackToZero(t *testing.T) {
	e := NewEvaluator("")
	if e.Loaded() {
		t.Fatal("expected unloaded network with no weights path")
	}
	pos, err := board.ParseFEN(board.StartFEN)
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	if got := e.Evaluate(pos, 1.0); got != 0 {
		t.Errorf("Evaluate() with unloaded network = %d, want 0", got)
	}
}

func TestShortWeightFileLeavesNetworkUnloaded(t *testing.T) {
	net := NewNetwork()
	// 10 bytes is far short of a single W1 column.
	short := make([]byte, 10)
	if err := net.LoadWeights(bytes.NewReader(short)); err != nil {
		t.Fatalf("LoadWeights returned error instead of degrading: %v", err)
	}
	if net.Loaded {
		t.Error("expected Loaded=false after a short read")
	}
}

func TestForwardScalesByPhaseWeight(t *testing.T) {
	net := NewNetwork()
	net.InitRandom(11)

	pos, err := board.ParseFEN(board.StartFEN)
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}

	var acc Accumulator
	acc.ComputeFull(pos, net)

	full := net.Forward(&acc, pos.SideToMove, 1.0)
	half := net.Forward(&acc, pos.SideToMove, 0.5)
	zero := net.Forward(&acc, pos.SideToMove, 0.0)

	if zero != 0 {
		t.Errorf("Forward with phaseWeight=0 = %d, want 0", zero)
	}
	diff := half - full/2
	if diff < -1 || diff > 1 {
		t.Errorf("Forward with phaseWeight=0.5 = %d, want close to half of phaseWeight=1.0 result %d", half, full)
	}
}

func TestAccumulatorMatchesFromScratchRecompute(t *testing.T) {
	net := NewNetwork()
	net.InitRandom(7)

	pos, err := board.ParseFEN("r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}

	stack := NewAccumulatorStack()
	stack.Current().ComputeFull(pos, net)

	moves := pos.GenerateLegalMoves()
	if moves.Len() == 0 {
		t.Fatal("expected legal moves")
	}
	m := moves.Get(0)
	captured := pos.PieceAt(m.To())

	stack.Push()
	undo := pos.MakeMove(m)
	if !undo.Valid {
		t.Fatal("expected legal move to apply cleanly")
	}
	stack.Current().UpdateIncremental(pos, m, captured, net)

	var fresh Accumulator
	fresh.ComputeFull(pos, net)

	got := stack.Current()
	for persp := board.White; persp <= board.Black; persp++ {
		for i := 0; i < L1Size; i++ {
			// float32 sums in a different order may differ in the last bits.
			if d := got.Values[persp][i] - fresh.Values[persp][i]; d > 1e-5 || d < -1e-5 {
				t.Fatalf("perspective %v feature %d: incremental=%v fromScratch=%v",
					persp, i, got.Values[persp][i], fresh.Values[persp][i])
			}
		}
	}
}
