package mcts

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/corvidchess/corvid/internal/board"
)

// materialEvaluator is a minimal Evaluator for tests: plain material count
// from the side-to-move's perspective, no positional terms.
type materialEvaluator struct{}

var pieceValue = map[board.PieceType]int{
	board.Pawn:   100,
	board.Knight: 320,
	board.Bishop: 330,
	board.Rook:   500,
	board.Queen:  900,
}

func (materialEvaluator) Evaluate(pos *board.Position) int {
	us := pos.SideToMove
	them := us.Other()
	score := 0
	for pt, val := range pieceValue {
		score += pos.Pieces[us][pt].PopCount() * val
		score -= pos.Pieces[them][pt].PopCount() * val
	}
	return score
}

func searchFor(t *testing.T, pos *board.Position, d time.Duration) Result {
	t.Helper()
	var stop atomic.Bool
	timer := time.AfterFunc(d, func() { stop.Store(true) })
	defer timer.Stop()

	return Search(pos, nil, materialEvaluator{}, Config{Workers: 2}, &stop)
}

func TestSearchReturnsLegalMove(t *testing.T) {
	pos := board.NewPosition()
	result := searchFor(t, pos, 200*time.Millisecond)

	if result.Move == board.NoMove {
		t.Fatal("expected a move from the starting position")
	}

	legal := pos.GenerateLegalMoves()
	found := false
	for i := 0; i < legal.Len(); i++ {
		if legal.Get(i) == result.Move {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("move %s is not among legal moves", result.Move.String())
	}
}

func TestSearchFindsHangingQueenCapture(t *testing.T) {
	// White queen can capture the undefended black queen on d8 (the black
	// king on h8 cannot recapture).
	pos, err := board.ParseFEN("3q3k/8/8/8/8/8/8/3QK3 w - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}

	result := searchFor(t, pos, 500*time.Millisecond)
	want := board.NewMove(board.D1, board.D8)
	if result.Move != want {
		t.Errorf("expected %s (capture the hanging queen), got %s", want.String(), result.Move.String())
	}
}

func TestSearchStalemateIsTerminal(t *testing.T) {
	// Classic stalemate: black to move, no legal moves, not in check.
	pos, err := board.ParseFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if err != nil {
		t.Fatalf("ParseFEN: %v", err)
	}
	if pos.GenerateLegalMoves().Len() != 0 {
		t.Fatal("test position is not actually stalemate")
	}

	var stop atomic.Bool
	tree := NewTree(pos, nil, materialEvaluator{}, nil)
	if tree.nodes[0].numChildren != 0 {
		t.Fatal("stalemate root should have no children")
	}
	_ = stop
}

func TestSearchRespectsStopFlag(t *testing.T) {
	pos := board.NewPosition()
	var stop atomic.Bool
	stop.Store(true)

	result := Search(pos, nil, materialEvaluator{}, Config{Workers: 4}, &stop)
	// With the stop flag already set, no worker should run a simulation
	// beyond the root's own expansion, but BestMove should still degrade
	// gracefully to a child of the always-expanded root.
	if result.Move == board.NoMove {
		t.Error("expected a move even with zero simulations, since the root expands eagerly")
	}
}

func TestSimulationBudgetStopsSearch(t *testing.T) {
	pos := board.NewPosition()
	var stop atomic.Bool

	result := Search(pos, nil, materialEvaluator{}, Config{Workers: 1, Simulations: 50}, &stop)
	if result.Simulations == 0 {
		t.Error("expected at least one simulation to have run")
	}
	if result.Move == board.NoMove {
		t.Error("expected a move after a bounded number of simulations")
	}
}

func TestSquashIsBounded(t *testing.T) {
	cases := []int{-100000, -1, 0, 1, 100000}
	for _, cp := range cases {
		v := squash(cp)
		if v < -1 || v > 1 {
			t.Errorf("squash(%d) = %f, want in [-1, 1]", cp, v)
		}
	}
	if squash(0) != 0 {
		t.Errorf("squash(0) = %f, want 0", squash(0))
	}
}
