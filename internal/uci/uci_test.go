package uci

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/corvidchess/corvid/internal/board"
	"github.com/corvidchess/corvid/internal/engine"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = orig

	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// runGo feeds a "position" command followed by a "go" command through the
// handler and waits for the search goroutine to finish, returning everything
// printed to stdout.
func runGo(t *testing.T, u *UCI, positionArgs []string, goArgs []string) string {
	t.Helper()
	return captureStdout(t, func() {
		u.handlePosition(positionArgs)
		u.handleGo(goArgs)
		<-u.searchDone
	})
}

func lastBestMove(t *testing.T, output string) string {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "bestmove") {
			fields := strings.Fields(lines[i])
			if len(fields) >= 2 {
				return fields[1]
			}
		}
	}
	t.Fatalf("no bestmove line in output:\n%s", output)
	return ""
}

// scoreFromInfo extracts the last "score cp N" or "score mate N" value
// reported in an "info ..." line, converting a mate score to the engine's
// internal MateScore-centered convention so callers can compare against it
// directly.
func scoreFromInfo(t *testing.T, output string) int {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		fields := strings.Fields(lines[i])
		for j, f := range fields {
			if f == "cp" && j+1 < len(fields) {
				n, err := strconv.Atoi(fields[j+1])
				if err != nil {
					t.Fatalf("parsing score cp: %v", err)
				}
				return n
			}
			if f == "mate" && j+1 < len(fields) {
				pliesToMate, err := strconv.Atoi(fields[j+1])
				if err != nil {
					t.Fatalf("parsing score mate: %v", err)
				}
				if pliesToMate >= 0 {
					return engine.MateScore - (2*pliesToMate - 1)
				}
				return -engine.MateScore + (2*(-pliesToMate) - 1)
			}
		}
	}
	t.Fatalf("no score found in output:\n%s", output)
	return 0
}

func newTestUCI() *UCI {
	return New(engine.NewEngine(16))
}

// TestUCIStartposLegalMove covers a depth-1 search from the initial
// position: any of the 20 legal opening moves is an acceptable bestmove.
func TestUCIStartposLegalMove(t *testing.T) {
	u := newTestUCI()
	out := runGo(t, u, []string{"startpos"}, []string{"depth", "1"})

	best := lastBestMove(t, out)
	pos := board.NewPosition()
	legal := pos.GenerateLegalMoves()
	found := false
	for i := 0; i < legal.Len(); i++ {
		if legal.Get(i).String() == best {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("bestmove %s is not a legal opening move", best)
	}
}

// TestUCIWinningPawnPush covers a king-and-pawn endgame where advancing the
// passed pawn should be assessed as clearly winning for White.
func TestUCIWinningPawnPush(t *testing.T) {
	u := newTestUCI()
	out := runGo(t, u,
		[]string{"fen", "4k3/8/4K3/4P3/8/8/8/8", "w", "-", "-", "0", "1", "moves", "e5e6"},
		[]string{"depth", "6"})

	score := scoreFromInfo(t, out)
	if score < 200 {
		t.Errorf("score = %d, want >= 200 (clearly winning for White)", score)
	}
}

// TestUCIRookEndgameAdvantage covers a simple rook endgame that should be
// assessed as a large advantage for White.
func TestUCIRookEndgameAdvantage(t *testing.T) {
	u := newTestUCI()
	out := runGo(t, u,
		[]string{"fen", "6k1/5ppp/8/8/8/8/8/R6K", "w", "-", "-", "0", "1"},
		[]string{"depth", "8"})

	score := scoreFromInfo(t, out)
	if score < 450 {
		t.Errorf("score = %d, want >= 450", score)
	}
}

// TestUCIMateInOne covers the mate-in-one scenario: Rh8# is the only move
// that delivers checkmate, and the reported score must be a mate score one
// ply from the search root.
func TestUCIMateInOne(t *testing.T) {
	u := newTestUCI()
	out := runGo(t, u,
		[]string{"fen", "k7/7R/1K6/8/8/8/8/8", "w", "-", "-", "0", "1"},
		[]string{"depth", "2"})

	best := lastBestMove(t, out)
	if best != "h7h8" {
		t.Errorf("bestmove = %s, want h7h8", best)
	}

	score := scoreFromInfo(t, out)
	if score != engine.MateScore-1 {
		t.Errorf("score = %d, want %d (MateScore-1)", score, engine.MateScore-1)
	}
}

// TestUCIStalemate covers a position with no legal moves for the side to
// move: the engine must report bestmove 0000.
func TestUCIStalemate(t *testing.T) {
	u := newTestUCI()
	out := runGo(t, u,
		[]string{"fen", "k7/2K5/1Q6/8/8/8/8/8", "b", "-", "-", "0", "1"},
		[]string{"depth", "1"})

	if u.position.GenerateLegalMoves().Len() != 0 {
		t.Fatalf("test position is not actually stalemate")
	}

	best := lastBestMove(t, out)
	if best != "0000" {
		t.Errorf("bestmove = %s, want 0000", best)
	}
}

// TestUCIRepeatedSearchIsDeterministic runs the same depth-6 search twice in
// the same process and checks that the reported score and bestmove are
// identical even though the transposition table carries state between runs
// and node counts may differ.
func TestUCIRepeatedSearchIsDeterministic(t *testing.T) {
	u := newTestUCI()

	out1 := runGo(t, u, []string{"startpos"}, []string{"depth", "6"})
	best1 := lastBestMove(t, out1)
	score1 := scoreFromInfo(t, out1)

	out2 := runGo(t, u, []string{"startpos"}, []string{"depth", "6"})
	best2 := lastBestMove(t, out2)
	score2 := scoreFromInfo(t, out2)

	if best1 != best2 {
		t.Errorf("bestmove differs between runs: %s vs %s", best1, best2)
	}
	if score1 != score2 {
		t.Errorf("score differs between runs: %d vs %d", score1, score2)
	}
}

// TestUCIMoveTimeHonored is a smoke test that a movetime-bounded search
// returns in roughly the time budgeted, exercising the go-command time
// control path rather than fixed-depth search.
func TestUCIMoveTimeHonored(t *testing.T) {
	u := newTestUCI()
	start := time.Now()
	out := runGo(t, u, []string{"startpos"}, []string{"movetime", "200"})
	elapsed := time.Since(start)

	lastBestMove(t, out)
	if elapsed > 2*time.Second {
		t.Errorf("search with movetime 200 took %v, want well under 2s", elapsed)
	}
}
