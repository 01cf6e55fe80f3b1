// Package mcts implements PUCT-based Monte Carlo tree search over the
// shared board representation, as an alternative to the alpha-beta engine
// for positions where a value-network-style evaluator is preferred over a
// centipawn window search.
package mcts

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/corvidchess/corvid/internal/board"
)

// Evaluator returns a centipawn-scale static evaluation of a position from
// the side-to-move's perspective. Alpha-beta and MCTS share this single
// contract; MCTS squashes the centipawn score into [-1, 1] itself rather
// than asking the evaluator to know about either search algorithm.
type Evaluator interface {
	Evaluate(pos *board.Position) int
}

const (
	cPUCT            = 1.41
	firstPlayUrgency = -0.2
	virtualLoss      = 3

	// centipawnScale is the k in the tanh(cp/k) leaf-value squash.
	centipawnScale = 300.0

	rootNoiseWeight = 0.25
	rootNoiseAlpha  = 0.3
)

// squash maps a centipawn evaluation onto [-1, 1].
func squash(cp int) float64 {
	return math.Tanh(float64(cp) / centipawnScale)
}

// node is one arena-backed tree entry. Children occupy a contiguous index
// range appended exactly once, at expansion, so the tree is a flat slice
// with no owning pointers or reference counting, and no per-node lock: only
// the append that creates children needs the tree-wide mutex.
type node struct {
	move        board.Move
	parent      int32
	firstChild  int32
	numChildren int32
	prior       float32

	visits    atomic.Int64
	valueBits atomic.Uint64 // bit pattern of an accumulated float64
}

func (n *node) addValue(v float64) {
	for {
		old := n.valueBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if n.valueBits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (n *node) value() float64 {
	return math.Float64frombits(n.valueBits.Load())
}

// meanValue is the node's value from its parent's perspective, or the
// first-play-urgency constant for a child that has never been visited.
func (n *node) meanValue() float64 {
	v := n.visits.Load()
	if v <= 0 {
		return firstPlayUrgency
	}
	return n.value() / float64(v)
}

// Tree is an arena-backed MCTS tree rooted at a single position. Node
// indices are stable for the tree's lifetime, so multiple search goroutines
// can hold onto a path of indices while only serializing on expansion.
type Tree struct {
	mu    sync.Mutex
	nodes []node

	// rootHistory carries game-history hashes (positions before the search
	// root) so repetition can be detected across the game/search boundary,
	// the same split worker.go keeps between rootPosHashes and in-search
	// MakeMove/UnmakeMove hashes.
	rootHistory []uint64
}

// NewTree creates a tree with a freshly-expanded root for rootPos.
func NewTree(rootPos *board.Position, rootHistory []uint64, eval Evaluator, rng *rand.Rand) *Tree {
	t := &Tree{
		nodes:       make([]node, 1, 1024),
		rootHistory: rootHistory,
	}
	t.nodes[0].parent = -1
	t.expand(0, rootPos, nil, true, eval, rng)
	return t
}

// RootVisits returns the number of simulations that have passed through the
// root so far.
func (t *Tree) RootVisits() int64 {
	return t.nodes[0].visits.Load()
}

// BestMove returns the root's most-visited child (mean value as tiebreak)
// and that child's visit count, per §4.7's root move selection rule.
func (t *Tree) BestMove() (board.Move, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root := &t.nodes[0]
	bestIdx := int32(-1)
	var bestVisits int64 = -1
	var bestValue float64
	for i := root.firstChild; i < root.firstChild+root.numChildren; i++ {
		c := &t.nodes[i]
		visits := c.visits.Load()
		value := c.meanValue()
		if visits > bestVisits || (visits == bestVisits && value > bestValue) {
			bestIdx, bestVisits, bestValue = i, visits, value
		}
	}
	if bestIdx < 0 {
		return board.NoMove, 0
	}
	return t.nodes[bestIdx].move, bestVisits
}

// PV walks the most-visited child at each level, for UCI "info pv" reporting.
func (t *Tree) PV(maxLen int) []board.Move {
	t.mu.Lock()
	defer t.mu.Unlock()

	pv := make([]board.Move, 0, maxLen)
	idx := int32(0)
	for len(pv) < maxLen {
		n := &t.nodes[idx]
		if n.numChildren == 0 {
			break
		}
		best := int32(-1)
		var bestVisits int64 = -1
		for i := n.firstChild; i < n.firstChild+n.numChildren; i++ {
			if v := t.nodes[i].visits.Load(); v > bestVisits {
				bestVisits, best = v, i
			}
		}
		if best < 0 || bestVisits == 0 {
			break
		}
		pv = append(pv, t.nodes[best].move)
		idx = best
	}
	return pv
}

// expand generates children for the leaf at idx and assigns priors. Terminal
// leaves get no children and their value is computed directly. Called with
// the tree mutex NOT held; it takes the lock itself only around the append.
// Returns the leaf value from the side-to-move's perspective.
func (t *Tree) expand(idx int32, pos *board.Position, history []uint64, isRoot bool, eval Evaluator, rng *rand.Rand) float64 {
	if pos.HalfMoveClock >= 100 || isRepetition(pos.Hash, history, t.rootHistory) {
		return 0
	}

	moves := pos.GenerateLegalMoves()
	if moves.Len() == 0 {
		if pos.Checkers != 0 {
			return -1
		}
		return 0
	}

	priors := make([]float32, moves.Len())
	uniform := float32(1.0 / float64(moves.Len()))
	for i := range priors {
		priors[i] = uniform
	}
	if isRoot && rng != nil {
		addDirichletNoise(priors, rng)
	}

	t.mu.Lock()
	first := int32(len(t.nodes))
	for i := 0; i < moves.Len(); i++ {
		t.nodes = append(t.nodes, node{
			move:   moves.Get(i),
			parent: idx,
			prior:  priors[i],
		})
	}
	n := &t.nodes[idx]
	n.firstChild = first
	n.numChildren = int32(moves.Len())
	t.mu.Unlock()

	return squash(eval.Evaluate(pos))
}

// isRepetition reports whether hash has already occurred once, either in the
// game history before the search root or earlier along this simulation's
// path (a single prior occurrence is enough mid-search: by the time it
// would recur a third time over the board's real lifetime, treating it as a
// draw here is the conservative, cheaper approximation).
func isRepetition(hash uint64, path, rootHistory []uint64) bool {
	for _, h := range path {
		if h == hash {
			return true
		}
	}
	for _, h := range rootHistory {
		if h == hash {
			return true
		}
	}
	return false
}

// addDirichletNoise perturbs root priors with noise drawn from a Gamma(alpha,
// 1) approximation, then renormalizes, matching AlphaZero-style root
// exploration noise.
func addDirichletNoise(priors []float32, rng *rand.Rand) {
	noise := make([]float64, len(priors))
	var sum float64
	for i := range noise {
		noise[i] = sampleGamma(rootNoiseAlpha, rng)
		sum += noise[i]
	}
	if sum == 0 {
		return
	}
	for i := range priors {
		p := float64(priors[i])*(1-rootNoiseWeight) + (noise[i]/sum)*rootNoiseWeight
		priors[i] = float32(p)
	}
}

// sampleGamma draws from Gamma(shape, 1) via Marsaglia-Tsang for shape >= 1,
// boosting sub-1 shapes (as Dirichlet alphas typically are) by one and
// correcting with a uniform power transform.
func sampleGamma(shape float64, rng *rand.Rand) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(shape+1, rng) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// Config bundles MCTS search parameters, per §9's "explicit configuration
// record" design note: no package-level mutable state carries search config.
type Config struct {
	Workers     int    // parallel simulation goroutines, 0 defaults to 1
	Simulations uint64 // simulation budget, 0 = unbounded (deadline-only)
}

// Result is what a completed (or stopped) search reports.
type Result struct {
	Move        board.Move
	Visits      int64
	Simulations uint64
	PV          []board.Move
}

// Search runs MCTS from rootPos until stop is set, using eval to value
// leaves, and returns the root's most-visited move. rootHistory carries
// game-history Zobrist hashes for repetition detection across the search
// boundary, mirroring Worker.SetRootHistory.
func Search(rootPos *board.Position, rootHistory []uint64, eval Evaluator, cfg Config, stop *atomic.Bool) Result {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	rng := rand.New(rand.NewSource(1))
	tree := NewTree(rootPos, rootHistory, eval, rng)

	var simCount atomic.Uint64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			localRNG := rand.New(rand.NewSource(seed))
			pos := rootPos.Copy()
			for {
				if stop.Load() {
					return
				}
				if cfg.Simulations > 0 && simCount.Add(1) > cfg.Simulations {
					return
				}
				runSimulation(tree, pos, eval, localRNG)
			}
		}(int64(w)*2654435761 + 1)
	}
	wg.Wait()

	move, visits := tree.BestMove()
	return Result{
		Move:        move,
		Visits:      visits,
		Simulations: simCount.Load(),
		PV:          tree.PV(32),
	}
}

// runSimulation executes one Select -> Expand/Evaluate -> Backup iteration,
// applying and unmaking moves on pos as it descends so every goroutine walks
// the shared tree against its own private position.
func runSimulation(t *Tree, pos *board.Position, eval Evaluator, rng *rand.Rand) {
	path := make([]int32, 0, 64)
	moves := make([]board.Move, 0, 64)
	undos := make([]board.UndoInfo, 0, 64)
	hashPath := make([]uint64, 0, 64)

	idx := int32(0)
	enterNode(t, idx)
	path = append(path, idx)

	for {
		t.mu.Lock()
		n := &t.nodes[idx]
		if n.numChildren == 0 {
			t.mu.Unlock()
			break
		}
		childIdx := selectChild(t, idx, rng)
		childMove := t.nodes[childIdx].move
		t.mu.Unlock()

		enterNode(t, childIdx)
		undo := pos.MakeMove(childMove)

		path = append(path, childIdx)
		moves = append(moves, childMove)
		undos = append(undos, undo)
		hashPath = append(hashPath, pos.Hash)
		idx = childIdx
	}

	// Re-expand: a leaf reached concurrently by another worker since it was
	// last visited may already have children by the time we get the lock.
	var leafValue float64
	t.mu.Lock()
	alreadyExpanded := t.nodes[idx].numChildren > 0
	t.mu.Unlock()
	if alreadyExpanded {
		leafValue = squash(eval.Evaluate(pos))
	} else {
		ancestors := 0
		if len(hashPath) > 0 {
			ancestors = len(hashPath) - 1
		}
		leafValue = t.expand(idx, pos, hashPath[:ancestors], false, eval, nil)
	}

	// leafValue is from the leaf's side to move; each node stores its value
	// from its parent's perspective, so the leaf itself gets the negation.
	v := -leafValue
	for i := len(path) - 1; i >= 0; i-- {
		backupNode(t, path[i], v)
		v = -v
	}
	for i := len(moves) - 1; i >= 0; i-- {
		pos.UnmakeMove(moves[i], undos[i])
	}
}

func enterNode(t *Tree, idx int32) {
	n := &t.nodes[idx]
	n.visits.Add(virtualLoss)
	n.addValue(-virtualLoss)
}

func backupNode(t *Tree, idx int32, v float64) {
	n := &t.nodes[idx]
	n.visits.Add(-virtualLoss + 1)
	n.addValue(virtualLoss + v)
}

// selectChild picks the child maximizing PUCT = Q + C_PUCT*P*sqrt(N_parent)/
// (1+N_child), breaking ties uniformly at random via reservoir sampling.
// Called with t.mu held.
func selectChild(t *Tree, idx int32, rng *rand.Rand) int32 {
	n := &t.nodes[idx]
	sqrtParent := math.Sqrt(float64(n.visits.Load()))

	bestIdx := int32(-1)
	bestScore := math.Inf(-1)
	tieCount := 0
	for i := n.firstChild; i < n.firstChild+n.numChildren; i++ {
		c := &t.nodes[i]
		q := c.meanValue()
		u := cPUCT * float64(c.prior) * sqrtParent / float64(1+c.visits.Load())
		score := q + u

		if score > bestScore {
			bestScore, bestIdx, tieCount = score, i, 1
		} else if score == bestScore {
			tieCount++
			if rng.Intn(tieCount) == 0 {
				bestIdx = i
			}
		}
	}
	return bestIdx
}
