package nnue

import (
	"encoding/binary"
	"io"
	"math"
	"math/rand"
	"os"

	"github.com/corvidchess/corvid/internal/board"
)

// Network holds the dense weights for the 768→512→512→1 evaluator. W1 is
// stored column-major (one [L1Size]float32 run per input feature) so an
// incremental update is a single contiguous slice add.
type Network struct {
	W1 [][L1Size]float32 // [InputSize][L1Size]
	B1 [L1Size]float32

	W2 [][L2Size]float32 // [L1Size][L2Size]
	B2 [L2Size]float32

	W3 [L2Size]float32
	B3 float32

	Loaded bool
}

// NewNetwork allocates a zero-valued, unloaded network of the fixed shape.
func NewNetwork() *Network {
	n := &Network{
		W1: make([][L1Size]float32, InputSize),
		W2: make([][L2Size]float32, L1Size),
	}
	return n
}

func (n *Network) addColumn(dst *[L1Size]float32, feature int) {
	col := &n.W1[feature]
	for i := range dst {
		dst[i] += col[i]
	}
}

func (n *Network) subColumn(dst *[L1Size]float32, feature int) {
	col := &n.W1[feature]
	for i := range dst {
		dst[i] -= col[i]
	}
}

// LoadWeightsFile opens path and loads weights from it.
func (n *Network) LoadWeightsFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return n.LoadWeights(f)
}

// LoadWeights reads the dense little-endian float32 layout described in
// the evaluator's weight-file format: W1 (InputSize*L1Size), b1 (L1Size),
// W2 (L1Size*L2Size), b2 (L2Size), W3 (L2Size*OutputSize), b3 (OutputSize).
// A read shorter than the full layout leaves Loaded false and returns nil:
// callers fall back to the classical evaluator rather than crash.
func (n *Network) LoadWeights(r io.Reader) error {
	n.Loaded = false

	for f := 0; f < InputSize; f++ {
		if !readFloat32Slice(r, n.W1[f][:]) {
			return nil
		}
	}
	if !readFloat32Slice(r, n.B1[:]) {
		return nil
	}
	for f := 0; f < L1Size; f++ {
		if !readFloat32Slice(r, n.W2[f][:]) {
			return nil
		}
	}
	if !readFloat32Slice(r, n.B2[:]) {
		return nil
	}
	if !readFloat32Slice(r, n.W3[:]) {
		return nil
	}
	var b3 [1]float32
	if !readFloat32Slice(r, b3[:]) {
		return nil
	}
	n.B3 = b3[0]

	n.Loaded = true
	return nil
}

func readFloat32Slice(r io.Reader, dst []float32) bool {
	buf := make([]byte, 4*len(dst))
	if _, err := io.ReadFull(r, buf); err != nil {
		return false
	}
	for i := range dst {
		bits := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		dst[i] = math.Float32frombits(bits)
	}
	return true
}

// InitRandom fills the network with small random weights, for testing the
// forward pass without a trained weight file.
func (n *Network) InitRandom(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	scale := float32(0.05)

	for f := 0; f < InputSize; f++ {
		for i := 0; i < L1Size; i++ {
			n.W1[f][i] = (rng.Float32()*2 - 1) * scale
		}
	}
	for f := 0; f < L1Size; f++ {
		for i := 0; i < L2Size; i++ {
			n.W2[f][i] = (rng.Float32()*2 - 1) * scale
		}
	}
	for i := 0; i < L2Size; i++ {
		n.W3[i] = (rng.Float32()*2 - 1) * scale
	}
	n.Loaded = true
}

// Forward runs the network on the accumulator's value for the given
// perspective and returns a centipawn contribution: the tanh-squashed raw
// output multiplied by OutputScaleCP and then by phaseWeight, the caller's
// game-phase scalar in [0, 1] (0 = pure middlegame material, 1 = bare
// endgame). Callers blend this against the classical evaluator's score
// weighted by (1-phaseWeight) rather than treating Forward's output as a
// standalone score.
func (n *Network) Forward(acc *Accumulator, perspective board.Color, phaseWeight float64) int {
	var h1 [L1Size]float32
	src := &acc.Values[perspective]
	for i := range h1 {
		if src[i] > 0 {
			h1[i] = src[i]
		}
	}

	var h2 [L2Size]float32
	for j := 0; j < L2Size; j++ {
		sum := n.B2[j]
		for i := 0; i < L1Size; i++ {
			sum += h1[i] * n.W2[i][j]
		}
		if sum < 0 {
			sum = 0
		}
		h2[j] = sum
	}

	out := n.B3
	for i := 0; i < L2Size; i++ {
		out += h2[i] * n.W3[i]
	}

	tanhOut := math.Tanh(float64(out))
	return int(tanhOut * float64(OutputScaleCP) * phaseWeight)
}
