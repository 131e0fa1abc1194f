// embedding.go - Zeit- und Konditionierungs-Embeddings
// Enthält: TimeEmbedding (gelernte Fourier-Features) und Embedder (FC-Netz)

package unet

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"
)

// TimeEmbedding maps a scalar timestep per sample into a learned sinusoidal
// embedding. Half of dim is a learned per-frequency weight vector; the output
// keeps the raw timestep alongside the sin/cos phases so both coarse (linear)
// and fine (periodic) temporal signal survive.
type TimeEmbedding struct {
	dim int
}

// NewTimeEmbedding builds a learned sinusoidal embedding. dim must be even
// and positive; the output width is dim+1.
func NewTimeEmbedding(dim int) (*TimeEmbedding, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("unet: time embedding needs a positive dimension, got %d", dim)
	}
	if dim%2 != 0 {
		return nil, fmt.Errorf("unet: time embedding dimension must be even, got %d", dim)
	}
	return &TimeEmbedding{dim: dim}, nil
}

// OutputDim is the width of the produced embedding: dim + 1.
func (te *TimeEmbedding) OutputDim() int {
	return te.dim + 1
}

// Forward maps timesteps shaped [B] to [B, dim+1]: the timestep itself,
// followed by sin and cos of timestep * weight * 2*pi per learned frequency.
func (te *TimeEmbedding) Forward(ctx *context.Context, t *Node) *Node {
	t.AssertRank(1)
	g := t.Graph()
	halfDim := te.dim / 2

	weights := ctx.WithInitializer(initializers.RandomNormalFn(ctx, 1.0)).
		VariableWithShape("weights", shapes.Make(t.DType(), halfDim)).
		ValueGraph(g)

	tCol := ExpandDims(t, -1) // [B, 1]
	// freqs = t * weights * 2*pi, per learned frequency: [B, halfDim].
	freqs := MulScalar(Mul(tCol, ExpandDims(weights, 0)), 2*math.Pi)
	return Concatenate([]*Node{tCol, Sin(freqs), Cos(freqs)}, -1) // [B, dim+1]
}

// Embedder is a small feed-forward embedding network: a linear projection to
// the embedding dimension, a GELU, and a second linear projection. It is used
// the same way for class identities and auxiliary attributes; the caller
// fixes the input width.
type Embedder struct {
	inputDim int
	embedDim int
}

// NewEmbedder builds an embedding network from inputDim to embedDim.
func NewEmbedder(inputDim, embedDim int) (*Embedder, error) {
	if inputDim <= 0 || embedDim <= 0 {
		return nil, fmt.Errorf("unet: embedder needs positive dimensions, got inputDim=%d embedDim=%d", inputDim, embedDim)
	}
	return &Embedder{inputDim: inputDim, embedDim: embedDim}, nil
}

// Forward maps [B, inputDim] to [B, embedDim].
func (e *Embedder) Forward(ctx *context.Context, x *Node) *Node {
	x.AssertRank(2)
	if got := x.Shape().Dimensions[1]; got != e.inputDim {
		exceptions.Panicf("unet: embedder input has width %d, expected %d (input shape %s)",
			got, e.inputDim, x.Shape())
	}
	h := layers.Dense(ctx.In("fc1"), x, true, e.embedDim)
	h = gelu(h)
	return layers.Dense(ctx.In("fc2"), h, true, e.embedDim)
}
