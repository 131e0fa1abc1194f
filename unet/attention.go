// attention.go - Self-Attention ueber raeumliche Positionen
// Enthält: LinearAttention (O(N)) und Attention (O(N^2), Cosinus-Aehnlichkeit)

package unet

import (
	"fmt"
	"math"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	timage "github.com/gomlx/gomlx/types/tensors/images"
)

const (
	defaultHeads   = 4
	defaultDimHead = 32

	// defaultAttentionScale replaces the conventional 1/sqrt(headDim) factor
	// when queries and keys are cosine-normalized.
	defaultAttentionScale = 10
)

// qkv projects x with a single bias-free 1x1 convolution to 3*heads*dimHead
// channels and splits the result into query, key and value, each reshaped to
// [B, heads, dimHead, N] with N = H*W.
func qkv(ctx *context.Context, x *Node, heads, dimHead int) (q, k, v *Node) {
	dims := x.Shape().Dimensions
	batch, height, width := dims[0], dims[2], dims[3]
	n := height * width
	hidden := heads * dimHead

	proj := layers.Convolution(ctx.In("to_qkv"), x).
		Filters(3 * hidden).KernelSize(1).PadSame().UseBias(false).
		ChannelsAxis(timage.ChannelsFirst).Done()

	q = Slice(proj, AxisRange(), AxisRange(0, hidden), AxisRange(), AxisRange())
	k = Slice(proj, AxisRange(), AxisRange(hidden, 2*hidden), AxisRange(), AxisRange())
	v = Slice(proj, AxisRange(), AxisRange(2*hidden, 3*hidden), AxisRange(), AxisRange())

	q = Reshape(q, batch, heads, dimHead, n)
	k = Reshape(k, batch, heads, dimHead, n)
	v = Reshape(v, batch, heads, dimHead, n)
	return
}

// LinearAttention approximates self-attention over the N = H*W spatial
// positions at O(N) cost: queries are softmax-normalized over the feature
// axis and keys over the position axis, so keys and values can be contracted
// into a headDim x headDim context matrix before the queries are applied.
// Values are scaled by 1/N in place of a softmax normalizer on the value
// path; this approximation is intentional and kept for parity with the
// reference network.
type LinearAttention struct {
	dim     int
	heads   int
	dimHead int
	norm    *ChanLayerNorm
}

// NewLinearAttention builds a linear attention block over dim channels.
// Zero heads or dimHead default to 4 and 32.
func NewLinearAttention(dim, heads, dimHead int) (*LinearAttention, error) {
	heads = defaultDim(heads, defaultHeads)
	dimHead = defaultDim(dimHead, defaultDimHead)
	if dim <= 0 || heads <= 0 || dimHead <= 0 {
		return nil, fmt.Errorf("unet: linear attention needs positive dims, got dim=%d heads=%d dimHead=%d", dim, heads, dimHead)
	}
	norm, err := NewChanLayerNorm(dim)
	if err != nil {
		return nil, err
	}
	return &LinearAttention{dim: dim, heads: heads, dimHead: dimHead, norm: norm}, nil
}

// Forward maps [B, dim, H, W] to [B, dim, H, W].
func (a *LinearAttention) Forward(ctx *context.Context, x *Node) *Node {
	assertFeatureMap(x, a.dim)
	dims := x.Shape().Dimensions
	batch, height, width := dims[0], dims[2], dims[3]
	n := height * width
	hidden := a.heads * a.dimHead

	q, k, v := qkv(ctx, x, a.heads, a.dimHead)

	// The softmax axes differ on purpose: feature axis for q, position axis
	// for k. That asymmetry is what makes the factored contraction linear.
	q = Softmax(q, 2)
	k = Softmax(k, 3)

	q = MulScalar(q, 1/math.Sqrt(float64(a.dimHead)))
	v = MulScalar(v, 1/float64(n))

	kv := Einsum("bhdn,bhen->bhde", k, v)   // [B, heads, dimHead, dimHead]
	out := Einsum("bhde,bhdn->bhen", kv, q) // [B, heads, dimHead, N]

	out = Reshape(out, batch, hidden, height, width)
	out = layers.Convolution(ctx.In("to_out"), out).
		Filters(a.dim).KernelSize(1).PadSame().
		ChannelsAxis(timage.ChannelsFirst).Done()
	out = a.norm.Forward(ctx.In("norm"), out)
	nanLogger.Trace(out)
	return out
}

// Attention is exact self-attention over the N = H*W spatial positions at
// O(N^2) cost. Queries and keys are L2-normalized along the head dimension
// (cosine similarity) and the similarity matrix is multiplied by a fixed
// scale instead of the conventional 1/sqrt(headDim); the normalization keeps
// logits bounded, which tolerates higher learning rates.
type Attention struct {
	dim     int
	heads   int
	dimHead int
	scale   float64
}

// NewAttention builds a full attention block over dim channels. Zero heads,
// dimHead or scale default to 4, 32 and 10.
func NewAttention(dim, heads, dimHead int, scale float64) (*Attention, error) {
	heads = defaultDim(heads, defaultHeads)
	dimHead = defaultDim(dimHead, defaultDimHead)
	if scale == 0 {
		scale = defaultAttentionScale
	}
	if dim <= 0 || heads <= 0 || dimHead <= 0 || scale <= 0 {
		return nil, fmt.Errorf("unet: attention needs positive dims and scale, got dim=%d heads=%d dimHead=%d scale=%g",
			dim, heads, dimHead, scale)
	}
	return &Attention{dim: dim, heads: heads, dimHead: dimHead, scale: scale}, nil
}

// Forward maps [B, dim, H, W] to [B, dim, H, W].
func (a *Attention) Forward(ctx *context.Context, x *Node) *Node {
	assertFeatureMap(x, a.dim)
	dims := x.Shape().Dimensions
	batch, height, width := dims[0], dims[2], dims[3]
	hidden := a.heads * a.dimHead

	q, k, v := qkv(ctx, x, a.heads, a.dimHead)

	q = l2Normalize(q, 2)
	k = l2Normalize(k, 2)

	sim := MulScalar(Einsum("bhdi,bhdj->bhij", q, k), a.scale) // [B, heads, N, N]
	// Softmax over the key-position axis (the last one).
	attn := Softmax(sim)

	out := Einsum("bhij,bhdj->bhid", attn, v) // [B, heads, N, dimHead]
	out = Transpose(out, 2, 3)                // [B, heads, dimHead, N]

	out = Reshape(out, batch, hidden, height, width)
	out = layers.Convolution(ctx.In("to_out"), out).
		Filters(a.dim).KernelSize(1).PadSame().
		ChannelsAxis(timage.ChannelsFirst).Done()
	nanLogger.Trace(out)
	return out
}
