// norm.go - Normalisierungs-Layer
// Enthält: ChanLayerNorm (scale-only, Kanal-Achse) und GroupNorm

package unet

import (
	"fmt"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// groupNormEps matches the conventional grouped-normalization epsilon.
const groupNormEps = 1e-5

// chanLayerNormEps picks the normalization epsilon by dtype: float32 gets
// 1e-5, lower-precision formats get 1e-3 for headroom before the rsqrt.
func chanLayerNormEps(dt dtypes.DType) float64 {
	if dt == dtypes.Float32 {
		return 1e-5
	}
	return 1e-3
}

// ChanLayerNorm normalizes each sample at each spatial location across the
// channel axis, using the biased variance, and applies a learned per-channel
// gain (no shift). The epsilon is conditioned on the input dtype: 1e-5 for
// float32 and 1e-3 for lower-precision formats, which need more headroom
// before the rsqrt.
type ChanLayerNorm struct {
	dim int
}

// NewChanLayerNorm returns a channel layer norm for feature maps with dim
// channels.
func NewChanLayerNorm(dim int) (*ChanLayerNorm, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("unet: channel layer norm needs a positive channel count, got %d", dim)
	}
	return &ChanLayerNorm{dim: dim}, nil
}

// Forward normalizes x ([B, C, H, W]) across the channel axis.
func (ln *ChanLayerNorm) Forward(ctx *context.Context, x *Node) *Node {
	assertFeatureMap(x, ln.dim)

	eps := chanLayerNormEps(x.DType())
	mean := ReduceAndKeep(x, ReduceMean, 1)
	centered := Sub(x, mean)
	// Biased variance: mean of squared deviations, no Bessel correction.
	variance := ReduceAndKeep(Square(centered), ReduceMean, 1)
	normed := Div(centered, Sqrt(AddScalar(variance, eps)))

	gain := ctx.WithInitializer(initializers.One).
		VariableWithShape("gain", shapes.Make(x.DType(), 1, ln.dim, 1, 1))
	return Mul(normed, gain.ValueGraph(x.Graph()))
}

// GroupNorm partitions channels into equal-size groups and normalizes each
// group independently over its channel and spatial extent per sample, then
// applies a learned per-channel affine transform.
type GroupNorm struct {
	groups   int
	channels int
}

// NewGroupNorm returns a group norm over channels split into groups. The
// channel count must be divisible by the group count.
func NewGroupNorm(groups, channels int) (*GroupNorm, error) {
	if groups <= 0 || channels <= 0 {
		return nil, fmt.Errorf("unet: group norm needs positive groups and channels, got groups=%d channels=%d", groups, channels)
	}
	if channels%groups != 0 {
		return nil, fmt.Errorf("unet: group norm channels (%d) not divisible by groups (%d)", channels, groups)
	}
	return &GroupNorm{groups: groups, channels: channels}, nil
}

// Forward normalizes x ([B, C, H, W]) per group.
func (gn *GroupNorm) Forward(ctx *context.Context, x *Node) *Node {
	assertFeatureMap(x, gn.channels)
	dims := x.Shape().Dimensions
	batch, height, width := dims[0], dims[2], dims[3]
	g := x.Graph()

	grouped := Reshape(x, batch, gn.groups, gn.channels/gn.groups, height, width)
	mean := ReduceAndKeep(grouped, ReduceMean, 2, 3, 4)
	centered := Sub(grouped, mean)
	variance := ReduceAndKeep(Square(centered), ReduceMean, 2, 3, 4)
	normed := Div(centered, Sqrt(AddScalar(variance, groupNormEps)))
	normed = Reshape(normed, batch, gn.channels, height, width)

	gain := ctx.WithInitializer(initializers.One).
		VariableWithShape("gain", shapes.Make(x.DType(), 1, gn.channels, 1, 1))
	bias := ctx.WithInitializer(initializers.Zero).
		VariableWithShape("bias", shapes.Make(x.DType(), 1, gn.channels, 1, 1))
	return Add(Mul(normed, gain.ValueGraph(g)), bias.ValueGraph(g))
}
