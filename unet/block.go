// block.go - Konvolutionsblock mit optionaler affiner Modulation
// Enthält: ScaleShift und ConvBlock (Conv -> GroupNorm -> Modulation -> SiLU)

package unet

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	timage "github.com/gomlx/gomlx/types/tensors/images"
)

// ScaleShift carries the two halves of an affine feature modulation, each
// shaped [B, C, 1, 1]. Normalized features are transformed as
// x*(scale+1) + shift, so a zero-valued pair is the identity.
type ScaleShift struct {
	Scale *Node
	Shift *Node
}

// ConvBlock applies a 3x3 convolution, group normalization, an optional
// scale-shift modulation, and a SiLU activation.
type ConvBlock struct {
	dim    int
	dimOut int
	norm   *GroupNorm
}

// NewConvBlock builds a convolutional block from dim to dimOut channels with
// grouped normalization over the given group count. A groups value of zero
// defaults to 8; dimOut must be divisible by it.
func NewConvBlock(dim, dimOut, groups int) (*ConvBlock, error) {
	groups = defaultDim(groups, 8)
	if dim <= 0 || dimOut <= 0 {
		return nil, fmt.Errorf("unet: conv block needs positive channel counts, got dim=%d dimOut=%d", dim, dimOut)
	}
	norm, err := NewGroupNorm(groups, dimOut)
	if err != nil {
		return nil, err
	}
	return &ConvBlock{dim: dim, dimOut: dimOut, norm: norm}, nil
}

// Forward maps [B, dim, H, W] to [B, dimOut, H, W]. scaleShift is optional;
// when present both halves must be [B, dimOut, 1, 1] and are applied to the
// normalized features before the activation.
func (b *ConvBlock) Forward(ctx *context.Context, x *Node, scaleShift *ScaleShift) *Node {
	assertFeatureMap(x, b.dim)
	batch := x.Shape().Dimensions[0]

	h := layers.Convolution(ctx.In("proj"), x).
		Filters(b.dimOut).KernelSize(3).PadSame().
		ChannelsAxis(timage.ChannelsFirst).Done()
	h = b.norm.Forward(ctx.In("norm"), h)

	if scaleShift != nil {
		if scaleShift.Scale == nil || scaleShift.Shift == nil {
			exceptions.Panicf("unet: conv block received a partial scale-shift pair")
		}
		scaleShift.Scale.AssertDims(batch, b.dimOut, 1, 1)
		scaleShift.Shift.AssertDims(batch, b.dimOut, 1, 1)
		h = Add(Mul(h, AddScalar(scaleShift.Scale, 1)), scaleShift.Shift)
	}

	return silu(h)
}
