// resample.go - Raeumliche Aufloesungswechsel
// Enthält: Upsample (nearest x2 + 3x3 Conv) und Downsample (4x4 Conv, Stride 2)

package unet

import (
	"fmt"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	timage "github.com/gomlx/gomlx/types/tensors/images"
)

// Upsample doubles the spatial resolution with nearest-neighbor interpolation
// and then applies a 3x3 convolution, optionally changing the channel count.
type Upsample struct {
	dim    int
	dimOut int
}

// NewUpsample builds an upsampler from dim to dimOut channels. A dimOut of
// zero keeps the channel count.
func NewUpsample(dim, dimOut int) (*Upsample, error) {
	dimOut = defaultDim(dimOut, dim)
	if dim <= 0 || dimOut <= 0 {
		return nil, fmt.Errorf("unet: upsample needs positive channel counts, got dim=%d dimOut=%d", dim, dimOut)
	}
	return &Upsample{dim: dim, dimOut: dimOut}, nil
}

// Forward maps [B, dim, H, W] to [B, dimOut, 2H, 2W].
func (u *Upsample) Forward(ctx *context.Context, x *Node) *Node {
	assertFeatureMap(x, u.dim)
	x = Interpolate(x, timage.GetUpSampledSizes(x, timage.ChannelsFirst, 2)...).
		Nearest().Done()
	return layers.Convolution(ctx.In("conv"), x).
		Filters(u.dimOut).KernelSize(3).PadSame().
		ChannelsAxis(timage.ChannelsFirst).Done()
}

// Downsample halves the spatial resolution with a single 4x4 convolution of
// stride 2, applying the channel transform in the same fused operation.
type Downsample struct {
	dim    int
	dimOut int
}

// NewDownsample builds a downsampler from dim to dimOut channels. A dimOut of
// zero keeps the channel count.
func NewDownsample(dim, dimOut int) (*Downsample, error) {
	dimOut = defaultDim(dimOut, dim)
	if dim <= 0 || dimOut <= 0 {
		return nil, fmt.Errorf("unet: downsample needs positive channel counts, got dim=%d dimOut=%d", dim, dimOut)
	}
	return &Downsample{dim: dim, dimOut: dimOut}, nil
}

// Forward maps [B, dim, H, W] to [B, dimOut, ceil(H/2), ceil(W/2)]. For even
// H and W the SAME padding works out to one pixel on each side, so the output
// is exactly [B, dimOut, H/2, W/2].
func (d *Downsample) Forward(ctx *context.Context, x *Node) *Node {
	assertFeatureMap(x, d.dim)
	return layers.Convolution(ctx.In("conv"), x).
		Filters(d.dimOut).KernelSize(4).Strides(2).PadSame().
		ChannelsAxis(timage.ChannelsFirst).Done()
}
