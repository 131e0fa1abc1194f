// resnet.go - Residual-Bloecke mit Zeit- und Klassen-Konditionierung
// Enthält: ResnetBlock und ClassConditionedResnetBlock

package unet

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	timage "github.com/gomlx/gomlx/types/tensors/images"
)

// ResnetBlockConfig configures a ResnetBlock. DimOut and Groups of zero
// default to Dim and 8 respectively. A TimeEmbDim of zero disables the
// time-conditioning path.
type ResnetBlockConfig struct {
	Dim        int
	DimOut     int
	TimeEmbDim int
	Groups     int
}

// ResnetBlock chains two convolutional blocks with a shape-matching additive
// skip path. When configured with a time embedding dimension, the embedding
// is projected to 2*DimOut values and split into the scale-shift pair that
// modulates the first block.
type ResnetBlock struct {
	dim        int
	dimOut     int
	timeEmbDim int

	block1 *ConvBlock
	block2 *ConvBlock
}

// NewResnetBlock builds a residual block from cfg.
func NewResnetBlock(cfg ResnetBlockConfig) (*ResnetBlock, error) {
	cfg.DimOut = defaultDim(cfg.DimOut, cfg.Dim)
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("unet: resnet block needs a positive input channel count, got %d", cfg.Dim)
	}
	if cfg.TimeEmbDim < 0 {
		return nil, fmt.Errorf("unet: resnet block time embedding dimension must not be negative, got %d", cfg.TimeEmbDim)
	}
	block1, err := NewConvBlock(cfg.Dim, cfg.DimOut, cfg.Groups)
	if err != nil {
		return nil, err
	}
	block2, err := NewConvBlock(cfg.DimOut, cfg.DimOut, cfg.Groups)
	if err != nil {
		return nil, err
	}
	return &ResnetBlock{
		dim:        cfg.Dim,
		dimOut:     cfg.DimOut,
		timeEmbDim: cfg.TimeEmbDim,
		block1:     block1,
		block2:     block2,
	}, nil
}

// Forward maps [B, Dim, H, W] to [B, DimOut, H, W]. timeEmb ([B, TimeEmbDim])
// is required when the block was configured with a time embedding dimension
// and must be nil otherwise.
func (rb *ResnetBlock) Forward(ctx *context.Context, x *Node, timeEmb *Node) *Node {
	assertFeatureMap(x, rb.dim)
	batch := x.Shape().Dimensions[0]

	var scaleShift *ScaleShift
	if rb.timeEmbDim > 0 {
		if timeEmb == nil {
			exceptions.Panicf("unet: resnet block configured with time embedding dim %d but none given", rb.timeEmbDim)
		}
		timeEmb.AssertDims(batch, rb.timeEmbDim)
		// Nonlinearity then projection to exactly 2*DimOut, split in half
		// along the channel axis into scale and shift.
		h := silu(timeEmb)
		h = layers.Dense(ctx.In("time_mlp"), h, true, 2*rb.dimOut)
		h = Reshape(h, batch, 2*rb.dimOut, 1, 1)
		scaleShift = &ScaleShift{
			Scale: Slice(h, AxisRange(), AxisRange(0, rb.dimOut), AxisRange(), AxisRange()),
			Shift: Slice(h, AxisRange(), AxisRange(rb.dimOut, 2*rb.dimOut), AxisRange(), AxisRange()),
		}
	} else if timeEmb != nil {
		exceptions.Panicf("unet: resnet block not configured for time embeddings but one was given (shape %s)", timeEmb.Shape())
	}

	h := rb.block1.Forward(ctx.In("block1"), x, scaleShift)
	h = rb.block2.Forward(ctx.In("block2"), h, nil)

	skip := x
	if rb.dim != rb.dimOut {
		skip = layers.Convolution(ctx.In("res_conv"), x).
			Filters(rb.dimOut).KernelSize(1).PadSame().
			ChannelsAxis(timage.ChannelsFirst).Done()
	}
	out := Add(h, skip)
	nanLogger.Trace(out)
	return out
}

// ClassConditionedResnetBlockConfig configures a ClassConditionedResnetBlock.
// Dim is the channel count of the incoming feature map, before the class
// embedding is concatenated.
type ClassConditionedResnetBlockConfig struct {
	Dim           int
	DimOut        int
	NumClasses    int
	ClassEmbedDim int
	TimeEmbDim    int
	Groups        int
}

// ClassConditionedResnetBlock owns a base ResnetBlock and a class embedding
// network. The class embedding is broadcast over the spatial dimensions and
// concatenated to the feature map along the channel axis before delegating,
// so the base block sees Dim+ClassEmbedDim input channels.
type ClassConditionedResnetBlock struct {
	dim           int
	numClasses    int
	classEmbedDim int

	resnet   *ResnetBlock
	classMLP *Embedder
}

// NewClassConditionedResnetBlock builds a class-conditioned residual block
// from cfg.
func NewClassConditionedResnetBlock(cfg ClassConditionedResnetBlockConfig) (*ClassConditionedResnetBlock, error) {
	if cfg.NumClasses <= 0 || cfg.ClassEmbedDim <= 0 {
		return nil, fmt.Errorf("unet: class-conditioned resnet block needs positive numClasses and classEmbedDim, got %d and %d",
			cfg.NumClasses, cfg.ClassEmbedDim)
	}
	resnet, err := NewResnetBlock(ResnetBlockConfig{
		Dim:        cfg.Dim + cfg.ClassEmbedDim,
		DimOut:     cfg.DimOut,
		TimeEmbDim: cfg.TimeEmbDim,
		Groups:     cfg.Groups,
	})
	if err != nil {
		return nil, err
	}
	classMLP, err := NewEmbedder(cfg.NumClasses, cfg.ClassEmbedDim)
	if err != nil {
		return nil, err
	}
	return &ClassConditionedResnetBlock{
		dim:           cfg.Dim,
		numClasses:    cfg.NumClasses,
		classEmbedDim: cfg.ClassEmbedDim,
		resnet:        resnet,
		classMLP:      classMLP,
	}, nil
}

// Forward maps [B, Dim, H, W] to [B, DimOut, H, W]. classes is the label
// encoding shaped [B, NumClasses] and is required; timeEmb follows the base
// block's contract.
func (cb *ClassConditionedResnetBlock) Forward(ctx *context.Context, x, timeEmb, classes *Node) *Node {
	assertFeatureMap(x, cb.dim)
	dims := x.Shape().Dimensions
	batch, height, width := dims[0], dims[2], dims[3]

	if classes == nil {
		exceptions.Panicf("unet: class-conditioned resnet block needs a class input")
	}
	classes.AssertDims(batch, cb.numClasses)

	emb := cb.classMLP.Forward(ctx.In("class_mlp"), classes) // [B, E]
	emb = Reshape(emb, batch, cb.classEmbedDim, 1, 1)
	emb = BroadcastToDims(emb, batch, cb.classEmbedDim, height, width)

	h := Concatenate([]*Node{x, emb}, 1) // [B, Dim+E, H, W]
	return cb.resnet.Forward(ctx.In("resnet"), h, timeEmb)
}
