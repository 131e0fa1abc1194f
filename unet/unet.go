// unet.go - Gemeinsame Typen und Hilfsfunktionen fuer die UNet-Bausteine
// Enthält: Module-Interface, Aktivierungen, Shape-Checks, NaN-Tracing

// Package unet provides the numeric building blocks of a conditional
// image-generation (diffusion) denoising network: normalization layers,
// residual combinators, resampling, time/class embeddings, convolutional
// residual blocks with affine feature modulation, and linear/full attention.
//
// All blocks operate on channels-first feature maps shaped [B, C, H, W] and
// build their forward computation as GoMLX graphs. Learned parameters live in
// the *context.Context passed to Forward, scoped per block, so they are
// created on the first call, reused afterwards, and updated only by an
// external training procedure. The blocks themselves are stateless between
// calls and safe for concurrent use on independent contexts.
//
// The package does not assemble the full UNet, compute losses, or train;
// those belong to the calling pipeline.
package unet

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/nanlogger"
	"github.com/gomlx/gomlx/ml/context"
)

// Module is any unary transformation over a feature map. Blocks that take
// side inputs (time embeddings, class labels) expose richer Forward methods
// and can be adapted with a closure over ModuleFunc.
type Module interface {
	Forward(ctx *context.Context, x *Node) *Node
}

// ModuleFunc adapts a plain graph function to the Module interface.
type ModuleFunc func(ctx *context.Context, x *Node) *Node

// Forward calls f.
func (f ModuleFunc) Forward(ctx *context.Context, x *Node) *Node {
	return f(ctx, x)
}

var nanLogger *nanlogger.NanLogger

// SetNanLogger attaches a NaN logger that traces the output of every block.
// A nil logger (the default) disables tracing.
func SetNanLogger(l *nanlogger.NanLogger) {
	nanLogger = l
}

// defaultDim returns v, or fallback when v is zero. Negative values are left
// for the constructors to reject.
func defaultDim(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// assertFeatureMap panics unless x is a [B, C, H, W] feature map with the
// given channel count.
func assertFeatureMap(x *Node, channels int) {
	x.AssertRank(4)
	if got := x.Shape().Dimensions[1]; got != channels {
		exceptions.Panicf("unet: feature map has %d channels, block expects %d (input shape %s)",
			got, channels, x.Shape())
	}
}

// silu computes x * sigmoid(x).
func silu(x *Node) *Node {
	return Mul(x, Sigmoid(x))
}

// gelu computes x * 0.5 * (1 + erf(x/sqrt(2))).
func gelu(x *Node) *Node {
	return MulScalar(Mul(x, AddScalar(Erf(MulScalar(x, 1.0/math.Sqrt2)), 1)), 0.5)
}

// l2Normalize scales x to unit L2 norm along the given axis. The norm is
// clamped below to keep zero vectors finite.
func l2Normalize(x *Node, axis int) *Node {
	norm := Sqrt(ReduceAndKeep(Square(x), ReduceSum, axis))
	norm = Max(norm, ConstAs(norm, 1e-12))
	return Div(x, norm)
}
