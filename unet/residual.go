// residual.go - Kombinatoren fuer Skip-Verbindungen
// Enthält: Residual (fn(x) + x) und PreNorm (Norm vor fn)

package unet

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
)

// Residual wraps any Module fn and computes fn(x) + x. The wrapped module
// must preserve the input shape exactly; a mismatch is a contract violation.
type Residual struct {
	fn Module
}

// NewResidual wraps fn in an additive skip connection.
func NewResidual(fn Module) (*Residual, error) {
	if fn == nil {
		return nil, fmt.Errorf("unet: residual wrapper needs a non-nil module")
	}
	return &Residual{fn: fn}, nil
}

// Forward computes fn(x) + x.
func (r *Residual) Forward(ctx *context.Context, x *Node) *Node {
	out := r.fn.Forward(ctx, x)
	if out.DType() != x.DType() || !slices.Equal(out.Shape().Dimensions, x.Shape().Dimensions) {
		exceptions.Panicf("unet: residual-wrapped module changed shape from %s to %s",
			x.Shape(), out.Shape())
	}
	return Add(out, x)
}

// PreNorm applies ChanLayerNorm to the input before delegating to the
// wrapped module. Variables of the norm live under the "norm" scope of the
// context handed to Forward; the wrapped module sees the context unchanged.
type PreNorm struct {
	norm *ChanLayerNorm
	fn   Module
}

// NewPreNorm wraps fn so that its input is channel-layer-normalized first.
// dim is the expected channel count of the input.
func NewPreNorm(dim int, fn Module) (*PreNorm, error) {
	if fn == nil {
		return nil, fmt.Errorf("unet: prenorm wrapper needs a non-nil module")
	}
	norm, err := NewChanLayerNorm(dim)
	if err != nil {
		return nil, err
	}
	return &PreNorm{norm: norm, fn: fn}, nil
}

// Forward computes fn(norm(x)).
func (p *PreNorm) Forward(ctx *context.Context, x *Node) *Node {
	return p.fn.Forward(ctx, p.norm.Forward(ctx.In("norm"), x))
}
