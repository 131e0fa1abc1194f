// resnet_test.go - Tests fuer die Residual-Bloecke

package unet

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestResnetBlockTimeConditioned(t *testing.T) {
	block, err := NewResnetBlock(ResnetBlockConfig{Dim: 3, DimOut: 8, TimeEmbDim: 16})
	require.NoError(t, err)

	out := forward2(t, func(ctx *context.Context, x, timeEmb *Node) *Node {
		return block.Forward(ctx, x, timeEmb)
	}, rampInput(2, 3, 32, 32), rampInput(2, 16))

	if diff := cmp.Diff([]int{2, 8, 32, 32}, out.Shape().Dimensions); diff != "" {
		t.Errorf("unexpected resnet output shape (-want +got):\n%s", diff)
	}
	require.True(t, allFinite(flatF64(out.Value())))
}

func TestResnetBlockIdentitySkip(t *testing.T) {
	block, err := NewResnetBlock(ResnetBlockConfig{Dim: 8})
	require.NoError(t, err)

	out := forward1(t, func(ctx *context.Context, x *Node) *Node {
		return block.Forward(ctx, x, nil)
	}, rampInput(2, 8, 6, 6))

	require.Equal(t, []int{2, 8, 6, 6}, out.Shape().Dimensions)
}

func TestResnetBlockTimeEmbContract(t *testing.T) {
	conditioned, err := NewResnetBlock(ResnetBlockConfig{Dim: 3, DimOut: 8, TimeEmbDim: 16})
	require.NoError(t, err)

	// Configured for time conditioning but none given.
	require.Panics(t, func() {
		forward1(t, func(ctx *context.Context, x *Node) *Node {
			return conditioned.Forward(ctx, x, nil)
		}, rampInput(2, 3, 8, 8))
	})

	unconditioned, err := NewResnetBlock(ResnetBlockConfig{Dim: 3, DimOut: 8})
	require.NoError(t, err)

	// Not configured for time conditioning but an embedding was given.
	require.Panics(t, func() {
		forward2(t, func(ctx *context.Context, x, timeEmb *Node) *Node {
			return unconditioned.Forward(ctx, x, timeEmb)
		}, rampInput(2, 3, 8, 8), rampInput(2, 16))
	})
}

func TestResnetBlockConstructionErrors(t *testing.T) {
	_, err := NewResnetBlock(ResnetBlockConfig{Dim: 0})
	require.Error(t, err)
	_, err = NewResnetBlock(ResnetBlockConfig{Dim: 3, TimeEmbDim: -1})
	require.Error(t, err)
}

func TestClassConditionedResnetBlock(t *testing.T) {
	block, err := NewClassConditionedResnetBlock(ClassConditionedResnetBlockConfig{
		Dim:           3,
		DimOut:        8,
		NumClasses:    5,
		ClassEmbedDim: 5,
		TimeEmbDim:    16,
	})
	require.NoError(t, err)

	// The concatenated class embedding widens the base block's input by
	// exactly ClassEmbedDim channels.
	require.Equal(t, 8, block.resnet.dim)

	classes := tensors.FromFlatDataAndDimensions([]float32{
		1, 0, 0, 0, 0,
		0, 0, 1, 0, 0,
	}, 2, 5)
	out := forward3(t, func(ctx *context.Context, x, timeEmb, labels *Node) *Node {
		return block.Forward(ctx, x, timeEmb, labels)
	}, rampInput(2, 3, 16, 16), rampInput(2, 16), classes)

	require.Equal(t, []int{2, 8, 16, 16}, out.Shape().Dimensions)
	require.True(t, allFinite(flatF64(out.Value())))
}

func TestClassConditionedResnetBlockNeedsClasses(t *testing.T) {
	block, err := NewClassConditionedResnetBlock(ClassConditionedResnetBlockConfig{
		Dim:           3,
		DimOut:        8,
		NumClasses:    5,
		ClassEmbedDim: 5,
	})
	require.NoError(t, err)

	require.Panics(t, func() {
		forward1(t, func(ctx *context.Context, x *Node) *Node {
			return block.Forward(ctx, x, nil, nil)
		}, rampInput(2, 3, 8, 8))
	})
}

func TestClassConditionedResnetBlockConstructionErrors(t *testing.T) {
	_, err := NewClassConditionedResnetBlock(ClassConditionedResnetBlockConfig{
		Dim: 3, DimOut: 8, NumClasses: 0, ClassEmbedDim: 4,
	})
	require.Error(t, err)
	_, err = NewClassConditionedResnetBlock(ClassConditionedResnetBlockConfig{
		Dim: 3, DimOut: 8, NumClasses: 5, ClassEmbedDim: 0,
	})
	require.Error(t, err)
}
