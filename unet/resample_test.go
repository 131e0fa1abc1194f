// resample_test.go - Tests fuer Upsample und Downsample

package unet

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDownsampleHalvesSpatialDims(t *testing.T) {
	down, err := NewDownsample(3, 0)
	require.NoError(t, err)

	out := forward1(t, func(ctx *context.Context, x *Node) *Node {
		return down.Forward(ctx, x)
	}, rampInput(2, 3, 8, 8))

	if diff := cmp.Diff([]int{2, 3, 4, 4}, out.Shape().Dimensions); diff != "" {
		t.Errorf("unexpected downsample shape (-want +got):\n%s", diff)
	}
}

func TestUpsampleDoublesSpatialDims(t *testing.T) {
	up, err := NewUpsample(3, 6)
	require.NoError(t, err)

	out := forward1(t, func(ctx *context.Context, x *Node) *Node {
		return up.Forward(ctx, x)
	}, rampInput(1, 3, 8, 8))

	if diff := cmp.Diff([]int{1, 6, 16, 16}, out.Shape().Dimensions); diff != "" {
		t.Errorf("unexpected upsample shape (-want +got):\n%s", diff)
	}
}

func TestUpsampleDownsampleRoundTrip(t *testing.T) {
	// For even H and W, upsample(downsample(x)) restores the spatial
	// dimensions (not the values).
	down, err := NewDownsample(3, 0)
	require.NoError(t, err)
	up, err := NewUpsample(3, 0)
	require.NoError(t, err)

	input := rampInput(2, 3, 10, 6)
	out := forward1(t, func(ctx *context.Context, x *Node) *Node {
		return up.Forward(ctx.In("up"), down.Forward(ctx.In("down"), x))
	}, input)

	require.Equal(t, input.Shape().Dimensions, out.Shape().Dimensions)
}

func TestResampleConstructionErrors(t *testing.T) {
	_, err := NewUpsample(0, 4)
	require.Error(t, err)
	_, err = NewDownsample(-1, 0)
	require.Error(t, err)
}
