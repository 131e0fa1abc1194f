// unet_test.go - Test-Hilfsfunktionen
// Enthält: Ausfuehrung von Block-Graphen auf dem Test-Backend

package unet

import (
	"math"
	"reflect"
	"testing"

	_ "github.com/gomlx/gomlx/backends/simplego"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/x448/float16"
)

// forward1 executes a single-input graph function against a fresh context,
// initializing variables on the first (and only) call.
func forward1(t *testing.T, fn func(ctx *context.Context, x *Node) *Node, input *tensors.Tensor) *tensors.Tensor {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	exec := context.NewExec(backend, context.New(), fn)
	return exec.Call(input)[0]
}

// forward2 is forward1 for graph functions with two inputs.
func forward2(t *testing.T, fn func(ctx *context.Context, x, y *Node) *Node, in1, in2 *tensors.Tensor) *tensors.Tensor {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	exec := context.NewExec(backend, context.New(), fn)
	return exec.Call(in1, in2)[0]
}

// forward3 is forward1 for graph functions with three inputs.
func forward3(t *testing.T, fn func(ctx *context.Context, x, y, z *Node) *Node, in1, in2, in3 *tensors.Tensor) *tensors.Tensor {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	exec := context.NewExec(backend, context.New(), fn)
	return exec.Call(in1, in2, in3)[0]
}

// rampInput builds a float32 tensor of the given dimensions filled with a
// small deterministic ramp.
func rampInput(dims ...int) *tensors.Tensor {
	size := 1
	for _, d := range dims {
		size *= d
	}
	data := make([]float32, size)
	for i := range data {
		data[i] = float32(i%17)*0.25 - 2
	}
	return tensors.FromFlatDataAndDimensions(data, dims...)
}

// flatF64 flattens a (possibly nested) tensor value into float64s.
func flatF64(v any) []float64 {
	var out []float64
	var walk func(any)
	walk = func(v any) {
		switch x := v.(type) {
		case float32:
			out = append(out, float64(x))
		case float64:
			out = append(out, x)
		case float16.Float16:
			out = append(out, float64(x.Float32()))
		default:
			rv := reflect.ValueOf(v)
			if rv.Kind() != reflect.Slice {
				panic("flatF64: unsupported element type")
			}
			for i := 0; i < rv.Len(); i++ {
				walk(rv.Index(i).Interface())
			}
		}
	}
	walk(v)
	return out
}

// allFinite reports whether every element of vs is a finite number.
func allFinite(vs []float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
