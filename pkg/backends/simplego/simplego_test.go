/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package simplego

import (
	"testing"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackend(t *testing.T) backends.Backend {
	t.Helper()
	return New("")
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, backends.RegisteredNames(), BackendName)
	b := backends.NewWithConfig(BackendName)
	assert.Equal(t, BackendName, b.Name())
}

func TestElementwiseAndBroadcast(t *testing.T) {
	ops := testBackend(t).Ops()
	a := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	b := tensors.FromFlatAndDimensions([]float32{10, 20}, 2)

	sum := ops.Add(a, b) // suffix broadcast: [2,2] + [2]
	assert.Equal(t, []int{2, 2}, sum.Shape().Dimensions)
	assert.InDeltaSlice(t, []float64{11, 22, 13, 24}, sum.Float64Slice(), 1e-6)

	scaled := ops.Mul(a, tensors.FromScalar[float32](2))
	assert.InDeltaSlice(t, []float64{2, 4, 6, 8}, scaled.Float64Slice(), 1e-6)

	diff := ops.Sub(a, a)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, diff.Float64Slice(), 1e-6)

	ratio := ops.Div(b, tensors.FromScalar[float32](10))
	assert.InDeltaSlice(t, []float64{1, 2}, ratio.Float64Slice(), 1e-6)
}

func TestBroadcastMismatch(t *testing.T) {
	ops := testBackend(t).Ops()
	a := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	b := tensors.FromFlatAndDimensions([]float32{1, 2, 3}, 3)
	err := exceptions.Call(func() { ops.Add(a, b) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
}

func TestMatMul(t *testing.T) {
	ops := testBackend(t).Ops()
	a := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := tensors.FromFlatAndDimensions([]float32{7, 8, 9, 10, 11, 12}, 3, 2)
	c := ops.MatMul(a, b)
	require.Equal(t, []int{2, 2}, c.Shape().Dimensions)
	assert.InDeltaSlice(t, []float64{58, 64, 139, 154}, c.Float64Slice(), 1e-5)

	transposed := ops.Transpose(a)
	assert.Equal(t, []int{3, 2}, transposed.Shape().Dimensions)
	assert.InDeltaSlice(t, []float64{1, 4, 2, 5, 3, 6}, transposed.Float64Slice(), 1e-6)
}

func TestReshapeInference(t *testing.T) {
	ops := testBackend(t).Ops()
	a := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	r := ops.Reshape(a, -1, 2)
	assert.Equal(t, []int{3, 2}, r.Shape().Dimensions)

	err := exceptions.Call(func() { ops.Reshape(a, 4, -1) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
}

func TestSliceConcatGatherReverse(t *testing.T) {
	ops := testBackend(t).Ops()
	a := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 3, 2)

	head := ops.Slice(a, 0, 2)
	assert.Equal(t, []int{2, 2}, head.Shape().Dimensions)
	assert.InDeltaSlice(t, []float64{1, 2, 3, 4}, head.Float64Slice(), 1e-6)

	joined := ops.Concat(0, head, ops.Slice(a, 2, 3))
	assert.Equal(t, []int{3, 2}, joined.Shape().Dimensions)
	assert.InDeltaSlice(t, []float64{1, 2, 3, 4, 5, 6}, joined.Float64Slice(), 1e-6)

	indices := tensors.FromFlatAndDimensions([]int32{2, 0}, 2)
	gathered := ops.Gather(a, indices)
	assert.Equal(t, []int{2, 2}, gathered.Shape().Dimensions)
	assert.InDeltaSlice(t, []float64{5, 6, 1, 2}, gathered.Float64Slice(), 1e-6)

	reversed := ops.Reverse(a, 0)
	assert.InDeltaSlice(t, []float64{5, 6, 3, 4, 1, 2}, reversed.Float64Slice(), 1e-6)
}

func TestOneHotAndArgMax(t *testing.T) {
	ops := testBackend(t).Ops()
	indices := tensors.FromFlatAndDimensions([]int32{1, 0, 2}, 3)
	oneHot := ops.OneHot(indices, 3, dtypes.Float32)
	require.Equal(t, []int{3, 3}, oneHot.Shape().Dimensions)
	assert.InDeltaSlice(t, []float64{0, 1, 0, 1, 0, 0, 0, 0, 1}, oneHot.Float64Slice(), 1e-6)

	back := ops.ArgMax(oneHot)
	require.Equal(t, dtypes.Int32, back.DType())
	assert.Equal(t, []float64{1, 0, 2}, back.Float64Slice())
}

func TestReductions(t *testing.T) {
	ops := testBackend(t).Ops()
	a := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	assert.InDelta(t, 10.0, ops.ReduceSumAll(a).Float64Scalar(), 1e-6)
	assert.InDelta(t, 2.5, ops.ReduceMeanAll(a).Float64Scalar(), 1e-6)

	cols := ops.ReduceSum(a, 0)
	assert.Equal(t, []int{2}, cols.Shape().Dimensions)
	assert.InDeltaSlice(t, []float64{4, 6}, cols.Float64Slice(), 1e-6)

	rows := ops.ReduceSum(a, 1)
	assert.InDeltaSlice(t, []float64{3, 7}, rows.Float64Slice(), 1e-6)
}

func TestSoftmax(t *testing.T) {
	ops := testBackend(t).Ops()
	a := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 1, 2, 3}, 2, 3)
	sm := ops.Softmax(a)
	rows := sm.Float64Slice()
	assert.InDelta(t, 1.0, rows[0]+rows[1]+rows[2], 1e-6)
	assert.InDelta(t, 0.66524, rows[2], 1e-4)

	logSm := ops.LogSoftmax(a).Float64Slice()
	for i := range rows {
		assert.InDelta(t, rows[i], expApprox(logSm[i]), 1e-5)
	}
}

func expApprox(x float64) float64 {
	// e^x via the backend-free math of the test: keep the dependency surface small.
	result := 1.0
	term := 1.0
	for i := 1; i < 30; i++ {
		term *= x / float64(i)
		result += term
	}
	return result
}

func TestUnaryOps(t *testing.T) {
	ops := testBackend(t).Ops()
	a := tensors.FromFlatAndDimensions([]float32{-1, 0, 4}, 3)
	assert.InDeltaSlice(t, []float64{0, 0, 4}, ops.Relu(a).Float64Slice(), 1e-6)
	assert.InDeltaSlice(t, []float64{1, 0, -4}, ops.Neg(a).Float64Slice(), 1e-6)
	assert.InDeltaSlice(t, []float64{2},
		ops.Sqrt(tensors.FromFlatAndDimensions([]float32{4}, 1)).Float64Slice(), 1e-6)
	assert.InDelta(t, 0.5, ops.Sigmoid(tensors.FromScalar[float32](0)).Float64Scalar(), 1e-6)
	assert.InDelta(t, 0.0, ops.Tanh(tensors.FromScalar[float32](0)).Float64Scalar(), 1e-6)
	assert.InDelta(t, 1.0, ops.Exp(tensors.FromScalar[float32](0)).Float64Scalar(), 1e-6)
	assert.InDelta(t, 0.0, ops.Log(tensors.FromScalar[float32](1)).Float64Scalar(), 1e-6)
}

func TestCast(t *testing.T) {
	ops := testBackend(t).Ops()
	a := tensors.FromFlatAndDimensions([]float32{1.7, -2.2}, 2)
	asInt := ops.Cast(a, dtypes.Int32)
	require.Equal(t, dtypes.Int32, asInt.DType())
	assert.Equal(t, []float64{1, -2}, asInt.Float64Slice())
}

func TestGradientsLinear(t *testing.T) {
	backend := testBackend(t)
	x := tensors.FromFlatAndDimensions([]float32{3}, 1)
	// f(x) = x*x -> df/dx = 2x = 6.
	out, grads := backend.Gradients(func(ops backends.Ops) *tensors.Tensor {
		return ops.ReduceSumAll(ops.Mul(x, x))
	}, []*tensors.Tensor{x})
	assert.InDelta(t, 9.0, out.Float64Scalar(), 1e-6)
	require.Len(t, grads, 1)
	assert.InDeltaSlice(t, []float64{6}, grads[0].Float64Slice(), 1e-5)
}

func TestGradientsMatMulChain(t *testing.T) {
	backend := testBackend(t)
	x := tensors.FromFlatAndDimensions([]float32{1, 2}, 1, 2)
	w := tensors.FromFlatAndDimensions([]float32{0.5, -0.5, 1, 2}, 2, 2)
	b := tensors.FromFlatAndDimensions([]float32{0.1, 0.2}, 2)

	// loss = sum(x·w + b); d loss / d w = x broadcast over columns, d loss / d b = ones.
	out, grads := backend.Gradients(func(ops backends.Ops) *tensors.Tensor {
		return ops.ReduceSumAll(ops.Add(ops.MatMul(x, w), b))
	}, []*tensors.Tensor{w, b})
	assert.InDelta(t, 6.3, out.Float64Scalar(), 1e-5)
	require.Len(t, grads, 2)
	assert.InDeltaSlice(t, []float64{1, 1, 2, 2}, grads[0].Float64Slice(), 1e-5)
	assert.InDeltaSlice(t, []float64{1, 1}, grads[1].Float64Slice(), 1e-5)
}

func TestGradientsSoftmaxCrossEntropy(t *testing.T) {
	backend := testBackend(t)
	logits := tensors.FromFlatAndDimensions([]float32{1, 2, 3}, 1, 3)
	labels := tensors.FromFlatAndDimensions([]float32{0, 0, 1}, 1, 3)

	// loss = -sum(labels * logSoftmax(logits)); gradient is softmax - labels.
	out, grads := backend.Gradients(func(ops backends.Ops) *tensors.Tensor {
		return ops.Neg(ops.ReduceSumAll(ops.Mul(labels, ops.LogSoftmax(logits))))
	}, []*tensors.Tensor{logits})
	assert.InDelta(t, 0.40761, out.Float64Scalar(), 1e-4)
	require.Len(t, grads, 1)
	assert.InDeltaSlice(t, []float64{0.09003, 0.24473, -0.33476}, grads[0].Float64Slice(), 1e-4)
}

func TestGradientsUnreachedInput(t *testing.T) {
	backend := testBackend(t)
	x := tensors.FromFlatAndDimensions([]float32{1, 2}, 2)
	unused := tensors.FromFlatAndDimensions([]float32{5}, 1)
	_, grads := backend.Gradients(func(ops backends.Ops) *tensors.Tensor {
		return ops.ReduceSumAll(x)
	}, []*tensors.Tensor{unused})
	require.Len(t, grads, 1)
	assert.InDeltaSlice(t, []float64{0}, grads[0].Float64Slice(), 1e-6, "no path to output gives zero gradient")
}

func TestGradientsStayUsableAfterBackward(t *testing.T) {
	backend := testBackend(t)
	x := tensors.FromValue(float32(3))
	c := tensors.FromValue(float32(5))
	// Add's gradient passes the upstream tensor through unchanged to both operands; the
	// returned gradients must still be independent of the seed released by the backward
	// pass.
	out, grads := backend.Gradients(func(ops backends.Ops) *tensors.Tensor {
		return ops.Add(x, c)
	}, []*tensors.Tensor{x, c})
	assert.InDelta(t, 8.0, out.Float64Scalar(), 1e-6)
	require.Len(t, grads, 2)
	require.False(t, grads[0].IsFinalized())
	require.False(t, grads[1].IsFinalized())
	assert.NotSame(t, grads[0], grads[1])
	assert.InDelta(t, 1.0, grads[0].Float64Scalar(), 1e-6)
	assert.InDelta(t, 1.0, grads[1].Float64Scalar(), 1e-6)

	// Same tensor fed twice: the two pass-through gradients accumulate into one.
	_, grads = backend.Gradients(func(ops backends.Ops) *tensors.Tensor {
		return ops.Add(x, x)
	}, []*tensors.Tensor{x})
	require.Len(t, grads, 1)
	require.False(t, grads[0].IsFinalized())
	assert.InDelta(t, 2.0, grads[0].Float64Scalar(), 1e-6)
}

func TestGradientsNonScalarOutput(t *testing.T) {
	backend := testBackend(t)
	x := tensors.FromFlatAndDimensions([]float32{1, 2}, 2)
	err := exceptions.Call(func() {
		backend.Gradients(func(ops backends.Ops) *tensors.Tensor {
			return ops.Mul(x, x)
		}, []*tensors.Tensor{x})
	})
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
}
