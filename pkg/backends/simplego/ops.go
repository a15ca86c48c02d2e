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
	"math"
	"slices"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
)

// execOps is the eager backends.Ops implementation: kernels computed on the spot, in
// float64 internally, results cast back to the operand dtype.
type execOps struct{}

var _ backends.Ops = execOps{}

// materialize builds a tensor of the given dtype/dimensions from float64 values.
func materialize(dtype dtypes.DType, dimensions []int, values []float64) *tensors.Tensor {
	t := tensors.FromFlatAndDimensions(values, dimensions...)
	if dtype == dtypes.Float64 {
		return t
	}
	out := t.CastTo(dtype)
	t.Finalize()
	return out
}

// isSuffixOf reports whether small's dimensions equal a suffix of large's. A scalar is a
// suffix of everything.
func isSuffixOf(small, large shapes.Shape) bool {
	if small.Rank() > large.Rank() {
		return false
	}
	offset := large.Rank() - small.Rank()
	return slices.Equal(small.Dimensions, large.Dimensions[offset:])
}

func (execOps) binary(name string, a, b *tensors.Tensor, fn func(x, y float64) float64) *tensors.Tensor {
	if a.DType() != b.DType() {
		exceptions.PanicValuef("%s: dtypes must match, got %s and %s", name, a.DType(), b.DType())
	}
	av, bv := a.Float64Slice(), b.Float64Slice()
	switch {
	case a.Shape().Equal(b.Shape()):
		out := make([]float64, len(av))
		for ii := range av {
			out[ii] = fn(av[ii], bv[ii])
		}
		return materialize(a.DType(), a.Shape().Dimensions, out)
	case isSuffixOf(b.Shape(), a.Shape()):
		out := make([]float64, len(av))
		for ii := range av {
			out[ii] = fn(av[ii], bv[ii%len(bv)])
		}
		return materialize(a.DType(), a.Shape().Dimensions, out)
	case isSuffixOf(a.Shape(), b.Shape()):
		out := make([]float64, len(bv))
		for ii := range bv {
			out[ii] = fn(av[ii%len(av)], bv[ii])
		}
		return materialize(a.DType(), b.Shape().Dimensions, out)
	}
	exceptions.PanicValuef("%s: shapes %s and %s are not broadcastable (same shape, scalar, or suffix)",
		name, a.Shape(), b.Shape())
	return nil
}

func (ops execOps) Add(a, b *tensors.Tensor) *tensors.Tensor {
	return ops.binary("Add", a, b, func(x, y float64) float64 { return x + y })
}

func (ops execOps) Sub(a, b *tensors.Tensor) *tensors.Tensor {
	return ops.binary("Sub", a, b, func(x, y float64) float64 { return x - y })
}

func (ops execOps) Mul(a, b *tensors.Tensor) *tensors.Tensor {
	return ops.binary("Mul", a, b, func(x, y float64) float64 { return x * y })
}

func (ops execOps) Div(a, b *tensors.Tensor) *tensors.Tensor {
	return ops.binary("Div", a, b, func(x, y float64) float64 { return x / y })
}

func (execOps) MatMul(a, b *tensors.Tensor) *tensors.Tensor {
	if a.Rank() != 2 || b.Rank() != 2 {
		exceptions.PanicValuef("MatMul: operands must be rank-2, got %s and %s", a.Shape(), b.Shape())
	}
	if a.DType() != b.DType() {
		exceptions.PanicValuef("MatMul: dtypes must match, got %s and %s", a.DType(), b.DType())
	}
	m, k := a.Shape().Dim(0), a.Shape().Dim(1)
	k2, n := b.Shape().Dim(0), b.Shape().Dim(1)
	if k != k2 {
		exceptions.PanicValuef("MatMul: inner dimensions must match, got %s and %s", a.Shape(), b.Shape())
	}
	av, bv := a.Float64Slice(), b.Float64Slice()
	out := make([]float64, m*n)
	for ii := 0; ii < m; ii++ {
		aRow := av[ii*k : (ii+1)*k]
		outRow := out[ii*n : (ii+1)*n]
		for kk, aVal := range aRow {
			if aVal == 0 {
				continue
			}
			bRow := bv[kk*n : (kk+1)*n]
			for jj, bVal := range bRow {
				outRow[jj] += aVal * bVal
			}
		}
	}
	return materialize(a.DType(), []int{m, n}, out)
}

func (execOps) Transpose(a *tensors.Tensor) *tensors.Tensor {
	if a.Rank() != 2 {
		exceptions.PanicValuef("Transpose: operand must be rank-2, got %s", a.Shape())
	}
	m, n := a.Shape().Dim(0), a.Shape().Dim(1)
	av := a.Float64Slice()
	out := make([]float64, len(av))
	for ii := 0; ii < m; ii++ {
		for jj := 0; jj < n; jj++ {
			out[jj*m+ii] = av[ii*n+jj]
		}
	}
	return materialize(a.DType(), []int{n, m}, out)
}

func (execOps) Reshape(a *tensors.Tensor, dimensions ...int) *tensors.Tensor {
	newDims := slices.Clone(dimensions)
	inferred := -1
	known := 1
	for ii, dim := range newDims {
		if dim == -1 {
			if inferred >= 0 {
				exceptions.PanicValuef("Reshape: at most one dimension can be -1, got %v", dimensions)
			}
			inferred = ii
		} else {
			known *= dim
		}
	}
	if inferred >= 0 {
		if known == 0 || a.Size()%known != 0 {
			exceptions.PanicValuef("Reshape: cannot infer dimension %d for %s reshaped to %v",
				inferred, a.Shape(), dimensions)
		}
		newDims[inferred] = a.Size() / known
		known *= newDims[inferred]
	}
	if known != a.Size() {
		exceptions.PanicValuef("Reshape: %s has %d elements, new dimensions %v require %d",
			a.Shape(), a.Size(), dimensions, known)
	}
	return materialize(a.DType(), newDims, a.Float64Slice())
}

func (execOps) Slice(a *tensors.Tensor, start, end int) *tensors.Tensor {
	if a.Rank() < 1 {
		exceptions.PanicValuef("Slice: operand must have rank >= 1, got %s", a.Shape())
	}
	dim0 := a.Shape().Dim(0)
	if start < 0 || end > dim0 || start >= end {
		exceptions.PanicValuef("Slice: invalid range [%d, %d) for axis-0 dimension %d", start, end, dim0)
	}
	rowSize := a.Size() / dim0
	newDims := slices.Clone(a.Shape().Dimensions)
	newDims[0] = end - start
	return materialize(a.DType(), newDims, a.Float64Slice()[start*rowSize:end*rowSize])
}

func (execOps) Concat(axis int, operands ...*tensors.Tensor) *tensors.Tensor {
	if len(operands) == 0 {
		exceptions.PanicValuef("Concat: requires at least one operand")
	}
	first := operands[0].Shape()
	if axis < 0 {
		axis += first.Rank()
	}
	if axis < 0 || axis >= first.Rank() {
		exceptions.PanicValuef("Concat: invalid axis %d for rank %d", axis, first.Rank())
	}
	axisTotal := 0
	for _, op := range operands {
		s := op.Shape()
		if s.DType != first.DType || s.Rank() != first.Rank() {
			exceptions.PanicValuef("Concat: incompatible operand shape %s (first operand is %s)", s, first)
		}
		for d := 0; d < s.Rank(); d++ {
			if d != axis && s.Dim(d) != first.Dim(d) {
				exceptions.PanicValuef("Concat: operand shape %s differs from %s on non-concat axis %d",
					s, first, d)
			}
		}
		axisTotal += s.Dim(axis)
	}
	newDims := slices.Clone(first.Dimensions)
	newDims[axis] = axisTotal
	outer := 1
	for d := 0; d < axis; d++ {
		outer *= first.Dim(d)
	}
	inner := 1
	for d := axis + 1; d < first.Rank(); d++ {
		inner *= first.Dim(d)
	}
	out := make([]float64, outer*axisTotal*inner)
	outPos := 0
	values := make([][]float64, len(operands))
	for ii, op := range operands {
		values[ii] = op.Float64Slice()
	}
	for o := 0; o < outer; o++ {
		for ii, op := range operands {
			chunk := op.Shape().Dim(axis) * inner
			copy(out[outPos:outPos+chunk], values[ii][o*chunk:(o+1)*chunk])
			outPos += chunk
		}
	}
	return materialize(first.DType, newDims, out)
}

func (execOps) Gather(params, indices *tensors.Tensor) *tensors.Tensor {
	if indices.DType() != dtypes.Int32 {
		exceptions.PanicValuef("Gather: indices must be int32, got %s", indices.DType())
	}
	if params.Rank() < 1 {
		exceptions.PanicValuef("Gather: params must have rank >= 1, got %s", params.Shape())
	}
	numRows := params.Shape().Dim(0)
	rowSize := params.Size() / numRows
	pv := params.Float64Slice()
	idx := tensors.ConstFlatData[int32](indices)
	newDims := append(slices.Clone(indices.Shape().Dimensions), params.Shape().Dimensions[1:]...)
	out := make([]float64, len(idx)*rowSize)
	for ii, index := range idx {
		if index < 0 || int(index) >= numRows {
			exceptions.PanicValuef("Gather: index %d out of range for params shape %s", index, params.Shape())
		}
		copy(out[ii*rowSize:(ii+1)*rowSize], pv[int(index)*rowSize:(int(index)+1)*rowSize])
	}
	return materialize(params.DType(), newDims, out)
}

func (execOps) Reverse(a *tensors.Tensor, axis int) *tensors.Tensor {
	if axis < 0 {
		axis += a.Rank()
	}
	if axis < 0 || axis >= a.Rank() {
		exceptions.PanicValuef("Reverse: invalid axis %d for shape %s", axis, a.Shape())
	}
	dim := a.Shape().Dim(axis)
	inner := 1
	for d := axis + 1; d < a.Rank(); d++ {
		inner *= a.Shape().Dim(d)
	}
	outer := a.Size() / (dim * inner)
	av := a.Float64Slice()
	out := make([]float64, len(av))
	for o := 0; o < outer; o++ {
		base := o * dim * inner
		for ii := 0; ii < dim; ii++ {
			copy(out[base+(dim-1-ii)*inner:base+(dim-ii)*inner], av[base+ii*inner:base+(ii+1)*inner])
		}
	}
	return materialize(a.DType(), a.Shape().Dimensions, out)
}

func (execOps) OneHot(indices *tensors.Tensor, depth int, dtype dtypes.DType) *tensors.Tensor {
	if indices.DType() != dtypes.Int32 {
		exceptions.PanicValuef("OneHot: indices must be int32, got %s", indices.DType())
	}
	if depth <= 0 {
		exceptions.PanicValuef("OneHot: depth must be positive, got %d", depth)
	}
	idx := tensors.ConstFlatData[int32](indices)
	newDims := append(slices.Clone(indices.Shape().Dimensions), depth)
	out := make([]float64, len(idx)*depth)
	for ii, index := range idx {
		if index < 0 || int(index) >= depth {
			exceptions.PanicValuef("OneHot: index %d out of range for depth %d", index, depth)
		}
		out[ii*depth+int(index)] = 1
	}
	return materialize(dtype, newDims, out)
}

func (execOps) ArgMax(a *tensors.Tensor) *tensors.Tensor {
	if a.Rank() < 1 {
		exceptions.PanicValuef("ArgMax: operand must have rank >= 1, got %s", a.Shape())
	}
	lastDim := a.Shape().Dim(-1)
	rows := a.Size() / lastDim
	av := a.Float64Slice()
	out := make([]int32, rows)
	for r := 0; r < rows; r++ {
		row := av[r*lastDim : (r+1)*lastDim]
		best := 0
		for ii, v := range row[1:] {
			if v > row[best] {
				best = ii + 1
			}
		}
		out[r] = int32(best)
	}
	return tensors.FromFlatAndDimensions(out, a.Shape().Dimensions[:a.Rank()-1]...)
}

func (execOps) ReduceSumAll(a *tensors.Tensor) *tensors.Tensor {
	sum := 0.0
	for _, v := range a.Float64Slice() {
		sum += v
	}
	return materialize(a.DType(), nil, []float64{sum})
}

func (ops execOps) ReduceMeanAll(a *tensors.Tensor) *tensors.Tensor {
	sum := 0.0
	for _, v := range a.Float64Slice() {
		sum += v
	}
	return materialize(a.DType(), nil, []float64{sum / float64(a.Size())})
}

func (execOps) ReduceSum(a *tensors.Tensor, axis int) *tensors.Tensor {
	if axis < 0 {
		axis += a.Rank()
	}
	if axis < 0 || axis >= a.Rank() {
		exceptions.PanicValuef("ReduceSum: invalid axis %d for shape %s", axis, a.Shape())
	}
	dim := a.Shape().Dim(axis)
	inner := 1
	for d := axis + 1; d < a.Rank(); d++ {
		inner *= a.Shape().Dim(d)
	}
	outer := a.Size() / (dim * inner)
	av := a.Float64Slice()
	newDims := append(slices.Clone(a.Shape().Dimensions[:axis]), a.Shape().Dimensions[axis+1:]...)
	out := make([]float64, outer*inner)
	for o := 0; o < outer; o++ {
		for ii := 0; ii < dim; ii++ {
			for in := 0; in < inner; in++ {
				out[o*inner+in] += av[o*dim*inner+ii*inner+in]
			}
		}
	}
	return materialize(a.DType(), newDims, out)
}

// lastAxisRows applies fn to each row of the last axis, writing results in place.
func lastAxisRows(a *tensors.Tensor, fn func(row []float64)) *tensors.Tensor {
	if a.Rank() < 1 {
		exceptions.PanicValuef("operand must have rank >= 1, got %s", a.Shape())
	}
	lastDim := a.Shape().Dim(-1)
	av := a.Float64Slice()
	for r := 0; r < len(av)/lastDim; r++ {
		fn(av[r*lastDim : (r+1)*lastDim])
	}
	return materialize(a.DType(), a.Shape().Dimensions, av)
}

func (execOps) Softmax(a *tensors.Tensor) *tensors.Tensor {
	return lastAxisRows(a, func(row []float64) {
		max := row[0]
		for _, v := range row[1:] {
			max = math.Max(max, v)
		}
		sum := 0.0
		for ii, v := range row {
			row[ii] = math.Exp(v - max)
			sum += row[ii]
		}
		for ii := range row {
			row[ii] /= sum
		}
	})
}

func (execOps) LogSoftmax(a *tensors.Tensor) *tensors.Tensor {
	return lastAxisRows(a, func(row []float64) {
		max := row[0]
		for _, v := range row[1:] {
			max = math.Max(max, v)
		}
		sum := 0.0
		for _, v := range row {
			sum += math.Exp(v - max)
		}
		logSum := max + math.Log(sum)
		for ii := range row {
			row[ii] -= logSum
		}
	})
}

func (execOps) unary(a *tensors.Tensor, fn func(x float64) float64) *tensors.Tensor {
	av := a.Float64Slice()
	for ii, v := range av {
		av[ii] = fn(v)
	}
	return materialize(a.DType(), a.Shape().Dimensions, av)
}

func (ops execOps) Sigmoid(a *tensors.Tensor) *tensors.Tensor {
	return ops.unary(a, func(x float64) float64 { return 1 / (1 + math.Exp(-x)) })
}

func (ops execOps) Tanh(a *tensors.Tensor) *tensors.Tensor {
	return ops.unary(a, math.Tanh)
}

func (ops execOps) Relu(a *tensors.Tensor) *tensors.Tensor {
	return ops.unary(a, func(x float64) float64 { return math.Max(x, 0) })
}

func (ops execOps) Exp(a *tensors.Tensor) *tensors.Tensor {
	return ops.unary(a, math.Exp)
}

func (ops execOps) Log(a *tensors.Tensor) *tensors.Tensor {
	return ops.unary(a, math.Log)
}

func (ops execOps) Neg(a *tensors.Tensor) *tensors.Tensor {
	return ops.unary(a, func(x float64) float64 { return -x })
}

func (ops execOps) Sqrt(a *tensors.Tensor) *tensors.Tensor {
	return ops.unary(a, math.Sqrt)
}

func (execOps) Cast(a *tensors.Tensor, dtype dtypes.DType) *tensors.Tensor {
	return a.CastTo(dtype)
}
