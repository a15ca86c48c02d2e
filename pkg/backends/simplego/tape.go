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
	"slices"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
)

// tapeEntry records one executed op: its output, its inputs and a vector-Jacobian product
// closure that maps the upstream gradient (same shape as output) to the gradients of each
// input. A nil entry in the returned slice means no gradient flows to that input.
type tapeEntry struct {
	output *tensors.Tensor
	inputs []*tensors.Tensor
	vjp    func(upstream *tensors.Tensor) []*tensors.Tensor
}

// tapeOps is the recording backends.Ops: it executes everything through the eager exec
// kernels and appends a tapeEntry per differentiable op. Tensors are identified by pointer,
// which works because every kernel returns a freshly allocated tensor.
type tapeOps struct {
	exec    execOps
	entries []*tapeEntry
}

var _ backends.Ops = (*tapeOps)(nil)

func (t *tapeOps) record(output *tensors.Tensor, inputs []*tensors.Tensor,
	vjp func(upstream *tensors.Tensor) []*tensors.Tensor) *tensors.Tensor {
	t.entries = append(t.entries, &tapeEntry{output: output, inputs: inputs, vjp: vjp})
	return output
}

// reduceToShape sums the upstream gradient over the axes that were broadcast, so it matches
// the shape of the (smaller) operand. Only suffix broadcasting exists (see backends.Ops).
// It always returns a fresh tensor: the upstream gradient stays owned by the backward pass,
// which finalizes it once all its consumers ran, so handing it out would alias a tensor that
// later gets released under the caller.
func reduceToShape(up *tensors.Tensor, shape shapes.Shape) *tensors.Tensor {
	if up.Shape().Equal(shape) {
		return up.Clone()
	}
	uv := up.Float64Slice()
	size := 1
	for _, d := range shape.Dimensions {
		size *= d
	}
	out := make([]float64, size)
	for ii, v := range uv {
		out[ii%size] += v
	}
	return materialize(shape.DType, shape.Dimensions, out)
}

func (t *tapeOps) Add(a, b *tensors.Tensor) *tensors.Tensor {
	out := t.exec.Add(a, b)
	return t.record(out, []*tensors.Tensor{a, b}, func(up *tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{
			reduceToShape(up, a.Shape()),
			reduceToShape(up, b.Shape()),
		}
	})
}

func (t *tapeOps) Sub(a, b *tensors.Tensor) *tensors.Tensor {
	out := t.exec.Sub(a, b)
	return t.record(out, []*tensors.Tensor{a, b}, func(up *tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{
			reduceToShape(up, a.Shape()),
			reduceToShape(t.exec.Neg(up), b.Shape()),
		}
	})
}

func (t *tapeOps) Mul(a, b *tensors.Tensor) *tensors.Tensor {
	out := t.exec.Mul(a, b)
	return t.record(out, []*tensors.Tensor{a, b}, func(up *tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{
			reduceToShape(t.exec.Mul(up, b), a.Shape()),
			reduceToShape(t.exec.Mul(up, a), b.Shape()),
		}
	})
}

func (t *tapeOps) Div(a, b *tensors.Tensor) *tensors.Tensor {
	out := t.exec.Div(a, b)
	return t.record(out, []*tensors.Tensor{a, b}, func(up *tensors.Tensor) []*tensors.Tensor {
		gradA := reduceToShape(t.exec.Div(up, b), a.Shape())
		// d(a/b)/db = -a/b² = -out/b.
		gradB := reduceToShape(t.exec.Neg(t.exec.Mul(up, t.exec.Div(out, b))), b.Shape())
		return []*tensors.Tensor{gradA, gradB}
	})
}

func (t *tapeOps) MatMul(a, b *tensors.Tensor) *tensors.Tensor {
	out := t.exec.MatMul(a, b)
	return t.record(out, []*tensors.Tensor{a, b}, func(up *tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{
			t.exec.MatMul(up, t.exec.Transpose(b)),
			t.exec.MatMul(t.exec.Transpose(a), up),
		}
	})
}

func (t *tapeOps) Transpose(a *tensors.Tensor) *tensors.Tensor {
	out := t.exec.Transpose(a)
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{t.exec.Transpose(up)}
	})
}

func (t *tapeOps) Reshape(a *tensors.Tensor, dimensions ...int) *tensors.Tensor {
	out := t.exec.Reshape(a, dimensions...)
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{t.exec.Reshape(up, a.Shape().Dimensions...)}
	})
}

func (t *tapeOps) Slice(a *tensors.Tensor, start, end int) *tensors.Tensor {
	out := t.exec.Slice(a, start, end)
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		grad := make([]float64, a.Size())
		rowSize := a.Size() / a.Shape().Dim(0)
		copy(grad[start*rowSize:end*rowSize], up.Float64Slice())
		return []*tensors.Tensor{materialize(a.DType(), a.Shape().Dimensions, grad)}
	})
}

func (t *tapeOps) Concat(axis int, operands ...*tensors.Tensor) *tensors.Tensor {
	out := t.exec.Concat(axis, operands...)
	resolvedAxis := axis
	if resolvedAxis < 0 {
		resolvedAxis += operands[0].Rank()
	}
	return t.record(out, slices.Clone(operands), func(up *tensors.Tensor) []*tensors.Tensor {
		grads := make([]*tensors.Tensor, len(operands))
		uv := up.Float64Slice()
		outShape := up.Shape()
		inner := 1
		for d := resolvedAxis + 1; d < outShape.Rank(); d++ {
			inner *= outShape.Dim(d)
		}
		outer := up.Size() / (outShape.Dim(resolvedAxis) * inner)
		chunks := make([][]float64, len(operands))
		for ii, op := range operands {
			chunks[ii] = make([]float64, op.Size())
		}
		pos := 0
		for o := 0; o < outer; o++ {
			for ii, op := range operands {
				chunk := op.Shape().Dim(resolvedAxis) * inner
				copy(chunks[ii][o*chunk:(o+1)*chunk], uv[pos:pos+chunk])
				pos += chunk
			}
		}
		for ii, op := range operands {
			grads[ii] = materialize(op.DType(), op.Shape().Dimensions, chunks[ii])
		}
		return grads
	})
}

func (t *tapeOps) Gather(params, indices *tensors.Tensor) *tensors.Tensor {
	out := t.exec.Gather(params, indices)
	return t.record(out, []*tensors.Tensor{params, indices}, func(up *tensors.Tensor) []*tensors.Tensor {
		numRows := params.Shape().Dim(0)
		rowSize := params.Size() / numRows
		grad := make([]float64, params.Size())
		uv := up.Float64Slice()
		for ii, index := range tensors.ConstFlatData[int32](indices) {
			row := grad[int(index)*rowSize : (int(index)+1)*rowSize]
			for jj, v := range uv[ii*rowSize : (ii+1)*rowSize] {
				row[jj] += v
			}
		}
		return []*tensors.Tensor{materialize(params.DType(), params.Shape().Dimensions, grad), nil}
	})
}

func (t *tapeOps) Reverse(a *tensors.Tensor, axis int) *tensors.Tensor {
	out := t.exec.Reverse(a, axis)
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{t.exec.Reverse(up, axis)}
	})
}

// OneHot and ArgMax are index ops, no gradient flows through them.
func (t *tapeOps) OneHot(indices *tensors.Tensor, depth int, dtype dtypes.DType) *tensors.Tensor {
	return t.exec.OneHot(indices, depth, dtype)
}

func (t *tapeOps) ArgMax(a *tensors.Tensor) *tensors.Tensor {
	return t.exec.ArgMax(a)
}

func (t *tapeOps) ReduceSumAll(a *tensors.Tensor) *tensors.Tensor {
	out := t.exec.ReduceSumAll(a)
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		grad := make([]float64, a.Size())
		upValue := up.Float64Scalar()
		for ii := range grad {
			grad[ii] = upValue
		}
		return []*tensors.Tensor{materialize(a.DType(), a.Shape().Dimensions, grad)}
	})
}

func (t *tapeOps) ReduceMeanAll(a *tensors.Tensor) *tensors.Tensor {
	out := t.exec.ReduceMeanAll(a)
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		grad := make([]float64, a.Size())
		upValue := up.Float64Scalar() / float64(a.Size())
		for ii := range grad {
			grad[ii] = upValue
		}
		return []*tensors.Tensor{materialize(a.DType(), a.Shape().Dimensions, grad)}
	})
}

func (t *tapeOps) ReduceSum(a *tensors.Tensor, axis int) *tensors.Tensor {
	out := t.exec.ReduceSum(a, axis)
	resolvedAxis := axis
	if resolvedAxis < 0 {
		resolvedAxis += a.Rank()
	}
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		dim := a.Shape().Dim(resolvedAxis)
		inner := 1
		for d := resolvedAxis + 1; d < a.Rank(); d++ {
			inner *= a.Shape().Dim(d)
		}
		outer := a.Size() / (dim * inner)
		uv := up.Float64Slice()
		grad := make([]float64, a.Size())
		for o := 0; o < outer; o++ {
			for ii := 0; ii < dim; ii++ {
				for in := 0; in < inner; in++ {
					grad[o*dim*inner+ii*inner+in] = uv[o*inner+in]
				}
			}
		}
		return []*tensors.Tensor{materialize(a.DType(), a.Shape().Dimensions, grad)}
	})
}

func (t *tapeOps) Softmax(a *tensors.Tensor) *tensors.Tensor {
	out := t.exec.Softmax(a)
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		// dL/dx_i = y_i * (up_i - Σ_j up_j y_j), per row of the last axis.
		lastDim := a.Shape().Dim(-1)
		yv, uv := out.Float64Slice(), up.Float64Slice()
		grad := make([]float64, a.Size())
		for r := 0; r < len(yv)/lastDim; r++ {
			base := r * lastDim
			dot := 0.0
			for ii := 0; ii < lastDim; ii++ {
				dot += uv[base+ii] * yv[base+ii]
			}
			for ii := 0; ii < lastDim; ii++ {
				grad[base+ii] = yv[base+ii] * (uv[base+ii] - dot)
			}
		}
		return []*tensors.Tensor{materialize(a.DType(), a.Shape().Dimensions, grad)}
	})
}

func (t *tapeOps) LogSoftmax(a *tensors.Tensor) *tensors.Tensor {
	out := t.exec.LogSoftmax(a)
	softmax := t.exec.Softmax(a)
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		// dL/dx_i = up_i - softmax(x)_i * Σ_j up_j, per row of the last axis.
		lastDim := a.Shape().Dim(-1)
		sv, uv := softmax.Float64Slice(), up.Float64Slice()
		grad := make([]float64, a.Size())
		for r := 0; r < len(sv)/lastDim; r++ {
			base := r * lastDim
			sum := 0.0
			for ii := 0; ii < lastDim; ii++ {
				sum += uv[base+ii]
			}
			for ii := 0; ii < lastDim; ii++ {
				grad[base+ii] = uv[base+ii] - sv[base+ii]*sum
			}
		}
		return []*tensors.Tensor{materialize(a.DType(), a.Shape().Dimensions, grad)}
	})
}

func (t *tapeOps) unaryGrad(a, out *tensors.Tensor, dydx func(x, y float64) float64) *tensors.Tensor {
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		av, yv, uv := a.Float64Slice(), out.Float64Slice(), up.Float64Slice()
		grad := make([]float64, len(av))
		for ii := range grad {
			grad[ii] = uv[ii] * dydx(av[ii], yv[ii])
		}
		return []*tensors.Tensor{materialize(a.DType(), a.Shape().Dimensions, grad)}
	})
}

func (t *tapeOps) Sigmoid(a *tensors.Tensor) *tensors.Tensor {
	return t.unaryGrad(a, t.exec.Sigmoid(a), func(_, y float64) float64 { return y * (1 - y) })
}

func (t *tapeOps) Tanh(a *tensors.Tensor) *tensors.Tensor {
	return t.unaryGrad(a, t.exec.Tanh(a), func(_, y float64) float64 { return 1 - y*y })
}

func (t *tapeOps) Relu(a *tensors.Tensor) *tensors.Tensor {
	return t.unaryGrad(a, t.exec.Relu(a), func(x, _ float64) float64 {
		if x > 0 {
			return 1
		}
		return 0
	})
}

func (t *tapeOps) Exp(a *tensors.Tensor) *tensors.Tensor {
	return t.unaryGrad(a, t.exec.Exp(a), func(_, y float64) float64 { return y })
}

func (t *tapeOps) Log(a *tensors.Tensor) *tensors.Tensor {
	return t.unaryGrad(a, t.exec.Log(a), func(x, _ float64) float64 { return 1 / x })
}

func (t *tapeOps) Neg(a *tensors.Tensor) *tensors.Tensor {
	return t.unaryGrad(a, t.exec.Neg(a), func(_, _ float64) float64 { return -1 })
}

func (t *tapeOps) Sqrt(a *tensors.Tensor) *tensors.Tensor {
	return t.unaryGrad(a, t.exec.Sqrt(a), func(_, y float64) float64 { return 1 / (2 * y) })
}

func (t *tapeOps) Cast(a *tensors.Tensor, dtype dtypes.DType) *tensors.Tensor {
	out := t.exec.Cast(a, dtype)
	if !a.DType().IsFloat() || !dtype.IsFloat() {
		// Casts in or out of integer/bool types block the gradient.
		return out
	}
	return t.record(out, []*tensors.Tensor{a}, func(up *tensors.Tensor) []*tensors.Tensor {
		return []*tensors.Tensor{t.exec.Cast(up, a.DType())}
	})
}

// backward walks the tape in reverse accumulating gradients, starting from output with the
// given seed gradient. It returns the accumulated gradient per requested tensor, zeros when
// no gradient flows to it.
func (t *tapeOps) backward(output *tensors.Tensor, wrt []*tensors.Tensor) []*tensors.Tensor {
	if !output.Shape().IsScalar() {
		exceptions.PanicValuef("Gradients: output of the differentiated function must be a scalar, got shape %s",
			output.Shape())
	}
	accumulated := make(map[*tensors.Tensor]*tensors.Tensor)
	accumulated[output] = materialize(output.DType(), nil, []float64{1})
	var exec execOps
	for ii := len(t.entries) - 1; ii >= 0; ii-- {
		entry := t.entries[ii]
		up, found := accumulated[entry.output]
		if !found {
			continue
		}
		for jj, grad := range entry.vjp(up) {
			if grad == nil {
				continue
			}
			input := entry.inputs[jj]
			if previous, found := accumulated[input]; found {
				summed := exec.Add(previous, grad)
				previous.Finalize()
				grad.Finalize()
				accumulated[input] = summed
			} else {
				accumulated[input] = grad
			}
		}
	}
	grads := make([]*tensors.Tensor, len(wrt))
	for ii, tensor := range wrt {
		if grad, found := accumulated[tensor]; found {
			grads[ii] = grad
			delete(accumulated, tensor)
		} else {
			grads[ii] = tensors.Zeros(tensor.Shape())
		}
	}
	// Intermediate gradients not requested by the caller are released here.
	for _, grad := range accumulated {
		grad.Finalize()
	}
	return grads
}
