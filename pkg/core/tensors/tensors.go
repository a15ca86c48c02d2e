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

// Package tensors implements the concrete (materialized) Tensor: a flat buffer of values
// plus a shape.
//
// A Tensor owns its buffer. Finalize releases it; after that any access panics with a
// RuntimeError. The training loop and the callback accumulators rely on this to make
// leaked or doubly-consumed intermediate values visible early, instead of silently keeping
// buffers alive.
//
// Tensors are cheap wrappers: the numeric heavy-lifting lives in a backends.Backend.
package tensors

import (
	"math"
	"reflect"

	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/x448/float16"
)

// Tensor holds a concrete multidimensional array: a shape and a flat row-major buffer.
//
// Create them with FromFlatAndDimensions, FromValue, FromScalar or Zeros.
type Tensor struct {
	shape     shapes.Shape
	flat      any // []bool, []int32, []float16.Float16, []float32 or []float64.
	finalized bool
}

// FromFlatAndDimensions creates a Tensor from a flat slice and dimensions. The flat length
// must match the product of the dimensions.
func FromFlatAndDimensions[T dtypes.Supported](flat []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if !shape.IsFullyDefined() {
		exceptions.PanicValuef("tensors.FromFlatAndDimensions: shape %s must be fully defined", shape)
	}
	if shape.Size() != len(flat) {
		exceptions.PanicValuef("tensors.FromFlatAndDimensions: shape %s needs %d values, got %d",
			shape, shape.Size(), len(flat))
	}
	data := make([]T, len(flat))
	copy(data, flat)
	return &Tensor{shape: shape, flat: data}
}

// FromScalar creates a rank-0 Tensor with the given value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatAndDimensions([]T{value})
}

// Zeros creates a Tensor of the given shape filled with zero values.
func Zeros(shape shapes.Shape) *Tensor {
	if !shape.IsFullyDefined() {
		exceptions.PanicValuef("tensors.Zeros: shape %s must be fully defined", shape)
	}
	t := &Tensor{shape: shape.Clone()}
	size := shape.Size()
	switch shape.DType {
	case dtypes.Bool:
		t.flat = make([]bool, size)
	case dtypes.Int32:
		t.flat = make([]int32, size)
	case dtypes.Float16:
		t.flat = make([]float16.Float16, size)
	case dtypes.Float32:
		t.flat = make([]float32, size)
	case dtypes.Float64:
		t.flat = make([]float64, size)
	default:
		exceptions.PanicValuef("tensors.Zeros: unsupported dtype %s", shape.DType)
	}
	return t
}

// FromValue creates a Tensor from a Go scalar or (nested) slices. All nested slices at the
// same level must have the same length. E.g.:
//
//	tensors.FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})  // shape (float32)[3, 2]
func FromValue(value any) *Tensor {
	dims, dtype := valueShape(value)
	shape := shapes.Make(dtype, dims...)
	t := Zeros(shape)
	pos := 0
	fillFromValue(t, reflect.ValueOf(value), &pos)
	return t
}

func valueShape(value any) (dims []int, dtype dtypes.DType) {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Slice {
		if v.Len() == 0 {
			exceptions.PanicValuef("tensors.FromValue: empty slices not supported (value %v)", value)
		}
		dims = append(dims, v.Len())
		v = v.Index(0)
	}
	dtype = dtypes.FromAny(v.Interface())
	if dtype == dtypes.InvalidDType {
		exceptions.PanicValuef("tensors.FromValue: unsupported element type %T", v.Interface())
	}
	return
}

func fillFromValue(t *Tensor, v reflect.Value, pos *int) {
	if v.Kind() == reflect.Slice {
		for ii := 0; ii < v.Len(); ii++ {
			fillFromValue(t, v.Index(ii), pos)
		}
		return
	}
	setFlatAny(t, *pos, v.Interface())
	*pos++
}

func setFlatAny(t *Tensor, pos int, value any) {
	switch flat := t.flat.(type) {
	case []bool:
		flat[pos] = value.(bool)
	case []int32:
		flat[pos] = toInt32(value)
	case []float16.Float16:
		flat[pos] = value.(float16.Float16)
	case []float32:
		flat[pos] = value.(float32)
	case []float64:
		flat[pos] = value.(float64)
	}
}

func toInt32(value any) int32 {
	switch v := value.(type) {
	case int:
		return int32(v)
	case int32:
		return v
	case int64:
		return int32(v)
	}
	exceptions.PanicValuef("tensors: cannot convert %T to int32", value)
	return 0
}

// AssertValid panics with a RuntimeError if the tensor is nil or was already finalized.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.PanicRuntimef("tensor is nil")
	}
	if t.finalized {
		exceptions.PanicRuntimef("tensor (shape %s) was already finalized, its buffer is no longer available", t.shape)
	}
}

// Shape of the Tensor. Always fully defined.
func (t *Tensor) Shape() shapes.Shape {
	t.AssertValid()
	return t.shape
}

// DType of the Tensor.
func (t *Tensor) DType() dtypes.DType { return t.Shape().DType }

// Rank of the Tensor.
func (t *Tensor) Rank() int { return t.Shape().Rank() }

// Size is the number of elements.
func (t *Tensor) Size() int { return t.Shape().Size() }

// Finalize releases the buffer immediately. It is safe to call more than once, but any
// other use of the tensor afterwards panics with a RuntimeError.
func (t *Tensor) Finalize() {
	if t == nil || t.finalized {
		return
	}
	t.finalized = true
	t.flat = nil
}

// IsFinalized returns whether Finalize has been called.
func (t *Tensor) IsFinalized() bool {
	return t == nil || t.finalized
}

// ConstFlatData returns the flat backing slice of the Tensor. The caller must not modify
// it. It panics with a ValueError if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor) []T {
	t.AssertValid()
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.PanicValuef("tensors.ConstFlatData[%s]: tensor has dtype %s",
			dtypes.FromGenericsType[T](), t.DType())
	}
	return flat
}

// MutableFlatData returns the flat backing slice for in-place mutation -- used by
// optimizers updating weights.
func MutableFlatData[T dtypes.Supported](t *Tensor) []T {
	return ConstFlatData[T](t)
}

// Clone returns a deep copy of the Tensor.
func (t *Tensor) Clone() *Tensor {
	t.AssertValid()
	c := Zeros(t.shape)
	reflect.Copy(reflect.ValueOf(c.flat), reflect.ValueOf(t.flat))
	return c
}

// Float64Slice returns the flattened values converted to float64. Handy for tests and for
// metric/logging code that doesn't care about the original dtype.
func (t *Tensor) Float64Slice() []float64 {
	t.AssertValid()
	out := make([]float64, t.Size())
	switch flat := t.flat.(type) {
	case []bool:
		for ii, v := range flat {
			if v {
				out[ii] = 1
			}
		}
	case []int32:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []float16.Float16:
		for ii, v := range flat {
			out[ii] = float64(v.Float32())
		}
	case []float32:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []float64:
		copy(out, flat)
	}
	return out
}

// Float64Scalar returns the value of a size-1 tensor as float64.
func (t *Tensor) Float64Scalar() float64 {
	if t.Size() != 1 {
		exceptions.PanicValuef("Tensor.Float64Scalar: tensor has shape %s, expected size 1", t.shape)
	}
	return t.Float64Slice()[0]
}

// Value returns the tensor contents as nested Go slices (or a scalar for rank-0). The
// returned value is a copy.
func (t *Tensor) Value() any {
	t.AssertValid()
	pos := 0
	return t.valueRecursive(0, &pos)
}

func (t *Tensor) valueRecursive(axis int, pos *int) any {
	if axis == t.Rank() {
		v := reflect.ValueOf(t.flat).Index(*pos).Interface()
		*pos++
		return v
	}
	dim := t.shape.Dimensions[axis]
	elemType := reflect.TypeOf(t.flat).Elem()
	for a := t.Rank() - 1; a > axis; a-- {
		elemType = reflect.SliceOf(elemType)
	}
	out := reflect.MakeSlice(reflect.SliceOf(elemType), dim, dim)
	for ii := 0; ii < dim; ii++ {
		out.Index(ii).Set(reflect.ValueOf(t.valueRecursive(axis+1, pos)))
	}
	return out.Interface()
}

// InDelta reports whether the two tensors have the same shape and all values within delta
// of each other. Used by tests and by weight-loading validation.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if !t.Shape().Equal(other.Shape()) {
		return false
	}
	a, b := t.Float64Slice(), other.Float64Slice()
	for ii := range a {
		if math.Abs(a[ii]-b[ii]) > delta {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer with a short description, not the full contents.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	if t.finalized {
		return "Tensor(finalized)"
	}
	return "Tensor" + t.shape.String()
}
