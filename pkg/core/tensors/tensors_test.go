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

package tensors

import (
	"testing"

	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFlatAndDimensions(t *testing.T) {
	tensor := FromFlatAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	assert.Equal(t, 6, tensor.Size())

	err := exceptions.Call(func() { FromFlatAndDimensions([]float32{1, 2}, 2, 3) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
}

func TestFromFlatCopiesData(t *testing.T) {
	source := []float32{1, 2, 3}
	tensor := FromFlatAndDimensions(source, 3)
	source[0] = 99
	assert.InDeltaSlice(t, []float64{1, 2, 3}, tensor.Float64Slice(), 1e-6)
}

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2}, {3, 4}, {5, 6}})
	assert.Equal(t, []int{3, 2}, tensor.Shape().Dimensions)
	assert.Equal(t, dtypes.Float32, tensor.DType())

	ints := FromValue([]int32{7, 8})
	assert.Equal(t, dtypes.Int32, ints.DType())

	scalar := FromScalar(2.5)
	assert.True(t, scalar.Shape().IsScalar())
	assert.InDelta(t, 2.5, scalar.Float64Scalar(), 1e-9)
}

func TestValueRoundTrip(t *testing.T) {
	original := [][]float32{{1, 2}, {3, 4}}
	tensor := FromValue(original)
	assert.Equal(t, original, tensor.Value())
}

func TestZeros(t *testing.T) {
	tensor := Zeros(shapes.Make(dtypes.Float64, 2, 2))
	assert.Equal(t, []float64{0, 0, 0, 0}, tensor.Float64Slice())

	err := exceptions.Call(func() { Zeros(shapes.Make(dtypes.Float32, shapes.UnknownDim, 2)) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
}

func TestFlatDataAccess(t *testing.T) {
	tensor := FromFlatAndDimensions([]float32{1, 2, 3}, 3)
	flat := ConstFlatData[float32](tensor)
	assert.Equal(t, []float32{1, 2, 3}, flat)

	MutableFlatData[float32](tensor)[1] = 20
	assert.InDeltaSlice(t, []float64{1, 20, 3}, tensor.Float64Slice(), 1e-6)
}

func TestClone(t *testing.T) {
	tensor := FromFlatAndDimensions([]float32{1, 2}, 2)
	clone := tensor.Clone()
	MutableFlatData[float32](clone)[0] = 42
	assert.InDeltaSlice(t, []float64{1, 2}, tensor.Float64Slice(), 1e-6, "clone must not alias storage")
}

func TestBytesRoundTrip(t *testing.T) {
	tensor := FromFlatAndDimensions([]float32{1.5, -2.25, 0}, 3)
	buf := tensor.Bytes()
	require.Len(t, buf, 12)
	restored := FromBytes(tensor.Shape(), buf)
	assert.True(t, tensor.InDelta(restored, 0))

	ints := FromFlatAndDimensions([]int32{-5, 260}, 2)
	assert.Equal(t, []float64{-5, 260}, FromBytes(ints.Shape(), ints.Bytes()).Float64Slice())
}

func TestBytesSizeMismatch(t *testing.T) {
	err := exceptions.Call(func() { FromBytes(shapes.Make(dtypes.Float32, 3), make([]byte, 8)) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
}

func TestCastTo(t *testing.T) {
	tensor := FromFlatAndDimensions([]float32{1.7, -2.2, 3}, 3)
	asInt := tensor.CastTo(dtypes.Int32)
	assert.Equal(t, dtypes.Int32, asInt.DType())
	assert.Equal(t, []float64{1, -2, 3}, asInt.Float64Slice())

	asDouble := tensor.CastTo(dtypes.Float64)
	assert.InDeltaSlice(t, []float64{1.7, -2.2, 3}, asDouble.Float64Slice(), 1e-6)

	same := tensor.CastTo(dtypes.Float32)
	assert.True(t, tensor.InDelta(same, 0))
}

func TestInDelta(t *testing.T) {
	a := FromFlatAndDimensions([]float32{1, 2}, 2)
	b := FromFlatAndDimensions([]float32{1.001, 2.001}, 2)
	assert.True(t, a.InDelta(b, 0.01))
	assert.False(t, a.InDelta(b, 0.0001))
	assert.False(t, a.InDelta(FromFlatAndDimensions([]float32{1, 2, 3}, 3), 1), "different shapes never match")
}

func TestFinalize(t *testing.T) {
	tensor := FromFlatAndDimensions([]float32{1}, 1)
	require.False(t, tensor.IsFinalized())
	tensor.Finalize()
	assert.True(t, tensor.IsFinalized())
	tensor.Finalize() // idempotent

	err := exceptions.Call(func() { tensor.AssertValid() })
	require.Error(t, err)
	assert.True(t, exceptions.IsRuntimeError(err))

	err = exceptions.Call(func() { tensor.Float64Slice() })
	require.Error(t, err)
}

func TestString(t *testing.T) {
	tensor := FromFlatAndDimensions([]float32{1, 2}, 2)
	assert.Contains(t, tensor.String(), "float32")
}
