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

package losses

import (
	"testing"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/backends/simplego"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOps(t *testing.T) backends.Ops {
	t.Helper()
	return simplego.New("").Ops()
}

func TestMeanSquaredError(t *testing.T) {
	ops := testOps(t)
	labels := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	predictions := tensors.FromFlatAndDimensions([]float32{1, 2, 4, 6}, 2, 2)
	loss := MeanSquaredError{}.Apply(ops, labels, predictions)
	require.Equal(t, []int{2}, loss.Shape().Dimensions, "losses are per example")
	// Second example: ((4-3)^2 + (6-4)^2) / 2 = 2.5.
	assert.InDeltaSlice(t, []float64{0, 2.5}, loss.Float64Slice(), 1e-5)
}

func TestCategoricalCrossentropy(t *testing.T) {
	ops := testOps(t)
	labels := tensors.FromFlatAndDimensions([]float32{0, 1, 0, 1, 0, 0}, 2, 3)
	predictions := tensors.FromFlatAndDimensions([]float32{0.1, 0.8, 0.1, 0.9, 0.05, 0.05}, 2, 3)
	loss := CategoricalCrossentropy{}.Apply(ops, labels, predictions)
	require.Equal(t, []int{2}, loss.Shape().Dimensions)
	// -log(0.8) and -log(0.9).
	assert.InDeltaSlice(t, []float64{0.22314, 0.10536}, loss.Float64Slice(), 1e-4)
}

func TestSparseCategoricalCrossentropy(t *testing.T) {
	ops := testOps(t)
	predictions := tensors.FromFlatAndDimensions([]float32{0.1, 0.8, 0.1, 0.9, 0.05, 0.05}, 2, 3)

	sparse := tensors.FromFlatAndDimensions([]float32{1, 0}, 2)
	loss := SparseCategoricalCrossentropy{}.Apply(ops, sparse, predictions)
	assert.InDeltaSlice(t, []float64{0.22314, 0.10536}, loss.Float64Slice(), 1e-4)

	// Labels given as a [batch, 1] column work the same.
	column := tensors.FromFlatAndDimensions([]float32{1, 0}, 2, 1)
	lossColumn := SparseCategoricalCrossentropy{}.Apply(ops, column, predictions)
	assert.True(t, loss.InDelta(lossColumn, 1e-6))
}

func TestBinaryCrossentropy(t *testing.T) {
	ops := testOps(t)
	labels := tensors.FromFlatAndDimensions([]float32{1, 0}, 2, 1)
	predictions := tensors.FromFlatAndDimensions([]float32{0.9, 0.2}, 2, 1)
	loss := BinaryCrossentropy{}.Apply(ops, labels, predictions)
	require.Equal(t, []int{2}, loss.Shape().Dimensions)
	// -log(0.9) and -log(0.8).
	assert.InDeltaSlice(t, []float64{0.10536, 0.22314}, loss.Float64Slice(), 1e-4)
}

func TestByName(t *testing.T) {
	assert.Equal(t, "mean_squared_error", ByName("mse").Name())
	assert.Equal(t, "mean_squared_error", ByName("mean_squared_error").Name())
	assert.Equal(t, "categorical_crossentropy", ByName("categorical_crossentropy").Name())
	assert.Equal(t, "binary_crossentropy", ByName("binary_crossentropy").Name())

	err := exceptions.Call(func() { ByName("hinge") })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
	assert.Contains(t, err.Error(), "hinge")
	assert.Contains(t, err.Error(), "sparse_categorical_crossentropy")
}
