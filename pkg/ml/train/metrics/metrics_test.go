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

package metrics

import (
	"testing"

	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoricalAccuracy(t *testing.T) {
	labels := tensors.FromFlatAndDimensions([]float32{0, 1, 0, 1, 0, 0, 0, 0, 1}, 3, 3)
	predictions := tensors.FromFlatAndDimensions([]float32{
		0.1, 0.7, 0.2, // correct (class 1)
		0.2, 0.5, 0.3, // wrong (predicts 1, true 0)
		0.1, 0.2, 0.7, // correct (class 2)
	}, 3, 3)
	acc := CategoricalAccuracy{}.Apply(labels, predictions)
	assert.InDelta(t, 2.0/3.0, acc, 1e-9)
}

func TestSparseCategoricalAccuracy(t *testing.T) {
	predictions := tensors.FromFlatAndDimensions([]float32{
		0.1, 0.7, 0.2,
		0.2, 0.5, 0.3,
	}, 2, 3)
	labels := tensors.FromFlatAndDimensions([]float32{1, 0}, 2)
	assert.InDelta(t, 0.5, SparseCategoricalAccuracy{}.Apply(labels, predictions), 1e-9)

	column := tensors.FromFlatAndDimensions([]int32{1, 0}, 2, 1)
	assert.InDelta(t, 0.5, SparseCategoricalAccuracy{}.Apply(column, predictions), 1e-9)
}

func TestBinaryAccuracy(t *testing.T) {
	labels := tensors.FromFlatAndDimensions([]float32{1, 0, 1, 0}, 4, 1)
	predictions := tensors.FromFlatAndDimensions([]float32{0.9, 0.3, 0.4, 0.6}, 4, 1)
	assert.InDelta(t, 0.5, BinaryAccuracy{}.Apply(labels, predictions), 1e-9)
}

func TestMeanAbsoluteError(t *testing.T) {
	labels := tensors.FromFlatAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	predictions := tensors.FromFlatAndDimensions([]float32{2, 2, 3, 2}, 2, 2)
	assert.InDelta(t, 0.75, MeanAbsoluteError{}.Apply(labels, predictions), 1e-9)
}

func TestShortNames(t *testing.T) {
	assert.Equal(t, "acc", CategoricalAccuracy{}.ShortName())
	assert.Equal(t, "acc", SparseCategoricalAccuracy{}.ShortName())
	assert.Equal(t, "acc", BinaryAccuracy{}.ShortName())
	assert.Equal(t, "mae", MeanAbsoluteError{}.ShortName())
}

func TestByName(t *testing.T) {
	assert.Equal(t, "categorical_accuracy", ByName("accuracy").Name())
	assert.Equal(t, "mean_absolute_error", ByName("mae").Name())

	err := exceptions.Call(func() { ByName("auc") })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
	assert.Contains(t, err.Error(), "auc")
}
