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

package train

import (
	"testing"

	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardizeClassWeights(t *testing.T) {
	single := []string{"output"}

	perOutput := standardizeClassWeights(nil, single)
	require.Len(t, perOutput, 1)
	assert.Nil(t, perOutput[0])

	cw := ClassWeight{0: 1, 1: 10}
	perOutput = standardizeClassWeights(cw, single)
	assert.Equal(t, cw, perOutput[0])

	// Plain map form.
	perOutput = standardizeClassWeights(map[int]float64{0: 2}, single)
	assert.Equal(t, ClassWeight{0: 2}, perOutput[0])

	// Slice form, nil entries allowed.
	multi := []string{"a", "b"}
	perOutput = standardizeClassWeights([]ClassWeight{nil, {1: 3}}, multi)
	assert.Nil(t, perOutput[0])
	assert.Equal(t, ClassWeight{1: 3}, perOutput[1])

	// Map-by-output-name form; missing names stay unweighted.
	perOutput = standardizeClassWeights(map[string]ClassWeight{"b": {0: 5}}, multi)
	assert.Nil(t, perOutput[0])
	assert.Equal(t, ClassWeight{0: 5}, perOutput[1])
}

func TestStandardizeClassWeightsErrors(t *testing.T) {
	multi := []string{"a", "b"}

	err := exceptions.Call(func() { standardizeClassWeights(ClassWeight{0: 1}, multi) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
	assert.Contains(t, err.Error(), "2 outputs")

	err = exceptions.Call(func() { standardizeClassWeights([]ClassWeight{{0: 1}}, multi) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 entries for 2 model outputs")

	err = exceptions.Call(func() { standardizeClassWeights(map[string]ClassWeight{"c": {0: 1}}, multi) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown output name "c"`)

	err = exceptions.Call(func() { standardizeClassWeights(42, multi) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "int")
}

func TestSampleWeightsFromSparseLabels(t *testing.T) {
	weights := ClassWeight{0: 1, 1: 10, 2: 2}

	labels := tensors.FromFlatAndDimensions([]float32{0, 1, 2, 1}, 4)
	assert.Equal(t, []float64{1, 10, 2, 10}, sampleWeightsFromLabels(labels, weights))

	// A [batch, 1] column behaves like rank 1.
	column := tensors.FromFlatAndDimensions([]int32{2, 0}, 2, 1)
	assert.Equal(t, []float64{2, 1}, sampleWeightsFromLabels(column, weights))
}

func TestSampleWeightsFromOneHotLabels(t *testing.T) {
	weights := ClassWeight{0: 1, 1: 10}
	labels := tensors.FromFlatAndDimensions([]float32{1, 0, 0, 1}, 2, 2)
	assert.Equal(t, []float64{1, 10}, sampleWeightsFromLabels(labels, weights))
}

func TestSampleWeightsMissingClass(t *testing.T) {
	labels := tensors.FromFlatAndDimensions([]float32{0, 3}, 2)
	err := exceptions.Call(func() { sampleWeightsFromLabels(labels, ClassWeight{0: 1}) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
	assert.Contains(t, err.Error(),
		"classWeight must contain all classes in the labels: class 3 exists in the data but not in classWeight")
}
