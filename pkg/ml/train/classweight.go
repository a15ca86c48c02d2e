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
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/support/xslices"
)

// ClassWeight maps a class index to the weight its examples get in the loss. Classes
// absent from the map are an error, caught before training starts on the first batch.
type ClassWeight map[int]float64

// standardizeClassWeights normalizes the user-facing class-weight argument into one
// ClassWeight per model output (nil meaning unweighted). Accepted forms:
//
//   - ClassWeight (or map[int]float64): single-output models only.
//   - []ClassWeight: parallel to the outputs, nil entries allowed.
//   - map[string]ClassWeight: keyed by output name; missing names are unweighted.
//
// It panics with a ValueError on any other type, on a length mismatch, or on an unknown
// output name.
func standardizeClassWeights(classWeight any, outputNames []string) []ClassWeight {
	perOutput := make([]ClassWeight, len(outputNames))
	switch cw := classWeight.(type) {
	case nil:
	case ClassWeight:
		if len(outputNames) > 1 {
			exceptions.PanicValuef(
				"classWeight: model has %d outputs, provide a slice or a map keyed by output name",
				len(outputNames))
		}
		perOutput[0] = cw
	case map[int]float64:
		return standardizeClassWeights(ClassWeight(cw), outputNames)
	case []ClassWeight:
		if len(cw) != len(outputNames) {
			exceptions.PanicValuef("classWeight: got %d entries for %d model outputs",
				len(cw), len(outputNames))
		}
		copy(perOutput, cw)
	case map[string]ClassWeight:
		for name, weights := range cw {
			idx := xslices.IndexOf(outputNames, name)
			if idx < 0 {
				exceptions.PanicValuef("classWeight: unknown output name %q, model outputs are %v",
					name, outputNames)
			}
			perOutput[idx] = weights
		}
	default:
		exceptions.PanicValuef(
			"classWeight: expected ClassWeight, []ClassWeight or map[string]ClassWeight, got %T",
			classWeight)
	}
	return perOutput
}

// sampleWeightsFromLabels expands per-class weights into a per-example weight vector for
// the batch. Sparse integer labels (rank 1, or rank 2 with a single column) use the label
// value as the class; one-hot labels use the argmax of the last axis.
//
// A class present in the labels but absent from weights gets a ValueError naming it.
func sampleWeightsFromLabels(labels *tensors.Tensor, weights ClassWeight) []float64 {
	values := labels.Float64Slice()
	batchSize := labels.Shape().Dim(0)
	classes := make([]int, batchSize)
	switch {
	case labels.Rank() == 1 || (labels.Rank() == 2 && labels.Shape().Dim(1) == 1):
		for i := 0; i < batchSize; i++ {
			classes[i] = int(values[i])
		}
	default:
		rowSize := len(values) / batchSize
		for i := 0; i < batchSize; i++ {
			classes[i] = xslices.ArgMax(values[i*rowSize : (i+1)*rowSize])
		}
	}

	result := make([]float64, batchSize)
	for i, class := range classes {
		w, found := weights[class]
		if !found {
			exceptions.PanicValuef(
				"classWeight must contain all classes in the labels: class %d exists in the data but not in classWeight",
				class)
		}
		result[i] = w
	}
	return result
}
