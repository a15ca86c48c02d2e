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

// Package metrics holds the quality metrics reported during training and evaluation.
//
// Unlike losses, metrics are never differentiated, so they compute on the host directly
// from the tensors' data and return a plain float64 for the batch.
package metrics

import (
	"math"
	"sort"
	"strings"

	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/support/xslices"
)

// Metric scores a batch of predictions against its labels.
type Metric interface {
	// Name is the canonical identifier, e.g. "categorical_accuracy".
	Name() string

	// ShortName is the compact form used in progress lines and History keys, e.g. "acc".
	ShortName() string

	// Apply returns the metric value for the batch.
	Apply(labels, predictions *tensors.Tensor) float64
}

// argMaxRows returns the per-row argmax over the last axis of a flattened tensor.
func argMaxRows(flat []float64, rowSize int) []int {
	rows := len(flat) / rowSize
	result := make([]int, rows)
	for r := 0; r < rows; r++ {
		result[r] = xslices.ArgMax(flat[r*rowSize : (r+1)*rowSize])
	}
	return result
}

// CategoricalAccuracy is the fraction of examples whose predicted class (argmax of the
// last axis) matches the one-hot label.
type CategoricalAccuracy struct{}

// Name implements Metric.
func (CategoricalAccuracy) Name() string { return "categorical_accuracy" }

// ShortName implements Metric.
func (CategoricalAccuracy) ShortName() string { return "acc" }

// Apply implements Metric.
func (CategoricalAccuracy) Apply(labels, predictions *tensors.Tensor) float64 {
	numClasses := predictions.Shape().Dim(-1)
	predicted := argMaxRows(predictions.Float64Slice(), numClasses)
	expected := argMaxRows(labels.Float64Slice(), numClasses)
	return matchFraction(expected, predicted)
}

// SparseCategoricalAccuracy is CategoricalAccuracy with integer class labels.
type SparseCategoricalAccuracy struct{}

// Name implements Metric.
func (SparseCategoricalAccuracy) Name() string { return "sparse_categorical_accuracy" }

// ShortName implements Metric.
func (SparseCategoricalAccuracy) ShortName() string { return "acc" }

// Apply implements Metric.
func (SparseCategoricalAccuracy) Apply(labels, predictions *tensors.Tensor) float64 {
	numClasses := predictions.Shape().Dim(-1)
	predicted := argMaxRows(predictions.Float64Slice(), numClasses)
	labelValues := labels.Float64Slice()
	expected := make([]int, len(labelValues))
	for i, v := range labelValues {
		expected[i] = int(v)
	}
	return matchFraction(expected, predicted)
}

// BinaryAccuracy is the fraction of values on the right side of the 0.5 threshold.
type BinaryAccuracy struct{}

// Name implements Metric.
func (BinaryAccuracy) Name() string { return "binary_accuracy" }

// ShortName implements Metric.
func (BinaryAccuracy) ShortName() string { return "acc" }

// Apply implements Metric.
func (BinaryAccuracy) Apply(labels, predictions *tensors.Tensor) float64 {
	labelValues := labels.Float64Slice()
	predValues := predictions.Float64Slice()
	matches := 0
	for i := range predValues {
		if (predValues[i] > 0.5) == (labelValues[i] > 0.5) {
			matches++
		}
	}
	return float64(matches) / float64(len(predValues))
}

// MeanAbsoluteError is the mean of |prediction - label| over all values of the batch.
type MeanAbsoluteError struct{}

// Name implements Metric.
func (MeanAbsoluteError) Name() string { return "mean_absolute_error" }

// ShortName implements Metric.
func (MeanAbsoluteError) ShortName() string { return "mae" }

// Apply implements Metric.
func (MeanAbsoluteError) Apply(labels, predictions *tensors.Tensor) float64 {
	labelValues := labels.Float64Slice()
	predValues := predictions.Float64Slice()
	total := 0.0
	for i := range predValues {
		total += math.Abs(predValues[i] - labelValues[i])
	}
	return total / float64(len(predValues))
}

func matchFraction(expected, predicted []int) float64 {
	matches := 0
	for i := range expected {
		if expected[i] == predicted[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(expected))
}

var metricsByName = map[string]func() Metric{
	"categorical_accuracy":        func() Metric { return CategoricalAccuracy{} },
	"sparse_categorical_accuracy": func() Metric { return SparseCategoricalAccuracy{} },
	"binary_accuracy":             func() Metric { return BinaryAccuracy{} },
	"accuracy":                    func() Metric { return CategoricalAccuracy{} },
	"mean_absolute_error":         func() Metric { return MeanAbsoluteError{} },
	"mae":                         func() Metric { return MeanAbsoluteError{} },
}

// ByName returns the metric registered under the given name. It panics with a ValueError
// listing the known names if not found.
func ByName(name string) Metric {
	builder, found := metricsByName[name]
	if !found {
		names := make([]string, 0, len(metricsByName))
		for n := range metricsByName {
			names = append(names, n)
		}
		sort.Strings(names)
		exceptions.PanicValuef("metrics.ByName: unknown metric %q, valid names are %s",
			name, strings.Join(names, ", "))
	}
	return builder()
}
