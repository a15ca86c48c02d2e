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

// Package losses holds the loss functions used to train models.
//
// A Loss maps (labels, predictions) to a per-example loss tensor of shape [batch]. The
// training loop is responsible for the (optionally class-weighted) reduction to a scalar,
// so losses here never average over the batch themselves.
package losses

import (
	"sort"
	"strings"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
)

// Loss computes a per-example loss: Apply returns a rank-1 tensor of shape [batch].
//
// Apply goes through backends.Ops, so the same code runs eagerly (Model.Evaluate) or
// recorded for differentiation (Model.Fit).
type Loss interface {
	// Name is the canonical identifier, e.g. "mean_squared_error".
	Name() string

	// Apply computes the per-example loss for the batch.
	Apply(ops backends.Ops, labels, predictions *tensors.Tensor) *tensors.Tensor
}

// logEpsilon keeps Log away from 0 in the crossentropy losses.
const logEpsilon = 1e-7

// scalarOf builds a scalar constant with the dtype of the reference tensor.
func scalarOf(value float64, like *tensors.Tensor) *tensors.Tensor {
	return tensors.FromScalar(value).CastTo(like.DType())
}

// safeLog returns log(x + epsilon).
func safeLog(ops backends.Ops, x *tensors.Tensor) *tensors.Tensor {
	return ops.Log(ops.Add(x, scalarOf(logEpsilon, x)))
}

// MeanSquaredError is the mean over the last axis of the squared differences.
type MeanSquaredError struct{}

// Name implements Loss.
func (MeanSquaredError) Name() string { return "mean_squared_error" }

// Apply implements Loss.
func (MeanSquaredError) Apply(ops backends.Ops, labels, predictions *tensors.Tensor) *tensors.Tensor {
	diff := ops.Sub(predictions, labels)
	sum := ops.ReduceSum(ops.Mul(diff, diff), predictions.Rank()-1)
	return ops.Mul(sum, scalarOf(1.0/float64(predictions.Shape().Dim(-1)), predictions))
}

// CategoricalCrossentropy expects one-hot labels and probability predictions (e.g. the
// output of a softmax layer), both of shape [batch, numClasses].
type CategoricalCrossentropy struct{}

// Name implements Loss.
func (CategoricalCrossentropy) Name() string { return "categorical_crossentropy" }

// Apply implements Loss.
func (CategoricalCrossentropy) Apply(ops backends.Ops, labels, predictions *tensors.Tensor) *tensors.Tensor {
	perClass := ops.Mul(labels, safeLog(ops, predictions))
	return ops.Neg(ops.ReduceSum(perClass, predictions.Rank()-1))
}

// SparseCategoricalCrossentropy is CategoricalCrossentropy with integer class labels of
// shape [batch] (or [batch, 1]) instead of one-hot vectors.
type SparseCategoricalCrossentropy struct{}

// Name implements Loss.
func (SparseCategoricalCrossentropy) Name() string { return "sparse_categorical_crossentropy" }

// Apply implements Loss.
func (SparseCategoricalCrossentropy) Apply(ops backends.Ops, labels, predictions *tensors.Tensor) *tensors.Tensor {
	numClasses := predictions.Shape().Dim(-1)
	indices := labels
	if indices.Rank() == 2 {
		indices = ops.Reshape(indices, indices.Shape().Dim(0))
	}
	if indices.DType() != dtypes.Int32 {
		indices = ops.Cast(indices, dtypes.Int32)
	}
	oneHot := ops.OneHot(indices, numClasses, predictions.DType())
	return CategoricalCrossentropy{}.Apply(ops, oneHot, predictions)
}

// BinaryCrossentropy expects labels in {0, 1} and probability predictions in (0, 1), both
// of shape [batch, n]. The loss is averaged over the last axis.
type BinaryCrossentropy struct{}

// Name implements Loss.
func (BinaryCrossentropy) Name() string { return "binary_crossentropy" }

// Apply implements Loss.
func (BinaryCrossentropy) Apply(ops backends.Ops, labels, predictions *tensors.Tensor) *tensors.Tensor {
	one := scalarOf(1, predictions)
	positive := ops.Mul(labels, safeLog(ops, predictions))
	negative := ops.Mul(ops.Sub(one, labels), safeLog(ops, ops.Sub(one, predictions)))
	sum := ops.Neg(ops.ReduceSum(ops.Add(positive, negative), predictions.Rank()-1))
	return ops.Mul(sum, scalarOf(1.0/float64(predictions.Shape().Dim(-1)), predictions))
}

var lossesByName = map[string]func() Loss{
	"mean_squared_error":              func() Loss { return MeanSquaredError{} },
	"mse":                             func() Loss { return MeanSquaredError{} },
	"categorical_crossentropy":        func() Loss { return CategoricalCrossentropy{} },
	"sparse_categorical_crossentropy": func() Loss { return SparseCategoricalCrossentropy{} },
	"binary_crossentropy":             func() Loss { return BinaryCrossentropy{} },
}

// ByName returns the loss registered under the given name. It panics with a ValueError
// listing the known names if not found.
func ByName(name string) Loss {
	builder, found := lossesByName[name]
	if !found {
		names := make([]string, 0, len(lossesByName))
		for n := range lossesByName {
			names = append(names, n)
		}
		sort.Strings(names)
		exceptions.PanicValuef("losses.ByName: unknown loss %q, valid names are %s",
			name, strings.Join(names, ", "))
	}
	return builder()
}
