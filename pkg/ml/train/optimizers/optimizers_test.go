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

package optimizers

import (
	"testing"

	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testWeights builds a Dense layer with a "zeros" kernel so updates are easy to predict.
func testWeights(t *testing.T) []*layers.Weight {
	t.Helper()
	dense := layers.NewDense(2).WithKernelInitializer("zeros")
	dense.Apply(layers.Input(layers.InputConfig{Shape: shapes.Make(dtypes.Float32, 2)}))
	return dense.TrainableWeights()
}

func gradsLike(weights []*layers.Weight, value float32) []*tensors.Tensor {
	grads := make([]*tensors.Tensor, len(weights))
	for ii, w := range weights {
		g := tensors.Zeros(w.Shape())
		flat := tensors.MutableFlatData[float32](g)
		for jj := range flat {
			flat[jj] = value
		}
		grads[ii] = g
	}
	return grads
}

func TestSGDStep(t *testing.T) {
	weights := testWeights(t)
	opt := SGD().WithLearningRate(0.1).Done()
	assert.Equal(t, "sgd", opt.Name())

	opt.Apply(weights, gradsLike(weights, 1))
	for _, w := range weights {
		for _, v := range w.Value().Float64Slice() {
			assert.InDelta(t, -0.1, v, 1e-6)
		}
	}
	opt.Apply(weights, gradsLike(weights, 1))
	for _, w := range weights {
		for _, v := range w.Value().Float64Slice() {
			assert.InDelta(t, -0.2, v, 1e-6)
		}
	}
}

func TestSGDMomentum(t *testing.T) {
	weights := testWeights(t)
	opt := SGD().WithLearningRate(0.1).WithMomentum(0.9).Done()

	// velocity = 0.9*velocity - lr*grad; weight += velocity.
	opt.Apply(weights, gradsLike(weights, 1))
	assert.InDelta(t, -0.1, weights[0].Value().Float64Slice()[0], 1e-6)
	opt.Apply(weights, gradsLike(weights, 1))
	assert.InDelta(t, -0.29, weights[0].Value().Float64Slice()[0], 1e-6)
}

func TestSGDMomentumValidation(t *testing.T) {
	err := exceptions.Call(func() { SGD().WithMomentum(1.0) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))

	err = exceptions.Call(func() { SGD().WithMomentum(-0.1) })
	require.Error(t, err)
}

func TestAdamStep(t *testing.T) {
	weights := testWeights(t)
	opt := Adam().WithLearningRate(0.001).Done()
	assert.Equal(t, "adam", opt.Name())

	// With a constant gradient the bias-corrected first step is ~ -lr * g/|g| = -lr.
	opt.Apply(weights, gradsLike(weights, 5))
	for _, v := range weights[0].Value().Float64Slice() {
		assert.InDelta(t, -0.001, v, 1e-4)
	}

	// Constant gradients keep pushing in the same direction.
	before := weights[0].Value().Float64Slice()[0]
	opt.Apply(weights, gradsLike(weights, 5))
	assert.Less(t, weights[0].Value().Float64Slice()[0], before)
}

func TestConfig(t *testing.T) {
	sgd := SGD().WithLearningRate(0.05).WithMomentum(0.8).Done()
	config := sgd.Config()
	assert.InDelta(t, 0.05, config["learning_rate"].(float64), 1e-9)
	assert.InDelta(t, 0.8, config["momentum"].(float64), 1e-9)

	adam := Adam().Done()
	assert.InDelta(t, 0.001, adam.Config()["learning_rate"].(float64), 1e-9)
}

func TestByName(t *testing.T) {
	assert.Equal(t, "sgd", ByName("sgd").Name())
	assert.Equal(t, "adam", ByName("adam").Name())

	err := exceptions.Call(func() { ByName("rmsprop") })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
	assert.Contains(t, err.Error(), "rmsprop")
}

func TestMismatchedGradients(t *testing.T) {
	weights := testWeights(t)
	grads := gradsLike(weights, 1)
	// Mismatched lengths are a programming error.
	err := exceptions.Call(func() { SGD().Done().Apply(weights, grads[:1]) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
}
