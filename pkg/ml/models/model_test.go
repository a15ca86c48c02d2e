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

package models

import (
	"testing"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/backends/simplego"
	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/layers"
	"github.com/gomlx/tapestry/pkg/ml/train"
	"github.com/gomlx/tapestry/pkg/ml/train/losses"
	"github.com/gomlx/tapestry/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackend() backends.Backend { return simplego.New("") }

// clusters is a toy 3-class problem with well-separated classes.
func clusters() (inputs, labels []*tensors.Tensor) {
	in := tensors.FromFlatAndDimensions([]float32{
		0, 0, 0.1, 0.1,
		5, 0, 5.1, 0.1,
		0, 5, 0.1, 5.1,
	}, 6, 2)
	lb := tensors.FromFlatAndDimensions([]float32{0, 0, 1, 1, 2, 2}, 6)
	return []*tensors.Tensor{in}, []*tensors.Tensor{lb}
}

func newClassifier(t *testing.T) *Model {
	t.Helper()
	layers.SetRandomSeed(42)
	x := layers.Input(layers.InputConfig{Shape: shapes.Make(dtypes.Float32, 2)})
	out := layers.NewDense(3).WithActivation("softmax").Apply(x).(*layers.SymbolicTensor)
	return NewModel(ModelConfig{
		Inputs:  []*layers.SymbolicTensor{x},
		Outputs: []*layers.SymbolicTensor{out},
		Name:    "classifier",
		Backend: testBackend(),
	})
}

func TestModelFitEvaluatePredict(t *testing.T) {
	model := newClassifier(t)
	require.False(t, model.Compiled())
	model.Compile(CompileConfig{
		Loss:      "sparse_categorical_crossentropy",
		Optimizer: optimizers.SGD().WithLearningRate(0.5).Done(),
		Metrics:   []any{"accuracy"},
	})
	require.True(t, model.Compiled())

	inputs, labels := clusters()
	history, err := model.Fit(inputs, labels, &FitConfig{
		BatchSize: 2,
		Epochs:    40,
		Yield:     train.YieldNever,
	})
	require.NoError(t, err)
	require.Len(t, history.Epochs, 40)

	logs, err := model.Evaluate(inputs, labels, 0)
	require.NoError(t, err)
	assert.Greater(t, logs["acc"], 0.9)
	assert.Less(t, logs["loss"], 1.0)

	predictions, err := model.Predict1(inputs[0])
	require.NoError(t, err)
	assert.Equal(t, []int{6, 3}, predictions.Shape().Dimensions)
	// Softmax rows sum to one.
	row := predictions.Float64Slice()[:3]
	assert.InDelta(t, 1.0, row[0]+row[1]+row[2], 1e-5)
}

func TestModelMustBeCompiled(t *testing.T) {
	model := newClassifier(t)
	inputs, labels := clusters()

	history, err := model.Fit(inputs, labels, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `model "classifier" must be compiled before Fit`)
	assert.NotNil(t, history)

	_, err = model.Evaluate(inputs, labels, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be compiled before Evaluate")
}

func TestModelValidationSplit(t *testing.T) {
	model := newClassifier(t)
	model.Compile(CompileConfig{Loss: losses.SparseCategoricalCrossentropy{}})

	inputs, labels := clusters()
	history, err := model.Fit(inputs, labels, &FitConfig{
		BatchSize:       2,
		Epochs:          2,
		NoShuffle:       true,
		ValidationSplit: 1.0 / 3.0,
		Yield:           train.YieldNever,
	})
	require.NoError(t, err)
	assert.Contains(t, history.Metrics, "val_loss")
}

func TestModelValidationData(t *testing.T) {
	model := newClassifier(t)
	model.Compile(CompileConfig{Loss: losses.SparseCategoricalCrossentropy{}})

	inputs, labels := clusters()
	history, err := model.Fit(inputs, labels, &FitConfig{
		BatchSize:      2,
		Epochs:         2,
		ValidationData: &Data{Inputs: inputs, Labels: labels},
		Yield:          train.YieldNever,
	})
	require.NoError(t, err)
	assert.Len(t, history.Metrics["val_loss"], 2)
}

func TestModelPredictShapeError(t *testing.T) {
	model := newClassifier(t)
	_, err := model.Predict(tensors.FromFlatAndDimensions([]float32{1, 2, 3}, 1, 3))
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
}

func TestModelGetSetWeights(t *testing.T) {
	model := newClassifier(t)
	saved := model.GetWeights()
	require.Len(t, saved, 2)

	// Mutating the returned clones must not touch the model.
	tensors.MutableFlatData[float32](saved[0])[0] = 123
	assert.NotEqual(t, 123.0, model.Weights()[0].Value().Float64Slice()[0])

	other := newClassifier(t)
	require.NoError(t, other.SetWeights(model.GetWeights()))
	assert.True(t, other.Weights()[0].Value().InDelta(model.Weights()[0].Value(), 0))

	err := other.SetWeights(saved[:1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 2 weights, got 1 values")
}

func TestSequential(t *testing.T) {
	layers.SetRandomSeed(42)
	seq := NewSequential("mlp",
		layers.NewInputLayer(layers.InputConfig{Shape: shapes.Make(dtypes.Float32, 2)}),
		layers.NewDense(8).WithActivation("relu"),
	)
	seq.Add(layers.NewDense(3).WithActivation("softmax"))
	seq.Compile(CompileConfig{
		Loss:      "sparse_categorical_crossentropy",
		Optimizer: "sgd",
		Metrics:   []any{"accuracy"},
	})

	inputs, labels := clusters()
	history, err := seq.Fit(inputs, labels, &FitConfig{
		BatchSize: 3,
		Epochs:    5,
		Yield:     train.YieldNever,
	})
	require.NoError(t, err)
	assert.Len(t, history.Epochs, 5)
	assert.Len(t, seq.Layers(), 3)

	// The stack is frozen after resolution.
	err = exceptions.Call(func() { seq.Add(layers.NewDense(1)) })
	require.Error(t, err)
	assert.True(t, exceptions.IsRuntimeError(err))
	assert.Contains(t, err.Error(), "already resolved")
}

func TestSequentialValidation(t *testing.T) {
	err := exceptions.Call(func() {
		NewSequential("tiny", layers.NewInputLayer(layers.InputConfig{
			Shape: shapes.Make(dtypes.Float32, 2)})).Resolve()
	})
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))
	assert.Contains(t, err.Error(), "at least an input layer")

	err = exceptions.Call(func() {
		NewSequential("headless", layers.NewDense(4), layers.NewDense(2)).Resolve()
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "the first layer must be an InputLayer")
}

func TestCompileResolvers(t *testing.T) {
	model := newClassifier(t)

	err := exceptions.Call(func() { model.Compile(CompileConfig{}) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a Loss is required")

	err = exceptions.Call(func() { model.Compile(CompileConfig{Loss: "nope"}) })
	require.Error(t, err)
	assert.True(t, exceptions.IsValueError(err))

	err = exceptions.Call(func() {
		model.Compile(CompileConfig{Loss: "mse", Optimizer: 3.14})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float64")

	err = exceptions.Call(func() {
		model.Compile(CompileConfig{Loss: "mse", Metrics: []any{42}})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "int")
}

func TestFitIsDeterministicGivenSeed(t *testing.T) {
	run := func() []float64 {
		model := newClassifier(t)
		model.Compile(CompileConfig{
			Loss:      "sparse_categorical_crossentropy",
			Optimizer: optimizers.SGD().WithLearningRate(0.5).Done(),
		})
		inputs, labels := clusters()
		history, err := model.Fit(inputs, labels, &FitConfig{
			BatchSize:   2,
			Epochs:      5,
			ShuffleSeed: 1,
			ClassWeight: train.ClassWeight{0: 1, 1: 10, 2: 1},
			Yield:       train.YieldNever,
		})
		require.NoError(t, err)
		return history.Metrics["loss"]
	}

	// Same initializer seed, same shuffle seed: the loss trajectory reproduces exactly.
	first := run()
	second := run()
	require.Len(t, first, 5)
	assert.Equal(t, first, second)
}
