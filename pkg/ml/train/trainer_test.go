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

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/backends/simplego"
	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/layers"
	"github.com/gomlx/tapestry/pkg/ml/train/losses"
	"github.com/gomlx/tapestry/pkg/ml/train/metrics"
	"github.com/gomlx/tapestry/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// denseModel adapts a single built Dense layer to the Trainable interface.
type denseModel struct {
	dense *layers.Dense
}

func newDenseModel(t *testing.T, units, features int, activation string) *denseModel {
	t.Helper()
	layers.SetRandomSeed(42)
	dense := layers.NewDense(units).WithActivation(activation)
	dense.Apply(layers.Input(layers.InputConfig{Shape: shapes.Make(dtypes.Float32, features)}))
	return &denseModel{dense: dense}
}

func (m *denseModel) Forward(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	return m.dense.Call(ops, inputs)
}

func (m *denseModel) TrainableWeights() []*layers.Weight { return m.dense.TrainableWeights() }

func (m *denseModel) OutputNames() []string { return []string{m.dense.Name()} }

func regressionDataset(t *testing.T) *InMemoryDataset {
	t.Helper()
	// y = 2x.
	inputs := tensors.FromFlatAndDimensions([]float32{0, 1, 2, 3, 4, 5}, 6, 1)
	labels := tensors.FromFlatAndDimensions([]float32{0, 2, 4, 6, 8, 10}, 6, 1)
	return NewInMemoryDataset("regression",
		[]*tensors.Tensor{inputs}, []*tensors.Tensor{labels}).WithBatchSize(3)
}

func classificationDataset(t *testing.T) *InMemoryDataset {
	t.Helper()
	// Three well-separated clusters in 2D, two samples each.
	inputs := tensors.FromFlatAndDimensions([]float32{
		0, 0, 0.1, 0.1, // class 0
		5, 0, 5.1, 0.1, // class 1
		0, 5, 0.1, 5.1, // class 2
	}, 6, 2)
	labels := tensors.FromFlatAndDimensions([]float32{0, 0, 1, 1, 2, 2}, 6)
	return NewInMemoryDataset("clusters",
		[]*tensors.Tensor{inputs}, []*tensors.Tensor{labels}).WithBatchSize(2)
}

func TestTrainStepReducesLoss(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 1, 1, "linear")
	trainer := NewTrainer(backend, model, []losses.Loss{losses.MeanSquaredError{}},
		optimizers.SGD().WithLearningRate(0.01).Done(), nil)

	inputs := []*tensors.Tensor{tensors.FromFlatAndDimensions([]float32{1, 2, 3}, 3, 1)}
	labels := []*tensors.Tensor{tensors.FromFlatAndDimensions([]float32{2, 4, 6}, 3, 1)}

	first, err := trainer.TrainStep(inputs, labels, nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err = trainer.TrainStep(inputs, labels, nil)
		require.NoError(t, err)
	}
	last, err := trainer.TrainStep(inputs, labels, nil)
	require.NoError(t, err)
	assert.Less(t, last["loss"], first["loss"])
}

func TestFitRegression(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 1, 1, "linear")
	trainer := NewTrainer(backend, model, []losses.Loss{losses.MeanSquaredError{}},
		optimizers.SGD().WithLearningRate(0.02).Done(), []metrics.Metric{metrics.MeanAbsoluteError{}})

	history, err := trainer.Fit(regressionDataset(t), nil, &FitConfig{Epochs: 50, Yield: YieldNever})
	require.NoError(t, err)
	require.Len(t, history.Epochs, 50)

	epochLoss := history.Metrics["loss"]
	assert.Less(t, epochLoss[49], epochLoss[0]/10, "loss should drop sharply on a linear problem")
	assert.Contains(t, history.Metrics, "mae")

	// The learned weight approaches 2.
	kernel := model.dense.TrainableWeights()[0].Value().Float64Slice()
	assert.InDelta(t, 2.0, kernel[0], 0.3)
}

func TestFitClassificationWithClassWeights(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 3, 2, "softmax")
	trainer := NewTrainer(backend, model, []losses.Loss{losses.SparseCategoricalCrossentropy{}},
		optimizers.SGD().WithLearningRate(0.5).Done(),
		[]metrics.Metric{metrics.SparseCategoricalAccuracy{}})

	history, err := trainer.Fit(classificationDataset(t), nil, &FitConfig{
		Epochs:      40,
		ClassWeight: ClassWeight{0: 1, 1: 10, 2: 1},
		Yield:       YieldNever,
	})
	require.NoError(t, err)
	require.Len(t, history.Epochs, 40)
	accuracy := history.Metrics["acc"]
	assert.Greater(t, accuracy[len(accuracy)-1], 0.9, "clusters are separable")
}

func TestFitMissingClassWeight(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 3, 2, "softmax")
	trainer := NewTrainer(backend, model, []losses.Loss{losses.SparseCategoricalCrossentropy{}},
		optimizers.SGD().Done(), nil)

	history, err := trainer.Fit(classificationDataset(t), nil, &FitConfig{
		ClassWeight: ClassWeight{0: 1}, // classes 1 and 2 unlisted
		Yield:       YieldNever,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classWeight must contain all classes in the labels")
	require.NotNil(t, history, "history is returned even on error")
	assert.Empty(t, history.Epochs)
}

func TestFitWithValidation(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 1, 1, "linear")
	trainer := NewTrainer(backend, model, []losses.Loss{losses.MeanSquaredError{}},
		optimizers.SGD().WithLearningRate(0.02).Done(), nil)

	trainDS, valDS := regressionDataset(t).Split(0.5)
	history, err := trainer.Fit(trainDS, valDS, &FitConfig{Epochs: 3, Yield: YieldNever})
	require.NoError(t, err)
	assert.Contains(t, history.Metrics, "loss")
	assert.Contains(t, history.Metrics, "val_loss")
	assert.Len(t, history.Metrics["val_loss"], 3)
}

func TestFitCallbackSequence(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 1, 1, "linear")
	trainer := NewTrainer(backend, model, []losses.Loss{losses.MeanSquaredError{}},
		optimizers.SGD().Done(), nil)

	var trace []string
	spy := &CustomCallback{
		TrainBegin: func() error { trace = append(trace, "train_begin"); return nil },
		TrainEnd:   func() error { trace = append(trace, "train_end"); return nil },
		EpochBegin: func(epoch int) error { trace = append(trace, "epoch_begin"); return nil },
		EpochEnd:   func(epoch int, logs Logs) error { trace = append(trace, "epoch_end"); return nil },
	}
	batches := 0
	counter := &CustomCallback{
		BatchEnd: func(batch int, logs Logs) error {
			batches++
			assert.InDelta(t, float64(batch), logs["batch"], 1e-9)
			assert.Greater(t, logs["size"], 0.0)
			return nil
		},
	}
	_, err := trainer.Fit(regressionDataset(t), nil, &FitConfig{
		Epochs:    2,
		Callbacks: []Callback{spy, counter},
		Yield:     YieldNever,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"train_begin", "epoch_begin", "epoch_end", "epoch_begin", "epoch_end", "train_end",
	}, trace)
	assert.Equal(t, 4, batches, "2 epochs x 2 batches")
}

func TestFitCallbackErrorAborts(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 1, 1, "linear")
	trainer := NewTrainer(backend, model, []losses.Loss{losses.MeanSquaredError{}},
		optimizers.SGD().Done(), nil)

	stop := &CustomCallback{
		EpochEnd: func(epoch int, logs Logs) error {
			if epoch == 1 {
				return errors.New("early stop")
			}
			return nil
		},
	}
	history, err := trainer.Fit(regressionDataset(t), nil, &FitConfig{
		Epochs:    5,
		Callbacks: []Callback{stop},
		Yield:     YieldNever,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "early stop")
	// Epoch 0 completed; epoch 1's logs never reached the History recorder.
	assert.Equal(t, []int{0}, history.Epochs)
}

func TestEvaluate(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 1, 1, "linear")
	trainer := NewTrainer(backend, model, []losses.Loss{losses.MeanSquaredError{}},
		optimizers.SGD().Done(), []metrics.Metric{metrics.MeanAbsoluteError{}})

	logs, err := trainer.Evaluate(regressionDataset(t))
	require.NoError(t, err)
	assert.Contains(t, logs, "loss")
	assert.Contains(t, logs, "mae")

	empty := NewInMemoryDataset("empty",
		[]*tensors.Tensor{tensors.FromFlatAndDimensions([]float32{}, 0, 1)},
		[]*tensors.Tensor{tensors.FromFlatAndDimensions([]float32{}, 0, 1)})
	_, err = trainer.Evaluate(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `dataset "empty" yielded no batches`)
}

func TestCallbackParamsFromDataset(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 1, 1, "linear")
	trainer := NewTrainer(backend, model, []losses.Loss{losses.MeanSquaredError{}},
		optimizers.SGD().Done(), []metrics.Metric{metrics.MeanAbsoluteError{}})

	ds := regressionDataset(t)
	params := trainer.callbackParams(ds, ds, 7, true)
	assert.Equal(t, 7, params.Epochs)
	assert.Equal(t, 2, params.BatchesPerEpoch)
	assert.Equal(t, 6, params.Samples)
	assert.Equal(t, []string{"loss", "mae", "val_loss", "val_mae"}, params.MetricNames)
}

func TestNewTrainerLossCountMismatch(t *testing.T) {
	backend := simplego.New("")
	model := newDenseModel(t, 1, 1, "linear")
	err := exceptions.Call(func() {
		NewTrainer(backend, model,
			[]losses.Loss{losses.MeanSquaredError{}, losses.MeanSquaredError{}},
			optimizers.SGD().Done(), nil)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 2 losses for 1 model outputs")
}

// twoHeadModel adapts two Dense heads sharing one input to the Trainable interface.
type twoHeadModel struct {
	a, b *layers.Dense
}

func newTwoHeadModel(t *testing.T) *twoHeadModel {
	t.Helper()
	layers.SetRandomSeed(42)
	input := layers.Input(layers.InputConfig{Shape: shapes.Make(dtypes.Float32, 2)})
	a := layers.NewDense(2).WithActivation("softmax").WithName("a")
	b := layers.NewDense(2).WithActivation("softmax").WithName("b")
	a.Apply(input)
	b.Apply(input)
	return &twoHeadModel{a: a, b: b}
}

func (m *twoHeadModel) Forward(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	return append(m.a.Call(ops, inputs), m.b.Call(ops, inputs)...)
}

func (m *twoHeadModel) TrainableWeights() []*layers.Weight {
	return append(m.a.TrainableWeights(), m.b.TrainableWeights()...)
}

func (m *twoHeadModel) OutputNames() []string { return []string{"a", "b"} }

func twoHeadDataset(t *testing.T) *InMemoryDataset {
	t.Helper()
	inputs := tensors.FromFlatAndDimensions([]float32{
		0, 0, 0.2, 0.1, 3, 3, 3.1, 2.9, 0, 3, 3, 0,
	}, 6, 2)
	labelsA := tensors.FromFlatAndDimensions([]float32{0, 0, 1, 1, 0, 1}, 6)
	labelsB := tensors.FromFlatAndDimensions([]float32{0, 1, 0, 1, 1, 1}, 6)
	return NewInMemoryDataset("two_head",
		[]*tensors.Tensor{inputs}, []*tensors.Tensor{labelsA, labelsB}).WithBatchSize(3)
}

func TestFitPerOutputClassWeights(t *testing.T) {
	run := func(classWeight any) []float64 {
		model := newTwoHeadModel(t)
		trainer := NewTrainer(simplego.New(""), model,
			[]losses.Loss{losses.SparseCategoricalCrossentropy{}},
			optimizers.SGD().WithLearningRate(0.1).Done(), nil)
		history, err := trainer.Fit(twoHeadDataset(t), nil, &FitConfig{
			Epochs:      3,
			ClassWeight: classWeight,
			Yield:       YieldNever,
		})
		require.NoError(t, err)
		require.Len(t, history.Metrics["loss"], 3)
		return history.Metrics["loss"]
	}

	// A nil slice entry leaves that output unweighted: with all-one weights on the other
	// head the loss trajectory matches the fully unweighted run.
	unweighted := run(nil)
	nilPlusUniform := run([]ClassWeight{nil, {0: 1, 1: 1}})
	for epoch := range unweighted {
		assert.InDelta(t, unweighted[epoch], nilPlusUniform[epoch], 1e-6, "epoch %d", epoch)
	}

	// A skewed weight on the second head must change the trajectory.
	skewed := run([]ClassWeight{nil, {0: 1, 1: 10}})
	assert.Greater(t, abs(skewed[0]-unweighted[0]), 1e-3)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
