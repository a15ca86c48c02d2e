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
	"math/rand"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/layers"
	"github.com/gomlx/tapestry/pkg/ml/train"
	"github.com/gomlx/tapestry/pkg/ml/train/commandline"
	"github.com/gomlx/tapestry/pkg/ml/train/losses"
	"github.com/gomlx/tapestry/pkg/ml/train/metrics"
	"github.com/gomlx/tapestry/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Model is a trainable Container: it owns a backend, and once compiled with a loss and an
// optimizer it can Fit, Evaluate and Predict.
type Model struct {
	*Container

	backend   backends.Backend
	losses    []losses.Loss
	optimizer optimizers.Interface
	metrics   []metrics.Metric
	trainer   *train.Trainer
}

// ModelConfig configures NewModel.
type ModelConfig struct {
	// Inputs and Outputs delimit the graph.
	Inputs  []*layers.SymbolicTensor
	Outputs []*layers.SymbolicTensor

	// Name of the model. Auto-generated when empty.
	Name string

	// Backend to execute on. Defaults to layers.DefaultBackend().
	Backend backends.Backend
}

// NewModel resolves the graph between the given inputs and outputs into a Model. It
// panics (ValueError/RuntimeError) on an empty or disconnected graph.
func NewModel(config ModelConfig) *Model {
	name := config.Name
	if name == "" {
		name = "model"
	}
	backend := config.Backend
	if backend == nil {
		backend = layers.DefaultBackend()
	}
	return &Model{
		Container: NewContainer(name, config.Inputs, config.Outputs),
		backend:   backend,
	}
}

// Backend the model executes on.
func (m *Model) Backend() backends.Backend { return m.backend }

// CompileConfig configures Model.Compile.
type CompileConfig struct {
	// Loss is a loss name (see losses.ByName), a losses.Loss, or a slice of either with
	// one entry per model output.
	Loss any

	// Optimizer is an optimizer name (see optimizers.ByName) or an optimizers.Interface.
	// Defaults to SGD.
	Optimizer any

	// Metrics are metric names (see metrics.ByName) or metrics.Metric values, computed
	// per output on every batch.
	Metrics []any
}

// Compile binds loss, optimizer and metrics, making the model trainable. It panics with a
// ValueError on unknown names or malformed arguments.
func (m *Model) Compile(config CompileConfig) {
	m.losses = resolveLosses(config.Loss)
	m.optimizer = resolveOptimizer(config.Optimizer)
	m.metrics = resolveMetrics(config.Metrics)
	m.trainer = train.NewTrainer(m.backend, m, m.losses, m.optimizer, m.metrics)
}

func resolveLosses(arg any) []losses.Loss {
	switch v := arg.(type) {
	case nil:
		exceptions.PanicValuef("Model.Compile: a Loss is required")
	case string:
		return []losses.Loss{losses.ByName(v)}
	case losses.Loss:
		return []losses.Loss{v}
	case []losses.Loss:
		return v
	case []string:
		result := make([]losses.Loss, len(v))
		for i, name := range v {
			result[i] = losses.ByName(name)
		}
		return result
	}
	exceptions.PanicValuef("Model.Compile: Loss must be a name, a losses.Loss or a slice of either, got %T", arg)
	return nil
}

func resolveOptimizer(arg any) optimizers.Interface {
	switch v := arg.(type) {
	case nil:
		return optimizers.SGD().Done()
	case string:
		return optimizers.ByName(v)
	case optimizers.Interface:
		return v
	}
	exceptions.PanicValuef("Model.Compile: Optimizer must be a name or an optimizers.Interface, got %T", arg)
	return nil
}

func resolveMetrics(args []any) []metrics.Metric {
	result := make([]metrics.Metric, 0, len(args))
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			result = append(result, metrics.ByName(v))
		case metrics.Metric:
			result = append(result, v)
		default:
			exceptions.PanicValuef("Model.Compile: Metrics entries must be names or metrics.Metric, got %T", arg)
		}
	}
	return result
}

// Compiled reports whether Compile has run.
func (m *Model) Compiled() bool { return m.trainer != nil }

// Predict runs the forward pass eagerly on a batch and returns one tensor per output.
// Panics from shape validation are converted to a returned error.
func (m *Model) Predict(inputs ...*tensors.Tensor) (outputs []*tensors.Tensor, err error) {
	err = exceptions.Call(func() {
		outputs = m.Forward(m.backend.Ops(), inputs)
	})
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// Predict1 is Predict for single-input single-output models.
func (m *Model) Predict1(input *tensors.Tensor) (*tensors.Tensor, error) {
	outputs, err := m.Predict(input)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// FitConfig configures Model.Fit.
type FitConfig struct {
	// BatchSize defaults to 32.
	BatchSize int

	// Epochs defaults to 1.
	Epochs int

	// Shuffle reshuffles the training samples every epoch. Defaults to true; set
	// NoShuffle to disable.
	NoShuffle bool

	// ShuffleSeed seeds the shuffling; 0 uses a fixed default seed.
	ShuffleSeed int64

	// ValidationSplit carves the final fraction of the samples out as validation data,
	// before shuffling. Ignored when ValidationData is set.
	ValidationSplit float64

	// ValidationData optionally supplies explicit validation inputs/labels.
	ValidationData *Data

	// ClassWeight reweights examples by class in the loss: a train.ClassWeight for
	// single-output models, a []train.ClassWeight parallel to the outputs (nil entries
	// allowed), or a map[string]train.ClassWeight keyed by output name.
	ClassWeight any

	// Callbacks observe the run, in order.
	Callbacks []train.Callback

	// Yield controls cooperative processor yielding between batches.
	Yield train.YieldMode

	// Verbose enables the command-line progress bar.
	Verbose bool
}

// Data is a set of input and label tensors.
type Data struct {
	Inputs []*tensors.Tensor
	Labels []*tensors.Tensor
}

// Fit trains the model. inputs and labels hold one tensor per model input/output, all
// with the same number of samples on axis 0.
//
// The returned History is never nil: on a mid-training error it retains the epochs that
// completed.
func (m *Model) Fit(inputs, labels []*tensors.Tensor, config *FitConfig) (*train.History, error) {
	if m.trainer == nil {
		return train.NewHistory(), errors.Errorf("model %q must be compiled before Fit", m.Name())
	}
	if config == nil {
		config = &FitConfig{}
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	var trainDS, validationDS train.Dataset
	err := exceptions.Call(func() {
		ds := train.NewInMemoryDataset(m.Name(), inputs, labels).WithBatchSize(batchSize)
		if !config.NoShuffle {
			seed := config.ShuffleSeed
			if seed == 0 {
				seed = 42
			}
			ds.WithShuffle(rand.New(rand.NewSource(seed)))
		}
		switch {
		case config.ValidationData != nil:
			trainDS = ds
			validationDS = train.NewInMemoryDataset(m.Name()+"_val",
				config.ValidationData.Inputs, config.ValidationData.Labels).WithBatchSize(batchSize)
		case config.ValidationSplit > 0:
			head, tail := ds.Split(config.ValidationSplit)
			trainDS, validationDS = head, tail
		default:
			trainDS = ds
		}
	})
	if err != nil {
		return train.NewHistory(), err
	}

	callbacks := config.Callbacks
	if config.Verbose {
		callbacks = append([]train.Callback{commandline.NewProgressBar()}, callbacks...)
	}
	return m.trainer.Fit(trainDS, validationDS, &train.FitConfig{
		Epochs:      config.Epochs,
		Callbacks:   callbacks,
		ClassWeight: config.ClassWeight,
		Yield:       config.Yield,
		Verbose:     config.Verbose,
	})
}

// Evaluate scores the model over the given data, returning the size-weighted means of
// loss and metrics.
func (m *Model) Evaluate(inputs, labels []*tensors.Tensor, batchSize int) (train.Logs, error) {
	if m.trainer == nil {
		return nil, errors.Errorf("model %q must be compiled before Evaluate", m.Name())
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	var ds *train.InMemoryDataset
	err := exceptions.Call(func() {
		ds = train.NewInMemoryDataset(m.Name()+"_eval", inputs, labels).WithBatchSize(batchSize)
	})
	if err != nil {
		return nil, err
	}
	return m.trainer.Evaluate(ds)
}

// GetWeights returns clones of all weight values, in the container's weight order.
func (m *Model) GetWeights() []*tensors.Tensor {
	weights := m.Weights()
	values := make([]*tensors.Tensor, len(weights))
	for i, w := range weights {
		values[i] = w.Value().Clone()
	}
	return values
}

// SetWeights replaces all weight values. values must be parallel to GetWeights: same
// count, shapes and dtypes, or a ValueError is returned.
func (m *Model) SetWeights(values []*tensors.Tensor) error {
	return exceptions.Call(func() {
		weights := m.Weights()
		if len(values) != len(weights) {
			exceptions.PanicValuef("model %q has %d weights, got %d values",
				m.Name(), len(weights), len(values))
		}
		for i, w := range weights {
			w.SetValue(values[i].Clone())
		}
	})
}
