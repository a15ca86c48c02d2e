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

// Package train implements the training loop: Trainer runs gradient-descent steps over a
// Dataset, reporting progress through Callbacks and recording it in a History.
package train

import (
	"fmt"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/layers"
	"github.com/gomlx/tapestry/pkg/ml/train/losses"
	"github.com/gomlx/tapestry/pkg/ml/train/metrics"
	"github.com/gomlx/tapestry/pkg/ml/train/optimizers"
)

// Trainable is the surface Trainer needs from a model: a forward pass through an op set
// (eager or recording, the trainer picks) and access to the trainable weights.
type Trainable interface {
	// Forward runs the model on a batch and returns one tensor per output.
	Forward(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor

	// TrainableWeights returns the weights to optimize.
	TrainableWeights() []*layers.Weight

	// OutputNames names the model outputs, parallel to Forward's result.
	OutputNames() []string
}

// Trainer runs training and evaluation steps for a compiled model.
type Trainer struct {
	backend   backends.Backend
	model     Trainable
	losses    []losses.Loss
	optimizer optimizers.Interface
	metrics   []metrics.Metric
}

// NewTrainer creates a Trainer.
//
// lossFns holds one loss per model output; passing a single loss for a multi-output model
// applies it to every output. The total loss optimized is the sum over outputs of each
// output's weighted mean example loss.
func NewTrainer(backend backends.Backend, model Trainable, lossFns []losses.Loss,
	optimizer optimizers.Interface, metricList []metrics.Metric) *Trainer {
	numOutputs := len(model.OutputNames())
	if len(lossFns) == 1 && numOutputs > 1 {
		expanded := make([]losses.Loss, numOutputs)
		for i := range expanded {
			expanded[i] = lossFns[0]
		}
		lossFns = expanded
	}
	if len(lossFns) != numOutputs {
		exceptions.PanicValuef("train.NewTrainer: got %d losses for %d model outputs",
			len(lossFns), numOutputs)
	}
	return &Trainer{
		backend:   backend,
		model:     model,
		losses:    lossFns,
		optimizer: optimizer,
		metrics:   metricList,
	}
}

// Metrics returns the configured metrics.
func (t *Trainer) Metrics() []metrics.Metric { return t.metrics }

// metricKey is the Logs key for a metric on a given output. Single-output models use the
// metric's short name directly; multi-output models prefix the output name.
func (t *Trainer) metricKey(m metrics.Metric, outputIdx int) string {
	if len(t.model.OutputNames()) == 1 {
		return m.ShortName()
	}
	return fmt.Sprintf("%s_%s", t.model.OutputNames()[outputIdx], m.ShortName())
}

// metricKeys lists the Logs keys a step produces, "loss" first.
func (t *Trainer) metricKeys() []string {
	keys := []string{"loss"}
	for i := range t.model.OutputNames() {
		for _, m := range t.metrics {
			keys = append(keys, t.metricKey(m, i))
		}
	}
	return keys
}

// weightedMeanLoss reduces per-example losses to a scalar: sum(w*l) / sum(w), with unit
// weights when sampleWeights is nil.
func weightedMeanLoss(ops backends.Ops, perExample, sampleWeights *tensors.Tensor) *tensors.Tensor {
	if sampleWeights == nil {
		return ops.ReduceMeanAll(perExample)
	}
	if sampleWeights.DType() != perExample.DType() {
		sampleWeights = ops.Cast(sampleWeights, perExample.DType())
	}
	weighted := ops.ReduceSumAll(ops.Mul(perExample, sampleWeights))
	return ops.Div(weighted, ops.ReduceSumAll(sampleWeights))
}

// totalLoss builds the scalar training objective for one batch.
func (t *Trainer) totalLoss(ops backends.Ops, labels, predictions []*tensors.Tensor,
	sampleWeights []*tensors.Tensor) *tensors.Tensor {
	var total *tensors.Tensor
	for i, loss := range t.losses {
		perExample := loss.Apply(ops, labels[i], predictions[i])
		var sw *tensors.Tensor
		if sampleWeights != nil {
			sw = sampleWeights[i]
		}
		outputLoss := weightedMeanLoss(ops, perExample, sw)
		if total == nil {
			total = outputLoss
		} else {
			total = ops.Add(total, outputLoss)
		}
	}
	return total
}

// TrainStep runs one gradient-descent step on a batch and returns its Logs ("loss" plus
// the configured metrics). sampleWeights may be nil, or hold one optional [batch] weight
// tensor per output.
//
// Panics from shape/dtype validation inside the step are converted to returned errors.
func (t *Trainer) TrainStep(inputs, labels []*tensors.Tensor, sampleWeights []*tensors.Tensor) (Logs, error) {
	var logs Logs
	err := exceptions.Call(func() {
		weights := t.model.TrainableWeights()
		wrt := make([]*tensors.Tensor, len(weights))
		for i, w := range weights {
			wrt[i] = w.Value()
		}

		var predictions []*tensors.Tensor
		lossOut, grads := t.backend.Gradients(func(ops backends.Ops) *tensors.Tensor {
			predictions = t.model.Forward(ops, inputs)
			return t.totalLoss(ops, labels, predictions, sampleWeights)
		}, wrt)

		t.optimizer.Apply(weights, grads)
		logs = t.batchLogs(lossOut.Float64Scalar(), labels, predictions)
		for _, g := range grads {
			g.Finalize()
		}
		lossOut.Finalize()
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// EvalStep scores one batch without updating weights.
func (t *Trainer) EvalStep(inputs, labels []*tensors.Tensor) (Logs, error) {
	var logs Logs
	err := exceptions.Call(func() {
		ops := t.backend.Ops()
		predictions := t.model.Forward(ops, inputs)
		loss := t.totalLoss(ops, labels, predictions, nil)
		logs = t.batchLogs(loss.Float64Scalar(), labels, predictions)
		loss.Finalize()
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (t *Trainer) batchLogs(lossValue float64, labels, predictions []*tensors.Tensor) Logs {
	logs := Logs{"loss": lossValue}
	for i := range predictions {
		for _, m := range t.metrics {
			logs[t.metricKey(m, i)] = m.Apply(labels[i], predictions[i])
		}
	}
	return logs
}
