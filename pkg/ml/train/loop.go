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
	"io"

	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/pkg/errors"
)

// FitConfig configures Trainer.Fit.
type FitConfig struct {
	// Epochs to train for. Defaults to 1 when zero.
	Epochs int

	// Callbacks observe the run. They are invoked in the order given here, after the
	// internal log-averaging callback and before the History recorder.
	Callbacks []Callback

	// ClassWeight optionally reweights examples by class in the loss. See
	// standardizeClassWeights for the accepted forms.
	ClassWeight any

	// Yield controls cooperative processor yielding between batches. Defaults to
	// YieldAuto.
	Yield YieldMode

	// Verbose is forwarded to callbacks (e.g. the command-line progress bar).
	Verbose bool
}

// Fit trains for the configured number of epochs over trainDS, optionally evaluating
// validationDS at the end of every epoch (prefixing its log keys with "val_").
//
// The returned History is never nil: if an error aborts training mid-epoch, it still
// holds every epoch completed before the failure, alongside the error.
func (t *Trainer) Fit(trainDS Dataset, validationDS Dataset, config *FitConfig) (*History, error) {
	if config == nil {
		config = &FitConfig{}
	}
	epochs := config.Epochs
	if epochs <= 0 {
		epochs = 1
	}

	history := NewHistory()
	cbs := append([]Callback{&baseLogger{}}, config.Callbacks...)
	cbs = append(cbs, history)
	callbacks := newCallbackList(cbs...)
	callbacks.setParams(t.callbackParams(trainDS, validationDS, epochs, config.Verbose))

	var perOutputWeights []ClassWeight
	err := exceptions.Call(func() {
		perOutputWeights = standardizeClassWeights(config.ClassWeight, t.model.OutputNames())
	})
	if err != nil {
		return history, err
	}

	yield := newYielder(config.Yield)
	if err := callbacks.onTrainBegin(); err != nil {
		return history, err
	}
	for epoch := 0; epoch < epochs; epoch++ {
		if err := callbacks.onEpochBegin(epoch); err != nil {
			return history, err
		}
		epochLogs := Logs{}
		if err := t.runEpoch(trainDS, callbacks, perOutputWeights, yield); err != nil {
			return history, err
		}
		if validationDS != nil {
			valLogs, err := t.Evaluate(validationDS)
			if err != nil {
				return history, errors.WithMessagef(err, "validation failed after epoch %d", epoch)
			}
			for key, value := range valLogs {
				epochLogs["val_"+key] = value
			}
		}
		yield.EpochEnd()
		if err := callbacks.onEpochEnd(epoch, epochLogs); err != nil {
			return history, err
		}
	}
	if err := callbacks.onTrainEnd(); err != nil {
		return history, err
	}
	return history, nil
}

// runEpoch consumes trainDS until io.EOF, running one train step per batch.
func (t *Trainer) runEpoch(trainDS Dataset, callbacks *callbackList,
	perOutputWeights []ClassWeight, yield *yielder) error {
	trainDS.Reset()
	for batch := 0; ; batch++ {
		inputs, labels, err := trainDS.Yield()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.WithMessagef(err, "dataset %q failed to yield batch %d", trainDS.Name(), batch)
		}
		if err := callbacks.onBatchBegin(batch); err != nil {
			return err
		}
		yield.BatchBegin()

		var sampleWeights []*tensors.Tensor
		err = exceptions.Call(func() {
			sampleWeights = batchSampleWeights(labels, perOutputWeights)
		})
		if err != nil {
			return err
		}
		logs, err := t.TrainStep(inputs, labels, sampleWeights)
		if err != nil {
			return errors.WithMessagef(err, "train step failed at batch %d", batch)
		}
		logs["batch"] = float64(batch)
		logs["size"] = float64(inputs[0].Shape().Dim(0))
		if err := callbacks.onBatchEnd(batch, logs); err != nil {
			return err
		}
		yield.BatchEnd(batch)
	}
}

// batchSampleWeights converts per-class weights into per-example weight tensors for the
// batch, nil when no output is weighted.
func batchSampleWeights(labels []*tensors.Tensor, perOutputWeights []ClassWeight) []*tensors.Tensor {
	weighted := false
	for _, cw := range perOutputWeights {
		if cw != nil {
			weighted = true
			break
		}
	}
	if !weighted {
		return nil
	}
	result := make([]*tensors.Tensor, len(labels))
	for i, cw := range perOutputWeights {
		if cw == nil {
			continue
		}
		weights := sampleWeightsFromLabels(labels[i], cw)
		result[i] = tensors.FromFlatAndDimensions(weights, len(weights))
	}
	return result
}

// Evaluate scores the dataset, returning the size-weighted means of loss and metrics over
// its batches.
func (t *Trainer) Evaluate(ds Dataset) (Logs, error) {
	ds.Reset()
	totals := Logs{}
	seen := 0
	for batch := 0; ; batch++ {
		inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "dataset %q failed to yield batch %d", ds.Name(), batch)
		}
		logs, err := t.EvalStep(inputs, labels)
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluation failed at batch %d", batch)
		}
		size := inputs[0].Shape().Dim(0)
		seen += size
		for key, value := range logs {
			totals[key] += value * float64(size)
		}
	}
	if seen == 0 {
		return nil, errors.Errorf("dataset %q yielded no batches", ds.Name())
	}
	result := Logs{}
	for key, total := range totals {
		result[key] = total / float64(seen)
	}
	return result, nil
}

// callbackParams builds the CallbackParams describing this run.
func (t *Trainer) callbackParams(trainDS, validationDS Dataset, epochs int, verbose bool) CallbackParams {
	params := CallbackParams{
		Epochs:          epochs,
		BatchesPerEpoch: -1,
		Samples:         -1,
		Verbose:         verbose,
		MetricNames:     t.metricKeys(),
	}
	if validationDS != nil {
		for _, key := range t.metricKeys() {
			params.MetricNames = append(params.MetricNames, "val_"+key)
		}
	}
	if inMem, ok := trainDS.(*InMemoryDataset); ok {
		params.BatchesPerEpoch = inMem.NumBatches()
		params.Samples = inMem.NumSamples()
	}
	return params
}
