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
	"sort"

	"github.com/pkg/errors"
)

// Logs carries the scalar quantities reported at batch and epoch boundaries, keyed by
// metric name. Batch logs additionally carry "batch" (the batch index) and "size" (the
// number of samples in the batch).
type Logs map[string]float64

// CallbackParams describes the training run to callbacks, set once before OnTrainBegin.
type CallbackParams struct {
	Epochs          int
	BatchesPerEpoch int
	Samples         int
	Verbose         bool
	// MetricNames lists the keys that will appear in epoch logs, in reporting order.
	MetricNames []string
}

// Callback observes the training loop. All methods may return an error, which aborts
// training and is returned from Fit.
//
// Callbacks run sequentially, in the order they were registered, at every stage.
type Callback interface {
	SetParams(params CallbackParams)
	OnTrainBegin() error
	OnTrainEnd() error
	OnEpochBegin(epoch int) error
	OnEpochEnd(epoch int, logs Logs) error
	OnBatchBegin(batch int) error
	OnBatchEnd(batch int, logs Logs) error
}

// CallbackBase is a no-op Callback to embed in implementations that only care about some
// of the stages.
type CallbackBase struct {
	Params CallbackParams
}

// SetParams implements Callback.
func (c *CallbackBase) SetParams(params CallbackParams) { c.Params = params }

// OnTrainBegin implements Callback.
func (c *CallbackBase) OnTrainBegin() error { return nil }

// OnTrainEnd implements Callback.
func (c *CallbackBase) OnTrainEnd() error { return nil }

// OnEpochBegin implements Callback.
func (c *CallbackBase) OnEpochBegin(epoch int) error { return nil }

// OnEpochEnd implements Callback.
func (c *CallbackBase) OnEpochEnd(epoch int, logs Logs) error { return nil }

// OnBatchBegin implements Callback.
func (c *CallbackBase) OnBatchBegin(batch int) error { return nil }

// OnBatchEnd implements Callback.
func (c *CallbackBase) OnBatchEnd(batch int, logs Logs) error { return nil }

// callbackList fans every stage out to its callbacks in order, stopping at the first
// error.
type callbackList struct {
	callbacks []Callback
}

func newCallbackList(callbacks ...Callback) *callbackList {
	return &callbackList{callbacks: callbacks}
}

func (l *callbackList) setParams(params CallbackParams) {
	for _, c := range l.callbacks {
		c.SetParams(params)
	}
}

func (l *callbackList) each(stage string, fn func(c Callback) error) error {
	for _, c := range l.callbacks {
		if err := fn(c); err != nil {
			return errors.WithMessagef(err, "callback failed at %s", stage)
		}
	}
	return nil
}

func (l *callbackList) onTrainBegin() error {
	return l.each("train begin", func(c Callback) error { return c.OnTrainBegin() })
}

func (l *callbackList) onTrainEnd() error {
	return l.each("train end", func(c Callback) error { return c.OnTrainEnd() })
}

func (l *callbackList) onEpochBegin(epoch int) error {
	return l.each("epoch begin", func(c Callback) error { return c.OnEpochBegin(epoch) })
}

func (l *callbackList) onEpochEnd(epoch int, logs Logs) error {
	return l.each("epoch end", func(c Callback) error { return c.OnEpochEnd(epoch, logs) })
}

func (l *callbackList) onBatchBegin(batch int) error {
	return l.each("batch begin", func(c Callback) error { return c.OnBatchBegin(batch) })
}

func (l *callbackList) onBatchEnd(batch int, logs Logs) error {
	return l.each("batch end", func(c Callback) error { return c.OnBatchEnd(batch, logs) })
}

// baseLogger accumulates per-batch logs into size-weighted epoch means. It runs before
// any user callback, so the epoch logs handed to OnEpochEnd already hold the averages.
type baseLogger struct {
	CallbackBase
	seen   int
	totals Logs
}

// OnEpochBegin implements Callback.
func (b *baseLogger) OnEpochBegin(epoch int) error {
	b.seen = 0
	b.totals = Logs{}
	return nil
}

// OnBatchEnd implements Callback.
func (b *baseLogger) OnBatchEnd(batch int, logs Logs) error {
	size := int(logs["size"])
	if size == 0 {
		size = 1
	}
	b.seen += size
	for key, value := range logs {
		if key == "batch" || key == "size" {
			continue
		}
		b.totals[key] += value * float64(size)
	}
	return nil
}

// OnEpochEnd implements Callback.
func (b *baseLogger) OnEpochEnd(epoch int, logs Logs) error {
	for key, total := range b.totals {
		if _, found := logs[key]; !found {
			logs[key] = total / float64(b.seen)
		}
	}
	return nil
}

// History records the epoch logs of a training run. It is always the last callback, so
// it sees the final version of each epoch's logs, and it keeps every epoch completed
// before an error aborted the run.
type History struct {
	CallbackBase

	// Epochs holds the epoch indices, in order.
	Epochs []int

	// Metrics maps metric name to its per-epoch values, parallel to Epochs.
	Metrics map[string][]float64
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{Metrics: make(map[string][]float64)}
}

// OnEpochEnd implements Callback.
func (h *History) OnEpochEnd(epoch int, logs Logs) error {
	h.Epochs = append(h.Epochs, epoch)
	for key, value := range logs {
		h.Metrics[key] = append(h.Metrics[key], value)
	}
	return nil
}

// MetricNames returns the recorded metric names, sorted.
func (h *History) MetricNames() []string {
	names := make([]string, 0, len(h.Metrics))
	for name := range h.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CustomCallback adapts plain functions into a Callback. Nil fields are skipped.
type CustomCallback struct {
	CallbackBase

	TrainBegin func() error
	TrainEnd   func() error
	EpochBegin func(epoch int) error
	EpochEnd   func(epoch int, logs Logs) error
	BatchBegin func(batch int) error
	BatchEnd   func(batch int, logs Logs) error
}

// OnTrainBegin implements Callback.
func (c *CustomCallback) OnTrainBegin() error {
	if c.TrainBegin == nil {
		return nil
	}
	return c.TrainBegin()
}

// OnTrainEnd implements Callback.
func (c *CustomCallback) OnTrainEnd() error {
	if c.TrainEnd == nil {
		return nil
	}
	return c.TrainEnd()
}

// OnEpochBegin implements Callback.
func (c *CustomCallback) OnEpochBegin(epoch int) error {
	if c.EpochBegin == nil {
		return nil
	}
	return c.EpochBegin(epoch)
}

// OnEpochEnd implements Callback.
func (c *CustomCallback) OnEpochEnd(epoch int, logs Logs) error {
	if c.EpochEnd == nil {
		return nil
	}
	return c.EpochEnd(epoch, logs)
}

// OnBatchBegin implements Callback.
func (c *CustomCallback) OnBatchBegin(batch int) error {
	if c.BatchBegin == nil {
		return nil
	}
	return c.BatchBegin(batch)
}

// OnBatchEnd implements Callback.
func (c *CustomCallback) OnBatchEnd(batch int, logs Logs) error {
	if c.BatchEnd == nil {
		return nil
	}
	return c.BatchEnd(batch, logs)
}
