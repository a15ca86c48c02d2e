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
	"math/rand"

	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
)

// Dataset provides data for Trainer, one batch at a time.
//
// Notice one batch (the unit of data) is a slice of tensors for inputs and a slice of
// tensors for labels (even when there is only one of each).
type Dataset interface {
	// Name identifies the dataset. Used for debugging and pretty-printing.
	Name() string

	// Reset restarts the dataset from the beginning. It can be called after io.EOF is
	// reached, for instance when starting the next epoch.
	Reset()

	// Yield one batch, or an error. io.EOF terminates the epoch normally; any other
	// error interrupts training/evaluation and is returned to the user.
	//
	// The yielded tensors remain owned by the dataset: callers must not finalize them.
	Yield() (inputs, labels []*tensors.Tensor, err error)
}

// InMemoryDataset iterates over tensors held in memory, slicing them into batches along
// axis 0, optionally shuffling the sample order at every Reset.
type InMemoryDataset struct {
	name           string
	inputs, labels []*tensors.Tensor
	numSamples     int
	batchSize      int
	shuffle        *rand.Rand
	order          []int // nil means natural order
	next           int
}

// NewInMemoryDataset creates a dataset over in-memory tensors. All inputs and labels must
// share the same axis-0 dimension (the number of samples).
func NewInMemoryDataset(name string, inputs, labels []*tensors.Tensor) *InMemoryDataset {
	if len(inputs) == 0 {
		exceptions.PanicValuef("train.NewInMemoryDataset: at least one input tensor is required")
	}
	numSamples := inputs[0].Shape().Dim(0)
	for _, t := range append(append([]*tensors.Tensor{}, inputs...), labels...) {
		if t.Shape().Dim(0) != numSamples {
			exceptions.PanicValuef(
				"train.NewInMemoryDataset: all tensors must have the same number of samples (axis 0), got %d and %d",
				numSamples, t.Shape().Dim(0))
		}
	}
	return &InMemoryDataset{
		name:       name,
		inputs:     inputs,
		labels:     labels,
		numSamples: numSamples,
		batchSize:  32,
	}
}

// WithBatchSize sets the batch size. Defaults to 32. The last batch of an epoch may be
// smaller.
func (ds *InMemoryDataset) WithBatchSize(batchSize int) *InMemoryDataset {
	if batchSize <= 0 {
		exceptions.PanicValuef("train.InMemoryDataset: batch size must be positive, got %d", batchSize)
	}
	ds.batchSize = batchSize
	return ds
}

// WithShuffle makes the dataset reshuffle the sample order at every Reset, using the
// given random number generator.
func (ds *InMemoryDataset) WithShuffle(rng *rand.Rand) *InMemoryDataset {
	ds.shuffle = rng
	ds.order = make([]int, ds.numSamples)
	for i := range ds.order {
		ds.order[i] = i
	}
	return ds
}

// Split partitions the samples into a head dataset with the first (1-fraction) of the
// samples and a tail dataset with the rest. The split happens before any shuffling, the
// way validation data is carved out of training data.
func (ds *InMemoryDataset) Split(fraction float64) (head, tail *InMemoryDataset) {
	splitAt := ds.numSamples - int(float64(ds.numSamples)*fraction)
	headIn, tailIn := sliceAll(ds.inputs, 0, splitAt), sliceAll(ds.inputs, splitAt, ds.numSamples)
	headLabels, tailLabels := sliceAll(ds.labels, 0, splitAt), sliceAll(ds.labels, splitAt, ds.numSamples)
	head = NewInMemoryDataset(ds.name, headIn, headLabels).WithBatchSize(ds.batchSize)
	if ds.shuffle != nil {
		head.WithShuffle(ds.shuffle)
	}
	tail = NewInMemoryDataset(ds.name+"_val", tailIn, tailLabels).WithBatchSize(ds.batchSize)
	return
}

func sliceAll(ts []*tensors.Tensor, start, end int) []*tensors.Tensor {
	result := make([]*tensors.Tensor, len(ts))
	for i, t := range ts {
		result[i] = sliceRows(t, start, end)
	}
	return result
}

// NumSamples returns the number of samples.
func (ds *InMemoryDataset) NumSamples() int { return ds.numSamples }

// BatchSize returns the configured batch size.
func (ds *InMemoryDataset) BatchSize() int { return ds.batchSize }

// NumBatches returns the number of batches per epoch, the last one possibly partial.
func (ds *InMemoryDataset) NumBatches() int {
	return (ds.numSamples + ds.batchSize - 1) / ds.batchSize
}

// Name implements Dataset.
func (ds *InMemoryDataset) Name() string { return ds.name }

// Reset implements Dataset, reshuffling if configured.
func (ds *InMemoryDataset) Reset() {
	ds.next = 0
	if ds.shuffle != nil {
		ds.shuffle.Shuffle(len(ds.order), func(i, j int) {
			ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
		})
	}
}

// Yield implements Dataset.
func (ds *InMemoryDataset) Yield() (inputs, labels []*tensors.Tensor, err error) {
	if ds.next >= ds.numSamples {
		return nil, nil, io.EOF
	}
	start := ds.next
	end := start + ds.batchSize
	if end > ds.numSamples {
		end = ds.numSamples
	}
	ds.next = end

	take := func(t *tensors.Tensor) *tensors.Tensor {
		if ds.order == nil {
			return sliceRows(t, start, end)
		}
		return gatherRows(t, ds.order[start:end])
	}
	inputs = make([]*tensors.Tensor, len(ds.inputs))
	for i, t := range ds.inputs {
		inputs[i] = take(t)
	}
	labels = make([]*tensors.Tensor, len(ds.labels))
	for i, t := range ds.labels {
		labels[i] = take(t)
	}
	return
}

// sliceRows copies rows [start, end) along axis 0, working on raw bytes so it is dtype
// agnostic.
func sliceRows(t *tensors.Tensor, start, end int) *tensors.Tensor {
	shape := t.Shape().Clone()
	shape.Dimensions[0] = end - start
	rowBytes := rowSizeBytes(t)
	data := t.Bytes()
	return tensors.FromBytes(shape, data[start*rowBytes:end*rowBytes])
}

// gatherRows copies the given rows of axis 0, in order.
func gatherRows(t *tensors.Tensor, rows []int) *tensors.Tensor {
	shape := t.Shape().Clone()
	shape.Dimensions[0] = len(rows)
	rowBytes := rowSizeBytes(t)
	data := t.Bytes()
	out := make([]byte, len(rows)*rowBytes)
	for i, r := range rows {
		copy(out[i*rowBytes:], data[r*rowBytes:(r+1)*rowBytes])
	}
	return tensors.FromBytes(shape, out)
}

func rowSizeBytes(t *tensors.Tensor) int {
	rowSize := int(t.DType().Memory())
	for _, dim := range t.Shape().Dimensions[1:] {
		rowSize *= dim
	}
	return rowSize
}
