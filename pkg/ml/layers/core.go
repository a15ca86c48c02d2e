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

package layers

import (
	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/initializers"
)

// Flatten collapses all dimensions but the batch dimension: [batch, d1, d2, ...] ->
// [batch, d1*d2*...].
type Flatten struct {
	*BaseLayer
}

// NewFlatten creates a Flatten layer.
func NewFlatten() *Flatten {
	l := &Flatten{}
	l.BaseLayer = newBaseLayer(l, "")
	l.expectsInputs = 1
	l.minRank = 2
	return l
}

// ClassName implements Layer.
func (l *Flatten) ClassName() string { return "Flatten" }

// Build implements Layer; there are no weights.
func (l *Flatten) Build(inputShapes []shapes.Shape) {}

// Call implements Layer.
func (l *Flatten) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	input := inputs[0]
	return []*tensors.Tensor{ops.Reshape(input, input.Shape().Dim(0), -1)}
}

// ComputeOutputShape implements Layer. Any unknown non-batch dimension makes the flattened
// dimension unknown.
func (l *Flatten) ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape {
	inputShape := inputShapes[0]
	flat := 1
	for _, dim := range inputShape.Dimensions[1:] {
		if dim == shapes.UnknownDim {
			flat = shapes.UnknownDim
			break
		}
		flat *= dim
	}
	return []shapes.Shape{shapes.Make(inputShape.DType, inputShape.Dim(0), flat)}
}

// Config implements Layer.
func (l *Flatten) Config() Config {
	return Config{"name": l.name}
}

// Embedding maps int32 indices to dense vectors: input [batch] or [batch, seq] of int32,
// output with a trailing outputDim axis. The single weight is the embeddings table
// [inputDim, outputDim].
type Embedding struct {
	*BaseLayer
	inputDim, outputDim int
	embeddings          *Weight
}

// NewEmbedding creates an Embedding layer with a vocabulary of inputDim entries of
// dimension outputDim.
func NewEmbedding(inputDim, outputDim int) *Embedding {
	if inputDim <= 0 || outputDim <= 0 {
		exceptions.PanicValuef("layers.NewEmbedding: inputDim (%d) and outputDim (%d) must be positive",
			inputDim, outputDim)
	}
	l := &Embedding{inputDim: inputDim, outputDim: outputDim}
	l.BaseLayer = newBaseLayer(l, "")
	l.expectsInputs = 1
	l.minRank, l.maxRank = 1, 2
	return l
}

// WithName sets the layer name.
func (l *Embedding) WithName(name string) *Embedding {
	l.name = name
	return l
}

// ClassName implements Layer.
func (l *Embedding) ClassName() string { return "Embedding" }

// Build allocates the embeddings table.
func (l *Embedding) Build(inputShapes []shapes.Shape) {
	if inputShapes[0].DType != dtypes.Int32 {
		exceptions.PanicValuef("layer %q (Embedding) expects int32 inputs, got input with shape %s",
			l.name, inputShapes[0])
	}
	l.embeddings = l.AddWeight("embeddings",
		shapes.Make(dtypes.Float32, l.inputDim, l.outputDim),
		initializers.RandomUniform(-0.05, 0.05), true)
}

// Call implements Layer.
func (l *Embedding) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	return []*tensors.Tensor{ops.Gather(l.embeddings.Value(), inputs[0])}
}

// ComputeOutputShape appends outputDim to the input shape.
func (l *Embedding) ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape {
	dims := append([]int{}, inputShapes[0].Dimensions...)
	dims = append(dims, l.outputDim)
	return []shapes.Shape{shapes.Make(dtypes.Float32, dims...)}
}

// Config implements Layer.
func (l *Embedding) Config() Config {
	return Config{
		"name":       l.name,
		"input_dim":  l.inputDim,
		"output_dim": l.outputDim,
	}
}

func init() {
	RegisterLayer("Flatten", func(config Config) Layer {
		l := NewFlatten()
		if name := config.String("name", ""); name != "" {
			l.name = name
		}
		return l
	})
	RegisterLayer("Embedding", func(config Config) Layer {
		l := NewEmbedding(config.Int("input_dim", 0), config.Int("output_dim", 0))
		if name := config.String("name", ""); name != "" {
			l.name = name
		}
		return l
	})
}
