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
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/initializers"
)

// SimpleRNN is a minimal recurrent layer: h_t = activation(x_t·kernel + h_{t-1}·recurrent
// + bias), over rank-3 inputs [batch, time, features]. By default only the final hidden
// state [batch, units] is returned; with WithReturnSequences the full [batch, time, units]
// sequence is.
type SimpleRNN struct {
	*BaseLayer
	units           int
	activation      string
	returnSequences bool

	kernel, recurrent, bias *Weight
}

// NewSimpleRNN creates a SimpleRNN with the given number of hidden units and tanh
// activation.
func NewSimpleRNN(units int) *SimpleRNN {
	if units <= 0 {
		exceptions.PanicValuef("layers.NewSimpleRNN: units must be positive, got %d", units)
	}
	l := &SimpleRNN{units: units, activation: "tanh"}
	l.BaseLayer = newBaseLayer(l, "")
	l.expectsInputs = 1
	l.minRank, l.maxRank = 3, 3
	return l
}

// WithActivation sets the activation by name (see ValidActivations).
func (l *SimpleRNN) WithActivation(activation string) *SimpleRNN {
	ActivationByName(activation) // Validates eagerly.
	l.activation = activation
	return l
}

// WithReturnSequences makes Call return the hidden state of every timestep instead of
// only the last one.
func (l *SimpleRNN) WithReturnSequences(returnSequences bool) *SimpleRNN {
	l.returnSequences = returnSequences
	return l
}

// WithName sets the layer name.
func (l *SimpleRNN) WithName(name string) *SimpleRNN {
	l.name = name
	return l
}

// ReturnSequences reports whether the layer outputs the full sequence.
func (l *SimpleRNN) ReturnSequences() bool { return l.returnSequences }

// ClassName implements Layer.
func (l *SimpleRNN) ClassName() string { return "SimpleRNN" }

// Build allocates kernel [features, units], recurrent [units, units] and bias [units].
func (l *SimpleRNN) Build(inputShapes []shapes.Shape) {
	inputShape := inputShapes[0]
	features := inputShape.Dim(-1)
	if features == shapes.UnknownDim {
		exceptions.PanicValuef("layer %q (SimpleRNN): the feature dimension of the input must be known, got shape %s",
			l.name, inputShape)
	}
	dtype := inputShape.DType
	l.kernel = l.AddWeight("kernel", shapes.Make(dtype, features, l.units),
		initializers.ByName("glorot_uniform"), true)
	l.recurrent = l.AddWeight("recurrent_kernel", shapes.Make(dtype, l.units, l.units),
		initializers.ByName("glorot_uniform"), true)
	l.bias = l.AddWeight("bias", shapes.Make(dtype, l.units),
		initializers.ByName("zeros"), true)
}

// Call implements Layer, looping over timesteps.
func (l *SimpleRNN) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	input := inputs[0]
	batchSize := input.Shape().Dim(0)
	timeSteps := input.Shape().Dim(1)
	features := input.Shape().Dim(2)
	activation := ActivationByName(l.activation)

	// Timesteps are extracted by gathering rows from the [batch*time, features] view.
	flat := ops.Reshape(input, batchSize*timeSteps, features)
	state := tensors.Zeros(shapes.Make(input.DType(), batchSize, l.units))
	var sequence []*tensors.Tensor
	for t := 0; t < timeSteps; t++ {
		indices := make([]int32, batchSize)
		for b := range indices {
			indices[b] = int32(b*timeSteps + t)
		}
		xt := ops.Gather(flat, tensors.FromFlatAndDimensions(indices, batchSize))
		state = activation(ops,
			ops.Add(ops.Add(ops.MatMul(xt, l.kernel.Value()), ops.MatMul(state, l.recurrent.Value())),
				l.bias.Value()))
		if l.returnSequences {
			sequence = append(sequence, ops.Reshape(state, batchSize, 1, l.units))
		}
	}
	if l.returnSequences {
		return []*tensors.Tensor{ops.Concat(1, sequence...)}
	}
	return []*tensors.Tensor{state}
}

// ComputeOutputShape implements Layer.
func (l *SimpleRNN) ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape {
	inputShape := inputShapes[0]
	if l.returnSequences {
		return []shapes.Shape{shapes.Make(inputShape.DType, inputShape.Dim(0), inputShape.Dim(1), l.units)}
	}
	return []shapes.Shape{shapes.Make(inputShape.DType, inputShape.Dim(0), l.units)}
}

// Config implements Layer.
func (l *SimpleRNN) Config() Config {
	return Config{
		"name":             l.name,
		"units":            l.units,
		"activation":       l.activation,
		"return_sequences": l.returnSequences,
	}
}

func init() {
	RegisterLayer("SimpleRNN", func(config Config) Layer {
		l := NewSimpleRNN(config.Int("units", 0)).
			WithActivation(config.String("activation", "tanh")).
			WithReturnSequences(config.Bool("return_sequences", false))
		if name := config.String("name", ""); name != "" {
			l.name = name
		}
		return l
	})
}
