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

// Dense is the fully connected layer: output = activation(input·kernel + bias).
//
// It expects rank-2 inputs [batchSize, inputDim]; wrap it in TimeDistributed for
// per-timestep application on rank-3 inputs.
type Dense struct {
	*BaseLayer
	units                int
	activation           string
	useBias              bool
	kernelInit, biasInit string
	kernel, bias         *Weight
}

// NewDense creates a Dense layer with the given number of output units. Defaults: linear
// activation, bias enabled, "glorot_uniform" kernel and "zeros" bias initializers. All of
// them can be changed with the With* chainable setters before the layer is applied.
func NewDense(units int) *Dense {
	if units <= 0 {
		exceptions.PanicValuef("layers.NewDense: units must be positive, got %d", units)
	}
	l := &Dense{
		units:      units,
		activation: "linear",
		useBias:    true,
		kernelInit: "glorot_uniform",
		biasInit:   "zeros",
	}
	l.BaseLayer = newBaseLayer(l, "")
	l.expectsInputs = 1
	l.minRank, l.maxRank = 2, 2
	return l
}

// WithActivation sets the activation by name (see ValidActivations).
func (l *Dense) WithActivation(activation string) *Dense {
	ActivationByName(activation) // Validates eagerly.
	l.activation = activation
	return l
}

// WithUseBias enables or disables the bias term.
func (l *Dense) WithUseBias(useBias bool) *Dense {
	l.useBias = useBias
	return l
}

// WithKernelInitializer sets the kernel initializer by name (see initializers.ByName).
func (l *Dense) WithKernelInitializer(name string) *Dense {
	initializers.ByName(name) // Validates eagerly.
	l.kernelInit = name
	return l
}

// WithName sets the layer name.
func (l *Dense) WithName(name string) *Dense {
	l.name = name
	return l
}

// Units returns the output dimension.
func (l *Dense) Units() int { return l.units }

// ClassName implements Layer.
func (l *Dense) ClassName() string { return "Dense" }

// Build allocates the kernel [inputDim, units] and, if enabled, the bias [units].
func (l *Dense) Build(inputShapes []shapes.Shape) {
	inputShape := inputShapes[0]
	inputDim := inputShape.Dim(-1)
	if inputDim == shapes.UnknownDim {
		exceptions.PanicValuef("layer %q (Dense): the last dimension of the input must be known, got shape %s",
			l.name, inputShape)
	}
	l.kernel = l.AddWeight("kernel", shapes.Make(inputShape.DType, inputDim, l.units),
		initializers.ByName(l.kernelInit), true)
	if l.useBias {
		l.bias = l.AddWeight("bias", shapes.Make(inputShape.DType, l.units),
			initializers.ByName(l.biasInit), true)
	}
}

// Call implements Layer.
func (l *Dense) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	output := ops.MatMul(inputs[0], l.kernel.Value())
	if l.useBias {
		output = ops.Add(output, l.bias.Value())
	}
	output = ActivationByName(l.activation)(ops, output)
	return []*tensors.Tensor{output}
}

// ComputeOutputShape replaces the last dimension with units.
func (l *Dense) ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape {
	inputShape := inputShapes[0]
	return []shapes.Shape{shapes.Make(inputShape.DType, inputShape.Dim(0), l.units)}
}

// Config implements Layer.
func (l *Dense) Config() Config {
	return Config{
		"name":               l.name,
		"units":              l.units,
		"activation":         l.activation,
		"use_bias":           l.useBias,
		"kernel_initializer": l.kernelInit,
		"bias_initializer":   l.biasInit,
	}
}

func init() {
	RegisterLayer("Dense", func(config Config) Layer {
		l := NewDense(config.Int("units", 0)).
			WithActivation(config.String("activation", "linear")).
			WithUseBias(config.Bool("use_bias", true)).
			WithKernelInitializer(config.String("kernel_initializer", "glorot_uniform"))
		l.biasInit = config.String("bias_initializer", "zeros")
		if name := config.String("name", ""); name != "" {
			l.name = name
		}
		return l
	})
}
