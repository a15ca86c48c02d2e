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
)

// ActivationFn is an elementwise (or last-axis, for softmax) activation computed through
// the backend op set.
type ActivationFn func(ops backends.Ops, x *tensors.Tensor) *tensors.Tensor

// ValidActivations are the names accepted by ActivationByName and by the "activation"
// key of layer configurations.
var ValidActivations = []string{"linear", "relu", "sigmoid", "softmax", "tanh"}

// ActivationByName returns the activation function for a name. It panics with a
// ValueError naming the invalid activation and listing ValidActivations.
func ActivationByName(name string) ActivationFn {
	switch name {
	case "linear", "":
		return func(ops backends.Ops, x *tensors.Tensor) *tensors.Tensor { return x }
	case "relu":
		return func(ops backends.Ops, x *tensors.Tensor) *tensors.Tensor { return ops.Relu(x) }
	case "sigmoid":
		return func(ops backends.Ops, x *tensors.Tensor) *tensors.Tensor { return ops.Sigmoid(x) }
	case "softmax":
		return func(ops backends.Ops, x *tensors.Tensor) *tensors.Tensor { return ops.Softmax(x) }
	case "tanh":
		return func(ops backends.Ops, x *tensors.Tensor) *tensors.Tensor { return ops.Tanh(x) }
	}
	exceptions.PanicValuef("unknown activation %q: valid activations are %v", name, ValidActivations)
	return nil
}

// Activation is a stateless layer applying a named activation function.
type Activation struct {
	*BaseLayer
	activation string
}

// NewActivation creates an Activation layer. The name must be one of ValidActivations.
func NewActivation(activation string) *Activation {
	ActivationByName(activation) // Validates eagerly.
	l := &Activation{activation: activation}
	l.BaseLayer = newBaseLayer(l, "")
	l.expectsInputs = 1
	return l
}

// WithName sets the layer name, returning the layer for chaining.
func (l *Activation) WithName(name string) *Activation {
	l.name = name
	return l
}

// ClassName implements Layer.
func (l *Activation) ClassName() string { return "Activation" }

// Build implements Layer; there are no weights.
func (l *Activation) Build(inputShapes []shapes.Shape) {}

// Call implements Layer.
func (l *Activation) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	return []*tensors.Tensor{ActivationByName(l.activation)(ops, inputs[0])}
}

// Config implements Layer.
func (l *Activation) Config() Config {
	return Config{
		"name":       l.name,
		"activation": l.activation,
	}
}

func init() {
	RegisterLayer("Activation", func(config Config) Layer {
		l := NewActivation(config.String("activation", "linear"))
		if name := config.String("name", ""); name != "" {
			l.name = name
		}
		return l
	})
}
