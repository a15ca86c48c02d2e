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
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/ml/layers"
)

// Sequential builds a Model from a linear stack of layers: each layer is applied to the
// single output of the previous one. The first layer must be an InputLayer (usually via
// layers.NewInputLayer), which fixes the input shape; the stack is resolved into a Model
// lazily, on first use.
type Sequential struct {
	*Model

	name  string
	stack []layers.Layer
}

// NewSequential creates an empty stack. Name is auto-generated when empty.
func NewSequential(name string, stack ...layers.Layer) *Sequential {
	if name == "" {
		name = "sequential"
	}
	s := &Sequential{name: name}
	s.Add(stack...)
	return s
}

// Add appends layers to the stack. It panics with a RuntimeError if the model was
// already resolved (any call to Compile, Fit, Predict or Summary resolves it).
func (s *Sequential) Add(stack ...layers.Layer) *Sequential {
	if s.Model != nil {
		exceptions.PanicRuntimef("Sequential %q was already resolved into a model, cannot Add more layers",
			s.name)
	}
	s.stack = append(s.stack, stack...)
	return s
}

// Resolve chains the stack into a graph and builds the Model. Called implicitly by
// Compile, Fit, Predict and the other model operations; calling it again is a no-op.
func (s *Sequential) Resolve() *Model {
	if s.Model != nil {
		return s.Model
	}
	if len(s.stack) < 2 {
		exceptions.PanicValuef("Sequential %q needs at least an input layer and one more layer", s.name)
	}
	input, ok := s.stack[0].(*layers.InputLayer)
	if !ok {
		exceptions.PanicValuef("Sequential %q: the first layer must be an InputLayer, got %s",
			s.name, s.stack[0].ClassName())
	}
	x := input.Output()
	for _, l := range s.stack[1:] {
		result := l.Apply(x)
		next, single := result.(*layers.SymbolicTensor)
		if !single {
			exceptions.PanicValuef("Sequential %q: layer %q produced multiple outputs, only single-output "+
				"layers can be stacked", s.name, l.Name())
		}
		x = next
	}
	s.Model = NewModel(ModelConfig{
		Name:    s.name,
		Inputs:  []*layers.SymbolicTensor{input.Output()},
		Outputs: []*layers.SymbolicTensor{x},
	})
	return s.Model
}

// Compile resolves the stack and compiles the model.
func (s *Sequential) Compile(config CompileConfig) {
	s.Resolve().Compile(config)
}
