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
	"slices"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
)

// Concatenate merges two or more inputs along an axis (default the last). All input
// shapes must match on every other axis. A node created by Concatenate has multiple
// inbound layers, which disqualifies the surrounding model from the "sequential-like"
// classification used by Summary.
type Concatenate struct {
	*BaseLayer
	axis int
}

// NewConcatenate creates a Concatenate layer over the last axis.
func NewConcatenate() *Concatenate {
	l := &Concatenate{axis: -1}
	l.BaseLayer = newBaseLayer(l, "")
	return l
}

// WithAxis sets the concatenation axis. Negative axes count from the end.
func (l *Concatenate) WithAxis(axis int) *Concatenate {
	l.axis = axis
	return l
}

// WithName sets the layer name.
func (l *Concatenate) WithName(name string) *Concatenate {
	l.name = name
	return l
}

// ClassName implements Layer.
func (l *Concatenate) ClassName() string { return "Concatenate" }

// Build validates the input shapes; there are no weights.
func (l *Concatenate) Build(inputShapes []shapes.Shape) {
	if len(inputShapes) < 2 {
		exceptions.PanicValuef("layer %q (Concatenate) requires at least 2 inputs, got %d",
			l.name, len(inputShapes))
	}
	first := inputShapes[0]
	axis := l.resolveAxis(first.Rank())
	for _, shape := range inputShapes[1:] {
		if shape.DType != first.DType || shape.Rank() != first.Rank() {
			exceptions.PanicValuef("layer %q (Concatenate): input shape %s is incompatible with %s",
				l.name, shape, first)
		}
		for d := 0; d < first.Rank(); d++ {
			if d == axis {
				continue
			}
			if shape.Dim(d) != first.Dim(d) && shape.Dim(d) != shapes.UnknownDim &&
				first.Dim(d) != shapes.UnknownDim {
				exceptions.PanicValuef("layer %q (Concatenate): input shape %s differs from %s on axis %d",
					l.name, shape, first, d)
			}
		}
	}
}

func (l *Concatenate) resolveAxis(rank int) int {
	axis := l.axis
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		exceptions.PanicValuef("layer %q (Concatenate): invalid axis %d for rank %d", l.name, l.axis, rank)
	}
	return axis
}

// Call implements Layer.
func (l *Concatenate) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	return []*tensors.Tensor{ops.Concat(l.resolveAxis(inputs[0].Rank()), inputs...)}
}

// ComputeOutputShape sums the concatenation axis, propagating unknown.
func (l *Concatenate) ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape {
	first := inputShapes[0]
	axis := l.resolveAxis(first.Rank())
	dims := slices.Clone(first.Dimensions)
	total := 0
	for _, shape := range inputShapes {
		if shape.Dim(axis) == shapes.UnknownDim {
			total = shapes.UnknownDim
			break
		}
		total += shape.Dim(axis)
	}
	dims[axis] = total
	// Non-concat axes keep the most specific dimension available.
	for d := 0; d < first.Rank(); d++ {
		if d == axis || dims[d] != shapes.UnknownDim {
			continue
		}
		for _, shape := range inputShapes {
			if shape.Dim(d) != shapes.UnknownDim {
				dims[d] = shape.Dim(d)
				break
			}
		}
	}
	return []shapes.Shape{shapes.Make(first.DType, dims...)}
}

// Config implements Layer.
func (l *Concatenate) Config() Config {
	return Config{
		"name": l.name,
		"axis": l.axis,
	}
}

func init() {
	RegisterLayer("Concatenate", func(config Config) Layer {
		l := NewConcatenate().WithAxis(config.Int("axis", -1))
		if name := config.String("name", ""); name != "" {
			l.name = name
		}
		return l
	})
}
