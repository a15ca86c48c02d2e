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
)

// InputLayer is the placeholder source of a graph: it has no computation and no weights,
// it only owns the symbolic tensor that downstream layers consume. Most code uses the
// Input helper instead of creating one directly.
type InputLayer struct {
	*BaseLayer
	batchShape shapes.Shape
}

// InputConfig configures the Input helper. Shape is the per-sample shape, without the
// batch dimension; the batch dimension is prepended as unknown (or BatchSize when given).
type InputConfig struct {
	// Shape of one sample, e.g. shapes.Make(dtypes.Float32, 5). The dtype defaults to
	// Float32 if the shape is left invalid but Dimensions are given via BatchShape.
	Shape shapes.Shape

	// BatchShape is the full shape including the batch dimension. Mutually exclusive with
	// Shape.
	BatchShape shapes.Shape

	// BatchSize fixes the batch dimension; 0 leaves it unknown.
	BatchSize int

	// Name of the layer. Auto-generated when empty.
	Name string
}

// Input creates an InputLayer and returns its symbolic output tensor, the usual starting
// point of a model graph.
func Input(config InputConfig) *SymbolicTensor {
	return NewInputLayer(config).Output()
}

// NewInputLayer creates the placeholder layer. See InputConfig.
func NewInputLayer(config InputConfig) *InputLayer {
	var batchShape shapes.Shape
	switch {
	case config.BatchShape.Ok() && config.Shape.Ok():
		exceptions.PanicValuef("layers.Input: only one of Shape and BatchShape can be given")
	case config.BatchShape.Ok():
		batchShape = config.BatchShape.Clone()
	case config.Shape.Ok():
		batchDim := config.BatchSize
		if batchDim == 0 {
			batchDim = shapes.UnknownDim
		}
		batchShape = shapes.Make(config.Shape.DType,
			append([]int{batchDim}, config.Shape.Dimensions...)...)
	default:
		exceptions.PanicValuef("layers.Input: one of Shape or BatchShape must be given")
	}

	l := &InputLayer{batchShape: batchShape}
	l.BaseLayer = newBaseLayer(l, config.Name)
	l.built = true

	// The input layer's single node has no inputs and one output: the placeholder.
	node := &Node{
		outboundLayer: l,
		outputShapes:  []shapes.Shape{batchShape},
	}
	node.outputTensors = []*SymbolicTensor{{
		name:        l.name,
		shape:       batchShape,
		sourceLayer: l,
		nodeIndex:   0,
		tensorIndex: 0,
	}}
	l.inboundNodes = append(l.inboundNodes, node)
	return l
}

// Output returns the placeholder symbolic tensor.
func (l *InputLayer) Output() *SymbolicTensor {
	return l.inboundNodes[0].outputTensors[0]
}

// BatchShape of the placeholder, including the (possibly unknown) batch dimension.
func (l *InputLayer) BatchShape() shapes.Shape { return l.batchShape }

// ClassName implements Layer.
func (l *InputLayer) ClassName() string { return "InputLayer" }

// Build implements Layer; an InputLayer has nothing to build.
func (l *InputLayer) Build(inputShapes []shapes.Shape) {}

// Call panics: an InputLayer is a placeholder, it cannot be called.
func (l *InputLayer) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	exceptions.PanicRuntimef("InputLayer %q cannot be called: it is a graph placeholder", l.name)
	return nil
}

// ComputeOutputShape implements Layer.
func (l *InputLayer) ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape {
	return []shapes.Shape{l.batchShape}
}

// Config implements Layer.
func (l *InputLayer) Config() Config {
	dims := make([]any, l.batchShape.Rank())
	for ii, dim := range l.batchShape.Dimensions {
		if dim == shapes.UnknownDim {
			dims[ii] = nil
		} else {
			dims[ii] = dim
		}
	}
	return Config{
		"name":              l.name,
		"batch_input_shape": dims,
		"dtype":             l.batchShape.DType.String(),
	}
}

func inputLayerFromConfig(config Config) Layer {
	dimsAny, ok := config["batch_input_shape"].([]any)
	if !ok {
		exceptions.PanicValuef("InputLayer config: missing or invalid \"batch_input_shape\" (%v)",
			config["batch_input_shape"])
	}
	dims := make([]int, len(dimsAny))
	for ii, d := range dimsAny {
		switch n := d.(type) {
		case nil:
			dims[ii] = shapes.UnknownDim
		case int:
			dims[ii] = n
		case float64:
			dims[ii] = int(n)
		default:
			exceptions.PanicValuef("InputLayer config: invalid dimension %v in \"batch_input_shape\"", d)
		}
	}
	dtype := dtypes.FromString(config.String("dtype", "float32"))
	return NewInputLayer(InputConfig{
		BatchShape: shapes.Make(dtype, dims...),
		Name:       config.String("name", ""),
	})
}

func init() {
	RegisterLayer("InputLayer", inputLayerFromConfig)
}
