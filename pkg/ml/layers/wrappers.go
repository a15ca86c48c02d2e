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
	"strings"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
)

// TimeDistributed applies the wrapped layer independently to every timestep of a
// [batch, time, ...] input: the temporal axis is folded into the batch, the wrapped
// layer is applied once, and the result is unfolded back.
type TimeDistributed struct {
	*BaseLayer
	layer Layer
}

// NewTimeDistributed wraps the given layer.
func NewTimeDistributed(layer Layer) *TimeDistributed {
	if layer == nil {
		exceptions.PanicValuef("layers.NewTimeDistributed: layer must not be nil")
	}
	l := &TimeDistributed{layer: layer}
	l.BaseLayer = newBaseLayer(l, "")
	l.expectsInputs = 1
	l.minRank = 3
	return l
}

// WithName sets the layer name.
func (l *TimeDistributed) WithName(name string) *TimeDistributed {
	l.name = name
	return l
}

// Layer returns the wrapped layer.
func (l *TimeDistributed) Layer() Layer { return l.layer }

// ClassName implements Layer.
func (l *TimeDistributed) ClassName() string { return "TimeDistributed" }

// Build builds the wrapped layer on the per-timestep shape, with the temporal axis
// removed. It goes through the wrapped layer's once-guarded build path, so applying the
// same layer on its own afterwards won't rebuild its weights.
func (l *TimeDistributed) Build(inputShapes []shapes.Shape) {
	l.layer.base().maybeBuild([]shapes.Shape{l.stepShape(inputShapes[0])})
}

// stepShape drops the time axis: [batch, time, rest...] -> [batch, rest...].
func (l *TimeDistributed) stepShape(inputShape shapes.Shape) shapes.Shape {
	dims := append([]int{inputShape.Dim(0)}, inputShape.Dimensions[2:]...)
	return shapes.Shape{DType: inputShape.DType, Dimensions: dims}
}

// Call implements Layer.
func (l *TimeDistributed) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	input := inputs[0]
	batchSize := input.Shape().Dim(0)
	timeSteps := input.Shape().Dim(1)
	innerDims := input.Shape().Dimensions[2:]

	foldedDims := append([]int{batchSize * timeSteps}, innerDims...)
	folded := ops.Reshape(input, foldedDims...)
	output := l.layer.Call(ops, []*tensors.Tensor{folded})[0]
	outDims := append([]int{batchSize, timeSteps}, output.Shape().Dimensions[1:]...)
	return []*tensors.Tensor{ops.Reshape(output, outDims...)}
}

// ComputeOutputShape implements Layer.
func (l *TimeDistributed) ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape {
	inputShape := inputShapes[0]
	stepOut := l.layer.ComputeOutputShape([]shapes.Shape{l.stepShape(inputShape)})[0]
	dims := append([]int{inputShape.Dim(0), inputShape.Dim(1)}, stepOut.Dimensions[1:]...)
	return []shapes.Shape{shapes.Shape{DType: stepOut.DType, Dimensions: dims}}
}

// Weights implements Layer, delegating to the wrapped layer.
func (l *TimeDistributed) Weights() []*Weight { return l.layer.Weights() }

// TrainableWeights implements Layer.
func (l *TimeDistributed) TrainableWeights() []*Weight { return l.layer.TrainableWeights() }

// NonTrainableWeights implements Layer.
func (l *TimeDistributed) NonTrainableWeights() []*Weight { return l.layer.NonTrainableWeights() }

// Config implements Layer.
func (l *TimeDistributed) Config() Config {
	return Config{
		"name": l.name,
		"layer": Config{
			"class_name": l.layer.ClassName(),
			"config":     l.layer.Config(),
		},
	}
}

// ValidMergeModes are the ways Bidirectional can combine its forward and backward
// outputs.
var ValidMergeModes = []string{"concat", "sum", "mul", "ave"}

// Bidirectional runs the wrapped recurrent layer over the input in both temporal
// directions and merges the two outputs.
type Bidirectional struct {
	*BaseLayer
	forward, backward Layer
	mergeMode         string
}

// NewBidirectional wraps the given recurrent layer. The backward copy is created by
// cloning the layer's configuration. The default merge mode is "concat".
func NewBidirectional(layer Layer) *Bidirectional {
	if layer == nil {
		exceptions.PanicValuef("layers.NewBidirectional: layer must not be nil")
	}
	l := &Bidirectional{forward: layer, backward: CloneLayer(layer), mergeMode: "concat"}
	l.BaseLayer = newBaseLayer(l, "")
	l.expectsInputs = 1
	l.minRank, l.maxRank = 3, 3
	return l
}

// WithMergeMode sets how forward and backward outputs are combined, one of
// ValidMergeModes.
func (l *Bidirectional) WithMergeMode(mode string) *Bidirectional {
	for _, valid := range ValidMergeModes {
		if mode == valid {
			l.mergeMode = mode
			return l
		}
	}
	exceptions.PanicValuef("layers.Bidirectional: invalid merge mode %q, valid values are %s",
		mode, strings.Join(ValidMergeModes, ", "))
	return l
}

// WithName sets the layer name.
func (l *Bidirectional) WithName(name string) *Bidirectional {
	l.name = name
	return l
}

// MergeMode returns the configured merge mode.
func (l *Bidirectional) MergeMode() string { return l.mergeMode }

// Layer returns the forward-direction wrapped layer.
func (l *Bidirectional) Layer() Layer { return l.forward }

// ClassName implements Layer.
func (l *Bidirectional) ClassName() string { return "Bidirectional" }

// Build builds both directions on the input shape, through each direction's once-guarded
// build path so a wrapped layer applied on its own afterwards won't rebuild its weights.
func (l *Bidirectional) Build(inputShapes []shapes.Shape) {
	l.forward.base().maybeBuild(inputShapes)
	l.backward.base().maybeBuild(inputShapes)
}

func (l *Bidirectional) returnsSequences() bool {
	if rnn, ok := l.forward.(*SimpleRNN); ok {
		return rnn.ReturnSequences()
	}
	return false
}

// Call implements Layer.
func (l *Bidirectional) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	input := inputs[0]
	fwd := l.forward.Call(ops, []*tensors.Tensor{input})[0]
	bwd := l.backward.Call(ops, []*tensors.Tensor{ops.Reverse(input, 1)})[0]
	if l.returnsSequences() {
		// Re-align the backward sequence with forward time order.
		bwd = ops.Reverse(bwd, 1)
	}
	var merged *tensors.Tensor
	switch l.mergeMode {
	case "concat":
		merged = ops.Concat(fwd.Rank()-1, fwd, bwd)
	case "sum":
		merged = ops.Add(fwd, bwd)
	case "mul":
		merged = ops.Mul(fwd, bwd)
	case "ave":
		half := tensors.FromScalar(0.5).CastTo(fwd.DType())
		merged = ops.Mul(ops.Add(fwd, bwd), half)
	}
	return []*tensors.Tensor{merged}
}

// ComputeOutputShape implements Layer.
func (l *Bidirectional) ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape {
	out := l.forward.ComputeOutputShape(inputShapes)[0]
	if l.mergeMode == "concat" {
		dims := out.Clone()
		if dims.Dim(-1) != shapes.UnknownDim {
			dims.Dimensions[dims.Rank()-1] *= 2
		}
		return []shapes.Shape{dims}
	}
	return []shapes.Shape{out}
}

// Weights implements Layer, aggregating both directions.
func (l *Bidirectional) Weights() []*Weight {
	return append(append([]*Weight{}, l.forward.Weights()...), l.backward.Weights()...)
}

// TrainableWeights implements Layer.
func (l *Bidirectional) TrainableWeights() []*Weight {
	return append(append([]*Weight{}, l.forward.TrainableWeights()...), l.backward.TrainableWeights()...)
}

// NonTrainableWeights implements Layer.
func (l *Bidirectional) NonTrainableWeights() []*Weight {
	return append(append([]*Weight{}, l.forward.NonTrainableWeights()...), l.backward.NonTrainableWeights()...)
}

// Config implements Layer.
func (l *Bidirectional) Config() Config {
	return Config{
		"name":       l.name,
		"merge_mode": l.mergeMode,
		"layer": Config{
			"class_name": l.forward.ClassName(),
			"config":     l.forward.Config(),
		},
	}
}

func wrappedLayerFromConfig(config Config) Layer {
	sub := config.Sub("layer")
	className := sub.String("class_name", "")
	subConfig := sub.Sub("config")
	return FromConfig(className, subConfig)
}

func init() {
	RegisterLayer("TimeDistributed", func(config Config) Layer {
		l := NewTimeDistributed(wrappedLayerFromConfig(config))
		if name := config.String("name", ""); name != "" {
			l.name = name
		}
		return l
	})
	RegisterLayer("Bidirectional", func(config Config) Layer {
		l := NewBidirectional(wrappedLayerFromConfig(config)).
			WithMergeMode(config.String("merge_mode", "concat"))
		if name := config.String("name", ""); name != "" {
			l.name = name
		}
		return l
	})
}
