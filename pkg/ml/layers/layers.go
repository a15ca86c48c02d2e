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

// Package layers implements the symbolic layers API: the Layer contract, the Node records
// that link layer applications into a computation graph, and a collection of concrete
// layers (Input, Dense, Activation, Flatten, Embedding, Concatenate, SimpleRNN and the
// TimeDistributed/Bidirectional wrappers).
//
// A Layer is a polymorphic computation unit. Applying it to SymbolicTensor placeholders
// extends the graph without computing anything; applying it to concrete tensors.Tensor
// values executes it through a tensor-compute backend. Either way the layer lazily builds
// (allocates) its weights on first application, given the input shapes.
//
// Example, building a two-output graph:
//
//	x := layers.Input(layers.InputConfig{Shape: shapes.Make(dtypes.Float32, 5)})
//	hidden := layers.NewDense(8).WithActivation("relu").Apply(x).(*layers.SymbolicTensor)
//	out := layers.NewDense(3).WithActivation("softmax").Apply(hidden).(*layers.SymbolicTensor)
package layers

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/initializers"
)

// Layer is the contract every layer implements. Most of it is provided by embedding
// BaseLayer; a concrete layer supplies the implementation hooks (see implementation).
type Layer interface {
	// Name uniquely identifies the layer instance within a process (see ResetUniqueNames).
	Name() string

	// ClassName is the serialization tag, e.g. "Dense". Together with Config it allows
	// polymorphic reconstruction through FromConfig.
	ClassName() string

	// Apply the layer. Inputs must be all *SymbolicTensor or all *tensors.Tensor; the
	// result is correspondingly a *SymbolicTensor (or slice, for multi-output layers) or
	// *tensors.Tensor (or slice). Symbolic application records a new Node; concrete
	// application runs Call through the default backend, building the layer first if
	// needed.
	Apply(inputs ...any) any

	// Build allocates the layer weights for the given input shapes. It is called lazily,
	// exactly once, by the first Apply.
	Build(inputShapes []shapes.Shape)

	// Built returns whether Build has run.
	Built() bool

	// Call computes the layer's concrete output given built weights. Used by Apply and by
	// the model execution engine, which supplies the backend op set (possibly a gradient
	// recording one).
	Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor

	// ComputeOutputShape maps input shapes to output shapes without computing values.
	ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape

	// Config returns the declarative configuration: a JSON-serializable map sufficient to
	// reconstruct an equivalent, untrained layer.
	Config() Config

	// Weights in declaration order, TrainableWeights and NonTrainableWeights the
	// corresponding subsets.
	Weights() []*Weight
	TrainableWeights() []*Weight
	NonTrainableWeights() []*Weight

	// InboundNodes records every application of this layer; OutboundNodes every node that
	// consumes one of its outputs.
	InboundNodes() []*Node
	OutboundNodes() []*Node

	// Trainable indicates whether optimizers may update this layer's weights.
	Trainable() bool

	addOutboundNode(node *Node)
	base() *BaseLayer
}

// implementation is the hook set a concrete layer provides; BaseLayer dispatches to it.
type implementation interface {
	ClassName() string
	Build(inputShapes []shapes.Shape)
	Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor
	ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape
	Config() Config
}

// Weight is a named variable owned by exactly one layer.
type Weight struct {
	name      string
	trainable bool
	value     *tensors.Tensor
}

// Name is scoped by the owning layer, e.g. "dense_1/kernel".
func (w *Weight) Name() string { return w.name }

// Trainable indicates whether optimizers may update this weight.
func (w *Weight) Trainable() bool { return w.trainable }

// Shape of the weight value.
func (w *Weight) Shape() shapes.Shape { return w.value.Shape() }

// Value returns the current tensor. The tensor is owned by the weight: don't finalize it,
// use SetValue to replace it.
func (w *Weight) Value() *tensors.Tensor { return w.value }

// SetValue replaces the weight value, finalizing the previous tensor. The new value must
// have the same shape and dtype.
func (w *Weight) SetValue(value *tensors.Tensor) {
	if !value.Shape().Equal(w.value.Shape()) {
		exceptions.PanicValuef("Weight.SetValue(%q): new value shape %s != weight shape %s",
			w.name, value.Shape(), w.value.Shape())
	}
	old := w.value
	w.value = value
	old.Finalize()
}

// BaseLayer supplies the shared mechanics of every layer: naming, node bookkeeping, lazy
// build, input validation and the symbolic/concrete Apply dispatch. Concrete layers embed
// a *BaseLayer created with newBaseLayer.
type BaseLayer struct {
	impl implementation

	name      string
	built     bool
	trainable bool

	weights       []*Weight
	inboundNodes  []*Node
	outboundNodes []*Node

	// Input validation applied by Apply before building: number of expected input
	// tensors (0 means any), and rank bounds (0 means unconstrained).
	expectsInputs    int
	minRank, maxRank int

	buildShapes []shapes.Shape
}

func (l *BaseLayer) base() *BaseLayer { return l }

// Name of the layer.
func (l *BaseLayer) Name() string { return l.name }

// ClassName of the layer, its serialization tag.
func (l *BaseLayer) ClassName() string { return l.impl.ClassName() }

// Built returns whether Build has run.
func (l *BaseLayer) Built() bool { return l.built }

// Trainable indicates whether optimizers may update this layer's weights.
func (l *BaseLayer) Trainable() bool { return l.trainable }

// SetTrainable changes the trainable flag. It doesn't retroactively change weights already
// created.
func (l *BaseLayer) SetTrainable(trainable bool) { l.trainable = trainable }

// Build marks the layer built. Layers with weights override this, allocate their weights
// with AddWeight and don't need to call back here: Apply flips the built flag itself.
func (l *BaseLayer) Build(inputShapes []shapes.Shape) {}

// Call panics: a concrete layer must override it. (RuntimeError, abstract-method case.)
func (l *BaseLayer) Call(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	exceptions.PanicNotImplementedf("layer %q (%s) does not implement Call", l.name, l.ClassName())
	return nil
}

// ComputeOutputShape defaults to the identity mapping. Layers that change shapes override
// it.
func (l *BaseLayer) ComputeOutputShape(inputShapes []shapes.Shape) []shapes.Shape {
	return inputShapes
}

// Weights returns the layer weights in declaration order.
func (l *BaseLayer) Weights() []*Weight { return l.weights }

// TrainableWeights returns the weights marked trainable, in declaration order. Empty if
// the whole layer is frozen (Trainable() == false).
func (l *BaseLayer) TrainableWeights() (weights []*Weight) {
	if !l.trainable {
		return nil
	}
	for _, w := range l.weights {
		if w.trainable {
			weights = append(weights, w)
		}
	}
	return
}

// NonTrainableWeights returns the weights not touched by optimizers. If the whole layer is
// frozen that is every weight.
func (l *BaseLayer) NonTrainableWeights() (weights []*Weight) {
	for _, w := range l.weights {
		if !w.trainable || !l.trainable {
			weights = append(weights, w)
		}
	}
	return
}

// InboundNodes records every application of this layer.
func (l *BaseLayer) InboundNodes() []*Node { return l.inboundNodes }

// OutboundNodes records every node consuming one of this layer's outputs.
func (l *BaseLayer) OutboundNodes() []*Node { return l.outboundNodes }

func (l *BaseLayer) addOutboundNode(node *Node) {
	l.outboundNodes = append(l.outboundNodes, node)
}

// AddWeight allocates and registers a weight. Only valid during Build.
func (l *BaseLayer) AddWeight(name string, shape shapes.Shape, initializer Initializer, trainable bool) *Weight {
	w := &Weight{
		name:      fmt.Sprintf("%s/%s", l.name, name),
		trainable: trainable,
		value:     initializer(layerRNG, shape),
	}
	l.weights = append(l.weights, w)
	return w
}

// Initializer is an alias to initializers.Initializer, re-exported to keep layer
// constructors readable.
type Initializer = initializers.Initializer

// assertInputCompatibility validates number of inputs and rank constraints, panicking with
// a ValueError naming the layer and the offending shape.
func (l *BaseLayer) assertInputCompatibility(inputShapes []shapes.Shape) {
	if l.expectsInputs > 0 && len(inputShapes) != l.expectsInputs {
		exceptions.PanicValuef("layer %q (%s) expects %d input(s), got %d",
			l.name, l.ClassName(), l.expectsInputs, len(inputShapes))
	}
	for _, shape := range inputShapes {
		if l.minRank > 0 && shape.Rank() < l.minRank {
			exceptions.PanicValuef("layer %q (%s) expects inputs of rank >= %d, got input with shape %s",
				l.name, l.ClassName(), l.minRank, shape)
		}
		if l.maxRank > 0 && shape.Rank() > l.maxRank {
			exceptions.PanicValuef("layer %q (%s) expects inputs of rank <= %d, got input with shape %s",
				l.name, l.ClassName(), l.maxRank, shape)
		}
	}
}

// maybeBuild runs Build exactly once, validating shape compatibility on later
// applications.
func (l *BaseLayer) maybeBuild(inputShapes []shapes.Shape) {
	if l.built {
		for ii, shape := range inputShapes {
			if ii < len(l.buildShapes) && !l.buildShapes[ii].Compatible(shape) {
				exceptions.PanicValuef("layer %q (%s) was built for input shape %s, got incompatible shape %s",
					l.name, l.ClassName(), l.buildShapes[ii], shape)
			}
		}
		return
	}
	l.buildShapes = make([]shapes.Shape, len(inputShapes))
	for ii, shape := range inputShapes {
		l.buildShapes[ii] = shape.Clone()
	}
	l.impl.Build(inputShapes)
	l.built = true
}

// Apply implements the polymorphic layer application. See Layer.Apply.
func (l *BaseLayer) Apply(inputs ...any) any {
	if len(inputs) == 0 {
		exceptions.PanicValuef("layer %q (%s): Apply requires at least one input", l.name, l.ClassName())
	}
	switch inputs[0].(type) {
	case *SymbolicTensor:
		symbolic := make([]*SymbolicTensor, len(inputs))
		for ii, input := range inputs {
			st, ok := input.(*SymbolicTensor)
			if !ok {
				exceptions.PanicValuef("layer %q (%s): Apply inputs must be all symbolic or all concrete, "+
					"input #%d is %T", l.name, l.ClassName(), ii, input)
			}
			symbolic[ii] = st
		}
		outputs := l.applySymbolic(symbolic)
		if len(outputs) == 1 {
			return outputs[0]
		}
		return outputs
	case *tensors.Tensor:
		concrete := make([]*tensors.Tensor, len(inputs))
		for ii, input := range inputs {
			t, ok := input.(*tensors.Tensor)
			if !ok {
				exceptions.PanicValuef("layer %q (%s): Apply inputs must be all symbolic or all concrete, "+
					"input #%d is %T", l.name, l.ClassName(), ii, input)
			}
			concrete[ii] = t
		}
		outputs := l.applyConcrete(concrete)
		if len(outputs) == 1 {
			return outputs[0]
		}
		return outputs
	}
	exceptions.PanicValuef("layer %q (%s): Apply inputs must be *SymbolicTensor or *tensors.Tensor, got %T",
		l.name, l.ClassName(), inputs[0])
	return nil
}

func (l *BaseLayer) applySymbolic(inputs []*SymbolicTensor) []*SymbolicTensor {
	inputShapes := make([]shapes.Shape, len(inputs))
	for ii, input := range inputs {
		inputShapes[ii] = input.Shape()
	}
	l.assertInputCompatibility(inputShapes)
	l.maybeBuild(inputShapes)
	outputShapes := l.impl.ComputeOutputShape(inputShapes)

	self := l.impl.(Layer)
	node := &Node{
		outboundLayer: self,
		inputTensors:  inputs,
		inputShapes:   inputShapes,
		outputShapes:  outputShapes,
	}
	nodeIndex := len(l.inboundNodes)
	for _, input := range inputs {
		node.inboundLayers = append(node.inboundLayers, input.sourceLayer)
		node.nodeIndices = append(node.nodeIndices, input.nodeIndex)
		node.tensorIndices = append(node.tensorIndices, input.tensorIndex)
	}
	node.outputTensors = make([]*SymbolicTensor, len(outputShapes))
	for ii, shape := range outputShapes {
		node.outputTensors[ii] = &SymbolicTensor{
			name:        fmt.Sprintf("%s/output:%d:%d", l.name, nodeIndex, ii),
			shape:       shape,
			sourceLayer: self,
			nodeIndex:   nodeIndex,
			tensorIndex: ii,
		}
	}
	l.inboundNodes = append(l.inboundNodes, node)
	for _, input := range inputs {
		if input.sourceLayer != nil {
			input.sourceLayer.addOutboundNode(node)
		}
	}
	return node.outputTensors
}

func (l *BaseLayer) applyConcrete(inputs []*tensors.Tensor) []*tensors.Tensor {
	inputShapes := make([]shapes.Shape, len(inputs))
	for ii, input := range inputs {
		inputShapes[ii] = input.Shape()
	}
	l.assertInputCompatibility(inputShapes)
	l.maybeBuild(inputShapes)
	return l.impl.Call(DefaultBackend().Ops(), inputs)
}

var (
	muNames      sync.Mutex
	nameCounters = make(map[string]int)

	layerRNG = rand.New(rand.NewSource(42))
)

// uniqueName returns base, base_1, base_2, ... guaranteeing process-wide uniqueness per
// base until ResetUniqueNames is called.
func uniqueName(base string) string {
	muNames.Lock()
	defer muNames.Unlock()
	count := nameCounters[base]
	nameCounters[base] = count + 1
	if count == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, count)
}

// ResetUniqueNames resets the per-class name counters. Meant for tests that need
// reproducible layer names.
func ResetUniqueNames() {
	muNames.Lock()
	defer muNames.Unlock()
	nameCounters = make(map[string]int)
}

// SetRandomSeed resets the random source used for weight initialization, making subsequent
// builds deterministic.
func SetRandomSeed(seed int64) {
	layerRNG = rand.New(rand.NewSource(seed))
}

// newBaseLayer wires a concrete layer implementation into a BaseLayer. If name is empty a
// unique one is generated from the lower-cased class name.
func newBaseLayer(impl implementation, name string) *BaseLayer {
	if name == "" {
		name = uniqueName(toSnakeCase(impl.ClassName()))
	}
	return &BaseLayer{impl: impl, name: name, trainable: true}
}

func toSnakeCase(className string) string {
	out := make([]rune, 0, len(className)+4)
	for ii, r := range className {
		if r >= 'A' && r <= 'Z' {
			if ii > 0 {
				out = append(out, '_')
			}
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

var (
	muBackend      sync.Mutex
	defaultBackend backends.Backend
)

// DefaultBackend returns the backend used for concrete (eager) layer application. It is
// created lazily with backends.New() -- the program must import a backend implementation
// for its side effects. Model training uses its own backend, see models.NewModel.
func DefaultBackend() backends.Backend {
	muBackend.Lock()
	defer muBackend.Unlock()
	if defaultBackend == nil {
		defaultBackend = backends.New()
	}
	return defaultBackend
}

// SetDefaultBackend overrides the backend used for eager layer application.
func SetDefaultBackend(backend backends.Backend) {
	muBackend.Lock()
	defer muBackend.Unlock()
	defaultBackend = backend
}
