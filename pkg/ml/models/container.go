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

// Package models assembles layers into trainable models: Container resolves a symbolic
// graph into an executable plan, Model adds compile/fit/evaluate/predict on top, and
// Sequential is the linear-stack convenience. Saving and loading go through the IOHandler
// capability contract (see io.go).
package models

import (
	"sort"

	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/layers"
)

// Container resolves the graph spanned between input and output symbolic tensors into a
// topology-ordered execution plan, built once at construction.
//
// Node depths are assigned walking backwards from the outputs: output nodes get depth 0
// and every producer is at least one deeper than its consumers. Execution runs from the
// deepest nodes (the inputs) towards depth 0.
type Container struct {
	name    string
	inputs  []*layers.SymbolicTensor
	outputs []*layers.SymbolicTensor

	// layerList holds the reachable layers, deepest (inputs) first; ties broken by
	// discovery order for determinism.
	layerList []layers.Layer

	// runOrder holds the reachable nodes sorted by decreasing depth, input-layer
	// placeholder nodes excluded.
	runOrder []*layers.Node

	nodeDepths  map[*layers.Node]int
	layerDepths map[layers.Layer]int
}

// NewContainer builds the execution plan for the graph between inputs and outputs. It
// panics with a RuntimeError if the graph is disconnected: some output depends on a
// placeholder tensor not listed in inputs.
func NewContainer(name string, inputs, outputs []*layers.SymbolicTensor) *Container {
	if len(inputs) == 0 || len(outputs) == 0 {
		exceptions.PanicValuef("models.NewContainer(%q): at least one input and one output are required", name)
	}
	c := &Container{
		name:        name,
		inputs:      inputs,
		outputs:     outputs,
		nodeDepths:  make(map[*layers.Node]int),
		layerDepths: make(map[layers.Layer]int),
	}
	c.resolve()
	return c
}

// producerOf returns the node that produced the symbolic tensor.
func producerOf(st *layers.SymbolicTensor) *layers.Node {
	return st.SourceLayer().InboundNodes()[st.NodeIndex()]
}

// resolve assigns node depths and freezes the execution order.
func (c *Container) resolve() {
	declaredInputs := make(map[*layers.SymbolicTensor]bool, len(c.inputs))
	for _, input := range c.inputs {
		declaredInputs[input] = true
	}

	var discovered []*layers.Node
	var visit func(node *layers.Node, depth int)
	visit = func(node *layers.Node, depth int) {
		seen, found := c.nodeDepths[node]
		if found && seen >= depth {
			return
		}
		if !found {
			discovered = append(discovered, node)
		}
		c.nodeDepths[node] = depth
		for _, input := range node.InputTensors() {
			if declaredInputs[input] {
				continue
			}
			producer := producerOf(input)
			if _, isPlaceholder := input.SourceLayer().(*layers.InputLayer); isPlaceholder {
				// A placeholder that was never declared as a model input.
				exceptions.PanicRuntimef(
					"graph disconnected: model %q cannot reach input tensor %q from its declared inputs",
					c.name, input.Name())
			}
			visit(producer, depth+1)
		}
	}
	for _, output := range c.outputs {
		if !declaredInputs[output] {
			visit(producerOf(output), 0)
		}
	}
	// Declared inputs participate even when an output is fed straight from them.
	for _, input := range c.inputs {
		node := producerOf(input)
		if _, found := c.nodeDepths[node]; !found {
			discovered = append(discovered, node)
		}
		// Inputs sit below every computing node.
		maxDepth := 0
		for _, d := range c.nodeDepths {
			if d > maxDepth {
				maxDepth = d
			}
		}
		if c.nodeDepths[node] < maxDepth+1 {
			c.nodeDepths[node] = maxDepth + 1
		}
	}

	// Layer depth is the max depth of its reachable nodes.
	discoveryOrder := make(map[layers.Layer]int)
	for i, node := range discovered {
		l := node.OutboundLayer()
		if _, found := discoveryOrder[l]; !found {
			discoveryOrder[l] = i
		}
		if depth := c.nodeDepths[node]; depth > c.layerDepths[l] {
			c.layerDepths[l] = depth
		}
	}

	c.layerList = make([]layers.Layer, 0, len(discoveryOrder))
	for l := range discoveryOrder {
		c.layerList = append(c.layerList, l)
	}
	sort.SliceStable(c.layerList, func(i, j int) bool {
		di, dj := c.layerDepths[c.layerList[i]], c.layerDepths[c.layerList[j]]
		if di != dj {
			return di > dj
		}
		return discoveryOrder[c.layerList[i]] < discoveryOrder[c.layerList[j]]
	})

	c.runOrder = make([]*layers.Node, 0, len(discovered))
	for _, node := range discovered {
		if len(node.InputTensors()) == 0 {
			continue // Placeholder nodes have nothing to run.
		}
		c.runOrder = append(c.runOrder, node)
	}
	sort.SliceStable(c.runOrder, func(i, j int) bool {
		return c.nodeDepths[c.runOrder[i]] > c.nodeDepths[c.runOrder[j]]
	})
}

// Name of the container.
func (c *Container) Name() string { return c.name }

// Inputs returns the declared input placeholders.
func (c *Container) Inputs() []*layers.SymbolicTensor { return c.inputs }

// Outputs returns the declared output tensors.
func (c *Container) Outputs() []*layers.SymbolicTensor { return c.outputs }

// Layers returns the reachable layers, inputs first.
func (c *Container) Layers() []layers.Layer { return c.layerList }

// LayerByName returns the named layer, or nil.
func (c *Container) LayerByName(name string) layers.Layer {
	for _, l := range c.layerList {
		if l.Name() == name {
			return l
		}
	}
	return nil
}

// OutputNames names each output after its producing layer.
func (c *Container) OutputNames() []string {
	names := make([]string, len(c.outputs))
	for i, output := range c.outputs {
		names[i] = output.SourceLayer().Name()
	}
	return names
}

// Weights of all reachable layers, in layer order.
func (c *Container) Weights() (weights []*layers.Weight) {
	for _, l := range c.layerList {
		weights = append(weights, l.Weights()...)
	}
	return
}

// TrainableWeights of all reachable layers, in layer order.
func (c *Container) TrainableWeights() (weights []*layers.Weight) {
	for _, l := range c.layerList {
		weights = append(weights, l.TrainableWeights()...)
	}
	return
}

// NonTrainableWeights of all reachable layers, in layer order.
func (c *Container) NonTrainableWeights() (weights []*layers.Weight) {
	for _, l := range c.layerList {
		weights = append(weights, l.NonTrainableWeights()...)
	}
	return
}

// Forward executes the graph on a batch, feeding inputs positionally into the declared
// placeholders, and returns the outputs in declaration order. It panics with a ValueError
// if a fed tensor is incompatible with its placeholder shape, and with a RuntimeError if
// the execution plan fails to produce some output (which indicates a feeding gap).
func (c *Container) Forward(ops backends.Ops, inputs []*tensors.Tensor) []*tensors.Tensor {
	if len(inputs) != len(c.inputs) {
		exceptions.PanicValuef("model %q expects %d input tensor(s), got %d",
			c.name, len(c.inputs), len(inputs))
	}
	computed := make(map[*layers.SymbolicTensor]*tensors.Tensor)
	for i, placeholder := range c.inputs {
		if !placeholder.Shape().Compatible(inputs[i].Shape()) {
			exceptions.PanicValuef("model %q input #%d %q expects shape %s, got %s",
				c.name, i, placeholder.Name(), placeholder.Shape(), inputs[i].Shape())
		}
		computed[placeholder] = inputs[i]
	}

	for _, node := range c.runOrder {
		args := make([]*tensors.Tensor, len(node.InputTensors()))
		ready := true
		for i, st := range node.InputTensors() {
			value, found := computed[st]
			if !found {
				ready = false
				break
			}
			args[i] = value
		}
		if !ready {
			// Reachable only through a tensor this batch doesn't feed; outputs depending
			// on it will be caught below.
			continue
		}
		results := node.OutboundLayer().Call(ops, args)
		for i, st := range node.OutputTensors() {
			computed[st] = results[i]
		}
	}

	outputs := make([]*tensors.Tensor, len(c.outputs))
	for i, st := range c.outputs {
		value, found := computed[st]
		if !found {
			exceptions.PanicRuntimef("model %q failed to compute output %q: graph disconnected",
				c.name, st.Name())
		}
		outputs[i] = value
	}
	return outputs
}

// ComputeOutputShapes maps batch input shapes through the graph without executing it.
func (c *Container) ComputeOutputShapes(inputShapes []shapes.Shape) []shapes.Shape {
	if len(inputShapes) != len(c.inputs) {
		exceptions.PanicValuef("model %q expects %d input shape(s), got %d",
			c.name, len(c.inputs), len(inputShapes))
	}
	known := make(map[*layers.SymbolicTensor]shapes.Shape)
	for i, placeholder := range c.inputs {
		known[placeholder] = inputShapes[i]
	}
	for _, node := range c.runOrder {
		in := make([]shapes.Shape, len(node.InputTensors()))
		ready := true
		for i, st := range node.InputTensors() {
			shape, found := known[st]
			if !found {
				ready = false
				break
			}
			in[i] = shape
		}
		if !ready {
			continue
		}
		for i, shape := range node.OutboundLayer().ComputeOutputShape(in) {
			known[node.OutputTensors()[i]] = shape
		}
	}
	result := make([]shapes.Shape, len(c.outputs))
	for i, st := range c.outputs {
		result[i] = known[st]
	}
	return result
}
