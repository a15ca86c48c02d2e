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

import "github.com/gomlx/tapestry/pkg/core/shapes"

// SymbolicTensor is a placeholder flowing through graph construction: it carries a shape
// (possibly with unknown dimensions) and its provenance -- which layer application
// produced it -- but never any data. Applying layers to symbolic tensors builds the
// computation graph that models.NewModel later resolves into an executable plan.
//
// SymbolicTensors are immutable once created.
type SymbolicTensor struct {
	name        string
	shape       shapes.Shape
	sourceLayer Layer
	nodeIndex   int
	tensorIndex int
}

// Name uniquely identifies the tensor, derived from the producing layer.
func (st *SymbolicTensor) Name() string { return st.name }

// Shape of the tensor, possibly with unknown dimensions (shapes.UnknownDim).
func (st *SymbolicTensor) Shape() shapes.Shape { return st.shape }

// SourceLayer is the layer whose application produced this tensor.
func (st *SymbolicTensor) SourceLayer() Layer { return st.sourceLayer }

// NodeIndex is the index into SourceLayer().InboundNodes() of the producing application.
func (st *SymbolicTensor) NodeIndex() int { return st.nodeIndex }

// TensorIndex is the position of this tensor among the producing node's outputs.
func (st *SymbolicTensor) TensorIndex() int { return st.tensorIndex }

// String implements fmt.Stringer.
func (st *SymbolicTensor) String() string {
	return st.name + " " + st.shape.String()
}

// Node records one application of a layer to symbolic inputs: the edge set linking the
// producing layers to the applied (outbound) layer, with the symbolic inputs and outputs
// of the application. A layer applied N times owns N inbound nodes.
type Node struct {
	outboundLayer Layer

	// Parallel slices describing each input's provenance.
	inboundLayers []Layer
	nodeIndices   []int
	tensorIndices []int

	inputTensors  []*SymbolicTensor
	outputTensors []*SymbolicTensor
	inputShapes   []shapes.Shape
	outputShapes  []shapes.Shape
}

// OutboundLayer is the layer that was applied.
func (n *Node) OutboundLayer() Layer { return n.outboundLayer }

// InboundLayers are the layers producing each input, parallel to InputTensors. An
// InputLayer node has none.
func (n *Node) InboundLayers() []Layer { return n.inboundLayers }

// NodeIndices locate, for each input, the producing node within its layer's inbound
// nodes.
func (n *Node) NodeIndices() []int { return n.nodeIndices }

// TensorIndices locate each input among its producing node's outputs.
func (n *Node) TensorIndices() []int { return n.tensorIndices }

// InputTensors of the application.
func (n *Node) InputTensors() []*SymbolicTensor { return n.inputTensors }

// OutputTensors of the application.
func (n *Node) OutputTensors() []*SymbolicTensor { return n.outputTensors }

// InputShapes of the application.
func (n *Node) InputShapes() []shapes.Shape { return n.inputShapes }

// OutputShapes of the application.
func (n *Node) OutputShapes() []shapes.Shape { return n.outputShapes }
