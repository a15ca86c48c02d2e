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
	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/layers"
	"github.com/pkg/errors"
)

// ArtifactFormat identifies the artifact layout produced by Save.
const ArtifactFormat = "layers-model"

// Version of the library, recorded in saved artifacts as provenance.
const Version = "0.1.0"

// Save serializes the model through the handler. The handler must have the save
// capability (implement Saver), otherwise a RuntimeError is returned. At most one
// SaveConfig may be given; the zero value saves everything.
func (m *Model) Save(handler IOHandler, config ...SaveConfig) (*SaveResult, error) {
	saver, ok := handler.(Saver)
	if !ok {
		return nil, errors.Errorf(
			"cannot proceed because the IOHandler provided does not have the save attribute defined")
	}
	var cfg SaveConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	var artifacts *ModelArtifacts
	err := exceptions.Call(func() { artifacts = m.artifacts(cfg) })
	if err != nil {
		return nil, err
	}
	return saver.SaveModel(artifacts)
}

// SaveConfig tunes what Save puts in the artifacts.
type SaveConfig struct {
	// TrainableOnly skips the non-trainable weights: neither their specs nor their bytes
	// are serialized. On load those weights keep their freshly initialized values.
	TrainableOnly bool
}

// SaveToURL saves through the handler registered for the URL's scheme, e.g.
// "file:///tmp/my_model".
func (m *Model) SaveToURL(url string, config ...SaveConfig) (*SaveResult, error) {
	var handler IOHandler
	err := exceptions.Call(func() { handler = HandlerForURL(url) })
	if err != nil {
		return nil, err
	}
	return m.Save(handler, config...)
}

// artifacts assembles the serialized form of the model.
func (m *Model) artifacts(cfg SaveConfig) *ModelArtifacts {
	weights := m.Weights()
	if cfg.TrainableOnly {
		weights = m.TrainableWeights()
	}
	specs := make([]WeightSpec, len(weights))
	var data []byte
	for i, w := range weights {
		specs[i] = WeightSpec{
			Name:  w.Name(),
			Shape: w.Shape().Dimensions,
			DType: w.Shape().DType.String(),
		}
		data = append(data, w.Value().Bytes()...)
	}
	artifacts := &ModelArtifacts{
		ModelTopology: m.topologyConfig(),
		WeightSpecs:   specs,
		WeightData:    data,
		Format:        ArtifactFormat,
		GeneratedBy:   "tapestry " + Version,
	}
	if m.Compiled() {
		lossNames := make([]any, len(m.losses))
		for i, loss := range m.losses {
			lossNames[i] = loss.Name()
		}
		artifacts.TrainingConfig = map[string]any{
			"loss":      lossNames,
			"optimizer": m.optimizer.Config(),
		}
	}
	return artifacts
}

// nodeKey identifies one application of a layer, for the serialized node renumbering.
type nodeKey struct {
	layer layers.Layer
	index int
}

// topologyConfig serializes layer configs and graph wiring. Node indices are remapped to
// count only the nodes belonging to this container, so reloading -- which replays the
// applications on fresh layers -- reproduces them exactly.
func (c *Container) topologyConfig() map[string]any {
	remapped := make(map[nodeKey]int)
	for _, l := range c.layerList {
		serialized := 0
		for original, node := range l.InboundNodes() {
			if _, reachable := c.nodeDepths[node]; !reachable {
				continue
			}
			remapped[nodeKey{l, original}] = serialized
			serialized++
		}
	}
	ref := func(st *layers.SymbolicTensor) []any {
		idx, found := remapped[nodeKey{st.SourceLayer(), st.NodeIndex()}]
		if !found {
			exceptions.PanicRuntimef("model %q: tensor %q produced outside the model graph",
				c.name, st.Name())
		}
		return []any{st.SourceLayer().Name(), idx, st.TensorIndex()}
	}

	layerConfigs := make([]any, 0, len(c.layerList))
	for _, l := range c.layerList {
		var inbound []any
		if _, isInput := l.(*layers.InputLayer); !isInput {
			for _, node := range l.InboundNodes() {
				if _, reachable := c.nodeDepths[node]; !reachable {
					continue
				}
				refs := make([]any, len(node.InputTensors()))
				for i, st := range node.InputTensors() {
					refs[i] = ref(st)
				}
				inbound = append(inbound, refs)
			}
		}
		if inbound == nil {
			inbound = []any{}
		}
		layerConfigs = append(layerConfigs, map[string]any{
			"name":          l.Name(),
			"class_name":    l.ClassName(),
			"config":        map[string]any(l.Config()),
			"inbound_nodes": inbound,
		})
	}

	inputRefs := make([]any, len(c.inputs))
	for i, st := range c.inputs {
		inputRefs[i] = []any{st.SourceLayer().Name(), 0, st.TensorIndex()}
	}
	outputRefs := make([]any, len(c.outputs))
	for i, st := range c.outputs {
		outputRefs[i] = ref(st)
	}

	return map[string]any{
		"class_name": "Model",
		"config": map[string]any{
			"name":          c.name,
			"layers":        layerConfigs,
			"input_layers":  inputRefs,
			"output_layers": outputRefs,
		},
	}
}

// Load reconstructs a model through the handler. The handler must have the load
// capability (implement Loader), otherwise a RuntimeError is returned.
//
// Custom layer classes must have been registered with layers.RegisterLayer before Load.
func Load(handler IOHandler, backend backends.Backend) (*Model, error) {
	loader, ok := handler.(Loader)
	if !ok {
		return nil, errors.Errorf(
			"cannot proceed because the IOHandler provided does not have the load attribute defined")
	}
	artifacts, err := loader.LoadModel()
	if err != nil {
		return nil, err
	}
	var model *Model
	err = exceptions.Call(func() { model = fromArtifacts(artifacts, backend) })
	if err != nil {
		return nil, err
	}
	return model, nil
}

// LoadFromURL loads through the handler registered for the URL's scheme.
func LoadFromURL(url string, backend backends.Backend) (*Model, error) {
	var handler IOHandler
	err := exceptions.Call(func() { handler = HandlerForURL(url) })
	if err != nil {
		return nil, err
	}
	return Load(handler, backend)
}

// fromArtifacts rebuilds the graph from the topology and restores the weights.
func fromArtifacts(artifacts *ModelArtifacts, backend backends.Backend) *Model {
	topo := layers.Config(artifacts.ModelTopology)
	config := topo.Sub("config")
	if config == nil {
		exceptions.PanicValuef("model topology is missing its \"config\" section")
	}
	name := config.String("name", "model")

	layerEntries, ok := config["layers"].([]any)
	if !ok {
		exceptions.PanicValuef("model topology %q: missing or invalid \"layers\" list", name)
	}

	// Instantiate every layer from its config.
	type entry struct {
		layer   layers.Layer
		inbound []any // Per node: []any of [layerName, nodeIdx, tensorIdx] refs.
		// replayed counts how many of this layer's nodes were re-applied so far.
		replayed int
	}
	byName := make(map[string]*entry)
	ordered := make([]*entry, 0, len(layerEntries))
	for _, raw := range layerEntries {
		lc, ok := raw.(map[string]any)
		if !ok {
			exceptions.PanicValuef("model topology %q: malformed layer entry %v", name, raw)
		}
		cfg := layers.Config(lc)
		className := cfg.String("class_name", "")
		subConfig := cfg.Sub("config")
		l := layers.FromConfig(className, subConfig)
		inbound, _ := lc["inbound_nodes"].([]any)
		e := &entry{layer: l, inbound: inbound}
		byName[cfg.String("name", l.Name())] = e
		ordered = append(ordered, e)
	}

	// resolveRef finds the symbolic output tensor for a [layerName, nodeIdx, tensorIdx]
	// reference, nil when the producing node was not replayed yet.
	resolveRef := func(raw any) *layers.SymbolicTensor {
		ref, ok := raw.([]any)
		if !ok || len(ref) != 3 {
			exceptions.PanicValuef("model topology %q: malformed tensor reference %v", name, raw)
		}
		layerName, _ := ref[0].(string)
		e, found := byName[layerName]
		if !found {
			exceptions.PanicValuef("model topology %q: reference to unknown layer %q", name, layerName)
		}
		nodeIdx := asInt(ref[1])
		tensorIdx := asInt(ref[2])
		nodes := e.layer.InboundNodes()
		if nodeIdx >= len(nodes) {
			return nil // Not replayed yet.
		}
		return nodes[nodeIdx].OutputTensors()[tensorIdx]
	}

	// Replay the applications. Dependencies may force multiple passes; no progress on a
	// full pass means the topology is inconsistent.
	remaining := 0
	for _, e := range ordered {
		remaining += len(e.inbound)
	}
	for remaining > 0 {
		progressed := false
		for _, e := range ordered {
			for e.replayed < len(e.inbound) {
				refs, ok := e.inbound[e.replayed].([]any)
				if !ok {
					exceptions.PanicValuef("model topology %q: malformed inbound node %v",
						name, e.inbound[e.replayed])
				}
				inputs := make([]any, len(refs))
				ready := true
				for i, raw := range refs {
					st := resolveRef(raw)
					if st == nil {
						ready = false
						break
					}
					inputs[i] = st
				}
				if !ready {
					break
				}
				e.layer.Apply(inputs...)
				e.replayed++
				remaining--
				progressed = true
			}
		}
		if !progressed {
			exceptions.PanicRuntimef("model topology %q: circular or dangling layer references, "+
				"cannot replay the graph", name)
		}
	}

	mustResolve := func(raw any) *layers.SymbolicTensor {
		st := resolveRef(raw)
		if st == nil {
			exceptions.PanicValuef("model topology %q: unresolvable tensor reference %v", name, raw)
		}
		return st
	}
	inputRefs, ok := config["input_layers"].([]any)
	if !ok {
		exceptions.PanicValuef("model topology %q: missing \"input_layers\"", name)
	}
	outputRefs, ok := config["output_layers"].([]any)
	if !ok {
		exceptions.PanicValuef("model topology %q: missing \"output_layers\"", name)
	}
	inputs := make([]*layers.SymbolicTensor, len(inputRefs))
	for i, raw := range inputRefs {
		inputs[i] = mustResolve(raw)
	}
	outputs := make([]*layers.SymbolicTensor, len(outputRefs))
	for i, raw := range outputRefs {
		outputs[i] = mustResolve(raw)
	}

	model := NewModel(ModelConfig{Name: name, Inputs: inputs, Outputs: outputs, Backend: backend})
	restoreWeights(model, artifacts)
	return model
}

// restoreWeights writes the manifest's tensors into the model's weights, matched by their
// scoped names. Model weights absent from the manifest (saved with TrainableOnly) keep the
// values their initializer produced; manifest entries with no model weight are an error.
func restoreWeights(model *Model, artifacts *ModelArtifacts) {
	byName := make(map[string]*layers.Weight)
	for _, w := range model.Weights() {
		byName[w.Name()] = w
	}
	offset := 0
	for i, spec := range artifacts.WeightSpecs {
		weight, found := byName[spec.Name]
		if !found {
			exceptions.PanicValuef("weight #%d %q from the artifacts does not exist in model %q",
				i, spec.Name, model.Name())
		}
		dtype := dtypes.FromString(spec.DType)
		shape := shapes.Make(dtype, spec.Shape...)
		if !shape.Equal(weight.Shape()) {
			exceptions.PanicValuef("weight #%d %q: artifact shape %s does not match model shape %s",
				i, spec.Name, shape, weight.Shape())
		}
		size := int(shape.Memory())
		if offset+size > len(artifacts.WeightData) {
			exceptions.PanicValuef("weight data truncated: weight #%d %q needs %d bytes at offset %d, "+
				"but only %d bytes are available", i, spec.Name, size, offset, len(artifacts.WeightData))
		}
		weight.SetValue(tensors.FromBytes(shape, artifacts.WeightData[offset:offset+size]))
		offset += size
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	exceptions.PanicValuef("expected an integer in model topology, got %T", v)
	return 0
}
