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
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ModelArtifacts is the serialized form of a model: its topology (the layer configs and
// graph wiring), the weight manifest and the raw weight data.
type ModelArtifacts struct {
	// ModelTopology is the JSON-shaped description of the graph, see topologyConfig.
	ModelTopology map[string]any

	// WeightSpecs describes each weight tensor, in the model's weight order.
	WeightSpecs []WeightSpec

	// WeightData is the concatenation of all weight tensors' little-endian bytes, in
	// WeightSpecs order.
	WeightData []byte

	// Format identifies the artifact layout, always "layers-model".
	Format string

	// GeneratedBy and ConvertedBy record provenance.
	GeneratedBy string
	ConvertedBy string

	// TrainingConfig optionally carries the compiled loss/optimizer, so training can
	// resume after a load.
	TrainingConfig map[string]any
}

// WeightSpec describes one weight tensor in the manifest.
type WeightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// ModelArtifactsInfo summarizes a completed save.
type ModelArtifactsInfo struct {
	// ID uniquely identifies this save.
	ID uuid.UUID

	DateSaved time.Time

	// Byte sizes of the saved parts.
	ModelTopologyBytes int
	WeightDataBytes    int
}

// SaveResult is returned by Saver implementations.
type SaveResult struct {
	ModelArtifactsInfo ModelArtifactsInfo
}

// IOHandler routes model artifacts to a storage medium. It is a capability contract: a
// handler able to save implements Saver, one able to load implements Loader, and model
// Save/Load check for the capability they need at runtime. This keeps one handler type
// usable for read-only media (e.g. an HTTP download) or write-only ones.
type IOHandler interface {
	// Scheme names the medium, e.g. "file://" or "memory://".
	Scheme() string
}

// Saver is the save capability of an IOHandler.
type Saver interface {
	IOHandler
	SaveModel(artifacts *ModelArtifacts) (*SaveResult, error)
}

// Loader is the load capability of an IOHandler.
type Loader interface {
	IOHandler
	LoadModel() (*ModelArtifacts, error)
}

// newSaveResult fills a SaveResult for the artifacts just written.
func newSaveResult(artifacts *ModelArtifacts) (*SaveResult, error) {
	topology, err := json.Marshal(artifacts.ModelTopology)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to measure model topology")
	}
	return &SaveResult{ModelArtifactsInfo: ModelArtifactsInfo{
		ID:                 uuid.New(),
		DateSaved:          time.Now(),
		ModelTopologyBytes: len(topology),
		WeightDataBytes:    len(artifacts.WeightData),
	}}, nil
}

var (
	muSchemes      sync.Mutex
	schemeRegistry = make(map[string]func(url string) IOHandler)
)

// RegisterURLScheme routes URLs starting with scheme (e.g. "file://") to the given
// handler factory, which receives the URL with the scheme prefix stripped.
func RegisterURLScheme(scheme string, factory func(url string) IOHandler) {
	muSchemes.Lock()
	defer muSchemes.Unlock()
	if _, found := schemeRegistry[scheme]; found {
		exceptions.PanicValuef("models.RegisterURLScheme: scheme %q already registered", scheme)
	}
	schemeRegistry[scheme] = factory
}

// HandlerForURL resolves a URL to its registered IOHandler. It panics with a ValueError
// listing the registered schemes when none matches.
func HandlerForURL(url string) IOHandler {
	muSchemes.Lock()
	defer muSchemes.Unlock()
	for scheme, factory := range schemeRegistry {
		if strings.HasPrefix(url, scheme) {
			return factory(strings.TrimPrefix(url, scheme))
		}
	}
	schemes := make([]string, 0, len(schemeRegistry))
	for scheme := range schemeRegistry {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	exceptions.PanicValuef("models.HandlerForURL: no handler registered for %q, registered schemes are %v",
		url, schemes)
	return nil
}

// InMemoryIO holds artifacts in memory, implementing both Saver and Loader. Useful for
// tests and for cloning models.
type InMemoryIO struct {
	artifacts *ModelArtifacts
}

// NewInMemoryIO creates an empty in-memory handler.
func NewInMemoryIO() *InMemoryIO { return &InMemoryIO{} }

// Scheme implements IOHandler.
func (h *InMemoryIO) Scheme() string { return "memory://" }

// SaveModel implements Saver.
func (h *InMemoryIO) SaveModel(artifacts *ModelArtifacts) (*SaveResult, error) {
	h.artifacts = artifacts
	return newSaveResult(artifacts)
}

// LoadModel implements Loader.
func (h *InMemoryIO) LoadModel() (*ModelArtifacts, error) {
	if h.artifacts == nil {
		return nil, errors.Errorf("in-memory handler holds no model: nothing was saved to it")
	}
	return h.artifacts, nil
}

// jsonEnvelope is the on-disk layout of model.json.
type jsonEnvelope struct {
	ModelTopology   map[string]any  `json:"modelTopology"`
	WeightsManifest []manifestGroup `json:"weightsManifest"`
	Format          string          `json:"format"`
	GeneratedBy     string          `json:"generatedBy"`
	ConvertedBy     string          `json:"convertedBy,omitempty"`
	TrainingConfig  map[string]any  `json:"trainingConfig,omitempty"`
}

type manifestGroup struct {
	Paths   []string     `json:"paths"`
	Weights []WeightSpec `json:"weights"`
}

const (
	modelJSONName  = "model.json"
	weightsBinName = "weights.bin"
)

// fileIO saves/loads a model as a directory holding model.json and weights.bin.
type fileIO struct {
	dir string
}

// NewFileIO creates a handler for the given directory, created on save if missing.
func NewFileIO(dir string) IOHandler { return &fileIO{dir: dir} }

// Scheme implements IOHandler.
func (h *fileIO) Scheme() string { return "file://" }

// SaveModel implements Saver.
func (h *fileIO) SaveModel(artifacts *ModelArtifacts) (*SaveResult, error) {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create model directory %q", h.dir)
	}
	envelope := jsonEnvelope{
		ModelTopology: artifacts.ModelTopology,
		WeightsManifest: []manifestGroup{{
			Paths:   []string{weightsBinName},
			Weights: artifacts.WeightSpecs,
		}},
		Format:         artifacts.Format,
		GeneratedBy:    artifacts.GeneratedBy,
		ConvertedBy:    artifacts.ConvertedBy,
		TrainingConfig: artifacts.TrainingConfig,
	}
	encoded, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", modelJSONName)
	}
	if err := os.WriteFile(filepath.Join(h.dir, modelJSONName), encoded, 0o644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", modelJSONName)
	}
	if err := os.WriteFile(filepath.Join(h.dir, weightsBinName), artifacts.WeightData, 0o644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", weightsBinName)
	}
	return newSaveResult(artifacts)
}

// LoadModel implements Loader.
func (h *fileIO) LoadModel() (*ModelArtifacts, error) {
	encoded, err := os.ReadFile(filepath.Join(h.dir, modelJSONName))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", modelJSONName)
	}
	var envelope jsonEnvelope
	if err := json.Unmarshal(encoded, &envelope); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", modelJSONName)
	}
	artifacts := &ModelArtifacts{
		ModelTopology:  envelope.ModelTopology,
		Format:         envelope.Format,
		GeneratedBy:    envelope.GeneratedBy,
		ConvertedBy:    envelope.ConvertedBy,
		TrainingConfig: envelope.TrainingConfig,
	}
	for _, group := range envelope.WeightsManifest {
		artifacts.WeightSpecs = append(artifacts.WeightSpecs, group.Weights...)
		for _, path := range group.Paths {
			data, err := os.ReadFile(filepath.Join(h.dir, path))
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read weights file %q", path)
			}
			artifacts.WeightData = append(artifacts.WeightData, data...)
		}
	}
	return artifacts, nil
}

func init() {
	RegisterURLScheme("file://", NewFileIO)
}
