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
	"sort"
	"sync"

	"github.com/gomlx/tapestry/pkg/core/exceptions"
)

// Config is a layer's declarative configuration: a JSON-serializable map of primitive or
// array values, sufficient to reconstruct an equivalent, untrained layer. Keys follow the
// persisted model format ("units", "use_bias", ...).
type Config map[string]any

// String returns the string value at key, or def when absent.
func (c Config) String(key, def string) string {
	if v, found := c[key]; found {
		if s, ok := v.(string); ok {
			return s
		}
		exceptions.PanicValuef("layer config key %q: expected string, got %T", key, v)
	}
	return def
}

// Int returns the integer at key, or def when absent. JSON decoding produces float64
// numbers, both are accepted.
func (c Config) Int(key string, def int) int {
	if v, found := c[key]; found {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
		exceptions.PanicValuef("layer config key %q: expected number, got %T", key, v)
	}
	return def
}

// Bool returns the boolean at key, or def when absent.
func (c Config) Bool(key string, def bool) bool {
	if v, found := c[key]; found {
		if b, ok := v.(bool); ok {
			return b
		}
		exceptions.PanicValuef("layer config key %q: expected bool, got %T", key, v)
	}
	return def
}

// Sub returns the nested Config at key, or nil when absent.
func (c Config) Sub(key string) Config {
	v, found := c[key]
	if !found || v == nil {
		return nil
	}
	switch sub := v.(type) {
	case Config:
		return sub
	case map[string]any:
		return Config(sub)
	}
	exceptions.PanicValuef("layer config key %q: expected nested config, got %T", key, v)
	return nil
}

// FromConfigFn reconstructs a layer from its Config.
type FromConfigFn func(config Config) Layer

var (
	muRegistry    sync.Mutex
	layerRegistry = make(map[string]FromConfigFn)
)

// RegisterLayer adds a layer class to the deserialization registry. Layers provided by
// this package register themselves in init(); user-defined layers must register before
// any model using them is loaded.
func RegisterLayer(className string, fromConfig FromConfigFn) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if _, found := layerRegistry[className]; found {
		exceptions.PanicValuef("RegisterLayer: class %q already registered", className)
	}
	layerRegistry[className] = fromConfig
}

// FromConfig reconstructs a layer polymorphically from its class name tag and Config. It
// panics with a ValueError naming the unknown class and listing the registered ones.
func FromConfig(className string, config Config) Layer {
	muRegistry.Lock()
	fromConfig, found := layerRegistry[className]
	muRegistry.Unlock()
	if !found {
		exceptions.PanicValuef("layers.FromConfig: unknown layer class %q, registered classes are %v",
			className, RegisteredClasses())
	}
	return fromConfig(config)
}

// RegisteredClasses lists the registered layer class names, sorted.
func RegisteredClasses() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(layerRegistry))
	for name := range layerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloneLayer creates a fresh, unbuilt layer equivalent to the given one, going through
// its Config -- the same path used by model deserialization. The clone gets a new unique
// name.
func CloneLayer(layer Layer) Layer {
	config := layer.Config()
	delete(config, "name")
	return FromConfig(layer.ClassName(), config)
}
