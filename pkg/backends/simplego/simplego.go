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

// Package simplego implements the reference pure-Go tensor-compute backend.
//
// It is slow but has no external dependencies, and serves as the semantic reference for
// other backends: kernels for the full backends.Ops set, plus reverse-mode automatic
// differentiation with a tape.
//
// Import it for its side effects to register it under the name "go":
//
//	import _ "github.com/gomlx/tapestry/pkg/backends/simplego"
package simplego

import (
	"github.com/gomlx/tapestry/pkg/backends"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"k8s.io/klog/v2"
)

// BackendName to use in backends.NewWithConfig or the TAPESTRY_BACKEND environment
// variable to select this backend.
const BackendName = "go"

func init() {
	backends.Register(BackendName, New)
}

// Backend implements backends.Backend with pure Go kernels.
type Backend struct{}

var _ backends.Backend = &Backend{}

// New creates a simplego backend. The config string is ignored, the backend has no options.
func New(config string) backends.Backend {
	if config != "" {
		klog.Warningf("simplego backend ignores configuration %q", config)
	}
	return &Backend{}
}

// Name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description of the backend.
func (b *Backend) Description() string {
	return "simplego: reference pure-Go tensor backend with tape-based autodiff"
}

// Ops returns the eager op set. Operations execute immediately and nothing is recorded.
func (b *Backend) Ops() backends.Ops { return execOps{} }

// Gradients runs f with a recording op set and returns its scalar output and the gradients
// with respect to every tensor in wrt -- zeros for tensors with no path to the output.
func (b *Backend) Gradients(f func(ops backends.Ops) *tensors.Tensor, wrt []*tensors.Tensor) (
	output *tensors.Tensor, grads []*tensors.Tensor) {
	tape := &tapeOps{}
	output = f(tape)
	grads = tape.backward(output, wrt)
	return
}

// Finalize is a no-op for the pure-Go backend, which holds no external resources.
func (b *Backend) Finalize() {}
