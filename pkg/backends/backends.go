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

// Package backends defines the interface a tensor-compute system needs to implement to be
// used by Tapestry.
//
// The layers API never implements numeric math itself: elementwise ops, matrix multiply and
// automatic differentiation are reached through the Backend/Ops interfaces here. A pure-Go
// reference implementation lives in pkg/backends/simplego.
//
// To simplify error handling, all Ops methods panic with an error (and stack trace) on
// invalid shapes or dtypes -- see pkg/core/exceptions. They never mutate their inputs.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
)

// Ops is the set of tensor operations the layers API and the losses/metrics need.
//
// Binary elementwise ops broadcast in a restricted form: the operands must have the same
// shape, or one of them is a scalar, or the shape of one is a suffix of the other's (the
// bias-add case, e.g. [batch, units] + [units]).
//
// All methods return newly allocated tensors and panic with a ValueError on shape or dtype
// violations, before any state mutation.
type Ops interface {
	// Add returns a+b with broadcasting.
	Add(a, b *tensors.Tensor) *tensors.Tensor
	// Sub returns a-b with broadcasting.
	Sub(a, b *tensors.Tensor) *tensors.Tensor
	// Mul returns a*b (elementwise) with broadcasting.
	Mul(a, b *tensors.Tensor) *tensors.Tensor
	// Div returns a/b (elementwise) with broadcasting.
	Div(a, b *tensors.Tensor) *tensors.Tensor

	// MatMul returns the rank-2 matrix product a·b, shapes [m, k]·[k, n] -> [m, n].
	MatMul(a, b *tensors.Tensor) *tensors.Tensor
	// Transpose returns the rank-2 transpose.
	Transpose(a *tensors.Tensor) *tensors.Tensor
	// Reshape returns a tensor with the same data and the new dimensions. At most one
	// dimension may be -1 and is inferred.
	Reshape(a *tensors.Tensor, dimensions ...int) *tensors.Tensor
	// Slice returns rows [start, end) along axis 0.
	Slice(a *tensors.Tensor, start, end int) *tensors.Tensor
	// Concat concatenates the operands along the given axis.
	Concat(axis int, operands ...*tensors.Tensor) *tensors.Tensor
	// Gather returns the rows of params selected by the int32 indices (axis 0 of params,
	// output shape = indices.shape + params.shape[1:]).
	Gather(params, indices *tensors.Tensor) *tensors.Tensor
	// Reverse reverses the tensor along the given axis.
	Reverse(a *tensors.Tensor, axis int) *tensors.Tensor

	// OneHot expands int32 indices to one-hot vectors of the given depth and dtype,
	// appending the depth as a new last axis.
	OneHot(indices *tensors.Tensor, depth int, dtype dtypes.DType) *tensors.Tensor
	// ArgMax returns the int32 index of the maximum along the last axis (removing it).
	ArgMax(a *tensors.Tensor) *tensors.Tensor

	// ReduceSumAll reduces the tensor to a scalar sum.
	ReduceSumAll(a *tensors.Tensor) *tensors.Tensor
	// ReduceMeanAll reduces the tensor to a scalar mean.
	ReduceMeanAll(a *tensors.Tensor) *tensors.Tensor
	// ReduceSum sums along the given axis, removing it.
	ReduceSum(a *tensors.Tensor, axis int) *tensors.Tensor

	// Softmax along the last axis.
	Softmax(a *tensors.Tensor) *tensors.Tensor
	// LogSoftmax along the last axis.
	LogSoftmax(a *tensors.Tensor) *tensors.Tensor

	// Sigmoid, Tanh, Relu, Exp, Log, Neg, Sqrt are elementwise.
	Sigmoid(a *tensors.Tensor) *tensors.Tensor
	Tanh(a *tensors.Tensor) *tensors.Tensor
	Relu(a *tensors.Tensor) *tensors.Tensor
	Exp(a *tensors.Tensor) *tensors.Tensor
	Log(a *tensors.Tensor) *tensors.Tensor
	Neg(a *tensors.Tensor) *tensors.Tensor
	Sqrt(a *tensors.Tensor) *tensors.Tensor

	// Cast converts to the given dtype.
	Cast(a *tensors.Tensor, dtype dtypes.DType) *tensors.Tensor
}

// Backend is the API a tensor-compute system implements.
type Backend interface {
	// Name returns the short name of the backend, e.g. "go" for the reference pure-Go
	// implementation.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Ops returns the eager op set: operations execute immediately, nothing is recorded.
	Ops() Ops

	// Gradients runs f with an op set that records the computation and returns the value
	// of f (which must be a scalar, typically a loss) along with d f / d wrt for every
	// tensor in wrt. Tensors in wrt with no path to the output get a zero gradient.
	//
	// This is the automatic-differentiation contract: the layers API builds the forward
	// computation inside f and never differentiates anything itself.
	Gradients(f func(ops Ops) *tensors.Tensor, wrt []*tensors.Tensor) (output *tensors.Tensor, grads []*tensors.Tensor)

	// Finalize releases all the associated resources immediately, and makes the backend
	// invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend constructor under the given name. To be safe, call Register during
// initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if the environment variable is not set.
var DefaultConfig string

// TAPESTRY_BACKEND is the environment variable with the default backend configuration.
//
// The format is "<backend_name>:<backend_configuration>", where the configuration part is
// backend specific and optional.
const TAPESTRY_BACKEND = "TAPESTRY_BACKEND"

// New returns a new Backend using the default configuration:
//
//  1. The environment variable TAPESTRY_BACKEND, if set.
//  2. The package variable DefaultConfig, if set.
//  3. The first registered backend, with an empty configuration.
//
// It panics with a RuntimeError if no backend was registered -- a program must import at
// least one backend implementation, e.g. pkg/backends/simplego.
func New() Backend {
	if config, found := os.LookupEnv(TAPESTRY_BACKEND); found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	if firstRegistered == "" {
		exceptions.PanicRuntimef("no tensor-compute backend registered: import a backend " +
			"implementation (e.g. github.com/gomlx/tapestry/pkg/backends/simplego) for its side effects")
	}
	return NewWithConfig(firstRegistered)
}

// NewWithConfig creates a Backend from a "<name>:<config>" string. It panics with a
// ValueError naming the unknown backend and listing the registered ones.
func NewWithConfig(config string) Backend {
	name := config
	backendConfig := ""
	if idx := strings.Index(config, ":"); idx >= 0 {
		name = config[:idx]
		backendConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[name]
	if !found {
		exceptions.PanicValuef("unknown backend %q: registered backends are %v",
			name, RegisteredNames())
	}
	return constructor(backendConfig)
}

// RegisteredNames returns the names of all registered backends.
func RegisteredNames() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	return names
}
