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

// Package initializers defines how layer weights get their initial values.
//
// An Initializer is a function of a (seeded) random source and a shape, so initialization
// is deterministic given the seed -- the regression-fixture tests depend on that.
package initializers

import (
	"math"
	"math/rand"

	"github.com/gomlx/tapestry/pkg/core/dtypes"
	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/shapes"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/x448/float16"
)

// Initializer creates the initial value for a weight of the given shape.
type Initializer func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor

// fill creates a tensor of the given shape generating one float64 per element.
func fill(shape shapes.Shape, gen func() float64) *tensors.Tensor {
	t := tensors.Zeros(shape)
	switch shape.DType {
	case dtypes.Float16:
		flat := tensors.MutableFlatData[float16.Float16](t)
		for ii := range flat {
			flat[ii] = float16.Fromfloat32(float32(gen()))
		}
	case dtypes.Float32:
		flat := tensors.MutableFlatData[float32](t)
		for ii := range flat {
			flat[ii] = float32(gen())
		}
	case dtypes.Float64:
		flat := tensors.MutableFlatData[float64](t)
		for ii := range flat {
			flat[ii] = gen()
		}
	default:
		exceptions.PanicValuef("initializers: cannot initialize weight of dtype %s", shape.DType)
	}
	return t
}

// Zeros initializes with zeroes. The default for biases.
func Zeros() Initializer {
	return func(_ *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return tensors.Zeros(shape)
	}
}

// Ones initializes with ones.
func Ones() Initializer {
	return func(_ *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return 1 })
	}
}

// RandomNormal initializes with normally distributed values of the given standard
// deviation.
func RandomNormal(stddev float64) Initializer {
	return func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return rng.NormFloat64() * stddev })
	}
}

// RandomUniform initializes with uniform values in [min, max).
func RandomUniform(min, max float64) Initializer {
	return func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return fill(shape, func() float64 { return min + rng.Float64()*(max-min) })
	}
}

// GlorotUniform initializes with the Glorot (Xavier) uniform scheme: uniform in
// [-limit, limit] with limit = sqrt(6 / (fanIn + fanOut)). The default for kernels.
func GlorotUniform() Initializer {
	return func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		fanIn, fanOut := fans(shape)
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		return fill(shape, func() float64 { return (2*rng.Float64() - 1) * limit })
	}
}

// fans computes the (fanIn, fanOut) pair for a weight shape: for rank >= 2 the two last
// dimensions scaled by the receptive field size, for rank 1 and 0 the total size.
func fans(shape shapes.Shape) (fanIn, fanOut int) {
	switch shape.Rank() {
	case 0:
		return 1, 1
	case 1:
		return shape.Dim(0), shape.Dim(0)
	default:
		receptiveField := 1
		for _, dim := range shape.Dimensions[:shape.Rank()-2] {
			receptiveField *= dim
		}
		return shape.Dim(-2) * receptiveField, shape.Dim(-1) * receptiveField
	}
}

// ByName returns a named initializer as used in layer configurations. It panics with a
// ValueError for unknown names, listing the valid ones.
func ByName(name string) Initializer {
	switch name {
	case "zeros":
		return Zeros()
	case "ones":
		return Ones()
	case "glorot_uniform":
		return GlorotUniform()
	case "random_normal":
		return RandomNormal(0.05)
	case "random_uniform":
		return RandomUniform(-0.05, 0.05)
	}
	exceptions.PanicValuef("initializers.ByName(%q): unknown initializer, valid values are "+
		"[zeros ones glorot_uniform random_normal random_uniform]", name)
	return nil
}
