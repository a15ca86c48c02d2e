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

// Package optimizers implements the gradient-descent optimizers used by train.Trainer.
//
// Optimizers receive the model's trainable weights and the corresponding gradients
// already materialized by the backend, and update the weight values in place of the
// Weight holders (Weight.SetValue finalizes the replaced tensor). Internal state (Adam
// moments) is kept per Weight, keyed by identity, so one optimizer instance must not be
// shared across models.
package optimizers

import (
	"math"
	"sort"
	"strings"

	"github.com/gomlx/tapestry/pkg/core/exceptions"
	"github.com/gomlx/tapestry/pkg/core/tensors"
	"github.com/gomlx/tapestry/pkg/ml/layers"
)

// Interface is implemented by all optimizers.
type Interface interface {
	// Name is the canonical identifier, e.g. "sgd".
	Name() string

	// Apply updates the weights in place given their gradients. weights and grads are
	// parallel slices.
	Apply(weights []*layers.Weight, grads []*tensors.Tensor)

	// Config returns the hyperparameters, for model persistence.
	Config() map[string]any
}

// KnownOptimizers maps optimizer names to default-configured constructors.
var KnownOptimizers = map[string]func() Interface{
	"sgd":  func() Interface { return SGD().Done() },
	"adam": func() Interface { return Adam().Done() },
}

// ByName returns a default-configured optimizer by name. It panics with a ValueError
// listing the known names if not found.
func ByName(name string) Interface {
	constructor, found := KnownOptimizers[name]
	if !found {
		names := make([]string, 0, len(KnownOptimizers))
		for n := range KnownOptimizers {
			names = append(names, n)
		}
		sort.Strings(names)
		exceptions.PanicValuef("optimizers.ByName: unknown optimizer %q, valid names are %s",
			name, strings.Join(names, ", "))
	}
	return constructor()
}

func checkParallel(weights []*layers.Weight, grads []*tensors.Tensor) {
	if len(weights) != len(grads) {
		exceptions.PanicValuef("optimizers: got %d weights but %d gradients", len(weights), len(grads))
	}
}

// updateWeight writes newValues (float64) back into the weight, preserving its dtype and
// shape.
func updateWeight(weight *layers.Weight, newValues []float64) {
	shape := weight.Value().Shape()
	updated := tensors.FromFlatAndDimensions(newValues, shape.Dimensions...).CastTo(shape.DType)
	weight.SetValue(updated)
}

// SGDDefaultLearningRate is used by SGD if no learning rate is set.
const SGDDefaultLearningRate = 0.01

// SGDConfig holds the configuration of an SGD optimizer, created with SGD(). Call Done to
// build the optimizer.
type SGDConfig struct {
	learningRate float64
	momentum     float64
}

// SGD returns a configuration for a stochastic gradient descent optimizer, optionally
// with momentum. Call Done when finished configuring.
func SGD() *SGDConfig {
	return &SGDConfig{learningRate: SGDDefaultLearningRate}
}

// WithLearningRate sets the learning rate. Defaults to SGDDefaultLearningRate.
func (c *SGDConfig) WithLearningRate(lr float64) *SGDConfig {
	c.learningRate = lr
	return c
}

// WithMomentum sets the momentum coefficient in [0, 1). Defaults to 0 (plain SGD).
func (c *SGDConfig) WithMomentum(momentum float64) *SGDConfig {
	if momentum < 0 || momentum >= 1 {
		exceptions.PanicValuef("SGD momentum must be in [0, 1), got %g", momentum)
	}
	c.momentum = momentum
	return c
}

// Done builds the optimizer.
func (c *SGDConfig) Done() Interface {
	return &sgd{config: *c, velocity: make(map[*layers.Weight][]float64)}
}

type sgd struct {
	config   SGDConfig
	velocity map[*layers.Weight][]float64
}

// Name implements Interface.
func (o *sgd) Name() string { return "sgd" }

// Apply implements Interface.
func (o *sgd) Apply(weights []*layers.Weight, grads []*tensors.Tensor) {
	checkParallel(weights, grads)
	for i, weight := range weights {
		values := weight.Value().Float64Slice()
		grad := grads[i].Float64Slice()
		if o.config.momentum > 0 {
			v := o.velocity[weight]
			if v == nil {
				v = make([]float64, len(values))
				o.velocity[weight] = v
			}
			for j := range values {
				v[j] = o.config.momentum*v[j] - o.config.learningRate*grad[j]
				values[j] += v[j]
			}
		} else {
			for j := range values {
				values[j] -= o.config.learningRate * grad[j]
			}
		}
		updateWeight(weight, values)
	}
}

// Config implements Interface.
func (o *sgd) Config() map[string]any {
	return map[string]any{
		"name":          o.Name(),
		"learning_rate": o.config.learningRate,
		"momentum":      o.config.momentum,
	}
}

// AdamDefaultLearningRate is used by Adam if no learning rate is set.
const AdamDefaultLearningRate = 0.001

// AdamConfig holds the configuration of an Adam optimizer, created with Adam(). Call Done
// to build the optimizer.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
}

// Adam returns a configuration for the Adam optimizer, a stochastic gradient descent
// method with adaptive estimates of first and second order moments
// ([Kingma et al., 2014](http://arxiv.org/abs/1412.6980)). Call Done when finished
// configuring.
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
	}
}

// WithLearningRate sets the learning rate. Defaults to AdamDefaultLearningRate.
func (c *AdamConfig) WithLearningRate(lr float64) *AdamConfig {
	c.learningRate = lr
	return c
}

// WithBetas sets the moving-average coefficients for the first (momentum) and second
// (variance) moments. Defaults are 0.9 and 0.999.
func (c *AdamConfig) WithBetas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// WithEpsilon sets the denominator stabilizer. Defaults to 1e-7.
func (c *AdamConfig) WithEpsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Done builds the optimizer.
func (c *AdamConfig) Done() Interface {
	return &adam{config: *c, moments: make(map[*layers.Weight]*adamMoments)}
}

type adamMoments struct {
	m, v []float64
}

type adam struct {
	config  AdamConfig
	step    int
	moments map[*layers.Weight]*adamMoments
}

// Name implements Interface.
func (o *adam) Name() string { return "adam" }

// Apply implements Interface.
func (o *adam) Apply(weights []*layers.Weight, grads []*tensors.Tensor) {
	checkParallel(weights, grads)
	o.step++
	// Bias correction for the zero-initialized moments.
	correction1 := 1 - math.Pow(o.config.beta1, float64(o.step))
	correction2 := 1 - math.Pow(o.config.beta2, float64(o.step))
	for i, weight := range weights {
		values := weight.Value().Float64Slice()
		grad := grads[i].Float64Slice()
		state := o.moments[weight]
		if state == nil {
			state = &adamMoments{m: make([]float64, len(values)), v: make([]float64, len(values))}
			o.moments[weight] = state
		}
		for j := range values {
			state.m[j] = o.config.beta1*state.m[j] + (1-o.config.beta1)*grad[j]
			state.v[j] = o.config.beta2*state.v[j] + (1-o.config.beta2)*grad[j]*grad[j]
			mHat := state.m[j] / correction1
			vHat := state.v[j] / correction2
			values[j] -= o.config.learningRate * mHat / (math.Sqrt(vHat) + o.config.epsilon)
		}
		updateWeight(weight, values)
	}
}

// Config implements Interface.
func (o *adam) Config() map[string]any {
	return map[string]any{
		"name":          o.Name(),
		"learning_rate": o.config.learningRate,
		"beta_1":        o.config.beta1,
		"beta_2":        o.config.beta2,
		"epsilon":       o.config.epsilon,
	}
}
