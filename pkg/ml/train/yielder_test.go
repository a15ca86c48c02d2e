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

package train

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestYieldModeString(t *testing.T) {
	assert.Equal(t, "auto", YieldAuto.String())
	assert.Equal(t, "batch", YieldBatch.String())
	assert.Equal(t, "epoch", YieldEpoch.String())
	assert.Equal(t, "never", YieldNever.String())
	assert.Equal(t, "invalid", YieldMode(99).String())
}

func TestYielderAutoCalibration(t *testing.T) {
	y := newYielder(YieldAuto)
	for batch := 0; batch < AutoYieldDecisionBatchCount; batch++ {
		y.BatchBegin()
		time.Sleep(time.Millisecond)
		y.BatchEnd(batch)
	}
	assert.Equal(t, AutoYieldDecisionBatchCount, y.batchesSeen)
	assert.GreaterOrEqual(t, y.everyBatches, 1)
	// ~1ms batches against a 16ms target means several batches per yield.
	assert.Greater(t, y.everyBatches, 1)
}

func TestYielderAutoSlowBatches(t *testing.T) {
	y := newYielder(YieldAuto)
	for batch := 0; batch < AutoYieldDecisionBatchCount; batch++ {
		y.BatchBegin()
		time.Sleep(20 * time.Millisecond)
		y.BatchEnd(batch)
	}
	assert.Equal(t, 1, y.everyBatches, "batches slower than the target yield every time")
}

func TestYielderModesDoNotPanic(t *testing.T) {
	for _, mode := range []YieldMode{YieldAuto, YieldBatch, YieldEpoch, YieldNever} {
		y := newYielder(mode)
		for batch := 0; batch < 5; batch++ {
			y.BatchBegin()
			y.BatchEnd(batch)
		}
		y.EpochEnd()
	}
}
