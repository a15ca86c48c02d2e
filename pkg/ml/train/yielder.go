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
	"runtime"
	"time"

	"k8s.io/klog/v2"
)

// YieldMode controls how often the training loop yields the processor between batches,
// giving other goroutines (UIs, servers) a chance to run during long fits.
type YieldMode int

const (
	// YieldAuto measures the duration of the first batches and then yields often enough
	// to target roughly one yield per frame (~16ms). The default.
	YieldAuto YieldMode = iota

	// YieldBatch yields after every batch.
	YieldBatch

	// YieldEpoch yields only at the end of each epoch.
	YieldEpoch

	// YieldNever disables yielding.
	YieldNever
)

// String implements fmt.Stringer.
func (m YieldMode) String() string {
	switch m {
	case YieldAuto:
		return "auto"
	case YieldBatch:
		return "batch"
	case YieldEpoch:
		return "epoch"
	case YieldNever:
		return "never"
	}
	return "invalid"
}

// AutoYieldDecisionBatchCount is how many batches YieldAuto measures before fixing its
// yielding period.
const AutoYieldDecisionBatchCount = 2

// autoYieldTargetInterval is the wall time YieldAuto aims to let pass between yields.
const autoYieldTargetInterval = 16 * time.Millisecond

// yielder implements the YieldMode policies for the training loop.
type yielder struct {
	mode YieldMode

	// YieldAuto calibration.
	measured     time.Duration
	batchesSeen  int
	everyBatches int
	batchStart   time.Time
}

func newYielder(mode YieldMode) *yielder {
	return &yielder{mode: mode}
}

// BatchBegin marks the start of a batch, for YieldAuto's measurement.
func (y *yielder) BatchBegin() {
	if y.mode == YieldAuto && y.batchesSeen < AutoYieldDecisionBatchCount {
		y.batchStart = time.Now()
	}
}

// BatchEnd yields the processor if the policy calls for it after this batch.
func (y *yielder) BatchEnd(batch int) {
	switch y.mode {
	case YieldNever, YieldEpoch:
		return
	case YieldBatch:
		runtime.Gosched()
		return
	}

	// YieldAuto: calibrate on the first batches, then yield periodically.
	if y.batchesSeen < AutoYieldDecisionBatchCount {
		y.measured += time.Since(y.batchStart)
		y.batchesSeen++
		if y.batchesSeen == AutoYieldDecisionBatchCount {
			mean := y.measured / AutoYieldDecisionBatchCount
			y.everyBatches = 1
			if mean > 0 {
				if every := int(autoYieldTargetInterval / mean); every > 1 {
					y.everyBatches = every
				}
			}
			klog.V(1).Infof("yielder: mean batch duration %s, yielding every %d batches",
				y.measured/AutoYieldDecisionBatchCount, y.everyBatches)
		}
		runtime.Gosched()
		return
	}
	if (batch+1)%y.everyBatches == 0 {
		runtime.Gosched()
	}
}

// EpochEnd yields at epoch boundaries for every mode except YieldNever.
func (y *yielder) EpochEnd() {
	if y.mode == YieldNever {
		return
	}
	runtime.Gosched()
}
