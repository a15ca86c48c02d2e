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

// Package commandline implements terminal UI helpers for training: a progress bar
// callback that tracks batches within each epoch and prints a per-epoch metrics summary.
package commandline

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/tapestry/pkg/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version. Consider
// progressbar.ThemeUnicode for a prettier version, if the terminal supports the graphical
// symbols.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBar is a train.Callback that draws a progress bar per epoch and prints each
// epoch's metrics when it ends.
type ProgressBar struct {
	train.CallbackBase

	out        *termenv.Output
	epochStyle lipgloss.Style
	bar        *progressbar.ProgressBar
}

// NewProgressBar creates the callback, writing to stdout.
func NewProgressBar() *ProgressBar {
	return &ProgressBar{
		out:        termenv.NewOutput(os.Stdout),
		epochStyle: lipgloss.NewStyle().Bold(true),
	}
}

// OnEpochBegin implements train.Callback.
func (p *ProgressBar) OnEpochBegin(epoch int) error {
	numBatches := p.Params.BatchesPerEpoch
	if numBatches <= 0 {
		numBatches = 1000 // Guess for unbounded datasets.
	}
	p.bar = progressbar.NewOptions(numBatches,
		progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d/%d", epoch+1, p.Params.Epochs)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(ProgressbarStyle),
	)
	return nil
}

// OnBatchEnd implements train.Callback.
func (p *ProgressBar) OnBatchEnd(batch int, logs train.Logs) error {
	return p.bar.Add(1)
}

// OnEpochEnd implements train.Callback.
func (p *ProgressBar) OnEpochEnd(epoch int, logs train.Logs) error {
	_ = p.bar.Finish()
	p.out.WriteString("\n")
	p.out.WriteString(p.epochStyle.Render(fmt.Sprintf("Epoch %d/%d", epoch+1, p.Params.Epochs)))
	p.out.WriteString(" -- " + formatLogs(logs, p.Params.MetricNames) + "\n")
	return nil
}

// formatLogs renders "name=value" pairs, in the run's reporting order first, then any
// extra keys sorted.
func formatLogs(logs train.Logs, order []string) string {
	parts := make([]string, 0, len(logs))
	seen := make(map[string]bool, len(logs))
	for _, name := range order {
		if value, found := logs[name]; found {
			parts = append(parts, fmt.Sprintf("%s=%.4f", name, value))
			seen[name] = true
		}
	}
	extras := make([]string, 0, len(logs))
	for name := range logs {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		parts = append(parts, fmt.Sprintf("%s=%.4f", name, logs[name]))
	}
	return strings.Join(parts, " ")
}
