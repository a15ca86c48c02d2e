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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/tapestry/pkg/ml/layers"
)

// Summary writes a table describing the model's layers to w (stdout when nil): name and
// class, output shape and parameter count per layer, then the trainable/non-trainable
// totals. Models whose graph is not a single chain get an extra "Connected to" column
// showing each layer's inbound layers.
func (c *Container) Summary(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}

	sequential := c.sequentialLike()
	headerStyle := lipgloss.NewStyle().Bold(true)
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle()
		})
	if sequential {
		table.Headers("Layer (type)", "Output Shape", "Params")
	} else {
		table.Headers("Layer (type)", "Output Shape", "Params", "Connected to")
	}

	for _, l := range c.layerList {
		row := []string{
			fmt.Sprintf("%s (%s)", l.Name(), l.ClassName()),
			layerOutputShapes(l),
			humanize.Comma(int64(countParams(l.Weights()))),
		}
		if !sequential {
			row = append(row, c.connectedTo(l))
		}
		table.Row(row...)
	}
	fmt.Fprintf(w, "Model: %q\n%s\n", c.name, table.Render())

	trainable := countParams(c.TrainableWeights())
	nonTrainable := countParams(c.NonTrainableWeights())
	fmt.Fprintf(w, "Total params: %s\n", humanize.Comma(int64(trainable+nonTrainable)))
	fmt.Fprintf(w, "Trainable params: %s\n", humanize.Comma(int64(trainable)))
	fmt.Fprintf(w, "Non-trainable params: %s\n", humanize.Comma(int64(nonTrainable)))
}

// sequentialLike reports whether the graph is a single chain of layers: at most one node
// per depth, each node fed by at most one layer, and no layer applied more than once
// inside the model.
func (c *Container) sequentialLike() bool {
	nodesAtDepth := make(map[int]int)
	for _, node := range c.runOrder {
		depth := c.nodeDepths[node]
		nodesAtDepth[depth]++
		if nodesAtDepth[depth] > 1 {
			return false
		}
		distinct := make(map[layers.Layer]bool)
		for _, inbound := range node.InboundLayers() {
			distinct[inbound] = true
		}
		if len(distinct) > 1 {
			return false
		}
	}
	for _, l := range c.layerList {
		applications := 0
		for _, node := range l.InboundNodes() {
			if _, reachable := c.nodeDepths[node]; reachable {
				applications++
			}
		}
		if applications > 1 {
			return false
		}
	}
	return true
}

// connectedTo names the layers feeding l's application within this model.
func (c *Container) connectedTo(l layers.Layer) string {
	var names []string
	seen := make(map[string]bool)
	for _, node := range l.InboundNodes() {
		if _, reachable := c.nodeDepths[node]; !reachable {
			continue
		}
		for _, inbound := range node.InboundLayers() {
			if !seen[inbound.Name()] {
				seen[inbound.Name()] = true
				names = append(names, inbound.Name())
			}
		}
	}
	return strings.Join(names, ", ")
}

// layerOutputShapes renders the output shapes of the layer's last application.
func layerOutputShapes(l layers.Layer) string {
	nodes := l.InboundNodes()
	if len(nodes) == 0 {
		return "?"
	}
	shapes := nodes[len(nodes)-1].OutputShapes()
	parts := make([]string, len(shapes))
	for i, s := range shapes {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

// countParams sums the number of scalar parameters over the weights.
func countParams(weights []*layers.Weight) int {
	total := 0
	for _, w := range weights {
		total += w.Shape().Size()
	}
	return total
}
