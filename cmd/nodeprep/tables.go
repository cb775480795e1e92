package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	humanize "github.com/dustin/go-humanize"
	"github.com/graphbench/nodeprep/datasets"
	"github.com/graphbench/nodeprep/graphdata"
)

// newTable returns a two-column "Property | Value" table with a highlighted header.
func newTable() *lgtable.Table {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Property", "Value")
}

func comma(n int) string { return humanize.Comma(int64(n)) }

// summaryTable renders the result of a dataset pipeline.
func summaryTable(p *datasets.Prepared) string {
	table := newTable()
	table.Row("Dataset", p.Dataset.String())
	table.Row("# Nodes", comma(p.Graph.NumNodes))
	table.Row("# Edges", comma(p.Graph.NumEdges()))
	table.Row("In-feats", comma(p.InFeats()))
	table.Row("# Classes", comma(p.NumClasses))
	table.Row("# Train", comma(len(p.Train)))
	table.Row("# Val", comma(len(p.Val)))
	table.Row("# Test", comma(len(p.Test)))
	if len(p.HopFeats) > 0 {
		table.Row("Hops", fmt.Sprintf("0..%d", len(p.HopFeats)-1))
	}
	return table.Render()
}

// statsTable renders the structural statistics of a graph.
func statsTable(name string, s graphdata.Stats, nodeData []string) string {
	table := newTable()
	table.Row("Dataset", name)
	table.Row("# Nodes", comma(s.NumNodes))
	table.Row("# Edges", comma(s.NumEdges))
	table.Row("# Isolated", comma(s.NumIsolated))
	table.Row("# Self-loops", comma(s.NumSelfLoops))
	table.Row("In-degree", fmt.Sprintf("mean=%.2f std=%.2f max=%.0f", s.MeanInDegree, s.StdInDegree, s.MaxInDegree))
	components := "n/a"
	if s.NumComponents >= 0 {
		components = comma(s.NumComponents)
	}
	table.Row("# Components", components)
	table.Row("Node data", strings.Join(nodeData, ", "))
	return table.Render()
}
