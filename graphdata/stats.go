package graphdata

import (
	"fmt"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/stat"
)

// MaxNodesForComponents is the largest graph for which [Graph.Stats] counts connected components.
var MaxNodesForComponents = 1_000_000

// Stats summarizes the structure of a graph.
type Stats struct {
	NumNodes, NumEdges, NumIsolated, NumSelfLoops int

	MeanInDegree, StdInDegree, MaxInDegree float64

	// NumComponents is the number of weakly connected components, or -1 if the graph has more than
	// MaxNodesForComponents nodes.
	NumComponents int
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	components := "n/a"
	if s.NumComponents >= 0 {
		components = humanize.Comma(int64(s.NumComponents))
	}
	return fmt.Sprintf("%s nodes, %s edges, %s isolated, %s self-loops, in-degree mean=%.2f std=%.2f max=%.0f, %s components",
		humanize.Comma(int64(s.NumNodes)), humanize.Comma(int64(s.NumEdges)),
		humanize.Comma(int64(s.NumIsolated)), humanize.Comma(int64(s.NumSelfLoops)),
		s.MeanInDegree, s.StdInDegree, s.MaxInDegree, components)
}

// Stats computes the structural statistics of the graph.
func (g *Graph) Stats() Stats {
	s := Stats{
		NumNodes:      g.NumNodes,
		NumEdges:      g.NumEdges(),
		NumIsolated:   len(g.IsolatedNodes()),
		NumComponents: -1,
	}
	for ii := range g.Src {
		if g.Src[ii] == g.Dst[ii] {
			s.NumSelfLoops++
		}
	}
	if g.NumNodes > 0 {
		degrees := make([]float64, g.NumNodes)
		for v, d := range g.InDegrees() {
			degrees[v] = float64(d)
		}
		s.MeanInDegree, s.StdInDegree = stat.MeanStdDev(degrees, nil)
		s.MaxInDegree = floats.Max(degrees)
	}
	if g.NumNodes <= MaxNodesForComponents {
		s.NumComponents, _ = g.WeaklyConnectedComponents()
	}
	return s
}

// WeaklyConnectedComponents returns the number of connected components of the graph, ignoring edge
// directions. Isolated nodes count as one component each.
func (g *Graph) WeaklyConnectedComponents() (int, error) {
	if g.NumNodes > MaxNodesForComponents {
		return 0, errors.Errorf("graph has %d nodes, more than MaxNodesForComponents=%d", g.NumNodes, MaxNodesForComponents)
	}
	ug := simple.NewUndirectedGraph()
	for v := range g.NumNodes {
		ug.AddNode(simple.Node(int64(v)))
	}
	for ii := range g.Src {
		u, v := int64(g.Src[ii]), int64(g.Dst[ii])
		if u == v || ug.HasEdgeBetween(u, v) {
			continue
		}
		ug.SetEdge(ug.NewEdge(ug.Node(u), ug.Node(v)))
	}
	return len(topo.ConnectedComponents(ug)), nil
}
