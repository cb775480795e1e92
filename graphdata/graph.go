// Package graphdata holds the graph structures handed around by the dataset loaders:
// a homogeneous [Graph] (edge list plus per-node tensors) and a typed [HeteroGraph].
//
// Node data is stored as GoMLX tensors whose first axis is the node axis. All the structural
// operations (reverse edges, node removal, induced subgraphs, homogenization) keep every node data
// tensor aligned with the node ordering.
package graphdata

import (
	"fmt"
	"sort"
	"strings"

	humanize "github.com/dustin/go-humanize"
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Reserved node data keys.
const (
	FeatKey       = "feat"
	LabelKey      = "label"
	TrainMaskKey  = "train_mask"
	ValMaskKey    = "val_mask"
	TestMaskKey   = "test_mask"
	TargetMaskKey = "target_mask"

	// NType holds the node type id of each node after homogenization.
	NType = "_TYPE"

	// NID holds the original id of each node: the per-type id after homogenization, or the id in the
	// parent graph for induced subgraphs.
	NID = "_ID"
)

// Graph is a directed graph with nodes `0..NumNodes-1`, edges given as parallel source/destination
// lists and per-node data.
//
// Edges are kept as given: duplicated edges (multi-graph) and self-loops are allowed unless
// explicitly removed with [Graph.RemoveSelfLoops].
type Graph struct {
	NumNodes int

	// Src and Dst have one entry per edge.
	Src, Dst []int32

	// NodeData maps a name to a tensor shaped `[NumNodes, ...]`.
	NodeData map[string]*tensors.Tensor
}

// New creates a graph with numNodes nodes and the given edges.
//
// It panics if src and dst have different lengths or if an edge points outside `[0, numNodes)`.
func New(numNodes int, src, dst []int32) *Graph {
	if numNodes < 0 {
		Panicf("graphdata.New(numNodes=%d): number of nodes must be >= 0", numNodes)
	}
	if len(src) != len(dst) {
		Panicf("graphdata.New(): %d sources given but %d destinations", len(src), len(dst))
	}
	g := &Graph{
		NumNodes: numNodes,
		Src:      src,
		Dst:      dst,
		NodeData: make(map[string]*tensors.Tensor),
	}
	for ii := range src {
		if src[ii] < 0 || int(src[ii]) >= numNodes || dst[ii] < 0 || int(dst[ii]) >= numNodes {
			Panicf("edge #%d (%d->%d) is out of range for a graph with %d nodes", ii, src[ii], dst[ii], numNodes)
		}
	}
	return g
}

// NumEdges in the graph.
func (g *Graph) NumEdges() int { return len(g.Src) }

// AddEdges appends the given edges. Both lists must have the same length.
func (g *Graph) AddEdges(src, dst []int32) {
	if len(src) != len(dst) {
		Panicf("Graph.AddEdges(): %d sources given but %d destinations", len(src), len(dst))
	}
	for ii := range src {
		if src[ii] < 0 || int(src[ii]) >= g.NumNodes || dst[ii] < 0 || int(dst[ii]) >= g.NumNodes {
			Panicf("edge (%d->%d) is out of range for a graph with %d nodes", src[ii], dst[ii], g.NumNodes)
		}
	}
	g.Src = append(g.Src, src...)
	g.Dst = append(g.Dst, dst...)
}

// AddReverseEdges appends, for every edge `u->v`, the edge `v->u`. Node data is left untouched.
func (g *Graph) AddReverseEdges() {
	numEdges := len(g.Src)
	src := make([]int32, 2*numEdges)
	dst := make([]int32, 2*numEdges)
	copy(src, g.Src)
	copy(dst, g.Dst)
	copy(src[numEdges:], g.Dst)
	copy(dst[numEdges:], g.Src)
	g.Src, g.Dst = src, dst
}

// RemoveSelfLoops drops every edge `v->v` and returns how many were removed.
func (g *Graph) RemoveSelfLoops() int {
	kept := 0
	for ii := range g.Src {
		if g.Src[ii] == g.Dst[ii] {
			continue
		}
		g.Src[kept], g.Dst[kept] = g.Src[ii], g.Dst[ii]
		kept++
	}
	removed := len(g.Src) - kept
	g.Src, g.Dst = g.Src[:kept], g.Dst[:kept]
	return removed
}

// InDegrees returns the number of edges arriving at each node.
func (g *Graph) InDegrees() []int32 {
	degrees := make([]int32, g.NumNodes)
	for _, v := range g.Dst {
		degrees[v]++
	}
	return degrees
}

// OutDegrees returns the number of edges leaving each node.
func (g *Graph) OutDegrees() []int32 {
	degrees := make([]int32, g.NumNodes)
	for _, u := range g.Src {
		degrees[u]++
	}
	return degrees
}

// SetNodeData attaches the tensor under the given name. The tensor's first axis must match NumNodes.
func (g *Graph) SetNodeData(name string, t *tensors.Tensor) error {
	if t == nil {
		return errors.Errorf("nil tensor given for node data %q", name)
	}
	dims := t.Shape().Dimensions
	if len(dims) == 0 || dims[0] != g.NumNodes {
		return errors.Errorf("node data %q shaped %s doesn't match the graph's %d nodes", name, t.Shape(), g.NumNodes)
	}
	g.NodeData[name] = t
	return nil
}

// MustSetNodeData is like SetNodeData, but panics on error.
func (g *Graph) MustSetNodeData(name string, t *tensors.Tensor) {
	if err := g.SetNodeData(name, t); err != nil {
		panic(err)
	}
}

// HasNodeData returns whether there is node data under the given name.
func (g *Graph) HasNodeData(name string) bool {
	_, found := g.NodeData[name]
	return found
}

// PopNodeData removes the node data and returns it. It returns an error if it is not set.
func (g *Graph) PopNodeData(name string) (*tensors.Tensor, error) {
	t, found := g.NodeData[name]
	if !found {
		return nil, errors.Errorf("graph has no node data %q, available: %q", name, g.NodeDataNames())
	}
	delete(g.NodeData, name)
	return t, nil
}

// NodeDataNames returns the sorted names of the node data.
func (g *Graph) NodeDataNames() []string {
	names := make([]string, 0, len(g.NodeData))
	for name := range g.NodeData {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns a multi-line description of the graph.
func (g *Graph) String() string {
	parts := []string{fmt.Sprintf("Graph: %s nodes, %s edges",
		humanize.Comma(int64(g.NumNodes)), humanize.Comma(int64(g.NumEdges())))}
	for _, name := range g.NodeDataNames() {
		t := g.NodeData[name]
		parts = append(parts, fmt.Sprintf("\tNodeData %q: %s (%s)", name, t.Shape(), humanize.Bytes(uint64(t.Memory()))))
	}
	return strings.Join(parts, "\n")
}
