package graphdata

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// IsolatedNodes returns the nodes with in-degree and out-degree both 0, in increasing order.
func (g *Graph) IsolatedNodes() []int32 {
	inDegrees, outDegrees := g.InDegrees(), g.OutDegrees()
	var isolated []int32
	for v := range g.NumNodes {
		if inDegrees[v] == 0 && outDegrees[v] == 0 {
			isolated = append(isolated, int32(v))
		}
	}
	return isolated
}

// RemoveIsolatedNodes removes every isolated node (see [Graph.IsolatedNodes]) and returns the removed ids,
// as numbered before the removal.
//
// Node ids are compacted: any index-based split captured before this call is no longer valid.
func (g *Graph) RemoveIsolatedNodes() ([]int32, error) {
	isolated := g.IsolatedNodes()
	if len(isolated) == 0 {
		return nil, nil
	}
	if err := g.RemoveNodes(isolated); err != nil {
		return nil, err
	}
	return isolated, nil
}

// RemoveNodes removes the given nodes, their edges and their rows of node data, in place.
// Remaining nodes keep their relative order and are renumbered from 0.
func (g *Graph) RemoveNodes(nodes []int32) error {
	remove := make([]bool, g.NumNodes)
	for _, v := range nodes {
		if v < 0 || int(v) >= g.NumNodes {
			return errors.Errorf("RemoveNodes(): node %d out of range for a graph with %d nodes", v, g.NumNodes)
		}
		remove[v] = true
	}
	keep := make([]bool, g.NumNodes)
	for v := range keep {
		keep[v] = !remove[v]
	}
	sub, err := g.induced(keep, false)
	if err != nil {
		return err
	}
	*g = *sub
	return nil
}

// NodeSubgraph returns the subgraph induced by the nodes where mask is true: it contains exactly those nodes,
// renumbered in order, and every edge of g with both endpoints among them.
//
// The node data is sliced accordingly, and [NID] is set to the id of each node in g.
func (g *Graph) NodeSubgraph(mask []bool) (*Graph, error) {
	if len(mask) != g.NumNodes {
		return nil, errors.Errorf("NodeSubgraph(): mask has %d entries, graph has %d nodes", len(mask), g.NumNodes)
	}
	return g.induced(mask, true)
}

func (g *Graph) induced(keep []bool, setNID bool) (*Graph, error) {
	newIDs := make([]int32, g.NumNodes)
	kept := make([]int32, 0, g.NumNodes)
	for v, k := range keep {
		if k {
			newIDs[v] = int32(len(kept))
			kept = append(kept, int32(v))
		} else {
			newIDs[v] = -1
		}
	}

	sub := &Graph{
		NumNodes: len(kept),
		NodeData: make(map[string]*tensors.Tensor, len(g.NodeData)+1),
	}
	for ii := range g.Src {
		u, v := newIDs[g.Src[ii]], newIDs[g.Dst[ii]]
		if u < 0 || v < 0 {
			continue
		}
		sub.Src = append(sub.Src, u)
		sub.Dst = append(sub.Dst, v)
	}
	for name, t := range g.NodeData {
		if setNID && name == NID {
			continue
		}
		rows, err := TakeRows(t, kept)
		if err != nil {
			return nil, errors.WithMessagef(err, "slicing node data %q", name)
		}
		sub.NodeData[name] = rows
	}
	if setNID {
		sub.NodeData[NID] = tensors.FromFlatDataAndDimensions(kept, len(kept))
	}
	return sub, nil
}
