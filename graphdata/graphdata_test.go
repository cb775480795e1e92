package graphdata

import (
	"os"
	"path"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineGraph: 0->1->2, node 3 isolated, node 4 only with a self-loop.
func lineGraph() *Graph {
	g := New(5, []int32{0, 1, 4}, []int32{1, 2, 4})
	g.MustSetNodeData(FeatKey, tensors.FromValue([][]float32{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}}))
	g.MustSetNodeData(LabelKey, tensors.FromValue([]int32{0, 1, 0, 1, 0}))
	return g
}

func TestDegreesAndReverseEdges(t *testing.T) {
	g := lineGraph()
	assert.Equal(t, []int32{0, 1, 1, 0, 1}, g.InDegrees())
	assert.Equal(t, []int32{1, 1, 0, 0, 1}, g.OutDegrees())

	g.AddReverseEdges()
	assert.Equal(t, 6, g.NumEdges())
	assert.Equal(t, []int32{0, 1, 4, 1, 2, 4}, g.Src)
	assert.Equal(t, []int32{1, 2, 4, 0, 1, 4}, g.Dst)
	assert.Equal(t, []int32{1, 2, 1, 0, 2}, g.InDegrees())

	assert.Equal(t, 2, g.RemoveSelfLoops())
	assert.Equal(t, []int32{0, 1, 1, 2}, g.Src)
	assert.Equal(t, []int32{1, 2, 0, 1}, g.Dst)
}

func TestSetNodeDataShapeMismatch(t *testing.T) {
	g := New(3, nil, nil)
	require.Error(t, g.SetNodeData(FeatKey, tensors.FromValue([][]float32{{1}, {2}})))
	require.NoError(t, g.SetNodeData(FeatKey, tensors.FromValue([][]float32{{1}, {2}, {3}})))
	feat, err := g.PopNodeData(FeatKey)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, feat.Shape().Dimensions)
	_, err = g.PopNodeData(FeatKey)
	require.Error(t, err)
}

func TestRemoveIsolatedNodes(t *testing.T) {
	g := lineGraph()
	// Node 4 has a self-loop, so it is not isolated.
	assert.Equal(t, []int32{3}, g.IsolatedNodes())

	removed, err := g.RemoveIsolatedNodes()
	require.NoError(t, err)
	assert.Equal(t, []int32{3}, removed)
	assert.Equal(t, 4, g.NumNodes)
	assert.Empty(t, g.IsolatedNodes())
	assert.Equal(t, []int32{0, 1, 3}, g.Src)
	assert.Equal(t, []int32{1, 2, 3}, g.Dst)
	assert.Equal(t, [][]float32{{0, 0}, {1, 1}, {2, 2}, {4, 4}}, g.NodeData[FeatKey].Value())
	assert.Equal(t, []int32{0, 1, 0, 0}, g.NodeData[LabelKey].Value())

	// Nothing else to remove.
	removed, err = g.RemoveIsolatedNodes()
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestRemoveIsolatedNodesCount(t *testing.T) {
	// Nodes 1, 4, 5 and 7 are isolated.
	g := New(8, []int32{0, 2, 3, 6}, []int32{2, 3, 0, 6})
	wantIsolated := 0
	in, out := g.InDegrees(), g.OutDegrees()
	for v := range g.NumNodes {
		if in[v] == 0 && out[v] == 0 {
			wantIsolated++
		}
	}
	removed, err := g.RemoveIsolatedNodes()
	require.NoError(t, err)
	assert.Len(t, removed, wantIsolated)
	assert.Equal(t, []int32{1, 4, 5, 7}, removed)
	assert.Equal(t, 4, g.NumNodes)
	in, out = g.InDegrees(), g.OutDegrees()
	for v := range g.NumNodes {
		assert.False(t, in[v] == 0 && out[v] == 0, "node %d still isolated", v)
	}
}

func TestNodeSubgraph(t *testing.T) {
	g := lineGraph()
	sub, err := g.NodeSubgraph([]bool{false, true, true, true, false})
	require.NoError(t, err)
	assert.Equal(t, 3, sub.NumNodes)
	assert.Equal(t, []int32{0}, sub.Src)
	assert.Equal(t, []int32{1}, sub.Dst)
	assert.Equal(t, []int32{1, 2, 3}, sub.NodeData[NID].Value())
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}, {3, 3}}, sub.NodeData[FeatKey].Value())

	_, err = g.NodeSubgraph([]bool{true})
	require.Error(t, err)
}

func magLikeGraph() *HeteroGraph {
	hg := NewHetero()
	hg.AddNodeType("paper", 3)
	hg.AddNodeType("author", 2)
	hg.AddNodeType("institution", 1)
	hg.AddRelation("writes", "author", "paper", []int32{0, 0, 1}, []int32{0, 1, 2})
	hg.AddRelation("cites", "paper", "paper", []int32{0}, []int32{2})
	hg.AddRelation("affiliated_with", "author", "institution", []int32{1}, []int32{0})
	return hg
}

func TestToHomogeneous(t *testing.T) {
	hg := magLikeGraph()
	require.NoError(t, hg.SetNodeData("paper", FeatKey, tensors.FromValue([][]float32{{1}, {2}, {3}})))
	require.NoError(t, hg.SetNodeData("author", FeatKey, tensors.FromValue([][]float32{{10}, {20}})))

	// Institution has no features yet.
	_, err := hg.ToHomogeneous(FeatKey)
	require.Error(t, err)
	require.Error(t, hg.SetNodeData("institution", FeatKey, nil))
	require.Error(t, hg.SetNodeData("venue", FeatKey, tensors.FromValue([][]float32{{1}})))

	require.NoError(t, hg.SetNodeData("institution", FeatKey, tensors.FromValue([][]float32{{100}})))
	g, err := hg.ToHomogeneous(FeatKey)
	require.NoError(t, err)
	assert.Equal(t, 6, g.NumNodes)
	assert.Equal(t, hg.NumEdges(), g.NumEdges())
	// writes: authors at offset 3, papers at offset 0.
	assert.Equal(t, []int32{3, 3, 4, 0, 4}, g.Src)
	assert.Equal(t, []int32{0, 1, 2, 2, 5}, g.Dst)
	assert.Equal(t, []int32{0, 0, 0, 1, 1, 2}, g.NodeData[NType].Value())
	assert.Equal(t, []int32{0, 1, 2, 0, 1, 0}, g.NodeData[NID].Value())
	assert.Equal(t, [][]float32{{1}, {2}, {3}, {10}, {20}, {100}}, g.NodeData[FeatKey].Value())

	g.AddReverseEdges()
	assert.Equal(t, 2*hg.NumEdges(), g.NumEdges())

	numTargets, err := SetTargetMask(g, hg.NodeTypeID("paper"))
	require.NoError(t, err)
	assert.Equal(t, 3, numTargets)
	assert.Equal(t, []bool{true, true, true, false, false, false}, g.NodeData[TargetMaskKey].Value())

	counts, err := TypeCounts(g)
	require.NoError(t, err)
	assert.Equal(t, []TypeCount{{0, 3}, {1, 2}, {2, 1}}, counts)
}

func TestHeteroPanics(t *testing.T) {
	hg := magLikeGraph()
	assert.Panics(t, func() { hg.AddNodeType("paper", 1) })
	assert.Panics(t, func() { hg.AddRelation("bad", "paper", "unknown", nil, nil) })
	assert.Panics(t, func() { hg.AddRelation("oob", "paper", "author", []int32{3}, []int32{0}) })
	assert.Equal(t, -1, hg.NodeTypeID("unknown"))
	assert.Nil(t, hg.Relation("unknown"))
}

func TestSaveLoad(t *testing.T) {
	g := lineGraph()
	g.MustSetNodeData(TrainMaskKey, tensors.FromValue([]bool{true, false, true, false, false}))
	filePath := path.Join(t.TempDir(), "DATA", "graph.bin")
	require.NoError(t, g.Save(filePath))

	loaded, err := Load(filePath)
	require.NoError(t, err)
	assert.Equal(t, g.NumNodes, loaded.NumNodes)
	assert.Equal(t, g.Src, loaded.Src)
	assert.Equal(t, g.Dst, loaded.Dst)
	assert.Equal(t, g.NodeDataNames(), loaded.NodeDataNames())
	for _, name := range g.NodeDataNames() {
		assert.Equal(t, g.NodeData[name].Value(), loaded.NodeData[name].Value(), "node data %q", name)
	}

	_, err = Load(path.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestStats(t *testing.T) {
	g := lineGraph()
	s := g.Stats()
	assert.Equal(t, 5, s.NumNodes)
	assert.Equal(t, 3, s.NumEdges)
	assert.Equal(t, 1, s.NumIsolated)
	assert.Equal(t, 1, s.NumSelfLoops)
	assert.InDelta(t, 0.6, s.MeanInDegree, 1e-6)
	assert.Equal(t, 1.0, s.MaxInDegree)
	// {0,1,2}, {3}, {4}
	assert.Equal(t, 3, s.NumComponents)
	assert.Contains(t, s.String(), "3 components")
}
