package datasets

import (
	"bytes"
	"compress/gzip"
	"math"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/propagate"
	"github.com/graphbench/nodeprep/splits"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// writeGzipCSV writes rows, each a comma-separated line, to a `.csv.gz` file, creating its directory.
func writeGzipCSV(t *testing.T, filePath string, rows ...string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	must.M1(gz.Write([]byte(strings.Join(rows, "\n") + "\n")))
	must.M(gz.Close())
	require.NoError(t, os.MkdirAll(path.Dir(filePath), 0777))
	require.NoError(t, os.WriteFile(filePath, buf.Bytes(), 0644))
}

func writeSplit(t *testing.T, dir, train, valid, test string) {
	writeGzipCSV(t, path.Join(dir, "train.csv.gz"), strings.Fields(train)...)
	writeGzipCSV(t, path.Join(dir, "valid.csv.gz"), strings.Fields(valid)...)
	writeGzipCSV(t, path.Join(dir, "test.csv.gz"), strings.Fields(test)...)
}

func TestParseID(t *testing.T) {
	for _, id := range IDs() {
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
		assert.NotNil(t, Loaders[id], "no loader for %s", id)
	}
	assert.Len(t, Names(), int(numIDs))

	_, err := ParseID("ogbn-proteins")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedDataset))
	assert.Contains(t, err.Error(), "ogbn-proteins")

	_, err = LoadOGBDataset(Karate, Options{})
	assert.True(t, errors.Is(err, ErrUnsupportedDataset))
	assert.Contains(t, err.Error(), "karate")
}

func TestLoadKarate(t *testing.T) {
	g, numClasses := LoadKarate()
	assert.Equal(t, 2, numClasses)
	assert.Equal(t, 34, g.NumNodes)
	assert.Equal(t, 156, g.NumEdges())
	assert.Equal(t, []float32{7, 7, 7, 7}, g.NodeData[graphdata.FeatKey].Value().([][]float32)[7])

	masks, err := splits.MasksFromGraph(g)
	require.NoError(t, err)
	train, val, test := masks.Sizes()
	assert.Equal(t, 24, train)
	assert.Equal(t, 5, val)
	assert.Equal(t, 5, test)
	for v := range g.NumNodes {
		count := 0
		for _, m := range [][]bool{masks.Train, masks.Val, masks.Test} {
			if m[v] {
				count++
			}
		}
		assert.Equal(t, 1, count, "node %d is in %d splits", v, count)
	}

	labels := tensors.MustCopyFlatData[int32](g.NodeData[graphdata.LabelKey])
	assert.Equal(t, int32(0), labels[0])
	assert.Equal(t, int32(1), labels[33])
	assert.Equal(t, 2, countClasses(labels))
}

func TestLoadKaratePrepared(t *testing.T) {
	p, err := Load(Karate, Options{})
	require.NoError(t, err)
	assert.Equal(t, Karate, p.Dataset)
	assert.Equal(t, 2, p.NumClasses)
	assert.Equal(t, 4, p.InFeats())
	assert.Len(t, p.Train, 24)
	assert.Len(t, p.Val, 5)
	assert.Len(t, p.Test, 5)
	assert.Equal(t, []int32{29, 30, 31, 32, 33}, p.Test)
	assert.False(t, p.Graph.HasNodeData(graphdata.FeatKey))
	assert.False(t, p.Graph.HasNodeData(graphdata.LabelKey))
	assert.Contains(t, p.String(), "train/val/test=24/5/5")
}

func TestPrepareData(t *testing.T) {
	// Node 2 is isolated; node 4 is neither train nor validation.
	g := graphdata.New(5, []int32{0, 1, 3}, []int32{1, 3, 4})
	g.MustSetNodeData(graphdata.FeatKey, tensors.FromValue([][]float32{{0}, {1}, {2}, {3}, {4}}))
	g.MustSetNodeData(graphdata.LabelKey, tensors.FromValue([]int32{0, 1, 0, 1, 0}))
	g.MustSetNodeData(graphdata.TrainMaskKey, splits.MaskTensor([]bool{true, true, false, false, false}))
	g.MustSetNodeData(graphdata.ValMaskKey, splits.MaskTensor([]bool{false, false, true, true, false}))

	p, err := PrepareData(g, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Graph.NumNodes)
	assert.Equal(t, [][]float32{{0}, {1}, {3}, {4}}, p.Feats.Value())
	assert.Equal(t, []int32{0, 1, 1, 0}, p.Labels.Value())
	assert.Equal(t, []int32{0, 1}, p.Train)
	assert.Equal(t, []int32{2}, p.Val)
	assert.Equal(t, []int32{3}, p.Test)

	// Missing labels.
	g = graphdata.New(2, []int32{0}, []int32{1})
	g.MustSetNodeData(graphdata.FeatKey, tensors.FromValue([][]float32{{0}, {1}}))
	_, err = PrepareData(g, 2)
	require.Error(t, err)
}

func TestEvaluator(t *testing.T) {
	e, err := NewEvaluator("ogbn-arxiv")
	require.NoError(t, err)
	acc, err := e.Accuracy([]int32{1, 2, 3, 4}, []int32{1, 0, 3, MissingLabel})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, acc, 1e-9)

	acc, err = e.AccuracyOf(tensors.FromValue([]int32{1, 2, 3}), tensors.FromValue([]int32{1, 0, 0}), []int32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, acc, 1e-9)

	_, err = e.Accuracy([]int32{1}, []int32{MissingLabel})
	require.Error(t, err)
	_, err = NewEvaluator("unknown")
	require.Error(t, err)
}

// fakeArxiv writes a tiny dataset with the ogbn-arxiv layout under dataDir: 5 nodes, a self-loop on node 2
// and node 4 isolated.
func fakeArxiv(t *testing.T, dataDir string) {
	dir := path.Join(dataDir, "arxiv")
	writeGzipCSV(t, path.Join(dir, "raw", "num-node-list.csv.gz"), "5")
	writeGzipCSV(t, path.Join(dir, "raw", "edge.csv.gz"), "0,1", "1,2", "2,2", "3,0")
	writeGzipCSV(t, path.Join(dir, "raw", "node-feat.csv.gz"), "0.5,1", "1,1", "2,1", "3,1", "4,1")
	writeGzipCSV(t, path.Join(dir, "raw", "node-label.csv.gz"), "1", "0", "2", "1", "0")
	writeSplit(t, path.Join(dir, "split", "time"), "0 1", "2", "3 4")
}

func TestLoadOGB(t *testing.T) {
	dataDir := t.TempDir()
	fakeArxiv(t, dataDir)
	g, numClasses, err := LoadOGB(OGBNArxiv, dataDir)
	require.NoError(t, err)
	assert.Equal(t, 3, numClasses)
	assert.Equal(t, 5, g.NumNodes)
	assert.Equal(t, []int32{0, 1, 3}, g.Src)
	assert.Equal(t, []int32{1, 2, 0}, g.Dst)
	assert.Equal(t, []bool{false, false, false, true, true}, g.NodeData[graphdata.TestMaskKey].Value())

	p, err := Load(OGBNArxiv, Options{DataDir: dataDir})
	require.NoError(t, err)
	assert.Equal(t, 4, p.Graph.NumNodes)
	assert.Equal(t, []int32{0, 1}, p.Train)
	assert.Equal(t, []int32{2}, p.Val)
	assert.Equal(t, []int32{3}, p.Test)
	assert.Equal(t, [][]float32{{0.5, 1}, {1, 1}, {2, 1}, {3, 1}}, p.Feats.Value())

	_, _, err = LoadOGB(OGBNMag, dataDir)
	assert.True(t, errors.Is(err, ErrUnsupportedDataset))
}

// fakeMAG writes a tiny dataset with the ogbn-mag layout: 3 papers, 2 authors, 1 field of study and
// 1 institution.
func fakeMAG(t *testing.T, dataDir string) {
	dir := path.Join(dataDir, "mag")
	raw := path.Join(dir, "raw")
	writeGzipCSV(t, path.Join(raw, "num-node-dict.csv.gz"), "author,field_of_study,institution,paper", "2,1,1,3")
	writeGzipCSV(t, path.Join(raw, "relations", "author___affiliated_with___institution", "edge.csv.gz"), "0,0", "1,0")
	writeGzipCSV(t, path.Join(raw, "relations", "author___writes___paper", "edge.csv.gz"), "0,0", "0,1", "1,2")
	writeGzipCSV(t, path.Join(raw, "relations", "paper___cites___paper", "edge.csv.gz"), "0,1", "1,2")
	writeGzipCSV(t, path.Join(raw, "relations", "paper___has_topic___field_of_study", "edge.csv.gz"), "1,0", "2,0")
	writeGzipCSV(t, path.Join(raw, "node-feat", "paper", "node-feat.csv.gz"), "2", "4", "9")
	writeGzipCSV(t, path.Join(raw, "node-label", "paper", "node-label.csv.gz"), "0", "1", "0")
	writeSplit(t, path.Join(dir, "split", "time", "paper"), "0", "1", "2")
}

func TestReadMAG(t *testing.T) {
	dataDir := t.TempDir()
	fakeMAG(t, dataDir)
	hg, labels, split, err := ReadMAG(path.Join(dataDir, "mag"))
	require.NoError(t, err)
	assert.Equal(t, 7, hg.NumNodes())
	assert.Equal(t, 9, hg.NumEdges())
	assert.Equal(t, 3, hg.NodeTypeID(MAGPaper))
	assert.Equal(t, []int32{0, 1, 0}, labels)
	assert.Equal(t, splits.Split{Train: []int32{0}, Val: []int32{1}, Test: []int32{2}}, split)

	g, err := ConvertMAGToHomogeneous(propagate.ReferenceAggregator{}, hg)
	require.NoError(t, err)
	assert.Equal(t, 7, g.NumNodes)
	assert.Equal(t, 18, g.NumEdges())
	// author, author, field_of_study, institution, paper x 3.
	assert.Equal(t, [][]float32{{3}, {9}, {6.5}, {6}, {2}, {4}, {9}}, g.NodeData[graphdata.FeatKey].Value())
	assert.Equal(t, []bool{false, false, false, false, true, true, true}, g.NodeData[graphdata.TargetMaskKey].Value())
}

func TestLoadOGBNMag(t *testing.T) {
	dataDir := t.TempDir()
	fakeMAG(t, dataDir)
	p, err := Load(OGBNMag, Options{DataDir: dataDir, NumHops: 2})
	require.NoError(t, err)
	assert.Equal(t, OGBNMag, p.Dataset)
	assert.Equal(t, 349, p.NumClasses)
	require.Len(t, p.HopFeats, 3)
	for hop, x := range p.HopFeats {
		assert.Equal(t, []int{3, 1}, x.Shape().Dimensions, "hop %d", hop)
	}
	assert.Equal(t, [][]float32{{2}, {4}, {9}}, p.Feats.Value())
	assert.Equal(t, 3, p.Graph.NumNodes)
	assert.Equal(t, 4, p.Graph.NumEdges())
	assert.False(t, p.Graph.HasNodeData(graphdata.FeatKey))
	assert.Equal(t, []int32{4, 5, 6}, p.Graph.NodeData[graphdata.NID].Value())
	assert.Equal(t, []int32{0, 1, 0}, p.Labels.Value())
	assert.Equal(t, []int32{0}, p.Train)
}

// fakePapers100M writes a tiny dataset with the ogbn-papers100M layout: 4 nodes, node 3 isolated, the
// label of node 1 missing.
func fakePapers100M(t *testing.T, dataDir string) {
	dir := path.Join(dataDir, "papers100M-bin")
	require.NoError(t, os.MkdirAll(path.Join(dir, "raw"), 0777))
	feats := make([]float16.Float16, 8)
	for ii := range feats {
		feats[ii] = float16.Fromfloat32(float32(ii) / 2)
	}
	require.NoError(t, numpy.ToNpzFile(map[string]*tensors.Tensor{
		"edge_index":     tensors.FromValue([][]int64{{0, 1, 2}, {1, 2, 0}}),
		"node_feat":      tensors.FromFlatDataAndDimensions(feats, 4, 2),
		"num_nodes_list": tensors.FromValue([]int64{4}),
	}, path.Join(dir, "raw", "data.npz")))
	require.NoError(t, numpy.ToNpzFile(map[string]*tensors.Tensor{
		"node_label": tensors.FromValue([][]float64{{1}, {math.NaN()}, {0}, {2}}),
	}, path.Join(dir, "raw", "node-label.npz")))
	writeSplit(t, path.Join(dir, "split", "time"), "0", "1", "2")
}

func TestPapers100M(t *testing.T) {
	dataDir, cacheDir := t.TempDir(), path.Join(t.TempDir(), "DATA")
	fakePapers100M(t, dataDir)
	opts := Options{DataDir: dataDir, CacheDir: cacheDir}

	// Without a cached graph.
	p, err := PreparePapers100M(opts)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Graph.NumNodes)
	assert.Equal(t, 6, p.Graph.NumEdges())
	assert.False(t, p.Graph.HasNodeData(graphdata.FeatKey))
	assert.Equal(t, [][]float32{{0, 0.5}, {1, 1.5}, {2, 2.5}, {3, 3.5}}, p.Feats.Value())
	assert.Equal(t, []int32{1, MissingLabel, 0, 2}, p.Labels.Value())
	assert.Equal(t, 172, p.NumClasses)

	p, err = LoadOGBDataset(OGBNPapers100M, opts)
	require.NoError(t, err)
	assert.True(t, p.Graph.HasNodeData(graphdata.FeatKey))
	assert.Equal(t, 2, p.InFeats())

	_, err = LoadCachedGraph(cacheDir, OGBNPapers100M)
	assert.True(t, os.IsNotExist(err))
	cachePath, err := PreprocessPapers100M(opts)
	require.NoError(t, err)
	assert.Equal(t, path.Join(cacheDir, "ogbn-papers100M_homo_without_isolated_node_graph.bin"), cachePath)
	cached, err := LoadCachedGraph(cacheDir, OGBNPapers100M)
	require.NoError(t, err)
	assert.Equal(t, 3, cached.NumNodes)
	assert.Equal(t, 6, cached.NumEdges())

	// With the cached graph.
	p, err = Load(OGBNPapers100M, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Graph.NumNodes)
	assert.Equal(t, []int32{1, MissingLabel, 0}, p.Labels.Value())
	assert.Equal(t, []int32{0}, p.Train)
	assert.Equal(t, []int32{1}, p.Val)
	assert.Equal(t, []int32{2}, p.Test)
}

func TestReadReddit(t *testing.T) {
	dataDir := t.TempDir()
	dir := path.Join(dataDir, "reddit")
	require.NoError(t, os.MkdirAll(dir, 0777))
	require.NoError(t, numpy.ToNpzFile(map[string]*tensors.Tensor{
		"feature":    tensors.FromValue([][]float32{{1, 0}, {0, 1}, {1, 1}, {0, 0}}),
		"label":      tensors.FromValue([]int64{3, 1, 40, 0}),
		"node_types": tensors.FromValue([]int32{1, 1, 2, 3}),
		"node_ids":   tensors.FromValue([]int64{0, 1, 2, 3}),
	}, path.Join(dir, "reddit_data.npz")))
	require.NoError(t, numpy.ToNpzFile(map[string]*tensors.Tensor{
		"row":  tensors.FromValue([]int32{0, 1, 1, 2, 3}),
		"col":  tensors.FromValue([]int32{1, 0, 1, 3, 2}),
		"data": tensors.FromValue([]float32{1, 1, 1, 1, 1}),
	}, path.Join(dir, "reddit_graph.npz")))

	g, numClasses, err := LoadReddit(dataDir)
	require.NoError(t, err)
	assert.Equal(t, 41, numClasses)
	assert.Equal(t, 4, g.NumNodes)
	assert.Equal(t, []int32{0, 1, 2, 3}, g.Src)
	assert.Equal(t, []int32{1, 0, 3, 2}, g.Dst)
	assert.Equal(t, []int32{3, 1, 40, 0}, g.NodeData[graphdata.LabelKey].Value())
	assert.Equal(t, []bool{true, true, false, false}, g.NodeData[graphdata.TrainMaskKey].Value())
	assert.Equal(t, []bool{false, false, true, false}, g.NodeData[graphdata.ValMaskKey].Value())
	assert.Equal(t, []bool{false, false, false, true}, g.NodeData[graphdata.TestMaskKey].Value())
}

func TestReadCora(t *testing.T) {
	dataDir := t.TempDir()
	dir := path.Join(dataDir, "cora")
	require.NoError(t, os.MkdirAll(dir, 0777))
	content := strings.Join([]string{
		"31336\t0\t1\t0\tNeural_Networks",
		"1061127\t1\t0\t0\tRule_Learning",
		"1106406\t0\t0\t1\tNeural_Networks",
		"13195\t1\t1\t0\tCase_Based",
	}, "\n") + "\n"
	cites := strings.Join([]string{
		"31336\t1061127",
		"1061127\t31336", // duplicate, other direction.
		"13195\t13195",   // self-citation.
		"1106406\t13195",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path.Join(dir, "cora.content"), []byte(content), 0644))
	require.NoError(t, os.WriteFile(path.Join(dir, "cora.cites"), []byte(cites), 0644))

	defer func(perClass, numVal, numTest int) {
		CoraTrainPerClass, CoraNumVal, CoraNumTest = perClass, numVal, numTest
	}(CoraTrainPerClass, CoraNumVal, CoraNumTest)
	CoraTrainPerClass, CoraNumVal, CoraNumTest = 1, 1, 1

	g, numClasses, err := LoadCora(dataDir)
	require.NoError(t, err)
	assert.Equal(t, 3, numClasses)
	assert.Equal(t, 4, g.NumNodes)
	// (citing -> cited), then the reverse edges.
	assert.Equal(t, []int32{1, 3, 0, 2}, g.Src)
	assert.Equal(t, []int32{0, 2, 1, 3}, g.Dst)
	// Case_Based=0, Neural_Networks=1, Rule_Learning=2.
	assert.Equal(t, []int32{1, 2, 1, 0}, g.NodeData[graphdata.LabelKey].Value())
	assert.Equal(t, [][]float32{{0, 1, 0}, {1, 0, 0}, {0, 0, 1}, {1, 1, 0}}, g.NodeData[graphdata.FeatKey].Value())
	// Train: first of each class (0, 1, 3); val: node 2; test: nothing left.
	assert.Equal(t, []bool{true, true, false, true}, g.NodeData[graphdata.TrainMaskKey].Value())
	assert.Equal(t, []bool{false, false, true, false}, g.NodeData[graphdata.ValMaskKey].Value())
	assert.Equal(t, []bool{false, false, false, false}, g.NodeData[graphdata.TestMaskKey].Value())
}

func TestMemorySnapshotAndTick(t *testing.T) {
	stats := MemorySnapshot("test")
	assert.Greater(t, stats.Sys, uint64(0))
	start := time.Now().Add(-time.Second)
	assert.False(t, Tick(start, "test").Before(start))
}

func TestToInt32Range(t *testing.T) {
	values, err := toInt32(tensors.FromValue([]int64{-1, 0, math.MaxInt32}))
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 0, math.MaxInt32}, values)

	_, err = toInt32(tensors.FromValue([]int64{3, math.MaxInt32 + 1}))
	require.Error(t, err)
	_, err = toInt32(tensors.FromValue([]int64{math.MinInt32 - 1}))
	require.Error(t, err)
	_, err = toInt32(tensors.FromValue([]uint32{7, math.MaxUint32}))
	require.Error(t, err)

	// Labels are checked the same way.
	_, err = labelsFromTensor(tensors.FromValue([]int64{1, 1 << 40}))
	require.Error(t, err)
}
