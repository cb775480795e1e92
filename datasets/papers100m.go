package datasets

import (
	"fmt"
	"os"
	"path"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/splits"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ReadPapers100M reads the extracted `papers100M-bin` directory: the graph (with features), the labels
// (MissingLabel for the unlabeled papers) and the split.
func ReadPapers100M(dir string) (g *graphdata.Graph, labels []int32, split splits.Split, err error) {
	rawDir := path.Join(dir, "raw")
	data, err := readNpzEntries(path.Join(rawDir, "data.npz"), "edge_index", "node_feat")
	if err != nil {
		return
	}
	edgeIndex := data["edge_index"]
	if edgeIndex.Rank() != 2 || edgeIndex.Shape().Dimensions[0] != 2 {
		err = errors.Errorf("edge_index should be shaped [2, num_edges], got %s", edgeIndex.Shape())
		return
	}
	edges, err := toInt32(edgeIndex)
	if err != nil {
		return
	}
	numEdges := edgeIndex.Shape().Dimensions[1]
	feats, err := toFloat32(data["node_feat"])
	if err != nil {
		return
	}
	if feats.Rank() != 2 {
		err = errors.Errorf("node_feat should be shaped [num_nodes, dim], got %s", feats.Shape())
		return
	}
	numNodes := feats.Shape().Dimensions[0]
	src, dst := edges[:numEdges:numEdges], edges[numEdges:]
	if err = checkEdgeRange(src, numNodes, dst, numNodes); err != nil {
		return
	}
	g = graphdata.New(numNodes, src, dst)
	g.MustSetNodeData(graphdata.FeatKey, feats)

	labelData, err := readNpzEntries(path.Join(rawDir, "node-label.npz"), "node_label")
	if err != nil {
		return
	}
	if labels, err = labelsFromTensor(labelData["node_label"]); err != nil {
		return
	}
	if len(labels) != numNodes {
		err = errors.Errorf("%d labels for %d nodes", len(labels), numNodes)
		return
	}
	split, err = readSplitCSV(path.Join(dir, "split", ogbDatasets[OGBNPapers100M].splitDir))
	return
}

// loadPapers100M downloads (if needed) and reads ogbn-papers100M, and adds the reverse of every edge.
func loadPapers100M(dataDir string) (*graphdata.Graph, []int32, splits.Split, error) {
	dir, err := downloadOGB(OGBNPapers100M, dataDir)
	if err != nil {
		return nil, nil, splits.Split{}, err
	}
	g, labels, split, err := ReadPapers100M(dir)
	if err != nil {
		return nil, nil, splits.Split{}, errors.WithMessagef(err, "reading %s", OGBNPapers100M)
	}
	g.AddReverseEdges()
	logSplitSummary(OGBNPapers100M, g, split)
	return g, labels, split, nil
}

func logSplitSummary(id ID, g *graphdata.Graph, split splits.Split) {
	klog.Infof("%s\n# Nodes: %s\n# Edges: %s\n# Train: %d\n# Val: %d\n# Test: %d\n# Classes: %d", id,
		humanize.Comma(int64(g.NumNodes)), humanize.Comma(int64(g.NumEdges())),
		len(split.Train), len(split.Val), len(split.Test), ogbDatasets[id].numClasses)
}

// LoadOGBDataset loads one of ogbn-products, ogbn-mag or ogbn-papers100M. Other datasets return
// ErrUnsupportedDataset.
//
// For ogbn-papers100M the graph keeps its features as node data (also returned in Prepared.Feats), has
// the reverse edges added, and no node is removed. The other two run their full pipeline.
func LoadOGBDataset(id ID, opts Options) (*Prepared, error) {
	switch id {
	case OGBNProducts:
		return Loaders[OGBNProducts](opts)
	case OGBNMag:
		return LoadOGBNMag(opts)
	case OGBNPapers100M:
		g, labels, split, err := loadPapers100M(opts.DataDir)
		if err != nil {
			return nil, err
		}
		return &Prepared{
			Dataset:    id,
			Graph:      g,
			Feats:      g.NodeData[graphdata.FeatKey],
			Labels:     tensors.FromFlatDataAndDimensions(labels, len(labels)),
			NumClasses: ogbDatasets[id].numClasses,
			Split:      split,
		}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedDataset, "LoadOGBDataset(%q)", id.String())
	}
}

// CachePath returns where the preprocessed graph of a dataset is saved under cacheDir.
func CachePath(cacheDir string, id ID) string {
	return path.Join(cacheDir, fmt.Sprintf("%s_homo_without_isolated_node_graph.bin", id))
}

// LoadCachedGraph loads the graph saved by PreprocessPapers100M. If there is no cached graph the error
// satisfies os.IsNotExist.
func LoadCachedGraph(cacheDir string, id ID) (*graphdata.Graph, error) {
	cacheDir, err := fsutil.ReplaceTildeInDir(cacheDir)
	if err != nil {
		return nil, err
	}
	return graphdata.Load(CachePath(cacheDir, id))
}

// PreprocessPapers100M loads ogbn-papers100M, adds reverse edges, attaches labels and split masks, removes the
// isolated nodes and saves the result to CachePath. It returns the path written.
func PreprocessPapers100M(opts Options) (string, error) {
	klog.Infof("preprocess the %s graph", OGBNPapers100M)
	start := time.Now()
	g, labels, split, err := loadPapers100M(opts.DataDir)
	if err != nil {
		return "", err
	}
	start = Tick(start, "load "+OGBNPapers100M.String())
	g.MustSetNodeData(graphdata.LabelKey, tensors.FromFlatDataAndDimensions(labels, len(labels)))
	masks, err := splits.MasksFromIndices(g.NumNodes, split)
	if err != nil {
		return "", err
	}
	if err = masks.Attach(g); err != nil {
		return "", err
	}
	removed, err := g.RemoveIsolatedNodes()
	if err != nil {
		return "", err
	}
	klog.Infof("removed %s isolated nodes", humanize.Comma(int64(len(removed))))
	MemorySnapshot("after removing isolated nodes")

	cacheDir, err := fsutil.ReplaceTildeInDir(opts.CacheDir)
	if err != nil {
		return "", err
	}
	cachePath := CachePath(cacheDir, OGBNPapers100M)
	if err = g.Save(cachePath); err != nil {
		return "", err
	}
	Tick(start, "preprocess "+OGBNPapers100M.String())
	klog.Infof("saved the %s graph to %q", OGBNPapers100M, cachePath)
	return cachePath, nil
}

// PreparePapers100M returns ogbn-papers100M ready for training.
//
// If PreprocessPapers100M saved a graph to opts.CacheDir, it is loaded and prepared with PrepareData
// (isolated nodes removed, split derived from the masks). Otherwise the raw dataset is loaded, reverse
// edges added and the features popped from the graph, with the split as given by the dataset.
func PreparePapers100M(opts Options) (*Prepared, error) {
	cached, err := LoadCachedGraph(opts.CacheDir, OGBNPapers100M)
	switch {
	case err == nil:
		klog.Infof("using preprocessed %s graph from %q", OGBNPapers100M, CachePath(opts.CacheDir, OGBNPapers100M))
		return prepareWithID(OGBNPapers100M, cached, ogbDatasets[OGBNPapers100M].numClasses)
	case !os.IsNotExist(err):
		return nil, err
	}

	g, labels, split, err := loadPapers100M(opts.DataDir)
	if err != nil {
		return nil, err
	}
	MemorySnapshot("after loading split")
	feats, err := g.PopNodeData(graphdata.FeatKey)
	if err != nil {
		return nil, err
	}
	MemorySnapshot("after popping features")
	return &Prepared{
		Dataset:    OGBNPapers100M,
		Graph:      g,
		Feats:      feats,
		Labels:     tensors.FromFlatDataAndDimensions(labels, len(labels)),
		NumClasses: ogbDatasets[OGBNPapers100M].numClasses,
		Split:      split,
	}, nil
}
