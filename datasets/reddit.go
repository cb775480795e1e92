package datasets

import (
	"path"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/graphbench/nodeprep/downloader"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/splits"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	RedditURL        = "https://data.dgl.ai/dataset/reddit.zip"
	RedditNumClasses = 41
)

// Values of the "node_types" array of the Reddit dataset.
const (
	redditTrainType = 1
	redditValType   = 2
	redditTestType  = 3
)

// LoadReddit downloads (if needed) the Reddit dataset to dataDir, and returns its graph, without self-loops,
// and its number of classes.
func LoadReddit(dataDir string) (*graphdata.Graph, int, error) {
	start := time.Now()
	dataDir, err := fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return nil, 0, err
	}
	dir := path.Join(dataDir, "reddit")
	err = downloader.DownloadAndUnzipIfMissing(RedditURL, path.Join(dataDir, "reddit.zip"), dataDir, dir, "")
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "downloading %s", Reddit)
	}
	g, err := ReadReddit(dir)
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "reading %s", Reddit)
	}
	numSelfLoops := g.RemoveSelfLoops()
	klog.V(1).Infof("%s: removed %d self-loops", Reddit, numSelfLoops)
	klog.Infof("%s: %s, %d classes", Reddit, g, RedditNumClasses)
	Tick(start, "load "+Reddit.String())
	return g, RedditNumClasses, nil
}

// ReadReddit reads the extracted Reddit directory: `reddit_data.npz` with the features, labels and node types
// (1 for train, 2 for validation, 3 for test), and `reddit_graph.npz` with the edges in COO format.
func ReadReddit(dir string) (*graphdata.Graph, error) {
	data, err := readNpzEntries(path.Join(dir, "reddit_data.npz"), "feature", "label", "node_types")
	if err != nil {
		return nil, err
	}
	feats, err := toFloat32(data["feature"])
	if err != nil {
		return nil, err
	}
	if feats.Rank() != 2 {
		return nil, errors.Errorf("feature should be shaped [num_nodes, dim], got %s", feats.Shape())
	}
	numNodes := feats.Shape().Dimensions[0]
	labels, err := toInt32(data["label"])
	if err != nil {
		return nil, err
	}
	nodeTypes, err := toInt32(data["node_types"])
	if err != nil {
		return nil, err
	}
	if len(labels) != numNodes || len(nodeTypes) != numNodes {
		return nil, errors.Errorf("%d nodes, but %d labels and %d node types", numNodes, len(labels), len(nodeTypes))
	}

	coo, err := readNpzEntries(path.Join(dir, "reddit_graph.npz"), "row", "col")
	if err != nil {
		return nil, err
	}
	src, err := toInt32(coo["row"])
	if err != nil {
		return nil, err
	}
	dst, err := toInt32(coo["col"])
	if err != nil {
		return nil, err
	}
	if len(src) != len(dst) {
		return nil, errors.Errorf("graph has %d rows and %d columns", len(src), len(dst))
	}
	if err = checkEdgeRange(src, numNodes, dst, numNodes); err != nil {
		return nil, err
	}

	g := graphdata.New(numNodes, src, dst)
	g.MustSetNodeData(graphdata.FeatKey, feats)
	g.MustSetNodeData(graphdata.LabelKey, tensors.FromFlatDataAndDimensions(labels, numNodes))
	masks := splits.Masks{
		Train: make([]bool, numNodes),
		Val:   make([]bool, numNodes),
		Test:  make([]bool, numNodes),
	}
	for v, nodeType := range nodeTypes {
		masks.Train[v] = nodeType == redditTrainType
		masks.Val[v] = nodeType == redditValType
		masks.Test[v] = nodeType == redditTestType
	}
	if err = masks.Attach(g); err != nil {
		return nil, err
	}
	return g, nil
}
