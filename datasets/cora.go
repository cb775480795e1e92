package datasets

import (
	"os"
	"path"
	"slices"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/graphbench/nodeprep/downloader"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/splits"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var CoraURL = "https://linqs-data.soe.ucsc.edu/public/lbc/cora.tgz"

// Sizes of the Cora split: CoraTrainPerClass nodes of each class for training, then the next CoraNumVal
// nodes for validation and the last CoraNumTest nodes for testing.
var (
	CoraTrainPerClass = 20
	CoraNumVal        = 500
	CoraNumTest       = 1000
)

// LoadCora downloads (if needed) the Cora citation network to dataDir, and returns its graph, with
// citations in both directions, and its number of classes.
func LoadCora(dataDir string) (*graphdata.Graph, int, error) {
	start := time.Now()
	dataDir, err := fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return nil, 0, err
	}
	dir := path.Join(dataDir, "cora")
	err = downloader.DownloadAndUntarIfMissing(CoraURL, path.Join(dataDir, "cora.tgz"), dataDir, dir, "")
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "downloading %s", Cora)
	}
	g, numClasses, err := ReadCora(dir)
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "reading %s", Cora)
	}
	klog.Infof("%s: %s, %d classes", Cora, g, numClasses)
	Tick(start, "load "+Cora.String())
	return g, numClasses, nil
}

func readTabSeparated(filePath string) (dataframe.DataFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f,
		dataframe.WithDelimiter('\t'),
		dataframe.HasHeader(false),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String))
	if df.Err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(df.Err, "failed to parse %q", filePath)
	}
	return df, nil
}

// ReadCora reads the extracted LINQS Cora directory: `cora.content` has one paper per line (id, binary word
// features, class name) and `cora.cites` one citation per line (cited id, citing id).
//
// Class ids follow the sorted class names. Duplicated citations and self-citations are dropped.
func ReadCora(dir string) (*graphdata.Graph, int, error) {
	content, err := readTabSeparated(path.Join(dir, "cora.content"))
	if err != nil {
		return nil, 0, err
	}
	names := content.Names()
	if len(names) < 3 {
		return nil, 0, errors.Errorf("cora.content has %d columns, expected at least 3", len(names))
	}
	numNodes, featDim := content.Nrow(), len(names)-2

	nodeIndex := make(map[string]int32, numNodes)
	for v, paperID := range content.Col(names[0]).Records() {
		nodeIndex[paperID] = int32(v)
	}
	feats := make([]float32, numNodes*featDim)
	for col, name := range names[1 : len(names)-1] {
		for v, value := range content.Col(name).Float() {
			feats[v*featDim+col] = float32(value)
		}
	}
	classNames := content.Col(names[len(names)-1]).Records()
	classes := slices.Clone(classNames)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	labels := make([]int32, numNodes)
	for v, className := range classNames {
		idx, _ := slices.BinarySearch(classes, className)
		labels[v] = int32(idx)
	}

	cites, err := readTabSeparated(path.Join(dir, "cora.cites"))
	if err != nil {
		return nil, 0, err
	}
	if cites.Ncol() != 2 {
		return nil, 0, errors.Errorf("cora.cites has %d columns, expected 2", cites.Ncol())
	}
	cited, citing := cites.Col(cites.Names()[0]).Records(), cites.Col(cites.Names()[1]).Records()
	type pair struct{ a, b int32 }
	seen := make(map[pair]bool, len(cited))
	var src, dst []int32
	for ii := range cited {
		u, foundU := nodeIndex[citing[ii]]
		v, foundV := nodeIndex[cited[ii]]
		if !foundU || !foundV {
			return nil, 0, errors.Errorf("cora.cites line %d refers to unknown paper (%q, %q)", ii+1, cited[ii], citing[ii])
		}
		key := pair{min(u, v), max(u, v)}
		if u == v || seen[key] {
			continue
		}
		seen[key] = true
		src = append(src, u)
		dst = append(dst, v)
	}
	g := graphdata.New(numNodes, src, dst)
	g.AddReverseEdges()
	g.MustSetNodeData(graphdata.FeatKey, tensors.FromFlatDataAndDimensions(feats, numNodes, featDim))
	g.MustSetNodeData(graphdata.LabelKey, tensors.FromFlatDataAndDimensions(labels, numNodes))
	if err = coraMasks(labels, len(classes)).Attach(g); err != nil {
		return nil, 0, err
	}
	return g, len(classes), nil
}

// coraMasks takes the first CoraTrainPerClass nodes of each class for training, the next CoraNumVal
// other nodes for validation, and the last CoraNumTest nodes not yet used for testing.
func coraMasks(labels []int32, numClasses int) splits.Masks {
	numNodes := len(labels)
	masks := splits.Masks{
		Train: make([]bool, numNodes),
		Val:   make([]bool, numNodes),
		Test:  make([]bool, numNodes),
	}
	perClass := make([]int, numClasses)
	for v, l := range labels {
		if perClass[l] < CoraTrainPerClass {
			perClass[l]++
			masks.Train[v] = true
		}
	}
	numVal := 0
	for v := 0; v < numNodes && numVal < CoraNumVal; v++ {
		if !masks.Train[v] {
			masks.Val[v] = true
			numVal++
		}
	}
	numTest := 0
	for v := numNodes - 1; v >= 0 && numTest < CoraNumTest; v-- {
		if !masks.Train[v] && !masks.Val[v] {
			masks.Test[v] = true
			numTest++
		}
	}
	return masks
}
