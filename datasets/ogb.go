package datasets

import (
	"math"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/graphbench/nodeprep/downloader"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/splits"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OGBBaseURL is where the Open Graph Benchmark node property prediction datasets are downloaded from.
var OGBBaseURL = "http://snap.stanford.edu/ogb/data/nodeproppred/"

// ogbInfo describes the layout of one OGB dataset.
type ogbInfo struct {
	// archive is the zip file name without ".zip", also the directory it extracts to.
	archive string

	// splitDir under "<archive>/split/".
	splitDir string

	numClasses int

	// checksum of the zip file, if known.
	checksum string
}

var ogbDatasets = map[ID]ogbInfo{
	OGBNArxiv:      {archive: "arxiv", splitDir: "time", numClasses: 40},
	OGBNProducts:   {archive: "products", splitDir: "sales_ranking", numClasses: 47},
	OGBNMag:        {archive: "mag", splitDir: "time", numClasses: 349, checksum: "2afe62ead87f2c301a7398796991d347db85b2d01c5442c95169372bf5a9fca4"},
	OGBNPapers100M: {archive: "papers100M-bin", splitDir: "time", numClasses: 172},
}

// downloadOGB downloads and extracts the dataset under dataDir if not yet there, and returns the directory
// with its contents. The zip file is removed after extraction.
func downloadOGB(id ID, dataDir string) (string, error) {
	info, found := ogbDatasets[id]
	if !found {
		return "", errors.Wrapf(ErrUnsupportedDataset, "%s is not an OGB dataset", id)
	}
	dataDir, err := fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(dataDir, 0777); err != nil && !os.IsExist(err) {
		return "", errors.Wrapf(err, "failed to create path for downloading %q", dataDir)
	}
	zipPath := path.Join(dataDir, info.archive+".zip")
	datasetDir := path.Join(dataDir, info.archive)
	err = downloader.DownloadAndUnzipIfMissing(OGBBaseURL+info.archive+".zip", zipPath, dataDir, datasetDir, info.checksum)
	if err != nil {
		return "", errors.WithMessagef(err, "downloading %s", id)
	}
	if exists, _ := fsutil.FileExists(zipPath); exists {
		if err := os.Remove(zipPath); err != nil {
			return "", errors.Wrapf(err, "failed to remove file %q", zipPath)
		}
	}
	return datasetDir, nil
}

func parseInt32(str string) (int32, error) {
	v, err := strconv.ParseInt(str, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to parse %q to int32", str)
	}
	return int32(v), nil
}

// readEdgesCSV reads an OGB `edge.csv.gz` file: one "src,dst" pair per row.
func readEdgesCSV(filePath string) (src, dst []int32, err error) {
	err = downloader.ParseGzipCSVFile(filePath, func(row []string) error {
		if len(row) != 2 {
			return errors.Errorf("edge row has %d columns, expected 2", len(row))
		}
		u, err := parseInt32(row[0])
		if err != nil {
			return err
		}
		v, err := parseInt32(row[1])
		if err != nil {
			return err
		}
		src = append(src, u)
		dst = append(dst, v)
		return nil
	})
	return
}

// readIndicesCSV reads a file with one index per row, as the OGB split files and `num-node-list.csv.gz`.
func readIndicesCSV(filePath string) ([]int32, error) {
	var indices []int32
	err := downloader.ParseGzipCSVFile(filePath, func(row []string) error {
		if len(row) < 1 {
			return errors.New("empty row")
		}
		idx, err := parseInt32(row[0])
		if err != nil {
			return err
		}
		indices = append(indices, idx)
		return nil
	})
	return indices, err
}

// readFeaturesCSV reads the `node-feat.csv.gz` file of numNodes rows into a `Float32[numNodes, dim]` tensor.
func readFeaturesCSV(filePath string, numNodes int) (*tensors.Tensor, error) {
	var flat []float32
	dim := -1
	numRows := 0
	err := downloader.ParseGzipCSVFile(filePath, func(row []string) error {
		if dim == -1 {
			dim = len(row)
			flat = make([]float32, 0, numNodes*dim)
		} else if len(row) != dim {
			return errors.Errorf("row %d has %d columns, expected %d", numRows+1, len(row), dim)
		}
		for col, cell := range row {
			v, err := strconv.ParseFloat(cell, 32)
			if err != nil {
				return errors.Wrapf(err, "failed to parse row=%d, col=%d: %q", numRows, col, cell)
			}
			flat = append(flat, float32(v))
		}
		numRows++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if numRows != numNodes {
		return nil, errors.Errorf("found %d rows in %q, was expecting %d", numRows, filePath, numNodes)
	}
	return tensors.FromFlatDataAndDimensions(flat, numNodes, dim), nil
}

// readLabelsCSV reads the `node-label.csv.gz` file: the first column of each row is the label, and empty or
// NaN values become MissingLabel.
func readLabelsCSV(filePath string, numNodes int) ([]int32, error) {
	labels := make([]int32, 0, numNodes)
	err := downloader.ParseGzipCSVFile(filePath, func(row []string) error {
		if len(row) < 1 {
			return errors.New("empty row")
		}
		labels = append(labels, labelFromFloat(parseFloatOrNaN(row[0])))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(labels) != numNodes {
		return nil, errors.Errorf("found %d labels in %q, was expecting %d", len(labels), filePath, numNodes)
	}
	return labels, nil
}

func parseFloatOrNaN(str string) float64 {
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func labelFromFloat(v float64) int32 {
	if math.IsNaN(v) || v < 0 {
		return MissingLabel
	}
	return int32(v)
}

// readSplitCSV reads "train", "valid" and "test" index files from splitDir.
func readSplitCSV(splitDir string) (splits.Split, error) {
	var split splits.Split
	var err error
	for _, part := range []struct {
		name    string
		indices *[]int32
	}{{"train", &split.Train}, {"valid", &split.Val}, {"test", &split.Test}} {
		*part.indices, err = readIndicesCSV(path.Join(splitDir, part.name+".csv.gz"))
		if err != nil {
			return split, err
		}
	}
	return split, nil
}

// countClasses returns the number of distinct labels, ignoring MissingLabel.
func countClasses(labels []int32) int {
	seen := make(map[int32]struct{})
	for _, l := range labels {
		if l != MissingLabel {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}

// LoadOGB loads ogbn-arxiv or ogbn-products from dataDir (downloading it if needed).
//
// Self-loops are removed, labels and split masks are attached to the graph, and the number of classes is
// the number of distinct labels found.
func LoadOGB(id ID, dataDir string) (*graphdata.Graph, int, error) {
	if id != OGBNArxiv && id != OGBNProducts {
		return nil, 0, errors.Wrapf(ErrUnsupportedDataset, "LoadOGB(%s)", id)
	}
	start := time.Now()
	dir, err := downloadOGB(id, dataDir)
	if err != nil {
		return nil, 0, err
	}
	g, err := readOGBHomogeneous(id, dir)
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "LoadOGB(%s)", id)
	}
	start = Tick(start, "read "+id.String())
	numSelfLoops := g.RemoveSelfLoops()
	klog.V(1).Infof("%s: removed %d self-loops", id, numSelfLoops)
	labels := tensors.MustCopyFlatData[int32](g.NodeData[graphdata.LabelKey])
	numClasses := countClasses(labels)
	klog.Infof("%s: %s, %d classes", id, g, numClasses)
	Tick(start, "prepare "+id.String())
	return g, numClasses, nil
}

// readOGBHomogeneous reads the raw files of a homogeneous OGB dataset extracted in dir: edges, features,
// labels and the split, attached as masks.
func readOGBHomogeneous(id ID, dir string) (*graphdata.Graph, error) {
	rawDir := path.Join(dir, "raw")
	counts, err := readIndicesCSV(path.Join(rawDir, "num-node-list.csv.gz"))
	if err != nil {
		return nil, err
	}
	if len(counts) != 1 {
		return nil, errors.Errorf("expected one node count in num-node-list.csv.gz, got %d", len(counts))
	}
	numNodes := int(counts[0])
	src, dst, err := readEdgesCSV(path.Join(rawDir, "edge.csv.gz"))
	if err != nil {
		return nil, err
	}
	for ii := range src {
		if src[ii] < 0 || int(src[ii]) >= numNodes || dst[ii] < 0 || int(dst[ii]) >= numNodes {
			return nil, errors.Errorf("edge #%d (%d->%d) out of range for %d nodes", ii, src[ii], dst[ii], numNodes)
		}
	}
	g := graphdata.New(numNodes, src, dst)
	feats, err := readFeaturesCSV(path.Join(rawDir, "node-feat.csv.gz"), numNodes)
	if err != nil {
		return nil, err
	}
	g.MustSetNodeData(graphdata.FeatKey, feats)
	labels, err := readLabelsCSV(path.Join(rawDir, "node-label.csv.gz"), numNodes)
	if err != nil {
		return nil, err
	}
	g.MustSetNodeData(graphdata.LabelKey, tensors.FromFlatDataAndDimensions(labels, numNodes))

	split, err := readSplitCSV(path.Join(dir, "split", ogbDatasets[id].splitDir))
	if err != nil {
		return nil, err
	}
	masks, err := splits.MasksFromIndices(numNodes, split)
	if err != nil {
		return nil, err
	}
	if err = masks.Attach(g); err != nil {
		return nil, err
	}
	return g, nil
}
