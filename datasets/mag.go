package datasets

import (
	"path"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/graphbench/nodeprep/downloader"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/propagate"
	"github.com/graphbench/nodeprep/splits"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MAG node types, in the order they are concatenated when homogenizing. Papers are the target type.
const (
	MAGAuthor       = "author"
	MAGFieldOfStudy = "field_of_study"
	MAGInstitution  = "institution"
	MAGPaper        = "paper"
)

var magNodeTypes = []string{MAGAuthor, MAGFieldOfStudy, MAGInstitution, MAGPaper}

// magRelation is one of the MAG edge files.
type magRelation struct {
	srcType, name, dstType string
}

func (r magRelation) dirName() string {
	return strings.Join([]string{r.srcType, r.name, r.dstType}, "___")
}

var magRelations = []magRelation{
	{MAGAuthor, "affiliated_with", MAGInstitution},
	{MAGAuthor, "writes", MAGPaper},
	{MAGPaper, "cites", MAGPaper},
	{MAGPaper, "has_topic", MAGFieldOfStudy},
}

// MAGImputation featurizes the MAG node types without features: authors from the papers they wrote,
// fields of study from their papers, and institutions from their (already featurized) authors.
var MAGImputation = []propagate.ImputationStep{
	{Relation: "writes", Reverse: true},
	{Relation: "has_topic"},
	{Relation: "affiliated_with"},
}

// ReadMAG reads the extracted ogbn-mag directory into a heterogeneous graph, with the paper features, and
// returns the paper labels and the paper split.
func ReadMAG(dir string) (hg *graphdata.HeteroGraph, labels []int32, split splits.Split, err error) {
	rawDir := path.Join(dir, "raw")
	counts, err := readNodeCountDict(path.Join(rawDir, "num-node-dict.csv.gz"))
	if err != nil {
		return
	}
	hg = graphdata.NewHetero()
	for _, name := range magNodeTypes {
		count, found := counts[name]
		if !found {
			err = errors.Errorf("num-node-dict.csv.gz has no count for node type %q", name)
			return
		}
		hg.AddNodeType(name, count)
	}
	for _, r := range magRelations {
		var src, dst []int32
		src, dst, err = readEdgesCSV(path.Join(rawDir, "relations", r.dirName(), "edge.csv.gz"))
		if err != nil {
			return
		}
		if err = checkEdgeRange(src, counts[r.srcType], dst, counts[r.dstType]); err != nil {
			err = errors.WithMessagef(err, "relation %s", r.dirName())
			return
		}
		hg.AddRelation(r.name, r.srcType, r.dstType, src, dst)
	}

	numPapers := counts[MAGPaper]
	var feats *tensors.Tensor
	feats, err = readFeaturesCSV(path.Join(rawDir, "node-feat", MAGPaper, "node-feat.csv.gz"), numPapers)
	if err != nil {
		return
	}
	if err = hg.SetNodeData(MAGPaper, graphdata.FeatKey, feats); err != nil {
		return
	}
	labels, err = readLabelsCSV(path.Join(rawDir, "node-label", MAGPaper, "node-label.csv.gz"), numPapers)
	if err != nil {
		return
	}
	split, err = readSplitCSV(path.Join(dir, "split", ogbDatasets[OGBNMag].splitDir, MAGPaper))
	return
}

// readNodeCountDict reads `num-node-dict.csv.gz`: a header row with the node type names, and a row with their counts.
func readNodeCountDict(filePath string) (map[string]int, error) {
	var rows [][]string
	err := downloader.ParseGzipCSVFile(filePath, func(row []string) error {
		rows = append(rows, append([]string(nil), row...))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(rows) != 2 || len(rows[0]) != len(rows[1]) {
		return nil, errors.Errorf("%q should have a header and one row of counts of the same length", filePath)
	}
	counts := make(map[string]int, len(rows[0]))
	for ii, name := range rows[0] {
		count, err := parseInt32(rows[1][ii])
		if err != nil {
			return nil, errors.WithMessagef(err, "count of node type %q in %q", name, filePath)
		}
		counts[name] = int(count)
	}
	return counts, nil
}

func checkEdgeRange(src []int32, numSrc int, dst []int32, numDst int) error {
	for ii := range src {
		if src[ii] < 0 || int(src[ii]) >= numSrc || dst[ii] < 0 || int(dst[ii]) >= numDst {
			return errors.Errorf("edge #%d (%d->%d) out of range for %d source and %d destination nodes",
				ii, src[ii], dst[ii], numSrc, numDst)
		}
	}
	return nil
}

// ConvertMAGToHomogeneous featurizes the MAG node types without features (see MAGImputation) and converts
// the graph to a homogeneous one with reverse edges, and with [graphdata.TargetMaskKey] set for papers.
func ConvertMAGToHomogeneous(agg propagate.Aggregator, hg *graphdata.HeteroGraph) (*graphdata.Graph, error) {
	if err := propagate.ImputeFeatures(agg, hg, MAGImputation); err != nil {
		return nil, err
	}
	targetTypeID := hg.NodeTypeID(MAGPaper)
	klog.V(1).Infof("target type id: %d", targetTypeID)
	g, err := hg.ToHomogeneous(graphdata.FeatKey)
	if err != nil {
		return nil, err
	}
	g.AddReverseEdges()
	if _, err = graphdata.SetTargetMask(g, targetTypeID); err != nil {
		return nil, err
	}
	counts, err := graphdata.TypeCounts(g)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("node type counts: %v", counts)
	return g, nil
}

// PrepareMAG runs the ogbn-mag pipeline on an already read heterogeneous graph: imputation, homogenization,
// numHops of neighbor averaging restricted to papers, and the paper subgraph. The graph returned has no
// features: they are returned in Prepared.Feats (hop 0) and Prepared.HopFeats.
func PrepareMAG(agg propagate.Aggregator, hg *graphdata.HeteroGraph, labels []int32, split splits.Split,
	numHops int) (*Prepared, error) {
	homo, err := ConvertMAGToHomogeneous(agg, hg)
	if err != nil {
		return nil, err
	}
	klog.Infof("# total Nodes: %s, # total Edges: %s, # paper Labels: %d, # paper Train: %d, # paper Val: %d, "+
		"# paper Test: %d, # paper Classes: %d",
		humanize.Comma(int64(homo.NumNodes)), humanize.Comma(int64(homo.NumEdges())), len(labels),
		len(split.Train), len(split.Val), len(split.Test), ogbDatasets[OGBNMag].numClasses)

	hopFeats, err := propagate.NeighborAverageFeatures(agg, homo, numHops)
	if err != nil {
		return nil, err
	}
	hopFeats, _, err = propagate.RestrictToTarget(homo, hopFeats)
	if err != nil {
		return nil, err
	}
	targetMask, err := splits.MaskFromTensor(homo.NodeData[graphdata.TargetMaskKey])
	if err != nil {
		return nil, err
	}
	g, err := homo.NodeSubgraph(targetMask)
	if err != nil {
		return nil, err
	}
	if _, err = g.PopNodeData(graphdata.FeatKey); err != nil {
		return nil, err
	}
	if len(labels) != g.NumNodes {
		return nil, errors.Errorf("PrepareMAG(): %d labels for %d papers", len(labels), g.NumNodes)
	}
	return &Prepared{
		Dataset:    OGBNMag,
		Graph:      g,
		Feats:      hopFeats[0],
		HopFeats:   hopFeats,
		Labels:     tensors.FromFlatDataAndDimensions(labels, len(labels)),
		NumClasses: ogbDatasets[OGBNMag].numClasses,
		Split:      split,
	}, nil
}

// LoadOGBNMag downloads (if needed) and reads ogbn-mag from opts.DataDir, and prepares it with PrepareMAG
// using opts.NumHops.
func LoadOGBNMag(opts Options) (*Prepared, error) {
	start := time.Now()
	dir, err := downloadOGB(OGBNMag, opts.DataDir)
	if err != nil {
		return nil, err
	}
	hg, labels, split, err := ReadMAG(dir)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %s", OGBNMag)
	}
	start = Tick(start, "read "+OGBNMag.String())
	klog.Infof("%s", hg)
	p, err := PrepareMAG(opts.aggregator(), hg, labels, split, opts.NumHops)
	if err != nil {
		return nil, errors.WithMessagef(err, "preparing %s", OGBNMag)
	}
	Tick(start, "prepare "+OGBNMag.String())
	return p, nil
}
