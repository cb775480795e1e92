// Package datasets loads the node-classification benchmarks and runs the preprocessing pipelines that turn
// them into a [Prepared] result: graph, features, labels, number of classes and split indices.
//
// Each dataset has an [ID] and a [LoaderFn] registered in [Loaders]. Loaders never read the environment:
// the locations of the downloaded data and of the cache are given in [Options].
package datasets

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/propagate"
	"github.com/graphbench/nodeprep/splits"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ID identifies one of the supported datasets.
type ID int

const (
	Karate ID = iota
	Cora
	Reddit
	OGBNArxiv
	OGBNProducts
	OGBNMag
	OGBNPapers100M
	numIDs
)

var idNames = [numIDs]string{
	Karate:         "karate",
	Cora:           "cora",
	Reddit:         "reddit",
	OGBNArxiv:      "ogbn-arxiv",
	OGBNProducts:   "ogbn-products",
	OGBNMag:        "ogbn-mag",
	OGBNPapers100M: "ogbn-papers100M",
}

// String returns the dataset name, as accepted by ParseID.
func (id ID) String() string {
	if id < 0 || id >= numIDs {
		return fmt.Sprintf("ID(%d)", int(id))
	}
	return idNames[id]
}

// ErrUnsupportedDataset is returned (wrapped, with the offending name) for unknown dataset names.
var ErrUnsupportedDataset = errors.New("dataset is not supported")

// ParseID converts a dataset name to its ID. Names are case-sensitive, as in "ogbn-papers100M".
func ParseID(name string) (ID, error) {
	for id, idName := range idNames {
		if name == idName {
			return ID(id), nil
		}
	}
	return 0, errors.Wrapf(ErrUnsupportedDataset, "dataset %q (supported: %s)", name, strings.Join(Names(), ", "))
}

// IDs returns all supported datasets.
func IDs() []ID {
	ids := make([]ID, numIDs)
	for ii := range ids {
		ids[ii] = ID(ii)
	}
	return ids
}

// Names returns the names of all supported datasets.
func Names() []string {
	return slices.Clone(idNames[:])
}

// MissingLabel marks nodes without a label.
const MissingLabel int32 = -1

// Options configure the loaders.
type Options struct {
	// DataDir is where raw datasets are downloaded to and extracted. A leading "~" is expanded.
	DataDir string

	// CacheDir is where preprocessed graphs are saved (see PreprocessPapers100M).
	CacheDir string

	// NumHops is the number of hops R of neighbor averaging, used by ogbn-mag.
	NumHops int

	// Aggregator runs the message passing. If nil, propagate.ReferenceAggregator is used.
	Aggregator propagate.Aggregator
}

func (opts *Options) aggregator() propagate.Aggregator {
	if opts.Aggregator == nil {
		return propagate.ReferenceAggregator{}
	}
	return opts.Aggregator
}

// Prepared is the result handed to a training loop.
type Prepared struct {
	Dataset ID

	// Graph after preprocessing. Features and labels have been popped from its node data.
	Graph *graphdata.Graph

	// Feats are the node features, shaped `Float32[num_nodes, in_feats]`.
	Feats *tensors.Tensor

	// HopFeats holds the neighbor-averaged features of hops 0 to R, for the pipelines that compute them.
	// HopFeats[0] is Feats.
	HopFeats []*tensors.Tensor

	// Labels shaped `Int32[num_nodes]`, with MissingLabel for nodes without label.
	Labels *tensors.Tensor

	NumClasses int
	splits.Split
}

// InFeats returns the feature dimension.
func (p *Prepared) InFeats() int {
	if p.Feats == nil || p.Feats.Rank() < 2 {
		return 0
	}
	return p.Feats.Shape().Dimensions[1]
}

// String implements fmt.Stringer.
func (p *Prepared) String() string {
	return fmt.Sprintf("%s: %s, %d in-feats, %d classes, train/val/test=%d/%d/%d",
		p.Dataset, p.Graph, p.InFeats(), p.NumClasses, len(p.Train), len(p.Val), len(p.Test))
}

// LoaderFn loads and prepares one dataset.
type LoaderFn func(opts Options) (*Prepared, error)

// Loaders maps every ID to its pipeline.
var Loaders = map[ID]LoaderFn{
	Karate: func(Options) (*Prepared, error) {
		g, numClasses := LoadKarate()
		return prepareWithID(Karate, g, numClasses)
	},
	Cora: func(opts Options) (*Prepared, error) {
		g, numClasses, err := LoadCora(opts.DataDir)
		if err != nil {
			return nil, err
		}
		return prepareWithID(Cora, g, numClasses)
	},
	Reddit: func(opts Options) (*Prepared, error) {
		g, numClasses, err := LoadReddit(opts.DataDir)
		if err != nil {
			return nil, err
		}
		return prepareWithID(Reddit, g, numClasses)
	},
	OGBNArxiv: func(opts Options) (*Prepared, error) {
		g, numClasses, err := LoadOGB(OGBNArxiv, opts.DataDir)
		if err != nil {
			return nil, err
		}
		return prepareWithID(OGBNArxiv, g, numClasses)
	},
	OGBNProducts: func(opts Options) (*Prepared, error) {
		g, numClasses, err := LoadOGB(OGBNProducts, opts.DataDir)
		if err != nil {
			return nil, err
		}
		return prepareWithID(OGBNProducts, g, numClasses)
	},
	OGBNMag:        LoadOGBNMag,
	OGBNPapers100M: PreparePapers100M,
}

func init() {
	for _, id := range IDs() {
		if Loaders[id] == nil {
			klog.Fatalf("datasets: no loader registered for %s", id)
		}
	}
}

// Load runs the pipeline registered for id.
func Load(id ID, opts Options) (*Prepared, error) {
	loader, found := Loaders[id]
	if !found {
		return nil, errors.Wrapf(ErrUnsupportedDataset, "dataset %s", id)
	}
	return loader(opts)
}

func prepareWithID(id ID, g *graphdata.Graph, numClasses int) (*Prepared, error) {
	p, err := PrepareData(g, numClasses)
	if err != nil {
		return nil, errors.WithMessagef(err, "preparing %s", id)
	}
	p.Dataset = id
	return p, nil
}
