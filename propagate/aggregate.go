// Package propagate implements the neighbor-averaging steps of the preprocessing: filling in features of
// featureless node types, and multi-hop neighbor-averaged features.
//
// The aggregation itself ("copy source features onto edges, then mean at the destination") is done by an
// [Aggregator]. [BackendAggregator] builds it as a GoMLX computation (Gather + Scatter + degree
// normalization) and runs it on a GoMLX backend; [ReferenceAggregator] does it in plain Go, and is meant for
// small graphs and for testing.
package propagate

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Aggregator computes, for every destination node v, the mean of the features of the source nodes u of
// the edges u->v.
//
// features is shaped `Float32[numSrc, d]` and the result `Float32[numDst, d]`. Destination nodes without
// incoming edges get zeros.
type Aggregator interface {
	MeanAggregate(features *tensors.Tensor, src, dst []int32, numDst int) (*tensors.Tensor, error)
}

// BackendAggregator runs the aggregation as a GoMLX computation graph on the given backend.
type BackendAggregator struct {
	backend backends.Backend
}

// NewBackendAggregator creates an Aggregator that executes on backend.
func NewBackendAggregator(backend backends.Backend) *BackendAggregator {
	return &BackendAggregator{backend: backend}
}

// MeanAggregate implements Aggregator.
func (a *BackendAggregator) MeanAggregate(features *tensors.Tensor, src, dst []int32, numDst int) (*tensors.Tensor, error) {
	numSrc, featDim, err := checkAggregationInputs(features, src, dst, numDst)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 || featDim == 0 || numSrc == 0 {
		return zeroFeatures(numDst, featDim), nil
	}

	sources := tensors.FromFlatDataAndDimensions(src, len(src), 1)
	targets := tensors.FromFlatDataAndDimensions(dst, len(dst), 1)
	var (
		result  *tensors.Tensor
		execErr error
	)
	err = exceptions.TryCatch[error](func() {
		result, execErr = ExecOnce(a.backend, func(features, sources, targets *Node) *Node {
			return meanAggregationGraph(features, sources, targets, numDst)
		}, features, sources, targets)
	})
	if err == nil {
		err = execErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to aggregate %d edges into %d nodes", len(src), numDst)
	}
	return result, nil
}

// meanAggregationGraph gathers the source features per edge, sums them at the edge targets and divides
// by the number of incoming edges.
//
//   - features: `[numSrc, d]`
//   - sources, targets: `[numEdges, 1]`
//
// It returns `[numDst, d]`; targets without incoming edges are 0.
func meanAggregationGraph(features, sources, targets *Node, numDst int) *Node {
	g := features.Graph()
	dtype := features.DType()
	featDim := features.Shape().Dimensions[1]
	numEdges := sources.Shape().Dimensions[0]
	messages := Gather(features, sources)
	pooled := Scatter(targets, messages, shapes.Make(dtype, numDst, featDim), false, false)
	ones := Ones(g, shapes.Make(dtype, numEdges, 1))
	count := Scatter(targets, ones, shapes.Make(dtype, numDst, 1), false, false)
	count = MaxScalar(count, 1) // Avoid division by 0.
	return Div(pooled, count)
}

// ReferenceAggregator does the aggregation in Go, one edge at a time.
type ReferenceAggregator struct{}

// MeanAggregate implements Aggregator.
func (ReferenceAggregator) MeanAggregate(features *tensors.Tensor, src, dst []int32, numDst int) (*tensors.Tensor, error) {
	_, featDim, err := checkAggregationInputs(features, src, dst, numDst)
	if err != nil {
		return nil, err
	}
	sums := make([]float32, numDst*featDim)
	err = tensors.ConstFlatData[float32](features, func(flat []float32) {
		for ii, u := range src {
			row := flat[int(u)*featDim : (int(u)+1)*featDim]
			out := sums[int(dst[ii])*featDim : (int(dst[ii])+1)*featDim]
			for jj, value := range row {
				out[jj] += value
			}
		}
	})
	if err != nil {
		return nil, err
	}
	for v, inv := range inverseInDegrees(dst, numDst) {
		out := sums[v*featDim : (v+1)*featDim]
		for jj := range out {
			out[jj] *= inv
		}
	}
	return tensors.FromFlatDataAndDimensions(sums, numDst, featDim), nil
}

func checkAggregationInputs(features *tensors.Tensor, src, dst []int32, numDst int) (numSrc, featDim int, err error) {
	if features == nil {
		return 0, 0, errors.New("nil features given for aggregation")
	}
	if features.Rank() != 2 || features.DType() != dtypes.Float32 {
		return 0, 0, errors.Errorf("features must be shaped Float32[num_nodes, dim], got %s", features.Shape())
	}
	if len(src) != len(dst) {
		return 0, 0, errors.Errorf("%d edge sources given, but %d destinations", len(src), len(dst))
	}
	numSrc, featDim = features.Shape().Dimensions[0], features.Shape().Dimensions[1]
	for ii := range src {
		if src[ii] < 0 || int(src[ii]) >= numSrc {
			return 0, 0, errors.Errorf("edge #%d source %d out of range for %d source nodes", ii, src[ii], numSrc)
		}
		if dst[ii] < 0 || int(dst[ii]) >= numDst {
			return 0, 0, errors.Errorf("edge #%d destination %d out of range for %d destination nodes", ii, dst[ii], numDst)
		}
	}
	return numSrc, featDim, nil
}

// inverseInDegrees returns 1/in-degree per destination node, and 0 where the in-degree is 0.
func inverseInDegrees(dst []int32, numDst int) []float32 {
	counts := make([]float32, numDst)
	for _, v := range dst {
		counts[v]++
	}
	for v, c := range counts {
		if c > 0 {
			counts[v] = 1 / c
		}
	}
	return counts
}

func zeroFeatures(numNodes, featDim int) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(make([]float32, numNodes*featDim), numNodes, featDim)
}
