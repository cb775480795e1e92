package propagate

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImputationStep fills in the features of one node type of a [graphdata.HeteroGraph] with the mean of its
// neighbors' features along Relation.
//
// If Reverse is false, features flow from the relation's source type to its destination type; if true,
// from the destination type to the source type (the relation's edges are followed backwards).
type ImputationStep struct {
	Relation string
	Reverse  bool
}

// String implements fmt.Stringer.
func (step ImputationStep) String() string {
	if step.Reverse {
		return fmt.Sprintf("reverse(%s)", step.Relation)
	}
	return step.Relation
}

// ImputeFeatures runs the steps in order, setting [graphdata.FeatKey] of each step's receiving node type.
// Since steps run in order, a node type featurized in one step can feed the next one.
//
// The source node type of every step must already have features. Receiving nodes without any neighbor
// through the relation get zero features.
func ImputeFeatures(agg Aggregator, hg *graphdata.HeteroGraph, steps []ImputationStep) error {
	for _, step := range steps {
		r := hg.Relation(step.Relation)
		if r == nil {
			return errors.Errorf("ImputeFeatures(): unknown relation %q", step.Relation)
		}
		fromType, toType := r.SrcType, r.DstType
		src, dst := r.Src, r.Dst
		if step.Reverse {
			fromType, toType = toType, fromType
			src, dst = dst, src
		}
		features, found := hg.NodeType(fromType).Data[graphdata.FeatKey]
		if !found {
			return errors.Errorf("ImputeFeatures(): step %s requires features for node type %q, but it has none",
				step, fromType)
		}
		numTo := hg.NodeType(toType).Count
		averaged, err := agg.MeanAggregate(features, src, dst, numTo)
		if err != nil {
			return errors.WithMessagef(err, "ImputeFeatures(): step %s (%q -> %q)", step, fromType, toType)
		}
		if err = hg.SetNodeData(toType, graphdata.FeatKey, averaged); err != nil {
			return err
		}
		klog.V(1).Infof("imputed features of %q (%d nodes) from %q via %s", toType, numTo, fromType, step)
	}
	return nil
}

// NeighborAverageFeatures computes multi-hop neighbor-averaged features of g:
// it returns `[F_0, F_1, ..., F_R]` where `F_0` is the [graphdata.FeatKey] node data and
// `F_h[v]` is the mean of `F_{h-1}[u]` over the edges `u->v` of g (zero for nodes without incoming edges).
//
// The graph is not modified.
func NeighborAverageFeatures(agg Aggregator, g *graphdata.Graph, numHops int) ([]*tensors.Tensor, error) {
	if numHops < 0 {
		return nil, errors.Errorf("NeighborAverageFeatures(): number of hops must be >= 0, got %d", numHops)
	}
	features, found := g.NodeData[graphdata.FeatKey]
	if !found {
		return nil, errors.Errorf("NeighborAverageFeatures(): graph has no %q node data", graphdata.FeatKey)
	}
	klog.Infof("Compute neighbor-averaged feats (%d hops)", numHops)
	results := make([]*tensors.Tensor, 0, numHops+1)
	results = append(results, features)
	for hop := 1; hop <= numHops; hop++ {
		next, err := agg.MeanAggregate(results[hop-1], g.Src, g.Dst, g.NumNodes)
		if err != nil {
			return nil, errors.WithMessagef(err, "NeighborAverageFeatures(): hop %d", hop)
		}
		results = append(results, next)
	}
	return results, nil
}

// ReindexReport describes what [RestrictToTarget] did.
type ReindexReport struct {
	// NumTarget is the number of rows of each output: the number of nodes in the target mask.
	NumTarget int

	// NumOutOfRange is the number of target nodes whose original id was outside `[0, NumTarget)`: their
	// features were dropped, and the corresponding output rows (if any) left as zeros.
	NumOutOfRange int

	// NumUnfilled is the number of output rows no target node was placed at, either because of ids out
	// of range or because several target nodes share an id. These rows are zeros.
	NumUnfilled int
}

// RestrictToTarget keeps only the rows of the target nodes ([graphdata.TargetMaskKey]) of each feature
// tensor, placing the row of node v at position `_ID[v]` ([graphdata.NID]), so the output follows the
// target type's own node ordering.
//
// Output rows not written (because some original id was out of range or repeated) stay zero: this is
// reported in the returned ReindexReport and logged as a warning, but it's not an error. If an id is
// repeated, the last target node with that id wins.
func RestrictToTarget(g *graphdata.Graph, feats []*tensors.Tensor) ([]*tensors.Tensor, ReindexReport, error) {
	var report ReindexReport
	maskT, found := g.NodeData[graphdata.TargetMaskKey]
	if !found {
		return nil, report, errors.Errorf("RestrictToTarget(): graph has no %q node data", graphdata.TargetMaskKey)
	}
	idsT, found := g.NodeData[graphdata.NID]
	if !found {
		return nil, report, errors.Errorf("RestrictToTarget(): graph has no %q node data", graphdata.NID)
	}
	mask := tensors.MustCopyFlatData[bool](maskT)
	ids := tensors.MustCopyFlatData[int32](idsT)
	if len(mask) != len(ids) {
		return nil, report, errors.Errorf("RestrictToTarget(): %d mask entries but %d ids", len(mask), len(ids))
	}

	for _, isTarget := range mask {
		if isTarget {
			report.NumTarget++
		}
	}
	var validNodes, validIDs []int32
	filled := make([]bool, report.NumTarget)
	for v, isTarget := range mask {
		if !isTarget {
			continue
		}
		if ids[v] < 0 || int(ids[v]) >= report.NumTarget {
			report.NumOutOfRange++
			continue
		}
		validNodes = append(validNodes, int32(v))
		validIDs = append(validIDs, ids[v])
		filled[ids[v]] = true
	}
	for _, isFilled := range filled {
		if !isFilled {
			report.NumUnfilled++
		}
	}
	if report.NumOutOfRange > 0 {
		klog.Warningf("RestrictToTarget(): %d of %d target nodes have an original id outside [0, %d)",
			report.NumOutOfRange, report.NumTarget, report.NumTarget)
	}
	if report.NumUnfilled > 0 {
		klog.Warningf("RestrictToTarget(): %d of %d output rows have no target node, they are zero-filled",
			report.NumUnfilled, report.NumTarget)
	}

	results := make([]*tensors.Tensor, 0, len(feats))
	for hop, x := range feats {
		if x.Rank() != 2 || x.Shape().Dimensions[0] != len(mask) {
			return nil, report, errors.Errorf("RestrictToTarget(): features #%d shaped %s don't match the graph's %d nodes",
				hop, x.Shape(), len(mask))
		}
		featDim := x.Shape().Dimensions[1]
		out := make([]float32, report.NumTarget*featDim)
		err := tensors.ConstFlatData[float32](x, func(flat []float32) {
			for ii, v := range validNodes {
				copy(out[int(validIDs[ii])*featDim:(int(validIDs[ii])+1)*featDim], flat[int(v)*featDim:(int(v)+1)*featDim])
			}
		})
		if err != nil {
			return nil, report, errors.WithMessagef(err, "RestrictToTarget(): features #%d", hop)
		}
		results = append(results, tensors.FromFlatDataAndDimensions(out, report.NumTarget, featDim))
	}
	return results, report, nil
}
