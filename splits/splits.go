// Package splits converts between the index-list and boolean-mask representations of train/validation/test
// splits, and builds the graphs of an inductive split.
package splits

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/pkg/errors"
)

// Split holds the node indices of each partition.
type Split struct {
	Train, Val, Test []int32
}

// Masks holds one boolean mask per partition, aligned to the node ordering of a graph.
type Masks struct {
	Train, Val, Test []bool
}

// Sizes returns the number of true entries of each mask.
func (m Masks) Sizes() (train, val, test int) {
	return countTrue(m.Train), countTrue(m.Val), countTrue(m.Test)
}

// MasksFromIndices builds the masks of a graph with numNodes nodes, true exactly at the given indices.
//
// Disjointness of the index lists is not checked. An index out of `[0, numNodes)` is an error.
func MasksFromIndices(numNodes int, split Split) (Masks, error) {
	var masks Masks
	var err error
	if masks.Train, err = maskFromIndices(numNodes, split.Train); err != nil {
		return Masks{}, errors.WithMessage(err, "train split")
	}
	if masks.Val, err = maskFromIndices(numNodes, split.Val); err != nil {
		return Masks{}, errors.WithMessage(err, "validation split")
	}
	if masks.Test, err = maskFromIndices(numNodes, split.Test); err != nil {
		return Masks{}, errors.WithMessage(err, "test split")
	}
	return masks, nil
}

func maskFromIndices(numNodes int, indices []int32) ([]bool, error) {
	mask := make([]bool, numNodes)
	for _, idx := range indices {
		if idx < 0 || int(idx) >= numNodes {
			return nil, errors.Errorf("index %d out of range for %d nodes", idx, numNodes)
		}
		mask[idx] = true
	}
	return mask, nil
}

// DeriveTestMask returns `NOT(train OR val)`.
func DeriveTestMask(train, val []bool) ([]bool, error) {
	if len(train) != len(val) {
		return nil, errors.Errorf("DeriveTestMask(): train mask has %d entries, validation mask %d", len(train), len(val))
	}
	test := make([]bool, len(train))
	for ii := range test {
		test[ii] = !(train[ii] || val[ii])
	}
	return test, nil
}

// IndicesFromMask returns the positions where mask is true, in increasing order.
func IndicesFromMask(mask []bool) []int32 {
	indices := make([]int32, 0, countTrue(mask))
	for ii, m := range mask {
		if m {
			indices = append(indices, int32(ii))
		}
	}
	return indices
}

// Indices converts all masks to index lists.
func (m Masks) Indices() Split {
	return Split{
		Train: IndicesFromMask(m.Train),
		Val:   IndicesFromMask(m.Val),
		Test:  IndicesFromMask(m.Test),
	}
}

// Attach sets the masks as the graph's [graphdata.TrainMaskKey], [graphdata.ValMaskKey] and
// [graphdata.TestMaskKey] node data.
func (m Masks) Attach(g *graphdata.Graph) error {
	for _, entry := range []struct {
		key  string
		mask []bool
	}{{graphdata.TrainMaskKey, m.Train}, {graphdata.ValMaskKey, m.Val}, {graphdata.TestMaskKey, m.Test}} {
		if err := g.SetNodeData(entry.key, MaskTensor(entry.mask)); err != nil {
			return err
		}
	}
	return nil
}

// MasksFromGraph reads the train and validation masks of g, and the test mask if present. If the test
// mask is missing it is derived with [DeriveTestMask].
func MasksFromGraph(g *graphdata.Graph) (Masks, error) {
	var masks Masks
	var err error
	if masks.Train, err = maskNodeData(g, graphdata.TrainMaskKey); err != nil {
		return Masks{}, err
	}
	if masks.Val, err = maskNodeData(g, graphdata.ValMaskKey); err != nil {
		return Masks{}, err
	}
	if g.HasNodeData(graphdata.TestMaskKey) {
		masks.Test, err = maskNodeData(g, graphdata.TestMaskKey)
	} else {
		masks.Test, err = DeriveTestMask(masks.Train, masks.Val)
	}
	if err != nil {
		return Masks{}, err
	}
	return masks, nil
}

func maskNodeData(g *graphdata.Graph, key string) ([]bool, error) {
	t, found := g.NodeData[key]
	if !found {
		return nil, errors.Errorf("graph has no %q node data", key)
	}
	mask, err := MaskFromTensor(t)
	if err != nil {
		return nil, errors.WithMessagef(err, "node data %q", key)
	}
	return mask, nil
}

// MaskTensor converts a mask to a `Bool[len(mask)]` tensor.
func MaskTensor(mask []bool) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(mask, len(mask))
}

// MaskFromTensor converts a rank-1 boolean tensor to a mask.
func MaskFromTensor(t *tensors.Tensor) ([]bool, error) {
	if t.Rank() != 1 || t.DType() != dtypes.Bool {
		return nil, errors.Errorf("mask must be shaped Bool[num_nodes], got %s", t.Shape())
	}
	return tensors.MustCopyFlatData[bool](t), nil
}

// Or returns the element-wise OR of the masks, which must have the same length.
func Or(a, b []bool) ([]bool, error) {
	if len(a) != len(b) {
		return nil, errors.Errorf("Or(): masks of different lengths %d and %d", len(a), len(b))
	}
	out := make([]bool, len(a))
	for ii := range out {
		out[ii] = a[ii] || b[ii]
	}
	return out, nil
}

func countTrue(mask []bool) int {
	count := 0
	for _, m := range mask {
		if m {
			count++
		}
	}
	return count
}

// Inductive holds the three graphs of an inductive split.
type Inductive struct {
	// Train is the subgraph induced by the training nodes.
	Train *graphdata.Graph

	// Val is the subgraph induced by the training and validation nodes.
	Val *graphdata.Graph

	// Test is the full graph: the same pointer given to InductiveSplit.
	Test *graphdata.Graph
}

// InductiveSplit builds the training graph (induced by the train mask), the validation graph (induced by
// the train or validation masks) and the test graph (the whole g, not a copy).
//
// The induced subgraphs carry the id of each node in g as [graphdata.NID].
func InductiveSplit(g *graphdata.Graph) (Inductive, error) {
	masks, err := MasksFromGraph(g)
	if err != nil {
		return Inductive{}, errors.WithMessage(err, "InductiveSplit()")
	}
	trainVal, err := Or(masks.Train, masks.Val)
	if err != nil {
		return Inductive{}, errors.WithMessage(err, "InductiveSplit()")
	}
	var result Inductive
	if result.Train, err = g.NodeSubgraph(masks.Train); err != nil {
		return Inductive{}, errors.WithMessage(err, "InductiveSplit(): train graph")
	}
	if result.Val, err = g.NodeSubgraph(trainVal); err != nil {
		return Inductive{}, errors.WithMessage(err, "InductiveSplit(): validation graph")
	}
	result.Test = g
	return result, nil
}
