package graphdata

import (
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// NodeType of a [HeteroGraph]: nodes of a type are numbered `0..Count-1`.
type NodeType struct {
	Name  string
	Count int

	// Data maps a name to a tensor shaped `[Count, ...]`.
	Data map[string]*tensors.Tensor
}

// Relation is a typed edge set of a [HeteroGraph], from nodes of SrcType to nodes of DstType.
type Relation struct {
	Name             string
	SrcType, DstType string
	Src, Dst         []int32
}

// NumEdges of the relation.
func (r *Relation) NumEdges() int { return len(r.Src) }

// HeteroGraph is a graph with typed nodes and typed edges (relations).
//
// Node types and relations are kept in declaration order: this order defines the type ids used by
// [HeteroGraph.ToHomogeneous].
type HeteroGraph struct {
	NodeTypes []*NodeType
	Relations []*Relation

	nodeTypeIdx map[string]int
	relationIdx map[string]int
}

// NewHetero creates an empty HeteroGraph. Use AddNodeType and AddRelation to populate it.
func NewHetero() *HeteroGraph {
	return &HeteroGraph{
		nodeTypeIdx: make(map[string]int),
		relationIdx: make(map[string]int),
	}
}

// AddNodeType adds a node type with count nodes. It panics if the name is already in use.
func (hg *HeteroGraph) AddNodeType(name string, count int) *NodeType {
	if _, found := hg.nodeTypeIdx[name]; found {
		Panicf("node type %q already defined", name)
	}
	if count < 0 {
		Panicf("node type %q: count %d invalid, it must be >= 0", name, count)
	}
	nt := &NodeType{Name: name, Count: count, Data: make(map[string]*tensors.Tensor)}
	hg.nodeTypeIdx[name] = len(hg.NodeTypes)
	hg.NodeTypes = append(hg.NodeTypes, nt)
	return nt
}

// AddRelation adds the relation `srcType -[name]-> dstType` with the given edges.
// Node types must have been added with AddNodeType. It panics on invalid input.
func (hg *HeteroGraph) AddRelation(name, srcType, dstType string, src, dst []int32) *Relation {
	if _, found := hg.relationIdx[name]; found {
		Panicf("relation %q already defined", name)
	}
	srcNT, dstNT := hg.NodeType(srcType), hg.NodeType(dstType)
	if srcNT == nil || dstNT == nil {
		Panicf("relation %q refers to unknown node types (%q, %q)", name, srcType, dstType)
	}
	if len(src) != len(dst) {
		Panicf("relation %q: %d sources given but %d destinations", name, len(src), len(dst))
	}
	for ii := range src {
		if src[ii] < 0 || int(src[ii]) >= srcNT.Count {
			Panicf("relation %q: edge #%d source %d out of range for node type %q with %d nodes",
				name, ii, src[ii], srcType, srcNT.Count)
		}
		if dst[ii] < 0 || int(dst[ii]) >= dstNT.Count {
			Panicf("relation %q: edge #%d destination %d out of range for node type %q with %d nodes",
				name, ii, dst[ii], dstType, dstNT.Count)
		}
	}
	r := &Relation{Name: name, SrcType: srcType, DstType: dstType, Src: src, Dst: dst}
	hg.relationIdx[name] = len(hg.Relations)
	hg.Relations = append(hg.Relations, r)
	return r
}

// NodeType returns the node type with the given name, or nil.
func (hg *HeteroGraph) NodeType(name string) *NodeType {
	idx, found := hg.nodeTypeIdx[name]
	if !found {
		return nil
	}
	return hg.NodeTypes[idx]
}

// NodeTypeID returns the type id (declaration order) of the node type, or -1 if not defined.
func (hg *HeteroGraph) NodeTypeID(name string) int {
	idx, found := hg.nodeTypeIdx[name]
	if !found {
		return -1
	}
	return idx
}

// Relation returns the relation with the given name, or nil.
func (hg *HeteroGraph) Relation(name string) *Relation {
	idx, found := hg.relationIdx[name]
	if !found {
		return nil
	}
	return hg.Relations[idx]
}

// SetNodeData attaches data to the node type. The tensor's first axis must match the type's count.
func (hg *HeteroGraph) SetNodeData(nodeType, name string, t *tensors.Tensor) error {
	nt := hg.NodeType(nodeType)
	if nt == nil {
		return errors.Errorf("unknown node type %q", nodeType)
	}
	if t == nil {
		return errors.Errorf("nil tensor given for node data %q of type %q", name, nodeType)
	}
	dims := t.Shape().Dimensions
	if len(dims) == 0 || dims[0] != nt.Count {
		return errors.Errorf("node data %q for type %q shaped %s doesn't match its %d nodes",
			name, nodeType, t.Shape(), nt.Count)
	}
	nt.Data[name] = t
	return nil
}

// NumNodes across all types.
func (hg *HeteroGraph) NumNodes() int {
	total := 0
	for _, nt := range hg.NodeTypes {
		total += nt.Count
	}
	return total
}

// NumEdges across all relations.
func (hg *HeteroGraph) NumEdges() int {
	total := 0
	for _, r := range hg.Relations {
		total += r.NumEdges()
	}
	return total
}

// String returns a multi-line description of the heterogeneous graph.
func (hg *HeteroGraph) String() string {
	parts := []string{fmt.Sprintf("HeteroGraph: %d node types, %d relations", len(hg.NodeTypes), len(hg.Relations))}
	for _, nt := range hg.NodeTypes {
		parts = append(parts, fmt.Sprintf("\tNodeType %q: %s nodes", nt.Name, humanize.Comma(int64(nt.Count))))
	}
	for _, r := range hg.Relations {
		parts = append(parts, fmt.Sprintf("\tRelation %q: [%q]->[%q], %s edges",
			r.Name, r.SrcType, r.DstType, humanize.Comma(int64(r.NumEdges()))))
	}
	return strings.Join(parts, "\n")
}

// ToHomogeneous flattens the graph into a single-typed [Graph].
//
// Nodes are numbered by concatenating the node types in declaration order. The returned graph has
// [NType] set to the type id of every node and [NID] to its id within its type: callers should use
// those instead of assuming any particular layout.
//
// Each key in nodeDataKeys must be present in every node type; the tensors are concatenated.
// Edges of all relations are included, mapped to the new ids; no reverse edges are added
// (see [Graph.AddReverseEdges]).
func (hg *HeteroGraph) ToHomogeneous(nodeDataKeys ...string) (*Graph, error) {
	offsets := make([]int32, len(hg.NodeTypes))
	numNodes := 0
	for ii, nt := range hg.NodeTypes {
		offsets[ii] = int32(numNodes)
		numNodes += nt.Count
	}

	nodeTypes := make([]int32, 0, numNodes)
	nodeIDs := make([]int32, 0, numNodes)
	for ii, nt := range hg.NodeTypes {
		for id := range nt.Count {
			nodeTypes = append(nodeTypes, int32(ii))
			nodeIDs = append(nodeIDs, int32(id))
		}
	}

	numEdges := hg.NumEdges()
	src := make([]int32, 0, numEdges)
	dst := make([]int32, 0, numEdges)
	for _, r := range hg.Relations {
		srcOffset := offsets[hg.nodeTypeIdx[r.SrcType]]
		dstOffset := offsets[hg.nodeTypeIdx[r.DstType]]
		for ii := range r.Src {
			src = append(src, r.Src[ii]+srcOffset)
			dst = append(dst, r.Dst[ii]+dstOffset)
		}
	}

	g := New(numNodes, src, dst)
	for _, key := range nodeDataKeys {
		parts := make([]*tensors.Tensor, 0, len(hg.NodeTypes))
		for _, nt := range hg.NodeTypes {
			t, found := nt.Data[key]
			if !found {
				return nil, errors.Errorf("ToHomogeneous(): node type %q has no node data %q", nt.Name, key)
			}
			parts = append(parts, t)
		}
		concatenated, err := ConcatRows(parts)
		if err != nil {
			return nil, errors.WithMessagef(err, "ToHomogeneous(): concatenating node data %q", key)
		}
		g.NodeData[key] = concatenated
	}
	g.NodeData[NType] = tensors.FromFlatDataAndDimensions(nodeTypes, numNodes)
	g.NodeData[NID] = tensors.FromFlatDataAndDimensions(nodeIDs, numNodes)
	return g, nil
}

// SetTargetMask sets [TargetMaskKey] to mark the nodes whose [NType] is typeID, and returns the number
// of such nodes.
func SetTargetMask(g *Graph, typeID int) (int, error) {
	typesT, found := g.NodeData[NType]
	if !found {
		return 0, errors.Errorf("graph has no %q node data, was it created with ToHomogeneous() ?", NType)
	}
	types := tensors.MustCopyFlatData[int32](typesT)
	mask := make([]bool, len(types))
	count := 0
	for v, typ := range types {
		if int(typ) == typeID {
			mask[v] = true
			count++
		}
	}
	g.NodeData[TargetMaskKey] = tensors.FromFlatDataAndDimensions(mask, len(mask))
	return count, nil
}

// TypeCount is the length of a run of consecutive nodes of the same type.
type TypeCount struct {
	TypeID int32
	Count  int
}

// TypeCounts returns the runs of consecutive node types (in node order) of a homogenized graph.
func TypeCounts(g *Graph) ([]TypeCount, error) {
	typesT, found := g.NodeData[NType]
	if !found {
		return nil, errors.Errorf("graph has no %q node data", NType)
	}
	var counts []TypeCount
	for _, typ := range tensors.MustCopyFlatData[int32](typesT) {
		if len(counts) > 0 && counts[len(counts)-1].TypeID == typ {
			counts[len(counts)-1].Count++
			continue
		}
		counts = append(counts, TypeCount{TypeID: typ, Count: 1})
	}
	return counts, nil
}
