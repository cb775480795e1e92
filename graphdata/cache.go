package graphdata

import (
	"bufio"
	"encoding/gob"
	"os"
	"path"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// graphHeader is the gob-encoded prefix of a saved graph. Node data tensors follow it, in the order of
// NodeDataNames, each serialized with [tensors.Tensor.GobSerialize].
type graphHeader struct {
	NumNodes      int
	Src, Dst      []int32
	NodeDataNames []string
}

// Save the graph, including its node data, to filePath. The parent directory is created if needed.
func (g *Graph) Save(filePath string) (err error) {
	if err = os.MkdirAll(path.Dir(filePath), 0777); err != nil && !os.IsExist(err) {
		return errors.Wrapf(err, "creating directory to save graph to %q", filePath)
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save Graph", filePath)
	}
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	header := graphHeader{
		NumNodes:      g.NumNodes,
		Src:           g.Src,
		Dst:           g.Dst,
		NodeDataNames: g.NodeDataNames(),
	}
	if err = enc.Encode(&header); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "encoding Graph to save to %q", filePath)
	}
	for _, name := range header.NodeDataNames {
		if err = g.NodeData[name].GobSerialize(enc); err != nil {
			_ = f.Close()
			return errors.WithMessagef(err, "encoding node data %q to save to %q", name, filePath)
		}
	}
	if err = w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "flushing %q, where Graph was saved", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "close file %q, where Graph was saved", filePath)
	}
	return nil
}

// Load a graph previously saved with [Graph.Save].
// If filePath doesn't exist, it returns an error that can be checked with [os.IsNotExist].
func Load(filePath string) (*Graph, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "trying to load Graph from %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(f))
	var header graphHeader
	if err = dec.Decode(&header); err != nil {
		return nil, errors.Wrapf(err, "trying to decode Graph from %q", filePath)
	}
	if len(header.Src) != len(header.Dst) {
		return nil, errors.Errorf("corrupted Graph file %q: %d sources and %d destinations",
			filePath, len(header.Src), len(header.Dst))
	}
	g := &Graph{
		NumNodes: header.NumNodes,
		Src:      header.Src,
		Dst:      header.Dst,
		NodeData: make(map[string]*tensors.Tensor, len(header.NodeDataNames)),
	}
	for _, name := range header.NodeDataNames {
		t, err := tensors.GobDeserialize(dec)
		if err != nil {
			return nil, errors.WithMessagef(err, "decoding node data %q from %q", name, filePath)
		}
		if err = g.SetNodeData(name, t); err != nil {
			return nil, errors.WithMessagef(err, "corrupted Graph file %q", filePath)
		}
	}
	return g, nil
}
