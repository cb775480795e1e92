package datasets

import (
	"runtime"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/splits"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PrepareData removes the isolated nodes of g, pops its features and labels, and takes the
// train and validation indices from its masks. The test indices are derived as `NOT(train OR val)`:
// every remaining node lands in exactly one split when train and validation masks don't overlap.
//
// The split is computed after the isolated-node removal, so indices refer to the compacted graph.
func PrepareData(g *graphdata.Graph, numClasses int) (*Prepared, error) {
	removed, err := g.RemoveIsolatedNodes()
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		klog.Infof("removed %s isolated nodes", humanize.Comma(int64(len(removed))))
	}
	feats, err := g.PopNodeData(graphdata.FeatKey)
	if err != nil {
		return nil, err
	}
	labels, err := g.PopNodeData(graphdata.LabelKey)
	if err != nil {
		return nil, err
	}
	masks, err := splits.MasksFromGraph(g)
	if err != nil {
		return nil, err
	}
	masks.Test, err = splits.DeriveTestMask(masks.Train, masks.Val)
	if err != nil {
		return nil, err
	}
	p := &Prepared{
		Graph:      g,
		Feats:      feats,
		Labels:     labels,
		NumClasses: numClasses,
		Split:      masks.Indices(),
	}
	klog.Infof("# Train: %d, # Val: %d, # Test: %d", len(p.Train), len(p.Val), len(p.Test))
	return p, nil
}

// Evaluator scores predictions of a dataset.
type Evaluator struct {
	Dataset ID
}

// NewEvaluator returns the evaluator for the named dataset.
func NewEvaluator(name string) (*Evaluator, error) {
	id, err := ParseID(name)
	if err != nil {
		return nil, err
	}
	return &Evaluator{Dataset: id}, nil
}

// Accuracy returns the fraction of predictions equal to the true labels. Nodes whose true label is
// MissingLabel are not counted.
func (e *Evaluator) Accuracy(predictions, labels []int32) (float64, error) {
	if len(predictions) != len(labels) {
		return 0, errors.Errorf("Accuracy(%s): %d predictions for %d labels", e.Dataset, len(predictions), len(labels))
	}
	var correct, total int
	for ii, label := range labels {
		if label == MissingLabel {
			continue
		}
		total++
		if predictions[ii] == label {
			correct++
		}
	}
	if total == 0 {
		return 0, errors.Errorf("Accuracy(%s): no labeled nodes", e.Dataset)
	}
	return float64(correct) / float64(total), nil
}

// AccuracyOf is like Accuracy, for predictions and labels given as tensors, restricted to nodes.
func (e *Evaluator) AccuracyOf(predictions, labels *tensors.Tensor, nodes []int32) (float64, error) {
	allPredictions := tensors.MustCopyFlatData[int32](predictions)
	allLabels := tensors.MustCopyFlatData[int32](labels)
	if len(allPredictions) != len(allLabels) {
		return 0, errors.Errorf("AccuracyOf(%s): %d predictions for %d labels", e.Dataset, len(allPredictions), len(allLabels))
	}
	subPredictions := make([]int32, 0, len(nodes))
	subLabels := make([]int32, 0, len(nodes))
	for _, v := range nodes {
		if v < 0 || int(v) >= len(allLabels) {
			return 0, errors.Errorf("AccuracyOf(%s): node %d out of range", e.Dataset, v)
		}
		subPredictions = append(subPredictions, allPredictions[v])
		subLabels = append(subLabels, allLabels[v])
	}
	return e.Accuracy(subPredictions, subLabels)
}

// MemoryStats is a snapshot of system and Go heap memory.
type MemoryStats struct {
	Total, Free, HeapInUse, Sys uint64
}

// MemorySnapshot logs and returns the current memory usage, prefixed by label.
func MemorySnapshot(label string) MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats := MemoryStats{
		Total:     memory.TotalMemory(),
		Free:      memory.FreeMemory(),
		HeapInUse: ms.HeapInuse,
		Sys:       ms.Sys,
	}
	klog.Infof("%s: system memory total=%s free=%s; Go heap in use=%s, sys=%s", label,
		humanize.IBytes(stats.Total), humanize.IBytes(stats.Free),
		humanize.IBytes(stats.HeapInUse), humanize.IBytes(stats.Sys))
	return stats
}

// Tick logs the time elapsed since start for the step described by label, and returns the current time,
// to be used as the start of the next step.
func Tick(start time.Time, label string) time.Time {
	now := time.Now()
	klog.V(1).Infof("%s: step time %s", label, now.Sub(start))
	return now
}
