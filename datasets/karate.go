package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/graphbench/nodeprep/graphdata"
	"github.com/graphbench/nodeprep/splits"
	"k8s.io/klog/v2"
)

const (
	karateNumNodes   = 34
	karateFeatDim    = 4
	karateNumClasses = 2
	karateNumTrain   = 24
	karateNumVal     = 5
)

// karateEdges lists each undirected friendship of Zachary's karate club once, as (smaller, larger) node ids.
var karateEdges = [][2]int32{
	{0, 1}, {0, 2}, {0, 3}, {0, 4}, {0, 5}, {0, 6}, {0, 7}, {0, 8}, {0, 10}, {0, 11}, {0, 12}, {0, 13},
	{0, 17}, {0, 19}, {0, 21}, {0, 31},
	{1, 2}, {1, 3}, {1, 7}, {1, 13}, {1, 17}, {1, 19}, {1, 21}, {1, 30},
	{2, 3}, {2, 7}, {2, 8}, {2, 9}, {2, 13}, {2, 27}, {2, 28}, {2, 32},
	{3, 7}, {3, 12}, {3, 13},
	{4, 6}, {4, 10},
	{5, 6}, {5, 10}, {5, 16},
	{6, 16},
	{8, 30}, {8, 32}, {8, 33},
	{9, 33},
	{13, 33},
	{14, 32}, {14, 33},
	{15, 32}, {15, 33},
	{18, 32}, {18, 33},
	{19, 33},
	{20, 32}, {20, 33},
	{22, 32}, {22, 33},
	{23, 25}, {23, 27}, {23, 29}, {23, 32}, {23, 33},
	{24, 25}, {24, 27}, {24, 31},
	{25, 31},
	{26, 29}, {26, 33},
	{27, 33},
	{28, 31}, {28, 33},
	{29, 32}, {29, 33},
	{30, 32}, {30, 33},
	{31, 32}, {31, 33},
	{32, 33},
}

// karateMrHi lists the members that stayed with the instructor ("Mr. Hi"): class 0. Everyone else
// followed the club officer: class 1.
var karateMrHi = []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 12, 13, 16, 17, 19, 21}

// LoadKarate returns Zachary's karate club graph and its number of classes (2).
//
// Each friendship is stored as two directed edges. Node v has features `[v, v, v, v]`, the label is the club
// the member joined after the split, and the first 24 nodes are for training, the next 5 for validation and
// the last 5 for testing.
func LoadKarate() (*graphdata.Graph, int) {
	src := make([]int32, 0, 2*len(karateEdges))
	dst := make([]int32, 0, 2*len(karateEdges))
	for _, e := range karateEdges {
		src = append(src, e[0])
		dst = append(dst, e[1])
	}
	for _, e := range karateEdges {
		src = append(src, e[1])
		dst = append(dst, e[0])
	}
	g := graphdata.New(karateNumNodes, src, dst)

	feat := make([]float32, 0, karateNumNodes*karateFeatDim)
	for v := range karateNumNodes {
		for range karateFeatDim {
			feat = append(feat, float32(v))
		}
	}
	g.MustSetNodeData(graphdata.FeatKey, tensors.FromFlatDataAndDimensions(feat, karateNumNodes, karateFeatDim))

	labels := make([]int32, karateNumNodes)
	for v := range labels {
		labels[v] = 1
	}
	for _, v := range karateMrHi {
		labels[v] = 0
	}
	g.MustSetNodeData(graphdata.LabelKey, tensors.FromFlatDataAndDimensions(labels, karateNumNodes))

	var masks splits.Masks
	masks.Train = make([]bool, karateNumNodes)
	masks.Val = make([]bool, karateNumNodes)
	masks.Test = make([]bool, karateNumNodes)
	for v := range karateNumNodes {
		switch {
		case v < karateNumTrain:
			masks.Train[v] = true
		case v < karateNumTrain+karateNumVal:
			masks.Val[v] = true
		default:
			masks.Test[v] = true
		}
	}
	if err := masks.Attach(g); err != nil {
		panic(err)
	}
	klog.Infof("karate data: %s", g)
	return g, karateNumClasses
}
