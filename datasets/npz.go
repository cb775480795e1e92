package datasets

import (
	"archive/zip"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// readNpzEntries reads only the named arrays of a `.npz` file.
//
// numpy.FromNpzFile reads every array, and fails on the string arrays some of the files carry (e.g.: the
// "format" entry of scipy sparse matrices), hence the selective reading here.
func readNpzEntries(filePath string, names ...string) (map[string]*tensors.Tensor, error) {
	r, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open .npz file %q", filePath)
	}
	defer func() { _ = r.Close() }()
	results := make(map[string]*tensors.Tensor, len(names))
	for _, f := range r.File {
		name, isNpy := strings.CutSuffix(f.Name, ".npy")
		if !isNpy || !slices.Contains(names, name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q within %q", f.Name, filePath)
		}
		t, err := numpy.FromNpyReader(rc)
		_ = rc.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to read %q from %q", f.Name, filePath)
		}
		results[name] = t
	}
	for _, name := range names {
		if _, found := results[name]; !found {
			return nil, errors.Errorf("%q has no array %q", filePath, name)
		}
	}
	return results, nil
}

// toInt32 converts an integer tensor of any size to a flat []int32.
func toInt32(t *tensors.Tensor) ([]int32, error) {
	out := make([]int32, 0, t.Size())
	var err error
	accessErr := t.ConstFlatData(func(flat any) {
		switch values := flat.(type) {
		case []int32:
			out = append(out, values...)
		case []int64:
			for ii, v := range values {
				if v < math.MinInt32 || v > math.MaxInt32 {
					err = errors.Errorf("value %d at position %d of %s doesn't fit in int32", v, ii, t.Shape())
					return
				}
				out = append(out, int32(v))
			}
		case []uint32:
			for ii, v := range values {
				if v > math.MaxInt32 {
					err = errors.Errorf("value %d at position %d of %s doesn't fit in int32", v, ii, t.Shape())
					return
				}
				out = append(out, int32(v))
			}
		case []int16:
			for _, v := range values {
				out = append(out, int32(v))
			}
		case []uint8:
			for _, v := range values {
				out = append(out, int32(v))
			}
		default:
			err = errors.Errorf("can't convert %s to int32", t.Shape())
		}
	})
	if accessErr != nil {
		return nil, accessErr
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// toFloat32 converts a floating point tensor to Float32 with the same dimensions.
func toFloat32(t *tensors.Tensor) (*tensors.Tensor, error) {
	if t.DType() == dtypes.Float32 {
		return t, nil
	}
	out := make([]float32, 0, t.Size())
	var err error
	accessErr := t.ConstFlatData(func(flat any) {
		switch values := flat.(type) {
		case []float16.Float16:
			for _, v := range values {
				out = append(out, v.Float32())
			}
		case []float64:
			for _, v := range values {
				out = append(out, float32(v))
			}
		default:
			err = errors.Errorf("can't convert %s to float32", t.Shape())
		}
	})
	if accessErr != nil {
		return nil, accessErr
	}
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(out, t.Shape().Dimensions...), nil
}

// labelsFromTensor converts a tensor of labels, possibly float with NaN for missing values, to []int32
// with MissingLabel where missing.
func labelsFromTensor(t *tensors.Tensor) ([]int32, error) {
	out := make([]int32, 0, t.Size())
	var err error
	accessErr := t.ConstFlatData(func(flat any) {
		switch values := flat.(type) {
		case []float32:
			for _, v := range values {
				out = append(out, labelFromFloat(float64(v)))
			}
		case []float64:
			for _, v := range values {
				out = append(out, labelFromFloat(v))
			}
		default:
			err = errors.Errorf("unsupported labels tensor %s", t.Shape())
		}
	})
	if accessErr != nil {
		return nil, accessErr
	}
	if err != nil {
		if out, err = toInt32(t); err != nil {
			return nil, err
		}
		for ii, l := range out {
			if l < 0 {
				out[ii] = MissingLabel
			}
		}
	}
	return out, nil
}
