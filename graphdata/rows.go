package graphdata

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// rowSize returns the number of flat elements per node (first axis) of t.
func rowSize(t *tensors.Tensor) int {
	size := 1
	for _, dim := range t.Shape().Dimensions[1:] {
		size *= dim
	}
	return size
}

// TakeRows returns a new tensor with the rows (first axis) of t given by rows, in that order.
func TakeRows(t *tensors.Tensor, rows []int32) (*tensors.Tensor, error) {
	dims := t.Shape().Dimensions
	if len(dims) == 0 {
		return nil, errors.Errorf("TakeRows() requires a tensor with at least one axis, got %s", t.Shape())
	}
	for _, row := range rows {
		if row < 0 || int(row) >= dims[0] {
			return nil, errors.Errorf("TakeRows(): row %d out of range for tensor shaped %s", row, t.Shape())
		}
	}
	newDims := make([]int, len(dims))
	copy(newDims, dims)
	newDims[0] = len(rows)
	size := rowSize(t)

	var result *tensors.Tensor
	err := t.ConstFlatData(func(flat any) {
		switch data := flat.(type) {
		case []float32:
			result = takeRowsOf(data, size, rows, newDims)
		case []float64:
			result = takeRowsOf(data, size, rows, newDims)
		case []int32:
			result = takeRowsOf(data, size, rows, newDims)
		case []int64:
			result = takeRowsOf(data, size, rows, newDims)
		case []int16:
			result = takeRowsOf(data, size, rows, newDims)
		case []uint8:
			result = takeRowsOf(data, size, rows, newDims)
		case []bool:
			result = takeRowsOf(data, size, rows, newDims)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "TakeRows() reading tensor shaped %s", t.Shape())
	}
	if result == nil {
		return nil, errors.Errorf("TakeRows(): dtype %s not supported", t.DType())
	}
	return result, nil
}

func takeRowsOf[T dtypes.Supported](flat []T, rowSize int, rows []int32, dims []int) *tensors.Tensor {
	out := make([]T, len(rows)*rowSize)
	for ii, row := range rows {
		copy(out[ii*rowSize:(ii+1)*rowSize], flat[int(row)*rowSize:(int(row)+1)*rowSize])
	}
	return tensors.FromFlatDataAndDimensions(out, dims...)
}

// ConcatRows concatenates the tensors along the first axis. All other axes and dtypes must match.
func ConcatRows(parts []*tensors.Tensor) (*tensors.Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("ConcatRows() requires at least one tensor")
	}
	first := parts[0]
	dims := first.Shape().Dimensions
	if len(dims) == 0 {
		return nil, errors.Errorf("ConcatRows() requires tensors with at least one axis, got %s", first.Shape())
	}
	newDims := make([]int, len(dims))
	copy(newDims, dims)
	newDims[0] = 0
	for ii, part := range parts {
		partDims := part.Shape().Dimensions
		if part.DType() != first.DType() || len(partDims) != len(dims) {
			return nil, errors.Errorf("ConcatRows(): part #%d shaped %s is incompatible with part #0 shaped %s",
				ii, part.Shape(), first.Shape())
		}
		for axis := 1; axis < len(dims); axis++ {
			if partDims[axis] != dims[axis] {
				return nil, errors.Errorf("ConcatRows(): part #%d shaped %s is incompatible with part #0 shaped %s",
					ii, part.Shape(), first.Shape())
			}
		}
		newDims[0] += partDims[0]
	}

	var (
		result *tensors.Tensor
		err    error
	)
	switch first.DType() {
	case dtypes.Float32:
		result, err = concatRowsOf[float32](parts, newDims)
	case dtypes.Float64:
		result, err = concatRowsOf[float64](parts, newDims)
	case dtypes.Int32:
		result, err = concatRowsOf[int32](parts, newDims)
	case dtypes.Int64:
		result, err = concatRowsOf[int64](parts, newDims)
	case dtypes.Int16:
		result, err = concatRowsOf[int16](parts, newDims)
	case dtypes.Uint8:
		result, err = concatRowsOf[uint8](parts, newDims)
	case dtypes.Bool:
		result, err = concatRowsOf[bool](parts, newDims)
	default:
		return nil, errors.Errorf("ConcatRows(): dtype %s not supported", first.DType())
	}
	return result, err
}

func concatRowsOf[T dtypes.Supported](parts []*tensors.Tensor, dims []int) (*tensors.Tensor, error) {
	out := make([]T, 0, tensorsSize(dims))
	for _, part := range parts {
		err := tensors.ConstFlatData[T](part, func(flat []T) {
			out = append(out, flat...)
		})
		if err != nil {
			return nil, err
		}
	}
	return tensors.FromFlatDataAndDimensions(out, dims...), nil
}

func tensorsSize(dims []int) int {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}
