// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusedmm/pkg/core/dtypes"
	"github.com/gomlx/fusedmm/pkg/core/shapes"
)

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if you provide an invalid shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() || !shape.DType.IsSupported() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	return &Tensor{
		shape: shape.Clone(),
		flat:  flatV.Interface(),
	}
}

// FromScalarAndDimensions creates a local tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
// The `DType` is inferred from the value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	flat := t.flat.([]T)
	for ii := range flat {
		flat[ii] = value
	}
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
// The `DType` is inferred from the `data` type.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	copy(t.flat.([]T), data)
	return t
}

// FromValue returns a rank-2 tensor constructed from the given matrix.
//
// It panics if the matrix is not regular (all rows with the same length).
func FromValue[T dtypes.Supported](value [][]T) *Tensor {
	rows := len(value)
	cols := 0
	if rows > 0 {
		cols = len(value[0])
	}
	flat := make([]T, 0, rows*cols)
	for ii, row := range value {
		if len(row) != cols {
			exceptions.Panicf("tensors.FromValue: row %d has %d elements, but row 0 has %d -- matrix must be regular",
				ii, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return FromFlatDataAndDimensions(flat, rows, cols)
}

// CopyFlatData returns a copy of the flat data of the tensor.
//
// It panics if T doesn't match the tensor's dtype.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	flat, err := Flat[T](t)
	if err != nil {
		panic(err)
	}
	return append([]T(nil), flat...)
}

// ToValue returns a copy of a rank-2 tensor as a matrix.
//
// It panics if T doesn't match the tensor's dtype, or if the tensor is not rank-2.
func ToValue[T dtypes.Supported](t *Tensor) [][]T {
	if t.Rank() != 2 {
		exceptions.Panicf("tensors.ToValue: tensor shape %s is not rank-2", t.shape)
	}
	flat := CopyFlatData[T](t)
	rows, cols := t.shape.Dimensions[0], t.shape.Dimensions[1]
	value := make([][]T, rows)
	for row := range rows {
		value[row] = flat[row*cols : (row+1)*cols]
	}
	return value
}

// String returns the shape and, for small tensors, the values.
func (t *Tensor) String() string {
	if !t.Ok() {
		return "<invalid tensor>"
	}
	const maxElements = 64
	if t.Size() > maxElements {
		return fmt.Sprintf("%s: (%d elements)", t.shape, t.Size())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %v", t.shape, t.flat)
	return sb.String()
}
