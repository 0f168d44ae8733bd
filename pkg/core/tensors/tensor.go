// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, the handle of a contiguous, row-major, typed buffer
// consumed by the fused scaled matrix multiplication kernels.
//
// A Tensor is defined by its shape (a data type and its axes' dimensions) and its flat backing data.
// The kernels never copy a tensor: they take its "typed base address" (the backing slice, see Flat)
// and its element count, and the tensor must stay alive and unmodified while a kernel uses it.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2) // Tensor with [[1,2], [3,4]]
//
//   - FromValue[T dtypes.Supported](value [][]T): creates a rank-2 Tensor from a regular matrix.
//
// Optional tensors (for operands that may be absent) are represented by Optional.
package tensors

import (
	"github.com/gomlx/fusedmm/pkg/core/dtypes"
	"github.com/gomlx/fusedmm/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array stored as a flat (1D) slice of the Go type of its DType.
//
// Tensors are owned by the caller: the fused kernels only borrow their flat data for the duration of a call.
type Tensor struct {
	// shape of the tensor.
	shape shapes.Shape

	// flat holds the array with actual data: a slice of the Go type for the dtype of the shape.
	flat any
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value (rank 0).
//
// Notice a tensor of shape [1, 1] is not a scalar, even though it holds exactly one element.
// Use Tensor.Size() == 1 to test for a single element.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the Tensor is in a valid state: it is not nil, and it has a valid shape and data.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// FlatAny returns the flat backing data as an `any`, holding a slice of the Go type of the dtype.
func (t *Tensor) FlatAny() any { return t.flat }

// Flat returns the flat backing data of the tensor, without copying it.
//
// This is the "typed base address" of the tensor: writes to the returned slice change the tensor.
// It returns an error if the tensor is nil, invalid or if T doesn't match the tensor's dtype.
func Flat[T dtypes.Supported](t *Tensor) ([]T, error) {
	if !t.Ok() {
		return nil, errors.New("tensors.Flat: nil or invalid tensor")
	}
	flat, ok := t.flat.([]T)
	if !ok {
		var v T
		return nil, errors.Errorf("tensors.Flat[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	return flat, nil
}
