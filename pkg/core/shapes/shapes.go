// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape: the dtype and the dimensions of a tensor.
//
// Tensors handled by the fused kernels are contiguous and row-major, so the shape is all that is needed
// to locate any element in the flat backing data.
package shapes

import (
	"fmt"
	"strings"

	"github.com/gomlx/fusedmm/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Shape represents the shape of a tensor: its dtype and the dimensions of each axis.
// A scalar has no dimensions (rank 0).
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
// It panics if any of the dimensions is negative.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: make([]int, len(dimensions))}
	for ii, dim := range dimensions {
		if dim < 0 {
			panic(errors.Errorf("shapes.Make(%s): cannot create a shape with an axis with dimension < 0", s))
		}
		s.Dimensions[ii] = dim
	}
	return s
}

// Invalid returns an invalid shape.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank == 0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		panic(errors.Errorf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s))
	}
	return s.Dimensions[adjustedAxis]
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes for that would be used to store this shape.
func (s Shape) Memory() uintptr {
	return uintptr(s.DType.Size() * s.Size())
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType || s.Rank() != s2.Rank() {
		return false
	}
	for ii, dim := range s.Dimensions {
		if dim != s2.Dimensions[ii] {
			return false
		}
	}
	return true
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() Shape {
	return Make(s.DType, s.Dimensions...)
}

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout.
//
// Notice the strides are **not in bytes**, but in indices.
func (s Shape) Strides() (strides []int) {
	rank := s.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for dim := rank - 1; dim >= 0; dim-- {
		strides[dim] = currentStride
		currentStride *= s.Dimensions[dim]
	}
	return
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, len(s.Dimensions))
	for ii, dim := range s.Dimensions {
		parts[ii] = fmt.Sprintf("%d", dim)
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}
