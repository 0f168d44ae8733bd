// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package epilogue

import (
	"github.com/gomlx/fusedmm/pkg/core/tensors"
	"github.com/pkg/errors"
)

// TensorLoader is implemented by the load descriptors of mandatory slots: their arguments are built
// from a tensor that must be present.
type TensorLoader[Args any] interface {
	ArgsFromTensor(t *tensors.Tensor) (Args, error)
}

// OptionalLoader is implemented by the load descriptors of nullable slots: their arguments are built
// from an Optional tensor, and nullDefault is used for every element when it is absent.
type OptionalLoader[Args any] interface {
	ArgsFromOptional(opt tensors.Optional, nullDefault float32) (Args, error)
}

// Mandatory and nullable descriptors never implement each other's constructor.
var (
	_ TensorLoader[RowOrScalarArgs[float32]]      = PerRowOrScalar[float32]{}
	_ TensorLoader[ColumnOrScalarArgs[float32]]   = PerColumnOrScalar[float32]{}
	_ TensorLoader[RowArgs[float32]]              = PerRow[float32]{}
	_ TensorLoader[ColumnArgs[float32]]           = PerColumn[float32]{}
	_ OptionalLoader[NullableRowArgs[float32]]    = NullablePerRow[float32]{}
	_ OptionalLoader[NullableColumnArgs[float32]] = NullablePerColumn[float32]{}
)

// flatFromTensor returns the typed backing data of a tensor used as a broadcast source.
func flatFromTensor[T Element](t *tensors.Tensor) ([]T, error) {
	if t == nil {
		return nil, errors.New("missing tensor (nil) for a mandatory operand")
	}
	if t.Rank() > 2 {
		return nil, errors.Errorf("broadcast operands must have rank <= 2, got shape %s", t.Shape())
	}
	if t.Size() == 0 {
		return nil, errors.Errorf("broadcast operand has no elements, shape %s", t.Shape())
	}
	return tensors.Flat[T](t)
}

// flatFromOptional returns the typed backing data of an optional tensor, or nil if it is absent.
func flatFromOptional[T Element](opt tensors.Optional) ([]T, error) {
	t, ok := opt.Get()
	if !ok {
		return nil, nil
	}
	return flatFromTensor[T](t)
}

// PerRowOrScalar loads either a scalar broadcast to the whole output, or one value per output row.
type PerRowOrScalar[T Element] struct{}

// RowOrScalarArgs are the arguments of PerRowOrScalar.
type RowOrScalarArgs[T Element] struct {
	Data []T

	// IsVector is true if Data holds one value per row, false if Data[0] is used for all elements.
	IsVector bool
}

// ArgsFromTensor implements TensorLoader. A tensor with a single element is broadcast as a scalar.
func (PerRowOrScalar[T]) ArgsFromTensor(t *tensors.Tensor) (RowOrScalarArgs[T], error) {
	data, err := flatFromTensor[T](t)
	if err != nil {
		return RowOrScalarArgs[T]{}, err
	}
	return RowOrScalarArgs[T]{Data: data, IsVector: t.Size() != 1}, nil
}

// Visit implements Node.
func (PerRowOrScalar[T]) Visit(args *RowOrScalarArgs[T], at Coordinate) float32 {
	if args.IsVector {
		return toFloat32(args.Data[at.Row])
	}
	return toFloat32(args.Data[0])
}

// PerColumnOrScalar loads either a scalar broadcast to the whole output, or one value per output column.
type PerColumnOrScalar[T Element] struct{}

// ColumnOrScalarArgs are the arguments of PerColumnOrScalar.
type ColumnOrScalarArgs[T Element] struct {
	Data []T

	// IsVector is true if Data holds one value per column, false if Data[0] is used for all elements.
	IsVector bool
}

// ArgsFromTensor implements TensorLoader. A tensor with a single element is broadcast as a scalar.
func (PerColumnOrScalar[T]) ArgsFromTensor(t *tensors.Tensor) (ColumnOrScalarArgs[T], error) {
	data, err := flatFromTensor[T](t)
	if err != nil {
		return ColumnOrScalarArgs[T]{}, err
	}
	return ColumnOrScalarArgs[T]{Data: data, IsVector: t.Size() != 1}, nil
}

// Visit implements Node.
func (PerColumnOrScalar[T]) Visit(args *ColumnOrScalarArgs[T], at Coordinate) float32 {
	if args.IsVector {
		return toFloat32(args.Data[at.Col])
	}
	return toFloat32(args.Data[0])
}

// PerRow loads one value per output row, from a mandatory operand. There is no scalar fallback.
type PerRow[T Element] struct{}

// RowArgs are the arguments of PerRow.
type RowArgs[T Element] struct {
	Data []T
}

// ArgsFromTensor implements TensorLoader.
func (PerRow[T]) ArgsFromTensor(t *tensors.Tensor) (RowArgs[T], error) {
	data, err := flatFromTensor[T](t)
	if err != nil {
		return RowArgs[T]{}, err
	}
	return RowArgs[T]{Data: data}, nil
}

// Visit implements Node.
func (PerRow[T]) Visit(args *RowArgs[T], at Coordinate) float32 {
	return toFloat32(args.Data[at.Row])
}

// PerColumn loads one value per output column, from a mandatory operand. There is no scalar fallback.
type PerColumn[T Element] struct{}

// ColumnArgs are the arguments of PerColumn.
type ColumnArgs[T Element] struct {
	Data []T
}

// ArgsFromTensor implements TensorLoader.
func (PerColumn[T]) ArgsFromTensor(t *tensors.Tensor) (ColumnArgs[T], error) {
	data, err := flatFromTensor[T](t)
	if err != nil {
		return ColumnArgs[T]{}, err
	}
	return ColumnArgs[T]{Data: data}, nil
}

// Visit implements Node.
func (PerColumn[T]) Visit(args *ColumnArgs[T], at Coordinate) float32 {
	return toFloat32(args.Data[at.Col])
}

// NullablePerRow loads one value per output row from an optional operand.
// When the operand is absent, NullDefault is used for every row.
type NullablePerRow[T Element] struct{}

// NullableRowArgs are the arguments of NullablePerRow. A nil Data means the operand is absent.
type NullableRowArgs[T Element] struct {
	Data        []T
	NullDefault float32
}

// ArgsFromOptional implements OptionalLoader.
func (NullablePerRow[T]) ArgsFromOptional(opt tensors.Optional, nullDefault float32) (NullableRowArgs[T], error) {
	data, err := flatFromOptional[T](opt)
	if err != nil {
		return NullableRowArgs[T]{}, err
	}
	return NullableRowArgs[T]{Data: data, NullDefault: nullDefault}, nil
}

// Visit implements Node.
func (NullablePerRow[T]) Visit(args *NullableRowArgs[T], at Coordinate) float32 {
	if args.Data == nil {
		return args.NullDefault
	}
	return toFloat32(args.Data[at.Row])
}

// NullablePerColumn loads one value per output column from an optional operand.
// When the operand is absent, NullDefault is used for every column.
type NullablePerColumn[T Element] struct{}

// NullableColumnArgs are the arguments of NullablePerColumn. A nil Data means the operand is absent.
type NullableColumnArgs[T Element] struct {
	Data        []T
	NullDefault float32
}

// ArgsFromOptional implements OptionalLoader.
func (NullablePerColumn[T]) ArgsFromOptional(opt tensors.Optional, nullDefault float32) (NullableColumnArgs[T], error) {
	data, err := flatFromOptional[T](opt)
	if err != nil {
		return NullableColumnArgs[T]{}, err
	}
	return NullableColumnArgs[T]{Data: data, NullDefault: nullDefault}, nil
}

// Visit implements Node.
func (NullablePerColumn[T]) Visit(args *NullableColumnArgs[T], at Coordinate) float32 {
	if args.Data == nil {
		return args.NullDefault
	}
	return toFloat32(args.Data[at.Col])
}
