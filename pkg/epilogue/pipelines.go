// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package epilogue

import (
	"github.com/gomlx/fusedmm/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Kind enumerates the composed epilogue pipelines.
type Kind int

const (
	// KindScaled is D = ScaleA ⊙ (ScaleB ⊙ Acc), see Scaled.
	KindScaled Kind = iota

	// KindScaledBias is D = ScaleA ⊙ (ScaleB ⊙ Acc) + Bias, see ScaledBias.
	KindScaledBias

	// KindScaledTail is D = Tail ⊙ (ScaleA ⊙ (ScaleB ⊙ Acc)), see ScaledTail.
	KindScaledTail

	// KindScaledBiasTail is D = Tail ⊙ (ScaleA ⊙ (ScaleB ⊙ Acc) + Bias), see ScaledBiasTail.
	KindScaledBiasTail

	// KindScaledNullable is KindScaledBiasTail with optional Bias and Tail, see ScaledNullable.
	KindScaledNullable
)

// String returns the name of the pipeline.
func (k Kind) String() string {
	switch k {
	case KindScaled:
		return "Scaled"
	case KindScaledBias:
		return "ScaledBias"
	case KindScaledTail:
		return "ScaledTail"
	case KindScaledBiasTail:
		return "ScaledBiasTail"
	case KindScaledNullable:
		return "ScaledNullable"
	default:
		return "unknown"
	}
}

// Sub-trees shared by the pipelines. All are computed in float32, without intermediate rounding.
type (
	// scaledAccNode is ScaleB ⊙ Acc.
	scaledAccNode = Mul[float32, ColumnOrScalarArgs[float32], PerColumnOrScalar[float32], AccArgs, AccFetch]

	// dequantNode is ScaleA ⊙ (ScaleB ⊙ Acc).
	dequantNode = Mul[float32, RowOrScalarArgs[float32], PerRowOrScalar[float32], ScaledAccArgs, scaledAccNode]
)

// ScaledAccArgs are the arguments of the ScaleB ⊙ Acc sub-tree, common to all pipelines.
type ScaledAccArgs = MulArgs[ColumnOrScalarArgs[float32], AccArgs]

// DequantArgs are the arguments of the ScaleA ⊙ (ScaleB ⊙ Acc) tree: the arguments of Scaled, and the
// inner arguments of ScaledTail.
type DequantArgs = MulArgs[RowOrScalarArgs[float32], ScaledAccArgs]

// prepareScales builds the arguments shared by all pipelines, from the scaleA and scaleB tensors.
func prepareScales(scaleA, scaleB *tensors.Tensor) (aArgs RowOrScalarArgs[float32], accArgs ScaledAccArgs, err error) {
	aArgs, err = PerRowOrScalar[float32]{}.ArgsFromTensor(scaleA)
	if err != nil {
		err = errors.WithMessage(err, "scaleA")
		return
	}
	bArgs, err := PerColumnOrScalar[float32]{}.ArgsFromTensor(scaleB)
	if err != nil {
		err = errors.WithMessage(err, "scaleB")
		return
	}
	accArgs = ScaledAccArgs{X: bArgs, Y: AccArgs{}}
	return
}

// Scaled is the epilogue of a scaled matmul similar to torch._scaled_mm:
//
//	D = ScaleA ⊙ (ScaleB ⊙ Acc)
//
// The matmul operands A and B are symmetric quantized (zero point is 0). ScaleA is either per-tensor
// (one element) or per-row (one element per row of A), and ScaleB is per-tensor or per-column (one
// element per column of B). Any combination is supported.
type Scaled[D Element] struct {
	Mul[D, RowOrScalarArgs[float32], PerRowOrScalar[float32], ScaledAccArgs, scaledAccNode]
}

// Kind returns KindScaled.
func (Scaled[D]) Kind() Kind { return KindScaled }

// Prepare returns the arguments of the epilogue, built from the scales of A and B.
func (Scaled[D]) Prepare(scaleA, scaleB *tensors.Tensor) (DequantArgs, error) {
	aArgs, accArgs, err := prepareScales(scaleA, scaleB)
	if err != nil {
		return DequantArgs{}, errors.WithMessage(err, "Scaled.Prepare")
	}
	return DequantArgs{X: aArgs, Y: accArgs}, nil
}

// ScaledBias is the Scaled epilogue with a bias added:
//
//	D = ScaleA ⊙ (ScaleB ⊙ Acc) + Bias
//
// The bias has one element per output column (channel), of the output dtype. It can also carry the
// correction term of a per-tensor activation zero point, folded into the bias by the caller.
type ScaledBias[D Element] struct {
	MulAdd[D, RowOrScalarArgs[float32], PerRowOrScalar[float32], ScaledAccArgs, scaledAccNode,
		ColumnArgs[D], PerColumn[D]]
}

// Kind returns KindScaledBias.
func (ScaledBias[D]) Kind() Kind { return KindScaledBias }

// Prepare returns the arguments of the epilogue, built from the scales of A and B and the bias.
func (ScaledBias[D]) Prepare(scaleA, scaleB, bias *tensors.Tensor) (
	MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, ColumnArgs[D]], error) {
	var args MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, ColumnArgs[D]]
	aArgs, accArgs, err := prepareScales(scaleA, scaleB)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledBias.Prepare")
	}
	biasArgs, err := PerColumn[D]{}.ArgsFromTensor(bias)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledBias.Prepare: bias")
	}
	args = MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, ColumnArgs[D]]{X: aArgs, Y: accArgs, Z: biasArgs}
	return args, nil
}

// ScaledTail is the Scaled epilogue multiplied by a per-column tail scale, applied last:
//
//	D = Tail ⊙ (ScaleA ⊙ (ScaleB ⊙ Acc))
//
// The tail has one element per output column, of the output dtype.
type ScaledTail[D Element] struct {
	Mul[D, ColumnArgs[D], PerColumn[D], DequantArgs, dequantNode]
}

// Kind returns KindScaledTail.
func (ScaledTail[D]) Kind() Kind { return KindScaledTail }

// Prepare returns the arguments of the epilogue, built from the scales of A and B and the tail.
func (ScaledTail[D]) Prepare(scaleA, scaleB, tail *tensors.Tensor) (MulArgs[ColumnArgs[D], DequantArgs], error) {
	var args MulArgs[ColumnArgs[D], DequantArgs]
	aArgs, accArgs, err := prepareScales(scaleA, scaleB)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledTail.Prepare")
	}
	tailArgs, err := PerColumn[D]{}.ArgsFromTensor(tail)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledTail.Prepare: tail")
	}
	args = MulArgs[ColumnArgs[D], DequantArgs]{X: tailArgs, Y: DequantArgs{X: aArgs, Y: accArgs}}
	return args, nil
}

// ScaledBiasTail adds a bias and then multiplies by the tail:
//
//	D = Tail ⊙ (ScaleA ⊙ (ScaleB ⊙ Acc) + Bias)
//
// Bias and tail have one element per output column, of the output dtype.
type ScaledBiasTail[D Element] struct {
	Mul[D, ColumnArgs[D], PerColumn[D],
		MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, ColumnArgs[D]],
		MulAdd[float32, RowOrScalarArgs[float32], PerRowOrScalar[float32], ScaledAccArgs, scaledAccNode,
			ColumnArgs[D], PerColumn[D]]]
}

// Kind returns KindScaledBiasTail.
func (ScaledBiasTail[D]) Kind() Kind { return KindScaledBiasTail }

// Prepare returns the arguments of the epilogue, built from the scales of A and B, the bias and the tail.
func (ScaledBiasTail[D]) Prepare(scaleA, scaleB, bias, tail *tensors.Tensor) (
	MulArgs[ColumnArgs[D], MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, ColumnArgs[D]]], error) {
	var args MulArgs[ColumnArgs[D], MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, ColumnArgs[D]]]
	aArgs, accArgs, err := prepareScales(scaleA, scaleB)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledBiasTail.Prepare")
	}
	biasArgs, err := PerColumn[D]{}.ArgsFromTensor(bias)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledBiasTail.Prepare: bias")
	}
	tailArgs, err := PerColumn[D]{}.ArgsFromTensor(tail)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledBiasTail.Prepare: tail")
	}
	args.X = tailArgs
	args.Y = MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, ColumnArgs[D]]{X: aArgs, Y: accArgs, Z: biasArgs}
	return args, nil
}

// ScaledNullable is ScaledBiasTail with optional bias and tail:
//
//	D = Tail ⊙ (ScaleA ⊙ (ScaleB ⊙ Acc) + Bias)
//
// An absent bias loads 0 and an absent tail loads 1, so one instantiation serves all four formulas.
// The price is a check per loaded element, which the dedicated pipelines don't pay.
type ScaledNullable[D Element] struct {
	Mul[D, NullableColumnArgs[D], NullablePerColumn[D],
		MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, NullableColumnArgs[D]],
		MulAdd[float32, RowOrScalarArgs[float32], PerRowOrScalar[float32], ScaledAccArgs, scaledAccNode,
			NullableColumnArgs[D], NullablePerColumn[D]]]
}

// Kind returns KindScaledNullable.
func (ScaledNullable[D]) Kind() Kind { return KindScaledNullable }

// Prepare returns the arguments of the epilogue, built from the scales of A and B, and the optional bias and tail.
func (ScaledNullable[D]) Prepare(scaleA, scaleB *tensors.Tensor, bias, tail tensors.Optional) (
	MulArgs[NullableColumnArgs[D], MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, NullableColumnArgs[D]]], error) {
	var args MulArgs[NullableColumnArgs[D], MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, NullableColumnArgs[D]]]
	aArgs, accArgs, err := prepareScales(scaleA, scaleB)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledNullable.Prepare")
	}
	biasArgs, err := NullablePerColumn[D]{}.ArgsFromOptional(bias, 0)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledNullable.Prepare: bias")
	}
	tailArgs, err := NullablePerColumn[D]{}.ArgsFromOptional(tail, 1)
	if err != nil {
		return args, errors.WithMessage(err, "ScaledNullable.Prepare: tail")
	}
	args.X = tailArgs
	args.Y = MulAddArgs[RowOrScalarArgs[float32], ScaledAccArgs, NullableColumnArgs[D]]{X: aArgs, Y: accArgs, Z: biasArgs}
	return args, nil
}
