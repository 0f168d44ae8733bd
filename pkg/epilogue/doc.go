// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package epilogue implements the fused epilogues of scaled (dequantizing) matrix multiplications.
//
// An epilogue is the elementwise arithmetic applied to the matmul accumulator before the result is written
// to the output. Fusing it into the matmul kernel avoids a second pass that re-reads and re-writes the output.
//
// Each epilogue is a tree of nodes whose shape is fixed by its Go type:
//
//   - Load descriptors (PerRowOrScalar, PerColumnOrScalar, PerRow, PerColumn, NullablePerRow,
//     NullablePerColumn and AccFetch) read one value per output element, broadcasting a scalar, a per-row
//     vector or a per-column vector.
//   - Compute nodes (Mul and MulAdd) combine their children in float32 and convert the result to their
//     output type, rounding to nearest. Only the root outputs the final dtype, so rounding happens once.
//
// The run-time arguments of a tree (the ...Args types) mirror the tree exactly: MulArgs{X, Y} holds the
// arguments of Mul's X and Y children, in that order. Each pipeline provides a Prepare method that builds
// this argument tree from the caller's tensors:
//
//   - Scaled:         D = ScaleA ⊙ (ScaleB ⊙ Acc)
//   - ScaledBias:     D = ScaleA ⊙ (ScaleB ⊙ Acc) + Bias
//   - ScaledTail:     D = Tail ⊙ (ScaleA ⊙ (ScaleB ⊙ Acc))
//   - ScaledBiasTail: D = Tail ⊙ (ScaleA ⊙ (ScaleB ⊙ Acc) + Bias)
//   - ScaledNullable: same as ScaledBiasTail, but Bias and Tail are optional (absent Bias is 0, absent Tail is 1).
//
// ScaleA is a scalar or one value per output row, ScaleB a scalar or one value per output column, both float32.
// Bias and Tail have one value per output column, of the output dtype.
//
// Example:
//
//	var epi epilogue.ScaledBias[float32]
//	args, err := epi.Prepare(scaleA, scaleB, bias)
//	if err != nil { ... }
//	err = gemm.Run(pool, lhs, rhs, output, m, k, n, epi, &args)
//
// Whether a slot accepts an absent tensor is part of its descriptor's type: mandatory descriptors only
// have ArgsFromTensor and nullable ones only ArgsFromOptional, so mixing them up doesn't compile.
package epilogue
