// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gemm implements the matrix multiplication driver of the fused scaled matmul: it computes the
// accumulator of LHS×RHS for one block of output rows at a time, and writes the result of the epilogue
// for each accumulator element directly into the output, without a second pass over memory.
//
// The epilogue is given as an instantiated pipeline type (see package epilogue) plus its prepared
// arguments, so the per-element evaluation is statically dispatched.
package gemm

import (
	"github.com/gomlx/fusedmm/internal/workerspool"
	"github.com/gomlx/fusedmm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/fusedmm/pkg/epilogue"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Operand is the set of supported matmul operand types.
// Int8 operands accumulate in int32, Float16 and BFloat16 operands accumulate in float32.
type Operand interface {
	int8 | float16.Float16 | bfloat16.BFloat16
}

// DefaultRowTile is the number of output rows processed by each parallel task, if not configured otherwise.
const DefaultRowTile = 16

// Run computes output = epi(lhs × rhs) using DefaultRowTile. See RunTiled.
func Run[A Operand, D epilogue.Element, Args any, E epilogue.Root[Args, D]](
	pool *workerspool.Pool, lhs, rhs []A, output []D, m, k, n int, epi E, args *Args) error {
	return RunTiled(pool, DefaultRowTile, lhs, rhs, output, m, k, n, epi, args)
}

// RunTiled computes output = epi(lhs × rhs), where lhs is [m, k], rhs is [k, n] and output is [m, n],
// all flat row-major slices.
//
// Blocks of rowTile output rows are processed in parallel using the given pool. If pool is nil or has
// parallelism disabled, everything runs inline.
//
// The args must have been prepared for the output dimensions (see the pipelines' Prepare methods), and
// must not be modified while RunTiled is executing.
func RunTiled[A Operand, D epilogue.Element, Args any, E epilogue.Root[Args, D]](
	pool *workerspool.Pool, rowTile int, lhs, rhs []A, output []D, m, k, n int, epi E, args *Args) error {
	if m < 0 || k < 0 || n < 0 {
		return errors.Errorf("gemm: invalid negative dimensions M=%d, K=%d, N=%d", m, k, n)
	}
	if len(lhs) != m*k {
		return errors.Errorf("gemm: lhs has %d elements, expected M*K=%d*%d=%d", len(lhs), m, k, m*k)
	}
	if len(rhs) != k*n {
		return errors.Errorf("gemm: rhs has %d elements, expected K*N=%d*%d=%d", len(rhs), k, n, k*n)
	}
	if len(output) != m*n {
		return errors.Errorf("gemm: output has %d elements, expected M*N=%d*%d=%d", len(output), m, n, m*n)
	}
	if args == nil {
		return errors.New("gemm: epilogue arguments are nil, they must be prepared before running")
	}
	if rowTile <= 0 {
		rowTile = DefaultRowTile
	}
	if m == 0 || n == 0 {
		return nil
	}

	numTiles := (m + rowTile - 1) / rowTile
	if klog.V(2).Enabled() {
		parallelism := 0
		if pool != nil {
			parallelism = pool.MaxParallelism()
		}
		klog.Infof("gemm: M=%d, K=%d, N=%d: %d tiles of up to %d rows, parallelism=%d",
			m, k, n, numTiles, rowTile, parallelism)
	}

	pool.ForEach(numTiles, func(tileIdx int) {
		rowStart := tileIdx * rowTile
		rowEnd := min(rowStart+rowTile, m)
		runTile(lhs, rhs, output, rowStart, rowEnd, k, n, epi, args)
	})
	return nil
}

// runTile computes the output rows [rowStart, rowEnd).
func runTile[A Operand, D epilogue.Element, Args any, E epilogue.Root[Args, D]](
	lhs, rhs []A, output []D, rowStart, rowEnd, k, n int, epi E, args *Args) {
	acc := make([]float32, n)
	switch lhsFlat := any(lhs).(type) {
	case []int8:
		rhsFlat := any(rhs).([]int8)
		accInt32 := make([]int32, n)
		for row := rowStart; row < rowEnd; row++ {
			accumulateRowInt8(lhsFlat[row*k:(row+1)*k], rhsFlat, n, accInt32)
			for col, v := range accInt32 {
				acc[col] = float32(v)
			}
			storeRow(output[row*n:(row+1)*n], row, acc, epi, args)
		}
	case []float16.Float16:
		rhsFlat := any(rhs).([]float16.Float16)
		for row := rowStart; row < rowEnd; row++ {
			accumulateRowFloat(lhsFlat[row*k:(row+1)*k], rhsFlat, n, acc)
			storeRow(output[row*n:(row+1)*n], row, acc, epi, args)
		}
	case []bfloat16.BFloat16:
		rhsFlat := any(rhs).([]bfloat16.BFloat16)
		for row := rowStart; row < rowEnd; row++ {
			accumulateRowFloat(lhsFlat[row*k:(row+1)*k], rhsFlat, n, acc)
			storeRow(output[row*n:(row+1)*n], row, acc, epi, args)
		}
	}
}

// storeRow evaluates the epilogue for each accumulator of the row, and stores it in the output row.
func storeRow[D epilogue.Element, Args any, E epilogue.Root[Args, D]](
	outputRow []D, row int, acc []float32, epi E, args *Args) {
	for col, value := range acc {
		outputRow[col] = epi.VisitOut(args, epilogue.Coordinate{Row: row, Col: col, Acc: value})
	}
}

// accumulateRowInt8 computes one row of the int8×int8→int32 matrix multiplication.
// It accumulates in int32 to avoid overflow.
func accumulateRowInt8(lhsRow, rhs []int8, n int, acc []int32) {
	clear(acc)
	for contractingIdx, lhsValue := range lhsRow {
		if lhsValue == 0 {
			continue
		}
		lhsVal := int32(lhsValue)
		rhsRow := rhs[contractingIdx*n : (contractingIdx+1)*n]
		for col, rhsValue := range rhsRow {
			acc[col] += lhsVal * int32(rhsValue)
		}
	}
}

// halfFloat are the 16 bits float operands, accumulated in float32.
type halfFloat interface {
	float16.Float16 | bfloat16.BFloat16
	Float32() float32
}

// accumulateRowFloat computes one row of the matrix multiplication of 16 bits floats, accumulating in float32.
func accumulateRowFloat[A halfFloat](lhsRow, rhs []A, n int, acc []float32) {
	clear(acc)
	for contractingIdx, lhsValue := range lhsRow {
		lhsVal := lhsValue.Float32()
		rhsRow := rhs[contractingIdx*n : (contractingIdx+1)*n]
		for col, rhsValue := range rhsRow {
			acc[col] += lhsVal * rhsValue.Float32()
		}
	}
}
