// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/fusedmm/internal/workerspool"
	"github.com/gomlx/fusedmm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/fusedmm/pkg/core/tensors"
	"github.com/gomlx/fusedmm/pkg/epilogue"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func scalar(v float32) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions([]float32{v}, 1)
}

func randomInt8(rng *rand.Rand, size int) []int8 {
	values := make([]int8, size)
	for i := range values {
		values[i] = int8(rng.IntN(255) - 127)
	}
	return values
}

// referenceInt8 computes the int32 accumulator of lhs×rhs, as float64.
func referenceInt8(lhs, rhs []int8, m, k, n int) []float64 {
	acc := make([]float64, m*n)
	for r := range m {
		for c := range n {
			var sum int32
			for p := range k {
				sum += int32(lhs[r*k+p]) * int32(rhs[p*n+c])
			}
			acc[r*n+c] = float64(sum)
		}
	}
	return acc
}

func TestRun_ScaledInt8(t *testing.T) {
	// [[1,2],[3,4]] × [[1,0],[0,1]] with scaleA=2, scaleB=0.5: the scales cancel out.
	lhs := []int8{1, 2, 3, 4}
	rhs := []int8{1, 0, 0, 1}
	epi := epilogue.Scaled[float32]{}
	args := must.M1(epi.Prepare(scalar(2), scalar(0.5)))
	output := make([]float32, 4)
	require.NoError(t, Run(nil, lhs, rhs, output, 2, 2, 2, epi, &args))
	assert.Equal(t, []float32{1, 2, 3, 4}, output)
}

func TestRun_ScaledBiasTail(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	const m, k, n = 37, 19, 11
	lhs, rhs := randomInt8(rng, m*k), randomInt8(rng, k*n)
	scaleA := make([]float32, m)
	for i := range scaleA {
		scaleA[i] = 0.01 + rng.Float32()/10
	}
	scaleB := make([]float32, n)
	bias := make([]float32, n)
	tail := make([]float32, n)
	for i := range n {
		scaleB[i] = 0.01 + rng.Float32()/10
		bias[i] = rng.Float32() - 0.5
		tail[i] = 0.5 + rng.Float32()
	}

	epi := epilogue.ScaledBiasTail[float32]{}
	args := must.M1(epi.Prepare(
		tensors.FromFlatDataAndDimensions(scaleA, m, 1),
		tensors.FromFlatDataAndDimensions(scaleB, 1, n),
		tensors.FromFlatDataAndDimensions(bias, n),
		tensors.FromFlatDataAndDimensions(tail, n)))
	output := make([]float32, m*n)
	require.NoError(t, RunTiled(workerspool.NewWithParallelism(3), 4, lhs, rhs, output, m, k, n, epi, &args))

	acc := referenceInt8(lhs, rhs, m, k, n)
	for r := range m {
		for c := range n {
			want := float64(tail[c]) * (float64(scaleA[r])*(float64(scaleB[c])*acc[r*n+c]) + float64(bias[c]))
			assert.InDelta(t, want, float64(output[r*n+c]), 1e-4*max(1, abs(want)), "element [%d, %d]", r, c)
		}
	}
}

func TestRun_Int8Output(t *testing.T) {
	// Requantization: acc=[[3, -5]], scale 0.5 gives [1.5, -2.5], rounded to even: [2, -2].
	lhs := []int8{1, 1, 1}
	rhs := []int8{1, -1, 1, -2, 1, -2}
	epi := epilogue.Scaled[int8]{}
	args := must.M1(epi.Prepare(scalar(0.5), scalar(1)))
	output := make([]int8, 2)
	require.NoError(t, Run(nil, lhs, rhs, output, 1, 3, 2, epi, &args))
	assert.Equal(t, []int8{2, -2}, output)
}

func TestRun_HalfFloatOperands(t *testing.T) {
	lhsF32 := []float32{1, 2, 3, 4, 5, 6}
	rhsF32 := []float32{0.5, -1, 2, 0.25, 1, 3}
	// [2,3]x[3,2]
	want := []float32{
		1*0.5 + 2*2 + 3*1, 1*-1 + 2*0.25 + 3*3,
		4*0.5 + 5*2 + 6*1, 4*-1 + 5*0.25 + 6*3,
	}
	epi := epilogue.Scaled[float32]{}
	args := must.M1(epi.Prepare(scalar(1), scalar(1)))

	t.Run("Float16", func(t *testing.T) {
		lhs, rhs := make([]float16.Float16, 6), make([]float16.Float16, 6)
		for i := range 6 {
			lhs[i], rhs[i] = float16.Fromfloat32(lhsF32[i]), float16.Fromfloat32(rhsF32[i])
		}
		output := make([]float32, 4)
		require.NoError(t, Run(nil, lhs, rhs, output, 2, 3, 2, epi, &args))
		assert.Equal(t, want, output)
	})
	t.Run("BFloat16", func(t *testing.T) {
		lhs, rhs := make([]bfloat16.BFloat16, 6), make([]bfloat16.BFloat16, 6)
		for i := range 6 {
			lhs[i], rhs[i] = bfloat16.FromFloat32(lhsF32[i]), bfloat16.FromFloat32(rhsF32[i])
		}
		output := make([]bfloat16.BFloat16, 4)
		epiBF16 := epilogue.Scaled[bfloat16.BFloat16]{}
		argsBF16 := must.M1(epiBF16.Prepare(scalar(1), scalar(1)))
		require.NoError(t, Run(nil, lhs, rhs, output, 2, 3, 2, epiBF16, &argsBF16))
		for i, v := range output {
			assert.Equal(t, bfloat16.FromFloat32(want[i]), v, "element %d", i)
		}
	})
}

func TestRun_ParallelMatchesInline(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 13))
	const m, k, n = 100, 33, 21
	lhs, rhs := randomInt8(rng, m*k), randomInt8(rng, k*n)
	epi := epilogue.ScaledTail[float16.Float16]{}
	tail := make([]float16.Float16, n)
	for i := range tail {
		tail[i] = float16.Fromfloat32(0.5 + rng.Float32())
	}
	args := must.M1(epi.Prepare(scalar(0.01), scalar(0.02), tensors.FromFlatDataAndDimensions(tail, n)))

	inline := make([]float16.Float16, m*n)
	require.NoError(t, Run(workerspool.NewWithParallelism(0), lhs, rhs, inline, m, k, n, epi, &args))
	for _, rowTile := range []int{1, 7, 16, 200} {
		parallel := make([]float16.Float16, m*n)
		require.NoError(t, RunTiled(workerspool.New(), rowTile, lhs, rhs, parallel, m, k, n, epi, &args))
		assert.Equal(t, inline, parallel, "rowTile=%d", rowTile)
	}
}

func TestRun_Errors(t *testing.T) {
	epi := epilogue.Scaled[float32]{}
	args := must.M1(epi.Prepare(scalar(1), scalar(1)))
	lhs, rhs := make([]int8, 6), make([]int8, 6)
	output := make([]float32, 4)

	require.NoError(t, Run(nil, lhs, rhs, output, 2, 3, 2, epi, &args))
	require.Error(t, Run(nil, lhs[:5], rhs, output, 2, 3, 2, epi, &args))
	require.Error(t, Run(nil, lhs, rhs[:5], output, 2, 3, 2, epi, &args))
	require.Error(t, Run(nil, lhs, rhs, output[:3], 2, 3, 2, epi, &args))
	require.Error(t, Run(nil, lhs, rhs, output, -2, 3, 2, epi, &args))
	var noArgs *epilogue.DequantArgs
	require.Error(t, Run(nil, lhs, rhs, output, 2, 3, 2, epi, noArgs))

	// Empty outputs are a no-op, and K=0 gives a zero accumulator.
	require.NoError(t, Run(nil, []int8{}, []int8{}, []float32{}, 0, 0, 0, epi, &args))
	zeros := []float32{7, 7}
	require.NoError(t, Run(nil, []int8{}, []int8{}, zeros, 1, 0, 2, epi, &args))
	assert.Equal(t, []float32{0, 0}, zeros)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
