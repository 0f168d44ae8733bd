// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scaledmm

import (
	"flag"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/gomlx/fusedmm/pkg/core/dtypes"
	"github.com/gomlx/fusedmm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/fusedmm/pkg/core/tensors"
	"github.com/gomlx/fusedmm/pkg/epilogue"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

func TestMain(m *testing.M) {
	klog.InitFlags(nil)
	flag.Parse()
	os.Exit(m.Run())
}

func f32(values ...float32) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(values, len(values))
}

func TestParseConfig(t *testing.T) {
	c := must.M1(ParseConfig(""))
	assert.Equal(t, DefaultConfig(), c)

	c = must.M1(ParseConfig("parallelism=4, rowtile=32,nullable"))
	assert.Equal(t, Config{Parallelism: 4, RowTile: 32, ForceNullable: true}, c)
	assert.Equal(t, "parallelism=4,rowtile=32,nullable", c.String())

	c = must.M1(ParseConfig("Parallelism=0,nullable=false"))
	assert.Equal(t, 0, c.Parallelism)
	assert.False(t, c.ForceNullable)

	for _, config := range []string{"parallelism=x", "parallelism=-2", "rowtile=0", "nullable=maybe", "tiles=3"} {
		_, err := ParseConfig(config)
		assert.Error(t, err, "config %q", config)
	}
	_, err := New("bogus")
	require.Error(t, err)
}

func TestNewDefault(t *testing.T) {
	t.Setenv(ConfigEnvVar, "parallelism=2,rowtile=3")
	op := must.M1(NewDefault())
	assert.Equal(t, Config{Parallelism: 2, RowTile: 3}, op.Config())

	t.Setenv(ConfigEnvVar, "rowtile=-1")
	_, err := NewDefault()
	require.Error(t, err)
}

func TestSelectPipeline(t *testing.T) {
	assert.Equal(t, epilogue.KindScaled, SelectPipeline(false, false))
	assert.Equal(t, epilogue.KindScaledBias, SelectPipeline(true, false))
	assert.Equal(t, epilogue.KindScaledTail, SelectPipeline(false, true))
	assert.Equal(t, epilogue.KindScaledBiasTail, SelectPipeline(true, true))

	op := must.M1(New("nullable"))
	assert.Equal(t, epilogue.KindScaledNullable, op.Pipeline(tensors.None(), tensors.None()))
	op = must.M1(New(""))
	assert.Equal(t, epilogue.KindScaledTail, op.Pipeline(tensors.None(), tensors.Some(f32(1))))
}

func TestScaledMM_Scenarios(t *testing.T) {
	for _, config := range []string{"parallelism=0", "parallelism=2,rowtile=1", "nullable"} {
		op := must.M1(New(config))

		// Scale: Acc=[[10]], ScaleA=2, ScaleB=3.
		a := tensors.FromValue([][]int8{{10}})
		b := tensors.FromValue([][]int8{{1}})
		got := must.M1(op.ScaledMM(dtypes.Float32, a, b, f32(2), f32(3), tensors.None(), tensors.None()))
		assert.Equal(t, [][]float32{{60}}, tensors.ToValue[float32](got), "config %q", config)

		// Scale+Bias: Acc=[[1,2],[3,4]], per-row ScaleA, per-column ScaleB.
		a = tensors.FromValue([][]int8{{1, 2}, {3, 4}})
		b = tensors.FromValue([][]int8{{1, 0}, {0, 1}})
		got = must.M1(op.ScaledMM(dtypes.Float32, a, b, f32(1, 2), f32(1, 1),
			tensors.Some(f32(10, 20)), tensors.None()))
		assert.Equal(t, [][]float32{{11, 22}, {16, 28}}, tensors.ToValue[float32](got), "config %q", config)
	}
}

func TestScaledMM_NullableMatchesDedicated(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	const m, k, n = 9, 17, 6
	aData, bData := make([]int8, m*k), make([]int8, k*n)
	for i := range aData {
		aData[i] = int8(rng.IntN(255) - 127)
	}
	for i := range bData {
		bData[i] = int8(rng.IntN(255) - 127)
	}
	a := tensors.FromFlatDataAndDimensions(aData, m, k)
	b := tensors.FromFlatDataAndDimensions(bData, k, n)
	scaleA := tensors.FromScalarAndDimensions(float32(0.02), m, 1)
	scaleB := f32(0.03)
	biasData, tailData := make([]float16.Float16, n), make([]float16.Float16, n)
	for i := range n {
		biasData[i] = float16.Fromfloat32(rng.Float32() - 0.5)
		tailData[i] = float16.Fromfloat32(0.5 + rng.Float32())
	}
	bias := tensors.FromFlatDataAndDimensions(biasData, n)
	tail := tensors.FromFlatDataAndDimensions(tailData, n)

	dedicated := must.M1(New("parallelism=2"))
	nullable := must.M1(New("parallelism=2,nullable"))
	for _, hasBias := range []bool{false, true} {
		for _, hasTail := range []bool{false, true} {
			biasOpt, tailOpt := tensors.None(), tensors.None()
			if hasBias {
				biasOpt = tensors.Some(bias)
			}
			if hasTail {
				tailOpt = tensors.Some(tail)
			}
			want := must.M1(dedicated.ScaledMM(dtypes.Float16, a, b, scaleA, scaleB, biasOpt, tailOpt))
			got := must.M1(nullable.ScaledMM(dtypes.Float16, a, b, scaleA, scaleB, biasOpt, tailOpt))
			assert.Equal(t, tensors.ToValue[float16.Float16](want), tensors.ToValue[float16.Float16](got),
				"hasBias=%v, hasTail=%v", hasBias, hasTail)
		}
	}
}

func TestScaledMM_OutputAndOperandDTypes(t *testing.T) {
	op := must.M1(New(""))

	// BFloat16 operands, Int8 output with a tail: 0.5 * [[3, 5]] * 1 = [1.5, 2.5], rounded to even.
	a := tensors.FromValue([][]bfloat16.BFloat16{{bfloat16.FromFloat32(1), bfloat16.FromFloat32(1)}})
	b := tensors.FromValue([][]bfloat16.BFloat16{
		{bfloat16.FromFloat32(1), bfloat16.FromFloat32(2)},
		{bfloat16.FromFloat32(2), bfloat16.FromFloat32(3)},
	})
	got := must.M1(op.ScaledMM(dtypes.Int8, a, b, f32(0.5), f32(1), tensors.None(),
		tensors.Some(tensors.FromFlatDataAndDimensions([]int8{1, 1}, 2))))
	assert.Equal(t, dtypes.Int8, got.DType())
	assert.Equal(t, [][]int8{{2, 2}}, tensors.ToValue[int8](got))

	// Float16 operands, BFloat16 output.
	a16 := tensors.FromValue([][]float16.Float16{{float16.Fromfloat32(2)}})
	b16 := tensors.FromValue([][]float16.Float16{{float16.Fromfloat32(3), float16.Fromfloat32(-1)}})
	got = must.M1(op.ScaledMM(dtypes.BFloat16, a16, b16, f32(1), f32(0.5, 2), tensors.None(), tensors.None()))
	assert.Equal(t, [][]bfloat16.BFloat16{{bfloat16.FromFloat32(3), bfloat16.FromFloat32(-4)}},
		tensors.ToValue[bfloat16.BFloat16](got))
}

func TestScaledMM_Errors(t *testing.T) {
	op := must.M1(New(""))
	a := tensors.FromScalarAndDimensions(int8(1), 2, 3)
	b := tensors.FromScalarAndDimensions(int8(1), 3, 4)
	bias := tensors.FromScalarAndDimensions(float32(0), 4)
	none := tensors.None()

	_, err := op.ScaledMM(dtypes.Float32, a, b, f32(1), f32(1), tensors.Some(bias), none)
	require.NoError(t, err)

	testCases := []struct {
		name                 string
		outDType             dtypes.DType
		a, b, scaleA, scaleB *tensors.Tensor
		bias, tail           tensors.Optional
	}{
		{"invalid output dtype", dtypes.Int32, a, b, f32(1), f32(1), none, none},
		{"nil a", dtypes.Float32, nil, b, f32(1), f32(1), none, none},
		{"contracting mismatch", dtypes.Float32, a, a, f32(1), f32(1), none, none},
		{"operand dtypes differ", dtypes.Float32, a, tensors.FromScalarAndDimensions(float16.Fromfloat32(1), 3, 4),
			f32(1), f32(1), none, none},
		{"unsupported operand dtype", dtypes.Float32, tensors.FromScalarAndDimensions(float32(1), 2, 3),
			tensors.FromScalarAndDimensions(float32(1), 3, 4), f32(1), f32(1), none, none},
		{"rank-1 operand", dtypes.Float32, f32(1, 2, 3), b, f32(1), f32(1), none, none},
		{"nil scaleA", dtypes.Float32, a, b, nil, f32(1), none, none},
		{"scaleA size", dtypes.Float32, a, b, f32(1, 2, 3), f32(1), none, none},
		{"scaleB size", dtypes.Float32, a, b, f32(1), f32(1, 2), none, none},
		{"scaleB dtype", dtypes.Float32, a, b, f32(1), tensors.FromFlatDataAndDimensions([]int8{1}, 1), none, none},
		{"bias dtype", dtypes.Float16, a, b, f32(1), f32(1), tensors.Some(bias), none},
		{"tail size", dtypes.Float32, a, b, f32(1), f32(1), none, tensors.Some(f32(1, 2))},
	}
	for _, tc := range testCases {
		got, err := op.ScaledMM(tc.outDType, tc.a, tc.b, tc.scaleA, tc.scaleB, tc.bias, tc.tail)
		assert.Error(t, err, tc.name)
		assert.Nil(t, got, tc.name)
	}
}
