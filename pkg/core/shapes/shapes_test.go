// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/fusedmm/pkg/core/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float32)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 4, int(shape0.Memory()))

	shape1 := Make(dtypes.Int8, 4, 3)
	require.False(t, shape1.IsScalar())
	require.Equal(t, 2, shape1.Rank())
	require.Equal(t, 12, shape1.Size())
	require.Equal(t, 12, int(shape1.Memory()))
	require.Equal(t, []int{3, 1}, shape1.Strides())
	require.Equal(t, "(Int8)[4 3]", shape1.String())
	require.True(t, shape1.Equal(shape1.Clone()))
	require.False(t, shape1.Equal(Make(dtypes.Int8, 3, 4)))

	require.Panics(t, func() { _ = Make(dtypes.Float32, -1) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 4, shape.Dim(-2))
	require.Equal(t, 3, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(2) })
	require.Panics(t, func() { _ = shape.Dim(-3) })
}
