// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package epilogue

import (
	"math"

	"github.com/gomlx/fusedmm/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Element is the set of storage types of values loaded or stored by an epilogue.
// The computation itself is always done in float32.
type Element interface {
	float32 | float16.Float16 | bfloat16.BFloat16 | int8
}

// toFloat32 converts an element to the float32 compute type. It is exact for all Element types.
func toFloat32[T Element](value T) float32 {
	switch v := any(value).(type) {
	case float32:
		return v
	case float16.Float16:
		return v.Float32()
	case bfloat16.BFloat16:
		return v.Float32()
	case int8:
		return float32(v)
	}
	return 0
}

// fromFloat32 converts a float32 to the element type, rounding to the nearest value (ties to even).
// Integer outputs saturate at the limits of the type, and NaN converts to 0.
func fromFloat32[T Element](value float32) (out T) {
	switch p := any(&out).(type) {
	case *float32:
		*p = value
	case *float16.Float16:
		*p = float16.Fromfloat32(value)
	case *bfloat16.BFloat16:
		*p = bfloat16.FromFloat32(value)
	case *int8:
		*p = roundToInt8(value)
	}
	return
}

func roundToInt8(value float32) int8 {
	if math.IsNaN(float64(value)) {
		return 0
	}
	rounded := math.RoundToEven(float64(value))
	if rounded >= math.MaxInt8 {
		return math.MaxInt8
	} else if rounded <= math.MinInt8 {
		return math.MinInt8
	}
	return int8(rounded)
}

// Convert converts a float32 computed value to T exactly as the epilogues do for their output.
// It is useful to build reference results.
func Convert[T Element](value float32) T {
	return fromFloat32[T](value)
}

// ToFloat32 converts an element to float32, the compute type of the epilogues.
func ToFloat32[T Element](value T) float32 {
	return toFloat32(value)
}
