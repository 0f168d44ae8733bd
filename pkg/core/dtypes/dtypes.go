// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the data types used by fused scaled matrix multiplications.
//
// The values of the enum follow the XLA/PJRT numbering used by GoMLX, so they can be exchanged with it,
// but only the small set of dtypes the fused kernels support is defined: the low-precision matmul
// operands (Int8, Float16, BFloat16), the integer accumulator (Int32) and the float compute/output type (Float32).
//
// It also includes the constraint interfaces used with generics (Supported).
package dtypes

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/fusedmm/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is an enum represents the data type of a buffer or a scalar.
type DType int32

const (
	// InvalidDType is the zero value, used to mark an unset or unknown dtype.
	InvalidDType DType = 0

	// Int8 is the signed 8 bits integer: the symmetric quantized matmul operand type.
	Int8 DType = 2

	// Int32 is the signed 32 bits integer: the accumulator of Int8 matrix multiplications.
	Int32 DType = 4

	// Float16 is the IEEE 754 half-precision float.
	Float16 DType = 10

	// Float32 is the IEEE 754 single-precision float, the compute type of the epilogues.
	Float32 DType = 11

	// BFloat16 is the truncated 16 bits float format: 1 bit for sign, 8 bits for the exponent and
	// 7 bits for the mantissa.
	BFloat16 DType = 13
)

// MapOfNames to their dtypes. It includes also aliases to the various dtypes.
// Lower-case versions of the names are added during initialization.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Int8":         Int8,
	"S8":           Int8,
	"Int32":        Int32,
	"S32":          Int32,
	"Float16":      Float16,
	"F16":          Float16,
	"Float32":      Float32,
	"F32":          Float32,
	"BFloat16":     BFloat16,
	"BF16":         BFloat16,
}

func init() {
	keys := slices.Collect(maps.Keys(MapOfNames))
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; found {
			continue
		}
		MapOfNames[lowerKey] = MapOfNames[key]
	}
}

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the specifications.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	switch dtype {
	case Int8:
		return "Int8"
	case Int32:
		return "Int32"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case BFloat16:
		return "BFloat16"
	case InvalidDType:
		return "InvalidDType"
	default:
		return "DType(" + strconv.Itoa(int(dtype)) + ")"
	}
}

// FromName returns the DType for the given name (case-insensitive aliases included), or an error.
func FromName(name string) (DType, error) {
	dtype, found := MapOfNames[name]
	if !found {
		dtype, found = MapOfNames[strings.ToLower(name)]
	}
	if !found || dtype == InvalidDType {
		return InvalidDType, errors.Errorf("unknown dtype %q", name)
	}
	return dtype, nil
}

// Supported lists the Go types the fused kernels know how to handle.
// Used as traits for generics.
type Supported interface {
	int8 | int32 | float16.Float16 | bfloat16.BFloat16 | float32
}

// FromGenericsType returns the DType enum for the given type.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case int8:
		return Int8
	case int32:
		return Int32
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case float32:
		return Float32
	}
	return InvalidDType
}

// Pre-generate constant reflect.TypeOf for convenience.
var (
	int8Type     = reflect.TypeOf(int8(0))
	int32Type    = reflect.TypeOf(int32(0))
	float32Type  = reflect.TypeOf(float32(0))
	float16Type  = reflect.TypeOf(float16.Float16(0))
	bfloat16Type = reflect.TypeOf(bfloat16.BFloat16(0))
)

// GoType returns the Go `reflect.Type` corresponding to the DType.
// It panics for unknown DType values.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Int8:
		return int8Type
	case Int32:
		return int32Type
	case Float16:
		return float16Type
	case BFloat16:
		return bfloat16Type
	case Float32:
		return float32Type
	default:
		panicf("unknown dtype %q (%d) in DType.GoType", dtype, int32(dtype))
		panic(nil)
	}
}

// IsSupported returns whether dtype is one of the dtypes defined by this package.
func (dtype DType) IsSupported() bool {
	return dtype == Int8 || dtype == Int32 || dtype == Float16 || dtype == BFloat16 || dtype == Float32
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Bits returns the number of bits for the given DType.
func (dtype DType) Bits() int {
	return dtype.Size() * 8
}

// IsFloat returns whether dtype is a float.
func (dtype DType) IsFloat() bool {
	return dtype == Float32 || dtype == Float16 || dtype == BFloat16
}

// IsFloat16 returns whether dtype is a float with 16 bits: [Float16] or [BFloat16].
func (dtype DType) IsFloat16() bool {
	return dtype == Float16 || dtype == BFloat16
}

// IsInt returns whether dtype is an integer type.
func (dtype DType) IsInt() bool {
	return dtype == Int8 || dtype == Int32
}
