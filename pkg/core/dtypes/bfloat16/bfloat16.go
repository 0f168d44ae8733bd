// Package bfloat16 is a trivial implementation for the bfloat16 type,
// based on https://github.com/x448/float16 and the pending issue in
// https://github.com/x448/float16/issues/22
package bfloat16

import (
	"math"
	"strconv"
)

// BFloat16 (brain floating point) floating-point format is a computer number format occupying 16 bits in
// computer memory. It is a shortened (16-bit) version of the 32-bit IEEE 754 single-precision floating-point
// format (binary32): same exponent range, 7 bits of mantissa.
type BFloat16 uint16

// Float32 converts the BFloat16 to a float32. It is exact.
func (f BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(f) << 16)
}

// FromFloat32 converts a float32 to a BFloat16, rounding to the nearest value (ties to even).
// NaN values are kept NaN (quiet).
func FromFloat32(x float32) BFloat16 {
	bits := math.Float32bits(x)
	if math.IsNaN(float64(x)) {
		return BFloat16(bits>>16 | 0x0040)
	}
	bits += 0x7FFF + (bits>>16)&1
	return BFloat16(bits >> 16)
}

// FromFloat32Truncated converts a float32 to a BFloat16 by dropping the lower 16 bits of the mantissa.
func FromFloat32Truncated(x float32) BFloat16 {
	return BFloat16(math.Float32bits(x) >> 16)
}

// FromFloat64 converts a float64 to a BFloat16.
func FromFloat64(x float64) BFloat16 {
	return FromFloat32(float32(x))
}

// FromBits convert an uint16 to a BFloat16.
func FromBits(bits uint16) BFloat16 {
	return BFloat16(bits)
}

// Bits convert BFloat16 to an uint16.
func (f BFloat16) Bits() uint16 {
	return uint16(f)
}

// String implements fmt.Stringer, and prints a float representation of the BFloat16.
func (f BFloat16) String() string {
	return strconv.FormatFloat(float64(f.Float32()), 'f', -1, 32)
}

// Inf returns a BFloat16 with an infinity value with the specified sign.
// A sign >= returns positive infinity.
// A sign < 0 returns negative infinity.
func Inf(sign int) BFloat16 {
	return FromFloat32(float32(math.Inf(sign)))
}
