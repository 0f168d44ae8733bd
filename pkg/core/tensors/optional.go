// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import "github.com/gomlx/exceptions"

// Optional is a tensor that may be absent: either Some(tensor) or None().
//
// The zero value is None(). Absence is checked with Get, it never dereferences a nil tensor.
type Optional struct {
	tensor *Tensor
}

// Some returns a present Optional holding t.
//
// It panics if t is nil: use None() for an absent tensor.
func Some(t *Tensor) Optional {
	if t == nil {
		exceptions.Panicf("tensors.Some(nil): use tensors.None() for an absent tensor")
	}
	return Optional{tensor: t}
}

// None returns an absent Optional.
func None() Optional {
	return Optional{}
}

// OptionalOf returns Some(t) if t is not nil, and None() otherwise.
func OptionalOf(t *Tensor) Optional {
	return Optional{tensor: t}
}

// Get returns the tensor and true if present, or nil and false if absent.
func (o Optional) Get() (*Tensor, bool) {
	return o.tensor, o.tensor != nil
}

// IsPresent returns whether the tensor is present.
func (o Optional) IsPresent() bool {
	return o.tensor != nil
}

// String implements fmt.Stringer.
func (o Optional) String() string {
	if o.tensor == nil {
		return "None"
	}
	return "Some(" + o.tensor.String() + ")"
}
