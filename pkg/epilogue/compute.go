// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package epilogue

// Coordinate of an output element being computed by the fused kernel, along with its
// matmul accumulator value already converted to float32.
type Coordinate struct {
	Row, Col int
	Acc      float32
}

// Node is a node of an epilogue tree, with its run-time arguments of type Args.
//
// Visit returns the value of the node for the output element at the given coordinate, in float32.
// It is called once per output element, concurrently, so it must not modify args.
type Node[Args any] interface {
	Visit(args *Args, at Coordinate) float32
}

// Root is an epilogue tree that produces the final output of type D.
// All pipelines of this package implement it.
type Root[Args any, D Element] interface {
	VisitOut(args *Args, at Coordinate) D
}

// AccFetch is the leaf that returns the matmul accumulator of the output element.
// Its backing buffer is the kernel's own accumulator, so it takes no arguments.
type AccFetch struct{}

// AccArgs are the (empty) arguments of AccFetch.
type AccArgs struct{}

// Visit implements Node.
func (AccFetch) Visit(_ *AccArgs, at Coordinate) float32 {
	return at.Acc
}

func multiplies(x, y float32) float32 {
	return x * y
}

func multiplyAdd(x, y, z float32) float32 {
	return x*y + z
}

// MulArgs are the arguments of Mul: the arguments of each child, in the same order as the children.
type MulArgs[XA, YA any] struct {
	X XA
	Y YA
}

// Mul is the compute node X ⊙ Y.
//
// The children are evaluated in float32, and the product is converted to Out rounding to nearest.
// Use Out=float32 for intermediate nodes, so no rounding happens before the root.
type Mul[Out Element, XA any, XN Node[XA], YA any, YN Node[YA]] struct {
	X XN
	Y YN
}

// VisitOut returns the node's value converted to the output type.
func (n Mul[Out, XA, XN, YA, YN]) VisitOut(args *MulArgs[XA, YA], at Coordinate) Out {
	return fromFloat32[Out](multiplies(n.X.Visit(&args.X, at), n.Y.Visit(&args.Y, at)))
}

// Visit implements Node.
func (n Mul[Out, XA, XN, YA, YN]) Visit(args *MulArgs[XA, YA], at Coordinate) float32 {
	return toFloat32(n.VisitOut(args, at))
}

// MulAddArgs are the arguments of MulAdd, in the same order as the children.
type MulAddArgs[XA, YA, ZA any] struct {
	X XA
	Y YA
	Z ZA
}

// MulAdd is the compute node X ⊙ Y + Z.
//
// As with Mul, the children are evaluated in float32 and only the result is converted to Out.
type MulAdd[Out Element, XA any, XN Node[XA], YA any, YN Node[YA], ZA any, ZN Node[ZA]] struct {
	X XN
	Y YN
	Z ZN
}

// VisitOut returns the node's value converted to the output type.
func (n MulAdd[Out, XA, XN, YA, YN, ZA, ZN]) VisitOut(args *MulAddArgs[XA, YA, ZA], at Coordinate) Out {
	return fromFloat32[Out](multiplyAdd(n.X.Visit(&args.X, at), n.Y.Visit(&args.Y, at), n.Z.Visit(&args.Z, at)))
}

// Visit implements Node.
func (n MulAdd[Out, XA, XN, YA, YN, ZA, ZN]) Visit(args *MulAddArgs[XA, YA, ZA], at Coordinate) float32 {
	return toFloat32(n.VisitOut(args, at))
}
