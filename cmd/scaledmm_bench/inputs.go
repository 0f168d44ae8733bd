// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math/rand/v2"

	"github.com/gomlx/fusedmm/pkg/core/dtypes"
	"github.com/gomlx/fusedmm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/fusedmm/pkg/core/shapes"
	"github.com/gomlx/fusedmm/pkg/core/tensors"
	"github.com/gomlx/fusedmm/pkg/epilogue"
	"github.com/janpfeifer/must"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// inputs of one ScaledMM call.
type inputs struct {
	a, b, scaleA, scaleB *tensors.Tensor
	bias, tail           tensors.Optional
}

// newInputs creates random symmetric quantized operands and their scales.
func newInputs(rng *rand.Rand, operandDType, outDType dtypes.DType, m, k, n int) *inputs {
	in := &inputs{
		a:    randomTensor(rng, operandDType, -127, 127, m, k),
		b:    randomTensor(rng, operandDType, -127, 127, k, n),
		bias: tensors.None(),
		tail: tensors.None(),
	}
	if *flagPerRow {
		in.scaleA = randomTensor(rng, dtypes.Float32, 1e-3, 1e-2, m, 1)
		in.scaleB = randomTensor(rng, dtypes.Float32, 1e-3, 1e-2, 1, n)
	} else {
		in.scaleA = randomTensor(rng, dtypes.Float32, 1e-3, 1e-2, 1)
		in.scaleB = randomTensor(rng, dtypes.Float32, 1e-3, 1e-2, 1)
	}
	if *flagBias {
		in.bias = tensors.Some(randomTensor(rng, outDType, -2, 2, n))
	}
	if *flagTail {
		in.tail = tensors.Some(randomTensor(rng, outDType, 1, 2, n))
	}
	return in
}

// randomTensor returns a tensor with values uniformly distributed in [low, high), converted to dtype.
func randomTensor(rng *rand.Rand, dtype dtypes.DType, low, high float32, dimensions ...int) *tensors.Tensor {
	switch dtype {
	case dtypes.Float32:
		return randomTensorOf[float32](rng, low, high, dimensions)
	case dtypes.Float16:
		return randomTensorOf[float16.Float16](rng, low, high, dimensions)
	case dtypes.BFloat16:
		return randomTensorOf[bfloat16.BFloat16](rng, low, high, dimensions)
	case dtypes.Int8:
		return randomTensorOf[int8](rng, low, high, dimensions)
	}
	klog.Fatalf("dtype %s not supported by scaledmm_bench", dtype)
	return nil
}

func randomTensorOf[T epilogue.Element](rng *rand.Rand, low, high float32, dimensions []int) *tensors.Tensor {
	t := tensors.FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	flat := must.M1(tensors.Flat[T](t))
	for i := range flat {
		flat[i] = epilogue.Convert[T](low + rng.Float32()*(high-low))
	}
	return t
}
