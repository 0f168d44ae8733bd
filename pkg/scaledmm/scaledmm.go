// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scaledmm implements the host side of the fused scaled matrix multiplication, similar to
// torch._scaled_mm:
//
//	D = Tail ⊙ (ScaleA ⊙ (ScaleB ⊙ (A × B)) + Bias)
//
// where A and B are symmetric quantized (Int8) or low-precision float (Float16, BFloat16) matrices,
// ScaleA and ScaleB are Float32 scales (per-tensor, per-row of A or per-column of B), and the optional
// Bias and Tail have one value per output column, of the output dtype.
//
// Op.ScaledMM validates the operands, selects the epilogue pipeline for the combination of optional
// operands given, prepares its arguments and runs the fused kernel (package gemm).
package scaledmm

import (
	"os"

	"github.com/gomlx/fusedmm/internal/workerspool"
	"github.com/gomlx/fusedmm/pkg/core/dtypes"
	"github.com/gomlx/fusedmm/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/fusedmm/pkg/core/shapes"
	"github.com/gomlx/fusedmm/pkg/core/tensors"
	"github.com/gomlx/fusedmm/pkg/epilogue"
	"github.com/gomlx/fusedmm/pkg/gemm"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Op is the fused scaled matrix multiplication operator. It is safe for concurrent use.
type Op struct {
	config Config
	pool   *workerspool.Pool
}

// New creates an Op with the given configuration. See ParseConfig for its format.
func New(config string) (*Op, error) {
	c, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(c), nil
}

// NewWithConfig creates an Op from a parsed Config.
func NewWithConfig(config Config) *Op {
	if config.RowTile <= 0 {
		config.RowTile = gemm.DefaultRowTile
	}
	return &Op{
		config: config,
		pool:   workerspool.NewWithParallelism(config.Parallelism),
	}
}

// NewDefault creates an Op configured from the environment variable ConfigEnvVar, if set,
// or with the DefaultConfig otherwise.
func NewDefault() (*Op, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if !found {
		return NewWithConfig(DefaultConfig()), nil
	}
	op, err := New(config)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing $%s", ConfigEnvVar)
	}
	return op, nil
}

// Config returns the configuration of the Op.
func (op *Op) Config() Config { return op.config }

// String implements fmt.Stringer.
func (op *Op) String() string { return "ScaledMM(" + op.config.String() + ")" }

// SelectPipeline returns the dedicated pipeline for the combination of optional operands present.
func SelectPipeline(hasBias, hasTail bool) epilogue.Kind {
	switch {
	case hasBias && hasTail:
		return epilogue.KindScaledBiasTail
	case hasBias:
		return epilogue.KindScaledBias
	case hasTail:
		return epilogue.KindScaledTail
	default:
		return epilogue.KindScaled
	}
}

// Pipeline returns the pipeline the Op uses for the given optional operands.
// It is ScaledNullable if the Op was configured with ForceNullable.
func (op *Op) Pipeline(bias, tail tensors.Optional) epilogue.Kind {
	if op.config.ForceNullable {
		return epilogue.KindScaledNullable
	}
	return SelectPipeline(bias.IsPresent(), tail.IsPresent())
}

// ScaledMM computes Tail ⊙ (ScaleA ⊙ (ScaleB ⊙ (A × B)) + Bias), with the result in outDType.
//
//   - a is [M, K] and b is [K, N], both of the same dtype: Int8, Float16 or BFloat16.
//   - scaleA is Float32 with 1 element (per-tensor) or M elements (per-row).
//   - scaleB is Float32 with 1 element (per-tensor) or N elements (per-column).
//   - bias and tail are optional. If present, they must have N elements of dtype outDType.
//   - outDType is one of Float32, Float16, BFloat16 or Int8. Int8 outputs are rounded to the nearest
//     value (ties to even) and saturated.
//
// It returns a new [M, N] tensor. Nothing is allocated or computed if an operand is invalid.
func (op *Op) ScaledMM(outDType dtypes.DType, a, b, scaleA, scaleB *tensors.Tensor,
	bias, tail tensors.Optional) (*tensors.Tensor, error) {
	dims, err := validate(outDType, a, b, scaleA, scaleB, bias, tail)
	if err != nil {
		return nil, errors.WithMessage(err, "ScaledMM")
	}
	kind := op.Pipeline(bias, tail)
	klog.V(1).Infof("ScaledMM: %s x %s -> %s, pipeline %s", a.Shape(), b.Shape(), outDType, kind)

	var output *tensors.Tensor
	switch outDType {
	case dtypes.Float32:
		output, err = scaledMMForOutput[float32](op, kind, a, b, scaleA, scaleB, bias, tail, dims)
	case dtypes.Float16:
		output, err = scaledMMForOutput[float16.Float16](op, kind, a, b, scaleA, scaleB, bias, tail, dims)
	case dtypes.BFloat16:
		output, err = scaledMMForOutput[bfloat16.BFloat16](op, kind, a, b, scaleA, scaleB, bias, tail, dims)
	case dtypes.Int8:
		output, err = scaledMMForOutput[int8](op, kind, a, b, scaleA, scaleB, bias, tail, dims)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "ScaledMM (pipeline %s)", kind)
	}
	return output, nil
}

// matmulDims are the dimensions of a [M, K] x [K, N] matrix multiplication.
type matmulDims struct {
	m, k, n int
}

// validate the operands of ScaledMM, and returns the dimensions of the matrix multiplication.
func validate(outDType dtypes.DType, a, b, scaleA, scaleB *tensors.Tensor,
	bias, tail tensors.Optional) (dims matmulDims, err error) {
	switch outDType {
	case dtypes.Float32, dtypes.Float16, dtypes.BFloat16, dtypes.Int8:
	default:
		return dims, errors.Errorf("output dtype %s not supported, it must be Float32, Float16, BFloat16 or Int8", outDType)
	}
	if !a.Ok() || !b.Ok() {
		return dims, errors.New("operands a and b must be valid non-nil tensors")
	}
	if a.Rank() != 2 || b.Rank() != 2 {
		return dims, errors.Errorf("operands a and b must be matrices (rank 2), got a.shape=%s and b.shape=%s",
			a.Shape(), b.Shape())
	}
	if a.DType() != b.DType() {
		return dims, errors.Errorf("operands a and b must have the same dtype, got a.shape=%s and b.shape=%s",
			a.Shape(), b.Shape())
	}
	switch a.DType() {
	case dtypes.Int8, dtypes.Float16, dtypes.BFloat16:
	default:
		return dims, errors.Errorf("operand dtype %s not supported, it must be Int8, Float16 or BFloat16", a.DType())
	}
	dims = matmulDims{m: a.Shape().Dim(0), k: a.Shape().Dim(1), n: b.Shape().Dim(1)}
	if b.Shape().Dim(0) != dims.k {
		return dims, errors.Errorf("contracting dimensions don't match: a.shape=%s and b.shape=%s",
			a.Shape(), b.Shape())
	}
	if err = validateScale("scaleA", scaleA, dims.m); err != nil {
		return
	}
	if err = validateScale("scaleB", scaleB, dims.n); err != nil {
		return
	}
	if err = validatePerColumn("bias", bias, outDType, dims.n); err != nil {
		return
	}
	err = validatePerColumn("tail", tail, outDType, dims.n)
	return
}

// validateScale checks that a scale is Float32 with 1 or vectorSize elements.
func validateScale(name string, scale *tensors.Tensor, vectorSize int) error {
	if scale == nil {
		return errors.Errorf("%s is required, got nil", name)
	}
	if scale.DType() != dtypes.Float32 {
		return errors.Errorf("%s must be Float32, got shape %s", name, scale.Shape())
	}
	if size := scale.Size(); size != 1 && size != vectorSize {
		return errors.Errorf("%s must have 1 or %d elements, got shape %s", name, vectorSize, scale.Shape())
	}
	return nil
}

// validatePerColumn checks that an optional per-column operand, if present, has n elements of the output dtype.
func validatePerColumn(name string, opt tensors.Optional, outDType dtypes.DType, n int) error {
	t, present := opt.Get()
	if !present {
		return nil
	}
	if t.DType() != outDType {
		return errors.Errorf("%s must have the output dtype %s, got shape %s", name, outDType, t.Shape())
	}
	if t.Size() != n {
		return errors.Errorf("%s must have %d elements (one per output column), got shape %s", name, n, t.Shape())
	}
	return nil
}

// scaledMMForOutput dispatches on the operands dtype.
func scaledMMForOutput[D epilogue.Element](op *Op, kind epilogue.Kind, a, b, scaleA, scaleB *tensors.Tensor,
	bias, tail tensors.Optional, dims matmulDims) (*tensors.Tensor, error) {
	switch a.DType() {
	case dtypes.Int8:
		return scaledMMTyped[int8, D](op, kind, a, b, scaleA, scaleB, bias, tail, dims)
	case dtypes.Float16:
		return scaledMMTyped[float16.Float16, D](op, kind, a, b, scaleA, scaleB, bias, tail, dims)
	case dtypes.BFloat16:
		return scaledMMTyped[bfloat16.BFloat16, D](op, kind, a, b, scaleA, scaleB, bias, tail, dims)
	}
	return nil, errors.Errorf("operand dtype %s not supported", a.DType())
}

// scaledMMTyped prepares the arguments of the selected pipeline and runs the fused kernel.
func scaledMMTyped[A gemm.Operand, D epilogue.Element](op *Op, kind epilogue.Kind, a, b, scaleA, scaleB *tensors.Tensor,
	bias, tail tensors.Optional, dims matmulDims) (*tensors.Tensor, error) {
	lhs, err := tensors.Flat[A](a)
	if err != nil {
		return nil, err
	}
	rhs, err := tensors.Flat[A](b)
	if err != nil {
		return nil, err
	}
	biasTensor, _ := bias.Get()
	tailTensor, _ := tail.Get()

	switch kind {
	case epilogue.KindScaled:
		epi := epilogue.Scaled[D]{}
		args, err := epi.Prepare(scaleA, scaleB)
		if err != nil {
			return nil, err
		}
		return runFused[A, D](op, lhs, rhs, dims, epi, &args)
	case epilogue.KindScaledBias:
		epi := epilogue.ScaledBias[D]{}
		args, err := epi.Prepare(scaleA, scaleB, biasTensor)
		if err != nil {
			return nil, err
		}
		return runFused[A, D](op, lhs, rhs, dims, epi, &args)
	case epilogue.KindScaledTail:
		epi := epilogue.ScaledTail[D]{}
		args, err := epi.Prepare(scaleA, scaleB, tailTensor)
		if err != nil {
			return nil, err
		}
		return runFused[A, D](op, lhs, rhs, dims, epi, &args)
	case epilogue.KindScaledBiasTail:
		epi := epilogue.ScaledBiasTail[D]{}
		args, err := epi.Prepare(scaleA, scaleB, biasTensor, tailTensor)
		if err != nil {
			return nil, err
		}
		return runFused[A, D](op, lhs, rhs, dims, epi, &args)
	case epilogue.KindScaledNullable:
		epi := epilogue.ScaledNullable[D]{}
		args, err := epi.Prepare(scaleA, scaleB, bias, tail)
		if err != nil {
			return nil, err
		}
		return runFused[A, D](op, lhs, rhs, dims, epi, &args)
	}
	return nil, errors.Errorf("unknown pipeline %s", kind)
}

// runFused allocates the output and runs the fused kernel with the prepared epilogue.
func runFused[A gemm.Operand, D epilogue.Element, Args any, E epilogue.Root[Args, D]](
	op *Op, lhs, rhs []A, dims matmulDims, epi E, args *Args) (*tensors.Tensor, error) {
	output := tensors.FromShape(shapes.Make(dtypes.FromGenericsType[D](), dims.m, dims.n))
	outputFlat, err := tensors.Flat[D](output)
	if err != nil {
		return nil, err
	}
	err = gemm.RunTiled(op.pool, op.config.RowTile, lhs, rhs, outputFlat, dims.m, dims.k, dims.n, epi, args)
	if err != nil {
		return nil, err
	}
	return output, nil
}
