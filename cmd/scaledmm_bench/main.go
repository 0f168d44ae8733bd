// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// scaledmm_bench runs the fused scaled matrix multiplication on random inputs, and reports its throughput.
//
// Example:
//
//	scaledmm_bench -m=512 -k=1024 -n=512 -dtype=int8 -out=bf16 -bias -tail -config="parallelism=8"
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/fusedmm/pkg/core/dtypes"
	"github.com/gomlx/fusedmm/pkg/core/tensors"
	"github.com/gomlx/fusedmm/pkg/scaledmm"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagM      = flag.Int("m", 256, "Number of rows of A and of the output.")
	flagK      = flag.Int("k", 512, "Contracting dimension: columns of A and rows of B.")
	flagN      = flag.Int("n", 256, "Number of columns of B and of the output.")
	flagDType  = flag.String("dtype", "int8", "DType of the operands A and B: int8, float16 or bfloat16.")
	flagOut    = flag.String("out", "float32", "DType of the output: float32, float16, bfloat16 or int8.")
	flagBias   = flag.Bool("bias", false, "Add a per-column bias.")
	flagTail   = flag.Bool("tail", false, "Multiply the result by a per-column tail scale.")
	flagPerRow = flag.Bool("per_row", true, "Use per-row (A) and per-column (B) scales, instead of per-tensor scales.")
	flagIters  = flag.Int("iters", 20, "Number of timed iterations.")
	flagConfig = flag.String("config", "", "Operator configuration, e.g. \"parallelism=4,rowtile=32,nullable\". "+
		"If empty, $"+scaledmm.ConfigEnvVar+" is used, if set.")
	flagSeed = flag.Uint64("seed", 42, "Seed for the random inputs.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagM <= 0 || *flagK <= 0 || *flagN <= 0 || *flagIters <= 0 {
		klog.Errorf("Flags -m, -k, -n and -iters must be positive. See 'scaledmm_bench -help'.")
		os.Exit(1)
	}
	operandDType := must.M1(dtypes.FromName(*flagDType))
	outDType := must.M1(dtypes.FromName(*flagOut))

	var op *scaledmm.Op
	if *flagConfig != "" {
		op = must.M1(scaledmm.New(*flagConfig))
	} else {
		op = must.M1(scaledmm.NewDefault())
	}

	in := newInputs(rand.New(rand.NewPCG(*flagSeed, 0)), operandDType, outDType, *flagM, *flagK, *flagN)
	pipeline := op.Pipeline(in.bias, in.tail)
	klog.V(1).Infof("Benchmarking %s with pipeline %s", op, pipeline)

	// Warm-up, also checks the operands are valid.
	output := must.M1(op.ScaledMM(outDType, in.a, in.b, in.scaleA, in.scaleB, in.bias, in.tail))

	bar := progressbar.NewOptions(*flagIters,
		progressbar.OptionSetDescription("ScaledMM"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("calls"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	start := time.Now()
	for range *flagIters {
		output = must.M1(op.ScaledMM(outDType, in.a, in.b, in.scaleA, in.scaleB, in.bias, in.tail))
		_ = bar.Add(1)
	}
	elapsed := time.Since(start)
	_ = bar.Finish()

	report(op, pipeline.String(), in, output, elapsed)
}

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	keyStyle         = lipgloss.NewStyle().Align(lipgloss.Right).PaddingLeft(1).PaddingRight(1)
	valueStyle       = lipgloss.NewStyle().Align(lipgloss.Left).PaddingLeft(1).PaddingRight(1)
	tableBorderColor = "#705090"
)

func report(op *scaledmm.Op, pipeline string, in *inputs, output *tensors.Tensor, elapsed time.Duration) {
	iters := int64(*flagIters)
	perCall := elapsed / time.Duration(iters)
	m, k, n := int64(*flagM), int64(*flagK), int64(*flagN)
	flopsPerCall := 2 * m * k * n
	flops := float64(flopsPerCall*iters) / elapsed.Seconds()
	bytesPerCall := uint64(in.a.Memory() + in.b.Memory() + output.Memory())

	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return valueStyle
		})
	table.Row("operator", op.String())
	table.Row("pipeline", pipeline)
	table.Row("A × B", fmt.Sprintf("%s × %s", in.a.Shape(), in.b.Shape()))
	table.Row("output", output.Shape().String())
	table.Row("iterations", humanize.Comma(iters))
	table.Row("time per call", perCall.String())
	table.Row("bytes per call", humanize.Bytes(bytesPerCall))
	table.Row("throughput", humanize.SIWithDigits(flops, 2, "FLOP/s"))
	fmt.Println(titleStyle.Render("Fused ScaledMM"))
	fmt.Println(table.Render())
}
