// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scaledmm

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/gomlx/fusedmm/pkg/gemm"
	"github.com/pkg/errors"
)

// ConfigEnvVar is the environment variable with the configuration used by NewDefault.
//
// See ParseConfig for the format of the configuration string.
const ConfigEnvVar = "FUSEDMM_CONFIG"

// Config of an Op.
type Config struct {
	// Parallelism is the maximum number of row tiles processed in parallel.
	// If 0 the kernel runs inline (no goroutines), if -1 parallelism is unlimited.
	Parallelism int

	// RowTile is the number of output rows processed by each parallel task.
	RowTile int

	// ForceNullable makes the operator always use the ScaledNullable pipeline, instead of the dedicated
	// pipeline for the combination of operands given.
	ForceNullable bool
}

// DefaultConfig returns the configuration used for the options not given in the configuration string.
func DefaultConfig() Config {
	return Config{
		Parallelism: runtime.NumCPU(),
		RowTile:     gemm.DefaultRowTile,
	}
}

// ParseConfig parses a comma-separated list of options, starting from the DefaultConfig. Options:
//
//   - "parallelism=<n>": maximum number of parallel tasks; 0 to run inline, -1 for unlimited.
//   - "rowtile=<n>": number of output rows per task, must be > 0.
//   - "nullable" or "nullable=<bool>": always use the ScaledNullable pipeline.
//
// Example: "parallelism=4,rowtile=32,nullable". An empty string returns the DefaultConfig.
func ParseConfig(config string) (Config, error) {
	c := DefaultConfig()
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "parallelism":
			n, err := strconv.Atoi(value)
			if err != nil || n < -1 {
				return c, errors.Errorf("invalid value %q for option %q in configuration %q: "+
					"it must be an integer >= -1", value, key, config)
			}
			c.Parallelism = n
		case "rowtile":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return c, errors.Errorf("invalid value %q for option %q in configuration %q: "+
					"it must be a positive integer", value, key, config)
			}
			c.RowTile = n
		case "nullable":
			c.ForceNullable = true
			if hasValue {
				b, err := strconv.ParseBool(value)
				if err != nil {
					return c, errors.Wrapf(err, "invalid value for option %q in configuration %q", key, config)
				}
				c.ForceNullable = b
			}
		default:
			return c, errors.Errorf("unknown configuration option %q in configuration %q", part, config)
		}
	}
	return c, nil
}

// String returns the configuration in the format accepted by ParseConfig.
func (c Config) String() string {
	s := fmt.Sprintf("parallelism=%d,rowtile=%d", c.Parallelism, c.RowTile)
	if c.ForceNullable {
		s += ",nullable"
	}
	return s
}
