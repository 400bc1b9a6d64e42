// Package api holds the configuration shared by the engine and its
// embedders. It is not used by blueprint code.
package api

import (
	"fmt"

	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/security"
)

// KernelConfig defines the limits and prices applied to every transaction
type KernelConfig struct {
	// DefaultFeeLimit is used when a transaction does not set its own
	DefaultFeeLimit uint64 `mapstructure:"default_fee_limit" yaml:"default_fee_limit"`

	// MaxCodeSize is the maximum size of published WASM code in bytes
	MaxCodeSize uint64 `mapstructure:"max_code_size" yaml:"max_code_size"`

	// WASM disables published packages when false; only native blueprints run
	WASM bool `mapstructure:"wasm" yaml:"wasm"`

	Limits security.Limits   `mapstructure:"limits" yaml:"limits"`
	Costs  costing.CostTable `mapstructure:"costs" yaml:"costs"`
}

// DefaultKernelConfig returns a default configuration
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		DefaultFeeLimit: 10_000_000,
		MaxCodeSize:     4 * 1024 * 1024, // 4MB
		WASM:            true,
		Limits:          security.DefaultLimits(),
		Costs:           costing.DefaultCostTable(),
	}
}

// Validate checks the configuration
func (c KernelConfig) Validate() error {
	if c.DefaultFeeLimit == 0 {
		return fmt.Errorf("default fee limit is zero")
	}
	if c.MaxCodeSize == 0 {
		return fmt.Errorf("invalid max code size: %d", c.MaxCodeSize)
	}
	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("invalid limits: %w", err)
	}
	return nil
}
