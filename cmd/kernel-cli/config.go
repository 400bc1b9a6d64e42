package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/metrics"
	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/vm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configKey   = "config"
	backendKey  = "backend"
	dbPathKey   = "db-path"
	repoKey     = "repo"
	receiptsKey = "receipts"
	logLevelKey = "log-level"
)

// fileConfig is the layout of the config file. Only the kernel section is
// decoded; the other keys mirror the global flags.
type fileConfig struct {
	Kernel api.KernelConfig `mapstructure:"kernel"`
}

// kernelFlags exposes the common kernel settings as flags.
func kernelFlags() *pflag.FlagSet {
	def := api.DefaultKernelConfig()
	fs := pflag.NewFlagSet("kernel", pflag.ContinueOnError)
	fs.Uint64("kernel.default_fee_limit", def.DefaultFeeLimit, "Fee limit of transactions that set none")
	fs.Uint64("kernel.max_code_size", def.MaxCodeSize, "Maximum size of published code in bytes")
	fs.Bool("kernel.wasm", def.WASM, "Enable published WebAssembly packages")
	fs.Int("kernel.limits.max_call_depth", def.Limits.MaxCallDepth, "Maximum call frame depth")
	return fs
}

// getViper returns the configuration of a command: flags override KERNEL_*
// environment variables, which override the config file.
func getViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("KERNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if path := v.GetString(configKey); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// loadConfig builds the engine configuration of a command.
func loadConfig(cmd *cobra.Command) (*vm.Config, *viper.Viper, error) {
	v, err := getViper(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(v.GetString(logLevelKey))
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	fc := fileConfig{Kernel: api.DefaultKernelConfig()}
	if err := v.Unmarshal(&fc); err != nil {
		return nil, nil, fmt.Errorf("invalid kernel config: %w", err)
	}

	backend, err := selectBackend(v.GetString(backendKey))
	if err != nil {
		return nil, nil, err
	}

	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return &vm.Config{
		Kernel:        fc.Kernel,
		Backend:       backend,
		BackendParams: map[string]any{"db_path": v.GetString(dbPathKey)},
		ReceiptDBPath: v.GetString(receiptsKey),
		Metrics:       collector,
		Logger:        logger,
	}, v, nil
}

// selectBackend makes name the default backend of the state registry. An
// empty name keeps the registry default.
func selectBackend(name string) (state.BackendType, error) {
	if name != "" {
		if err := state.SetDefault(state.BackendType(name)); err != nil {
			return "", fmt.Errorf("%w (registered: %v)", err, state.ListRegistered())
		}
	}
	return state.GetRegistry().DefaultBackend(), nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
