package vm

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/blueprints"
	"github.com/govm-net/kernel/blueprints/processor"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/kernel"
	"github.com/govm-net/kernel/manifest"
	"github.com/govm-net/kernel/metrics"
	"github.com/govm-net/kernel/receipt"
	"github.com/govm-net/kernel/security"
	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/system"
	"github.com/govm-net/kernel/types"
	"github.com/govm-net/kernel/wasi"
	"lukechampine.com/blake3"

	_ "github.com/govm-net/kernel/state/badger"
	_ "github.com/govm-net/kernel/state/db"
	_ "github.com/govm-net/kernel/state/memory"
)

// Engine executes transactions against a substate database and commits the
// successful ones.
type Engine struct {
	config     *Config
	db         state.Database
	runtime    *wasi.Runtime
	dispatcher *Dispatcher
	receipts   *receipt.Store
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// Config represents engine configuration
type Config struct {
	Kernel        api.KernelConfig
	Backend       state.BackendType // Substate database backend
	BackendParams map[string]any    // Backend specific parameters
	ReceiptDBPath string            // Receipt database, empty disables persistence
	Metrics       *metrics.Collector
	Logger        *slog.Logger
}

// DefaultConfig returns an in-memory engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Kernel:  api.DefaultKernelConfig(),
		Backend: state.MemoryBackend,
	}
}

// Transaction is a manifest submitted for execution.
type Transaction struct {
	Manifest *manifest.Manifest
	Nonce    uint64
	// FeeLimit overrides the manifest and engine fee limits when non zero.
	FeeLimit uint64
}

// Hash identifies the transaction. Node ids of the transaction are derived
// from it.
func (tx *Transaction) Hash() (types.Hash, error) {
	args, err := tx.Manifest.Compile()
	if err != nil {
		return types.Hash{}, err
	}
	body, err := json.Marshal(args)
	if err != nil {
		return types.Hash{}, fmt.Errorf("failed to encode transaction: %w", err)
	}
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], tx.Nonce)
	h := blake3.New(32, nil)
	h.Write(body)
	h.Write(nonce[:])
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// NewEngine creates a new engine
func NewEngine(config *Config) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := state.Open(config.Backend, config.BackendParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open substate database: %w", err)
	}

	var runtime *wasi.Runtime
	if config.Kernel.WASM {
		runtime, err = wasi.NewRuntime(context.Background(), wasi.Options{
			HostCallCost: config.Kernel.Costs.HostCall,
			Logger:       logger,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create wasm runtime: %w", err)
		}
	}

	dispatcher, err := NewDispatcher(runtime, blueprints.Registered()...)
	if err != nil {
		closeAll(db, runtime, nil)
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	var receipts *receipt.Store
	if config.ReceiptDBPath != "" {
		receipts, err = receipt.NewStore(config.ReceiptDBPath)
		if err != nil {
			closeAll(db, runtime, nil)
			return nil, err
		}
	}

	return &Engine{
		config:     config,
		db:         db,
		runtime:    runtime,
		dispatcher: dispatcher,
		receipts:   receipts,
		metrics:    config.Metrics,
		logger:     logger,
	}, nil
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if config.Backend == "" {
		return fmt.Errorf("backend is empty")
	}
	return config.Kernel.Validate()
}

// Database returns the committed substate database.
func (e *Engine) Database() state.Database {
	return e.db
}

// Receipts returns the receipt store, or nil when persistence is disabled.
func (e *Engine) Receipts() *receipt.Store {
	return e.receipts
}

// Dispatcher returns the native and WASM dispatch table of the engine.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Execute runs a transaction and commits its state updates if it succeeds.
// A failed transaction is reported through the receipt; the returned error
// is reserved for malformed transactions and storage failures.
func (e *Engine) Execute(ctx context.Context, tx *Transaction) (*receipt.TransactionReceipt, error) {
	if tx == nil || tx.Manifest == nil {
		return nil, fmt.Errorf("transaction has no manifest")
	}
	args, err := tx.Manifest.Compile()
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	input, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode instructions: %w", err)
	}

	start := time.Now()
	fees := costing.NewFeeReserve(e.feeLimit(tx), e.config.Kernel.Costs)
	tracer := security.NewCallTracer()
	track := state.NewTrack(e.db)
	k := kernel.New(track, kernel.Options{
		Limits:  e.config.Kernel.Limits,
		Fees:    fees,
		Tracer:  tracer,
		Metrics: e.metrics,
		Logger:  e.logger,
	})
	sys := system.New(ctx, k, kernel.NewIDAllocator(hash), e.dispatcher, system.Options{
		Fees:      fees,
		MaxEvents: e.config.Kernel.Limits.MaxEvents,
		Logger:    e.logger,
	})

	r := receipt.New(hash)
	output, runErr := sys.Root().CallFunction(core.BlueprintID{
		Package:   types.TransactionProcessorPackage,
		Blueprint: processor.Blueprint,
	}, "run", input)

	var updates *state.StateUpdates
	if runErr == nil {
		updates, runErr = k.Finalize()
	}
	if runErr == nil {
		r.Outputs, runErr = splitOutputs(output)
	}
	r.Trace = tracer.Entries()
	r.FeeConsumed = fees.Consumed()
	r.FeeBreakdown = fees.Breakdown()

	if runErr != nil {
		cause := runErr
		if aborted := k.AbortCause(); aborted != nil {
			cause = aborted
		}
		r.Fail(cause)
		e.logger.Info("Transaction failed", "tx", hash, "class", r.ErrorClass, "error", r.Error)
	} else {
		if err := e.db.Commit(updates); err != nil {
			return nil, fmt.Errorf("failed to commit transaction %s: %w", hash, err)
		}
		r.Outcome = receipt.Success
		r.StateUpdates = updates
		r.Changes = track.ChangeLog()
		r.Events = sys.Events()
		e.logger.Info("Transaction committed", "tx", hash, "updates", updates.Len(), "events", len(r.Events), "fee", r.FeeConsumed)
	}
	e.metrics.ObserveTransaction(string(r.Outcome), string(r.ErrorClass), time.Since(start))

	if e.receipts != nil {
		if err := e.receipts.Save(r); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (e *Engine) feeLimit(tx *Transaction) uint64 {
	switch {
	case tx.FeeLimit > 0:
		return tx.FeeLimit
	case tx.Manifest.FeeLimit > 0:
		return tx.Manifest.FeeLimit
	default:
		return e.config.Kernel.DefaultFeeLimit
	}
}

// splitOutputs turns the processor's output array into one value per
// instruction.
func splitOutputs(output []byte) ([]json.RawMessage, error) {
	var outputs []json.RawMessage
	if err := json.Unmarshal(output, &outputs); err != nil {
		return nil, core.NewSchemaError(core.ErrSchemaMismatch, "processor output: %v", err)
	}
	return outputs, nil
}

// Close closes the engine
func (e *Engine) Close() error {
	return closeAll(e.db, e.runtime, e.receipts)
}

func closeAll(db state.Database, runtime *wasi.Runtime, receipts *receipt.Store) error {
	var errs []error
	if runtime != nil {
		if err := runtime.Close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to close wasm runtime: %w", err))
		}
	}
	if receipts != nil {
		if err := receipts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close receipt store: %w", err))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close substate database: %w", err))
		}
	}
	return errors.Join(errs...)
}
