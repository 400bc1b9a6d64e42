// Package wasi runs WebAssembly blueprints on wazero. A guest reaches the
// system layer through a single `call_host` import and exchanges JSON
// payloads through its own linear memory.
package wasi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Guest ABI exports
const (
	AllocateExport = "allocate"
	MemoryExport   = "memory"
)

var (
	// ErrGuestAbort is raised when the guest calls the abort import.
	ErrGuestAbort = errors.New("guest aborted")
	// ErrGuestTrap is raised when the guest traps.
	ErrGuestTrap = errors.New("guest trapped")
	// ErrInvalidModule reports code that does not follow the guest ABI.
	ErrInvalidModule = errors.New("invalid wasm module")
)

// Options configures a Runtime.
type Options struct {
	// HostCallCost is charged for every call_host invocation.
	HostCallCost uint64
	Logger       *slog.Logger
}

// Runtime compiles and runs blueprint modules. Compiled modules are cached by
// code hash and shared; every invocation gets a fresh instance.
type Runtime struct {
	runtime      wazero.Runtime
	hostCallCost uint64
	logger       *slog.Logger

	mu       sync.Mutex
	compiled map[types.Hash]wazero.CompiledModule
}

type stateKey struct{}

// callState carries the system API of one invocation into host functions.
type callState struct {
	api core.SystemAPI
	err error
}

// NewRuntime creates a runtime with the env host module instantiated.
func NewRuntime(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Runtime{
		runtime:      wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true)),
		hostCallCost: opts.HostCallCost,
		logger:       opts.Logger,
		compiled:     make(map[types.Hash]wazero.CompiledModule),
	}

	builder := r.runtime.NewHostModuleBuilder("env")
	builder.NewFunctionBuilder().
		WithParameterNames("funcID", "argPtr", "argLen").
		WithResultNames("result").
		WithFunc(r.callHost).
		Export("call_host")
	builder.NewFunctionBuilder().
		WithParameterNames("msgPtr", "msgLen").
		WithFunc(r.abort).
		Export("abort")
	if _, err := builder.Instantiate(ctx); err != nil {
		r.runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate env module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r.runtime); err != nil {
		r.runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate wasi: %w", err)
	}
	return r, nil
}

// Close releases the runtime and every compiled module.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// Compile validates code and caches the compiled module under hash.
func (r *Runtime) Compile(ctx context.Context, hash types.Hash, code []byte) (wazero.CompiledModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cm, ok := r.compiled[hash]; ok {
		return cm, nil
	}
	cm, err := r.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModule, err)
	}
	if _, ok := cm.ExportedFunctions()[AllocateExport]; !ok {
		cm.Close(ctx)
		return nil, fmt.Errorf("%w: %s not exported", ErrInvalidModule, AllocateExport)
	}
	if _, ok := cm.ExportedMemories()[MemoryExport]; !ok {
		cm.Close(ctx)
		return nil, fmt.Errorf("%w: %s not exported", ErrInvalidModule, MemoryExport)
	}
	r.compiled[hash] = cm
	r.logger.Debug("compiled wasm module", "hash", hash, "size", len(code))
	return cm, nil
}

// Invoke instantiates the module and calls export with the envelope of the
// invocation. Host calls made by the guest go to sys.
func (r *Runtime) Invoke(ctx context.Context, sys core.SystemAPI, hash types.Hash, code []byte, export string, env *types.InvocationEnvelope) ([]byte, error) {
	cm, err := r.Compile(ctx, hash, code)
	if err != nil {
		return nil, core.NewSystemError(core.ErrUnsupportedBlueprint, "%v", err)
	}
	input, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize invocation: %w", err)
	}

	st := &callState{api: sys}
	callCtx := context.WithValue(ctx, stateKey{}, st)

	mod, err := r.runtime.InstantiateModule(callCtx, cm, wazero.NewModuleConfig().WithName("").WithStartFunctions("_initialize"))
	if err != nil {
		return nil, core.NewSystemError(core.ErrUnsupportedBlueprint, "failed to instantiate module: %v", err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(export)
	if fn == nil {
		return nil, core.NewSystemError(core.ErrFunctionNotFound, "export %s", export)
	}

	ptr, err := writeGuest(callCtx, mod, input)
	if err != nil {
		return nil, core.NewSystemError(core.ErrInvalidHostCall, "%v", err)
	}
	results, err := fn.Call(callCtx, uint64(ptr), uint64(len(input)))
	if st.err != nil {
		return nil, st.err
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.NewApplicationError(ErrGuestTrap, "%s: %v", export, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return readGuest(mod, results[0])
}

// callHost is the `call_host` import. Errors are kept in the call state and
// unwind the guest through a panic, which wazero returns from Call.
func (r *Runtime) callHost(ctx context.Context, m api.Module, funcID, argPtr, argLen uint32) uint64 {
	st, ok := ctx.Value(stateKey{}).(*callState)
	if !ok {
		panic(core.NewSystemError(core.ErrInvalidHostCall, "call_host outside an invocation"))
	}
	fail := func(err error) {
		if st.err == nil {
			st.err = err
		}
		panic(err)
	}

	if err := st.api.ConsumeCost(r.hostCallCost, costing.ReasonHostCall); err != nil {
		fail(err)
	}
	arg, ok := m.Memory().Read(argPtr, argLen)
	if !ok {
		fail(core.NewSystemError(core.ErrInvalidHostCall, "argument out of bounds: %d+%d", argPtr, argLen))
	}
	// The guest may reuse its buffer once we return.
	arg = append([]byte(nil), arg...)

	out, err := dispatchHost(st.api, types.HostFunctionID(funcID), arg)
	if err != nil {
		fail(err)
	}
	if len(out) == 0 {
		return 0
	}
	ptr, err := writeGuest(ctx, m, out)
	if err != nil {
		fail(core.NewSystemError(core.ErrInvalidHostCall, "%v", err))
	}
	return uint64(ptr)<<32 | uint64(len(out))
}

func (r *Runtime) abort(ctx context.Context, m api.Module, msgPtr, msgLen uint32) {
	msg, _ := m.Memory().Read(msgPtr, msgLen)
	err := core.NewApplicationError(ErrGuestAbort, "%s", string(msg))
	if st, ok := ctx.Value(stateKey{}).(*callState); ok && st.err == nil {
		st.err = err
	}
	panic(err)
}

// writeGuest copies data into memory obtained from the guest allocator.
func writeGuest(ctx context.Context, m api.Module, data []byte) (uint32, error) {
	allocate := m.ExportedFunction(AllocateExport)
	if allocate == nil {
		return 0, fmt.Errorf("%s function not found", AllocateExport)
	}
	res, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate memory: %w", err)
	}
	ptr := uint32(res[0])
	if !m.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("failed to write to memory: %d+%d", ptr, len(data))
	}
	return ptr, nil
}

// readGuest decodes a packed ptr<<32|len result. Zero means no output.
func readGuest(m api.Module, packed uint64) ([]byte, error) {
	if packed == 0 {
		return nil, nil
	}
	ptr, n := uint32(packed>>32), uint32(packed)
	data, ok := m.Memory().Read(ptr, n)
	if !ok {
		return nil, core.NewSystemError(core.ErrInvalidHostCall, "failed to read memory:%d, len:%d", ptr, n)
	}
	return append([]byte(nil), data...), nil
}

// ModuleInfo describes the ABI surface of a compiled module.
type ModuleInfo struct {
	Exports []string
	Imports []string
}

// Inspect compiles code without instantiating it and lists its functions.
func Inspect(ctx context.Context, code []byte) (*ModuleInfo, error) {
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	cm, err := r.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModule, err)
	}
	info := &ModuleInfo{}
	for name := range cm.ExportedFunctions() {
		info.Exports = append(info.Exports, name)
	}
	for _, def := range cm.ImportedFunctions() {
		mod, name, _ := def.Import()
		info.Imports = append(info.Imports, mod+"."+name)
	}
	sort.Strings(info.Exports)
	sort.Strings(info.Imports)
	return info, nil
}
