package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/system"
	"github.com/govm-net/kernel/types"
	"github.com/govm-net/kernel/wasi"
)

// Invocable is one blueprint entry point.
type Invocable interface {
	Invoke(ctx context.Context, api core.SystemAPI, call *system.Call) ([]byte, error)
}

// NativeFunction adapts a Go implementation to Invocable.
type NativeFunction core.NativeFunction

func (f NativeFunction) Invoke(_ context.Context, api core.SystemAPI, call *system.Call) ([]byte, error) {
	return f(api, call.Receiver, call.Args)
}

// wasmExport runs an export of a published WASM package.
type wasmExport struct {
	runtime *wasi.Runtime
	export  string
}

func (w *wasmExport) Invoke(ctx context.Context, api core.SystemAPI, call *system.Call) ([]byte, error) {
	env := &types.InvocationEnvelope{Receiver: call.Receiver, Args: call.Args}
	return w.runtime.Invoke(ctx, api, call.CodeHash, call.Code, w.export, env)
}

type invocableKey struct {
	blueprint core.BlueprintID
	ident     string
}

// Dispatcher resolves calls to native functions or WASM exports. It is
// shared by the transactions of an engine.
type Dispatcher struct {
	runtime *wasi.Runtime

	mu       sync.RWMutex
	packages map[types.GlobalAddress]*object.NativePackage
	table    map[invocableKey]Invocable
}

var _ system.Invoker = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. A nil runtime disables WASM packages.
func NewDispatcher(runtime *wasi.Runtime, packages ...*object.NativePackage) (*Dispatcher, error) {
	d := &Dispatcher{
		runtime:  runtime,
		packages: make(map[types.GlobalAddress]*object.NativePackage),
		table:    make(map[invocableKey]Invocable),
	}
	for _, pkg := range packages {
		if err := d.Register(pkg); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds the functions of a native package to the dispatch table.
func (d *Dispatcher) Register(pkg *object.NativePackage) error {
	if err := pkg.Validate(); err != nil {
		return fmt.Errorf("invalid native package %s: %w", pkg.Address, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.packages[pkg.Address]; ok {
		return fmt.Errorf("native package %s already registered", pkg.Address)
	}
	d.packages[pkg.Address] = pkg
	for _, name := range pkg.Definition.Names() {
		bp := core.BlueprintID{Package: pkg.Address, Blueprint: name}
		for _, fn := range pkg.Definition.Blueprints[name].Functions {
			impl, _ := pkg.Function(name, fn.Export)
			d.table[invocableKey{bp, fn.Ident}] = NativeFunction(impl)
		}
	}
	return nil
}

// NativeDefinition implements system.Invoker.
func (d *Dispatcher) NativeDefinition(addr types.GlobalAddress) (*object.PackageDefinition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pkg, ok := d.packages[addr]
	if !ok {
		return nil, false
	}
	return pkg.Definition, true
}

// Lookup returns the entry point of a blueprint function.
func (d *Dispatcher) Lookup(call *system.Call) (Invocable, error) {
	key := invocableKey{call.Blueprint, call.Function.Ident}
	d.mu.RLock()
	inv, ok := d.table[key]
	d.mu.RUnlock()
	if ok {
		return inv, nil
	}
	if len(call.Code) == 0 {
		return nil, core.NewSystemError(core.ErrFunctionNotFound, "%s::%s", call.Blueprint, call.Function.Ident)
	}
	if d.runtime == nil {
		return nil, core.NewSystemError(core.ErrUnsupportedBlueprint, "wasm packages are disabled")
	}

	inv = &wasmExport{runtime: d.runtime, export: call.Function.Export}
	d.mu.Lock()
	d.table[key] = inv
	d.mu.Unlock()
	return inv, nil
}

// Invoke implements system.Invoker.
func (d *Dispatcher) Invoke(ctx context.Context, api core.SystemAPI, call *system.Call) ([]byte, error) {
	inv, err := d.Lookup(call)
	if err != nil {
		return nil, err
	}
	return inv.Invoke(ctx, api, call)
}
