package metadata_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/govm-net/kernel/blueprints/metadata"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/manifest"
	"github.com/govm-net/kernel/receipt"
	"github.com/govm-net/kernel/types"
	"github.com/govm-net/kernel/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/govm-net/kernel/blueprints/natives"
)

type fixture struct {
	engine  *vm.Engine
	nonce   uint64
	account string
}

func setupAccount(t *testing.T) *fixture {
	cfg := vm.DefaultConfig()
	cfg.Kernel.WASM = false
	e, err := vm.NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	f := &fixture{engine: e}
	r := f.run(t, `
instructions:
  - call_function:
      package: account
      blueprint: Account
      function: create
      args: {metadata: {name: alice, symbol: ALC}}
`)
	require.True(t, r.Succeeded(), r.Error)
	var acct core.Reference
	require.NoError(t, json.Unmarshal(r.Outputs[0], &acct))
	addr, err := types.NewGlobalAddress(acct.ID)
	require.NoError(t, err)
	f.account = addr.String()
	return f
}

func (f *fixture) run(t *testing.T, text string) *receipt.TransactionReceipt {
	m, err := manifest.Parse([]byte(text))
	require.NoError(t, err)
	f.nonce++
	r, err := f.engine.Execute(context.Background(), &vm.Transaction{Manifest: m, Nonce: f.nonce})
	require.NoError(t, err)
	return r
}

func (f *fixture) call(method, args string) string {
	return fmt.Sprintf("  - call_method: {receiver: %s, module: metadata, method: %s, args: %s}\n", f.account, method, args)
}

func TestGetInitialMetadata(t *testing.T) {
	f := setupAccount(t)
	r := f.run(t, "instructions:\n"+
		f.call("get", "{key: name}")+
		f.call("get", "{key: symbol}")+
		f.call("get", "{key: missing}"))
	require.True(t, r.Succeeded(), r.Error)
	assert.JSONEq(t, `"alice"`, string(r.Outputs[0]))
	assert.JSONEq(t, `"ALC"`, string(r.Outputs[1]))
	assert.JSONEq(t, `null`, string(r.Outputs[2]))
}

func TestSetEmitsEvent(t *testing.T) {
	f := setupAccount(t)
	r := f.run(t, "instructions:\n"+
		f.call("set", "{key: name, value: bob}")+
		f.call("get", "{key: name}"))
	require.True(t, r.Succeeded(), r.Error)
	assert.JSONEq(t, `"bob"`, string(r.Outputs[1]))
	require.Len(t, r.Events, 1)
	assert.Equal(t, "SetMetadataEvent", r.Events[0].Name)
	assert.Equal(t, types.MetadataPackage, r.Events[0].Emitter.Package)
}

func TestLockedKeyCannotChange(t *testing.T) {
	f := setupAccount(t)
	r := f.run(t, "instructions:\n"+f.call("lock", "{key: name}"))
	require.True(t, r.Succeeded(), r.Error)

	r = f.run(t, "instructions:\n"+f.call("set", "{key: name, value: mallory}"))
	assert.False(t, r.Succeeded())
	assert.Equal(t, core.ClassSystem, r.ErrorClass)
	assert.Contains(t, r.Error, core.ErrEntryLocked.Error())

	r = f.run(t, "instructions:\n"+f.call("get", "{key: name}"))
	require.True(t, r.Succeeded(), r.Error)
	assert.JSONEq(t, `"alice"`, string(r.Outputs[0]))
}

func TestSetValidation(t *testing.T) {
	f := setupAccount(t)

	r := f.run(t, "instructions:\n"+f.call("set", `{key: "", value: x}`))
	assert.False(t, r.Succeeded())
	assert.Contains(t, r.Error, metadata.ErrInvalidKey.Error())

	long := strings.Repeat("x", metadata.MaxValueLength+1)
	r = f.run(t, "instructions:\n"+f.call("set", fmt.Sprintf("{key: name, value: %s}", long)))
	assert.False(t, r.Succeeded())
	assert.Equal(t, core.ClassApplication, r.ErrorClass)
	assert.Contains(t, r.Error, metadata.ErrValueTooLong.Error())
}

func TestKeysAreNormalized(t *testing.T) {
	f := setupAccount(t)
	r := f.run(t, "instructions:\n"+
		f.call("set", "{key: \"cafe\\u0301\", value: open}")+
		f.call("get", "{key: \"caf\\u00e9\"}"))
	require.True(t, r.Succeeded(), r.Error)
	assert.JSONEq(t, `"open"`, string(r.Outputs[1]))
}
