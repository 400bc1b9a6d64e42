package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenManifest = `
fee_limit: 500000
instructions:
  - call_function:
      package: resource
      blueprint: FungibleResourceManager
      function: create
      args:
        divisibility: 18
        initial_supply: "100"
        track_total_supply: true
    bind: token
  - call_function:
      package: account
      blueprint: Account
      function: create
    bind: alice
  - call_method:
      receiver: $alice
      method: deposit
      args:
        bucket: {$bucket: token}
`

func TestParseManifest(t *testing.T) {
	m, err := Parse([]byte(tokenManifest))
	require.NoError(t, err)
	assert.Equal(t, uint64(500000), m.FeeLimit)
	require.Len(t, m.Instructions, 3)

	args, err := m.Compile()
	require.NoError(t, err)
	first := args.Instructions[0].CallFunction
	require.NotNil(t, first)
	assert.Equal(t, types.ResourcePackage, first.Package)
	assert.Equal(t, "token", args.Instructions[0].Bind)

	var createArgs map[string]any
	require.NoError(t, json.Unmarshal(first.Args, &createArgs))
	assert.Equal(t, float64(18), createArgs["divisibility"])
	assert.Equal(t, "100", createArgs["initial_supply"])

	assert.Nil(t, args.Instructions[1].CallFunction.Args)

	deposit := args.Instructions[2].CallMethod
	require.NotNil(t, deposit)
	assert.Equal(t, "$alice", deposit.Receiver)
	assert.Equal(t, types.ModuleMain, deposit.Module)
	assert.JSONEq(t, `{"bucket":{"$bucket":"token"}}`, string(deposit.Args))
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		errMsg   string
	}{
		{
			name:     "empty",
			manifest: "instructions: []",
			errMsg:   "no instructions",
		},
		{
			name: "unknown package",
			manifest: `
instructions:
  - call_function: {package: nope, blueprint: X, function: y}`,
			errMsg: "instruction 0",
		},
		{
			name: "unbound receiver",
			manifest: `
instructions:
  - call_method: {receiver: $later, method: m}`,
			errMsg: "not bound",
		},
		{
			name: "both calls",
			manifest: `
instructions:
  - call_function: {package: account, blueprint: Account, function: create}
    call_method: {receiver: $a, method: m}`,
			errMsg: "exactly one",
		},
		{
			name: "duplicate bind",
			manifest: `
instructions:
  - call_function: {package: account, blueprint: Account, function: create}
    bind: a
  - call_function: {package: account, blueprint: Account, function: create}
    bind: a`,
			errMsg: "bound twice",
		},
		{
			name: "unknown module",
			manifest: `
instructions:
  - call_function: {package: account, blueprint: Account, function: create}
    bind: a
  - call_method: {receiver: $a, module: royalty, method: m}`,
			errMsg: "unknown module",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.manifest))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMetadataModuleCall(t *testing.T) {
	m, err := Parse([]byte(`
instructions:
  - call_function: {package: account, blueprint: Account, function: create, args: {metadata: {name: alice}}}
    bind: a
  - call_method: {receiver: $a, module: metadata, method: get, args: {key: name}}
`))
	require.NoError(t, err)
	args, err := m.Compile()
	require.NoError(t, err)
	assert.Equal(t, types.ModuleMetadata, args.Instructions[1].CallMethod.Module)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tokenManifest), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Instructions, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNormalizeNonStringKeys(t *testing.T) {
	_, err := encodeArgs(map[any]any{1: "x"})
	assert.Error(t, err)

	raw, err := encodeArgs(map[any]any{"a": []any{map[any]any{"b": 1}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[{"b":1}]}`, string(raw))
}

func TestPublishManifest(t *testing.T) {
	def := &object.PackageDefinition{Blueprints: map[string]*object.BlueprintDefinition{
		"Counter": {Functions: []object.FunctionSchema{{Ident: "new"}}},
	}}
	m := Publish(def, []byte{0x00, 0x61, 0x73, 0x6d}, map[string]string{"name": "counter"})

	args, err := m.Compile()
	require.NoError(t, err)
	call := args.Instructions[0].CallFunction
	require.NotNil(t, call)
	assert.Equal(t, types.PackagePackage, call.Package)
	assert.Equal(t, "publish_wasm", call.Function)
	assert.Equal(t, "package", args.Instructions[0].Bind)

	var in struct {
		Code       string            `json:"code"`
		Metadata   map[string]string `json:"metadata"`
		Definition map[string]any    `json:"definition"`
	}
	require.NoError(t, json.Unmarshal(call.Args, &in))
	assert.Equal(t, "0061736d", in.Code)
	assert.Equal(t, "counter", in.Metadata["name"])
	assert.Contains(t, in.Definition, "blueprints")
}
