package processor_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/govm-net/kernel/blueprints/processor"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/manifest"
	"github.com/govm-net/kernel/types"
	"github.com/govm-net/kernel/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/govm-net/kernel/blueprints/natives"
)

func setupEngine(t *testing.T) *vm.Engine {
	cfg := vm.DefaultConfig()
	cfg.Kernel.WASM = false
	e, err := vm.NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

const prelude = `
instructions:
  - call_function:
      package: resource
      blueprint: FungibleResourceManager
      function: create
      args: {divisibility: 0, initial_supply: "7"}
    bind: token
  - call_function: {package: account, blueprint: Account, function: create}
    bind: alice
`

func TestOutputsDetachOwnedNodes(t *testing.T) {
	e := setupEngine(t)
	m, err := manifest.Parse([]byte(prelude + `
  - call_method: {receiver: $alice, method: deposit, args: {bucket: {$bucket: token}}}
`))
	require.NoError(t, err)
	r, err := e.Execute(context.Background(), &vm.Transaction{Manifest: m})
	require.NoError(t, err)
	require.True(t, r.Succeeded(), r.Error)

	var out struct {
		Resource core.Reference `json:"resource"`
		Bucket   string         `json:"bucket"`
	}
	require.NoError(t, json.Unmarshal(r.Outputs[0], &out))
	bucket, err := types.NodeIDFromHex(out.Bucket)
	require.NoError(t, err)
	assert.True(t, bucket.IsTransient())
	assert.Equal(t, types.EntityGlobalFungibleResourceManager, out.Resource.ID.EntityType())
}

func TestBindingErrors(t *testing.T) {
	tests := []struct {
		name string
		tail string
		err  error
	}{
		{
			name: "unknown binding",
			tail: `
  - call_method: {receiver: $alice, method: deposit, args: {bucket: {$bucket: nope}}}`,
			err: processor.ErrUnknownBinding,
		},
		{
			name: "bucket used twice",
			tail: `
  - call_method: {receiver: $alice, method: deposit, args: {bucket: {$bucket: token}}}
  - call_method: {receiver: $alice, method: deposit, args: {bucket: {$bucket: token}}}`,
			err: processor.ErrBucketConsumed,
		},
		{
			name: "binding without bucket",
			tail: `
  - call_method: {receiver: $alice, method: deposit, args: {bucket: {$bucket: alice}}}`,
			err: processor.ErrAmbiguousValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setupEngine(t)
			m, err := manifest.Parse([]byte(prelude + tt.tail))
			require.NoError(t, err)
			r, err := e.Execute(context.Background(), &vm.Transaction{Manifest: m})
			require.NoError(t, err)
			assert.False(t, r.Succeeded())
			assert.Equal(t, core.ClassSchema, r.ErrorClass)
			assert.Contains(t, r.Error, tt.err.Error())
		})
	}
}

func TestRunArgsRoundTrip(t *testing.T) {
	args := processor.RunArgs{Instructions: []processor.Instruction{{
		CallFunction: &processor.FunctionCall{
			Package:   types.AccountPackage,
			Blueprint: "Account",
			Function:  "create",
		},
		Bind: "a",
	}}}
	raw, err := json.Marshal(args)
	require.NoError(t, err)

	var back processor.RunArgs
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, args, back)
}
