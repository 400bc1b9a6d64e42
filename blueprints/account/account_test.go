package account_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/govm-net/kernel/blueprints/account"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/manifest"
	"github.com/govm-net/kernel/receipt"
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

func run(t *testing.T, e *vm.Engine, nonce uint64, text string) *receipt.TransactionReceipt {
	m, err := manifest.Parse([]byte(text))
	require.NoError(t, err)
	r, err := e.Execute(context.Background(), &vm.Transaction{Manifest: m, Nonce: nonce})
	require.NoError(t, err)
	return r
}

func ref(t *testing.T, raw json.RawMessage) types.NodeID {
	var r core.Reference
	require.NoError(t, json.Unmarshal(raw, &r))
	return r.ID
}

func address(t *testing.T, id types.NodeID) string {
	addr, err := types.NewGlobalAddress(id)
	require.NoError(t, err)
	return addr.String()
}

func TestDepositMergesIntoOneVault(t *testing.T) {
	e := setupEngine(t)
	r := run(t, e, 1, `
instructions:
  - call_function:
      package: resource
      blueprint: FungibleResourceManager
      function: create
      args: {divisibility: 18, initial_supply: "30"}
    bind: token
  - call_function: {package: account, blueprint: Account, function: create, args: {owner: alice}}
    bind: alice
  - call_method: {receiver: $token, method: mint, args: {amount: "12"}}
    bind: more
  - call_method: {receiver: $alice, method: deposit, args: {bucket: {$bucket: token}}}
  - call_method: {receiver: $alice, method: deposit, args: {bucket: {$bucket: more}}}
  - call_method: {receiver: $alice, method: balance, args: {resource: {$address: token}}}
  - call_method: {receiver: $alice, method: get_owner}
`)
	require.True(t, r.Succeeded(), r.Error)
	assert.JSONEq(t, `"42"`, string(r.Outputs[5]))
	assert.JSONEq(t, `"alice"`, string(r.Outputs[6]))

	var vaults int
	for _, id := range r.StateUpdates.Nodes() {
		if id.EntityType() == types.EntityInternalFungibleVault {
			vaults++
		}
	}
	assert.Equal(t, 1, vaults)
}

func TestWithdrawErrors(t *testing.T) {
	e := setupEngine(t)
	r := run(t, e, 1, `
instructions:
  - call_function:
      package: resource
      blueprint: FungibleResourceManager
      function: create
      args: {divisibility: 18, initial_supply: "1"}
    bind: token
  - call_function: {package: account, blueprint: Account, function: create}
    bind: alice
  - call_function: {package: account, blueprint: Account, function: create}
    bind: bob
  - call_method: {receiver: $alice, method: deposit, args: {bucket: {$bucket: token}}}
`)
	require.True(t, r.Succeeded(), r.Error)
	var created struct {
		Resource core.Reference `json:"resource"`
	}
	require.NoError(t, json.Unmarshal(r.Outputs[0], &created))
	token := created.Resource.ID
	alice := address(t, ref(t, r.Outputs[1]))
	bob := address(t, ref(t, r.Outputs[2]))

	tests := []struct {
		name     string
		receiver string
		args     string
		class    core.ErrorClass
		errMsg   string
	}{
		{"no vault", bob, fmt.Sprintf(`{resource: {$ref: "%s"}, amount: "1"}`, token), core.ClassApplication, account.ErrNoVault.Error()},
		{"amount and ids", alice, fmt.Sprintf(`{resource: {$ref: "%s"}, amount: "1", ids: []}`, token), core.ClassSchema, "exactly one"},
		{"neither", alice, fmt.Sprintf(`{resource: {$ref: "%s"}}`, token), core.ClassSchema, "exactly one"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(t, e, uint64(10+i), fmt.Sprintf(`
instructions:
  - call_method: {receiver: %s, method: withdraw, args: %s}
    bind: b
  - call_method: {receiver: %s, method: deposit, args: {bucket: {$bucket: b}}}
`, tt.receiver, tt.args, alice))
			assert.False(t, r.Succeeded())
			assert.Equal(t, tt.class, r.ErrorClass)
			assert.Contains(t, r.Error, tt.errMsg)
		})
	}
}

func TestBalanceWithoutVault(t *testing.T) {
	e := setupEngine(t)
	r := run(t, e, 1, `
instructions:
  - call_function:
      package: resource
      blueprint: FungibleResourceManager
      function: create
      args: {divisibility: 0}
    bind: token
  - call_function: {package: account, blueprint: Account, function: create}
    bind: alice
  - call_method: {receiver: $alice, method: balance, args: {resource: {$address: token}}}
  - call_method: {receiver: $alice, method: get_owner}
`)
	require.True(t, r.Succeeded(), r.Error)
	assert.JSONEq(t, `"0"`, string(r.Outputs[2]))
	assert.JSONEq(t, `null`, string(r.Outputs[3]))
}
