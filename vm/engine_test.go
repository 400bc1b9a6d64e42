package vm

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/manifest"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/receipt"
	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/govm-net/kernel/blueprints/natives"
)

func setupEngine(t *testing.T) *Engine {
	cfg := DefaultConfig()
	cfg.Kernel.WASM = false
	cfg.ReceiptDBPath = filepath.Join(t.TempDir(), "receipts.db")
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func execute(t *testing.T, e *Engine, nonce uint64, text string) *receipt.TransactionReceipt {
	m, err := manifest.Parse([]byte(text))
	require.NoError(t, err)
	r, err := e.Execute(context.Background(), &Transaction{Manifest: m, Nonce: nonce})
	require.NoError(t, err)
	return r
}

// refOf returns the node referenced by an output value, optionally inside
// a struct field.
func refOf(t *testing.T, raw json.RawMessage, field string) types.NodeID {
	if field != "" {
		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(raw, &fields))
		raw = fields[field]
	}
	var ref struct {
		ID types.NodeID `json:"$ref"`
	}
	require.NoError(t, json.Unmarshal(raw, &ref))
	return ref.ID
}

func addressOf(t *testing.T, id types.NodeID) string {
	addr, err := types.NewGlobalAddress(id)
	require.NoError(t, err)
	return addr.String()
}

func eventNames(r *receipt.TransactionReceipt) []string {
	names := make([]string, 0, len(r.Events))
	for _, ev := range r.Events {
		names = append(names, ev.Name)
	}
	return names
}

const createTokenManifest = `
instructions:
  - call_function:
      package: resource
      blueprint: FungibleResourceManager
      function: create
      args: {divisibility: 18, initial_supply: "100", track_total_supply: true}
    bind: token
  - call_function: {package: account, blueprint: Account, function: create}
    bind: alice
  - call_method:
      receiver: $alice
      method: deposit
      args: {bucket: {$bucket: token}}
`

func TestExecuteCreateTokenAndDeposit(t *testing.T) {
	e := setupEngine(t)

	r := execute(t, e, 1, createTokenManifest)
	require.True(t, r.Succeeded(), r.Error)
	require.Len(t, r.Outputs, 3)
	assert.Greater(t, r.StateUpdates.Len(), 0)
	assert.Greater(t, r.FeeConsumed, uint64(0))
	assert.NotEmpty(t, r.Trace)
	assert.Contains(t, eventNames(r), "MintFungibleResourceEvent")
	assert.Contains(t, eventNames(r), "DepositEvent")
	assert.JSONEq(t, `null`, string(r.Outputs[2]))

	token := refOf(t, r.Outputs[0], "resource")
	alice := refOf(t, r.Outputs[1], "")
	assert.Equal(t, types.EntityGlobalFungibleResourceManager, token.EntityType())
	assert.Equal(t, types.EntityGlobalAccount, alice.EntityType())

	// every net update comes from the ordered change log
	require.NotEmpty(t, r.Changes)
	logged := make(map[string]state.ChangeKind)
	for _, c := range r.Changes {
		logged[string(c.Key)] = c.Kind
	}
	for _, u := range r.StateUpdates.Updates {
		assert.Contains(t, logged, string(u.Key))
	}

	stored, err := e.Receipts().Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.Success, stored.Outcome)
	require.Len(t, stored.Changes, len(r.Changes))
	assert.Equal(t, r.Changes[0].Kind, stored.Changes[0].Kind)
	assert.Equal(t, r.Changes[0].Key, stored.Changes[0].Key)

	// committed state is visible to the next transaction
	r = execute(t, e, 2, fmt.Sprintf(`
instructions:
  - call_method:
      receiver: %s
      method: balance
      args: {resource: {$ref: "%s"}}
  - call_method:
      receiver: %s
      method: get_total_supply
`, addressOf(t, alice), token, addressOf(t, token)))
	require.True(t, r.Succeeded(), r.Error)
	assert.JSONEq(t, `"100"`, string(r.Outputs[0]))
	assert.JSONEq(t, `"100"`, string(r.Outputs[1]))
}

func TestExecuteWithdrawAndBurnKeepsSupply(t *testing.T) {
	e := setupEngine(t)
	r := execute(t, e, 1, createTokenManifest)
	require.True(t, r.Succeeded(), r.Error)
	token := refOf(t, r.Outputs[0], "resource")
	alice := refOf(t, r.Outputs[1], "")

	r = execute(t, e, 2, fmt.Sprintf(`
instructions:
  - call_method:
      receiver: %[1]s
      method: withdraw
      args: {resource: {$ref: "%[2]s"}, amount: "5"}
    bind: five
  - call_method:
      receiver: %[3]s
      method: burn
      args: {bucket: {$bucket: five}}
  - call_method:
      receiver: %[1]s
      method: balance
      args: {resource: {$ref: "%[2]s"}}
  - call_method:
      receiver: %[3]s
      method: get_total_supply
`, addressOf(t, alice), token, addressOf(t, token)))
	require.True(t, r.Succeeded(), r.Error)
	assert.JSONEq(t, `"95"`, string(r.Outputs[2]))
	assert.JSONEq(t, `"95"`, string(r.Outputs[3]))
	assert.Contains(t, eventNames(r), "WithdrawEvent")
	assert.Contains(t, eventNames(r), "BurnFungibleResourceEvent")
}

func TestExecuteOrphanedBucketFails(t *testing.T) {
	e := setupEngine(t)

	r := execute(t, e, 1, `
instructions:
  - call_function:
      package: resource
      blueprint: FungibleResourceManager
      function: create
      args: {divisibility: 0, initial_supply: "10"}
`)
	assert.False(t, r.Succeeded())
	assert.Equal(t, core.ClassKernel, r.ErrorClass)
	assert.Contains(t, r.Error, core.ErrOrphanedNode.Error())
	assert.Nil(t, r.StateUpdates)
	assert.Nil(t, r.Changes)
	assert.Empty(t, r.Events)
	assert.Nil(t, r.Outputs)

	stored, err := e.Receipts().ByTxHash(r.TxHash)
	require.NoError(t, err)
	assert.Equal(t, receipt.Failure, stored.Outcome)
}

func TestExecuteInsufficientBalance(t *testing.T) {
	e := setupEngine(t)
	r := execute(t, e, 1, createTokenManifest)
	require.True(t, r.Succeeded(), r.Error)
	token := refOf(t, r.Outputs[0], "resource")
	alice := refOf(t, r.Outputs[1], "")

	r = execute(t, e, 2, fmt.Sprintf(`
instructions:
  - call_method:
      receiver: %s
      method: withdraw
      args: {resource: {$ref: "%s"}, amount: "101"}
    bind: all
  - call_method:
      receiver: %s
      method: deposit
      args: {bucket: {$bucket: all}}
`, addressOf(t, alice), token, addressOf(t, alice)))
	assert.False(t, r.Succeeded())
	assert.Equal(t, core.ClassApplication, r.ErrorClass)
	assert.Contains(t, r.Error, "insufficient balance")
}

func TestExecuteDuplicateNonFungibleMint(t *testing.T) {
	e := setupEngine(t)

	r := execute(t, e, 1, `
instructions:
  - call_function:
      package: resource
      blueprint: NonFungibleResourceManager
      function: create
      args:
        id_type: integer
        data_schema: {kind: struct, fields: [{name: name, type: {kind: string}}]}
        entries: {"#1#": {name: sword}}
    bind: nft
  - call_function: {package: account, blueprint: Account, function: create}
    bind: bob
  - call_method: {receiver: $bob, method: deposit, args: {bucket: {$bucket: nft}}}
`)
	require.True(t, r.Succeeded(), r.Error)
	nft := refOf(t, r.Outputs[0], "resource")
	bob := refOf(t, r.Outputs[1], "")

	r = execute(t, e, 2, fmt.Sprintf(`
instructions:
  - call_method:
      receiver: %s
      method: mint
      args: {entries: {"#1#": {name: copy}}}
    bind: copy
  - call_method: {receiver: %s, method: deposit, args: {bucket: {$bucket: copy}}}
`, addressOf(t, nft), addressOf(t, bob)))
	assert.False(t, r.Succeeded())
	assert.Equal(t, core.ClassApplication, r.ErrorClass)
	assert.Contains(t, r.Error, "already exists")

	// the failed transaction left the original entry untouched
	r = execute(t, e, 3, fmt.Sprintf(`
instructions:
  - call_method:
      receiver: %s
      method: get_non_fungible_data
      args: {id: "#1#"}
  - call_method:
      receiver: %s
      method: balance
      args: {resource: {$ref: "%s"}}
`, addressOf(t, nft), addressOf(t, bob), nft))
	require.True(t, r.Succeeded(), r.Error)
	assert.JSONEq(t, `{"name":"sword"}`, string(r.Outputs[0]))
	assert.JSONEq(t, `"1"`, string(r.Outputs[1]))
}

// remintPackage has one function that receives a bucket and its resource
// manager and mints local id #1# of that resource again.
func remintPackage(t *testing.T) *object.NativePackage {
	addr, err := types.NewGlobalAddress(types.NodeID{byte(types.EntityGlobalPackage), 0x7e})
	require.NoError(t, err)
	own := types.Scalar(types.KindOwn)
	input := types.StructOf(types.Field("bucket", own), types.Field("resource", types.Scalar(types.KindReference)))
	output := types.StructOf(types.Field("bucket", own), types.Field("minted", own))

	remint := func(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
		var in struct {
			Bucket   json.RawMessage `json:"bucket"`
			Resource core.Reference  `json:"resource"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		minted, err := api.CallMethod(in.Resource.ID, "mint", []byte(`{"entries":{"#1#":{"name":"copy"}}}`))
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{"bucket": in.Bucket, "minted": minted})
	}

	return &object.NativePackage{
		Address: addr,
		Definition: &object.PackageDefinition{Blueprints: map[string]*object.BlueprintDefinition{
			"Remint": {Functions: []object.FunctionSchema{{Ident: "remint", Input: &input, Output: &output}}},
		}},
		Functions: map[string]map[string]core.NativeFunction{
			"Remint": {"remint": remint},
		},
	}
}

func TestExecuteNestedDuplicateMintAborts(t *testing.T) {
	e := setupEngine(t)
	pkg := remintPackage(t)
	require.NoError(t, e.Dispatcher().Register(pkg))

	r := execute(t, e, 1, fmt.Sprintf(`
instructions:
  - call_function:
      package: resource
      blueprint: NonFungibleResourceManager
      function: create
      args:
        id_type: integer
        track_total_supply: true
        data_schema: {kind: struct, fields: [{name: name, type: {kind: string}}]}
        entries: {"#1#": {name: sword}}
    bind: nft
  - call_function:
      package: %s
      blueprint: Remint
      function: remint
      args: {bucket: {$bucket: nft}, resource: {$address: nft}}
`, pkg.Address))
	assert.False(t, r.Succeeded())
	assert.Equal(t, core.ClassApplication, r.ErrorClass)
	assert.Contains(t, r.Error, "already exists")
	assert.Nil(t, r.StateUpdates)
	assert.Nil(t, r.Changes)
	assert.Empty(t, r.Events)

	stored, err := e.Receipts().Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.Failure, stored.Outcome)
}

func TestExecuteFeeExhausted(t *testing.T) {
	e := setupEngine(t)
	m, err := manifest.Parse([]byte(createTokenManifest))
	require.NoError(t, err)

	r, err := e.Execute(context.Background(), &Transaction{Manifest: m, FeeLimit: 100})
	require.NoError(t, err)
	assert.False(t, r.Succeeded())
	assert.Equal(t, core.ClassCosting, r.ErrorClass)
	assert.LessOrEqual(t, r.FeeConsumed, uint64(100))
}

func TestExecuteRejectsMissingManifest(t *testing.T) {
	e := setupEngine(t)
	_, err := e.Execute(context.Background(), &Transaction{})
	assert.Error(t, err)
}

func TestTransactionHash(t *testing.T) {
	m, err := manifest.Parse([]byte(createTokenManifest))
	require.NoError(t, err)

	a, err := (&Transaction{Manifest: m, Nonce: 1}).Hash()
	require.NoError(t, err)
	b, err := (&Transaction{Manifest: m, Nonce: 1}).Hash()
	require.NoError(t, err)
	c, err := (&Transaction{Manifest: m, Nonce: 2}).Hash()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestValidateConfig(t *testing.T) {
	assert.Error(t, validateConfig(nil))

	cfg := DefaultConfig()
	cfg.Backend = ""
	assert.Error(t, validateConfig(cfg))

	cfg = DefaultConfig()
	cfg.Kernel.DefaultFeeLimit = 0
	assert.Error(t, validateConfig(cfg))

	assert.NoError(t, validateConfig(DefaultConfig()))
}
