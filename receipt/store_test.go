package receipt

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	s, err := NewStore(filepath.Join(t.TempDir(), "receipts", "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testHash(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestNewReceiptIsDeterministic(t *testing.T) {
	a := New(testHash(1))
	b := New(testHash(1))
	c := New(testHash(2))
	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, uuid.Version(5), a.ID.Version())
}

func TestFailDropsUpdates(t *testing.T) {
	r := New(testHash(1))
	r.Outcome = Success
	r.StateUpdates = &state.StateUpdates{Updates: []state.SubstateUpdate{{Key: []byte("k"), Value: []byte("v")}}}
	r.Outputs = []json.RawMessage{json.RawMessage(`1`)}

	r.Fail(core.NewApplicationError(errors.New("insufficient balance"), "vault"))
	assert.False(t, r.Succeeded())
	assert.Equal(t, core.ClassApplication, r.ErrorClass)
	assert.Contains(t, r.Error, "insufficient balance")
	assert.Nil(t, r.StateUpdates)
	assert.Nil(t, r.Outputs)
}

func TestStoreSaveAndGet(t *testing.T) {
	s := setupStore(t)
	node := types.NodeID{byte(types.EntityGlobalAccount), 1}

	r := New(testHash(7))
	r.Outcome = Success
	r.FeeConsumed = 1234
	r.Events = []core.Event{
		{Emitter: core.BlueprintID{Package: types.ResourcePackage, Blueprint: "FungibleVault"}, Node: &node, Name: "DepositEvent", Payload: json.RawMessage(`{"amount":"5"}`)},
		{Emitter: core.BlueprintID{Package: types.ResourcePackage, Blueprint: "FungibleVault"}, Name: "WithdrawEvent"},
	}
	r.Outputs = []json.RawMessage{json.RawMessage(`{"$ref":"` + node.String() + `"}`)}
	require.NoError(t, s.Save(r))

	got, err := s.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.TxHash, got.TxHash)
	assert.Equal(t, Success, got.Outcome)
	assert.Equal(t, uint64(1234), got.FeeConsumed)
	require.Len(t, got.Events, 2)
	assert.Equal(t, "DepositEvent", got.Events[0].Name)
	assert.JSONEq(t, string(r.Outputs[0]), string(got.Outputs[0]))

	byHash, err := s.ByTxHash(r.TxHash)
	require.NoError(t, err)
	assert.Equal(t, r.ID, byHash.ID)

	deposits, err := s.Events("DepositEvent")
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, node.String(), deposits[0].Node)
	assert.Equal(t, r.TxHash.String(), deposits[0].TxHash)
}

func TestStoreFailedReceiptHasNoEvents(t *testing.T) {
	s := setupStore(t)

	r := New(testHash(9))
	r.Events = []core.Event{{
		Emitter: core.BlueprintID{Package: types.ResourcePackage, Blueprint: "FungibleResourceManager"},
		Name:    "MintFungibleResourceEvent",
	}}
	r.Fail(core.NewCostingError("fee reserve exhausted"))
	require.NoError(t, s.Save(r))

	got, err := s.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, Failure, got.Outcome)
	assert.Equal(t, core.ClassCosting, got.ErrorClass)

	events, err := s.Events("MintFungibleResourceEvent")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStoreNotFound(t *testing.T) {
	s := setupStore(t)

	_, err := s.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ByTxHash(testHash(3))
	assert.ErrorIs(t, err, ErrNotFound)
}
