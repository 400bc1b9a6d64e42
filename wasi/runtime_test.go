package wasi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"
)

// testModule exports memory, a bump allocator and three (ptr, len) -> i64
// functions: echo returns its input, boom traps and host forwards its input
// to call_host as FuncActorNodeID.
const testModule = "0061736d0100000001130360017f017f60027f7f017e60037f7f7f017e021101" +
	"03656e760963616c6c5f686f737400020305040001010105030100010607017f" +
	"014180080b072a05066d656d6f7279020008616c6c6f63617465000104656368" +
	"6f000204626f6f6d000304686f737400040a29040b002300230020006a24000b" +
	"0c002000ad4220862001ad840b0300000b0a0041122000200110000b"

// stubAPI implements only what the test module reaches.
type stubAPI struct {
	core.SystemAPI
	node     types.NodeID
	nodeErr  error
	costErr  error
	consumed uint64
	calls    int
}

func (s *stubAPI) ConsumeCost(units uint64, reason string) error {
	if s.costErr != nil {
		return s.costErr
	}
	s.consumed += units
	return nil
}

func (s *stubAPI) ActorNodeID(ref core.ActorRef) (types.NodeID, error) {
	s.calls++
	return s.node, s.nodeErr
}

func setupRuntime(t *testing.T) (*Runtime, []byte, types.Hash) {
	code, err := hex.DecodeString(testModule)
	require.NoError(t, err)
	r, err := NewRuntime(context.Background(), Options{HostCallCost: 10})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(context.Background()) })
	return r, code, types.Hash(blake3.Sum256(code))
}

func TestRuntimeEcho(t *testing.T) {
	r, code, hash := setupRuntime(t)
	env := &types.InvocationEnvelope{Args: json.RawMessage(`{"amount":"5"}`)}

	out, err := r.Invoke(context.Background(), &stubAPI{}, hash, code, "echo", env)
	require.NoError(t, err)
	want, _ := json.Marshal(env)
	assert.JSONEq(t, string(want), string(out))

	// Second call reuses the compiled module.
	_, err = r.Invoke(context.Background(), &stubAPI{}, hash, code, "echo", env)
	require.NoError(t, err)
	assert.Len(t, r.compiled, 1)
}

func TestRuntimeTrap(t *testing.T) {
	r, code, hash := setupRuntime(t)
	_, err := r.Invoke(context.Background(), &stubAPI{}, hash, code, "boom", &types.InvocationEnvelope{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGuestTrap)
	assert.Equal(t, core.ClassApplication, core.ClassOf(err))
}

func TestRuntimeMissingExport(t *testing.T) {
	r, code, hash := setupRuntime(t)
	_, err := r.Invoke(context.Background(), &stubAPI{}, hash, code, "nope", &types.InvocationEnvelope{})
	assert.ErrorIs(t, err, core.ErrFunctionNotFound)
}

func TestRuntimeInvalidModule(t *testing.T) {
	r, _, _ := setupRuntime(t)
	_, err := r.Invoke(context.Background(), &stubAPI{}, types.Hash{1}, []byte("not wasm"), "echo", &types.InvocationEnvelope{})
	assert.ErrorIs(t, err, core.ErrUnsupportedBlueprint)
}

func TestRuntimeHostCall(t *testing.T) {
	r, code, hash := setupRuntime(t)
	var node types.NodeID
	node[0] = byte(types.EntityInternalGenericComponent)
	node[1] = 0xaa
	sys := &stubAPI{node: node}

	out, err := r.Invoke(context.Background(), sys, hash, code, "host", &types.InvocationEnvelope{})
	require.NoError(t, err)
	var got types.NodeID
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, node, got)
	assert.Equal(t, 1, sys.calls)
	assert.Equal(t, uint64(10), sys.consumed)
}

func TestRuntimeHostCallErrorKeepsClass(t *testing.T) {
	r, code, hash := setupRuntime(t)
	sys := &stubAPI{nodeErr: core.NewSystemError(core.ErrNoActorObject, "")}

	_, err := r.Invoke(context.Background(), sys, hash, code, "host", &types.InvocationEnvelope{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNoActorObject)
	assert.Equal(t, core.ClassSystem, core.ClassOf(err))
}

func TestRuntimeHostCallCharged(t *testing.T) {
	r, code, hash := setupRuntime(t)
	sys := &stubAPI{costErr: core.NewCostingError("")}

	_, err := r.Invoke(context.Background(), sys, hash, code, "host", &types.InvocationEnvelope{})
	assert.Equal(t, core.ClassCosting, core.ClassOf(err))
	assert.Equal(t, 0, sys.calls)
}

func TestInspect(t *testing.T) {
	code, err := hex.DecodeString(testModule)
	require.NoError(t, err)
	info, err := Inspect(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, []string{"allocate", "boom", "echo", "host"}, info.Exports)
	assert.Equal(t, []string{"env.call_host"}, info.Imports)

	_, err = Inspect(context.Background(), []byte{0x00})
	assert.True(t, errors.Is(err, ErrInvalidModule))
}

type recordingAPI struct {
	core.SystemAPI
	handle  types.LockHandle
	written []byte
	entries []core.CollectionEntry
}

func (a *recordingAPI) ActorOpenField(ref core.ActorRef, field uint8, mode types.LockMode) (types.LockHandle, error) {
	return a.handle, nil
}

func (a *recordingAPI) FieldWrite(h types.LockHandle, value []byte) error {
	a.written = value
	return nil
}

func (a *recordingAPI) NewObject(init core.ObjectInit) (types.NodeID, error) {
	a.entries = init.Entries
	var id types.NodeID
	id[0] = byte(types.EntityInternalGenericComponent)
	return id, nil
}

func TestDispatchHost(t *testing.T) {
	sys := &recordingAPI{handle: 7}

	out, err := dispatchHost(sys, types.FuncActorOpenField, []byte(`{"field":0,"mode":1}`))
	require.NoError(t, err)
	assert.Equal(t, "7", string(out))

	out, err = dispatchHost(sys, types.FuncFieldWrite, []byte(`{"handle":7,"value":{"n":1}}`))
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.JSONEq(t, `{"n":1}`, string(sys.written))

	out, err = dispatchHost(sys, types.FuncObjectNew, []byte(`{"blueprint":"Counter","fields":["1"],"entries":{"0":{"b":"2","a":"1"}}}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"$own"`)
	require.Len(t, sys.entries, 2)
	assert.Equal(t, []byte("a"), sys.entries[0].Key)

	_, err = dispatchHost(sys, types.HostFunctionID(99), nil)
	assert.ErrorIs(t, err, core.ErrInvalidHostCall)

	_, err = dispatchHost(sys, types.FuncFieldRead, []byte(`{`))
	assert.ErrorIs(t, err, core.ErrInvalidHostCall)
}
