package state_test

import (
	"encoding/json"
	"testing"

	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/state/memory"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(b byte) types.NodeID {
	var id types.NodeID
	id[0] = byte(types.EntityInternalGenericComponent)
	id[1] = b
	return id
}

func TestTrackCopyOnWrite(t *testing.T) {
	base := memory.New()
	addr := types.SubstateAddress{Node: testNode(1), Partition: types.MainBasePartition, Key: types.FieldKey(0)}
	require.NoError(t, base.Commit(&state.StateUpdates{Updates: []state.SubstateUpdate{
		{Address: addr, Key: state.EncodeKey(addr), Value: []byte(`1`)},
	}}))

	track := state.NewTrack(base)
	v, found, err := track.Read(addr)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`1`), v)

	track.Write(addr, []byte(`2`))
	v, _, err = track.Read(addr)
	require.NoError(t, err)
	assert.Equal(t, []byte(`2`), v)

	// the base snapshot is untouched until commit
	baseValue, _, err := base.Get(addr)
	require.NoError(t, err)
	assert.Equal(t, []byte(`1`), baseValue)

	track.Delete(addr)
	_, found, err = track.Read(addr)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTrackMissingKeyIsNotAnError(t *testing.T) {
	track := state.NewTrack(memory.New())
	v, found, err := track.Read(types.TypeInfoAddress(testNode(9)))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestTrackChangeLogAndFinalize(t *testing.T) {
	track := state.NewTrack(memory.New())
	a := types.SubstateAddress{Node: testNode(2), Partition: 64, Key: types.FieldKey(0)}
	b := types.SubstateAddress{Node: testNode(1), Partition: 65, Key: types.MapKey([]byte("k"))}

	track.Write(a, []byte(`"a1"`))
	track.Write(b, []byte(`"b"`))
	track.Write(a, []byte(`"a2"`))
	track.Delete(b)

	log := track.ChangeLog()
	require.Len(t, log, 4)
	assert.Equal(t, state.ChangeSet, log[0].Kind)
	assert.Equal(t, a, log[0].Address)
	assert.Equal(t, state.ChangeDelete, log[3].Kind)
	assert.Equal(t, state.EncodeKey(a), log[2].Key)

	kind, err := json.Marshal(log[3].Kind)
	require.NoError(t, err)
	assert.JSONEq(t, `"delete"`, string(kind))
	var back state.ChangeKind
	require.NoError(t, json.Unmarshal(kind, &back))
	assert.Equal(t, state.ChangeDelete, back)

	updates := track.Finalize()
	require.Equal(t, 2, updates.Len())
	// sorted by storage key: node 1 before node 2
	assert.Equal(t, b, updates.Updates[0].Address)
	assert.True(t, updates.Updates[0].Deleted)
	assert.Equal(t, a, updates.Updates[1].Address)
	assert.Equal(t, []byte(`"a2"`), updates.Updates[1].Value)
	assert.ElementsMatch(t, []types.NodeID{testNode(1), testNode(2)}, updates.Nodes())
}

func TestKeyEncodingRoundTrip(t *testing.T) {
	addrs := []types.SubstateAddress{
		types.TypeInfoAddress(testNode(1)),
		{Node: testNode(1), Partition: 65, Key: types.MapKey([]byte{0, 1, 2})},
		{Node: testNode(1), Partition: 66, Key: types.SortedKey(7, []byte("x"))},
	}
	for _, addr := range addrs {
		decoded, err := state.DecodeKey(state.EncodeKey(addr))
		require.NoError(t, err)
		assert.Equal(t, addr, decoded)
	}

	_, err := state.DecodeKey([]byte{1, 2})
	assert.Error(t, err)
}

func TestPrefixRange(t *testing.T) {
	start, end := state.PrefixRange([]byte{0x01, 0xff})
	assert.Equal(t, []byte{0x01, 0xff}, start)
	assert.Equal(t, []byte{0x02}, end)

	_, end = state.PrefixRange([]byte{0xff, 0xff})
	assert.Nil(t, end)

	start, end = state.PrefixRange(nil)
	assert.Nil(t, start)
	assert.Nil(t, end)
}

func TestRegistry(t *testing.T) {
	list := state.ListRegistered()
	assert.Contains(t, list, state.MemoryBackend)

	db, err := state.Open(state.MemoryBackend, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = state.Open("unknown", nil)
	assert.Error(t, err)

	err = state.Register(state.MemoryBackend, nil)
	assert.Error(t, err)
}
