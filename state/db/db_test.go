package db

import (
	"path/filepath"
	"testing"

	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	d, err := New(map[string]any{
		"db_path": filepath.Join(t.TempDir(), "substates.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func update(addr types.SubstateAddress, value string) state.SubstateUpdate {
	return state.SubstateUpdate{Address: addr, Key: state.EncodeKey(addr), Value: []byte(value)}
}

func TestCommitAndGet(t *testing.T) {
	d := setupTestDB(t)

	var node types.NodeID
	node[0] = byte(types.EntityGlobalAccount)
	field := types.SubstateAddress{Node: node, Partition: types.MainBasePartition, Key: types.FieldKey(0)}
	entry := types.SubstateAddress{Node: node, Partition: types.MainBasePartition + 1, Key: types.MapKey([]byte("vault"))}

	_, found, err := d.Get(field)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, d.Commit(&state.StateUpdates{Updates: []state.SubstateUpdate{
		update(field, `{"value":1}`),
		update(entry, `{"value":2}`),
	}}))

	v, found, err := d.Get(field)
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"value":1}`, string(v))

	// overwrite and delete
	require.NoError(t, d.Commit(&state.StateUpdates{Updates: []state.SubstateUpdate{
		update(field, `{"value":3}`),
		{Address: entry, Key: state.EncodeKey(entry), Deleted: true},
	}}))

	v, _, err = d.Get(field)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":3}`, string(v))
	_, found, err = d.Get(entry)
	require.NoError(t, err)
	assert.False(t, found)

	count, err := d.NodeSubstates(node)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var commits int64
	require.NoError(t, d.db.Model(&DBCommit{}).Count(&commits).Error)
	assert.Equal(t, int64(2), commits)
}

func TestRegisteredBackend(t *testing.T) {
	db, err := state.Open(state.DBBackend, map[string]any{
		"db_path": filepath.Join(t.TempDir(), "reg.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &Database{}, db)
	require.NoError(t, db.Close())
}
