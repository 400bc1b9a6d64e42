package kernel

import (
	"math/rand"
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddress(n byte, field uint8) types.SubstateAddress {
	var id types.NodeID
	id[0] = byte(types.EntityInternalGenericComponent)
	id[1] = n
	return types.SubstateAddress{Node: id, Partition: types.MainBasePartition, Key: types.FieldKey(field)}
}

func TestLockManagerConflicts(t *testing.T) {
	m := NewLockManager(0)
	addr := testAddress(1, 0)

	r1, err := m.Open(addr, types.LockRead, 0, 0)
	require.NoError(t, err)
	r2, err := m.Open(addr, types.LockRead, 0, 1)
	require.NoError(t, err)
	assert.NotEqual(t, r1.Handle, r2.Handle)

	_, err = m.Open(addr, types.LockWrite, 0, 1)
	assert.ErrorIs(t, err, core.ErrSubstateLocked)

	_, err = m.Close(r1.Handle)
	require.NoError(t, err)
	_, err = m.Close(r2.Handle)
	require.NoError(t, err)

	w, err := m.Open(addr, types.LockWrite, 0, 0)
	require.NoError(t, err)
	_, err = m.Open(addr, types.LockRead, 0, 0)
	assert.ErrorIs(t, err, core.ErrSubstateLocked)
	_, err = m.Open(addr, types.LockWrite, 0, 0)
	assert.ErrorIs(t, err, core.ErrSubstateLocked)

	// other substates of the node stay available
	_, err = m.Open(testAddress(1, 1), types.LockWrite, 0, 0)
	assert.NoError(t, err)
	assert.True(t, m.NodeLocked(addr.Node))

	_, err = m.Close(w.Handle)
	require.NoError(t, err)
	_, err = m.Close(w.Handle)
	assert.ErrorIs(t, err, core.ErrInvalidLockHandle)
}

func mustIndex(t *testing.T, raw string) *core.IndexedValue {
	iv, err := core.IndexValue([]byte(raw))
	require.NoError(t, err)
	return iv
}

func TestLockManagerReadWrite(t *testing.T) {
	m := NewLockManager(0)
	addr := testAddress(2, 0)

	r, err := m.Open(addr, types.LockRead, types.LockAllowAbsent, 0)
	require.NoError(t, err)
	v, err := m.Read(r.Handle)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.ErrorIs(t, m.Write(r.Handle, mustIndex(t, `1`)), core.ErrLockNotWritable)
	_, err = m.Close(r.Handle)
	require.NoError(t, err)

	w, err := m.Open(addr, types.LockWrite, types.LockAllowAbsent, 0)
	require.NoError(t, err)
	require.NoError(t, m.Write(w.Handle, mustIndex(t, `{"a":1}`)))
	v, err = m.Read(w.Handle)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(v))

	lock, err := m.Close(w.Handle)
	require.NoError(t, err)
	assert.True(t, lock.dirty)
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.NodeLocked(addr.Node))

	_, err = m.Read(w.Handle)
	assert.ErrorIs(t, err, core.ErrInvalidLockHandle)
}

func TestLockManagerLimit(t *testing.T) {
	m := NewLockManager(2)
	_, err := m.Open(testAddress(3, 0), types.LockRead, 0, 0)
	require.NoError(t, err)
	_, err = m.Open(testAddress(3, 1), types.LockRead, 0, 0)
	require.NoError(t, err)
	_, err = m.Open(testAddress(3, 2), types.LockRead, 0, 0)
	assert.ErrorIs(t, err, core.ErrTooManyLocks)
}

func TestLockManagerOpenByDepth(t *testing.T) {
	m := NewLockManager(0)
	a, _ := m.Open(testAddress(4, 0), types.LockRead, 0, 1)
	_, _ = m.Open(testAddress(4, 1), types.LockRead, 0, 2)
	c, _ := m.Open(testAddress(4, 2), types.LockWrite, 0, 1)

	assert.Equal(t, []types.LockHandle{a.Handle, c.Handle}, m.OpenByDepth(1))
	assert.Empty(t, m.OpenByDepth(3))
}

// Random open/close sequences never produce two writers, or a writer next
// to readers, on the same substate.
func TestLockManagerRandomSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := NewLockManager(0)

	type model struct{ readers, writers int }
	slots := make(map[types.SubstateAddress]*model)
	var open []*Lock

	for i := 0; i < 2000; i++ {
		if len(open) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(open))
			lock := open[idx]
			open = append(open[:idx], open[idx+1:]...)
			_, err := m.Close(lock.Handle)
			require.NoError(t, err)
			if lock.Mode == types.LockWrite {
				slots[lock.Address].writers--
			} else {
				slots[lock.Address].readers--
			}
			continue
		}

		addr := testAddress(byte(rng.Intn(3)), uint8(rng.Intn(3)))
		mode := types.LockMode(rng.Intn(2))
		s := slots[addr]
		if s == nil {
			s = &model{}
			slots[addr] = s
		}
		allowed := s.writers == 0 && (mode == types.LockRead || s.readers == 0)

		lock, err := m.Open(addr, mode, 0, 0)
		if !allowed {
			assert.ErrorIs(t, err, core.ErrSubstateLocked)
			continue
		}
		require.NoError(t, err)
		open = append(open, lock)
		if mode == types.LockWrite {
			s.writers++
		} else {
			s.readers++
		}
		require.LessOrEqual(t, s.writers, 1)
		require.False(t, s.writers > 0 && s.readers > 0)
	}
	assert.Equal(t, len(open), m.Len())
}
