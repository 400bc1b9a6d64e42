package kernel

import (
	"sort"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// Lock is an open checkout of one substate.
type Lock struct {
	Handle  types.LockHandle
	Address types.SubstateAddress
	Mode    types.LockMode
	Flags   types.LockFlags
	Depth   int

	// value is nil while the slot is absent
	value    *core.IndexedValue
	dirty    bool
	borrowed []types.NodeID
}

type slotState struct {
	readers int
	writer  bool
}

// LockManager tracks the substates checked out during a transaction. A
// substate has either one writer or any number of readers.
type LockManager struct {
	nextHandle types.LockHandle
	maxOpen    int
	locks      map[types.LockHandle]*Lock
	slots      map[types.SubstateAddress]*slotState
	nodes      map[types.NodeID]int
}

// NewLockManager creates a manager allowing at most maxOpen open locks
// (unlimited when maxOpen <= 0).
func NewLockManager(maxOpen int) *LockManager {
	return &LockManager{
		nextHandle: 1,
		maxOpen:    maxOpen,
		locks:      make(map[types.LockHandle]*Lock),
		slots:      make(map[types.SubstateAddress]*slotState),
		nodes:      make(map[types.NodeID]int),
	}
}

// Open checks out addr for the frame at depth.
func (m *LockManager) Open(addr types.SubstateAddress, mode types.LockMode, flags types.LockFlags, depth int) (*Lock, error) {
	if m.maxOpen > 0 && len(m.locks) >= m.maxOpen {
		return nil, core.NewKernelError(core.ErrTooManyLocks, "limit %d", m.maxOpen)
	}
	slot := m.slots[addr]
	if slot != nil {
		if slot.writer {
			return nil, core.NewKernelError(core.ErrSubstateLocked, "%s is write-locked", addr)
		}
		if mode == types.LockWrite && slot.readers > 0 {
			return nil, core.NewKernelError(core.ErrSubstateLocked, "%s has %d readers", addr, slot.readers)
		}
	} else {
		slot = &slotState{}
		m.slots[addr] = slot
	}
	if mode == types.LockWrite {
		slot.writer = true
	} else {
		slot.readers++
	}

	lock := &Lock{
		Handle:  m.nextHandle,
		Address: addr,
		Mode:    mode,
		Flags:   flags,
		Depth:   depth,
	}
	m.nextHandle++
	m.locks[lock.Handle] = lock
	m.nodes[addr.Node]++
	return lock, nil
}

// Get returns the open lock for h.
func (m *LockManager) Get(h types.LockHandle) (*Lock, error) {
	lock, ok := m.locks[h]
	if !ok {
		return nil, core.NewKernelError(core.ErrInvalidLockHandle, "handle %d", h)
	}
	return lock, nil
}

// Read returns the current (possibly buffered) value; nil when absent.
func (m *LockManager) Read(h types.LockHandle) ([]byte, error) {
	lock, err := m.Get(h)
	if err != nil {
		return nil, err
	}
	if lock.value == nil {
		return nil, nil
	}
	return lock.value.Raw, nil
}

// Write buffers an indexed value; other handles see it only after Close.
func (m *LockManager) Write(h types.LockHandle, iv *core.IndexedValue) error {
	lock, err := m.Get(h)
	if err != nil {
		return err
	}
	if lock.Mode != types.LockWrite {
		return core.NewKernelError(core.ErrLockNotWritable, "handle %d on %s", h, lock.Address)
	}
	lock.value = iv
	lock.dirty = true
	return nil
}

// Close releases h and returns the lock with its final value.
func (m *LockManager) Close(h types.LockHandle) (*Lock, error) {
	lock, err := m.Get(h)
	if err != nil {
		return nil, err
	}
	delete(m.locks, h)

	slot := m.slots[lock.Address]
	if lock.Mode == types.LockWrite {
		slot.writer = false
	} else {
		slot.readers--
	}
	if !slot.writer && slot.readers == 0 {
		delete(m.slots, lock.Address)
	}
	if m.nodes[lock.Address.Node]--; m.nodes[lock.Address.Node] == 0 {
		delete(m.nodes, lock.Address.Node)
	}
	return lock, nil
}

// OpenByDepth lists the handles opened by the frame at depth, in order.
func (m *LockManager) OpenByDepth(depth int) []types.LockHandle {
	var out []types.LockHandle
	for h, lock := range m.locks {
		if lock.Depth == depth {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NodeLocked reports whether any substate of the node is checked out.
func (m *LockManager) NodeLocked(node types.NodeID) bool {
	return m.nodes[node] > 0
}

// Len returns the number of open locks.
func (m *LockManager) Len() int {
	return len(m.locks)
}
