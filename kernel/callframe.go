package kernel

import (
	"bytes"
	"sort"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// FrameState is the lifecycle state of a call frame.
type FrameState uint8

const (
	FrameActive FrameState = iota
	FrameClosing
	FramePopped
)

func (s FrameState) String() string {
	switch s {
	case FrameActive:
		return "active"
	case FrameClosing:
		return "closing"
	default:
		return "popped"
	}
}

// CallFrame is the ownership and visibility scope of one invocation.
type CallFrame struct {
	depth    int
	state    FrameState
	data     any
	receiver *types.NodeID

	owned    map[types.NodeID]struct{}
	globals  map[types.NodeID]struct{}
	borrowed map[types.NodeID]int
	locks    map[types.LockHandle]struct{}
}

func newCallFrame(depth int, data any, receiver *types.NodeID) *CallFrame {
	return &CallFrame{
		depth:    depth,
		data:     data,
		receiver: receiver,
		owned:    make(map[types.NodeID]struct{}),
		globals:  make(map[types.NodeID]struct{}),
		borrowed: make(map[types.NodeID]int),
		locks:    make(map[types.LockHandle]struct{}),
	}
}

// Depth is the index of the frame in the kernel's stack.
func (f *CallFrame) Depth() int { return f.depth }

// State returns the lifecycle state of the frame.
func (f *CallFrame) State() FrameState { return f.state }

// Data returns the upstream data attached when the frame was pushed.
func (f *CallFrame) Data() any { return f.data }

// Receiver is the object a method frame was invoked on, nil for functions.
func (f *CallFrame) Receiver() *types.NodeID {
	if f.receiver == nil {
		return nil
	}
	id := *f.receiver
	return &id
}

// Owns reports whether the frame owns node.
func (f *CallFrame) Owns(node types.NodeID) bool {
	_, ok := f.owned[node]
	return ok
}

// OwnedNodes lists the owned nodes in id order.
func (f *CallFrame) OwnedNodes() []types.NodeID {
	out := make([]types.NodeID, 0, len(f.owned))
	for id := range f.owned {
		out = append(out, id)
	}
	sortNodeIDs(out)
	return out
}

// IsVisible reports whether the frame may address the node at all.
func (f *CallFrame) IsVisible(node types.NodeID) bool {
	if _, ok := f.owned[node]; ok {
		return true
	}
	if _, ok := f.globals[node]; ok {
		return true
	}
	if f.borrowed[node] > 0 {
		return true
	}
	return f.receiver != nil && *f.receiver == node
}

// canWrite reports whether the frame may open the node's substates for
// writing. Borrowed children and global references are read-only.
func (f *CallFrame) canWrite(node types.NodeID) bool {
	if _, ok := f.owned[node]; ok {
		return true
	}
	return f.receiver != nil && *f.receiver == node
}

// AddReference makes a global node visible to the frame.
func (f *CallFrame) AddReference(node types.NodeID) {
	f.globals[node] = struct{}{}
}

// MoveNodeOut transfers ownership of node from f to other.
func (f *CallFrame) MoveNodeOut(node types.NodeID, other *CallFrame, locks *LockManager) error {
	if !f.Owns(node) {
		return core.NewKernelError(core.ErrNodeNotOwnedByCaller, "%s at depth %d", node, f.depth)
	}
	if locks != nil && locks.NodeLocked(node) {
		return core.NewKernelError(core.ErrSubstateLocked, "cannot move locked node %s", node)
	}
	if other.Owns(node) {
		return core.NewKernelError(core.ErrDuplicateOwn, "%s at depth %d", node, other.depth)
	}
	delete(f.owned, node)
	other.owned[node] = struct{}{}
	return nil
}

// MoveNodeIn transfers ownership of node from other to f.
func (f *CallFrame) MoveNodeIn(node types.NodeID, other *CallFrame, locks *LockManager) error {
	return other.MoveNodeOut(node, f, locks)
}

func (f *CallFrame) borrow(nodes []types.NodeID) {
	for _, id := range nodes {
		f.borrowed[id]++
	}
}

func (f *CallFrame) release(nodes []types.NodeID) {
	for _, id := range nodes {
		if f.borrowed[id]--; f.borrowed[id] <= 0 {
			delete(f.borrowed, id)
		}
	}
}

func sortNodeIDs(ids []types.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}

func sortedPartitions[V any](m map[types.PartitionNumber]V) []types.PartitionNumber {
	out := make([]types.PartitionNumber, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys[V any](m map[types.SubstateKey]V) []types.SubstateKey {
	out := make([]types.SubstateKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i], out[j]) })
	return out
}

func keyLess(a, b types.SubstateKey) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Field != b.Field {
		return a.Field < b.Field
	}
	if a.Sort != b.Sort {
		return a.Sort < b.Sort
	}
	return a.Key < b.Key
}
