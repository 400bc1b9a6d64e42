// Package kernel enforces node ownership, visibility and substate locking
// across a stack of call frames.
package kernel

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/metrics"
	"github.com/govm-net/kernel/security"
	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/types"
)

// Options configures a Kernel. Nil collaborators are disabled.
type Options struct {
	Limits  security.Limits
	Fees    *costing.FeeReserve
	Tracer  *security.CallTracer
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Invocation describes a call about to be pushed.
type Invocation struct {
	Actor    string
	Function string
	Receiver *types.NodeID
	Args     []byte
	// ExtraRefs are global nodes made visible to the callee in addition to
	// the references carried by Args.
	ExtraRefs []types.NodeID
	// Data is attached to the callee frame for the layer above.
	Data any
}

// Callback runs the callee at the given depth.
type Callback func(depth int) ([]byte, error)

// PartitionMove copies one partition of an owned heap node into a new
// global node.
type PartitionMove struct {
	Node types.NodeID
	From types.PartitionNumber
	To   types.PartitionNumber
}

// Kernel is the per-transaction execution core. It is not safe for
// concurrent use.
type Kernel struct {
	track   *state.Track
	heap    *Heap
	locks   *LockManager
	frames  []*CallFrame
	limits  security.Limits
	fees    *costing.FeeReserve
	tracer  *security.CallTracer
	metrics *metrics.Collector
	logger  *slog.Logger

	aborted error
}

// New creates a kernel over track with a root frame at depth 0.
func New(track *state.Track, opts Options) *Kernel {
	if opts.Limits.MaxCallDepth == 0 {
		opts.Limits = security.DefaultLimits()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Kernel{
		track:   track,
		heap:    NewHeap(),
		locks:   NewLockManager(opts.Limits.MaxOpenLocks),
		frames:  []*CallFrame{newCallFrame(0, nil, nil)},
		limits:  opts.Limits,
		fees:    opts.Fees,
		tracer:  opts.Tracer,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Depth returns the depth of the innermost frame.
func (k *Kernel) Depth() int {
	return len(k.frames) - 1
}

// Frame returns the frame at depth, or nil.
func (k *Kernel) Frame(depth int) *CallFrame {
	if depth < 0 || depth >= len(k.frames) {
		return nil
	}
	return k.frames[depth]
}

// Heap returns the nodes not yet persisted.
func (k *Kernel) Heap() *Heap { return k.heap }

// Locks returns the lock manager of the transaction.
func (k *Kernel) Locks() *LockManager { return k.locks }

// Track returns the overlay the kernel writes to.
func (k *Kernel) Track() *state.Track { return k.track }

// Limits returns the configured execution limits.
func (k *Kernel) Limits() security.Limits { return k.limits }

// AbortCause returns the first fatal error of the transaction.
func (k *Kernel) AbortCause() error {
	return k.aborted
}

// Abort records err as the abort cause unless one is already set. It
// returns err so callers can write `return k.Abort(err)`.
func (k *Kernel) Abort(err error) error {
	if err != nil && k.aborted == nil {
		k.aborted = err
		k.logger.Debug("transaction aborted", "depth", k.Depth(), "error", err)
	}
	return err
}

func (k *Kernel) abortedError() error {
	return &core.KernelError{Err: fmt.Errorf("%w: %w", core.ErrTransactionAborted, k.aborted)}
}

// active returns the frame at depth if it is the innermost active frame.
func (k *Kernel) active(depth int) (*CallFrame, error) {
	if k.aborted != nil {
		return nil, k.abortedError()
	}
	f := k.Frame(depth)
	if f == nil || depth != k.Depth() || f.state != FrameActive {
		return nil, k.Abort(core.NewKernelError(core.ErrFrameNotActive, "depth %d", depth))
	}
	return f, nil
}

// CheckActive fails unless depth is the innermost active frame of a live
// transaction.
func (k *Kernel) CheckActive(depth int) error {
	_, err := k.active(depth)
	return err
}

func (k *Kernel) consume(units uint64, reason string) error {
	if err := k.fees.Consume(units, reason); err != nil {
		return k.Abort(err)
	}
	return nil
}

func (k *Kernel) index(raw []byte) (*core.IndexedValue, error) {
	if len(raw) > k.limits.MaxSubstateSize {
		return nil, core.NewKernelError(core.ErrSubstateTooLarge, "%d bytes", len(raw))
	}
	iv, err := core.IndexValue(raw)
	if err != nil {
		return nil, &core.KernelError{Err: err}
	}
	if id, dup := iv.DuplicateOwn(); dup {
		return nil, core.NewKernelError(core.ErrDuplicateOwn, "%s", id)
	}
	return iv, nil
}

// checkRefs verifies that every reference is a global node visible to f.
func (k *Kernel) checkRefs(f *CallFrame, refs []types.NodeID) error {
	for _, id := range refs {
		if !id.IsGlobal() {
			return core.NewKernelError(core.ErrNonGlobalReference, "%s", id)
		}
		if !f.IsVisible(id) {
			return core.NewKernelError(core.ErrNodeNotVisible, "reference %s at depth %d", id, f.depth)
		}
	}
	return nil
}

// checkMovable verifies that every node is an unlocked root owned by f.
func (k *Kernel) checkMovable(f *CallFrame, nodes []types.NodeID) error {
	for _, id := range nodes {
		if !f.Owns(id) {
			return core.NewKernelError(core.ErrNodeNotOwnedByCaller, "%s at depth %d", id, f.depth)
		}
		if k.locks.NodeLocked(id) {
			return core.NewKernelError(core.ErrSubstateLocked, "cannot move locked node %s", id)
		}
	}
	return nil
}

// Invoke pushes a frame for inv, runs fn in it and pops it. Owned nodes in
// the arguments move to the callee; owned nodes in the result move back.
func (k *Kernel) Invoke(depth int, inv *Invocation, fn Callback) ([]byte, error) {
	caller, err := k.active(depth)
	if err != nil {
		return nil, err
	}
	if depth+1 > k.limits.MaxCallDepth {
		return nil, k.Abort(core.NewKernelError(core.ErrCallDepthExceeded, "limit %d", k.limits.MaxCallDepth))
	}

	var args *core.IndexedValue
	if len(inv.Args) > 0 {
		if args, err = k.index(inv.Args); err != nil {
			return nil, k.Abort(err)
		}
	} else {
		args = &core.IndexedValue{}
	}
	if err := k.checkMovable(caller, args.Owned); err != nil {
		return nil, k.Abort(err)
	}
	if err := k.checkRefs(caller, args.References); err != nil {
		return nil, k.Abort(err)
	}
	if inv.Receiver != nil && !caller.IsVisible(*inv.Receiver) {
		return nil, k.Abort(core.NewKernelError(core.ErrNodeNotVisible, "receiver %s at depth %d", *inv.Receiver, depth))
	}
	for _, id := range inv.ExtraRefs {
		if !id.IsGlobal() {
			return nil, k.Abort(core.NewKernelError(core.ErrNonGlobalReference, "%s", id))
		}
	}
	if err := k.consume(k.fees.Table().Invoke, costing.ReasonInvoke); err != nil {
		return nil, err
	}

	callee := newCallFrame(depth+1, inv.Data, inv.Receiver)
	for _, id := range args.Owned {
		if err := caller.MoveNodeOut(id, callee, k.locks); err != nil {
			return nil, k.Abort(err)
		}
	}
	for _, id := range args.References {
		callee.AddReference(id)
	}
	for _, id := range inv.ExtraRefs {
		callee.AddReference(id)
	}
	k.frames = append(k.frames, callee)
	k.tracer.BeginCall(inv.Actor, inv.Function)
	k.metrics.IncInvocation()
	k.logger.Debug("invoke", "depth", callee.depth, "actor", inv.Actor, "function", inv.Function)

	out, err := fn(callee.depth)
	if err == nil && k.aborted != nil {
		err = k.abortedError()
	}
	if err == nil {
		err = k.returnToCaller(caller, callee, out)
	}
	callee.state = FramePopped
	k.frames = k.frames[:len(k.frames)-1]
	k.tracer.EndCall(err)
	if err != nil {
		return nil, k.Abort(err)
	}
	return out, nil
}

func (k *Kernel) returnToCaller(caller, callee *CallFrame, out []byte) error {
	callee.state = FrameClosing

	if open := k.locks.OpenByDepth(callee.depth); len(open) > 0 {
		return core.NewKernelError(core.ErrLockNotReleased, "%d locks open at depth %d", len(open), callee.depth)
	}
	ret := &core.IndexedValue{Raw: out}
	if len(out) > 0 {
		var err error
		if ret, err = k.index(out); err != nil {
			return err
		}
	}
	if err := k.checkMovable(callee, ret.Owned); err != nil {
		return err
	}
	if err := k.checkRefs(callee, ret.References); err != nil {
		return err
	}
	for _, id := range ret.Owned {
		if err := callee.MoveNodeOut(id, caller, k.locks); err != nil {
			return err
		}
	}
	if left := callee.OwnedNodes(); len(left) > 0 {
		return core.NewKernelError(core.ErrOrphanedNode, "%s left at depth %d", left[0], callee.depth)
	}
	for _, id := range ret.References {
		caller.AddReference(id)
	}
	return nil
}

// CreateNode puts a new node on the heap, owned by the frame at depth. Owned
// nodes inside its substates become its children.
func (k *Kernel) CreateNode(depth int, id types.NodeID, substates map[types.PartitionNumber]map[types.SubstateKey][]byte) error {
	f, err := k.active(depth)
	if err != nil {
		return err
	}
	if err := k.createNode(f, id, substates); err != nil {
		return k.Abort(err)
	}
	k.metrics.IncNodeCreated()
	return nil
}

func (k *Kernel) createNode(f *CallFrame, id types.NodeID, raw map[types.PartitionNumber]map[types.SubstateKey][]byte) error {
	if err := k.fees.Consume(k.fees.Table().CreateNode, costing.ReasonCreateNode); err != nil {
		return err
	}
	if exists, err := k.exists(id); err != nil {
		return err
	} else if exists {
		return core.NewKernelError(core.ErrNodeAlreadyExists, "%s", id)
	}

	subs := make(Substates, len(raw))
	seen := make(map[types.NodeID]struct{})
	for _, p := range sortedPartitions(raw) {
		for _, key := range sortedKeys(raw[p]) {
			iv, err := k.index(raw[p][key])
			if err != nil {
				return err
			}
			for _, child := range iv.Owned {
				if _, dup := seen[child]; dup || child == id {
					return core.NewKernelError(core.ErrDuplicateOwn, "%s", child)
				}
				seen[child] = struct{}{}
			}
			if err := k.checkMovable(f, iv.Owned); err != nil {
				return err
			}
			if err := k.checkRefs(f, iv.References); err != nil {
				return err
			}
			subs.set(p, key, iv)
		}
	}
	for child := range seen {
		delete(f.owned, child)
	}
	k.heap.Insert(id, subs)
	f.owned[id] = struct{}{}
	return nil
}

func (k *Kernel) exists(id types.NodeID) (bool, error) {
	if k.heap.Contains(id) {
		return true, nil
	}
	found, err := k.track.NodeExists(id)
	if err != nil {
		return false, &core.KernelError{Err: err}
	}
	return found, nil
}

// DropNode removes an owned node that owns nothing and returns its substates.
func (k *Kernel) DropNode(depth int, id types.NodeID) (map[types.PartitionNumber]map[types.SubstateKey][]byte, error) {
	f, err := k.active(depth)
	if err != nil {
		return nil, err
	}
	if !f.Owns(id) {
		return nil, k.Abort(core.NewKernelError(core.ErrNodeNotOwnedByCaller, "%s at depth %d", id, depth))
	}
	if k.locks.NodeLocked(id) {
		return nil, k.Abort(core.NewKernelError(core.ErrSubstateLocked, "cannot drop locked node %s", id))
	}
	subs := k.heap.Node(id)
	if children := subs.OwnedChildren(); len(children) > 0 {
		return nil, k.Abort(core.NewKernelError(core.ErrCannotDropNonEmptyNode, "%s owns %s", id, children[0]))
	}
	if err := k.consume(k.fees.Table().DropNode, costing.ReasonDropNode); err != nil {
		return nil, err
	}
	k.heap.Remove(id)
	delete(f.owned, id)
	return subs.Raw(), nil
}

// AddReference makes an existing global node visible to the frame at depth.
func (k *Kernel) AddReference(depth int, id types.NodeID) error {
	f, err := k.active(depth)
	if err != nil {
		return err
	}
	if !id.IsGlobal() {
		return k.Abort(core.NewKernelError(core.ErrNotGlobalNode, "%s", id))
	}
	found, err := k.exists(id)
	if err != nil {
		return k.Abort(err)
	}
	if !found {
		return k.Abort(core.NewKernelError(core.ErrNodeNotFound, "%s", id))
	}
	f.AddReference(id)
	return nil
}

// NodeExists reports whether id is on the heap or in the store.
func (k *Kernel) NodeExists(id types.NodeID) (bool, error) {
	return k.exists(id)
}

// OpenSubstate locks a substate for the frame at depth. Opening an absent
// substate without LockAllowAbsent returns ErrSubstateNotFound, which does
// not abort the transaction.
func (k *Kernel) OpenSubstate(depth int, addr types.SubstateAddress, mode types.LockMode, flags types.LockFlags) (types.LockHandle, error) {
	f, err := k.active(depth)
	if err != nil {
		return 0, err
	}
	if !f.IsVisible(addr.Node) {
		return 0, k.Abort(core.NewKernelError(core.ErrNodeNotVisible, "%s at depth %d", addr.Node, depth))
	}
	if mode == types.LockWrite && !f.canWrite(addr.Node) {
		return 0, k.Abort(core.NewKernelError(core.ErrNodeNotVisible, "no write access to %s at depth %d", addr.Node, depth))
	}
	if err := k.consume(k.fees.Table().OpenSubstate, costing.ReasonOpenSubstate); err != nil {
		return 0, err
	}

	lock, err := k.locks.Open(addr, mode, flags, depth)
	if err != nil {
		if errors.Is(err, core.ErrSubstateLocked) {
			k.metrics.IncLockConflict()
		}
		return 0, k.Abort(err)
	}
	value, err := k.load(addr)
	if err != nil {
		k.locks.Close(lock.Handle)
		return 0, k.Abort(err)
	}
	if value == nil && flags&types.LockAllowAbsent == 0 {
		k.locks.Close(lock.Handle)
		return 0, fmt.Errorf("%w: %s", core.ErrSubstateNotFound, addr)
	}

	lock.value = value
	if value != nil {
		lock.borrowed = append([]types.NodeID(nil), value.Owned...)
		f.borrow(lock.borrowed)
		for _, id := range value.References {
			f.AddReference(id)
		}
	}
	f.locks[lock.Handle] = struct{}{}
	return lock.Handle, nil
}

func (k *Kernel) load(addr types.SubstateAddress) (*core.IndexedValue, error) {
	if k.heap.Contains(addr.Node) {
		v, _ := k.heap.Get(addr)
		return v, nil
	}
	raw, found, err := k.track.Read(addr)
	if err != nil {
		return nil, &core.KernelError{Err: err}
	}
	if !found {
		return nil, nil
	}
	iv, err := core.IndexValue(raw)
	if err != nil {
		return nil, &core.KernelError{Err: err}
	}
	return iv, nil
}

func (k *Kernel) frameLock(f *CallFrame, h types.LockHandle) (*Lock, error) {
	if _, ok := f.locks[h]; !ok {
		return nil, core.NewKernelError(core.ErrInvalidLockHandle, "handle %d at depth %d", h, f.depth)
	}
	return k.locks.Get(h)
}

// LockInfo returns the address and mode of a handle held by the frame.
func (k *Kernel) LockInfo(depth int, h types.LockHandle) (types.SubstateAddress, types.LockMode, error) {
	f, err := k.active(depth)
	if err != nil {
		return types.SubstateAddress{}, 0, err
	}
	lock, err := k.frameLock(f, h)
	if err != nil {
		return types.SubstateAddress{}, 0, k.Abort(err)
	}
	return lock.Address, lock.Mode, nil
}

// ReadSubstate returns the value seen through h; nil when absent.
func (k *Kernel) ReadSubstate(depth int, h types.LockHandle) ([]byte, error) {
	f, err := k.active(depth)
	if err != nil {
		return nil, err
	}
	if _, err := k.frameLock(f, h); err != nil {
		return nil, k.Abort(err)
	}
	raw, err := k.locks.Read(h)
	if err != nil || raw == nil {
		return nil, err
	}
	if err := k.consume(k.fees.Table().ReadPerByte*uint64(len(raw)), costing.ReasonReadSubstate); err != nil {
		return nil, err
	}
	return raw, nil
}

// WriteSubstate replaces the value behind a write lock. Nodes owned by the
// new value must be unlocked roots of the frame; nodes dropped from the old
// value return to the frame.
func (k *Kernel) WriteSubstate(depth int, h types.LockHandle, value []byte) error {
	f, err := k.active(depth)
	if err != nil {
		return err
	}
	if err := k.writeSubstate(f, h, value); err != nil {
		return k.Abort(err)
	}
	return nil
}

func (k *Kernel) writeSubstate(f *CallFrame, h types.LockHandle, value []byte) error {
	lock, err := k.frameLock(f, h)
	if err != nil {
		return err
	}
	if lock.Mode != types.LockWrite {
		return core.NewKernelError(core.ErrLockNotWritable, "handle %d on %s", h, lock.Address)
	}
	iv, err := k.index(value)
	if err != nil {
		return err
	}
	if err := k.fees.Consume(k.fees.Table().WritePerByte*uint64(len(value)), costing.ReasonWriteSubstate); err != nil {
		return err
	}

	before := lock.value.OwnedSet()
	after := iv.OwnedSet()
	var added, removed []types.NodeID
	for _, id := range iv.Owned {
		if _, ok := before[id]; !ok {
			added = append(added, id)
		}
	}
	if lock.value != nil {
		for _, id := range lock.value.Owned {
			if _, ok := after[id]; !ok {
				removed = append(removed, id)
			}
		}
	}

	for _, id := range added {
		if id == lock.Address.Node {
			return core.NewKernelError(core.ErrDuplicateOwn, "%s cannot own itself", id)
		}
	}
	if err := k.checkMovable(f, added); err != nil {
		return err
	}
	for _, id := range removed {
		if !k.heap.Contains(id) {
			return core.NewKernelError(core.ErrCannotRemoveStoredNode, "%s", id)
		}
	}
	if err := k.checkRefs(f, iv.References); err != nil {
		return err
	}

	for _, id := range added {
		delete(f.owned, id)
	}
	for _, id := range removed {
		f.owned[id] = struct{}{}
	}
	// the frame keeps read access to the children still held by the lock
	f.release(lock.borrowed)
	lock.borrowed = nil
	for _, id := range iv.Owned {
		if _, ok := before[id]; ok {
			lock.borrowed = append(lock.borrowed, id)
		}
	}
	f.borrow(lock.borrowed)

	return k.locks.Write(h, iv)
}

// CloseSubstate releases h and publishes its value. Writes to a stored
// node also persist the heap nodes it now owns.
func (k *Kernel) CloseSubstate(depth int, h types.LockHandle) error {
	f, err := k.active(depth)
	if err != nil {
		return err
	}
	if _, err := k.frameLock(f, h); err != nil {
		return k.Abort(err)
	}
	lock, err := k.locks.Close(h)
	if err != nil {
		return k.Abort(err)
	}
	delete(f.locks, h)
	f.release(lock.borrowed)

	if !lock.dirty {
		return nil
	}
	if k.heap.Contains(lock.Address.Node) {
		k.heap.Set(lock.Address, lock.value)
		return nil
	}
	k.track.Write(lock.Address, lock.value.Raw)
	for _, child := range lock.value.Owned {
		if k.heap.Contains(child) {
			if err := k.persist(child); err != nil {
				return k.Abort(err)
			}
		}
	}
	return nil
}

// persist moves a heap node and its children into the track.
func (k *Kernel) persist(id types.NodeID) error {
	if id.IsTransient() {
		return core.NewKernelError(core.ErrCannotPersistTransient, "%s", id)
	}
	subs, ok := k.heap.Remove(id)
	if !ok {
		return core.NewKernelError(core.ErrNodeNotFound, "%s is not on the heap", id)
	}
	subs.each(func(p types.PartitionNumber, key types.SubstateKey, v *core.IndexedValue) {
		k.track.Write(types.SubstateAddress{Node: id, Partition: p, Key: key}, v.Raw)
	})
	for _, child := range subs.OwnedChildren() {
		if err := k.persist(child); err != nil {
			return err
		}
	}
	return nil
}

// GlobalizeNode assembles a global node from partitions of owned heap nodes
// plus extra substates, and persists it. The source nodes are consumed.
func (k *Kernel) GlobalizeNode(depth int, global types.NodeID, moves []PartitionMove, extra map[types.PartitionNumber]map[types.SubstateKey][]byte) error {
	f, err := k.active(depth)
	if err != nil {
		return err
	}
	if err := k.globalize(f, global, moves, extra); err != nil {
		return k.Abort(err)
	}
	f.AddReference(global)
	k.metrics.IncNodeCreated()
	return nil
}

func (k *Kernel) globalize(f *CallFrame, global types.NodeID, moves []PartitionMove, extra map[types.PartitionNumber]map[types.SubstateKey][]byte) error {
	if !global.IsGlobal() {
		return core.NewKernelError(core.ErrNotGlobalNode, "%s", global)
	}
	if exists, err := k.exists(global); err != nil {
		return err
	} else if exists {
		return core.NewKernelError(core.ErrNodeAlreadyExists, "%s", global)
	}

	sources := make(map[types.NodeID]map[types.PartitionNumber]bool)
	var order []types.NodeID
	for _, m := range moves {
		if _, ok := sources[m.Node]; !ok {
			if err := k.checkMovable(f, []types.NodeID{m.Node}); err != nil {
				return err
			}
			sources[m.Node] = make(map[types.PartitionNumber]bool)
			order = append(order, m.Node)
		}
		sources[m.Node][m.From] = true
	}

	subs := make(Substates)
	for _, m := range moves {
		if _, taken := subs[m.To]; taken {
			return core.NewKernelError(core.ErrInvalidPayload, "partition %d assigned twice", m.To)
		}
		for key, v := range k.heap.Node(m.Node)[m.From] {
			subs.set(m.To, key, v)
		}
	}
	for _, id := range order {
		for p, part := range k.heap.Node(id) {
			if sources[id][p] {
				continue
			}
			for _, v := range part {
				if len(v.Owned) > 0 {
					return core.NewKernelError(core.ErrOrphanedNode, "%s left in partition %d of %s", v.Owned[0], p, id)
				}
			}
		}
	}
	for _, p := range sortedPartitions(extra) {
		if _, taken := subs[p]; taken {
			return core.NewKernelError(core.ErrInvalidPayload, "partition %d assigned twice", p)
		}
		for key, raw := range extra[p] {
			iv, err := k.index(raw)
			if err != nil {
				return err
			}
			if len(iv.Owned) > 0 {
				return core.NewKernelError(core.ErrInvalidPayload, "extra substate owns %s", iv.Owned[0])
			}
			if err := k.checkRefs(f, iv.References); err != nil {
				return err
			}
			subs.set(p, key, iv)
		}
	}
	if err := k.fees.Consume(k.fees.Table().CreateNode, costing.ReasonCreateNode); err != nil {
		return err
	}

	for _, id := range order {
		k.heap.Remove(id)
		delete(f.owned, id)
	}
	k.heap.Insert(global, subs)
	return k.persist(global)
}

// Finalize checks that the transaction left nothing behind and returns the
// state updates to commit.
func (k *Kernel) Finalize() (*state.StateUpdates, error) {
	if k.aborted != nil {
		return nil, k.abortedError()
	}
	if len(k.frames) != 1 {
		return nil, k.Abort(core.NewKernelError(core.ErrFrameNotActive, "%d frames still on the stack", len(k.frames)))
	}
	root := k.frames[0]
	if n := k.locks.Len(); n > 0 {
		return nil, k.Abort(core.NewKernelError(core.ErrLockNotReleased, "%d locks open at commit", n))
	}
	if owned := root.OwnedNodes(); len(owned) > 0 {
		return nil, k.Abort(core.NewKernelError(core.ErrOrphanedNode, "%s owned by the root frame", owned[0]))
	}
	if nodes := k.heap.Nodes(); len(nodes) > 0 {
		return nil, k.Abort(core.NewKernelError(core.ErrOrphanedNode, "%s left on the heap", nodes[0]))
	}
	root.state = FramePopped
	return k.track.Finalize(), nil
}
