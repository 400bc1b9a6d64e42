package kernel

import (
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// Substates is the content of one node grouped by partition.
type Substates map[types.PartitionNumber]map[types.SubstateKey]*core.IndexedValue

// OwnedChildren lists the nodes owned by any substate, in partition and key order.
func (s Substates) OwnedChildren() []types.NodeID {
	var out []types.NodeID
	s.each(func(_ types.PartitionNumber, _ types.SubstateKey, v *core.IndexedValue) {
		out = append(out, v.Owned...)
	})
	return out
}

// Raw returns the payloads without their index.
func (s Substates) Raw() map[types.PartitionNumber]map[types.SubstateKey][]byte {
	out := make(map[types.PartitionNumber]map[types.SubstateKey][]byte, len(s))
	s.each(func(p types.PartitionNumber, k types.SubstateKey, v *core.IndexedValue) {
		if out[p] == nil {
			out[p] = make(map[types.SubstateKey][]byte)
		}
		out[p][k] = v.Raw
	})
	return out
}

func (s Substates) each(fn func(types.PartitionNumber, types.SubstateKey, *core.IndexedValue)) {
	for _, p := range sortedPartitions(s) {
		for _, k := range sortedKeys(s[p]) {
			fn(p, k, s[p][k])
		}
	}
}

func (s Substates) set(p types.PartitionNumber, k types.SubstateKey, v *core.IndexedValue) {
	if s[p] == nil {
		s[p] = make(map[types.SubstateKey]*core.IndexedValue)
	}
	s[p][k] = v
}

// Heap holds the nodes created in this transaction that are not yet persisted.
type Heap struct {
	nodes map[types.NodeID]Substates
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{nodes: make(map[types.NodeID]Substates)}
}

// Contains reports whether node lives in the heap.
func (h *Heap) Contains(node types.NodeID) bool {
	_, ok := h.nodes[node]
	return ok
}

// Get returns the substate at addr when its node is in the heap.
func (h *Heap) Get(addr types.SubstateAddress) (*core.IndexedValue, bool) {
	node, ok := h.nodes[addr.Node]
	if !ok {
		return nil, false
	}
	v, ok := node[addr.Partition][addr.Key]
	return v, ok
}

// Set stores v at addr. The node must be in the heap.
func (h *Heap) Set(addr types.SubstateAddress, v *core.IndexedValue) {
	h.nodes[addr.Node].set(addr.Partition, addr.Key, v)
}

// Insert adds a node with its initial substates.
func (h *Heap) Insert(node types.NodeID, s Substates) {
	if s == nil {
		s = make(Substates)
	}
	h.nodes[node] = s
}

// Remove takes a node out of the heap, for persisting or dropping.
func (h *Heap) Remove(node types.NodeID) (Substates, bool) {
	s, ok := h.nodes[node]
	if ok {
		delete(h.nodes, node)
	}
	return s, ok
}

// Node returns the substates of a heap node, nil when absent.
func (h *Heap) Node(node types.NodeID) Substates {
	return h.nodes[node]
}

// Len returns the number of heap nodes.
func (h *Heap) Len() int {
	return len(h.nodes)
}

// Nodes lists the heap nodes in id order.
func (h *Heap) Nodes() []types.NodeID {
	out := make([]types.NodeID, 0, len(h.nodes))
	for id := range h.nodes {
		out = append(out, id)
	}
	sortNodeIDs(out)
	return out
}
