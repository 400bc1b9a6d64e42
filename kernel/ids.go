package kernel

import (
	"encoding/binary"

	"github.com/govm-net/kernel/types"
	"lukechampine.com/blake3"
)

// IDAllocator derives node ids from the transaction hash and a counter, so
// the ids of a transaction are reproducible.
type IDAllocator struct {
	txHash  types.Hash
	counter uint64
}

// NewIDAllocator seeds the allocator with the transaction hash.
func NewIDAllocator(txHash types.Hash) *IDAllocator {
	return &IDAllocator{txHash: txHash}
}

// Allocate returns the next id with the given entity type.
func (a *IDAllocator) Allocate(entity types.EntityType) types.NodeID {
	var buf [len(types.Hash{}) + 8]byte
	copy(buf[:], a.txHash[:])
	binary.BigEndian.PutUint64(buf[len(a.txHash):], a.counter)
	a.counter++

	sum := blake3.Sum256(buf[:])
	var id types.NodeID
	id[0] = byte(entity)
	copy(id[1:], sum[:types.NodeIDLength-1])
	return id
}

// Allocated returns how many ids were handed out.
func (a *IDAllocator) Allocated() uint64 {
	return a.counter
}
