package state

import (
	"encoding/binary"
	"fmt"

	"github.com/govm-net/kernel/types"
)

// EncodeKey generates the storage key of a substate.
// Format: node_id + partition + key_kind + key payload
//
// The encoding preserves the (node, partition, key) ordering so that all
// substates of a node, or of a partition, share a prefix.
func EncodeKey(addr types.SubstateAddress) []byte {
	key := make([]byte, 0, types.NodeIDLength+2+3+len(addr.Key.Key))
	key = append(key, addr.Node[:]...)
	key = append(key, byte(addr.Partition), byte(addr.Key.Kind))
	switch addr.Key.Kind {
	case types.FieldKeyKind:
		key = append(key, addr.Key.Field)
	case types.SortedKeyKind:
		key = binary.BigEndian.AppendUint16(key, addr.Key.Sort)
		key = append(key, addr.Key.Key...)
	default:
		key = append(key, addr.Key.Key...)
	}
	return key
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(key []byte) (types.SubstateAddress, error) {
	var addr types.SubstateAddress
	if len(key) < types.NodeIDLength+2 {
		return addr, fmt.Errorf("substate key too short: %d", len(key))
	}
	copy(addr.Node[:], key[:types.NodeIDLength])
	addr.Partition = types.PartitionNumber(key[types.NodeIDLength])
	kind := types.SubstateKeyKind(key[types.NodeIDLength+1])
	rest := key[types.NodeIDLength+2:]
	switch kind {
	case types.FieldKeyKind:
		if len(rest) != 1 {
			return addr, fmt.Errorf("invalid field key length: %d", len(rest))
		}
		addr.Key = types.FieldKey(rest[0])
	case types.MapKeyKind:
		addr.Key = types.MapKey(rest)
	case types.SortedKeyKind:
		if len(rest) < 2 {
			return addr, fmt.Errorf("invalid sorted key length: %d", len(rest))
		}
		addr.Key = types.SortedKey(binary.BigEndian.Uint16(rest[:2]), rest[2:])
	default:
		return addr, fmt.Errorf("unknown substate key kind: %d", kind)
	}
	return addr, nil
}

// NodePrefix returns the prefix shared by every substate of a node.
func NodePrefix(node types.NodeID) []byte {
	return append([]byte(nil), node[:]...)
}

// PartitionPrefix returns the prefix shared by every substate of a partition.
func PartitionPrefix(node types.NodeID, partition types.PartitionNumber) []byte {
	return append(NodePrefix(node), byte(partition))
}

// PrefixRange returns key range that corresponds to the given prefix.
// It returns start (inclusive) and end (exclusive) keys for iteration.
func PrefixRange(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return nil, nil
	}

	end := make([]byte, len(prefix))
	copy(end, prefix)

	// Increment the last byte in the prefix to get the end key
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return prefix, end[:i+1]
		}
	}

	// all bytes are 0xff: no upper bound
	return prefix, nil
}
