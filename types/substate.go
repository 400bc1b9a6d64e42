package types

import (
	"encoding/hex"
	"fmt"
)

// PartitionNumber namespaces substates within a node.
type PartitionNumber uint8

const (
	// TypeInfoPartition holds the object's type info at field 0.
	TypeInfoPartition PartitionNumber = 0
	// MetadataBasePartition is the first partition of the metadata module.
	MetadataBasePartition PartitionNumber = 8
	// MainBasePartition is the first partition of the object's own blueprint state.
	MainBasePartition PartitionNumber = 64
)

// TypeInfoField is the field key of the type info substate.
const TypeInfoField uint8 = 0

// ModuleID selects a group of partitions within a global object.
type ModuleID uint8

const (
	ModuleMain ModuleID = iota
	ModuleMetadata
)

func (m ModuleID) String() string {
	switch m {
	case ModuleMain:
		return "main"
	case ModuleMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("module(%d)", uint8(m))
	}
}

// BasePartition returns the fields partition of the module; collection i
// lives at BasePartition()+1+i.
func (m ModuleID) BasePartition() PartitionNumber {
	if m == ModuleMetadata {
		return MetadataBasePartition
	}
	return MainBasePartition
}

// FieldsPartition returns the partition holding the fields of a module.
func FieldsPartition(base PartitionNumber) PartitionNumber {
	return base
}

// CollectionPartition returns the partition of collection index i.
func CollectionPartition(base PartitionNumber, i uint8) PartitionNumber {
	return base + 1 + PartitionNumber(i)
}

// SubstateKeyKind tags the variants of SubstateKey.
type SubstateKeyKind uint8

const (
	FieldKeyKind SubstateKeyKind = iota + 1
	MapKeyKind
	SortedKeyKind
)

// SubstateKey identifies a substate within a partition. It is comparable and
// can be used as a map key.
type SubstateKey struct {
	Kind  SubstateKeyKind
	Field uint8
	Sort  uint16
	Key   string
}

// FieldKey addresses a fixed field offset.
func FieldKey(field uint8) SubstateKey {
	return SubstateKey{Kind: FieldKeyKind, Field: field}
}

// MapKey addresses an entry of a key-value collection.
func MapKey(key []byte) SubstateKey {
	return SubstateKey{Kind: MapKeyKind, Key: string(key)}
}

// SortedKey addresses an entry of an index-prefixed collection.
func SortedKey(prefix uint16, key []byte) SubstateKey {
	return SubstateKey{Kind: SortedKeyKind, Sort: prefix, Key: string(key)}
}

func (k SubstateKey) String() string {
	switch k.Kind {
	case FieldKeyKind:
		return fmt.Sprintf("field(%d)", k.Field)
	case MapKeyKind:
		return fmt.Sprintf("map(%s)", hex.EncodeToString([]byte(k.Key)))
	case SortedKeyKind:
		return fmt.Sprintf("sorted(%d,%s)", k.Sort, hex.EncodeToString([]byte(k.Key)))
	default:
		return "invalid"
	}
}

// SubstateAddress uniquely identifies one substate slot.
type SubstateAddress struct {
	Node      NodeID
	Partition PartitionNumber
	Key       SubstateKey
}

func (a SubstateAddress) String() string {
	return fmt.Sprintf("%s/%d/%s", a.Node, a.Partition, a.Key)
}

// TypeInfoAddress returns the address of the type info substate of a node.
func TypeInfoAddress(node NodeID) SubstateAddress {
	return SubstateAddress{Node: node, Partition: TypeInfoPartition, Key: FieldKey(TypeInfoField)}
}

// LockMode is the access mode of a substate lock.
type LockMode uint8

const (
	LockRead LockMode = iota
	LockWrite
)

func (m LockMode) String() string {
	if m == LockWrite {
		return "write"
	}
	return "read"
}

// LockFlags modify how a substate is opened.
type LockFlags uint8

const (
	// LockAllowAbsent opens a lock on a slot that has no substate yet.
	LockAllowAbsent LockFlags = 1 << iota
)

// LockHandle is a transaction scoped token for an open substate lock.
type LockHandle uint32
