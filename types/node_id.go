// Package types contains shared type definitions and constants
// used by the kernel, the system layer and WebAssembly blueprints
package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// EntityType is the first byte of every NodeID.
type EntityType uint8

const (
	EntityGlobalPackage EntityType = iota + 1
	EntityGlobalFungibleResourceManager
	EntityGlobalNonFungibleResourceManager
	EntityGlobalAccount
	EntityGlobalGenericComponent

	EntityInternalFungibleVault
	EntityInternalNonFungibleVault
	EntityInternalGenericComponent
	EntityInternalKeyValueStore
	// EntityInternalTransient marks objects that must never reach the store
	// (buckets and proofs).
	EntityInternalTransient
)

// IsGlobal reports whether nodes of this type are externally addressable.
func (e EntityType) IsGlobal() bool {
	return e >= EntityGlobalPackage && e <= EntityGlobalGenericComponent
}

// IsInternal reports whether nodes of this type are only reachable via an owner.
func (e EntityType) IsInternal() bool {
	return e >= EntityInternalFungibleVault && e <= EntityInternalTransient
}

// IsTransient reports whether nodes of this type must be dropped before the
// transaction ends.
func (e EntityType) IsTransient() bool {
	return e == EntityInternalTransient
}

func (e EntityType) String() string {
	switch e {
	case EntityGlobalPackage:
		return "GlobalPackage"
	case EntityGlobalFungibleResourceManager:
		return "GlobalFungibleResourceManager"
	case EntityGlobalNonFungibleResourceManager:
		return "GlobalNonFungibleResourceManager"
	case EntityGlobalAccount:
		return "GlobalAccount"
	case EntityGlobalGenericComponent:
		return "GlobalGenericComponent"
	case EntityInternalFungibleVault:
		return "InternalFungibleVault"
	case EntityInternalNonFungibleVault:
		return "InternalNonFungibleVault"
	case EntityInternalGenericComponent:
		return "InternalGenericComponent"
	case EntityInternalKeyValueStore:
		return "InternalKeyValueStore"
	case EntityInternalTransient:
		return "InternalTransient"
	default:
		return fmt.Sprintf("EntityType(%d)", uint8(e))
	}
}

// NodeIDLength is the size of a NodeID in bytes.
const NodeIDLength = 30

// NodeID names one addressable object in the state graph.
type NodeID [NodeIDLength]byte

var ZeroNodeID = NodeID{}

// EntityType returns the tag stored in the first byte.
func (id NodeID) EntityType() EntityType {
	return EntityType(id[0])
}

// IsGlobal reports whether the node is externally addressable.
func (id NodeID) IsGlobal() bool {
	return id.EntityType().IsGlobal()
}

// IsTransient reports whether the node is a bucket or proof style object.
func (id NodeID) IsTransient() bool {
	return id.EntityType().IsTransient()
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText encodes the id as hex, which also makes NodeID usable as a JSON map key.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := NodeIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NodeIDFromHex parses a hex encoded NodeID.
func NodeIDFromHex(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	if len(b) != NodeIDLength {
		return id, fmt.Errorf("invalid node id length: %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// GlobalAddress is a NodeID of a global entity type.
type GlobalAddress NodeID

// NewGlobalAddress converts a NodeID, failing when the node is internal.
func NewGlobalAddress(id NodeID) (GlobalAddress, error) {
	if !id.IsGlobal() {
		return GlobalAddress{}, fmt.Errorf("node %s is not global (%s)", id, id.EntityType())
	}
	return GlobalAddress(id), nil
}

// NodeID returns the underlying node id.
func (a GlobalAddress) NodeID() NodeID {
	return NodeID(a)
}

// IsZero reports whether a is unset.
func (a GlobalAddress) IsZero() bool {
	return a == GlobalAddress{}
}

func addressPrefix(e EntityType) string {
	switch e {
	case EntityGlobalPackage:
		return "package_"
	case EntityGlobalFungibleResourceManager, EntityGlobalNonFungibleResourceManager:
		return "resource_"
	case EntityGlobalAccount:
		return "account_"
	default:
		return "component_"
	}
}

// String renders the address as a prefixed base58 string.
func (a GlobalAddress) String() string {
	return addressPrefix(EntityType(a[0])) + base58.Encode(a[:])
}

func (a GlobalAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *GlobalAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseGlobalAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseGlobalAddress decodes the string form produced by GlobalAddress.String.
func ParseGlobalAddress(s string) (GlobalAddress, error) {
	idx := strings.LastIndex(s, "_")
	if idx < 0 {
		return GlobalAddress{}, fmt.Errorf("invalid address %q: missing prefix", s)
	}
	b, err := base58.Decode(s[idx+1:])
	if err != nil {
		return GlobalAddress{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != NodeIDLength {
		return GlobalAddress{}, fmt.Errorf("invalid address %q: length %d", s, len(b))
	}
	var id NodeID
	copy(id[:], b)
	addr, err := NewGlobalAddress(id)
	if err != nil {
		return GlobalAddress{}, err
	}
	if prefix := addressPrefix(id.EntityType()); s[:idx+1] != prefix {
		return GlobalAddress{}, fmt.Errorf("invalid address %q: expected prefix %s", s, prefix)
	}
	return addr, nil
}

// Hash is a 32 byte digest (transaction hashes, code hashes).
type Hash [32]byte

var ZeroHash = Hash{}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("invalid hash length: %d", len(b))
	}
	copy(h[:], b)
	return nil
}
