package core

import (
	"encoding/json"
	"fmt"

	"github.com/govm-net/kernel/types"
)

// BlueprintID names a blueprint within a package.
type BlueprintID struct {
	Package   types.GlobalAddress `json:"package"`
	Blueprint string              `json:"blueprint"`
}

func (b BlueprintID) String() string {
	return fmt.Sprintf("%s:%s", b.Package, b.Blueprint)
}

// ObjectInfo is the type info stored in partition 0 of every object.
type ObjectInfo struct {
	Blueprint   BlueprintID          `json:"blueprint"`
	OuterObject *types.GlobalAddress `json:"outer_object,omitempty"`
	Global      bool                 `json:"global"`
	Features    []string             `json:"features,omitempty"`
	Generics    []types.TypeRef      `json:"generics,omitempty"`
	Modules     []types.ModuleID     `json:"modules,omitempty"`
}

// HasFeature reports whether the object was created with the feature enabled.
func (o *ObjectInfo) HasFeature(feature string) bool {
	for _, f := range o.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// HasModule reports whether the module was attached at globalization.
func (o *ObjectInfo) HasModule(m types.ModuleID) bool {
	if m == types.ModuleMain {
		return true
	}
	for _, attached := range o.Modules {
		if attached == m {
			return true
		}
	}
	return false
}

// ActorRef selects which object of the current actor a field access targets.
type ActorRef uint8

const (
	ActorSelf ActorRef = iota
	ActorOuter
)

// FieldValue is the initial value of a field.
type FieldValue struct {
	Value  json.RawMessage
	Locked bool
}

// CollectionEntry is an initial entry of a collection.
type CollectionEntry struct {
	Collection uint8
	Key        []byte
	Value      json.RawMessage
	Locked     bool
}

// ObjectInit describes a new object: blueprint, feature flags, generic
// arguments, field values and collection entries.
type ObjectInit struct {
	Blueprint string
	Features  []string
	Generics  []types.TypeRef
	Fields    []FieldValue
	Entries   []CollectionEntry
}

// Fields builds unlocked field values from raw payloads.
func Fields(values ...[]byte) []FieldValue {
	out := make([]FieldValue, len(values))
	for i, v := range values {
		out[i] = FieldValue{Value: v}
	}
	return out
}

// Event is an event emitted by blueprint code.
type Event struct {
	Emitter BlueprintID     `json:"emitter"`
	Node    *types.NodeID   `json:"node,omitempty"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SystemAPI is the host-call surface offered to blueprint code. An API value
// is bound to one call frame and fails with ErrFrameNotActive when used while
// that frame is not the active top of the stack.
type SystemAPI interface {
	NewObject(init ObjectInit) (types.NodeID, error)
	Globalize(node types.NodeID, modules map[types.ModuleID]types.NodeID) (types.GlobalAddress, error)
	DropObject(node types.NodeID) ([]json.RawMessage, error)
	GetObjectInfo(node types.NodeID) (*ObjectInfo, error)

	ActorOpenField(ref ActorRef, field uint8, mode types.LockMode) (types.LockHandle, error)
	FieldRead(h types.LockHandle) ([]byte, error)
	FieldWrite(h types.LockHandle, value []byte) error
	FieldLock(h types.LockHandle) error
	FieldClose(h types.LockHandle) error

	ActorOpenKeyValueEntry(ref ActorRef, collection uint8, key []byte, mode types.LockMode) (types.LockHandle, error)
	// KeyValueEntryGet returns nil for an absent or empty entry.
	KeyValueEntryGet(h types.LockHandle) ([]byte, error)
	// KeyValueEntrySet stores a value; nil empties the entry.
	KeyValueEntrySet(h types.LockHandle, value []byte) error
	KeyValueEntryLock(h types.LockHandle) error
	KeyValueEntryClose(h types.LockHandle) error
	// KeyValueEntryState reports whether the entry holds a value and whether it is locked.
	KeyValueEntryState(h types.LockHandle) (present bool, locked bool, err error)

	CallMethod(receiver types.NodeID, method string, args []byte) ([]byte, error)
	CallModuleMethod(receiver types.NodeID, module types.ModuleID, method string, args []byte) ([]byte, error)
	CallFunction(blueprint BlueprintID, function string, args []byte) ([]byte, error)

	ActorNodeID(ref ActorRef) (types.NodeID, error)
	ActorBlueprint() BlueprintID
	AddReference(node types.NodeID) error
	EmitEvent(name string, payload []byte) error
	ConsumeCost(units uint64, reason string) error
}

// NativeFunction is the Go implementation of a blueprint function or method.
// receiver is nil for functions.
type NativeFunction func(api SystemAPI, receiver *types.NodeID, args []byte) ([]byte, error)
