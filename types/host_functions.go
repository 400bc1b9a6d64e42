package types

import "encoding/json"

// HostFunctionID identifies the system call requested by a WebAssembly
// blueprint through the single `call_host` import.
//
// These values are part of the guest ABI: blueprint code must use the same
// numbers, so never reorder or reuse them.
type HostFunctionID int32

const (
	// FuncObjectNew creates a new object owned by the calling frame
	FuncObjectNew HostFunctionID = iota + 1 // 1
	// FuncObjectGlobalize attaches an owned object as a global root
	FuncObjectGlobalize // 2
	// FuncObjectDrop destroys an owned object and returns its fields
	FuncObjectDrop // 3
	// FuncObjectInfo returns the type info of a visible object
	FuncObjectInfo // 4
	// FuncActorOpenField opens a field of the current actor
	FuncActorOpenField // 5
	// FuncFieldRead reads an open field
	FuncFieldRead // 6
	// FuncFieldWrite writes an open field
	FuncFieldWrite // 7
	// FuncFieldLock makes a field immutable
	FuncFieldLock // 8
	// FuncFieldClose releases a field lock
	FuncFieldClose // 9
	// FuncActorOpenKeyValueEntry opens a collection entry of the current actor
	FuncActorOpenKeyValueEntry // 10
	// FuncKeyValueEntryGet reads an open entry
	FuncKeyValueEntryGet // 11
	// FuncKeyValueEntrySet writes an open entry
	FuncKeyValueEntrySet // 12
	// FuncKeyValueEntryLock makes an entry immutable
	FuncKeyValueEntryLock // 13
	// FuncKeyValueEntryClose releases an entry lock
	FuncKeyValueEntryClose // 14
	// FuncCallMethod invokes a method on an object
	FuncCallMethod // 15
	// FuncCallModuleMethod invokes a method of an attached module
	FuncCallModuleMethod // 16
	// FuncCallFunction invokes a blueprint function
	FuncCallFunction // 17
	// FuncActorNodeID returns the node of the actor or its outer object
	FuncActorNodeID // 18
	// FuncEmitEvent records an event in the receipt
	FuncEmitEvent // 19
	// FuncAddReference grants visibility to a global node
	FuncAddReference // 20
)

// ObjectNewParams are the parameters of FuncObjectNew
type ObjectNewParams struct {
	Blueprint string                               `json:"blueprint"`
	Features  []string                             `json:"features,omitempty"`
	Generics  []TypeRef                            `json:"generics,omitempty"`
	Fields    []json.RawMessage                    `json:"fields"`
	Entries   map[uint8]map[string]json.RawMessage `json:"entries,omitempty"`
}

// ObjectGlobalizeParams are the parameters of FuncObjectGlobalize
type ObjectGlobalizeParams struct {
	Node    NodeID              `json:"node"`
	Modules map[ModuleID]NodeID `json:"modules,omitempty"`
}

// NodeParams carries a single node id
type NodeParams struct {
	Node NodeID `json:"node"`
}

// ActorOpenFieldParams are the parameters of FuncActorOpenField
type ActorOpenFieldParams struct {
	Outer bool     `json:"outer,omitempty"`
	Field uint8    `json:"field"`
	Mode  LockMode `json:"mode"`
}

// ActorOpenKeyValueEntryParams are the parameters of FuncActorOpenKeyValueEntry
type ActorOpenKeyValueEntryParams struct {
	Outer      bool     `json:"outer,omitempty"`
	Collection uint8    `json:"collection"`
	Key        string   `json:"key"`
	Mode       LockMode `json:"mode"`
}

// HandleParams carries a lock handle
type HandleParams struct {
	Handle LockHandle `json:"handle"`
}

// HandleWriteParams carries a lock handle and a new value
type HandleWriteParams struct {
	Handle LockHandle      `json:"handle"`
	Value  json.RawMessage `json:"value"`
}

// CallMethodParams are the parameters of FuncCallMethod and FuncCallModuleMethod
type CallMethodParams struct {
	Receiver NodeID          `json:"receiver"`
	Module   ModuleID        `json:"module,omitempty"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// CallFunctionParams are the parameters of FuncCallFunction
type CallFunctionParams struct {
	Package   GlobalAddress   `json:"package"`
	Blueprint string          `json:"blueprint"`
	Function  string          `json:"function"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// ActorNodeIDParams are the parameters of FuncActorNodeID
type ActorNodeIDParams struct {
	Outer bool `json:"outer,omitempty"`
}

// EmitEventParams are the parameters of FuncEmitEvent
type EmitEventParams struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InvocationEnvelope is the input passed to a blueprint export.
type InvocationEnvelope struct {
	Receiver *NodeID         `json:"receiver,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
}
