package wasi

import (
	"encoding/json"
	"sort"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// hostHandler serves one host function. A nil result means "no data".
type hostHandler func(api core.SystemAPI, arg []byte) ([]byte, error)

var hostHandlers = map[types.HostFunctionID]hostHandler{
	types.FuncObjectNew:              handleObjectNew,
	types.FuncObjectGlobalize:        handleObjectGlobalize,
	types.FuncObjectDrop:             handleObjectDrop,
	types.FuncObjectInfo:             handleObjectInfo,
	types.FuncActorOpenField:         handleActorOpenField,
	types.FuncFieldRead:              handleFieldRead,
	types.FuncFieldWrite:             handleFieldWrite,
	types.FuncFieldLock:              handleFieldLock,
	types.FuncFieldClose:             handleFieldClose,
	types.FuncActorOpenKeyValueEntry: handleActorOpenKeyValueEntry,
	types.FuncKeyValueEntryGet:       handleKeyValueEntryGet,
	types.FuncKeyValueEntrySet:       handleKeyValueEntrySet,
	types.FuncKeyValueEntryLock:      handleKeyValueEntryLock,
	types.FuncKeyValueEntryClose:     handleKeyValueEntryClose,
	types.FuncCallMethod:             handleCallMethod,
	types.FuncCallModuleMethod:       handleCallMethod,
	types.FuncCallFunction:           handleCallFunction,
	types.FuncActorNodeID:            handleActorNodeID,
	types.FuncEmitEvent:              handleEmitEvent,
	types.FuncAddReference:           handleAddReference,
}

// dispatchHost decodes and runs a host call.
func dispatchHost(api core.SystemAPI, id types.HostFunctionID, arg []byte) ([]byte, error) {
	handler, ok := hostHandlers[id]
	if !ok {
		return nil, core.NewSystemError(core.ErrInvalidHostCall, "unknown host function %d", id)
	}
	return handler(api, arg)
}

func decode(arg []byte, v any) error {
	if err := json.Unmarshal(arg, v); err != nil {
		return core.NewSystemError(core.ErrInvalidHostCall, "failed to decode %T: %v", v, err)
	}
	return nil
}

func actorRef(outer bool) core.ActorRef {
	if outer {
		return core.ActorOuter
	}
	return core.ActorSelf
}

func handleObjectNew(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.ObjectNewParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	init := core.ObjectInit{
		Blueprint: p.Blueprint,
		Features:  p.Features,
		Generics:  p.Generics,
	}
	for _, f := range p.Fields {
		init.Fields = append(init.Fields, core.FieldValue{Value: f})
	}
	collections := make([]int, 0, len(p.Entries))
	for c := range p.Entries {
		collections = append(collections, int(c))
	}
	sort.Ints(collections)
	for _, c := range collections {
		entries := p.Entries[uint8(c)]
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			init.Entries = append(init.Entries, core.CollectionEntry{Collection: uint8(c), Key: []byte(k), Value: entries[k]})
		}
	}
	id, err := api.NewObject(init)
	if err != nil {
		return nil, err
	}
	return json.Marshal(core.Own{ID: id})
}

func handleObjectGlobalize(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.ObjectGlobalizeParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	addr, err := api.Globalize(p.Node, p.Modules)
	if err != nil {
		return nil, err
	}
	return json.Marshal(addr)
}

func handleObjectDrop(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.NodeParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	fields, err := api.DropObject(p.Node)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func handleObjectInfo(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.NodeParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	info, err := api.GetObjectInfo(p.Node)
	if err != nil {
		return nil, err
	}
	return json.Marshal(info)
}

func handleActorOpenField(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.ActorOpenFieldParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	h, err := api.ActorOpenField(actorRef(p.Outer), p.Field, p.Mode)
	if err != nil {
		return nil, err
	}
	return json.Marshal(h)
}

func handleFieldRead(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.HandleParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	return api.FieldRead(p.Handle)
}

func handleFieldWrite(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.HandleWriteParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	return nil, api.FieldWrite(p.Handle, p.Value)
}

func handleFieldLock(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.HandleParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	return nil, api.FieldLock(p.Handle)
}

func handleFieldClose(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.HandleParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	return nil, api.FieldClose(p.Handle)
}

func handleActorOpenKeyValueEntry(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.ActorOpenKeyValueEntryParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	h, err := api.ActorOpenKeyValueEntry(actorRef(p.Outer), p.Collection, []byte(p.Key), p.Mode)
	if err != nil {
		return nil, err
	}
	return json.Marshal(h)
}

func handleKeyValueEntryGet(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.HandleParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	return api.KeyValueEntryGet(p.Handle)
}

func handleKeyValueEntrySet(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.HandleWriteParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	return nil, api.KeyValueEntrySet(p.Handle, p.Value)
}

func handleKeyValueEntryLock(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.HandleParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	return nil, api.KeyValueEntryLock(p.Handle)
}

func handleKeyValueEntryClose(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.HandleParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	return nil, api.KeyValueEntryClose(p.Handle)
}

func handleCallMethod(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.CallMethodParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	if p.Module != types.ModuleMain {
		return api.CallModuleMethod(p.Receiver, p.Module, p.Method, p.Args)
	}
	return api.CallMethod(p.Receiver, p.Method, p.Args)
}

func handleCallFunction(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.CallFunctionParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	bp := core.BlueprintID{Package: p.Package, Blueprint: p.Blueprint}
	return api.CallFunction(bp, p.Function, p.Args)
}

func handleActorNodeID(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.ActorNodeIDParams
	if len(arg) > 0 {
		if err := decode(arg, &p); err != nil {
			return nil, err
		}
	}
	id, err := api.ActorNodeID(actorRef(p.Outer))
	if err != nil {
		return nil, err
	}
	return json.Marshal(id)
}

func handleEmitEvent(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.EmitEventParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	return nil, api.EmitEvent(p.Name, p.Payload)
}

func handleAddReference(api core.SystemAPI, arg []byte) ([]byte, error) {
	var p types.NodeParams
	if err := decode(arg, &p); err != nil {
		return nil, err
	}
	if err := api.AddReference(p.Node); err != nil {
		return nil, err
	}
	return json.Marshal(core.Reference{ID: p.Node})
}
