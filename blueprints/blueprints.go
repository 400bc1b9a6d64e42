// Package blueprints holds the helpers shared by the native blueprint
// packages. The packages themselves live in subdirectories.
package blueprints

import (
	"encoding/json"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/system"
	"github.com/govm-net/kernel/types"
)

// Decode unmarshals validated call arguments.
func Decode(args []byte, v any) error {
	if len(args) == 0 {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return core.NewSchemaError(core.ErrSchemaMismatch, "decode %T: %v", v, err)
	}
	return nil
}

// Encode marshals a return value.
func Encode(v any) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, core.NewSchemaError(core.ErrSchemaMismatch, "encode %T: %v", v, err)
	}
	return out, nil
}

// ReadField reads one field of the actor into v.
func ReadField(api core.SystemAPI, ref core.ActorRef, field uint8, v any) error {
	h, err := api.ActorOpenField(ref, field, types.LockRead)
	if err != nil {
		return err
	}
	raw, err := api.FieldRead(h)
	if err != nil {
		return err
	}
	if err := api.FieldClose(h); err != nil {
		return err
	}
	return Decode(raw, v)
}

// WriteField replaces one field of the actor.
func WriteField(api core.SystemAPI, ref core.ActorRef, field uint8, v any) error {
	raw, err := Encode(v)
	if err != nil {
		return err
	}
	h, err := api.ActorOpenField(ref, field, types.LockWrite)
	if err != nil {
		return err
	}
	if err := api.FieldWrite(h, raw); err != nil {
		return err
	}
	return api.FieldClose(h)
}

// UpdateField applies fn to a field under a single write lock.
func UpdateField[T any](api core.SystemAPI, ref core.ActorRef, field uint8, fn func(*T) error) error {
	h, err := api.ActorOpenField(ref, field, types.LockWrite)
	if err != nil {
		return err
	}
	raw, err := api.FieldRead(h)
	if err != nil {
		return err
	}
	var v T
	if err := Decode(raw, &v); err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	if raw, err = Encode(v); err != nil {
		return err
	}
	if err := api.FieldWrite(h, raw); err != nil {
		return err
	}
	return api.FieldClose(h)
}

// OwnedNode extracts the node of a {"$own": ...} payload.
func OwnedNode(raw []byte) (types.NodeID, error) {
	var own core.Own
	if err := Decode(raw, &own); err != nil {
		return types.NodeID{}, err
	}
	if own.ID == types.ZeroNodeID {
		return types.NodeID{}, core.NewSchemaError(core.ErrSchemaMismatch, "expected an owned node, got %s", raw)
	}
	return own.ID, nil
}

// Call invokes a method with JSON encoded arguments and decodes the result
// into out when out is not nil. Nil args send no payload.
func Call(api core.SystemAPI, receiver types.NodeID, method string, args, out any) error {
	var raw []byte
	if args != nil {
		var err error
		if raw, err = Encode(args); err != nil {
			return err
		}
	}
	res, err := api.CallMethod(receiver, method, raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return Decode(res, out)
}

// Globalize attaches a metadata module built from metadata, when there is
// any, and makes node global.
func Globalize(api core.SystemAPI, node types.NodeID, metadata map[string]string) (types.GlobalAddress, error) {
	modules := make(map[types.ModuleID]types.NodeID)
	if len(metadata) > 0 {
		args, err := Encode(struct {
			Entries map[string]string `json:"entries"`
		}{metadata})
		if err != nil {
			return types.GlobalAddress{}, err
		}
		bp := core.BlueprintID{Package: types.MetadataPackage, Blueprint: system.MetadataBlueprint}
		out, err := api.CallFunction(bp, "create", args)
		if err != nil {
			return types.GlobalAddress{}, err
		}
		if modules[types.ModuleMetadata], err = OwnedNode(out); err != nil {
			return types.GlobalAddress{}, err
		}
	}
	return api.Globalize(node, modules)
}
