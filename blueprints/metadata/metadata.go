// Package metadata implements the key/value metadata module that can be
// attached to any global object.
package metadata

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/govm-net/kernel/blueprints"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/system"
	"github.com/govm-net/kernel/types"
	"golang.org/x/text/unicode/norm"
)

const collectionEntries uint8 = 0

// MaxValueLength bounds a single metadata value.
const MaxValueLength = 1024

var (
	ErrInvalidKey   = errors.New("invalid metadata key")
	ErrValueTooLong = errors.New("metadata value too long")
)

func init() {
	blueprints.MustRegister(Package())
}

// Definition returns the metadata blueprint.
func Definition() *object.PackageDefinition {
	str := types.Scalar(types.KindString)
	keyArgs := types.StructOf(types.Field("key", str))
	own := types.Scalar(types.KindOwn)
	opt := types.OptionOf(str)
	return &object.PackageDefinition{Blueprints: map[string]*object.BlueprintDefinition{
		system.MetadataBlueprint: {
			Collections: []object.CollectionSchema{{Name: "entries", Key: str, Value: str}},
			Functions: []object.FunctionSchema{
				{Ident: "create", Input: ptr(types.StructOf(types.Field("entries", types.OptionOf(types.MapOf(str))))), Output: &own},
				{Ident: "set", Receiver: object.ReceiverMethod, Input: ptr(types.StructOf(types.Field("key", str), types.Field("value", str)))},
				{Ident: "get", Receiver: object.ReceiverMethod, Input: &keyArgs, Output: &opt},
				{Ident: "lock", Receiver: object.ReceiverMethod, Input: &keyArgs},
			},
		},
	}}
}

func ptr(t types.TypeRef) *types.TypeRef { return &t }

// Package returns the native metadata package.
func Package() *object.NativePackage {
	return &object.NativePackage{
		Address:    types.MetadataPackage,
		Definition: Definition(),
		Functions: map[string]map[string]core.NativeFunction{
			system.MetadataBlueprint: {
				"create": create,
				"set":    set,
				"get":    get,
				"lock":   lock,
			},
		},
	}
}

func create(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Entries map[string]string `json:"entries"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	entries := make(map[string]string, len(in.Entries))
	for k, v := range in.Entries {
		nk := string(entryKey(k))
		if _, dup := entries[nk]; dup {
			return nil, core.NewApplicationError(ErrInvalidKey, "%q given twice", nk)
		}
		entries[nk] = v
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	obj := core.ObjectInit{Blueprint: system.MetadataBlueprint}
	for _, k := range keys {
		value, err := encodeValue(k, entries[k])
		if err != nil {
			return nil, err
		}
		obj.Entries = append(obj.Entries, core.CollectionEntry{Collection: collectionEntries, Key: []byte(k), Value: value})
	}
	node, err := api.NewObject(obj)
	if err != nil {
		return nil, err
	}
	return blueprints.Encode(core.Own{ID: node})
}

func set(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	value, err := encodeValue(in.Key, in.Value)
	if err != nil {
		return nil, err
	}
	h, err := api.ActorOpenKeyValueEntry(core.ActorSelf, collectionEntries, entryKey(in.Key), types.LockWrite)
	if err != nil {
		return nil, err
	}
	if err := api.KeyValueEntrySet(h, value); err != nil {
		return nil, err
	}
	if err := api.KeyValueEntryClose(h); err != nil {
		return nil, err
	}
	return nil, emitSet(api, in.Key, value)
}

func get(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Key string `json:"key"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	h, err := api.ActorOpenKeyValueEntry(core.ActorSelf, collectionEntries, entryKey(in.Key), types.LockRead)
	if err != nil {
		return nil, err
	}
	value, err := api.KeyValueEntryGet(h)
	if err != nil {
		return nil, err
	}
	if err := api.KeyValueEntryClose(h); err != nil {
		return nil, err
	}
	if value == nil {
		return []byte("null"), nil
	}
	return value, nil
}

// lock freezes a key. Locking a key that was never set keeps it unset
// forever.
func lock(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Key string `json:"key"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	h, err := api.ActorOpenKeyValueEntry(core.ActorSelf, collectionEntries, entryKey(in.Key), types.LockWrite)
	if err != nil {
		return nil, err
	}
	if err := api.KeyValueEntryLock(h); err != nil {
		return nil, err
	}
	return nil, api.KeyValueEntryClose(h)
}

// entryKey stores keys in NFC so canonically equal spellings share an entry.
func entryKey(key string) []byte {
	return []byte(norm.NFC.String(key))
}

func encodeValue(key, value string) (json.RawMessage, error) {
	if key == "" {
		return nil, core.NewApplicationError(ErrInvalidKey, "empty key")
	}
	if len(value) > MaxValueLength {
		return nil, core.NewApplicationError(ErrValueTooLong, "%s: %d bytes", key, len(value))
	}
	return blueprints.Encode(value)
}

func emitSet(api core.SystemAPI, key string, value json.RawMessage) error {
	payload, err := blueprints.Encode(map[string]json.RawMessage{
		"key":   json.RawMessage(core.MustMarshal(key)),
		"value": value,
	})
	if err != nil {
		return err
	}
	return api.EmitEvent("SetMetadataEvent", payload)
}
