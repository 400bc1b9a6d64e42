package object

import (
	"bytes"
	"encoding/json"

	"github.com/govm-net/kernel/core"
)

// FieldSubstate wraps a field value with its mutability flag.
type FieldSubstate struct {
	Value  json.RawMessage `json:"value"`
	Locked bool            `json:"locked,omitempty"`
}

// EncodeField wraps a field value with its mutability flag.
func EncodeField(value []byte, locked bool) []byte {
	return core.MustMarshal(FieldSubstate{Value: rawOrNull(value), Locked: locked})
}

// DecodeField is the inverse of EncodeField.
func DecodeField(raw []byte) (*FieldSubstate, error) {
	var f FieldSubstate
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, core.NewSystemError(core.ErrInvalidHostCall, "corrupt field substate: %v", err)
	}
	return &f, nil
}

// KeyValueEntrySubstate wraps a collection entry. An entry is absent when
// there is no substate, empty when Value is null and present otherwise. A
// locked empty entry can never be filled again.
type KeyValueEntrySubstate struct {
	Value  json.RawMessage `json:"value"`
	Locked bool            `json:"locked,omitempty"`
}

// IsEmpty reports whether the entry holds no value.
func (e *KeyValueEntrySubstate) IsEmpty() bool {
	return IsNull(e.Value)
}

// EncodeEntry wraps a collection entry; a nil value stores an empty entry.
func EncodeEntry(value []byte, locked bool) []byte {
	return core.MustMarshal(KeyValueEntrySubstate{Value: rawOrNull(value), Locked: locked})
}

// DecodeEntry is the inverse of EncodeEntry.
func DecodeEntry(raw []byte) (*KeyValueEntrySubstate, error) {
	var e KeyValueEntrySubstate
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, core.NewSystemError(core.ErrInvalidHostCall, "corrupt entry substate: %v", err)
	}
	return &e, nil
}

// EncodeTypeInfo serializes the type info substate.
func EncodeTypeInfo(info *core.ObjectInfo) []byte {
	return core.MustMarshal(info)
}

// DecodeTypeInfo reads the type info field of partition 0.
func DecodeTypeInfo(raw []byte) (*core.ObjectInfo, error) {
	var info core.ObjectInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, core.NewSystemError(core.ErrInvalidHostCall, "corrupt type info: %v", err)
	}
	return &info, nil
}

// IsNull reports whether raw is empty or the JSON null literal.
func IsNull(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func rawOrNull(v []byte) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(v)
}
