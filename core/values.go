package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/govm-net/kernel/types"
)

const (
	ownMarker = "$own"
	refMarker = "$ref"
)

// Own marks an owned child node inside a JSON payload: {"$own":"<hex>"}.
type Own struct {
	ID types.NodeID `json:"$own"`
}

// Reference marks a non-owning reference: {"$ref":"<hex>"}.
type Reference struct {
	ID types.NodeID `json:"$ref"`
}

// IndexedValue is a payload together with the nodes it owns and references,
// in order of appearance.
type IndexedValue struct {
	Raw        []byte
	Owned      []types.NodeID
	References []types.NodeID
}

// IndexValue scans a JSON payload for Own and Reference markers.
func IndexValue(raw []byte) (*IndexedValue, error) {
	v, err := DecodeValue(raw)
	if err != nil {
		return nil, err
	}
	iv := &IndexedValue{Raw: raw}
	if err := iv.walk(v); err != nil {
		return nil, err
	}
	return iv, nil
}

// DecodeValue decodes a payload keeping numbers as json.Number.
func DecodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidPayload)
	}
	return v, nil
}

// MarkerNode reports whether v is a single-key marker object and returns its id.
func MarkerNode(v any, marker string) (types.NodeID, bool, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return types.NodeID{}, false, nil
	}
	s, ok := m[marker]
	if !ok {
		return types.NodeID{}, false, nil
	}
	str, ok := s.(string)
	if !ok {
		return types.NodeID{}, false, fmt.Errorf("%w: %s marker is not a string", ErrInvalidPayload, marker)
	}
	id, err := types.NodeIDFromHex(str)
	if err != nil {
		return types.NodeID{}, false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return id, true, nil
}

// IsOwnMarker returns the owned id if v is an Own marker.
func IsOwnMarker(v any) (types.NodeID, bool, error) {
	return MarkerNode(v, ownMarker)
}

// IsReferenceMarker returns the referenced id if v is a Reference marker.
func IsReferenceMarker(v any) (types.NodeID, bool, error) {
	return MarkerNode(v, refMarker)
}

func (iv *IndexedValue) walk(v any) error {
	switch t := v.(type) {
	case map[string]any:
		if id, ok, err := IsOwnMarker(t); err != nil {
			return err
		} else if ok {
			iv.Owned = append(iv.Owned, id)
			return nil
		}
		if id, ok, err := IsReferenceMarker(t); err != nil {
			return err
		} else if ok {
			iv.References = append(iv.References, id)
			return nil
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := iv.walk(t[k]); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := iv.walk(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// OwnedSet returns the owned nodes as a set.
func (iv *IndexedValue) OwnedSet() map[types.NodeID]struct{} {
	set := make(map[types.NodeID]struct{})
	if iv == nil {
		return set
	}
	for _, id := range iv.Owned {
		set[id] = struct{}{}
	}
	return set
}

// DuplicateOwn returns a node that appears more than once as owned.
func (iv *IndexedValue) DuplicateOwn() (types.NodeID, bool) {
	seen := make(map[types.NodeID]struct{}, len(iv.Owned))
	for _, id := range iv.Owned {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return types.NodeID{}, false
}

// MustMarshal is json.Marshal for values that cannot fail to encode.
func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return b
}
