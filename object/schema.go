// Package object describes blueprints: their field and collection layouts,
// the schema language of payloads and the wrappers stored in substates.
package object

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// Validate checks payload against t. Generic parameters are resolved
// against generics, the object's generic arguments.
func Validate(payload []byte, t types.TypeRef, generics []types.TypeRef) error {
	v, err := core.DecodeValue(payload)
	if err != nil {
		return core.NewSchemaError(core.ErrSchemaMismatch, "%v", err)
	}
	if err := validateValue(v, t, generics, "$"); err != nil {
		return core.NewSchemaError(core.ErrSchemaMismatch, "%v", err)
	}
	return nil
}

func validateValue(v any, t types.TypeRef, generics []types.TypeRef, path string) error {
	switch t.Kind {
	case types.KindAny, "":
		return nil
	case types.KindBool:
		if _, ok := v.(bool); !ok {
			return mismatch(path, t, v)
		}
	case types.KindU64:
		n, ok := v.(json.Number)
		if !ok {
			return mismatch(path, t, v)
		}
		if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
			return fmt.Errorf("%s: %s is not a u64", path, n)
		}
	case types.KindI64:
		n, ok := v.(json.Number)
		if !ok {
			return mismatch(path, t, v)
		}
		if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
			return fmt.Errorf("%s: %s is not an i64", path, n)
		}
	case types.KindString:
		if _, ok := v.(string); !ok {
			return mismatch(path, t, v)
		}
	case types.KindBytes:
		s, ok := v.(string)
		if !ok {
			return mismatch(path, t, v)
		}
		if _, err := hex.DecodeString(s); err != nil {
			return fmt.Errorf("%s: invalid hex: %v", path, err)
		}
	case types.KindDecimal:
		var s string
		switch d := v.(type) {
		case string:
			s = d
		case json.Number:
			s = d.String()
		default:
			return mismatch(path, t, v)
		}
		if _, err := types.ParseDecimal(s); err != nil {
			return fmt.Errorf("%s: %v", path, err)
		}
	case types.KindAddress:
		s, ok := v.(string)
		if !ok {
			return mismatch(path, t, v)
		}
		if _, err := types.ParseGlobalAddress(s); err != nil {
			return fmt.Errorf("%s: %v", path, err)
		}
	case types.KindOwn:
		if _, ok, err := core.IsOwnMarker(v); err != nil || !ok {
			return mismatch(path, t, v)
		}
	case types.KindReference:
		if _, ok, err := core.IsReferenceMarker(v); err != nil || !ok {
			return mismatch(path, t, v)
		}
	case types.KindArray:
		items, ok := v.([]any)
		if !ok {
			return mismatch(path, t, v)
		}
		for i, item := range items {
			if err := validateValue(item, elem(t), generics, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case types.KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return mismatch(path, t, v)
		}
		for k, item := range m {
			if err := validateValue(item, elem(t), generics, path+"."+k); err != nil {
				return err
			}
		}
	case types.KindStruct:
		m, ok := v.(map[string]any)
		if !ok {
			return mismatch(path, t, v)
		}
		declared := make(map[string]struct{}, len(t.Fields))
		for _, f := range t.Fields {
			declared[f.Name] = struct{}{}
			item, present := m[f.Name]
			if !present {
				if f.Type.Kind == types.KindOption {
					continue
				}
				return fmt.Errorf("%s: missing field %q", path, f.Name)
			}
			if err := validateValue(item, f.Type, generics, path+"."+f.Name); err != nil {
				return err
			}
		}
		for k := range m {
			if _, ok := declared[k]; !ok {
				return fmt.Errorf("%s: unexpected field %q", path, k)
			}
		}
	case types.KindOption:
		if v == nil {
			return nil
		}
		return validateValue(v, elem(t), generics, path)
	case types.KindGeneric:
		if t.Generic < 0 || t.Generic >= len(generics) {
			return fmt.Errorf("%s: generic parameter %d is not bound", path, t.Generic)
		}
		return validateValue(v, generics[t.Generic], nil, path)
	default:
		return fmt.Errorf("%s: unknown type kind %q", path, t.Kind)
	}
	return nil
}

func elem(t types.TypeRef) types.TypeRef {
	if t.Elem == nil {
		return types.Scalar(types.KindAny)
	}
	return *t.Elem
}

func mismatch(path string, t types.TypeRef, v any) error {
	return fmt.Errorf("%s: expected %s, got %s", path, t, describe(v))
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case json.Number:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// maxGeneric returns the highest generic index used by t, or -1.
func maxGeneric(t types.TypeRef) int {
	highest := -1
	if t.Kind == types.KindGeneric {
		highest = t.Generic
	}
	if t.Elem != nil {
		if g := maxGeneric(*t.Elem); g > highest {
			highest = g
		}
	}
	for _, f := range t.Fields {
		if g := maxGeneric(f.Type); g > highest {
			highest = g
		}
	}
	return highest
}
