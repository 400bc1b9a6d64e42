package types

import "fmt"

// TypeKind enumerates the payload types a blueprint can declare.
type TypeKind string

const (
	KindAny       TypeKind = "any"
	KindBool      TypeKind = "bool"
	KindU64       TypeKind = "u64"
	KindI64       TypeKind = "i64"
	KindString    TypeKind = "string"
	KindBytes     TypeKind = "bytes"
	KindDecimal   TypeKind = "decimal"
	KindAddress   TypeKind = "address"
	KindOwn       TypeKind = "own"
	KindReference TypeKind = "reference"
	KindArray     TypeKind = "array"
	KindMap       TypeKind = "map"
	KindStruct    TypeKind = "struct"
	KindOption    TypeKind = "option"
	KindGeneric   TypeKind = "generic"
)

// TypeRef describes the shape of a JSON payload. Generic refers to the
// object's generic arguments by index.
type TypeRef struct {
	Kind    TypeKind      `json:"kind" yaml:"kind"`
	Elem    *TypeRef      `json:"elem,omitempty" yaml:"elem,omitempty"`
	Fields  []StructField `json:"fields,omitempty" yaml:"fields,omitempty"`
	Generic int           `json:"generic,omitempty" yaml:"generic,omitempty"`
}

type StructField struct {
	Name string  `json:"name" yaml:"name"`
	Type TypeRef `json:"type" yaml:"type"`
}

// Scalar returns a type without parameters.
func Scalar(kind TypeKind) TypeRef {
	return TypeRef{Kind: kind}
}

// ArrayOf returns a list of elem.
func ArrayOf(elem TypeRef) TypeRef {
	return TypeRef{Kind: KindArray, Elem: &elem}
}

// MapOf returns a string keyed map of elem.
func MapOf(elem TypeRef) TypeRef {
	return TypeRef{Kind: KindMap, Elem: &elem}
}

// OptionOf returns elem or null.
func OptionOf(elem TypeRef) TypeRef {
	return TypeRef{Kind: KindOption, Elem: &elem}
}

// StructOf returns an object with exactly the given fields.
func StructOf(fields ...StructField) TypeRef {
	return TypeRef{Kind: KindStruct, Fields: fields}
}

// GenericParam points at the object generic argument at index.
func GenericParam(index int) TypeRef {
	return TypeRef{Kind: KindGeneric, Generic: index}
}

// Field builds a struct field.
func Field(name string, t TypeRef) StructField {
	return StructField{Name: name, Type: t}
}

func (t TypeRef) String() string {
	switch t.Kind {
	case KindArray, KindMap, KindOption:
		if t.Elem != nil {
			return fmt.Sprintf("%s<%s>", t.Kind, t.Elem)
		}
	case KindGeneric:
		return fmt.Sprintf("generic<%d>", t.Generic)
	}
	return string(t.Kind)
}
