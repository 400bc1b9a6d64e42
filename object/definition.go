package object

import (
	"fmt"
	"sort"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
	"gopkg.in/yaml.v3"
)

// ReceiverKind says whether a function is called on an object.
type ReceiverKind string

const (
	ReceiverNone   ReceiverKind = "function"
	ReceiverMethod ReceiverKind = "method"
)

// maxCollections keeps collection partitions within uint8 above the main base.
const maxCollections = 255 - int(types.MainBasePartition)

type FieldSchema struct {
	Name string        `json:"name" yaml:"name"`
	Type types.TypeRef `json:"type" yaml:"type"`
}

type CollectionSchema struct {
	Name  string        `json:"name" yaml:"name"`
	Key   types.TypeRef `json:"key" yaml:"key"`
	Value types.TypeRef `json:"value" yaml:"value"`
}

type FunctionSchema struct {
	Ident    string         `json:"ident" yaml:"ident"`
	Receiver ReceiverKind   `json:"receiver,omitempty" yaml:"receiver,omitempty"`
	Export   string         `json:"export,omitempty" yaml:"export,omitempty"`
	Input    *types.TypeRef `json:"input,omitempty" yaml:"input,omitempty"`
	Output   *types.TypeRef `json:"output,omitempty" yaml:"output,omitempty"`
}

// IsMethod reports whether the function needs a receiver.
func (f *FunctionSchema) IsMethod() bool {
	return f.Receiver == ReceiverMethod
}

// BlueprintDefinition is the layout and interface of one blueprint. Field i
// lives in the fields partition of the module; collection i lives in the
// partition right after it plus i.
type BlueprintDefinition struct {
	Name           string             `json:"name" yaml:"name"`
	Outer          string             `json:"outer,omitempty" yaml:"outer,omitempty"`
	Transient      bool               `json:"transient,omitempty" yaml:"transient,omitempty"`
	GlobalEntity   types.EntityType   `json:"global_entity,omitempty" yaml:"global_entity,omitempty"`
	InternalEntity types.EntityType   `json:"internal_entity,omitempty" yaml:"internal_entity,omitempty"`
	Features       []string           `json:"features,omitempty" yaml:"features,omitempty"`
	Generics       int                `json:"generics,omitempty" yaml:"generics,omitempty"`
	Fields         []FieldSchema      `json:"fields,omitempty" yaml:"fields,omitempty"`
	Collections    []CollectionSchema `json:"collections,omitempty" yaml:"collections,omitempty"`
	Functions      []FunctionSchema   `json:"functions,omitempty" yaml:"functions,omitempty"`
}

// Function looks up a function by ident.
func (b *BlueprintDefinition) Function(ident string) (*FunctionSchema, error) {
	for i := range b.Functions {
		if b.Functions[i].Ident == ident {
			return &b.Functions[i], nil
		}
	}
	return nil, core.NewSystemError(core.ErrFunctionNotFound, "%s::%s", b.Name, ident)
}

// Field returns the schema of field index i.
func (b *BlueprintDefinition) Field(i uint8) (*FieldSchema, error) {
	if int(i) >= len(b.Fields) {
		return nil, core.NewSchemaError(core.ErrUnknownField, "%s has no field %d", b.Name, i)
	}
	return &b.Fields[i], nil
}

// Collection returns the schema of collection index i.
func (b *BlueprintDefinition) Collection(i uint8) (*CollectionSchema, error) {
	if int(i) >= len(b.Collections) {
		return nil, core.NewSchemaError(core.ErrUnknownCollection, "%s has no collection %d", b.Name, i)
	}
	return &b.Collections[i], nil
}

// HasFeature reports whether the blueprint declares feature.
func (b *BlueprintDefinition) HasFeature(feature string) bool {
	for _, f := range b.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// EntityType picks the entity type of a new object of this blueprint.
func (b *BlueprintDefinition) EntityType(global bool) types.EntityType {
	switch {
	case global:
		return b.GlobalEntity
	case b.Transient:
		return types.EntityInternalTransient
	default:
		return b.InternalEntity
	}
}

func (b *BlueprintDefinition) validate() error {
	if b.GlobalEntity == 0 {
		b.GlobalEntity = types.EntityGlobalGenericComponent
	}
	if b.InternalEntity == 0 {
		b.InternalEntity = types.EntityInternalGenericComponent
	}
	if !b.GlobalEntity.IsGlobal() {
		return fmt.Errorf("%s: global entity %s is not global", b.Name, b.GlobalEntity)
	}
	if !b.InternalEntity.IsInternal() {
		return fmt.Errorf("%s: internal entity %s is not internal", b.Name, b.InternalEntity)
	}
	if len(b.Fields) > 256 {
		return fmt.Errorf("%s: too many fields", b.Name)
	}
	if len(b.Collections) > maxCollections {
		return fmt.Errorf("%s: too many collections", b.Name)
	}
	if b.Generics < 0 {
		return fmt.Errorf("%s: negative generic count", b.Name)
	}

	var refs []types.TypeRef
	names := make(map[string]struct{})
	for _, f := range b.Fields {
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("%s: duplicate field %q", b.Name, f.Name)
		}
		names[f.Name] = struct{}{}
		refs = append(refs, f.Type)
	}
	names = make(map[string]struct{})
	for _, c := range b.Collections {
		if _, dup := names[c.Name]; dup {
			return fmt.Errorf("%s: duplicate collection %q", b.Name, c.Name)
		}
		names[c.Name] = struct{}{}
		refs = append(refs, c.Key, c.Value)
	}
	names = make(map[string]struct{})
	for i := range b.Functions {
		fn := &b.Functions[i]
		if fn.Ident == "" {
			return fmt.Errorf("%s: function %d has no ident", b.Name, i)
		}
		if _, dup := names[fn.Ident]; dup {
			return fmt.Errorf("%s: duplicate function %q", b.Name, fn.Ident)
		}
		names[fn.Ident] = struct{}{}
		switch fn.Receiver {
		case "":
			fn.Receiver = ReceiverNone
		case ReceiverNone, ReceiverMethod:
		default:
			return fmt.Errorf("%s::%s: unknown receiver kind %q", b.Name, fn.Ident, fn.Receiver)
		}
		if fn.Export == "" {
			fn.Export = fn.Ident
		}
		if fn.Input != nil {
			refs = append(refs, *fn.Input)
		}
		if fn.Output != nil {
			refs = append(refs, *fn.Output)
		}
	}
	for _, r := range refs {
		if g := maxGeneric(r); g >= b.Generics {
			return fmt.Errorf("%s: generic parameter %d out of range", b.Name, g)
		}
	}
	return nil
}

// PackageDefinition groups the blueprints of a package.
type PackageDefinition struct {
	Blueprints map[string]*BlueprintDefinition `json:"blueprints" yaml:"blueprints"`
}

// Blueprint looks up a blueprint by name.
func (p *PackageDefinition) Blueprint(name string) (*BlueprintDefinition, error) {
	if p != nil {
		if b, ok := p.Blueprints[name]; ok {
			return b, nil
		}
	}
	return nil, core.NewSystemError(core.ErrBlueprintNotFound, "%s", name)
}

// Names lists the blueprint names in order.
func (p *PackageDefinition) Names() []string {
	names := make([]string, 0, len(p.Blueprints))
	for name := range p.Blueprints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate normalizes defaults and checks the definition for consistency.
func (p *PackageDefinition) Validate() error {
	if p == nil || len(p.Blueprints) == 0 {
		return core.NewSchemaError(core.ErrInvalidDefinition, "package has no blueprints")
	}
	for _, name := range p.Names() {
		b := p.Blueprints[name]
		if b == nil {
			return core.NewSchemaError(core.ErrInvalidDefinition, "blueprint %q is empty", name)
		}
		if b.Name == "" {
			b.Name = name
		}
		if b.Name != name {
			return core.NewSchemaError(core.ErrInvalidDefinition, "blueprint %q declared as %q", name, b.Name)
		}
		if b.Outer != "" {
			if _, ok := p.Blueprints[b.Outer]; !ok {
				return core.NewSchemaError(core.ErrInvalidDefinition, "%s: unknown outer blueprint %q", name, b.Outer)
			}
		}
		if err := b.validate(); err != nil {
			return core.NewSchemaError(core.ErrInvalidDefinition, "%v", err)
		}
	}
	return nil
}

// ParseDefinition reads a package definition from YAML (or JSON) and
// validates it.
func ParseDefinition(data []byte) (*PackageDefinition, error) {
	var def PackageDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, core.NewSchemaError(core.ErrInvalidDefinition, "failed to parse: %v", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
