package object

import (
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateScalars(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		typ     types.TypeRef
		wantErr bool
	}{
		{"bool", `true`, types.Scalar(types.KindBool), false},
		{"bool mismatch", `1`, types.Scalar(types.KindBool), true},
		{"u64", `42`, types.Scalar(types.KindU64), false},
		{"u64 negative", `-1`, types.Scalar(types.KindU64), true},
		{"u64 fraction", `1.5`, types.Scalar(types.KindU64), true},
		{"i64", `-7`, types.Scalar(types.KindI64), false},
		{"string", `"x"`, types.Scalar(types.KindString), false},
		{"bytes", `"beef"`, types.Scalar(types.KindBytes), false},
		{"bytes invalid", `"xyz"`, types.Scalar(types.KindBytes), true},
		{"decimal string", `"1.25"`, types.Scalar(types.KindDecimal), false},
		{"decimal number", `3`, types.Scalar(types.KindDecimal), false},
		{"decimal negative", `"-1"`, types.Scalar(types.KindDecimal), true},
		{"option null", `null`, types.OptionOf(types.Scalar(types.KindDecimal)), false},
		{"option value", `"2"`, types.OptionOf(types.Scalar(types.KindDecimal)), false},
		{"any", `{"a":[1,2]}`, types.Scalar(types.KindAny), false},
		{"array", `[1,2,3]`, types.ArrayOf(types.Scalar(types.KindU64)), false},
		{"array mismatch", `[1,"2"]`, types.ArrayOf(types.Scalar(types.KindU64)), true},
		{"map", `{"a":"1"}`, types.MapOf(types.Scalar(types.KindDecimal)), false},
		{"invalid json", `{`, types.Scalar(types.KindAny), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.payload), tt.typ, nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, core.ClassSchema, core.ClassOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateStructAndMarkers(t *testing.T) {
	var id types.NodeID
	id[0] = byte(types.EntityInternalFungibleVault)
	typ := types.StructOf(
		types.Field("vault", types.Scalar(types.KindOwn)),
		types.Field("note", types.OptionOf(types.Scalar(types.KindString))),
	)

	assert.NoError(t, Validate([]byte(`{"vault":{"$own":"`+id.String()+`"}}`), typ, nil))
	assert.Error(t, Validate([]byte(`{"vault":{"$ref":"`+id.String()+`"}}`), typ, nil))
	assert.Error(t, Validate([]byte(`{}`), typ, nil))
	assert.Error(t, Validate([]byte(`{"vault":{"$own":"`+id.String()+`"},"extra":1}`), typ, nil))
}

func TestValidateGenerics(t *testing.T) {
	typ := types.GenericParam(0)
	generics := []types.TypeRef{types.StructOf(types.Field("name", types.Scalar(types.KindString)))}

	assert.NoError(t, Validate([]byte(`{"name":"hat"}`), typ, generics))
	assert.Error(t, Validate([]byte(`{"name":1}`), typ, generics))
	assert.ErrorIs(t, Validate([]byte(`1`), typ, nil), core.ErrSchemaMismatch)
}

const testDefinition = `
blueprints:
  Counter:
    fields:
      - name: count
        type: {kind: u64}
    collections:
      - name: labels
        key: {kind: string}
        value: {kind: generic, generic: 0}
    generics: 1
    functions:
      - ident: new
        output: {kind: own}
      - ident: increment
        receiver: method
        export: counter_increment
  Child:
    outer: Counter
    transient: true
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(testDefinition))
	require.NoError(t, err)
	assert.Equal(t, []string{"Child", "Counter"}, def.Names())

	counter, err := def.Blueprint("Counter")
	require.NoError(t, err)
	assert.Equal(t, "Counter", counter.Name)
	assert.Equal(t, types.EntityGlobalGenericComponent, counter.EntityType(true))
	assert.Equal(t, types.EntityInternalGenericComponent, counter.EntityType(false))

	fn, err := counter.Function("new")
	require.NoError(t, err)
	assert.Equal(t, "new", fn.Export)
	assert.False(t, fn.IsMethod())

	fn, err = counter.Function("increment")
	require.NoError(t, err)
	assert.Equal(t, "counter_increment", fn.Export)
	assert.True(t, fn.IsMethod())

	_, err = counter.Function("missing")
	assert.ErrorIs(t, err, core.ErrFunctionNotFound)
	_, err = counter.Collection(1)
	assert.ErrorIs(t, err, core.ErrUnknownCollection)

	child, err := def.Blueprint("Child")
	require.NoError(t, err)
	assert.Equal(t, types.EntityInternalTransient, child.EntityType(false))

	_, err = def.Blueprint("Nope")
	assert.ErrorIs(t, err, core.ErrBlueprintNotFound)
}

func TestParseDefinitionErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `blueprints: {}`},
		{"unknown outer", "blueprints:\n  A:\n    outer: B\n"},
		{"duplicate field", "blueprints:\n  A:\n    fields:\n      - {name: x, type: {kind: u64}}\n      - {name: x, type: {kind: u64}}\n"},
		{"generic out of range", "blueprints:\n  A:\n    fields:\n      - {name: x, type: {kind: generic, generic: 0}}\n"},
		{"bad receiver", "blueprints:\n  A:\n    functions:\n      - {ident: f, receiver: static}\n"},
		{"malformed", "blueprints: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.yaml))
			assert.ErrorIs(t, err, core.ErrInvalidDefinition)
		})
	}
}

func TestEntrySubstateStates(t *testing.T) {
	present, err := DecodeEntry(EncodeEntry([]byte(`{"a":1}`), false))
	require.NoError(t, err)
	assert.False(t, present.IsEmpty())
	assert.JSONEq(t, `{"a":1}`, string(present.Value))

	empty, err := DecodeEntry(EncodeEntry(nil, true))
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
	assert.True(t, empty.Locked)

	field, err := DecodeField(EncodeField([]byte(`"5"`), true))
	require.NoError(t, err)
	assert.Equal(t, `"5"`, string(field.Value))
	assert.True(t, field.Locked)
}

func TestTypeInfoRoundTrip(t *testing.T) {
	outer := types.ResourcePackage
	info := &core.ObjectInfo{
		Blueprint:   core.BlueprintID{Package: types.ResourcePackage, Blueprint: "FungibleVault"},
		OuterObject: &outer,
		Features:    []string{"track_total_supply"},
	}
	got, err := DecodeTypeInfo(EncodeTypeInfo(info))
	require.NoError(t, err)
	assert.Equal(t, info, got)
}
