package vm

import (
	"testing"

	"github.com/govm-net/kernel/blueprints/metadata"
	"github.com/govm-net/kernel/blueprints/resource"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/system"
	"github.com/govm-net/kernel/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRegister(t *testing.T) {
	d, err := NewDispatcher(nil, resource.Package())
	require.NoError(t, err)

	def, ok := d.NativeDefinition(types.ResourcePackage)
	require.True(t, ok)
	assert.Contains(t, def.Names(), resource.FungibleVault)

	_, ok = d.NativeDefinition(types.MetadataPackage)
	assert.False(t, ok)

	require.NoError(t, d.Register(metadata.Package()))
	_, ok = d.NativeDefinition(types.MetadataPackage)
	assert.True(t, ok)

	err = d.Register(resource.Package())
	assert.ErrorContains(t, err, "already registered")
}

func TestDispatcherLookup(t *testing.T) {
	d, err := NewDispatcher(nil, resource.Package())
	require.NoError(t, err)

	call := &system.Call{
		Blueprint: core.BlueprintID{Package: types.ResourcePackage, Blueprint: resource.FungibleVault},
		Function:  &object.FunctionSchema{Ident: "get_amount", Export: "get_amount"},
	}
	inv, err := d.Lookup(call)
	require.NoError(t, err)
	assert.IsType(t, NativeFunction(nil), inv)

	call.Function = &object.FunctionSchema{Ident: "missing", Export: "missing"}
	_, err = d.Lookup(call)
	assert.ErrorIs(t, err, core.ErrFunctionNotFound)
	assert.Equal(t, core.ClassSystem, core.ClassOf(err))

	// published code needs a wasm runtime
	call.Code = []byte{0x00, 0x61, 0x73, 0x6d}
	_, err = d.Lookup(call)
	assert.ErrorIs(t, err, core.ErrUnsupportedBlueprint)
}
