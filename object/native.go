package object

import (
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// NativePackage is a package whose blueprints are implemented in Go.
type NativePackage struct {
	Address    types.GlobalAddress
	Definition *PackageDefinition
	// Functions maps blueprint name and export name to the implementation.
	Functions map[string]map[string]core.NativeFunction
}

// Function returns the implementation of blueprint's export.
func (p *NativePackage) Function(blueprint, export string) (core.NativeFunction, bool) {
	fn, ok := p.Functions[blueprint][export]
	return fn, ok
}

// Validate checks the definition and that every declared function has an
// implementation.
func (p *NativePackage) Validate() error {
	if err := p.Definition.Validate(); err != nil {
		return err
	}
	for _, name := range p.Definition.Names() {
		for _, fn := range p.Definition.Blueprints[name].Functions {
			if _, ok := p.Function(name, fn.Export); !ok {
				return core.NewSchemaError(core.ErrInvalidDefinition, "%s::%s has no implementation", name, fn.Ident)
			}
		}
	}
	return nil
}
