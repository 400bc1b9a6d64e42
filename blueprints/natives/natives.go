// Package natives links every native blueprint package into the binary.
// Import it for its side effects.
package natives

import (
	_ "github.com/govm-net/kernel/blueprints/account"
	_ "github.com/govm-net/kernel/blueprints/metadata"
	_ "github.com/govm-net/kernel/blueprints/packages"
	_ "github.com/govm-net/kernel/blueprints/processor"
	_ "github.com/govm-net/kernel/blueprints/resource"
)
