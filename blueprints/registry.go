package blueprints

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/types"
)

var (
	mu       sync.RWMutex
	packages = make(map[types.GlobalAddress]*object.NativePackage)
)

// Register adds a native package. Packages call it from init().
func Register(pkg *object.NativePackage) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := packages[pkg.Address]; exists {
		return fmt.Errorf("native package %s already registered", pkg.Address)
	}
	packages[pkg.Address] = pkg
	return nil
}

// MustRegister is Register for init functions.
func MustRegister(pkg *object.NativePackage) {
	if err := Register(pkg); err != nil {
		panic(err)
	}
}

// Registered returns every registered package ordered by address.
func Registered() []*object.NativePackage {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]*object.NativePackage, 0, len(packages))
	for _, pkg := range packages {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}
