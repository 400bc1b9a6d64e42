package types

import "fmt"

func wellKnownPackage(n byte) GlobalAddress {
	var id NodeID
	id[0] = byte(EntityGlobalPackage)
	id[NodeIDLength-1] = n
	return GlobalAddress(id)
}

// Addresses of the natively implemented packages. They never exist as nodes
// in the store.
var (
	PackagePackage              = wellKnownPackage(1)
	ResourcePackage             = wellKnownPackage(2)
	AccountPackage              = wellKnownPackage(3)
	MetadataPackage             = wellKnownPackage(4)
	TransactionProcessorPackage = wellKnownPackage(5)
)

var wellKnownNames = map[string]GlobalAddress{
	"package":   PackagePackage,
	"resource":  ResourcePackage,
	"account":   AccountPackage,
	"metadata":  MetadataPackage,
	"processor": TransactionProcessorPackage,
}

// IsWellKnownPackage reports whether addr is one of the native packages.
func IsWellKnownPackage(addr GlobalAddress) bool {
	for _, a := range wellKnownNames {
		if a == addr {
			return true
		}
	}
	return false
}

// ResolvePackage accepts either a well known package name or an encoded address.
func ResolvePackage(s string) (GlobalAddress, error) {
	if addr, ok := wellKnownNames[s]; ok {
		return addr, nil
	}
	addr, err := ParseGlobalAddress(s)
	if err != nil {
		return GlobalAddress{}, err
	}
	if addr.NodeID().EntityType() != EntityGlobalPackage {
		return GlobalAddress{}, fmt.Errorf("%s is not a package address", s)
	}
	return addr, nil
}
