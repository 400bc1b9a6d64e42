package manifest

import (
	"encoding/hex"

	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/system"
)

// Publish returns a manifest publishing code as a new package. The package
// reference is bound as "package".
func Publish(def *object.PackageDefinition, code []byte, metadata map[string]string) *Manifest {
	args := map[string]any{
		"definition": def,
		"code":       hex.EncodeToString(code),
	}
	if len(metadata) > 0 {
		args["metadata"] = metadata
	}
	return &Manifest{Instructions: []Instruction{{
		CallFunction: &FunctionCall{
			Package:   "package",
			Blueprint: system.PackageBlueprint,
			Function:  "publish_wasm",
			Args:      args,
		},
		Bind: "package",
	}}}
}
