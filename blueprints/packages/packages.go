// Package packages implements the Package blueprint, which publishes WASM
// code together with its blueprint definitions as a global package node.
package packages

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/govm-net/kernel/blueprints"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/system"
	"github.com/govm-net/kernel/types"
	"github.com/govm-net/kernel/wasi"
	"lukechampine.com/blake3"
)

// MaxCodeSize bounds published code.
const MaxCodeSize = 4 << 20

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

var (
	ErrInvalidCode   = errors.New("invalid package code")
	ErrMissingExport = errors.New("blueprint function has no export")
	ErrCodeTooLarge  = errors.New("package code too large")
)

func init() {
	blueprints.MustRegister(Package())
}

// Definition returns the package blueprint.
func Definition() *object.PackageDefinition {
	str := types.Scalar(types.KindString)
	ref := types.Scalar(types.KindReference)
	blueprintList := types.ArrayOf(str)
	return &object.PackageDefinition{Blueprints: map[string]*object.BlueprintDefinition{
		system.PackageBlueprint: {
			GlobalEntity: types.EntityGlobalPackage,
			Fields: []object.FieldSchema{
				{Name: "definition", Type: types.Scalar(types.KindAny)},
				{Name: "code", Type: str},
				{Name: "code_hash", Type: str},
			},
			Functions: []object.FunctionSchema{
				{Ident: "publish_wasm", Input: ptr(types.StructOf(
					types.Field("definition", types.Scalar(types.KindAny)),
					types.Field("code", types.Scalar(types.KindBytes)),
					types.Field("metadata", types.OptionOf(types.MapOf(str))),
				)), Output: &ref},
				{Ident: "get_code_hash", Receiver: object.ReceiverMethod, Output: &str},
				{Ident: "get_blueprints", Receiver: object.ReceiverMethod, Output: &blueprintList},
			},
		},
	}}
}

func ptr(t types.TypeRef) *types.TypeRef { return &t }

// Package returns the native package package.
func Package() *object.NativePackage {
	return &object.NativePackage{
		Address:    types.PackagePackage,
		Definition: Definition(),
		Functions: map[string]map[string]core.NativeFunction{
			system.PackageBlueprint: {
				"publish_wasm":   publishWasm,
				"get_code_hash":  getCodeHash,
				"get_blueprints": getBlueprints,
			},
		},
	}
}

// CodeHash is the hash a published package records for its code.
func CodeHash(code []byte) types.Hash {
	return types.Hash(blake3.Sum256(code))
}

// CheckCode verifies that code is a module following the guest ABI and that
// every function of def has a matching export.
func CheckCode(ctx context.Context, def *object.PackageDefinition, code []byte) error {
	if len(code) > MaxCodeSize {
		return core.NewApplicationError(ErrCodeTooLarge, "%d bytes", len(code))
	}
	if !bytes.HasPrefix(code, wasmMagic) {
		return core.NewApplicationError(ErrInvalidCode, "missing wasm magic")
	}
	info, err := wasi.Inspect(ctx, code)
	if err != nil {
		return core.NewApplicationError(ErrInvalidCode, "%v", err)
	}
	exports := make(map[string]struct{}, len(info.Exports))
	for _, name := range info.Exports {
		exports[name] = struct{}{}
	}
	if _, ok := exports[wasi.AllocateExport]; !ok {
		return core.NewApplicationError(ErrInvalidCode, "no %s export", wasi.AllocateExport)
	}
	for _, name := range def.Names() {
		for _, fn := range def.Blueprints[name].Functions {
			if _, ok := exports[fn.Export]; !ok {
				return core.NewApplicationError(ErrMissingExport, "%s::%s needs export %q", name, fn.Ident, fn.Export)
			}
		}
	}
	return nil
}

func publishWasm(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Definition json.RawMessage   `json:"definition"`
		Code       string            `json:"code"`
		Metadata   map[string]string `json:"metadata"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	code, err := hex.DecodeString(in.Code)
	if err != nil {
		return nil, core.NewSchemaError(core.ErrSchemaMismatch, "code: %v", err)
	}
	def, err := object.ParseDefinition(in.Definition)
	if err != nil {
		return nil, err
	}
	if err := CheckCode(context.Background(), def, code); err != nil {
		return nil, err
	}

	defRaw, err := blueprints.Encode(def)
	if err != nil {
		return nil, err
	}
	codeRaw, err := blueprints.Encode(code)
	if err != nil {
		return nil, err
	}
	hashRaw, err := blueprints.Encode(CodeHash(code))
	if err != nil {
		return nil, err
	}
	node, err := api.NewObject(core.ObjectInit{
		Blueprint: system.PackageBlueprint,
		Fields:    core.Fields(defRaw, codeRaw, hashRaw),
	})
	if err != nil {
		return nil, err
	}
	addr, err := blueprints.Globalize(api, node, in.Metadata)
	if err != nil {
		return nil, err
	}
	payload, err := blueprints.Encode(map[string]any{
		"package":    addr,
		"code_hash":  CodeHash(code),
		"blueprints": def.Names(),
	})
	if err != nil {
		return nil, err
	}
	if err := api.EmitEvent("PublishPackageEvent", payload); err != nil {
		return nil, err
	}
	return blueprints.Encode(core.Reference{ID: addr.NodeID()})
}

func getCodeHash(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	var hash json.RawMessage
	if err := blueprints.ReadField(api, core.ActorSelf, system.PackageFieldCodeHash, &hash); err != nil {
		return nil, err
	}
	return hash, nil
}

func getBlueprints(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	var def object.PackageDefinition
	if err := blueprints.ReadField(api, core.ActorSelf, system.PackageFieldDefinition, &def); err != nil {
		return nil, err
	}
	return blueprints.Encode(def.Names())
}
