// Package account implements the Account blueprint: a global component that
// keeps one vault per resource.
package account

import (
	"encoding/json"
	"errors"

	"github.com/govm-net/kernel/blueprints"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/types"
)

// Blueprint is the account blueprint name.
const Blueprint = "Account"

const (
	fieldOwner       uint8 = 0
	collectionVaults uint8 = 0
)

// ErrNoVault is returned when withdrawing a resource the account never held.
var ErrNoVault = errors.New("account holds no vault for resource")

func init() {
	blueprints.MustRegister(Package())
}

// Definition returns the account package definition.
func Definition() *object.PackageDefinition {
	str := types.Scalar(types.KindString)
	own := types.Scalar(types.KindOwn)
	ref := types.Scalar(types.KindReference)
	dec := types.Scalar(types.KindDecimal)
	resourceArgs := types.StructOf(types.Field("resource", ref))
	withdrawArgs := types.StructOf(
		types.Field("resource", ref),
		types.Field("amount", types.OptionOf(dec)),
		types.Field("ids", types.OptionOf(types.ArrayOf(str))),
	)
	return &object.PackageDefinition{Blueprints: map[string]*object.BlueprintDefinition{
		Blueprint: {
			GlobalEntity: types.EntityGlobalAccount,
			Fields:       []object.FieldSchema{{Name: "owner", Type: types.OptionOf(str)}},
			Collections:  []object.CollectionSchema{{Name: "vaults", Key: str, Value: own}},
			Functions: []object.FunctionSchema{
				{Ident: "create", Input: ptr(types.StructOf(
					types.Field("owner", types.OptionOf(str)),
					types.Field("metadata", types.OptionOf(types.MapOf(str))),
				)), Output: &ref},
				{Ident: "deposit", Receiver: object.ReceiverMethod, Input: ptr(types.StructOf(types.Field("bucket", own)))},
				{Ident: "withdraw", Receiver: object.ReceiverMethod, Input: &withdrawArgs, Output: &own},
				{Ident: "balance", Receiver: object.ReceiverMethod, Input: &resourceArgs, Output: &dec},
				{Ident: "get_owner", Receiver: object.ReceiverMethod, Output: ptr(types.OptionOf(str))},
			},
		},
	}}
}

func ptr(t types.TypeRef) *types.TypeRef { return &t }

// Package returns the native account package.
func Package() *object.NativePackage {
	return &object.NativePackage{
		Address:    types.AccountPackage,
		Definition: Definition(),
		Functions: map[string]map[string]core.NativeFunction{
			Blueprint: {
				"create":    create,
				"deposit":   deposit,
				"withdraw":  withdraw,
				"balance":   balance,
				"get_owner": getOwner,
			},
		},
	}
}

func create(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Owner    *string           `json:"owner"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	owner, err := blueprints.Encode(in.Owner)
	if err != nil {
		return nil, err
	}
	node, err := api.NewObject(core.ObjectInit{Blueprint: Blueprint, Fields: core.Fields(owner)})
	if err != nil {
		return nil, err
	}
	addr, err := blueprints.Globalize(api, node, in.Metadata)
	if err != nil {
		return nil, err
	}
	return blueprints.Encode(core.Reference{ID: addr.NodeID()})
}

// deposit puts a bucket into the vault of its resource, creating the vault
// on first use.
func deposit(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Bucket core.Own `json:"bucket"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	resource, err := resourceOf(api, in.Bucket.ID)
	if err != nil {
		return nil, err
	}
	h, err := api.ActorOpenKeyValueEntry(core.ActorSelf, collectionVaults, vaultKey(resource), types.LockWrite)
	if err != nil {
		return nil, err
	}
	raw, err := api.KeyValueEntryGet(h)
	if err != nil {
		return nil, err
	}
	bucketArgs := map[string]core.Own{"bucket": in.Bucket}
	if raw == nil {
		var vault core.Own
		if err := blueprints.Call(api, resource, "create_empty_vault", nil, &vault); err != nil {
			return nil, err
		}
		if err := blueprints.Call(api, vault.ID, "put", bucketArgs, nil); err != nil {
			return nil, err
		}
		value, err := blueprints.Encode(vault)
		if err != nil {
			return nil, err
		}
		if err := api.KeyValueEntrySet(h, value); err != nil {
			return nil, err
		}
	} else {
		vault, err := blueprints.OwnedNode(raw)
		if err != nil {
			return nil, err
		}
		if err := blueprints.Call(api, vault, "put", bucketArgs, nil); err != nil {
			return nil, err
		}
	}
	return nil, api.KeyValueEntryClose(h)
}

func withdraw(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Resource core.Reference `json:"resource"`
		Amount   *types.Decimal `json:"amount"`
		IDs      []string       `json:"ids"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	var take any
	switch {
	case in.Amount != nil && in.IDs == nil:
		take = map[string]types.Decimal{"amount": *in.Amount}
	case in.Amount == nil && in.IDs != nil:
		take = map[string][]string{"ids": in.IDs}
	default:
		return nil, core.NewSchemaError(core.ErrSchemaMismatch, "withdraw needs exactly one of amount or ids")
	}

	h, err := api.ActorOpenKeyValueEntry(core.ActorSelf, collectionVaults, vaultKey(in.Resource.ID), types.LockRead)
	if err != nil {
		return nil, err
	}
	raw, err := api.KeyValueEntryGet(h)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, core.NewApplicationError(ErrNoVault, "%s", in.Resource.ID)
	}
	vault, err := blueprints.OwnedNode(raw)
	if err != nil {
		return nil, err
	}
	var bucket json.RawMessage
	if err := blueprints.Call(api, vault, "take", take, &bucket); err != nil {
		return nil, err
	}
	if err := api.KeyValueEntryClose(h); err != nil {
		return nil, err
	}
	return bucket, nil
}

func balance(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Resource core.Reference `json:"resource"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	h, err := api.ActorOpenKeyValueEntry(core.ActorSelf, collectionVaults, vaultKey(in.Resource.ID), types.LockRead)
	if err != nil {
		return nil, err
	}
	raw, err := api.KeyValueEntryGet(h)
	if err != nil {
		return nil, err
	}
	amount := json.RawMessage(`"0"`)
	if raw != nil {
		vault, err := blueprints.OwnedNode(raw)
		if err != nil {
			return nil, err
		}
		if err := blueprints.Call(api, vault, "get_amount", nil, &amount); err != nil {
			return nil, err
		}
	}
	if err := api.KeyValueEntryClose(h); err != nil {
		return nil, err
	}
	return amount, nil
}

// getOwner returns the label given at creation. No method checks the caller
// against it.
func getOwner(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	var owner *string
	if err := blueprints.ReadField(api, core.ActorSelf, fieldOwner, &owner); err != nil {
		return nil, err
	}
	return blueprints.Encode(owner)
}

// resourceOf returns the resource manager of a bucket and makes it visible
// to the frame.
func resourceOf(api core.SystemAPI, bucket types.NodeID) (types.NodeID, error) {
	info, err := api.GetObjectInfo(bucket)
	if err != nil {
		return types.NodeID{}, err
	}
	if info.OuterObject == nil || info.Blueprint.Package != types.ResourcePackage {
		return types.NodeID{}, core.NewSchemaError(core.ErrSchemaMismatch, "%s is not a bucket", bucket)
	}
	resource := info.OuterObject.NodeID()
	if err := api.AddReference(resource); err != nil {
		return types.NodeID{}, err
	}
	return resource, nil
}

func vaultKey(resource types.NodeID) []byte {
	return []byte(resource.String())
}
