// Package resource implements fungible and non-fungible resources: the
// global resource managers and the buckets, vaults and proofs that hold
// their amounts.
package resource

import (
	"errors"

	"github.com/govm-net/kernel/blueprints"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/types"
)

// Blueprint names
const (
	FungibleResourceManager    = "FungibleResourceManager"
	FungibleBucket             = "FungibleBucket"
	FungibleVault              = "FungibleVault"
	FungibleProof              = "FungibleProof"
	NonFungibleResourceManager = "NonFungibleResourceManager"
	NonFungibleBucket          = "NonFungibleBucket"
	NonFungibleVault           = "NonFungibleVault"
	NonFungibleProof           = "NonFungibleProof"
)

// FeatureTrackTotalSupply keeps the total supply field up to date.
const FeatureTrackTotalSupply = "track_total_supply"

// Application errors raised by resource blueprints.
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrResourceMismatch         = errors.New("resource mismatch")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrNonFungibleAlreadyExists = errors.New("non-fungible already exists")
	ErrNonFungibleNotFound      = errors.New("non-fungible not found")
	ErrInvalidLocalID           = errors.New("invalid non-fungible local id")
	ErrInvalidNonFungibleData   = errors.New("invalid non-fungible data")
)

func init() {
	blueprints.MustRegister(Package())
}

var (
	decimalType  = types.Scalar(types.KindDecimal)
	ownType      = types.Scalar(types.KindOwn)
	refType      = types.Scalar(types.KindReference)
	stringType   = types.Scalar(types.KindString)
	idsType      = types.ArrayOf(stringType)
	supplyType   = types.OptionOf(decimalType)
	bucketArgs   = types.StructOf(types.Field("bucket", ownType))
	amountArgs   = types.StructOf(types.Field("amount", decimalType))
	idsArgs      = types.StructOf(types.Field("ids", idsType))
	metadataType = types.OptionOf(types.MapOf(stringType))
)

func typ(t types.TypeRef) *types.TypeRef { return &t }

func method(ident string, input, output *types.TypeRef) object.FunctionSchema {
	return object.FunctionSchema{Ident: ident, Receiver: object.ReceiverMethod, Input: input, Output: output}
}

func function(ident string, input, output *types.TypeRef) object.FunctionSchema {
	return object.FunctionSchema{Ident: ident, Receiver: object.ReceiverNone, Input: input, Output: output}
}

// Definition returns the blueprints of the resource package.
func Definition() *object.PackageDefinition {
	createOutput := types.StructOf(
		types.Field("resource", refType),
		types.Field("bucket", types.OptionOf(ownType)),
	)
	managerMethods := []object.FunctionSchema{
		method("burn", typ(bucketArgs), nil),
		method("create_empty_vault", nil, typ(ownType)),
		method("create_empty_bucket", nil, typ(ownType)),
		method("get_total_supply", nil, typ(supplyType)),
	}

	return &object.PackageDefinition{Blueprints: map[string]*object.BlueprintDefinition{
		FungibleResourceManager: {
			GlobalEntity: types.EntityGlobalFungibleResourceManager,
			Features:     []string{FeatureTrackTotalSupply},
			Fields: []object.FieldSchema{
				{Name: "divisibility", Type: types.Scalar(types.KindU64)},
				{Name: "total_supply", Type: supplyType},
			},
			Functions: append([]object.FunctionSchema{
				function("create", typ(types.StructOf(
					types.Field("divisibility", types.Scalar(types.KindU64)),
					types.Field("initial_supply", supplyType),
					types.Field("track_total_supply", types.OptionOf(types.Scalar(types.KindBool))),
					types.Field("metadata", metadataType),
				)), typ(createOutput)),
				method("mint", typ(amountArgs), typ(ownType)),
				method("get_divisibility", nil, typ(types.Scalar(types.KindU64))),
			}, managerMethods...),
		},
		FungibleBucket: fungibleContainer(true),
		FungibleVault:  fungibleContainer(false),
		FungibleProof:  proofDefinition(FungibleResourceManager, "amount", decimalType),
		NonFungibleResourceManager: {
			GlobalEntity: types.EntityGlobalNonFungibleResourceManager,
			Features:     []string{FeatureTrackTotalSupply},
			Generics:     1,
			Fields: []object.FieldSchema{
				{Name: "id_type", Type: stringType},
				{Name: "total_supply", Type: supplyType},
			},
			Collections: []object.CollectionSchema{
				{Name: "data", Key: stringType, Value: types.GenericParam(0)},
			},
			Functions: append([]object.FunctionSchema{
				function("create", typ(types.StructOf(
					types.Field("id_type", stringType),
					types.Field("data_schema", types.Scalar(types.KindAny)),
					types.Field("entries", types.OptionOf(types.MapOf(types.Scalar(types.KindAny)))),
					types.Field("track_total_supply", types.OptionOf(types.Scalar(types.KindBool))),
					types.Field("metadata", metadataType),
				)), typ(createOutput)),
				method("mint", typ(types.StructOf(types.Field("entries", types.MapOf(types.Scalar(types.KindAny))))), typ(ownType)),
				method("get_non_fungible_data", typ(types.StructOf(types.Field("id", stringType))), typ(types.Scalar(types.KindAny))),
				method("non_fungible_exists", typ(types.StructOf(types.Field("id", stringType))), typ(types.Scalar(types.KindBool))),
			}, managerMethods...),
		},
		NonFungibleBucket: nonFungibleContainer(true),
		NonFungibleVault:  nonFungibleContainer(false),
		NonFungibleProof:  proofDefinition(NonFungibleResourceManager, "ids", idsType),
	}}
}

func fungibleContainer(bucket bool) *object.BlueprintDefinition {
	def := &object.BlueprintDefinition{
		Outer:  FungibleResourceManager,
		Fields: []object.FieldSchema{{Name: "amount", Type: decimalType}},
		Functions: []object.FunctionSchema{
			method("take", typ(amountArgs), typ(ownType)),
			method("put", typ(bucketArgs), nil),
			method("get_amount", nil, typ(decimalType)),
			method("get_resource_address", nil, typ(refType)),
			method("create_proof", nil, typ(ownType)),
		},
	}
	if bucket {
		def.Transient = true
	} else {
		def.InternalEntity = types.EntityInternalFungibleVault
	}
	return def
}

func nonFungibleContainer(bucket bool) *object.BlueprintDefinition {
	def := &object.BlueprintDefinition{
		Outer:  NonFungibleResourceManager,
		Fields: []object.FieldSchema{{Name: "ids", Type: idsType}},
		Functions: []object.FunctionSchema{
			method("take", typ(idsArgs), typ(ownType)),
			method("put", typ(bucketArgs), nil),
			method("get_amount", nil, typ(decimalType)),
			method("get_ids", nil, typ(idsType)),
			method("get_resource_address", nil, typ(refType)),
			method("create_proof", nil, typ(ownType)),
		},
	}
	if bucket {
		def.Transient = true
	} else {
		def.InternalEntity = types.EntityInternalNonFungibleVault
	}
	return def
}

// Proofs show an amount without holding it and must be dropped before the
// frame that created them returns.
func proofDefinition(outer, field string, t types.TypeRef) *object.BlueprintDefinition {
	return &object.BlueprintDefinition{
		Outer:     outer,
		Transient: true,
		Fields:    []object.FieldSchema{{Name: field, Type: t}},
		Functions: []object.FunctionSchema{
			method("get_"+field, nil, typ(t)),
			function("drop", typ(types.StructOf(types.Field("proof", ownType))), nil),
		},
	}
}

// Package returns the native resource package.
func Package() *object.NativePackage {
	return &object.NativePackage{
		Address:    types.ResourcePackage,
		Definition: Definition(),
		Functions: map[string]map[string]core.NativeFunction{
			FungibleResourceManager: {
				"create":              createFungible,
				"mint":                mintFungible,
				"get_divisibility":    getDivisibility,
				"burn":                burnFungible,
				"create_empty_vault":  emptyContainer(FungibleVault, zeroAmount),
				"create_empty_bucket": emptyContainer(FungibleBucket, zeroAmount),
				"get_total_supply":    getTotalSupply,
			},
			FungibleBucket: fungibleContainerFunctions(),
			FungibleVault:  fungibleContainerFunctions(),
			FungibleProof: {
				"get_amount": getProofField,
				"drop":       dropProof,
			},
			NonFungibleResourceManager: {
				"create":                createNonFungible,
				"mint":                  mintNonFungible,
				"get_non_fungible_data": getNonFungibleData,
				"non_fungible_exists":   nonFungibleExists,
				"burn":                  burnNonFungible,
				"create_empty_vault":    emptyContainer(NonFungibleVault, noIDs),
				"create_empty_bucket":   emptyContainer(NonFungibleBucket, noIDs),
				"get_total_supply":      getTotalSupply,
			},
			NonFungibleBucket: nonFungibleContainerFunctions(),
			NonFungibleVault:  nonFungibleContainerFunctions(),
			NonFungibleProof: {
				"get_ids": getProofField,
				"drop":    dropProof,
			},
		},
	}
}

func fungibleContainerFunctions() map[string]core.NativeFunction {
	return map[string]core.NativeFunction{
		"take":                 takeFungible,
		"put":                  putFungible,
		"get_amount":           getFungibleAmount,
		"get_resource_address": getResourceAddress,
		"create_proof":         createFungibleProof,
	}
}

func nonFungibleContainerFunctions() map[string]core.NativeFunction {
	return map[string]core.NativeFunction{
		"take":                 takeNonFungibles,
		"put":                  putNonFungibles,
		"get_amount":           getNonFungibleAmount,
		"get_ids":              getNonFungibleIDs,
		"get_resource_address": getResourceAddress,
		"create_proof":         createNonFungibleProof,
	}
}

func appError(sentinel error, format string, args ...any) error {
	return core.NewApplicationError(sentinel, format, args...)
}
