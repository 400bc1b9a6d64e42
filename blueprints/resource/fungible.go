package resource

import (
	"encoding/json"

	"github.com/govm-net/kernel/blueprints"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

const (
	fieldDivisibility uint8 = 0
	fieldTotalSupply  uint8 = 1
	fieldAmount       uint8 = 0
)

var (
	zeroAmount = []byte(`"0"`)
	noIDs      = []byte(`[]`)
)

type createOutput struct {
	Resource core.Reference `json:"resource"`
	Bucket   *core.Own      `json:"bucket"`
}

type bucketArg struct {
	Bucket core.Own `json:"bucket"`
}

type amountArg struct {
	Amount types.Decimal `json:"amount"`
}

func createFungible(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Divisibility     uint64            `json:"divisibility"`
		InitialSupply    *types.Decimal    `json:"initial_supply"`
		TrackTotalSupply bool              `json:"track_total_supply"`
		Metadata         map[string]string `json:"metadata"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	if in.Divisibility > types.DecimalPlaces {
		return nil, appError(ErrInvalidAmount, "divisibility %d exceeds %d", in.Divisibility, types.DecimalPlaces)
	}
	if in.InitialSupply != nil && !in.InitialSupply.FitsDivisibility(uint8(in.Divisibility)) {
		return nil, appError(ErrInvalidAmount, "initial supply %s with divisibility %d", in.InitialSupply, in.Divisibility)
	}
	var mint any
	if in.InitialSupply != nil {
		mint = amountArg{Amount: *in.InitialSupply}
	}
	return createManager(api, FungibleResourceManager, in.TrackTotalSupply, nil, in.Metadata, mint, in.Divisibility)
}

// createManager creates and globalizes a resource manager, then mints the
// initial supply when mint is not nil.
func createManager(api core.SystemAPI, blueprint string, track bool, generics []types.TypeRef, metadata map[string]string, mint any, first any) ([]byte, error) {
	obj := core.ObjectInit{Blueprint: blueprint, Generics: generics}
	var supply *types.Decimal
	if track {
		zero := types.ZeroDecimal()
		supply = &zero
		obj.Features = []string{FeatureTrackTotalSupply}
	}
	firstRaw, err := blueprints.Encode(first)
	if err != nil {
		return nil, err
	}
	supplyRaw, err := blueprints.Encode(supply)
	if err != nil {
		return nil, err
	}
	obj.Fields = core.Fields(firstRaw, supplyRaw)

	node, err := api.NewObject(obj)
	if err != nil {
		return nil, err
	}
	addr, err := blueprints.Globalize(api, node, metadata)
	if err != nil {
		return nil, err
	}
	out := createOutput{Resource: core.Reference{ID: addr.NodeID()}}
	if mint != nil {
		var bucket core.Own
		if err := blueprints.Call(api, addr.NodeID(), "mint", mint, &bucket); err != nil {
			return nil, err
		}
		out.Bucket = &bucket
	}
	return blueprints.Encode(out)
}

func mintFungible(api core.SystemAPI, receiver *types.NodeID, args []byte) ([]byte, error) {
	var in amountArg
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	var divisibility uint64
	if err := blueprints.ReadField(api, core.ActorSelf, fieldDivisibility, &divisibility); err != nil {
		return nil, err
	}
	if !in.Amount.FitsDivisibility(uint8(divisibility)) {
		return nil, appError(ErrInvalidAmount, "%s with divisibility %d", in.Amount, divisibility)
	}
	if err := adjustSupply(api, *receiver, in.Amount, true); err != nil {
		return nil, err
	}
	bucket, err := newContainer(api, FungibleBucket, in.Amount)
	if err != nil {
		return nil, err
	}
	if err := emit(api, "MintFungibleResourceEvent", amountArg{in.Amount}); err != nil {
		return nil, err
	}
	return blueprints.Encode(core.Own{ID: bucket})
}

func burnFungible(api core.SystemAPI, receiver *types.NodeID, args []byte) ([]byte, error) {
	var in bucketArg
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	if err := checkContainer(api, in.Bucket.ID, FungibleBucket, *receiver); err != nil {
		return nil, err
	}
	var amount types.Decimal
	if err := dropContainer(api, in.Bucket.ID, &amount); err != nil {
		return nil, err
	}
	if err := adjustSupply(api, *receiver, amount, false); err != nil {
		return nil, err
	}
	return nil, emit(api, "BurnFungibleResourceEvent", amountArg{amount})
}

func getDivisibility(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	return readRaw(api, core.ActorSelf, fieldDivisibility)
}

func getTotalSupply(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	return readRaw(api, core.ActorSelf, fieldTotalSupply)
}

func takeFungible(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in amountArg
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	var divisibility uint64
	if err := blueprints.ReadField(api, core.ActorOuter, fieldDivisibility, &divisibility); err != nil {
		return nil, err
	}
	if !in.Amount.FitsDivisibility(uint8(divisibility)) {
		return nil, appError(ErrInvalidAmount, "%s with divisibility %d", in.Amount, divisibility)
	}
	err := blueprints.UpdateField(api, core.ActorSelf, fieldAmount, func(balance *types.Decimal) error {
		left, err := balance.Sub(in.Amount)
		if err != nil {
			return appError(ErrInsufficientBalance, "%s < %s", balance, in.Amount)
		}
		*balance = left
		return nil
	})
	if err != nil {
		return nil, err
	}
	bucket, err := newContainer(api, FungibleBucket, in.Amount)
	if err != nil {
		return nil, err
	}
	if isVault(api) {
		if err := emit(api, "WithdrawEvent", amountArg{in.Amount}); err != nil {
			return nil, err
		}
	}
	return blueprints.Encode(core.Own{ID: bucket})
}

func putFungible(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in bucketArg
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	outer, err := api.ActorNodeID(core.ActorOuter)
	if err != nil {
		return nil, err
	}
	if err := checkContainer(api, in.Bucket.ID, FungibleBucket, outer); err != nil {
		return nil, err
	}
	var amount types.Decimal
	if err := dropContainer(api, in.Bucket.ID, &amount); err != nil {
		return nil, err
	}
	err = blueprints.UpdateField(api, core.ActorSelf, fieldAmount, func(balance *types.Decimal) error {
		sum, err := balance.Add(amount)
		if err != nil {
			return appError(ErrInvalidAmount, "%v", err)
		}
		*balance = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	if isVault(api) {
		return nil, emit(api, "DepositEvent", amountArg{amount})
	}
	return nil, nil
}

func getFungibleAmount(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	return readRaw(api, core.ActorSelf, fieldAmount)
}

// createFungibleProof records the amount held at creation. The proof does not
// follow later takes or puts on the container.
func createFungibleProof(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	var amount types.Decimal
	if err := blueprints.ReadField(api, core.ActorSelf, fieldAmount, &amount); err != nil {
		return nil, err
	}
	proof, err := newContainer(api, FungibleProof, amount)
	if err != nil {
		return nil, err
	}
	return blueprints.Encode(core.Own{ID: proof})
}

func getResourceAddress(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	outer, err := api.ActorNodeID(core.ActorOuter)
	if err != nil {
		return nil, err
	}
	return blueprints.Encode(core.Reference{ID: outer})
}

func getProofField(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	return readRaw(api, core.ActorSelf, 0)
}

func dropProof(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		Proof core.Own `json:"proof"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	_, err := api.DropObject(in.Proof.ID)
	return nil, err
}

// emptyContainer returns a manager method creating a vault or bucket with
// the given initial value.
func emptyContainer(blueprint string, empty []byte) core.NativeFunction {
	return func(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
		node, err := api.NewObject(core.ObjectInit{Blueprint: blueprint, Fields: core.Fields(empty)})
		if err != nil {
			return nil, err
		}
		return blueprints.Encode(core.Own{ID: node})
	}
}

func newContainer(api core.SystemAPI, blueprint string, value any) (types.NodeID, error) {
	raw, err := blueprints.Encode(value)
	if err != nil {
		return types.NodeID{}, err
	}
	return api.NewObject(core.ObjectInit{Blueprint: blueprint, Fields: core.Fields(raw)})
}

// checkContainer verifies that node is a blueprint object of the resource
// managed by manager.
func checkContainer(api core.SystemAPI, node types.NodeID, blueprint string, manager types.NodeID) error {
	info, err := api.GetObjectInfo(node)
	if err != nil {
		return err
	}
	want := core.BlueprintID{Package: types.ResourcePackage, Blueprint: blueprint}
	if info.Blueprint != want {
		return appError(ErrResourceMismatch, "expected %s, got %s", blueprint, info.Blueprint)
	}
	if info.OuterObject == nil || info.OuterObject.NodeID() != manager {
		return appError(ErrResourceMismatch, "%s belongs to another resource", node)
	}
	return nil
}

// dropContainer drops a bucket and decodes its only field into v.
func dropContainer(api core.SystemAPI, node types.NodeID, v any) error {
	fields, err := api.DropObject(node)
	if err != nil {
		return err
	}
	if len(fields) != 1 {
		return core.NewSchemaError(core.ErrUnknownField, "bucket has %d fields", len(fields))
	}
	return blueprints.Decode(fields[0], v)
}

// adjustSupply updates the total supply of the manager when it tracks it.
func adjustSupply(api core.SystemAPI, manager types.NodeID, delta types.Decimal, add bool) error {
	info, err := api.GetObjectInfo(manager)
	if err != nil {
		return err
	}
	if !info.HasFeature(FeatureTrackTotalSupply) {
		return nil
	}
	return blueprints.UpdateField(api, core.ActorSelf, fieldTotalSupply, func(supply **types.Decimal) error {
		current := types.ZeroDecimal()
		if *supply != nil {
			current = **supply
		}
		var next types.Decimal
		var err error
		if add {
			next, err = current.Add(delta)
		} else {
			next, err = current.Sub(delta)
		}
		if err != nil {
			return appError(ErrInvalidAmount, "total supply: %v", err)
		}
		*supply = &next
		return nil
	})
}

func readRaw(api core.SystemAPI, ref core.ActorRef, field uint8) ([]byte, error) {
	var raw json.RawMessage
	if err := blueprints.ReadField(api, ref, field, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func isVault(api core.SystemAPI) bool {
	bp := api.ActorBlueprint().Blueprint
	return bp == FungibleVault || bp == NonFungibleVault
}

func emit(api core.SystemAPI, name string, payload any) error {
	raw, err := blueprints.Encode(payload)
	if err != nil {
		return err
	}
	return api.EmitEvent(name, raw)
}
