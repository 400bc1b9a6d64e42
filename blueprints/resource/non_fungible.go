package resource

import (
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"

	"github.com/govm-net/kernel/blueprints"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// Local id kinds of a non-fungible resource.
const (
	IDTypeInteger = "integer"
	IDTypeString  = "string"
	IDTypeBytes   = "bytes"
	IDTypeRUID    = "ruid"
)

const (
	fieldIDType    uint8 = 0
	fieldIDs       uint8 = 0
	collectionData uint8 = 0
)

var localIDPatterns = map[string]*regexp.Regexp{
	IDTypeInteger: regexp.MustCompile(`^#(0|[1-9][0-9]{0,19})#$`),
	IDTypeString:  regexp.MustCompile(`^<[A-Za-z0-9_]{1,64}>$`),
	IDTypeBytes:   regexp.MustCompile(`^\[([0-9a-f]{2}){1,64}\]$`),
	IDTypeRUID:    regexp.MustCompile(`^\{[0-9a-f]{16}-[0-9a-f]{16}-[0-9a-f]{16}-[0-9a-f]{16}\}$`),
}

// ValidateLocalID checks that id is a well-formed local id of the kind.
func ValidateLocalID(idType, id string) error {
	pattern, ok := localIDPatterns[idType]
	if !ok {
		return appError(ErrInvalidLocalID, "unknown id type %q", idType)
	}
	if !pattern.MatchString(id) {
		return appError(ErrInvalidLocalID, "%q is not a %s id", id, idType)
	}
	switch idType {
	case IDTypeInteger:
		if _, err := strconv.ParseUint(id[1:len(id)-1], 10, 64); err != nil {
			return appError(ErrInvalidLocalID, "%q does not fit in u64", id)
		}
	case IDTypeBytes:
		if _, err := hex.DecodeString(id[1 : len(id)-1]); err != nil {
			return appError(ErrInvalidLocalID, "%q: %v", id, err)
		}
	}
	return nil
}

type idsArg struct {
	IDs []string `json:"ids"`
}

type entriesArg struct {
	Entries map[string]json.RawMessage `json:"entries"`
}

func createNonFungible(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		IDType           string                     `json:"id_type"`
		DataSchema       types.TypeRef              `json:"data_schema"`
		Entries          map[string]json.RawMessage `json:"entries"`
		TrackTotalSupply bool                       `json:"track_total_supply"`
		Metadata         map[string]string          `json:"metadata"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	if _, ok := localIDPatterns[in.IDType]; !ok {
		return nil, appError(ErrInvalidLocalID, "unknown id type %q", in.IDType)
	}
	if in.DataSchema.Kind == "" || in.DataSchema.Kind == types.KindGeneric {
		return nil, core.NewSchemaError(core.ErrInvalidDefinition, "invalid non-fungible data schema %s", in.DataSchema)
	}
	var mint any
	if len(in.Entries) > 0 {
		mint = entriesArg{Entries: in.Entries}
	}
	generics := []types.TypeRef{in.DataSchema}
	return createManager(api, NonFungibleResourceManager, in.TrackTotalSupply, generics, in.Metadata, mint, in.IDType)
}

func mintNonFungible(api core.SystemAPI, receiver *types.NodeID, args []byte) ([]byte, error) {
	var in entriesArg
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	var idType string
	if err := blueprints.ReadField(api, core.ActorSelf, fieldIDType, &idType); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(in.Entries))
	for id := range in.Entries {
		if err := ValidateLocalID(idType, id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		present, locked, err := entryState(api, id)
		if err != nil {
			return nil, err
		}
		if present || locked {
			return nil, appError(ErrNonFungibleAlreadyExists, "%s", id)
		}
		data := in.Entries[id]
		if len(data) == 0 || string(data) == "null" {
			return nil, appError(ErrInvalidNonFungibleData, "%s has no data", id)
		}
		if err := setEntry(api, id, data, false); err != nil {
			return nil, err
		}
	}
	if err := adjustSupply(api, *receiver, types.NewDecimal(uint64(len(ids))), true); err != nil {
		return nil, err
	}
	bucket, err := newContainer(api, NonFungibleBucket, ids)
	if err != nil {
		return nil, err
	}
	if err := emit(api, "MintNonFungibleResourceEvent", idsArg{ids}); err != nil {
		return nil, err
	}
	return blueprints.Encode(core.Own{ID: bucket})
}

// burnNonFungible drops a bucket and leaves the data entries of its ids
// empty and locked so the ids can never be minted again.
func burnNonFungible(api core.SystemAPI, receiver *types.NodeID, args []byte) ([]byte, error) {
	var in bucketArg
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	if err := checkContainer(api, in.Bucket.ID, NonFungibleBucket, *receiver); err != nil {
		return nil, err
	}
	var ids []string
	if err := dropContainer(api, in.Bucket.ID, &ids); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := setEntry(api, id, nil, true); err != nil {
			return nil, err
		}
	}
	if err := adjustSupply(api, *receiver, types.NewDecimal(uint64(len(ids))), false); err != nil {
		return nil, err
	}
	return nil, emit(api, "BurnNonFungibleResourceEvent", idsArg{ids})
}

func getNonFungibleData(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	h, err := api.ActorOpenKeyValueEntry(core.ActorSelf, collectionData, []byte(in.ID), types.LockRead)
	if err != nil {
		return nil, err
	}
	data, err := api.KeyValueEntryGet(h)
	if err != nil {
		return nil, err
	}
	if err := api.KeyValueEntryClose(h); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, appError(ErrNonFungibleNotFound, "%s", in.ID)
	}
	return data, nil
}

func nonFungibleExists(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	present, _, err := entryState(api, in.ID)
	if err != nil {
		return nil, err
	}
	return blueprints.Encode(present)
}

func entryState(api core.SystemAPI, id string) (bool, bool, error) {
	h, err := api.ActorOpenKeyValueEntry(core.ActorSelf, collectionData, []byte(id), types.LockRead)
	if err != nil {
		return false, false, err
	}
	present, locked, err := api.KeyValueEntryState(h)
	if err != nil {
		return false, false, err
	}
	return present, locked, api.KeyValueEntryClose(h)
}

func setEntry(api core.SystemAPI, id string, data []byte, lock bool) error {
	h, err := api.ActorOpenKeyValueEntry(core.ActorSelf, collectionData, []byte(id), types.LockWrite)
	if err != nil {
		return err
	}
	if err := api.KeyValueEntrySet(h, data); err != nil {
		return err
	}
	if lock {
		if err := api.KeyValueEntryLock(h); err != nil {
			return err
		}
	}
	return api.KeyValueEntryClose(h)
}

func takeNonFungibles(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in idsArg
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	taken := make([]string, 0, len(in.IDs))
	err := blueprints.UpdateField(api, core.ActorSelf, fieldIDs, func(held *[]string) error {
		set := make(map[string]struct{}, len(*held))
		for _, id := range *held {
			set[id] = struct{}{}
		}
		for _, id := range in.IDs {
			if _, ok := set[id]; !ok {
				return appError(ErrNonFungibleNotFound, "%s is not held", id)
			}
			delete(set, id)
			taken = append(taken, id)
		}
		*held = sortedIDs(set)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(taken)
	bucket, err := newContainer(api, NonFungibleBucket, taken)
	if err != nil {
		return nil, err
	}
	if isVault(api) {
		if err := emit(api, "WithdrawEvent", idsArg{taken}); err != nil {
			return nil, err
		}
	}
	return blueprints.Encode(core.Own{ID: bucket})
}

func putNonFungibles(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in bucketArg
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	outer, err := api.ActorNodeID(core.ActorOuter)
	if err != nil {
		return nil, err
	}
	if err := checkContainer(api, in.Bucket.ID, NonFungibleBucket, outer); err != nil {
		return nil, err
	}
	var ids []string
	if err := dropContainer(api, in.Bucket.ID, &ids); err != nil {
		return nil, err
	}
	err = blueprints.UpdateField(api, core.ActorSelf, fieldIDs, func(held *[]string) error {
		set := make(map[string]struct{}, len(*held)+len(ids))
		for _, id := range *held {
			set[id] = struct{}{}
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
		*held = sortedIDs(set)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if isVault(api) {
		return nil, emit(api, "DepositEvent", idsArg{ids})
	}
	return nil, nil
}

func getNonFungibleAmount(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	var ids []string
	if err := blueprints.ReadField(api, core.ActorSelf, fieldIDs, &ids); err != nil {
		return nil, err
	}
	return blueprints.Encode(types.NewDecimal(uint64(len(ids))))
}

func getNonFungibleIDs(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	return readRaw(api, core.ActorSelf, fieldIDs)
}

func createNonFungibleProof(api core.SystemAPI, _ *types.NodeID, _ []byte) ([]byte, error) {
	var ids []string
	if err := blueprints.ReadField(api, core.ActorSelf, fieldIDs, &ids); err != nil {
		return nil, err
	}
	proof, err := newContainer(api, NonFungibleProof, ids)
	if err != nil {
		return nil, err
	}
	return blueprints.Encode(core.Own{ID: proof})
}

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
