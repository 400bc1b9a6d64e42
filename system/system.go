// Package system implements the object layer on top of the kernel: typed
// fields and collections, blueprint dispatch, globalization and events.
package system

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/kernel"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/types"
)

// Package field layout of published WASM packages.
const (
	PackageFieldDefinition uint8 = iota
	PackageFieldCode
	PackageFieldCodeHash
)

// PackageBlueprint is the blueprint of published package nodes.
const PackageBlueprint = "Package"

// MetadataBlueprint is the blueprint attached as the metadata module.
const MetadataBlueprint = "Metadata"

// Call is a resolved invocation handed to an Invoker.
type Call struct {
	Blueprint core.BlueprintID
	Function  *object.FunctionSchema
	Receiver  *types.NodeID
	Args      []byte
	// Code and CodeHash are set for published WASM packages.
	Code     []byte
	CodeHash types.Hash
}

// Invoker runs blueprint code.
type Invoker interface {
	// NativeDefinition returns the definition of a package implemented in Go.
	NativeDefinition(pkg types.GlobalAddress) (*object.PackageDefinition, bool)
	Invoke(ctx context.Context, api core.SystemAPI, call *Call) ([]byte, error)
}

// Actor is the blueprint code running in a frame.
type Actor struct {
	Blueprint core.BlueprintID
	Ident     string
	Node      *types.NodeID
	Outer     *types.GlobalAddress
	Module    types.ModuleID
	Info      *core.ObjectInfo
	Def       *object.BlueprintDefinition
}

// Options configures a System.
type Options struct {
	Fees      *costing.FeeReserve
	MaxEvents int
	Logger    *slog.Logger
}

type packageInfo struct {
	def      *object.PackageDefinition
	code     []byte
	codeHash types.Hash
}

// System serves the host calls of one transaction. It is not safe for
// concurrent use.
type System struct {
	ctx       context.Context
	kernel    *kernel.Kernel
	ids       *kernel.IDAllocator
	invoker   Invoker
	fees      *costing.FeeReserve
	maxEvents int
	logger    *slog.Logger

	events   []core.Event
	packages map[types.GlobalAddress]*packageInfo
	locks    map[types.LockHandle]*lockData
}

// New creates the system layer of a transaction.
func New(ctx context.Context, k *kernel.Kernel, ids *kernel.IDAllocator, invoker Invoker, opts Options) *System {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &System{
		ctx:       ctx,
		kernel:    k,
		ids:       ids,
		invoker:   invoker,
		fees:      opts.Fees,
		maxEvents: opts.MaxEvents,
		logger:    opts.Logger,
		packages:  make(map[types.GlobalAddress]*packageInfo),
		locks:     make(map[types.LockHandle]*lockData),
	}
}

// Root returns the API of the root frame. It has no actor.
func (s *System) Root() core.SystemAPI {
	return &frameAPI{sys: s, depth: 0}
}

// Events returns the events emitted so far.
func (s *System) Events() []core.Event {
	out := make([]core.Event, len(s.events))
	copy(out, s.events)
	return out
}

// fail makes fatal errors sticky so blueprint code cannot recover from them.
func (s *System) fail(err error) error {
	if err != nil && core.IsFatal(err) {
		s.kernel.Abort(err)
	}
	return err
}

// ModuleBlueprint returns the blueprint implementing an attachable module.
func ModuleBlueprint(m types.ModuleID) (core.BlueprintID, bool) {
	if m == types.ModuleMetadata {
		return core.BlueprintID{Package: types.MetadataPackage, Blueprint: MetadataBlueprint}, true
	}
	return core.BlueprintID{}, false
}

// loadPackage resolves a package definition, reading published packages
// through the frame at depth.
func (s *System) loadPackage(depth int, addr types.GlobalAddress) (*packageInfo, error) {
	if info, ok := s.packages[addr]; ok {
		return info, nil
	}
	if def, ok := s.invoker.NativeDefinition(addr); ok {
		info := &packageInfo{def: def}
		s.packages[addr] = info
		return info, nil
	}

	node := addr.NodeID()
	if node.EntityType() != types.EntityGlobalPackage {
		return nil, core.NewSystemError(core.ErrPackageNotFound, "%s is not a package", addr)
	}
	exists, err := s.kernel.NodeExists(node)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, core.NewSystemError(core.ErrPackageNotFound, "%s", addr)
	}
	if err := s.kernel.AddReference(depth, node); err != nil {
		return nil, err
	}

	var fields [3]json.RawMessage
	for i := range fields {
		addr := types.SubstateAddress{Node: node, Partition: types.MainBasePartition, Key: types.FieldKey(uint8(i))}
		h, err := s.kernel.OpenSubstate(depth, addr, types.LockRead, 0)
		if err != nil {
			return nil, err
		}
		raw, err := s.kernel.ReadSubstate(depth, h)
		if err != nil {
			return nil, err
		}
		if err := s.kernel.CloseSubstate(depth, h); err != nil {
			return nil, err
		}
		f, err := object.DecodeField(raw)
		if err != nil {
			return nil, err
		}
		fields[i] = f.Value
	}

	info := &packageInfo{def: &object.PackageDefinition{}}
	if err := json.Unmarshal(fields[PackageFieldDefinition], info.def); err != nil {
		return nil, core.NewSystemError(core.ErrPackageNotFound, "corrupt definition of %s: %v", addr, err)
	}
	if err := info.def.Validate(); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields[PackageFieldCode], &info.code); err != nil {
		return nil, core.NewSystemError(core.ErrPackageNotFound, "corrupt code of %s: %v", addr, err)
	}
	if err := json.Unmarshal(fields[PackageFieldCodeHash], &info.codeHash); err != nil {
		return nil, core.NewSystemError(core.ErrPackageNotFound, "corrupt code hash of %s: %v", addr, err)
	}
	s.packages[addr] = info
	s.logger.Debug("loaded package", "package", addr, "blueprints", len(info.def.Blueprints))
	return info, nil
}

func (s *System) blueprint(depth int, id core.BlueprintID) (*object.BlueprintDefinition, *packageInfo, error) {
	pkg, err := s.loadPackage(depth, id.Package)
	if err != nil {
		return nil, nil, err
	}
	def, err := pkg.def.Blueprint(id.Blueprint)
	if err != nil {
		return nil, nil, err
	}
	return def, pkg, nil
}

// typeInfo reads the type info of a node visible to the frame at depth.
func (s *System) typeInfo(depth int, node types.NodeID) (*core.ObjectInfo, error) {
	h, err := s.kernel.OpenSubstate(depth, types.TypeInfoAddress(node), types.LockRead, 0)
	if err != nil {
		return nil, err
	}
	raw, err := s.kernel.ReadSubstate(depth, h)
	if err != nil {
		return nil, err
	}
	if err := s.kernel.CloseSubstate(depth, h); err != nil {
		return nil, err
	}
	return object.DecodeTypeInfo(raw)
}

// invoke pushes a frame for actor and runs its code.
func (s *System) invoke(depth int, actor *Actor, fn *object.FunctionSchema, pkg *packageInfo, args []byte, extraRefs []types.NodeID) ([]byte, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if fn.Input != nil {
		if err := object.Validate(args, *fn.Input, actorGenerics(actor)); err != nil {
			return nil, err
		}
	}

	inv := &kernel.Invocation{
		Actor:     actor.Blueprint.String(),
		Function:  actor.Ident,
		Receiver:  actor.Node,
		Args:      args,
		ExtraRefs: extraRefs,
		Data:      actor,
	}
	return s.kernel.Invoke(depth, inv, func(d int) ([]byte, error) {
		api := &frameAPI{sys: s, depth: d, actor: actor}
		call := &Call{
			Blueprint: actor.Blueprint,
			Function:  fn,
			Receiver:  actor.Node,
			Args:      args,
			Code:      pkg.code,
			CodeHash:  pkg.codeHash,
		}
		out, err := s.invoker.Invoke(s.ctx, api, call)
		if err != nil {
			return nil, err
		}
		if fn.Output != nil {
			if err := object.Validate(out, *fn.Output, actorGenerics(actor)); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

func actorGenerics(actor *Actor) []types.TypeRef {
	if actor == nil || actor.Info == nil || actor.Module != types.ModuleMain {
		return nil
	}
	return actor.Info.Generics
}
