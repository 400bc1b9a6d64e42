package system

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/kernel"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/types"
)

type lockKind uint8

const (
	fieldLock lockKind = iota + 1
	entryLock
)

type lockData struct {
	kind     lockKind
	schema   types.TypeRef
	generics []types.TypeRef
}

// frameAPI is the SystemAPI bound to one call frame.
type frameAPI struct {
	sys   *System
	depth int
	actor *Actor
}

var _ core.SystemAPI = (*frameAPI)(nil)

func (a *frameAPI) check() error {
	return a.sys.kernel.CheckActive(a.depth)
}

type target struct {
	node     types.NodeID
	def      *object.BlueprintDefinition
	base     types.PartitionNumber
	generics []types.TypeRef
}

// target resolves which object a field access of the actor refers to.
func (a *frameAPI) target(ref core.ActorRef) (*target, error) {
	if a.actor == nil {
		return nil, core.NewSystemError(core.ErrNoActorObject, "root frame")
	}
	switch ref {
	case core.ActorSelf:
		if a.actor.Node == nil {
			return nil, core.NewSystemError(core.ErrNoActorObject, "%s::%s is a function", a.actor.Blueprint, a.actor.Ident)
		}
		return &target{
			node:     *a.actor.Node,
			def:      a.actor.Def,
			base:     a.actor.Module.BasePartition(),
			generics: actorGenerics(a.actor),
		}, nil
	case core.ActorOuter:
		if a.actor.Outer == nil {
			return nil, core.NewSystemError(core.ErrInvalidOuterObject, "%s has no outer object", a.actor.Blueprint)
		}
		node := a.actor.Outer.NodeID()
		info, err := a.sys.typeInfo(a.depth, node)
		if err != nil {
			return nil, err
		}
		def, _, err := a.sys.blueprint(a.depth, info.Blueprint)
		if err != nil {
			return nil, err
		}
		return &target{node: node, def: def, base: types.MainBasePartition, generics: info.Generics}, nil
	default:
		return nil, core.NewSystemError(core.ErrInvalidHostCall, "unknown actor ref %d", ref)
	}
}

func (a *frameAPI) lockData(h types.LockHandle, kind lockKind) (*lockData, error) {
	d, ok := a.sys.locks[h]
	if !ok || d.kind != kind {
		return nil, core.NewKernelError(core.ErrInvalidLockHandle, "handle %d", h)
	}
	return d, nil
}

// NewObject creates an object of a blueprint of the actor's package.
func (a *frameAPI) NewObject(init core.ObjectInit) (types.NodeID, error) {
	id, err := a.newObject(init)
	return id, a.sys.fail(err)
}

func (a *frameAPI) newObject(init core.ObjectInit) (types.NodeID, error) {
	if err := a.check(); err != nil {
		return types.NodeID{}, err
	}
	if a.actor == nil {
		return types.NodeID{}, core.NewSystemError(core.ErrNoActorObject, "root frame cannot create objects")
	}
	bp := core.BlueprintID{Package: a.actor.Blueprint.Package, Blueprint: init.Blueprint}
	def, _, err := a.sys.blueprint(a.depth, bp)
	if err != nil {
		return types.NodeID{}, err
	}
	for _, f := range init.Features {
		if !def.HasFeature(f) {
			return types.NodeID{}, core.NewSystemError(core.ErrUnknownFeature, "%s has no feature %q", bp, f)
		}
	}
	if len(init.Generics) != def.Generics {
		return types.NodeID{}, core.NewSchemaError(core.ErrSchemaMismatch, "%s expects %d generic arguments, got %d", bp, def.Generics, len(init.Generics))
	}
	if len(init.Fields) != len(def.Fields) {
		return types.NodeID{}, core.NewSchemaError(core.ErrUnknownField, "%s has %d fields, got %d", bp, len(def.Fields), len(init.Fields))
	}

	outer, err := a.outerFor(def)
	if err != nil {
		return types.NodeID{}, err
	}

	main := make(map[types.SubstateKey][]byte, len(init.Fields))
	for i, f := range init.Fields {
		if err := object.Validate(f.Value, def.Fields[i].Type, init.Generics); err != nil {
			return types.NodeID{}, err
		}
		main[types.FieldKey(uint8(i))] = object.EncodeField(f.Value, f.Locked)
	}
	info := &core.ObjectInfo{
		Blueprint:   bp,
		OuterObject: outer,
		Features:    init.Features,
		Generics:    init.Generics,
	}
	substates := map[types.PartitionNumber]map[types.SubstateKey][]byte{
		types.TypeInfoPartition: {types.FieldKey(types.TypeInfoField): object.EncodeTypeInfo(info)},
		types.MainBasePartition: main,
	}
	for _, e := range init.Entries {
		schema, err := def.Collection(e.Collection)
		if err != nil {
			return types.NodeID{}, err
		}
		if !object.IsNull(e.Value) {
			if err := object.Validate(e.Value, schema.Value, init.Generics); err != nil {
				return types.NodeID{}, err
			}
		}
		p := types.CollectionPartition(types.MainBasePartition, e.Collection)
		if substates[p] == nil {
			substates[p] = make(map[types.SubstateKey][]byte)
		}
		substates[p][types.MapKey(e.Key)] = object.EncodeEntry(e.Value, e.Locked)
	}

	id := a.sys.ids.Allocate(def.EntityType(false))
	if err := a.sys.kernel.CreateNode(a.depth, id, substates); err != nil {
		return types.NodeID{}, err
	}
	return id, nil
}

// outerFor finds the outer object of a new inner object: the actor itself
// when it is an instance of the outer blueprint, or the actor's own outer
// object when both are inner objects of the same blueprint.
func (a *frameAPI) outerFor(def *object.BlueprintDefinition) (*types.GlobalAddress, error) {
	if def.Outer == "" {
		return nil, nil
	}
	if a.actor.Node != nil && a.actor.Module == types.ModuleMain {
		if a.actor.Blueprint.Blueprint == def.Outer {
			addr, err := types.NewGlobalAddress(*a.actor.Node)
			if err != nil {
				return nil, core.NewSystemError(core.ErrInvalidOuterObject, "%s: %v", def.Name, err)
			}
			return &addr, nil
		}
		if a.actor.Def != nil && a.actor.Def.Outer == def.Outer && a.actor.Outer != nil {
			outer := *a.actor.Outer
			return &outer, nil
		}
	}
	return nil, core.NewSystemError(core.ErrInvalidOuterObject, "%s needs an instance of %s", def.Name, def.Outer)
}

// Globalize turns an owned object into a global one, attaching the given
// module objects.
func (a *frameAPI) Globalize(node types.NodeID, modules map[types.ModuleID]types.NodeID) (types.GlobalAddress, error) {
	addr, err := a.globalize(node, modules)
	return addr, a.sys.fail(err)
}

func (a *frameAPI) globalize(node types.NodeID, modules map[types.ModuleID]types.NodeID) (types.GlobalAddress, error) {
	if err := a.check(); err != nil {
		return types.GlobalAddress{}, err
	}
	info, err := a.sys.typeInfo(a.depth, node)
	if err != nil {
		return types.GlobalAddress{}, err
	}
	if info.Global {
		return types.GlobalAddress{}, core.NewSystemError(core.ErrInvalidGlobalize, "%s is already global", node)
	}
	if a.actor == nil || a.actor.Blueprint.Package != info.Blueprint.Package {
		return types.GlobalAddress{}, core.NewSystemError(core.ErrInvalidGlobalize, "%s may only be globalized by its own package", info.Blueprint)
	}
	def, _, err := a.sys.blueprint(a.depth, info.Blueprint)
	if err != nil {
		return types.GlobalAddress{}, err
	}
	if def.Transient || def.Outer != "" {
		return types.GlobalAddress{}, core.NewSystemError(core.ErrInvalidGlobalize, "%s cannot be global", info.Blueprint)
	}

	moves := partitionMoves(node, def, types.MainBasePartition)
	var attached []types.ModuleID
	for m, moduleNode := range modules {
		bp, ok := ModuleBlueprint(m)
		if !ok {
			return types.GlobalAddress{}, core.NewSystemError(core.ErrModuleNotAttached, "unknown module %s", m)
		}
		moduleInfo, err := a.sys.typeInfo(a.depth, moduleNode)
		if err != nil {
			return types.GlobalAddress{}, err
		}
		if moduleInfo.Blueprint != bp {
			return types.GlobalAddress{}, core.NewSystemError(core.ErrInvalidGlobalize, "%s is not a %s module", moduleNode, m)
		}
		moduleDef, _, err := a.sys.blueprint(a.depth, bp)
		if err != nil {
			return types.GlobalAddress{}, err
		}
		moves = append(moves, partitionMoves(moduleNode, moduleDef, m.BasePartition())...)
		attached = append(attached, m)
	}
	sort.Slice(attached, func(i, j int) bool { return attached[i] < attached[j] })

	global := a.sys.ids.Allocate(def.GlobalEntity)
	globalInfo := *info
	globalInfo.Global = true
	globalInfo.Modules = attached
	extra := map[types.PartitionNumber]map[types.SubstateKey][]byte{
		types.TypeInfoPartition: {types.FieldKey(types.TypeInfoField): object.EncodeTypeInfo(&globalInfo)},
	}
	if err := a.sys.kernel.GlobalizeNode(a.depth, global, moves, extra); err != nil {
		return types.GlobalAddress{}, err
	}
	return types.NewGlobalAddress(global)
}

// partitionMoves relocates the fields and collection partitions of an
// object from the main base to base.
func partitionMoves(node types.NodeID, def *object.BlueprintDefinition, base types.PartitionNumber) []kernel.PartitionMove {
	moves := []kernel.PartitionMove{{Node: node, From: types.MainBasePartition, To: base}}
	for i := range def.Collections {
		moves = append(moves, kernel.PartitionMove{
			Node: node,
			From: types.CollectionPartition(types.MainBasePartition, uint8(i)),
			To:   types.CollectionPartition(base, uint8(i)),
		})
	}
	return moves
}

// DropObject destroys an owned object and returns its field values.
func (a *frameAPI) DropObject(node types.NodeID) ([]json.RawMessage, error) {
	fields, err := a.dropObject(node)
	return fields, a.sys.fail(err)
}

func (a *frameAPI) dropObject(node types.NodeID) ([]json.RawMessage, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	info, err := a.sys.typeInfo(a.depth, node)
	if err != nil {
		return nil, err
	}
	if !a.canDrop(info) {
		return nil, core.NewSystemError(core.ErrInvalidDropAccess, "%s cannot drop %s", a.actorName(), info.Blueprint)
	}
	substates, err := a.sys.kernel.DropNode(a.depth, node)
	if err != nil {
		return nil, err
	}
	main := substates[types.MainBasePartition]
	fields := make([]json.RawMessage, 0, len(main))
	for i := 0; i < len(main); i++ {
		raw, ok := main[types.FieldKey(uint8(i))]
		if !ok {
			break
		}
		f, err := object.DecodeField(raw)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f.Value)
	}
	return fields, nil
}

func (a *frameAPI) canDrop(info *core.ObjectInfo) bool {
	if a.actor == nil || a.actor.Blueprint.Package != info.Blueprint.Package {
		return false
	}
	if a.actor.Blueprint == info.Blueprint {
		return true
	}
	if info.OuterObject == nil {
		return false
	}
	if a.actor.Outer != nil && *a.actor.Outer == *info.OuterObject {
		return true
	}
	return a.actor.Node != nil && *a.actor.Node == info.OuterObject.NodeID()
}

func (a *frameAPI) actorName() string {
	if a.actor == nil {
		return "root"
	}
	return a.actor.Blueprint.String()
}

func (a *frameAPI) GetObjectInfo(node types.NodeID) (*core.ObjectInfo, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	info, err := a.sys.typeInfo(a.depth, node)
	return info, a.sys.fail(err)
}

// ActorOpenField opens a field of the actor (or its outer object).
func (a *frameAPI) ActorOpenField(ref core.ActorRef, field uint8, mode types.LockMode) (types.LockHandle, error) {
	h, err := a.openField(ref, field, mode)
	return h, a.sys.fail(err)
}

func (a *frameAPI) openField(ref core.ActorRef, field uint8, mode types.LockMode) (types.LockHandle, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	t, err := a.target(ref)
	if err != nil {
		return 0, err
	}
	schema, err := t.def.Field(field)
	if err != nil {
		return 0, err
	}
	addr := types.SubstateAddress{Node: t.node, Partition: t.base, Key: types.FieldKey(field)}
	h, err := a.sys.kernel.OpenSubstate(a.depth, addr, mode, 0)
	if err != nil {
		return 0, err
	}
	if mode == types.LockWrite {
		f, err := a.readField(h)
		if err != nil {
			return 0, err
		}
		if f.Locked {
			return 0, core.NewSystemError(core.ErrFieldLocked, "%s field %q", t.def.Name, schema.Name)
		}
	}
	a.sys.locks[h] = &lockData{kind: fieldLock, schema: schema.Type, generics: t.generics}
	return h, nil
}

func (a *frameAPI) readField(h types.LockHandle) (*object.FieldSubstate, error) {
	raw, err := a.sys.kernel.ReadSubstate(a.depth, h)
	if err != nil {
		return nil, err
	}
	return object.DecodeField(raw)
}

func (a *frameAPI) FieldRead(h types.LockHandle) ([]byte, error) {
	if _, err := a.lockData(h, fieldLock); err != nil {
		return nil, a.sys.fail(err)
	}
	f, err := a.readField(h)
	if err != nil {
		return nil, a.sys.fail(err)
	}
	return f.Value, nil
}

func (a *frameAPI) FieldWrite(h types.LockHandle, value []byte) error {
	return a.sys.fail(a.fieldWrite(h, value, false))
}

// FieldLock makes the field immutable for the rest of the object's life.
func (a *frameAPI) FieldLock(h types.LockHandle) error {
	return a.sys.fail(a.fieldWrite(h, nil, true))
}

func (a *frameAPI) fieldWrite(h types.LockHandle, value []byte, lock bool) error {
	d, err := a.lockData(h, fieldLock)
	if err != nil {
		return err
	}
	current, err := a.readField(h)
	if err != nil {
		return err
	}
	if lock {
		value = current.Value
	} else if err := object.Validate(value, d.schema, d.generics); err != nil {
		return err
	}
	return a.sys.kernel.WriteSubstate(a.depth, h, object.EncodeField(value, current.Locked || lock))
}

func (a *frameAPI) FieldClose(h types.LockHandle) error {
	if _, err := a.lockData(h, fieldLock); err != nil {
		return a.sys.fail(err)
	}
	delete(a.sys.locks, h)
	return a.sys.fail(a.sys.kernel.CloseSubstate(a.depth, h))
}

// ActorOpenKeyValueEntry opens an entry of a collection of the actor. The
// entry may be absent.
func (a *frameAPI) ActorOpenKeyValueEntry(ref core.ActorRef, collection uint8, key []byte, mode types.LockMode) (types.LockHandle, error) {
	h, err := a.openEntry(ref, collection, key, mode)
	return h, a.sys.fail(err)
}

func (a *frameAPI) openEntry(ref core.ActorRef, collection uint8, key []byte, mode types.LockMode) (types.LockHandle, error) {
	if err := a.check(); err != nil {
		return 0, err
	}
	t, err := a.target(ref)
	if err != nil {
		return 0, err
	}
	schema, err := t.def.Collection(collection)
	if err != nil {
		return 0, err
	}
	addr := types.SubstateAddress{
		Node:      t.node,
		Partition: types.CollectionPartition(t.base, collection),
		Key:       types.MapKey(key),
	}
	h, err := a.sys.kernel.OpenSubstate(a.depth, addr, mode, types.LockAllowAbsent)
	if err != nil {
		return 0, err
	}
	if mode == types.LockWrite {
		e, err := a.readEntry(h)
		if err != nil {
			return 0, err
		}
		if e != nil && e.Locked {
			return 0, core.NewSystemError(core.ErrEntryLocked, "%s collection %q key %x", t.def.Name, schema.Name, key)
		}
	}
	a.sys.locks[h] = &lockData{kind: entryLock, schema: schema.Value, generics: t.generics}
	return h, nil
}

// readEntry returns nil for an absent entry.
func (a *frameAPI) readEntry(h types.LockHandle) (*object.KeyValueEntrySubstate, error) {
	raw, err := a.sys.kernel.ReadSubstate(a.depth, h)
	if err != nil || raw == nil {
		return nil, err
	}
	return object.DecodeEntry(raw)
}

func (a *frameAPI) KeyValueEntryGet(h types.LockHandle) ([]byte, error) {
	if _, err := a.lockData(h, entryLock); err != nil {
		return nil, a.sys.fail(err)
	}
	e, err := a.readEntry(h)
	if err != nil {
		return nil, a.sys.fail(err)
	}
	if e == nil || e.IsEmpty() {
		return nil, nil
	}
	return e.Value, nil
}

func (a *frameAPI) KeyValueEntrySet(h types.LockHandle, value []byte) error {
	return a.sys.fail(a.entryWrite(h, value, false))
}

// KeyValueEntryLock freezes the entry. Locking an absent entry leaves it
// empty and locked, so it can never be filled.
func (a *frameAPI) KeyValueEntryLock(h types.LockHandle) error {
	return a.sys.fail(a.entryWrite(h, nil, true))
}

func (a *frameAPI) entryWrite(h types.LockHandle, value []byte, lock bool) error {
	d, err := a.lockData(h, entryLock)
	if err != nil {
		return err
	}
	current, err := a.readEntry(h)
	if err != nil {
		return err
	}
	locked := current != nil && current.Locked
	if lock {
		if current != nil {
			value = current.Value
		}
	} else if !object.IsNull(value) {
		if err := object.Validate(value, d.schema, d.generics); err != nil {
			return err
		}
	}
	return a.sys.kernel.WriteSubstate(a.depth, h, object.EncodeEntry(value, locked || lock))
}

func (a *frameAPI) KeyValueEntryState(h types.LockHandle) (bool, bool, error) {
	if _, err := a.lockData(h, entryLock); err != nil {
		return false, false, a.sys.fail(err)
	}
	e, err := a.readEntry(h)
	if err != nil {
		return false, false, a.sys.fail(err)
	}
	if e == nil {
		return false, false, nil
	}
	return !e.IsEmpty(), e.Locked, nil
}

func (a *frameAPI) KeyValueEntryClose(h types.LockHandle) error {
	if _, err := a.lockData(h, entryLock); err != nil {
		return a.sys.fail(err)
	}
	delete(a.sys.locks, h)
	return a.sys.fail(a.sys.kernel.CloseSubstate(a.depth, h))
}

func (a *frameAPI) CallMethod(receiver types.NodeID, method string, args []byte) ([]byte, error) {
	out, err := a.callMethod(receiver, types.ModuleMain, method, args)
	return out, a.sys.fail(err)
}

// CallModuleMethod calls a method of a module attached to a global object.
func (a *frameAPI) CallModuleMethod(receiver types.NodeID, module types.ModuleID, method string, args []byte) ([]byte, error) {
	out, err := a.callMethod(receiver, module, method, args)
	return out, a.sys.fail(err)
}

func (a *frameAPI) callMethod(receiver types.NodeID, module types.ModuleID, method string, args []byte) ([]byte, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	info, err := a.sys.typeInfo(a.depth, receiver)
	if err != nil {
		return nil, err
	}
	bp := info.Blueprint
	if module != types.ModuleMain {
		if !info.Global || !info.HasModule(module) {
			return nil, core.NewSystemError(core.ErrModuleNotAttached, "%s on %s", module, receiver)
		}
		bp, _ = ModuleBlueprint(module)
	}
	def, pkg, err := a.sys.blueprint(a.depth, bp)
	if err != nil {
		return nil, err
	}
	fn, err := def.Function(method)
	if err != nil {
		return nil, err
	}
	if !fn.IsMethod() {
		return nil, core.NewSystemError(core.ErrFunctionNotFound, "%s::%s is not a method", bp, method)
	}

	actor := &Actor{
		Blueprint: bp,
		Ident:     method,
		Node:      &receiver,
		Module:    module,
		Info:      info,
		Def:       def,
	}
	var extra []types.NodeID
	if module == types.ModuleMain && info.OuterObject != nil {
		outer := *info.OuterObject
		actor.Outer = &outer
		extra = append(extra, outer.NodeID())
	}
	return a.sys.invoke(a.depth, actor, fn, pkg, args, extra)
}

func (a *frameAPI) CallFunction(blueprint core.BlueprintID, function string, args []byte) ([]byte, error) {
	out, err := a.callFunction(blueprint, function, args)
	return out, a.sys.fail(err)
}

func (a *frameAPI) callFunction(blueprint core.BlueprintID, function string, args []byte) ([]byte, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	def, pkg, err := a.sys.blueprint(a.depth, blueprint)
	if err != nil {
		return nil, err
	}
	fn, err := def.Function(function)
	if err != nil {
		return nil, err
	}
	if fn.IsMethod() {
		return nil, core.NewSystemError(core.ErrFunctionNotFound, "%s::%s is a method", blueprint, function)
	}
	actor := &Actor{Blueprint: blueprint, Ident: function, Def: def}
	return a.sys.invoke(a.depth, actor, fn, pkg, args, nil)
}

// ActorNodeID returns the node of the actor or of its outer object.
func (a *frameAPI) ActorNodeID(ref core.ActorRef) (types.NodeID, error) {
	if a.actor == nil {
		return types.NodeID{}, a.sys.fail(core.NewSystemError(core.ErrNoActorObject, "root frame"))
	}
	switch ref {
	case core.ActorSelf:
		if a.actor.Node == nil {
			return types.NodeID{}, a.sys.fail(core.NewSystemError(core.ErrNoActorObject, "%s::%s is a function", a.actor.Blueprint, a.actor.Ident))
		}
		return *a.actor.Node, nil
	case core.ActorOuter:
		if a.actor.Outer == nil {
			return types.NodeID{}, a.sys.fail(core.NewSystemError(core.ErrInvalidOuterObject, "%s has no outer object", a.actor.Blueprint))
		}
		return a.actor.Outer.NodeID(), nil
	default:
		return types.NodeID{}, a.sys.fail(core.NewSystemError(core.ErrInvalidHostCall, "unknown actor ref %d", ref))
	}
}

func (a *frameAPI) ActorBlueprint() core.BlueprintID {
	if a.actor == nil {
		return core.BlueprintID{}
	}
	return a.actor.Blueprint
}

func (a *frameAPI) AddReference(node types.NodeID) error {
	return a.sys.fail(a.sys.kernel.AddReference(a.depth, node))
}

// EmitEvent records an event for the receipt.
func (a *frameAPI) EmitEvent(name string, payload []byte) error {
	return a.sys.fail(a.emitEvent(name, payload))
}

func (a *frameAPI) emitEvent(name string, payload []byte) error {
	if err := a.check(); err != nil {
		return err
	}
	if name == "" {
		return core.NewSystemError(core.ErrInvalidHostCall, "event without name")
	}
	if len(payload) > 0 {
		if _, err := core.DecodeValue(payload); err != nil {
			return core.NewSystemError(core.ErrInvalidHostCall, "event %s: %v", name, err)
		}
	}
	if a.sys.maxEvents > 0 && len(a.sys.events) >= a.sys.maxEvents {
		return core.NewSystemError(core.ErrInvalidHostCall, "more than %d events", a.sys.maxEvents)
	}
	if err := a.sys.fees.Consume(a.sys.fees.Table().EmitEvent, costing.ReasonEmitEvent); err != nil {
		return err
	}
	ev := core.Event{Name: name, Payload: bytes.Clone(payload)}
	if a.actor != nil {
		ev.Emitter = a.actor.Blueprint
		if a.actor.Node != nil {
			node := *a.actor.Node
			ev.Node = &node
		}
	}
	a.sys.events = append(a.sys.events, ev)
	a.sys.logger.Info("Blueprint event", "emitter", ev.Emitter, "name", name, "payload", string(payload))
	return nil
}

func (a *frameAPI) ConsumeCost(units uint64, reason string) error {
	if err := a.check(); err != nil {
		return err
	}
	if reason == "" {
		reason = costing.ReasonBlueprint
	}
	return a.sys.fail(a.sys.fees.Consume(units, reason))
}
