// Package processor implements the TransactionProcessor blueprint. Its run
// function executes the instructions of a manifest in order inside a single
// frame, so every bucket a transaction produces must end up somewhere before
// run returns.
package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/govm-net/kernel/blueprints"
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/types"
)

// Blueprint is the processor blueprint name.
const Blueprint = "TransactionProcessor"

// Placeholder markers that may appear in instruction arguments.
const (
	BucketPlaceholder  = "$bucket"
	AddressPlaceholder = "$address"
)

var (
	ErrUnknownBinding     = errors.New("unknown binding")
	ErrBucketConsumed     = errors.New("bucket already consumed")
	ErrAmbiguousValue     = errors.New("binding does not hold exactly one node")
	ErrInvalidInstruction = errors.New("invalid instruction")
)

// FunctionCall calls a blueprint function.
type FunctionCall struct {
	Package   types.GlobalAddress `json:"package"`
	Blueprint string              `json:"blueprint"`
	Function  string              `json:"function"`
	Args      json.RawMessage     `json:"args,omitempty"`
}

// MethodCall calls a method of an object. Receiver is either an address or
// "$name" for an earlier binding.
type MethodCall struct {
	Receiver string          `json:"receiver"`
	Module   types.ModuleID  `json:"module,omitempty"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// Instruction is one step of a transaction. Exactly one of CallFunction and
// CallMethod is set. The output is kept under Bind when it is not empty.
type Instruction struct {
	CallFunction *FunctionCall `json:"call_function,omitempty"`
	CallMethod   *MethodCall   `json:"call_method,omitempty"`
	Bind         string        `json:"bind,omitempty"`
}

// RunArgs is the input of run.
type RunArgs struct {
	Instructions []Instruction `json:"instructions"`
}

func init() {
	blueprints.MustRegister(Package())
}

// Definition returns the processor package definition.
func Definition() *object.PackageDefinition {
	anyType := types.Scalar(types.KindAny)
	input := types.StructOf(types.Field("instructions", types.ArrayOf(anyType)))
	output := types.ArrayOf(anyType)
	return &object.PackageDefinition{Blueprints: map[string]*object.BlueprintDefinition{
		Blueprint: {
			Functions: []object.FunctionSchema{
				{Ident: "run", Input: &input, Output: &output},
			},
		},
	}}
}

// Package returns the native processor package.
func Package() *object.NativePackage {
	return &object.NativePackage{
		Address:    types.TransactionProcessorPackage,
		Definition: Definition(),
		Functions: map[string]map[string]core.NativeFunction{
			Blueprint: {"run": run},
		},
	}
}

type binding struct {
	owned []types.NodeID
	refs  []types.NodeID
}

type processor struct {
	api      core.SystemAPI
	bindings map[string]*binding
	consumed map[types.NodeID]struct{}
}

func run(api core.SystemAPI, _ *types.NodeID, args []byte) ([]byte, error) {
	var in RunArgs
	if err := blueprints.Decode(args, &in); err != nil {
		return nil, err
	}
	p := &processor{
		api:      api,
		bindings: make(map[string]*binding),
		consumed: make(map[types.NodeID]struct{}),
	}
	outputs := make([]any, 0, len(in.Instructions))
	for i := range in.Instructions {
		out, err := p.execute(&in.Instructions[i])
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		outputs = append(outputs, out)
	}
	return blueprints.Encode(outputs)
}

func (p *processor) execute(ins *Instruction) (any, error) {
	var raw []byte
	var err error
	switch {
	case ins.CallFunction != nil && ins.CallMethod == nil:
		raw, err = p.callFunction(ins.CallFunction)
	case ins.CallMethod != nil && ins.CallFunction == nil:
		raw, err = p.callMethod(ins.CallMethod)
	default:
		return nil, core.NewSchemaError(ErrInvalidInstruction, "exactly one call per instruction")
	}
	if err != nil {
		return nil, err
	}

	var value any
	if len(raw) > 0 {
		if value, err = core.DecodeValue(raw); err != nil {
			return nil, core.NewSchemaError(core.ErrSchemaMismatch, "output: %v", err)
		}
	}
	if ins.Bind != "" {
		if _, exists := p.bindings[ins.Bind]; exists {
			return nil, core.NewSchemaError(ErrInvalidInstruction, "%q bound twice", ins.Bind)
		}
		idx, err := core.IndexValue(orNull(raw))
		if err != nil {
			return nil, core.NewSchemaError(core.ErrSchemaMismatch, "output: %v", err)
		}
		p.bindings[ins.Bind] = &binding{owned: idx.Owned, refs: idx.References}
	}
	return detach(value), nil
}

func (p *processor) callFunction(c *FunctionCall) ([]byte, error) {
	args, err := p.resolve(c.Args)
	if err != nil {
		return nil, err
	}
	bp := core.BlueprintID{Package: c.Package, Blueprint: c.Blueprint}
	return p.api.CallFunction(bp, c.Function, args)
}

func (p *processor) callMethod(c *MethodCall) ([]byte, error) {
	receiver, err := p.receiver(c.Receiver)
	if err != nil {
		return nil, err
	}
	args, err := p.resolve(c.Args)
	if err != nil {
		return nil, err
	}
	if c.Module != types.ModuleMain {
		return p.api.CallModuleMethod(receiver, c.Module, c.Method, args)
	}
	return p.api.CallMethod(receiver, c.Method, args)
}

// receiver resolves a method receiver. A binding names its only reference,
// or else its only owned node, which the call borrows.
func (p *processor) receiver(s string) (types.NodeID, error) {
	if name, ok := strings.CutPrefix(s, "$"); ok {
		b, err := p.lookup(name)
		if err != nil {
			return types.NodeID{}, err
		}
		switch {
		case len(b.refs) == 1:
			return b.refs[0], nil
		case len(b.owned) == 1:
			return p.unconsumed(b.owned[0], name)
		default:
			return types.NodeID{}, core.NewSchemaError(ErrAmbiguousValue, "receiver %s", s)
		}
	}
	addr, err := types.ParseGlobalAddress(s)
	if err != nil {
		return types.NodeID{}, core.NewSchemaError(ErrInvalidInstruction, "receiver %q: %v", s, err)
	}
	node := addr.NodeID()
	if err := p.api.AddReference(node); err != nil {
		return types.NodeID{}, err
	}
	return node, nil
}

func (p *processor) lookup(name string) (*binding, error) {
	b, ok := p.bindings[name]
	if !ok {
		return nil, core.NewSchemaError(ErrUnknownBinding, "%q", name)
	}
	return b, nil
}

func (p *processor) unconsumed(node types.NodeID, name string) (types.NodeID, error) {
	if _, ok := p.consumed[node]; ok {
		return types.NodeID{}, core.NewSchemaError(ErrBucketConsumed, "%q", name)
	}
	return node, nil
}

// resolve replaces placeholders in args and makes every referenced global
// node visible to the frame.
func (p *processor) resolve(args json.RawMessage) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	v, err := core.DecodeValue(args)
	if err != nil {
		return nil, core.NewSchemaError(core.ErrSchemaMismatch, "args: %v", err)
	}
	v, err = p.substitute(v)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, core.NewSchemaError(core.ErrSchemaMismatch, "args: %v", err)
	}
	idx, err := core.IndexValue(raw)
	if err != nil {
		return nil, core.NewSchemaError(core.ErrSchemaMismatch, "args: %v", err)
	}
	for _, ref := range idx.References {
		if err := p.api.AddReference(ref); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func (p *processor) substitute(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if name, ok := placeholder(t, BucketPlaceholder); ok {
			b, err := p.lookup(name)
			if err != nil {
				return nil, err
			}
			if len(b.owned) != 1 {
				return nil, core.NewSchemaError(ErrAmbiguousValue, "%s %q", BucketPlaceholder, name)
			}
			node, err := p.unconsumed(b.owned[0], name)
			if err != nil {
				return nil, err
			}
			p.consumed[node] = struct{}{}
			return core.Own{ID: node}, nil
		}
		if name, ok := placeholder(t, AddressPlaceholder); ok {
			b, err := p.lookup(name)
			if err != nil {
				return nil, err
			}
			if len(b.refs) != 1 {
				return nil, core.NewSchemaError(ErrAmbiguousValue, "%s %q", AddressPlaceholder, name)
			}
			return core.Reference{ID: b.refs[0]}, nil
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sub, err := p.substitute(t[k])
			if err != nil {
				return nil, err
			}
			t[k] = sub
		}
		return t, nil
	case []any:
		for i := range t {
			sub, err := p.substitute(t[i])
			if err != nil {
				return nil, err
			}
			t[i] = sub
		}
		return t, nil
	default:
		return v, nil
	}
}

func placeholder(m map[string]any, marker string) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	name, ok := m[marker].(string)
	return name, ok
}

// detach rewrites owned markers to plain node ids so outputs handed back to
// the caller carry no ownership.
func detach(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if id, ok, err := core.IsOwnMarker(t); err == nil && ok {
			return id.String()
		}
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = detach(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = detach(child)
		}
		return out
	default:
		return v
	}
}

func orNull(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
