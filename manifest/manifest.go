// Package manifest reads transaction manifests written in YAML and turns
// them into the instructions of the transaction processor.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/govm-net/kernel/blueprints/processor"
	"github.com/govm-net/kernel/types"
	"gopkg.in/yaml.v3"
)

// FunctionCall is a call_function step as written in a manifest. Package is
// a well known package name or a package address.
type FunctionCall struct {
	Package   string `yaml:"package"`
	Blueprint string `yaml:"blueprint"`
	Function  string `yaml:"function"`
	Args      any    `yaml:"args,omitempty"`
}

// MethodCall is a call_method step. Receiver is an address or "$name".
type MethodCall struct {
	Receiver string `yaml:"receiver"`
	Module   string `yaml:"module,omitempty"`
	Method   string `yaml:"method"`
	Args     any    `yaml:"args,omitempty"`
}

type Instruction struct {
	CallFunction *FunctionCall `yaml:"call_function,omitempty"`
	CallMethod   *MethodCall   `yaml:"call_method,omitempty"`
	Bind         string        `yaml:"bind,omitempty"`
}

// Manifest is a parsed transaction manifest.
type Manifest struct {
	FeeLimit     uint64        `yaml:"fee_limit,omitempty"`
	Instructions []Instruction `yaml:"instructions"`
}

// Load reads a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a manifest and checks that every instruction is well formed.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(m.Instructions) == 0 {
		return nil, fmt.Errorf("manifest has no instructions")
	}
	if _, err := m.Compile(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Compile converts the manifest into the arguments of the processor's run
// function.
func (m *Manifest) Compile() (*processor.RunArgs, error) {
	out := &processor.RunArgs{Instructions: make([]processor.Instruction, 0, len(m.Instructions))}
	bound := make(map[string]struct{})
	for i, ins := range m.Instructions {
		compiled, err := compile(ins, bound)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		if ins.Bind != "" {
			if _, dup := bound[ins.Bind]; dup {
				return nil, fmt.Errorf("instruction %d: %q bound twice", i, ins.Bind)
			}
			bound[ins.Bind] = struct{}{}
		}
		out.Instructions = append(out.Instructions, *compiled)
	}
	return out, nil
}

func compile(ins Instruction, bound map[string]struct{}) (*processor.Instruction, error) {
	out := &processor.Instruction{Bind: ins.Bind}
	switch {
	case ins.CallFunction != nil && ins.CallMethod == nil:
		c := ins.CallFunction
		pkg, err := types.ResolvePackage(c.Package)
		if err != nil {
			return nil, err
		}
		if c.Blueprint == "" || c.Function == "" {
			return nil, fmt.Errorf("call_function needs blueprint and function")
		}
		args, err := encodeArgs(c.Args)
		if err != nil {
			return nil, err
		}
		out.CallFunction = &processor.FunctionCall{Package: pkg, Blueprint: c.Blueprint, Function: c.Function, Args: args}
	case ins.CallMethod != nil && ins.CallFunction == nil:
		c := ins.CallMethod
		if err := checkReceiver(c.Receiver, bound); err != nil {
			return nil, err
		}
		module, err := parseModule(c.Module)
		if err != nil {
			return nil, err
		}
		if c.Method == "" {
			return nil, fmt.Errorf("call_method needs a method")
		}
		args, err := encodeArgs(c.Args)
		if err != nil {
			return nil, err
		}
		out.CallMethod = &processor.MethodCall{Receiver: c.Receiver, Module: module, Method: c.Method, Args: args}
	default:
		return nil, fmt.Errorf("exactly one of call_function and call_method is required")
	}
	return out, nil
}

func checkReceiver(receiver string, bound map[string]struct{}) error {
	if name, ok := strings.CutPrefix(receiver, "$"); ok {
		if _, ok := bound[name]; !ok {
			return fmt.Errorf("receiver %s is not bound by an earlier instruction", receiver)
		}
		return nil
	}
	if _, err := types.ParseGlobalAddress(receiver); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	return nil
}

func parseModule(name string) (types.ModuleID, error) {
	switch name {
	case "", types.ModuleMain.String():
		return types.ModuleMain, nil
	case types.ModuleMetadata.String():
		return types.ModuleMetadata, nil
	default:
		return 0, fmt.Errorf("unknown module %q", name)
	}
}

// encodeArgs converts YAML arguments to the JSON value encoding.
func encodeArgs(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(norm)
	if err != nil {
		return nil, fmt.Errorf("encoding args: %w", err)
	}
	return raw, nil
}

// normalize rewrites maps with non-string keys, which JSON cannot encode.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("argument key %v is not a string", k)
			}
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []any:
		for i, child := range t {
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
