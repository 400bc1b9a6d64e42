// Package security provides execution limits and call tracing
package security

import (
	"fmt"
	"time"
)

// Limits bounds the resources a single transaction may use
type Limits struct {
	MaxCallDepth    int `mapstructure:"max_call_depth" yaml:"max_call_depth"`
	MaxSubstateSize int `mapstructure:"max_substate_size" yaml:"max_substate_size"`
	MaxOpenLocks    int `mapstructure:"max_open_locks" yaml:"max_open_locks"`
	MaxEvents       int `mapstructure:"max_events" yaml:"max_events"`
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxCallDepth:    8,
		MaxSubstateSize: 1024 * 1024, // 1MB
		MaxOpenLocks:    256,
		MaxEvents:       256,
	}
}

// Validate checks that every limit is usable
func (l Limits) Validate() error {
	if l.MaxCallDepth <= 0 {
		return fmt.Errorf("invalid max call depth: %d", l.MaxCallDepth)
	}
	if l.MaxSubstateSize <= 0 {
		return fmt.Errorf("invalid max substate size: %d", l.MaxSubstateSize)
	}
	if l.MaxOpenLocks <= 0 {
		return fmt.Errorf("invalid max open locks: %d", l.MaxOpenLocks)
	}
	return nil
}

// TraceKind marks the beginning or end of a call
type TraceKind string

const (
	TraceBegin TraceKind = "begin"
	TraceEnd   TraceKind = "end"
)

// TraceEntry is one record of the execution trace
type TraceEntry struct {
	Kind     TraceKind     `json:"kind"`
	Depth    int           `json:"depth"`
	Actor    string        `json:"actor,omitempty"`
	Function string        `json:"function,omitempty"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed,omitempty"`
}

// CallTracer records the call chain of a transaction
type CallTracer struct {
	callStack []CallFrame
	entries   []TraceEntry
}

// CallFrame is one active call
type CallFrame struct {
	Actor     string
	Function  string
	StartTime time.Time
}

// NewCallTracer creates an empty tracer
func NewCallTracer() *CallTracer {
	return &CallTracer{
		callStack: make([]CallFrame, 0),
	}
}

// BeginCall records the start of a call. Safe on a nil tracer.
func (t *CallTracer) BeginCall(actor, function string) {
	if t == nil {
		return
	}
	t.callStack = append(t.callStack, CallFrame{
		Actor:     actor,
		Function:  function,
		StartTime: time.Now(),
	})
	t.entries = append(t.entries, TraceEntry{
		Kind:     TraceBegin,
		Depth:    len(t.callStack),
		Actor:    actor,
		Function: function,
	})
}

// EndCall records the end of the innermost call
func (t *CallTracer) EndCall(err error) {
	if t == nil || len(t.callStack) == 0 {
		return
	}
	frame := t.callStack[len(t.callStack)-1]
	entry := TraceEntry{
		Kind:     TraceEnd,
		Depth:    len(t.callStack),
		Actor:    frame.Actor,
		Function: frame.Function,
		Elapsed:  time.Since(frame.StartTime),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	t.entries = append(t.entries, entry)
	t.callStack = t.callStack[:len(t.callStack)-1]
}

// Depth returns the number of open calls
func (t *CallTracer) Depth() int {
	if t == nil {
		return 0
	}
	return len(t.callStack)
}

// Entries returns the recorded trace
func (t *CallTracer) Entries() []TraceEntry {
	if t == nil {
		return nil
	}
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}
