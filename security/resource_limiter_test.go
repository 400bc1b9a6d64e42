package security

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Limits)
		wantErr bool
	}{
		{"defaults", func(*Limits) {}, false},
		{"zero call depth", func(l *Limits) { l.MaxCallDepth = 0 }, true},
		{"negative substate size", func(l *Limits) { l.MaxSubstateSize = -1 }, true},
		{"zero open locks", func(l *Limits) { l.MaxOpenLocks = 0 }, true},
		{"unlimited events", func(l *Limits) { l.MaxEvents = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLimits()
			tt.modify(&l)
			err := l.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCallTracer(t *testing.T) {
	tracer := NewCallTracer()

	tracer.BeginCall("processor", "run")
	tracer.BeginCall("account", "deposit")
	assert.Equal(t, 2, tracer.Depth())
	tracer.EndCall(errors.New("boom"))
	tracer.EndCall(nil)
	assert.Equal(t, 0, tracer.Depth())

	// unbalanced end is ignored
	tracer.EndCall(nil)

	entries := tracer.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, TraceBegin, entries[0].Kind)
	assert.Equal(t, 1, entries[0].Depth)
	assert.Equal(t, 2, entries[1].Depth)
	assert.Equal(t, TraceEnd, entries[2].Kind)
	assert.Equal(t, "deposit", entries[2].Function)
	assert.Equal(t, "boom", entries[2].Error)
	assert.Equal(t, "run", entries[3].Function)
	assert.Empty(t, entries[3].Error)
}

func TestNilCallTracer(t *testing.T) {
	var tracer *CallTracer
	tracer.BeginCall("a", "b")
	tracer.EndCall(nil)
	assert.Zero(t, tracer.Depth())
	assert.Nil(t, tracer.Entries())
}
