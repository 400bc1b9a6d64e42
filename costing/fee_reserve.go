// Package costing charges execution events against a per-transaction fee reserve
package costing

import (
	"fmt"
	"sort"

	"github.com/govm-net/kernel/core"
)

// Reasons charged by the kernel and the system layer
const (
	ReasonInvoke        = "invoke"
	ReasonOpenSubstate  = "open_substate"
	ReasonReadSubstate  = "read_substate"
	ReasonWriteSubstate = "write_substate"
	ReasonCreateNode    = "create_node"
	ReasonDropNode      = "drop_node"
	ReasonEmitEvent     = "emit_event"
	ReasonHostCall      = "host_call"
	ReasonBlueprint     = "blueprint"
)

// CostTable lists the unit price of every kernel event
type CostTable struct {
	Invoke       uint64 `mapstructure:"invoke" yaml:"invoke"`
	OpenSubstate uint64 `mapstructure:"open_substate" yaml:"open_substate"`
	ReadPerByte  uint64 `mapstructure:"read_per_byte" yaml:"read_per_byte"`
	WritePerByte uint64 `mapstructure:"write_per_byte" yaml:"write_per_byte"`
	CreateNode   uint64 `mapstructure:"create_node" yaml:"create_node"`
	DropNode     uint64 `mapstructure:"drop_node" yaml:"drop_node"`
	EmitEvent    uint64 `mapstructure:"emit_event" yaml:"emit_event"`
	HostCall     uint64 `mapstructure:"host_call" yaml:"host_call"`
}

// DefaultCostTable returns the default prices
func DefaultCostTable() CostTable {
	return CostTable{
		Invoke:       500,
		OpenSubstate: 50,
		ReadPerByte:  1,
		WritePerByte: 4,
		CreateNode:   300,
		DropNode:     100,
		EmitEvent:    100,
		HostCall:     10,
	}
}

// FeeReserve tracks consumption against a limit. It is owned by a single
// transaction and is not safe for concurrent use.
type FeeReserve struct {
	table     CostTable
	limit     uint64
	consumed  uint64
	breakdown map[string]uint64
}

// NewFeeReserve creates a reserve with the given limit
func NewFeeReserve(limit uint64, table CostTable) *FeeReserve {
	return &FeeReserve{
		table:     table,
		limit:     limit,
		breakdown: make(map[string]uint64),
	}
}

// Table returns the prices; a nil reserve charges nothing.
func (f *FeeReserve) Table() CostTable {
	if f == nil {
		return CostTable{}
	}
	return f.table
}

// Consume charges units. Exhaustion returns a CostingError and leaves the
// reserve unchanged.
func (f *FeeReserve) Consume(units uint64, reason string) error {
	if f == nil || units == 0 {
		return nil
	}
	if f.limit-f.consumed < units {
		return core.NewCostingError("%s needs %d units, %d remaining", reason, units, f.limit-f.consumed)
	}
	f.consumed += units
	f.breakdown[reason] += units
	return nil
}

// Refund returns units previously consumed for reason
func (f *FeeReserve) Refund(units uint64, reason string) error {
	if f == nil || units == 0 {
		return nil
	}
	if f.breakdown[reason] < units {
		return fmt.Errorf("invalid refund: consumed=%d, refund=%d", f.breakdown[reason], units)
	}
	f.consumed -= units
	f.breakdown[reason] -= units
	return nil
}

// Consumed returns the total consumed units
func (f *FeeReserve) Consumed() uint64 {
	if f == nil {
		return 0
	}
	return f.consumed
}

// Remaining returns the units left
func (f *FeeReserve) Remaining() uint64 {
	if f == nil {
		return 0
	}
	return f.limit - f.consumed
}

// Breakdown returns the consumption per reason, sorted by reason
func (f *FeeReserve) Breakdown() []Entry {
	if f == nil {
		return nil
	}
	out := make([]Entry, 0, len(f.breakdown))
	for reason, units := range f.breakdown {
		if units > 0 {
			out = append(out, Entry{Reason: reason, Units: units})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}

// Entry is one line of the consumption breakdown
type Entry struct {
	Reason string `json:"reason"`
	Units  uint64 `json:"units"`
}
