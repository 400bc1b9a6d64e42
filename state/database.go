// Package state provides the substate store: pluggable base databases and the
// copy-on-write Track a transaction executes against.
package state

import (
	"bytes"
	"sort"

	"github.com/govm-net/kernel/types"
)

// Database is an immutable snapshot of committed substates. Writes only
// happen through Commit.
type Database interface {
	// Get returns the substate value and whether it exists
	Get(addr types.SubstateAddress) ([]byte, bool, error)
	// Commit applies the updates of one transaction atomically
	Commit(updates *StateUpdates) error
	// Close releases the underlying resources
	Close() error
}

// SubstateUpdate is one entry of StateUpdates. Value is nil for deletions.
type SubstateUpdate struct {
	Address types.SubstateAddress `json:"-"`
	Key     []byte                `json:"key"`
	Value   []byte                `json:"value,omitempty"`
	Deleted bool                  `json:"deleted,omitempty"`
}

// StateUpdates is the net effect of a transaction, sorted by storage key.
type StateUpdates struct {
	Updates []SubstateUpdate `json:"updates"`
}

// Len returns the number of updates; zero for nil.
func (u *StateUpdates) Len() int {
	if u == nil {
		return 0
	}
	return len(u.Updates)
}

// Nodes returns the distinct nodes touched by the updates.
func (u *StateUpdates) Nodes() []types.NodeID {
	if u == nil {
		return nil
	}
	seen := make(map[types.NodeID]struct{})
	var nodes []types.NodeID
	for _, up := range u.Updates {
		if _, ok := seen[up.Address.Node]; ok {
			continue
		}
		seen[up.Address.Node] = struct{}{}
		nodes = append(nodes, up.Address.Node)
	}
	return nodes
}

func sortUpdates(updates []SubstateUpdate) {
	sort.Slice(updates, func(i, j int) bool {
		return bytes.Compare(updates[i].Key, updates[j].Key) < 0
	})
}
