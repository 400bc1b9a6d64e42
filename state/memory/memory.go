// Package memory provides an in-process substate database
package memory

import (
	"sync"

	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/types"
)

func init() {
	state.Register(state.MemoryBackend, func(map[string]any) (state.Database, error) {
		return New(), nil
	})
}

// Database keeps committed substates in a map keyed by storage key
type Database struct {
	mu        sync.RWMutex
	substates map[string][]byte
	commits   int
}

// New creates an empty database.
func New() *Database {
	return &Database{substates: make(map[string][]byte)}
}

func (d *Database) Get(addr types.SubstateAddress) ([]byte, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.substates[string(state.EncodeKey(addr))]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (d *Database) Commit(updates *state.StateUpdates) error {
	if updates == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range updates.Updates {
		if u.Deleted {
			delete(d.substates, string(u.Key))
			continue
		}
		d.substates[string(u.Key)] = append([]byte(nil), u.Value...)
	}
	d.commits++
	return nil
}

// Len returns the number of stored substates
func (d *Database) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.substates)
}

// Commits returns how many transactions have been committed
func (d *Database) Commits() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.commits
}

func (d *Database) Close() error {
	return nil
}
