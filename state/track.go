package state

import (
	"fmt"

	"github.com/govm-net/kernel/types"
)

// ChangeKind is the kind of a change log record
type ChangeKind uint8

const (
	ChangeSet ChangeKind = iota + 1
	ChangeDelete
)

func (k ChangeKind) String() string {
	if k == ChangeDelete {
		return "delete"
	}
	return "set"
}

func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ChangeKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "set":
		*k = ChangeSet
	case "delete":
		*k = ChangeDelete
	default:
		return fmt.Errorf("invalid change kind %q", text)
	}
	return nil
}

// Change is one record of the ordered change log. Key is the storage
// encoding of Address, as in SubstateUpdate.
type Change struct {
	Kind    ChangeKind            `json:"kind"`
	Address types.SubstateAddress `json:"-"`
	Key     []byte                `json:"key"`
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

// Track is a copy-on-write overlay over a Database. It has no locking logic:
// the kernel's lock manager mediates every access.
type Track struct {
	base    Database
	overlay map[types.SubstateAddress]*overlayEntry
	log     []Change
}

// NewTrack creates an empty overlay over base.
func NewTrack(base Database) *Track {
	return &Track{
		base:    base,
		overlay: make(map[types.SubstateAddress]*overlayEntry),
	}
}

// Read returns the substate and whether it exists. A missing substate is
// reported with found=false, never as an error.
func (t *Track) Read(addr types.SubstateAddress) ([]byte, bool, error) {
	if e, ok := t.overlay[addr]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	v, found, err := t.base.Get(addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read substate %s: %w", addr, err)
	}
	return v, found, nil
}

// Write sets a substate in the overlay and logs the change.
func (t *Track) Write(addr types.SubstateAddress, value []byte) {
	cp := append([]byte(nil), value...)
	t.overlay[addr] = &overlayEntry{value: cp}
	t.log = append(t.log, Change{Kind: ChangeSet, Address: addr, Key: EncodeKey(addr)})
}

// Delete removes a substate in the overlay and logs the change.
func (t *Track) Delete(addr types.SubstateAddress) {
	t.overlay[addr] = &overlayEntry{deleted: true}
	t.log = append(t.log, Change{Kind: ChangeDelete, Address: addr, Key: EncodeKey(addr)})
}

// NodeExists reports whether the node has a type info substate.
func (t *Track) NodeExists(node types.NodeID) (bool, error) {
	_, found, err := t.Read(types.TypeInfoAddress(node))
	return found, err
}

// ChangeLog returns the ordered set/delete records.
func (t *Track) ChangeLog() []Change {
	out := make([]Change, len(t.log))
	copy(out, t.log)
	return out
}

// Finalize collapses the overlay into deterministic StateUpdates.
func (t *Track) Finalize() *StateUpdates {
	updates := make([]SubstateUpdate, 0, len(t.overlay))
	for addr, e := range t.overlay {
		updates = append(updates, SubstateUpdate{
			Address: addr,
			Key:     EncodeKey(addr),
			Value:   e.value,
			Deleted: e.deleted,
		})
	}
	sortUpdates(updates)
	return &StateUpdates{Updates: updates}
}
