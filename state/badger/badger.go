// Package badger implements the substate database on BadgerDB
package badger

import (
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/types"
)

const defaultDir = "./badger"

func init() {
	state.Register(state.BadgerBackend, func(params map[string]any) (state.Database, error) {
		return New(params)
	})
}

// Database implements state.Database on top of a BadgerDB instance
type Database struct {
	db *badgerdb.DB
}

// New opens BadgerDB at params["db_path"]. params["in_memory"]=true keeps
// everything in memory.
func New(params map[string]any) (*Database, error) {
	var opts badgerdb.Options
	if inMemory, _ := params["in_memory"].(bool); inMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		dir := defaultDir
		if path, ok := params["db_path"].(string); ok && path != "" {
			dir = path
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badgerdb.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Database{db: db}, nil
}

// Get implements state.Database
func (d *Database) Get(addr types.SubstateAddress) ([]byte, bool, error) {
	var value []byte
	found := false
	err := d.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(state.EncodeKey(addr))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("badger get failed: %w", err)
	}
	return value, found, nil
}

// Commit implements state.Database. All updates go through one transaction.
func (d *Database) Commit(updates *state.StateUpdates) error {
	if updates.Len() == 0 {
		return nil
	}
	err := d.db.Update(func(txn *badgerdb.Txn) error {
		for _, u := range updates.Updates {
			if u.Deleted {
				if err := txn.Delete(u.Key); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set(u.Key, u.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger commit failed: %w", err)
	}
	return nil
}

// CountPrefix counts the keys under prefix, e.g. state.NodePrefix(node)
func (d *Database) CountPrefix(prefix []byte) (int, error) {
	count := 0
	err := d.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close implements state.Database
func (d *Database) Close() error {
	return d.db.Close()
}
