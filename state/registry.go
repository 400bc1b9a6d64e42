package state

import (
	"fmt"
	"sort"
	"sync"
)

// BackendType names a substate database implementation
type BackendType string

const (
	// MemoryBackend keeps substates in process memory
	MemoryBackend BackendType = "memory"
	// DBBackend stores substates in SQLite through GORM
	DBBackend BackendType = "db"
	// BadgerBackend stores substates in BadgerDB
	BadgerBackend BackendType = "badger"
)

// Constructor creates a new Database instance from backend specific parameters
type Constructor func(params map[string]any) (Database, error)

// Registry manages the available Database implementations
type Registry interface {
	// Register adds a new backend to the registry
	Register(bt BackendType, constructor Constructor) error
	// SetDefault sets the default backend
	SetDefault(bt BackendType) error
	// Open returns a new instance of the specified backend
	Open(bt BackendType, params map[string]any) (Database, error)
	// DefaultBackend returns the current default backend
	DefaultBackend() BackendType
	// ListRegistered returns all registered backends, sorted
	ListRegistered() []BackendType
}

type registry struct {
	mu        sync.RWMutex
	backends  map[BackendType]Constructor
	defaultBt BackendType
}

var defaultRegistry Registry

func init() {
	defaultRegistry = &registry{
		backends: make(map[BackendType]Constructor),
	}
}

// GetRegistry returns the global Registry instance
func GetRegistry() Registry {
	return defaultRegistry
}

func (r *registry) Register(bt BackendType, constructor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[bt]; exists {
		return fmt.Errorf("backend %s already registered", bt)
	}
	r.backends[bt] = constructor
	return nil
}

func (r *registry) SetDefault(bt BackendType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[bt]; !exists {
		return fmt.Errorf("backend %s not registered", bt)
	}
	r.defaultBt = bt
	return nil
}

func (r *registry) Open(bt BackendType, params map[string]any) (Database, error) {
	r.mu.RLock()
	constructor, exists := r.backends[bt]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("backend %s not found", bt)
	}
	db, err := constructor(params)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", bt, err)
	}
	return db, nil
}

func (r *registry) DefaultBackend() BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultBt == "" {
		return MemoryBackend
	}
	return r.defaultBt
}

func (r *registry) ListRegistered() []BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]BackendType, 0, len(r.backends))
	for bt := range r.backends {
		list = append(list, bt)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// Package level functions that delegate to defaultRegistry

// Register adds a new backend to the registry
func Register(bt BackendType, constructor Constructor) error {
	return GetRegistry().Register(bt, constructor)
}

// SetDefault sets the default backend
func SetDefault(bt BackendType) error {
	return GetRegistry().SetDefault(bt)
}

// Open returns a new database of the given backend, or of the default one
// when bt is empty
func Open(bt BackendType, params map[string]any) (Database, error) {
	if bt == "" {
		bt = GetRegistry().DefaultBackend()
	}
	return GetRegistry().Open(bt, params)
}

// ListRegistered returns all registered backends
func ListRegistered() []BackendType {
	return GetRegistry().ListRegistered()
}
