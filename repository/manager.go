// Package repository keeps local copies of WASM package bundles: the code,
// its blueprint definition and where it was published.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/govm-net/kernel/blueprints/packages"
	"github.com/govm-net/kernel/object"
	"github.com/govm-net/kernel/types"
	"gopkg.in/yaml.v3"
)

const (
	codeFile       = "code.wasm"
	definitionFile = "definition.yaml"
	metadataFile   = "metadata.json"
)

var (
	ErrBundleExists   = errors.New("bundle already exists")
	ErrBundleNotFound = errors.New("bundle not found")
)

// Manager stores bundles under rootDir, one directory per code hash
type Manager struct {
	rootDir string
}

// Bundle is a package ready to publish, or already published
type Bundle struct {
	Hash       types.Hash
	Code       []byte
	Definition *object.PackageDefinition
	Address    *types.GlobalAddress // set once published
	UpdateTime time.Time
}

// BundleMetadata is the metadata.json of a bundle
type BundleMetadata struct {
	Hash       string    `json:"hash"`
	Blueprints []string  `json:"blueprints"`
	Address    string    `json:"address,omitempty"`
	UpdateTime time.Time `json:"update_time"`
}

// NewManager creates a bundle manager
func NewManager(rootDir string) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		slog.Error("failed to create root directory", "dir", rootDir, "error", err)
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &Manager{rootDir: rootDir}, nil
}

// Register validates def and stores a new bundle
func (m *Manager) Register(def *object.PackageDefinition, code []byte) (*Bundle, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	hash := packages.CodeHash(code)
	dir := m.bundleDir(hash)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrBundleExists, hash)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to check bundle directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}
	bundle := &Bundle{
		Hash:       hash,
		Code:       code,
		Definition: def,
		UpdateTime: time.Now(),
	}
	if err := m.saveBundle(bundle, true); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to save bundle files: %w", err)
	}
	slog.Info("Bundle registered", "hash", hash, "blueprints", def.Names())
	return bundle, nil
}

// SetAddress records the address a bundle was published at
func (m *Manager) SetAddress(hash types.Hash, addr types.GlobalAddress) error {
	bundle, err := m.Get(hash)
	if err != nil {
		return err
	}
	bundle.Address = &addr
	bundle.UpdateTime = time.Now()
	return m.saveBundle(bundle, false)
}

// Get loads a bundle
func (m *Manager) Get(hash types.Hash) (*Bundle, error) {
	dir := m.bundleDir(hash)
	code, err := os.ReadFile(filepath.Join(dir, codeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, hash)
		}
		return nil, fmt.Errorf("failed to read code: %w", err)
	}
	defData, err := os.ReadFile(filepath.Join(dir, definitionFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	def, err := object.ParseDefinition(defData)
	if err != nil {
		return nil, err
	}
	metadata, err := m.readMetadata(hash)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Hash:       hash,
		Code:       code,
		Definition: def,
		UpdateTime: metadata.UpdateTime,
	}
	if packages.CodeHash(code) != hash {
		return nil, fmt.Errorf("code of bundle %s does not match its hash", hash)
	}
	if metadata.Address != "" {
		addr, err := types.ParseGlobalAddress(metadata.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid address in metadata: %w", err)
		}
		bundle.Address = &addr
	}
	return bundle, nil
}

// List returns the hashes of the stored bundles
func (m *Manager) List() ([]types.Hash, error) {
	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read root directory: %w", err)
	}
	var hashes []types.Hash
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var h types.Hash
		if err := h.UnmarshalText([]byte(entry.Name())); err != nil {
			continue
		}
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].String() < hashes[j].String()
	})
	return hashes, nil
}

func (m *Manager) bundleDir(hash types.Hash) string {
	return filepath.Join(m.rootDir, hash.String())
}

func (m *Manager) saveBundle(b *Bundle, withCode bool) error {
	dir := m.bundleDir(b.Hash)
	if withCode {
		if err := os.WriteFile(filepath.Join(dir, codeFile), b.Code, 0644); err != nil {
			return fmt.Errorf("failed to save code: %w", err)
		}
		defData, err := yaml.Marshal(b.Definition)
		if err != nil {
			return fmt.Errorf("failed to marshal definition: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, definitionFile), defData, 0644); err != nil {
			return fmt.Errorf("failed to save definition: %w", err)
		}
	}

	metadata := BundleMetadata{
		Hash:       b.Hash.String(),
		Blueprints: b.Definition.Names(),
		UpdateTime: b.UpdateTime,
	}
	if b.Address != nil {
		metadata.Address = b.Address.String()
	}
	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), metadataBytes, 0644); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (m *Manager) readMetadata(hash types.Hash) (*BundleMetadata, error) {
	data, err := os.ReadFile(filepath.Join(m.bundleDir(hash), metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var metadata BundleMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &metadata, nil
}
