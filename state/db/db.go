// Package db implements the substate database on SQLite with GORM
package db

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/govm-net/kernel/state"
	"github.com/govm-net/kernel/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultDBPath = "./substates.db"
)

// DBSubstate represents one committed substate
type DBSubstate struct {
	gorm.Model
	Key       string `gorm:"column:substate_key;not null;uniqueIndex;size:600"`
	NodeID    string `gorm:"column:node_id;not null;index;size:60"`
	Partition uint8  `gorm:"column:partition_num;not null"`
	Value     []byte `gorm:"column:substate_value;type:blob;not null"`
}

// TableName specifies the table name for DBSubstate
func (DBSubstate) TableName() string {
	return "substates"
}

// DBCommit records every committed transaction batch
type DBCommit struct {
	gorm.Model
	Updates int `gorm:"column:updates;not null"`
	Deletes int `gorm:"column:deletes;not null"`
}

// TableName specifies the table name for DBCommit
func (DBCommit) TableName() string {
	return "commits"
}

// Database implements state.Database using SQLite with GORM
type Database struct {
	db *gorm.DB
}

func init() {
	state.Register(state.DBBackend, func(params map[string]any) (state.Database, error) {
		return New(params)
	})
}

// New opens (or creates) the database at params["db_path"]
func New(params map[string]any) (*Database, error) {
	if params == nil {
		params = make(map[string]any)
	}
	dbPath := defaultDBPath
	if path, ok := params["db_path"].(string); ok && path != "" {
		dbPath = path
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &Database{db: db}
	if err := d.initDB(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) initDB() error {
	if err := d.db.AutoMigrate(&DBSubstate{}, &DBCommit{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Get implements state.Database
func (d *Database) Get(addr types.SubstateAddress) ([]byte, bool, error) {
	var row DBSubstate
	result := d.db.Where("substate_key = ?", hex.EncodeToString(state.EncodeKey(addr))).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to get substate: %w", result.Error)
	}
	return row.Value, true, nil
}

// Commit implements state.Database
func (d *Database) Commit(updates *state.StateUpdates) error {
	if updates.Len() == 0 {
		return nil
	}
	commit := DBCommit{}
	err := d.db.Transaction(func(tx *gorm.DB) error {
		for _, u := range updates.Updates {
			key := hex.EncodeToString(u.Key)
			if u.Deleted {
				if err := tx.Unscoped().Where("substate_key = ?", key).Delete(&DBSubstate{}).Error; err != nil {
					return fmt.Errorf("failed to delete substate: %w", err)
				}
				commit.Deletes++
				continue
			}
			result := tx.Where("substate_key = ?", key).
				Assign(DBSubstate{Value: u.Value}).
				FirstOrCreate(&DBSubstate{
					Key:       key,
					NodeID:    u.Address.Node.String(),
					Partition: uint8(u.Address.Partition),
					Value:     u.Value,
				})
			if result.Error != nil {
				return fmt.Errorf("failed to update substate: %w", result.Error)
			}
			commit.Updates++
		}
		return tx.Create(&commit).Error
	})
	if err != nil {
		return err
	}
	slog.Debug("substates committed", "updates", commit.Updates, "deletes", commit.Deletes)
	return nil
}

// NodeSubstates returns the number of committed substates of a node
func (d *Database) NodeSubstates(node types.NodeID) (int64, error) {
	var count int64
	if err := d.db.Model(&DBSubstate{}).Where("node_id = ?", node.String()).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count substates: %w", err)
	}
	return count, nil
}

// Close implements state.Database
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
