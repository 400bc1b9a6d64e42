package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/govm-net/kernel/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no receipt matches.
var ErrNotFound = errors.New("receipt not found")

// DBReceipt represents a stored receipt
type DBReceipt struct {
	gorm.Model
	ReceiptID   string `gorm:"column:receipt_id;not null;uniqueIndex;size:36"`
	TxHash      string `gorm:"column:tx_hash;not null;index;size:64"`
	Outcome     string `gorm:"column:outcome;not null;index;size:16"`
	ErrorClass  string `gorm:"column:error_class;size:32"`
	FeeConsumed uint64 `gorm:"column:fee_consumed;not null"`
	Body        []byte `gorm:"column:body;type:blob;not null"` // JSON encoded receipt
}

// TableName specifies the table name for DBReceipt
func (DBReceipt) TableName() string {
	return "receipts"
}

// DBEvent represents an event of a successful transaction
type DBEvent struct {
	gorm.Model
	TxHash    string `gorm:"column:tx_hash;not null;index;size:64"`
	Emitter   string `gorm:"column:emitter;not null;index;size:255"`
	Node      string `gorm:"column:node_id;index;size:60"`
	EventName string `gorm:"column:event_name;not null;index;size:255"`
	Payload   []byte `gorm:"column:payload;type:blob"`
}

// TableName specifies the table name for DBEvent
func (DBEvent) TableName() string {
	return "events"
}

// Store persists receipts in SQLite
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the receipt database at path
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create receipt directory: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt database: %w", err)
	}
	if err := db.AutoMigrate(&DBReceipt{}, &DBEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate receipt database: %w", err)
	}
	return &Store{db: db}, nil
}

// Save stores a receipt and, for successful transactions, its events
func (s *Store) Save(r *TransactionReceipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		row := &DBReceipt{
			ReceiptID:   r.ID.String(),
			TxHash:      r.TxHash.String(),
			Outcome:     string(r.Outcome),
			ErrorClass:  string(r.ErrorClass),
			FeeConsumed: r.FeeConsumed,
			Body:        body,
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("failed to save receipt: %w", err)
		}
		if !r.Succeeded() {
			return nil
		}
		for _, ev := range r.Events {
			dbEvent := &DBEvent{
				TxHash:    r.TxHash.String(),
				Emitter:   ev.Emitter.String(),
				EventName: ev.Name,
				Payload:   ev.Payload,
			}
			if ev.Node != nil {
				dbEvent.Node = ev.Node.String()
			}
			if err := tx.Create(dbEvent).Error; err != nil {
				return fmt.Errorf("failed to save event: %w", err)
			}
		}
		return nil
	})
}

// Get returns a receipt by id
func (s *Store) Get(id uuid.UUID) (*TransactionReceipt, error) {
	var row DBReceipt
	if err := s.db.Where("receipt_id = ?", id.String()).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load receipt: %w", err)
	}
	return decode(&row)
}

// ByTxHash returns the latest receipt of a transaction
func (s *Store) ByTxHash(hash types.Hash) (*TransactionReceipt, error) {
	var row DBReceipt
	err := s.db.Where("tx_hash = ?", hash.String()).Order("id desc").First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: tx %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("failed to load receipt: %w", err)
	}
	return decode(&row)
}

// Events returns the stored events with the given name, oldest first
func (s *Store) Events(name string) ([]DBEvent, error) {
	var events []DBEvent
	if err := s.db.Where("event_name = ?", name).Order("id").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return events, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decode(row *DBReceipt) (*TransactionReceipt, error) {
	var r TransactionReceipt
	if err := json.Unmarshal(row.Body, &r); err != nil {
		return nil, fmt.Errorf("failed to decode receipt %s: %w", row.ReceiptID, err)
	}
	return &r, nil
}
