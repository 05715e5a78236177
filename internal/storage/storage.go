// Package storage persists strategies, instruments, trading accounts, and
// execution records in PostgreSQL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"straddlebot/internal/models"
)

// GormStorage implements Interface on a PostgreSQL connection. gorm's
// connection pool makes every method safe for concurrent use.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage opens a PostgreSQL connection and migrates the execution
// audit table. Strategy, instrument, and trading account tables are owned by
// the external CRUD layer and are never migrated here.
func NewGormStorage(dsn string) (*GormStorage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if err := db.AutoMigrate(&models.ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("migrating execution table: %w", err)
	}

	return &GormStorage{db: db}, nil
}

// NewGormStorageWithDB wraps an existing gorm connection (tests).
func NewGormStorageWithDB(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// ListStrategies returns every configured strategy, active or not.
func (s *GormStorage) ListStrategies(ctx context.Context) ([]models.Strategy, error) {
	var strategies []models.Strategy
	if err := s.db.WithContext(ctx).Order("id").Find(&strategies).Error; err != nil {
		return nil, fmt.Errorf("listing strategies: %w", err)
	}
	return strategies, nil
}

// GetStrategy returns the strategy with the given ID, or ErrStrategyNotFound.
func (s *GormStorage) GetStrategy(ctx context.Context, id int64) (*models.Strategy, error) {
	var strategy models.Strategy
	err := s.db.WithContext(ctx).First(&strategy, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("strategy %d: %w", id, ErrStrategyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading strategy %d: %w", id, err)
	}
	return &strategy, nil
}

// FindWeeklyOptionInstruments returns unexpired option contracts for an
// index ordered by expiry ascending, so the first distinct expiry is the
// current week and the second is the next.
func (s *GormStorage) FindWeeklyOptionInstruments(ctx context.Context, segment, indexName string) ([]models.Instrument, error) {
	var instruments []models.Instrument
	err := s.db.WithContext(ctx).
		Where("segment = ? AND index_name = ? AND instrument_type IN ? AND expiry >= ?",
			segment, indexName, []models.InstrumentType{models.TypeCall, models.TypePut}, startOfToday()).
		Order("expiry, strike").
		Find(&instruments).Error
	if err != nil {
		return nil, fmt.Errorf("listing weekly options for %s/%s: %w", segment, indexName, err)
	}
	return instruments, nil
}

// FindNearestFuture returns the unexpired future with the nearest expiry, or
// ErrNoInstruments when the index has no futures.
func (s *GormStorage) FindNearestFuture(ctx context.Context, segment, indexName string) (*models.Instrument, error) {
	var instrument models.Instrument
	err := s.db.WithContext(ctx).
		Where("segment = ? AND index_name = ? AND instrument_type = ? AND expiry >= ?",
			segment, indexName, models.TypeFuture, startOfToday()).
		Order("expiry").
		First(&instrument).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("future for %s/%s: %w", segment, indexName, ErrNoInstruments)
	}
	if err != nil {
		return nil, fmt.Errorf("loading future for %s/%s: %w", segment, indexName, err)
	}
	return &instrument, nil
}

// GetTradingAccount returns the broker credentials for a user, or
// ErrAccountNotFound.
func (s *GormStorage) GetTradingAccount(ctx context.Context, userID string) (*models.TradingAccount, error) {
	var account models.TradingAccount
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account for %s: %w", userID, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account for %s: %w", userID, err)
	}
	return &account, nil
}

// SaveExecutionRecord inserts or updates an execution record. The engine
// saves the same record at creation, after entry reconciliation, and at exit,
// so upsert-by-primary-key keeps all three writes on one row.
func (s *GormStorage) SaveExecutionRecord(ctx context.Context, record *models.ExecutionRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("saving execution record %s: %w", record.UniqueRunID, err)
	}
	return nil
}

// ListExecutionRecords returns the most recent execution records, newest
// first. limit <= 0 means no limit.
func (s *GormStorage) ListExecutionRecords(ctx context.Context, limit int) ([]models.ExecutionRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var records []models.ExecutionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing execution records: %w", err)
	}
	return records, nil
}

func startOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
