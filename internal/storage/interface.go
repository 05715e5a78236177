package storage

import (
	"context"

	"straddlebot/internal/models"
)

// Interface defines the contract for strategy, instrument, and execution
// persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe and can safely call them from multiple
// goroutines. The engine treats strategies, instruments, and trading accounts
// as read-only master data; only execution records are written.
type Interface interface {
	// Strategy master data
	ListStrategies(ctx context.Context) ([]models.Strategy, error)
	GetStrategy(ctx context.Context, id int64) (*models.Strategy, error)

	// Instrument master data
	// FindWeeklyOptionInstruments returns the option contracts for the
	// nearest weekly expiries of an index, ordered by expiry ascending.
	FindWeeklyOptionInstruments(ctx context.Context, segment, indexName string) ([]models.Instrument, error)
	// FindNearestFuture returns the future with the nearest expiry for an
	// index, or ErrNoInstruments when none exists.
	FindNearestFuture(ctx context.Context, segment, indexName string) (*models.Instrument, error)

	// Trading accounts
	GetTradingAccount(ctx context.Context, userID string) (*models.TradingAccount, error)

	// Execution audit trail
	SaveExecutionRecord(ctx context.Context, record *models.ExecutionRecord) error
	ListExecutionRecords(ctx context.Context, limit int) ([]models.ExecutionRecord, error)
}

// Ensure GormStorage implements Interface
var _ Interface = (*GormStorage)(nil)
