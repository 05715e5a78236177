package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"straddlebot/internal/models"
)

// MockStorage implements Interface for testing
type MockStorage struct {
	mu         sync.Mutex
	strategies map[int64]models.Strategy
	// instruments keyed by segment + "/" + index name
	instruments map[string][]models.Instrument
	futures     map[string]models.Instrument
	accounts    map[string]models.TradingAccount
	records     map[string]models.ExecutionRecord
	saveOrder   []string

	strategyErr error
	saveErr     error
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		strategies:  make(map[int64]models.Strategy),
		instruments: make(map[string][]models.Instrument),
		futures:     make(map[string]models.Instrument),
		accounts:    make(map[string]models.TradingAccount),
		records:     make(map[string]models.ExecutionRecord),
	}
}

func instrumentKey(segment, indexName string) string {
	return segment + "/" + indexName
}

// PutStrategy seeds or replaces a strategy.
func (m *MockStorage) PutStrategy(s models.Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.ID] = s
}

// PutInstruments seeds the option contracts returned for a segment/index.
func (m *MockStorage) PutInstruments(segment, indexName string, instruments []models.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[instrumentKey(segment, indexName)] = instruments
}

// PutFuture seeds the nearest future returned for a segment/index.
func (m *MockStorage) PutFuture(segment, indexName string, future models.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.futures[instrumentKey(segment, indexName)] = future
}

// PutAccount seeds a trading account.
func (m *MockStorage) PutAccount(account models.TradingAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.UserID] = account
}

// SetStrategyError makes strategy lookups fail.
func (m *MockStorage) SetStrategyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategyErr = err
}

// SetSaveError makes SaveExecutionRecord fail.
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// ListStrategies returns all seeded strategies ordered by ID.
func (m *MockStorage) ListStrategies(_ context.Context) ([]models.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.strategyErr != nil {
		return nil, m.strategyErr
	}
	out := make([]models.Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetStrategy returns a seeded strategy by ID.
func (m *MockStorage) GetStrategy(_ context.Context, id int64) (*models.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.strategyErr != nil {
		return nil, m.strategyErr
	}
	s, ok := m.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy %d: %w", id, ErrStrategyNotFound)
	}
	return &s, nil
}

// FindWeeklyOptionInstruments returns seeded option contracts.
func (m *MockStorage) FindWeeklyOptionInstruments(_ context.Context, segment, indexName string) ([]models.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instruments[instrumentKey(segment, indexName)], nil
}

// FindNearestFuture returns the seeded future or ErrNoInstruments.
func (m *MockStorage) FindNearestFuture(_ context.Context, segment, indexName string) (*models.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.futures[instrumentKey(segment, indexName)]
	if !ok {
		return nil, fmt.Errorf("future for %s/%s: %w", segment, indexName, ErrNoInstruments)
	}
	return &f, nil
}

// GetTradingAccount returns a seeded account or ErrAccountNotFound.
func (m *MockStorage) GetTradingAccount(_ context.Context, userID string) (*models.TradingAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account for %s: %w", userID, ErrAccountNotFound)
	}
	return &a, nil
}

// SaveExecutionRecord upserts a record by primary key.
func (m *MockStorage) SaveExecutionRecord(_ context.Context, record *models.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, ok := m.records[record.ID]; !ok {
		m.saveOrder = append(m.saveOrder, record.ID)
	}
	m.records[record.ID] = *record
	return nil
}

// ListExecutionRecords returns saved records, newest first.
func (m *MockStorage) ListExecutionRecords(_ context.Context, limit int) ([]models.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ExecutionRecord, 0, len(m.saveOrder))
	for i := len(m.saveOrder) - 1; i >= 0; i-- {
		out = append(out, m.records[m.saveOrder[i]])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Records returns all saved records in insertion order (tests).
func (m *MockStorage) Records() []models.ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ExecutionRecord, 0, len(m.saveOrder))
	for _, id := range m.saveOrder {
		out = append(out, m.records[id])
	}
	return out
}
