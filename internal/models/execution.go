package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionRecord is the per-run audit row. It is created once both legs'
// quotes are confirmed, updated with reconciled entry prices shortly after the
// entry orders, and updated exactly once more at exit. The engine never
// deletes records.
type ExecutionRecord struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	UniqueRunID    string      `gorm:"column:unique_run_id;size:100;not null;uniqueIndex" json:"unique_run_id"`
	StrategyID     int64       `gorm:"column:strategy_id;not null;index" json:"strategy_id"`
	UserID         string      `gorm:"column:user_id;size:50;not null" json:"user_id"`
	Instrument     string      `gorm:"size:255;not null" json:"instrument"`
	StrikeSelector string      `gorm:"column:strike_selector;size:255" json:"strike_selector"`
	CallStrike     string      `gorm:"column:call_strike;size:255;not null" json:"call_strike"`
	CallQuantity   int         `gorm:"column:call_quantity;not null" json:"call_quantity"`
	CallEntryPrice float64     `gorm:"column:call_entry_price" json:"call_entry_price"`
	CallExitPrice  float64     `gorm:"column:call_exit_price" json:"call_exit_price"`
	PutStrike      string      `gorm:"column:put_strike;size:255;not null" json:"put_strike"`
	PutQuantity    int         `gorm:"column:put_quantity;not null" json:"put_quantity"`
	PutEntryPrice  float64     `gorm:"column:put_entry_price" json:"put_entry_price"`
	PutExitPrice   float64     `gorm:"column:put_exit_price" json:"put_exit_price"`
	ExitPnl        float64     `gorm:"column:exit_pnl" json:"exit_pnl"`
	PaperTrade     bool        `gorm:"column:paper_trade;not null" json:"paper_trade"`
	ExecutionDate  time.Time   `gorm:"column:execution_date;not null" json:"execution_date"`
	CreatedAt      time.Time   `gorm:"column:created_at;not null" json:"created_at"`
	ExitedAt       *time.Time  `gorm:"column:exited_at" json:"exited_at,omitempty"`
}

// TableName maps the struct to the original execution audit table.
func (ExecutionRecord) TableName() string {
	return "straddle_strategy_execution"
}

// NewExecutionRecord builds a fresh record for one run.
func NewExecutionRecord(strategy *Strategy, now time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		ID:             uuid.New().String(),
		UniqueRunID:    NewRunID(strategy.UserID, strategy.Instrument, now),
		StrategyID:     strategy.ID,
		UserID:         strategy.UserID,
		Instrument:     strategy.Instrument,
		StrikeSelector: string(strategy.StrikeSelector),
		PaperTrade:     strategy.PaperTrade,
		ExecutionDate:  now,
		CreatedAt:      now,
	}
}

// NewRunID generates the unique run identifier
// {user}_{instrument}_{timestamp to the millisecond}.
func NewRunID(userID, instrument string, now time.Time) string {
	millis := now.Nanosecond() / int(time.Millisecond)
	return fmt.Sprintf("%s_%s_%s%03d", userID, instrument, now.Format("20060102150405"), millis)
}
