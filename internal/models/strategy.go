package models

import (
	"fmt"
	"time"
)

// DefaultStrikeStep is used when a strategy has no strike step configured.
const DefaultStrikeStep = 100

// Strategy is a configured straddle strategy. Rows are owned by the external
// CRUD layer; the engine only ever reads them.
type Strategy struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string         `gorm:"column:trading_account_user_id;size:255;not null" json:"user_id"`
	Side           Side           `gorm:"size:5;not null" json:"side"`
	Instrument     string         `gorm:"size:255;not null" json:"instrument"`
	Exchange       string         `gorm:"size:255;not null" json:"exchange"`
	TradingSegment string         `gorm:"size:255;not null" json:"trading_segment"`
	// UnderlyingSegment is the segment scanned for the near-month future when
	// the strike selector is FUTURE.
	UnderlyingSegment string         `gorm:"size:255;not null" json:"underlying_segment"`
	IndexName         string         `gorm:"column:index_name;size:255;not null" json:"index_name"`
	StrikeStep        int            `gorm:"column:strike_step" json:"strike_step"`
	StrikeSelector    StrikeSelector `gorm:"column:underlying_strike_selector;size:255;not null" json:"strike_selector"`
	Lots              int            `gorm:"not null" json:"lots"`
	// EntryTime and ExitTime are wall-clock times of day ("15:04:05") in the
	// configured trading timezone.
	EntryTime   string      `gorm:"column:entry_time;not null" json:"entry_time"`
	ExitTime    string      `gorm:"column:exit_time;not null" json:"exit_time"`
	StopLoss    float64     `gorm:"column:stop_loss" json:"stop_loss"`
	Target      float64     `json:"target"`
	TrailingSL  bool        `gorm:"column:trailing_sl;not null" json:"trailing_sl"`
	PaperTrade  bool        `gorm:"column:paper_trade;not null" json:"paper_trade"`
	Active      bool        `gorm:"column:is_active;not null" json:"active"`
	ExpiryScope ExpiryScope `gorm:"column:expiry_scope;size:10;not null" json:"expiry_scope"`
	CreatedBy   string      `gorm:"column:created_by;not null" json:"created_by"`
	CreatedAt   time.Time   `gorm:"column:created_date;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"column:last_modified_date;autoUpdateTime" json:"updated_at"`
}

// TableName maps the struct to the original table name.
func (Strategy) TableName() string {
	return "straddle_strategy"
}

// EffectiveStrikeStep returns the configured strike step or the default.
func (s *Strategy) EffectiveStrikeStep() int {
	if s.StrikeStep > 0 {
		return s.StrikeStep
	}
	return DefaultStrikeStep
}

// timeOfDayLayouts accepted for entry/exit times.
var timeOfDayLayouts = []string{"15:04:05", "15:04"}

func parseTimeOfDay(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeOfDayLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("invalid time of day %q: %w", value, lastErr)
}

// EntryAt returns the strategy's entry instant on the given day in loc.
func (s *Strategy) EntryAt(day time.Time, loc *time.Location) (time.Time, error) {
	return s.atTimeOfDay(s.EntryTime, day, loc)
}

// ExitAt returns the strategy's exit instant on the given day in loc.
func (s *Strategy) ExitAt(day time.Time, loc *time.Location) (time.Time, error) {
	return s.atTimeOfDay(s.ExitTime, day, loc)
}

func (s *Strategy) atTimeOfDay(value string, day time.Time, loc *time.Location) (time.Time, error) {
	clock, err := parseTimeOfDay(value)
	if err != nil {
		return time.Time{}, err
	}
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, loc), nil
}

// Validate checks the invariants the engine relies on: a known side, positive
// lots, a known expiry scope, and an entry time strictly before the exit time.
func (s *Strategy) Validate() error {
	if !s.Side.Valid() {
		return fmt.Errorf("side must be %s or %s, got %q", SideLong, SideShort, s.Side)
	}
	if s.Lots <= 0 {
		return fmt.Errorf("lots must be > 0, got %d", s.Lots)
	}
	if !s.ExpiryScope.Valid() {
		return fmt.Errorf("expiry_scope must be %s or %s, got %q", ExpiryCurrent, ExpiryNext, s.ExpiryScope)
	}
	entry, err := parseTimeOfDay(s.EntryTime)
	if err != nil {
		return fmt.Errorf("entry_time: %w", err)
	}
	exit, err := parseTimeOfDay(s.ExitTime)
	if err != nil {
		return fmt.Errorf("exit_time: %w", err)
	}
	if !entry.Before(exit) {
		return fmt.Errorf("entry_time %s must be before exit_time %s", s.EntryTime, s.ExitTime)
	}
	return nil
}

// Quantity returns the per-leg order quantity for an instrument.
func (s *Strategy) Quantity(inst *Instrument) int {
	return s.Lots * inst.LotSize
}
