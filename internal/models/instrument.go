package models

import "time"

// Instrument is one row of the instrument master (options and futures).
// Master-data ingestion is an external concern; the engine only queries it.
type Instrument struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Exchange      string         `gorm:"size:255;not null" json:"exchange"`
	TradingSymbol string         `gorm:"column:trading_symbol;size:255;not null" json:"trading_symbol"`
	DisplayName   string         `gorm:"column:display_name;size:255" json:"display_name"`
	Segment       string         `gorm:"size:255;not null;index:idx_segment_index" json:"segment"`
	IndexName     string         `gorm:"column:index_name;size:255;not null;index:idx_segment_index" json:"index_name"`
	Type          InstrumentType `gorm:"column:instrument_type;size:5;not null" json:"type"`
	Strike        float64        `json:"strike"`
	Expiry        time.Time      `json:"expiry"`
	LotSize       int            `gorm:"column:lot_size;not null" json:"lot_size"`
}

// TableName maps the struct to the instrument master table.
func (Instrument) TableName() string {
	return "instrument"
}

// QuoteKey is the market-data identifier for the instrument.
func (i *Instrument) QuoteKey() string {
	return i.Exchange + ":" + i.TradingSymbol
}

// Quote is a latest-price snapshot for one instrument.
type Quote struct {
	InstrumentKey string  `json:"instrument_key"`
	LastPrice     float64 `json:"last_price"`
}

// TradingAccount links a user to a live broker session.
type TradingAccount struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:255" json:"user_id"`
	Email       string    `gorm:"size:255" json:"email"`
	APIKey      string    `gorm:"column:api_key;size:255;not null" json:"-"`
	AccessToken string    `gorm:"column:access_token;size:512;not null" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName maps the struct to the trading account table.
func (TradingAccount) TableName() string {
	return "trading_account"
}
