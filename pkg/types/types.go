// Package types defines shared domain types used across the engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the side of an order.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Timeframe represents a candle interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe3m  Timeframe = "3m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the wall-clock span of one candle at this timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1m:
		return time.Minute
	case Timeframe3m:
		return 3 * time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Candle represents one OHLCV bar
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// IsBullish reports whether the bar closed at or above its open.
func (c Candle) IsBullish() bool {
	return c.Close.GreaterThanOrEqual(c.Open)
}

// Instrument is one row of a broker instrument dump.
type Instrument struct {
	Token          int64           `json:"instrument_token"`
	ExchangeToken  int64           `json:"exchange_token"`
	TradingSymbol  string          `json:"tradingsymbol"`
	Name           string          `json:"name"`
	Expiry         time.Time       `json:"expiry"`
	Strike         decimal.Decimal `json:"strike"`
	InstrumentType string          `json:"instrument_type"` // CE, PE, FUT, EQ
	Segment        string          `json:"segment"`
	Exchange       string          `json:"exchange"`
	LotSize        int             `json:"lot_size"`
	TickSize       decimal.Decimal `json:"tick_size"`
}

// ExecutionRecord is one completed execution appended to the audit log.
type ExecutionRecord struct {
	ExecutionID    string          `json:"execution_id"`
	UserID         string          `json:"user_id"`
	StrategyType   string          `json:"strategy_type"`
	Direction      string          `json:"direction"`
	SLMode         string          `json:"sl_mode"`
	Config         map[string]any  `json:"config,omitempty"`
	Legs           []string        `json:"legs"`
	EntryTimestamp time.Time       `json:"entry_timestamp"`
	ExitTimestamp  time.Time       `json:"exit_timestamp"`
	ExitReason     string          `json:"exit_reason"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
}

// TimeRange represents a time range
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the duration of the time range
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Contains checks if a time is within the range
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}
