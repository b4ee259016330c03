package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ServerConfig configures the HTTP/WebSocket API server
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	WebSocketPath string        `json:"websocket_path" mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:          "0.0.0.0",
		Port:          8080,
		WebSocketPath: "/ws",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

// ChargesConfig holds the statutory/broker charge coefficients applied to a
// round-trip options trade. The engine treats every rate as an opaque
// coefficient of executed value; defaults follow NSE options schedules.
type ChargesConfig struct {
	Enabled               bool            `json:"enabled" mapstructure:"enabled"`
	BrokeragePerOrder     decimal.Decimal `json:"brokerage_per_order" mapstructure:"brokerage_per_order"`
	STTRateSellSide       decimal.Decimal `json:"stt_rate_sell_side" mapstructure:"stt_rate_sell_side"`
	TransactionChargeRate decimal.Decimal `json:"transaction_charge_rate" mapstructure:"transaction_charge_rate"`
	GSTRateOnBrokerage    decimal.Decimal `json:"gst_rate_on_brokerage" mapstructure:"gst_rate_on_brokerage"`
	SEBITurnoverRate      decimal.Decimal `json:"sebi_turnover_rate" mapstructure:"sebi_turnover_rate"`
	StampDutyRateBuySide  decimal.Decimal `json:"stamp_duty_rate_buy_side" mapstructure:"stamp_duty_rate_buy_side"`
}

// DefaultChargesConfig returns the standard NSE F&O coefficients.
func DefaultChargesConfig() ChargesConfig {
	return ChargesConfig{
		Enabled:               true,
		BrokeragePerOrder:     decimal.NewFromInt(20),
		STTRateSellSide:       decimal.NewFromFloat(0.000625),
		TransactionChargeRate: decimal.NewFromFloat(0.00053),
		GSTRateOnBrokerage:    decimal.NewFromFloat(0.18),
		SEBITurnoverRate:      decimal.NewFromFloat(0.000001),
		StampDutyRateBuySide:  decimal.NewFromFloat(0.00003),
	}
}
