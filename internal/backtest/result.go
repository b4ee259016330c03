package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/optionengine/internal/monitor"
	"github.com/atlas-quant/optionengine/pkg/utils"
)

// RunStatus is the terminal state of a backtest run.
type RunStatus string

const (
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
)

// EventType tags a TradeEvent.
type EventType string

const (
	EventEntry   EventType = "ENTRY"
	EventTick    EventType = "TICK"
	EventExit    EventType = "EXIT"
	EventRestart EventType = "RESTART"
)

// TradeEvent is one immutable record appended as the replay progresses.
type TradeEvent struct {
	Timestamp     time.Time                  `json:"timestamp"`
	EventType     EventType                  `json:"event_type"`
	LegPrices     map[string]decimal.Decimal `json:"leg_prices,omitempty"`
	CumulativePnL decimal.Decimal            `json:"cumulative_pnl"`
	UnrealizedPnL decimal.Decimal            `json:"unrealized_pnl"`
	Reason        string                     `json:"reason,omitempty"`
}

// TradeLeg is one leg's entry/exit inside a completed trade.
type TradeLeg struct {
	Symbol     string          `json:"symbol"`
	Type       monitor.OptionType `json:"type"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
}

// TradeRecord is one completed round trip.
type TradeRecord struct {
	ExecutionID string           `json:"execution_id"`
	EntryTime   time.Time        `json:"entry_time"`
	ExitTime    time.Time        `json:"exit_time"`
	ExitReason  string           `json:"exit_reason"`
	Legs        []TradeLeg       `json:"legs"`
	PnLPoints   decimal.Decimal  `json:"pnl_points"`
	PnLAmount   decimal.Decimal  `json:"pnl_amount"`
	Charges     ChargesBreakdown `json:"charges"`
	NetPnL      decimal.Decimal  `json:"net_pnl"`
}

// TickBatchRecord captures one synthetic tick batch fed to the monitor, so a
// run's decision stream can be replayed verbatim.
type TickBatchRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Ticks     []monitor.Tick `json:"ticks"`
}

// BacktestResult is the aggregate outcome of one run. It is written exactly
// once: either COMPLETED with full aggregates or FAILED with an error
// message, never a partial mix.
type BacktestResult struct {
	ID           string    `json:"id"`
	Status       RunStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`

	Underlying string    `json:"underlying"`
	Date       time.Time `json:"date"`

	TotalPnLPoints decimal.Decimal `json:"total_pnl_points"`
	TotalPnLAmount decimal.Decimal `json:"total_pnl_amount"`
	TotalCharges   decimal.Decimal `json:"total_charges"`
	NetPnLAmount   decimal.Decimal `json:"net_pnl_amount"`

	Trades []TradeRecord `json:"trades"`
	Events []TradeEvent  `json:"events,omitempty"`

	// RecordedTicks is populated only when the request sets RecordTicks; it
	// lets a run's decision stream be replayed through a fresh monitor.
	RecordedTicks []TickBatchRecord `json:"-"`

	WinCount       int             `json:"win_count"`
	LossCount      int             `json:"loss_count"`
	WinRate        decimal.Decimal `json:"win_rate"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	MaxProfitPct   decimal.Decimal `json:"max_profit_pct"`
	AvgWinAmount   decimal.Decimal `json:"avg_win_amount"`
	AvgLossAmount  decimal.Decimal `json:"avg_loss_amount"`
	ProfitFactor   decimal.Decimal `json:"profit_factor"`
	RestartCount   int             `json:"restart_count"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// aggregate fills the result's summary fields from its trade list. The
// equity curve for drawdown/run-up is the running net P&L offset by a
// notional base so the percentage math has a positive denominator.
func (r *BacktestResult) aggregate(equityBase decimal.Decimal) {
	pnls := make([]decimal.Decimal, 0, len(r.Trades))
	equity := make([]decimal.Decimal, 0, len(r.Trades)+1)
	equity = append(equity, equityBase)
	running := equityBase

	winSum, lossSum := decimal.Zero, decimal.Zero
	for _, t := range r.Trades {
		r.TotalPnLPoints = r.TotalPnLPoints.Add(t.PnLPoints)
		r.TotalPnLAmount = r.TotalPnLAmount.Add(t.PnLAmount)
		r.TotalCharges = r.TotalCharges.Add(t.Charges.Total)
		r.NetPnLAmount = r.NetPnLAmount.Add(t.NetPnL)

		pnls = append(pnls, t.NetPnL)
		running = running.Add(t.NetPnL)
		equity = append(equity, running)

		if t.NetPnL.IsPositive() {
			r.WinCount++
			winSum = winSum.Add(t.NetPnL)
		} else {
			r.LossCount++
			lossSum = lossSum.Add(t.NetPnL.Abs())
		}
	}

	hundred := decimal.NewFromInt(100)
	r.WinRate = utils.CalculateWinRate(pnls).Mul(hundred)
	r.MaxDrawdownPct = utils.CalculateMaxDrawdown(equity).Mul(hundred)
	r.MaxProfitPct = utils.CalculateMaxRunup(equity).Mul(hundred)
	r.ProfitFactor = utils.CalculateProfitFactor(pnls)

	if r.WinCount > 0 {
		r.AvgWinAmount = winSum.Div(decimal.NewFromInt(int64(r.WinCount)))
	}
	if r.LossCount > 0 {
		r.AvgLossAmount = lossSum.Div(decimal.NewFromInt(int64(r.LossCount)))
	}
}

// legPricesSnapshot captures per-leg LTPs for an event record.
func legPricesSnapshot(legs []*monitor.Leg) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(legs))
	for _, leg := range legs {
		out[leg.Symbol] = leg.CurrentPrice()
	}
	return out
}

// dateOnly truncates t to its calendar day in the market zone.
func dateOnly(t time.Time) time.Time {
	local := t.In(utils.MarketZone())
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, utils.MarketZone())
}
