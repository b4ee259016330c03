package backtest

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/monitor"
	"github.com/atlas-quant/optionengine/pkg/types"
)

// Request describes one backtest run.
type Request struct {
	ID         string    `json:"id"`
	Date       time.Time `json:"date"`
	Underlying string    `json:"underlying"`
	Exchange   string    `json:"exchange"`
	Expiry     time.Time `json:"expiry"`
	Lots       int       `json:"lots"`

	Direction monitor.Direction `json:"direction"`
	SLMode    monitor.SLMode    `json:"sl_mode"`

	TargetPoints   float64 `json:"target_points"`
	StopLossPoints float64 `json:"stop_loss_points"`

	TrailingEnabled          bool    `json:"trailing_enabled"`
	TrailingActivationPoints float64 `json:"trailing_activation_points"`
	TrailingDistancePoints   float64 `json:"trailing_distance_points"`

	ForcedExitEnabled bool   `json:"forced_exit_enabled"`
	ForcedExitCutoff  string `json:"forced_exit_cutoff"` // "HH:mm" market zone

	PremiumEnabled       bool    `json:"premium_enabled"`
	TargetDecayPct       float64 `json:"target_decay_pct"`
	StopLossExpansionPct float64 `json:"stop_loss_expansion_pct"`

	CandleInterval     types.Timeframe `json:"candle_interval"`
	FastForwardEnabled bool            `json:"fast_forward_enabled"`
	MaxRestarts        int             `json:"max_restarts"`
	ChargesEnabled     bool            `json:"charges_enabled"`
	RecordTicks        bool            `json:"record_ticks"`

	StrategyName string `json:"strategy_name"`
}

// applyDefaults fills the zero-value gaps callers commonly leave.
func (r *Request) applyDefaults() {
	if r.Exchange == "" {
		r.Exchange = "NFO"
	}
	if r.Lots <= 0 {
		r.Lots = 1
	}
	if r.Direction == "" {
		r.Direction = monitor.Short
	}
	if r.SLMode == "" {
		r.SLMode = monitor.SLModePoints
	}
	if r.CandleInterval == "" {
		r.CandleInterval = types.Timeframe1m
	}
	if r.StrategyName == "" {
		r.StrategyName = "short_straddle"
	}
}

// PriceEstimator derives synthetic option premiums from index levels. The
// default equal-division estimator matches the simplest harness; callers can
// substitute per-leg synthetic pricing without touching the candle loop.
type PriceEstimator interface {
	// EntryCombined estimates the combined straddle premium at entry spot.
	EntryCombined(spot decimal.Decimal) decimal.Decimal
	// CombinedAt estimates the combined premium when the index has moved
	// from entrySpot to spot.
	CombinedAt(entrySpot, entryCombined, spot decimal.Decimal) decimal.Decimal
	// PerLeg splits the combined premium across legs.
	PerLeg(combined decimal.Decimal, legs []*monitor.Leg) map[int64]decimal.Decimal
}

// LinearEstimator models combined premium as moving point-for-point with the
// index (sensitivity 1.0 by default) from an entry premium proportional to
// spot, and divides it evenly across legs.
type LinearEstimator struct {
	EntryPremiumPctOfSpot decimal.Decimal
	Sensitivity           decimal.Decimal
}

func NewLinearEstimator() *LinearEstimator {
	return &LinearEstimator{
		EntryPremiumPctOfSpot: decimal.NewFromFloat(0.015),
		Sensitivity:           decimal.NewFromInt(1),
	}
}

func (e *LinearEstimator) EntryCombined(spot decimal.Decimal) decimal.Decimal {
	return spot.Mul(e.EntryPremiumPctOfSpot)
}

func (e *LinearEstimator) CombinedAt(entrySpot, entryCombined, spot decimal.Decimal) decimal.Decimal {
	combined := entryCombined.Add(spot.Sub(entrySpot).Mul(e.Sensitivity))
	if combined.IsNegative() {
		return decimal.Zero
	}
	return combined
}

func (e *LinearEstimator) PerLeg(combined decimal.Decimal, legs []*monitor.Leg) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(legs))
	if len(legs) == 0 {
		return out
	}
	each := combined.Div(decimal.NewFromInt(int64(len(legs))))
	for _, leg := range legs {
		out[leg.Token] = each
	}
	return out
}

// Context is the per-run state shared between the engine and the strategy.
type Context struct {
	Logger    *zap.Logger
	Dump      []types.Instrument
	Estimator PriceEstimator
	Charges   types.ChargesConfig

	Request *Request
	Monitor *monitor.PositionMonitor
	LotSize int

	Events        []TradeEvent
	Trades        []TradeRecord
	RecordedTicks []TickBatchRecord

	restartRequested bool
	restartAt        time.Time
	restartCount     int
}

// RequestRestart flags a restart at the given instant; the engine performs
// the 5-minute fast-forward on its next loop step. Duplicate requests before
// the engine services the first are dropped, and the configured restart cap
// is enforced here.
func (c *Context) RequestRestart(at time.Time) {
	if c.restartRequested {
		return
	}
	if c.Request.MaxRestarts > 0 && c.restartCount >= c.Request.MaxRestarts {
		c.Logger.Info("restart suppressed: max restarts reached",
			zap.Int("restart_count", c.restartCount))
		return
	}
	c.restartRequested = true
	c.restartAt = at
}

// RestartPending reports whether a restart awaits fast-forward.
func (c *Context) RestartPending() (time.Time, bool) {
	return c.restartAt, c.restartRequested
}

func (c *Context) clearRestart() {
	c.restartRequested = false
	c.restartCount++
}

// RestartCount returns restarts performed so far.
func (c *Context) RestartCount() int { return c.restartCount }

// RecordEvent appends one immutable trade event.
func (c *Context) RecordEvent(ev TradeEvent) {
	c.Events = append(c.Events, ev)
}

// RecordTrade appends one completed round trip.
func (c *Context) RecordTrade(t TradeRecord) {
	c.Trades = append(c.Trades, t)
}

// RecordTickBatch captures a synthetic tick batch when the request asks for
// replayable runs.
func (c *Context) RecordTickBatch(at time.Time, ticks []monitor.Tick) {
	if !c.Request.RecordTicks {
		return
	}
	copied := make([]monitor.Tick, len(ticks))
	copy(copied, ticks)
	c.RecordedTicks = append(c.RecordedTicks, TickBatchRecord{Timestamp: at, Ticks: copied})
}

// Strategy is the small interface a backtestable strategy implements. The
// engine owns the candle loop; the strategy owns entries and the intra-candle
// walk against its monitor.
type Strategy interface {
	Name() string
	Initialize(req *Request, ctx *Context) error
	OnCandle(candle types.Candle, ctx *Context, processed []types.Candle) error
	OnRestart(candle types.Candle, ctx *Context) error
	OnMarketClose(candle types.Candle, ctx *Context) error
}
