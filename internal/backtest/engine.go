package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/metrics"
	"github.com/atlas-quant/optionengine/internal/monitorerr"
	"github.com/atlas-quant/optionengine/internal/store"
	"github.com/atlas-quant/optionengine/pkg/types"
	"github.com/atlas-quant/optionengine/pkg/utils"
)

// StrategyFactory builds a fresh Strategy instance per run.
type StrategyFactory func(logger *zap.Logger) Strategy

// Engine runs candle-driven backtests against the shared position monitor.
// One Engine serves many runs; per-run state lives in the Context.
type Engine struct {
	logger  *zap.Logger
	store   *store.Store
	charges types.ChargesConfig

	mu         sync.RWMutex
	dump       []types.Instrument
	strategies map[string]StrategyFactory
}

func NewEngine(logger *zap.Logger, st *store.Store, charges types.ChargesConfig) *Engine {
	e := &Engine{
		logger:     logger.Named("backtest"),
		store:      st,
		charges:    charges,
		strategies: make(map[string]StrategyFactory),
	}
	e.RegisterStrategy("short_straddle", func(l *zap.Logger) Strategy {
		return NewStraddleStrategy(l)
	})
	return e
}

// SetInstrumentDump installs the instrument dump served to strategies. The
// dump is fetched at most once per backtest; callers refresh it through the
// instrument resolver's TTL cache, not here.
func (e *Engine) SetInstrumentDump(dump []types.Instrument) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dump = dump
}

// RegisterStrategy adds a named strategy factory.
func (e *Engine) RegisterStrategy(name string, factory StrategyFactory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[name] = factory
}

// StrategyNames lists the registered strategies, sorted.
func (e *Engine) StrategyNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.strategies))
	for name := range e.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one backtest. Failures never escape as a partial result: the
// returned BacktestResult is either fully COMPLETED or FAILED with an error
// message.
func (e *Engine) Run(ctx context.Context, req *Request) *BacktestResult {
	start := time.Now()
	req.applyDefaults()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	result := &BacktestResult{
		ID:         req.ID,
		Status:     StatusRunning,
		Underlying: req.Underlying,
		Date:       dateOnly(req.Date),
		StartedAt:  start,
	}

	runCtx, err := e.execute(ctx, req)
	finish := time.Now()
	result.FinishedAt = finish
	result.DurationMs = finish.Sub(start).Milliseconds()
	metrics.BacktestDurationSeconds.Observe(finish.Sub(start).Seconds())

	if err != nil {
		result.Status = StatusFailed
		result.ErrorMessage = err.Error()
		e.logger.Warn("backtest failed",
			zap.String("id", req.ID),
			zap.Error(err),
		)
		return result
	}

	result.Trades = runCtx.Trades
	result.Events = runCtx.Events
	result.RecordedTicks = runCtx.RecordedTicks
	result.RestartCount = runCtx.RestartCount()
	result.aggregate(equityBaseFor(runCtx))
	result.Status = StatusCompleted

	e.logger.Info("backtest completed",
		zap.String("id", req.ID),
		zap.Int("trades", len(result.Trades)),
		zap.Int("restarts", result.RestartCount),
		zap.String("net_pnl", result.NetPnLAmount.String()),
	)
	return result
}

// equityBaseFor sizes the notional equity base for percentage aggregates
// from the first trade's entry value, falling back to a fixed notional.
func equityBaseFor(ctx *Context) decimal.Decimal {
	if ctx.LotSize > 0 && len(ctx.Trades) > 0 && len(ctx.Trades[0].Legs) > 0 {
		combined := decimal.Zero
		for _, leg := range ctx.Trades[0].Legs {
			combined = combined.Add(leg.EntryPrice)
		}
		qty := decimal.NewFromInt(int64(ctx.LotSize * ctx.Request.Lots))
		base := combined.Mul(qty)
		if base.IsPositive() {
			return base
		}
	}
	return decimal.NewFromInt(100000)
}

// execute runs the candle loop and returns the populated context or the
// first hard failure.
func (e *Engine) execute(ctx context.Context, req *Request) (*Context, error) {
	if !e.store.HasSessionData(req.Underlying, req.Date, req.CandleInterval) {
		return nil, monitorerr.New(monitorerr.DataUnavailable,
			fmt.Sprintf("no historical data for %s on %s", req.Underlying, req.Date.Format("2006-01-02")))
	}

	candles, err := e.store.LoadSessionCandles(ctx, req.Underlying, req.Date, req.CandleInterval)
	if err != nil {
		return nil, err
	}
	candles = sessionWindow(candles)
	if len(candles) == 0 {
		return nil, monitorerr.New(monitorerr.DataUnavailable, "no candles inside the market session")
	}

	e.mu.RLock()
	factory, ok := e.strategies[req.StrategyName]
	dump := e.dump
	e.mu.RUnlock()
	if !ok {
		return nil, monitorerr.New(monitorerr.ConfigInvalid,
			fmt.Sprintf("unknown strategy %q", req.StrategyName))
	}

	strategy := factory(e.logger)
	runCtx := &Context{
		Logger:    e.logger.With(zap.String("run_id", req.ID)),
		Dump:      dump,
		Estimator: NewLinearEstimator(),
		Charges:   e.charges,
		Request:   req,
	}

	if err := strategy.Initialize(req, runCtx); err != nil {
		return nil, err
	}

	_, marketClose := utils.SessionBounds(candles[0].Timestamp)
	processed := make([]types.Candle, 0, len(candles))

	for i := 0; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if restartAt, pending := runCtx.RestartPending(); pending && req.FastForwardEnabled {
			j, found := advanceToBoundary(candles, i, restartAt)
			if found {
				i = j
				runCtx.clearRestart()
				metrics.RestartCount.Inc()
				if err := strategy.OnRestart(candles[i], runCtx); err != nil {
					return nil, err
				}
				// The restart candle still flows through OnCandle below.
			}
			// Otherwise no future candle reaches the boundary: the restart
			// is abandoned at market close.
		}

		candle := candles[i]
		processed = append(processed, candle)
		if err := strategy.OnCandle(candle, runCtx, processed); err != nil {
			return nil, err
		}

		if !candle.Timestamp.Before(marketClose) {
			if err := strategy.OnMarketClose(candle, runCtx); err != nil {
				return nil, err
			}
			break
		}
	}

	// Session ended mid-loop without a close candle: square off whatever is
	// still open on the last candle.
	if len(candles) > 0 {
		last := candles[len(candles)-1]
		if last.Timestamp.Before(marketClose) {
			if err := strategy.OnMarketClose(last, runCtx); err != nil {
				return nil, err
			}
		}
	}

	return runCtx, nil
}

// advanceToBoundary returns the index of the first candle at or after the
// next 5-minute boundary following restartAt, scanning forward from i. When
// the trigger fires exactly on a boundary no advance past that instant
// happens.
func advanceToBoundary(candles []types.Candle, i int, restartAt time.Time) (int, bool) {
	boundary := utils.NextFiveMinuteBoundary(restartAt)
	for j := i; j < len(candles); j++ {
		if !candles[j].Timestamp.Before(boundary) {
			return j, true
		}
	}
	return 0, false
}

// sessionWindow trims candles to [market open, market close].
func sessionWindow(candles []types.Candle) []types.Candle {
	if len(candles) == 0 {
		return candles
	}
	open, close := utils.SessionBounds(candles[0].Timestamp)
	out := make([]types.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Timestamp.Before(open) || c.Timestamp.After(close) {
			continue
		}
		out = append(out, c)
	}
	return out
}
