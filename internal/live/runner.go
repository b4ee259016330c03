// Package live wires the live/paper trading path: instrument resolution,
// basket entry, tick-driven monitoring, exit handling, auto-restart, and the
// execution audit log.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/config"
	"github.com/atlas-quant/optionengine/internal/gateway"
	"github.com/atlas-quant/optionengine/internal/instrument"
	"github.com/atlas-quant/optionengine/internal/monitor"
	"github.com/atlas-quant/optionengine/internal/restart"
	"github.com/atlas-quant/optionengine/internal/store"
	"github.com/atlas-quant/optionengine/internal/workers"
	"github.com/atlas-quant/optionengine/pkg/types"
	"github.com/atlas-quant/optionengine/pkg/utils"
)

// EntryParams describes one straddle entry request.
type EntryParams struct {
	UserID     string
	Underlying string
	Exchange   string
	Expiry     time.Time
	Lots       int
	Direction  monitor.Direction
	SLMode     monitor.SLMode
	Mode       restart.Mode

	TargetPoints   float64
	StopLossPoints float64
}

// Runner owns the live data flow: it enters positions through the order
// gateway, registers monitors with the tick dispatcher, and services their
// exit callbacks.
type Runner struct {
	logger     *zap.Logger
	cfg        config.EngineConfig
	gateway    gateway.OrderGateway
	basket     *gateway.BasketExecutor
	resolver   *instrument.Resolver
	dispatcher *monitor.TickDispatcher
	scheduler  *restart.Scheduler
	pool       *workers.Pool
	execLog    *store.ExecutionLog

	mu        sync.Mutex
	positions map[string]*position // execution_id -> live position
}

type position struct {
	mon       *monitor.PositionMonitor
	params    EntryParams
	entryTime time.Time
	legs      []gateway.OrderRequest
}

func NewRunner(
	logger *zap.Logger,
	cfg config.EngineConfig,
	gw gateway.OrderGateway,
	basket *gateway.BasketExecutor,
	resolver *instrument.Resolver,
	dispatcher *monitor.TickDispatcher,
	scheduler *restart.Scheduler,
	pool *workers.Pool,
	execLog *store.ExecutionLog,
) *Runner {
	return &Runner{
		logger:     logger.Named("live"),
		cfg:        cfg,
		gateway:    gw,
		basket:     basket,
		resolver:   resolver,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		pool:       pool,
		execLog:    execLog,
		positions:  make(map[string]*position),
	}
}

// EnterStraddle resolves the ATM pair, places the entry basket, and starts
// monitoring. Transport and Subscribe wiring goes through the dispatcher.
func (r *Runner) EnterStraddle(ctx context.Context, params EntryParams, spot decimal.Decimal, transport monitor.Transport, liveSubscriptionDisabled bool) (string, error) {
	if params.Exchange == "" {
		params.Exchange = "NFO"
	}
	if params.Lots <= 0 {
		params.Lots = 1
	}

	pair, err := r.resolver.ResolveATM(ctx, params.Exchange, params.Underlying, params.Expiry, spot)
	if err != nil {
		return "", err
	}

	side := types.TransactionSell
	if params.Direction == monitor.Long {
		side = types.TransactionBuy
	}
	qty := pair.LotSize * params.Lots

	reqs := []gateway.OrderRequest{
		{Symbol: pair.CE.TradingSymbol, Token: pair.CE.Token, Exchange: params.Exchange, TransactionType: side, Quantity: qty, Product: "MIS", OrderType: "MARKET"},
		{Symbol: pair.PE.TradingSymbol, Token: pair.PE.Token, Exchange: params.Exchange, TransactionType: side, Quantity: qty, Product: "MIS", OrderType: "MARKET"},
	}
	basketResp, err := r.basket.Execute(ctx, reqs)
	if err != nil {
		return "", err
	}

	ltps, err := r.gateway.LTP(ctx, []string{pair.CE.TradingSymbol, pair.PE.TradingSymbol})
	if err != nil {
		return "", err
	}
	ceEntry := ltps[pair.CE.TradingSymbol]
	peEntry := ltps[pair.PE.TradingSymbol]
	entryPremium, _ := ceEntry.Add(peEntry).Float64()

	executionID := uuid.NewString()
	cutoffH, cutoffM, err := config.ParseTimeOfDay(r.cfg.AutoSquareOffTime)
	if err != nil {
		return "", err
	}

	cfg := monitor.MonitorConfig{
		ExecutionID:                 executionID,
		OwnerUserID:                 params.UserID,
		Direction:                   params.Direction,
		SLMode:                      params.SLMode,
		TargetPoints:                pointsOrDefault(params.TargetPoints, r.cfg.DefaultTargetPoints),
		StopLossPoints:              pointsOrDefault(params.StopLossPoints, r.cfg.DefaultStopLossPoints),
		TrailingEnabled:             r.cfg.TrailingStopEnabled,
		TrailingActivationPoints:    r.cfg.TrailingActivationPoints,
		TrailingDistancePoints:      r.cfg.TrailingDistancePoints,
		ForcedExitEnabled:           r.cfg.AutoSquareOffEnabled,
		ForcedExitCutoff:            monitor.TimeOfDay{Hour: cutoffH, Minute: cutoffM},
		PremiumEnabled:              r.cfg.PremiumBasedExitEnabled,
		EntryPremium:                entryPremium,
		TargetDecayPct:              r.cfg.TargetDecayPct,
		StopLossExpansionPct:        r.cfg.StopLossExpansionPct,
		LegAdjustProfitThresholdPct: r.cfg.LegAdjustProfitThresholdPct,
		LegAdjustLossThresholdPct:   r.cfg.LegAdjustLossThresholdPct,
	}

	mon := monitor.NewPositionMonitor(
		r.logger,
		cfg,
		func(reason monitor.ExitReason) { r.onExitAll(executionID, reason) },
		func(legSymbol string, reason monitor.ExitReason) { r.onExitLeg(executionID, legSymbol, reason) },
		func(result monitor.ExitResult) { r.onLegReplacement(executionID, result) },
	)

	qtyDec := decimal.NewFromInt(int64(qty))
	mon.AddLeg(orderIDFor(basketResp, pair.CE.TradingSymbol), pair.CE.TradingSymbol, pair.CE.Token, ceEntry, qtyDec, monitor.CE, 1)
	mon.AddLeg(orderIDFor(basketResp, pair.PE.TradingSymbol), pair.PE.TradingSymbol, pair.PE.Token, peEntry, qtyDec, monitor.PE, 1)

	r.mu.Lock()
	r.positions[executionID] = &position{
		mon:       mon,
		params:    params,
		entryTime: time.Now().In(utils.MarketZone()),
		legs:      reqs,
	}
	r.mu.Unlock()

	if err := r.dispatcher.StartMonitoring(params.UserID, executionID, mon, transport, liveSubscriptionDisabled); err != nil {
		return "", err
	}

	r.logger.Info("straddle entered",
		zap.String("execution_id", executionID),
		zap.String("underlying", params.Underlying),
		zap.Int("strike", pair.Strike),
	)
	return executionID, nil
}

func pointsOrDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func orderIDFor(resp gateway.BasketResponse, symbol string) string {
	for _, leg := range resp.Legs {
		if leg.Request.Symbol == symbol {
			return leg.OrderID
		}
	}
	return ""
}

// onExitAll squares off every leg, appends the audit record, and asks the
// restart scheduler whether a follow-on entry qualifies.
func (r *Runner) onExitAll(executionID string, reason monitor.ExitReason) {
	r.mu.Lock()
	pos, ok := r.positions[executionID]
	if ok {
		delete(r.positions, executionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	// Square-off runs on the order pool; the tick thread never blocks on the
	// broker.
	err := r.pool.SubmitFunc(func() error {
		return r.squareOff(pos)
	})
	if err != nil {
		r.logger.Error("square-off submission failed",
			zap.String("execution_id", executionID), zap.Error(err))
	}

	r.dispatcher.StopMonitoring(pos.params.UserID, executionID)
	r.appendExecutionRecord(executionID, pos, reason)

	r.scheduler.Schedule(executionID, reason, restart.RequestContext{
		UserID:     pos.params.UserID,
		Underlying: pos.params.Underlying,
		Expiry:     pos.params.Expiry,
		Lots:       pos.params.Lots,
		Strategy:   "short_straddle",
		Mode:       pos.params.Mode,
	}, r.reenter)
}

func (r *Runner) reenter(reqCtx restart.RequestContext) {
	r.logger.Info("auto-restart entry",
		zap.String("user_id", reqCtx.UserID),
		zap.String("underlying", reqCtx.Underlying),
	)
	// Re-entry requires a fresh spot quote; resolve it off the gateway.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ltps, err := r.gateway.LTP(ctx, []string{reqCtx.Underlying})
	if err != nil {
		r.logger.Error("restart entry aborted: spot unavailable", zap.Error(err))
		return
	}
	params := EntryParams{
		UserID:     reqCtx.UserID,
		Underlying: reqCtx.Underlying,
		Expiry:     reqCtx.Expiry,
		Lots:       reqCtx.Lots,
		Direction:  monitor.Short,
		SLMode:     monitor.SLModePoints,
		Mode:       reqCtx.Mode,
	}
	if _, err := r.EnterStraddle(ctx, params, ltps[reqCtx.Underlying], nil, true); err != nil {
		r.logger.Error("restart entry failed", zap.Error(err))
	}
}

func (r *Runner) squareOff(pos *position) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reverse := make([]gateway.OrderRequest, 0, len(pos.legs))
	for _, req := range pos.legs {
		rr := req
		if rr.TransactionType == types.TransactionSell {
			rr.TransactionType = types.TransactionBuy
		} else {
			rr.TransactionType = types.TransactionSell
		}
		rr.Tag = "square-off"
		reverse = append(reverse, rr)
	}
	_, err := r.basket.Execute(ctx, reverse)
	return err
}

func (r *Runner) onExitLeg(executionID, legSymbol string, reason monitor.ExitReason) {
	r.logger.Info("leg exited",
		zap.String("execution_id", executionID),
		zap.String("leg_symbol", legSymbol),
		zap.String("reason", string(reason)),
	)
}

// onLegReplacement places the replacement order off-thread and feeds the new
// leg back into the paused monitor.
func (r *Runner) onLegReplacement(executionID string, result monitor.ExitResult) {
	r.mu.Lock()
	pos, ok := r.positions[executionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	err := r.pool.SubmitFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		spots, err := r.gateway.LTP(ctx, []string{pos.params.Underlying})
		if err != nil {
			pos.mon.SignalLegReplacementFailed(err.Error())
			return err
		}
		pair, err := r.resolver.ResolveATM(ctx, pos.params.Exchange, pos.params.Underlying, pos.params.Expiry, spots[pos.params.Underlying])
		if err != nil {
			pos.mon.SignalLegReplacementFailed(err.Error())
			return err
		}
		inst := pair.CE
		if result.NewLegType == monitor.PE {
			inst = pair.PE
		}

		side := types.TransactionSell
		if pos.params.Direction == monitor.Long {
			side = types.TransactionBuy
		}
		resp, err := r.gateway.PlaceOrder(ctx, gateway.OrderRequest{
			Symbol:          inst.TradingSymbol,
			Token:           inst.Token,
			Exchange:        pos.params.Exchange,
			TransactionType: side,
			Quantity:        pair.LotSize * pos.params.Lots,
			Product:         "MIS",
			OrderType:       "MARKET",
			Tag:             "leg-replacement",
		})
		if err != nil || resp.Status != gateway.OrderSuccess {
			pos.mon.SignalLegReplacementFailed("replacement order rejected")
			return err
		}

		qtyDec := decimal.NewFromInt(int64(pair.LotSize * pos.params.Lots))
		pos.mon.AddReplacementLeg(resp.OrderID, inst.TradingSymbol, inst.Token,
			result.TargetPremiumForNewLeg, qtyDec, result.NewLegType, 1)
		r.dispatcher.AddInstrumentToMonitoring(pos.params.UserID, executionID, inst.Token)
		return nil
	})
	if err != nil {
		r.logger.Error("leg replacement submission failed",
			zap.String("execution_id", executionID), zap.Error(err))
		pos.mon.SignalLegReplacementFailed("order pool unavailable")
	}
}

func (r *Runner) appendExecutionRecord(executionID string, pos *position, reason monitor.ExitReason) {
	dirMult := pos.params.Direction.Multiplier()
	realized := decimal.Zero
	legs := make([]string, 0, len(pos.mon.Legs()))
	for _, leg := range pos.mon.Legs() {
		signed := decimal.NewFromInt(int64(dirMult * leg.DirMult))
		realized = realized.Add(leg.PnL().Mul(signed))
		legs = append(legs, leg.Symbol)
	}

	rec := types.ExecutionRecord{
		ExecutionID:    executionID,
		UserID:         pos.params.UserID,
		StrategyType:   "short_straddle",
		Direction:      string(pos.params.Direction),
		SLMode:         string(pos.params.SLMode),
		Legs:           legs,
		EntryTimestamp: pos.entryTime,
		ExitTimestamp:  time.Now().In(utils.MarketZone()),
		ExitReason:     string(reason),
		RealizedPnL:    realized,
	}
	if err := r.execLog.Append(rec); err != nil {
		r.logger.Error("failed to append execution record", zap.Error(err))
	}
}

// InvalidateUser cancels pending restarts and stops every monitor owned by
// userID, used when the broker session dies.
func (r *Runner) InvalidateUser(userID string) {
	r.mu.Lock()
	var ids []string
	for id, pos := range r.positions {
		if pos.params.UserID == userID {
			ids = append(ids, id)
			pos.mon.Stop()
			delete(r.positions, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.dispatcher.StopMonitoring(userID, id)
	}
	r.scheduler.CancelUser(userID, ids)
}
