package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/metrics"
)

// legReplacementTimeout bounds how long exit evaluation stays paused after an
// ADJUST_LEG dispatch (§5 "Cancellation & timeouts").
const legReplacementTimeout = 30 * time.Second

// Tick is one instrument-token/last-traded-price pair delivered by the
// transport (§6 "Broker (market data)").
type Tick struct {
	Token int64
	LTP   decimal.Decimal
}

// MonitorConfig enumerates every recognized PositionMonitor construction
// field (spec §4.4). Percentage fields follow the normalization rule: a
// value >= 1.0 is a whole percent and is divided by 100, a value in (0,1) is
// already fractional.
type MonitorConfig struct {
	ExecutionID string
	OwnerUserID string

	Direction Direction
	SLMode    SLMode

	TargetPoints   float64
	StopLossPoints float64

	TrailingEnabled          bool
	TrailingActivationPoints float64
	TrailingDistancePoints   float64

	ForcedExitEnabled bool
	ForcedExitCutoff  TimeOfDay

	PremiumEnabled       bool
	EntryPremium         float64
	TargetDecayPct       float64
	StopLossExpansionPct float64

	LegAdjustProfitThresholdPct float64
	LegAdjustLossThresholdPct   float64
}

// premiumLevels is the immutable snapshot published whenever entry_premium is
// rewritten, so the hot path reads it with a single atomic load (§5
// "no locks on the hot path").
type premiumLevels struct {
	entry decimal.Decimal
	target decimal.Decimal
	stop   decimal.Decimal
}

// PositionMonitor owns one execution's legs and drives the priority-ordered
// exit strategies against each incoming tick batch (C4).
type PositionMonitor struct {
	logger *zap.Logger

	executionID string
	ownerUserID string

	direction Direction
	dirMult   int
	slMode    SLMode

	targetPoints   decimal.Decimal
	stopLossPoints decimal.Decimal

	targetDecayPct decimal.Decimal
	slExpansionPct decimal.Decimal
	premiumLevels  atomic.Value // premiumLevels

	legsMu       sync.Mutex // guards legsBySymbol only; never held on the tick hot path
	legsBySymbol map[string]*Leg
	legsByToken  atomic.Value // map[int64]*Leg
	legsSnapshot atomic.Value // []*Leg

	active atomic.Bool

	legReplacementInProgress atomic.Bool
	legReplacementStartNano  atomic.Int64
	legBeingReplaced         atomic.Value // string

	exitReasonMu sync.Mutex
	exitReason   ExitReason

	strategies []ExitStrategy
	ctx        ExitContext

	onExitAll        func(reason ExitReason)
	onExitLeg        func(legSymbol string, reason ExitReason)
	onLegReplacement func(result ExitResult)
}

// NewPositionMonitor constructs a monitor with no legs. Legs are added via
// AddLeg before the first UpdatePrices call.
func NewPositionMonitor(
	logger *zap.Logger,
	cfg MonitorConfig,
	onExitAll func(reason ExitReason),
	onExitLeg func(legSymbol string, reason ExitReason),
	onLegReplacement func(result ExitResult),
) *PositionMonitor {
	executionID := cfg.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	targetDecayPct := normalizePct(cfg.TargetDecayPct)
	slExpansionPct := normalizePct(cfg.StopLossExpansionPct)

	m := &PositionMonitor{
		logger:           logger.Named("monitor").With(zap.String("execution_id", executionID)),
		executionID:      executionID,
		ownerUserID:      cfg.OwnerUserID,
		direction:        cfg.Direction,
		dirMult:          cfg.Direction.Multiplier(),
		slMode:           cfg.SLMode,
		targetPoints:     decimal.NewFromFloat(cfg.TargetPoints),
		stopLossPoints:   decimal.NewFromFloat(cfg.StopLossPoints),
		targetDecayPct:   decimal.NewFromFloat(targetDecayPct),
		slExpansionPct:   decimal.NewFromFloat(slExpansionPct),
		legsBySymbol:     make(map[string]*Leg),
		onExitAll:        onExitAll,
		onExitLeg:        onExitLeg,
		onLegReplacement: onLegReplacement,
	}
	m.active.Store(true)
	m.legsByToken.Store(map[int64]*Leg{})
	m.legsSnapshot.Store([]*Leg{})

	entryPremium := decimal.NewFromFloat(cfg.EntryPremium)
	m.publishPremiumLevels(entryPremium)

	premiumEnabled := cfg.PremiumEnabled || cfg.SLMode == SLModePremium

	m.strategies = []ExitStrategy{
		NewTimeBasedForcedExit(cfg.ForcedExitEnabled, cfg.ForcedExitCutoff),
		NewPremiumBasedExit(premiumEnabled, cfg.LegAdjustProfitThresholdPct, cfg.LegAdjustLossThresholdPct),
		NewPointsBasedTarget(cfg.SLMode, cfg.TargetPoints),
		NewTrailingStopLoss(cfg.TrailingEnabled, cfg.TrailingActivationPoints, cfg.TrailingDistancePoints),
		NewPointsBasedStopLoss(cfg.SLMode, cfg.StopLossPoints),
	}

	return m
}

func (m *PositionMonitor) ExecutionID() string { return m.executionID }
func (m *PositionMonitor) IsActive() bool      { return m.active.Load() }

// ExitReason returns the reason the monitor stopped, or "" if still active.
func (m *PositionMonitor) ExitReason() ExitReason {
	m.exitReasonMu.Lock()
	defer m.exitReasonMu.Unlock()
	return m.exitReason
}

func (m *PositionMonitor) publishPremiumLevels(entryPremium decimal.Decimal) {
	levels := premiumLevels{
		entry:  entryPremium,
		target: entryPremium.Mul(decimal.NewFromInt(1).Sub(m.targetDecayPct)),
		stop:   entryPremium.Mul(decimal.NewFromInt(1).Add(m.slExpansionPct)),
	}
	m.premiumLevels.Store(levels)
}

// AddLeg appends a leg and republishes the legs-by-token/snapshot indexes in
// one atomic swap. A no-op if symbol is already present (§4.4).
func (m *PositionMonitor) AddLeg(orderID, symbol string, token int64, entryPrice, qty decimal.Decimal, typ OptionType, legDir int) {
	m.legsMu.Lock()
	defer m.legsMu.Unlock()

	if _, exists := m.legsBySymbol[symbol]; exists {
		return
	}
	m.legsBySymbol[symbol] = NewLeg(orderID, symbol, token, entryPrice, qty, typ, legDir)
	m.republishIndexesLocked()
}

// RemoveLeg removes a leg by symbol, mirroring AddLeg.
func (m *PositionMonitor) RemoveLeg(symbol string) {
	m.legsMu.Lock()
	defer m.legsMu.Unlock()

	if _, exists := m.legsBySymbol[symbol]; !exists {
		return
	}
	delete(m.legsBySymbol, symbol)
	m.republishIndexesLocked()
}

// republishIndexesLocked rebuilds legs-by-token and the cached legs slice as
// fresh immutable values and swaps them in with single atomic stores, so a
// concurrent hot-path read never observes a half-built index (§3 invariant).
func (m *PositionMonitor) republishIndexesLocked() {
	byToken := make(map[int64]*Leg, len(m.legsBySymbol))
	snapshot := make([]*Leg, 0, len(m.legsBySymbol))
	for _, leg := range m.legsBySymbol {
		byToken[leg.Token] = leg
		snapshot = append(snapshot, leg)
	}
	m.legsByToken.Store(byToken)
	m.legsSnapshot.Store(snapshot)
}

// AddReplacementLeg adds a new leg after an ADJUST_LEG dispatch, recomputes
// entry_premium from the current leg set, and clears the paused sub-state.
func (m *PositionMonitor) AddReplacementLeg(orderID, symbol string, token int64, entryPrice, qty decimal.Decimal, typ OptionType, legDir int) {
	m.AddLeg(orderID, symbol, token, entryPrice, qty, typ, legDir)
	m.UpdateEntryPremiumAfterLegReplacement()
	m.SignalLegReplacementComplete(symbol)
}

// UpdateEntryPremiumAfterLegReplacement recomputes entry_premium as the sum
// of current leg entry prices and republishes the derived premium levels.
func (m *PositionMonitor) UpdateEntryPremiumAfterLegReplacement() {
	legs := m.legsSnapshot.Load().([]*Leg)
	sum := decimal.Zero
	for _, leg := range legs {
		sum = sum.Add(leg.EntryPrice())
	}
	m.publishPremiumLevels(sum)
}

// SignalLegReplacementComplete exits the paused leg-replacement sub-state.
func (m *PositionMonitor) SignalLegReplacementComplete(symbol string) {
	m.legReplacementInProgress.Store(false)
}

// SignalLegReplacementFailed clears the pause immediately; the monitor
// becomes eligible for evaluation on the very next tick and will typically
// dispatch an EXIT_ALL because the paired leg is no longer balanced.
func (m *PositionMonitor) SignalLegReplacementFailed(reason string) {
	m.logger.Warn("leg replacement failed", zap.String("reason", reason))
	m.legReplacementInProgress.Store(false)
}

// Stop transitions the monitor to not-active. Terminal.
func (m *PositionMonitor) Stop() {
	m.active.Store(false)
}

// Legs returns the current cached legs snapshot. Safe to call concurrently.
func (m *PositionMonitor) Legs() []*Leg {
	return m.legsSnapshot.Load().([]*Leg)
}

// UpdatePrices is the hot path (§5): it never blocks, never allocates beyond
// what ctx already owns, and dispatches at most one exit action.
func (m *PositionMonitor) UpdatePrices(ticks []Tick, now time.Time) {
	if !m.active.Load() {
		return
	}

	tokenIndex := m.legsByToken.Load().(map[int64]*Leg)
	for _, t := range ticks {
		if leg, ok := tokenIndex[t.Token]; ok {
			leg.SetCurrentPrice(t.LTP)
		}
	}
	metrics.TickThroughput.Set(float64(len(ticks)))

	if m.legReplacementInProgress.Load() {
		startNano := m.legReplacementStartNano.Load()
		if time.Since(time.Unix(0, startNano)) < legReplacementTimeout {
			return
		}
		m.legReplacementInProgress.Store(false)
	}

	legs := m.legsSnapshot.Load().([]*Leg)
	if len(legs) == 0 {
		return
	}

	cumulativePnL := decimal.Zero
	for _, leg := range legs {
		signed := decimal.NewFromInt(int64(m.dirMult * leg.DirMult))
		cumulativePnL = cumulativePnL.Add(leg.UnitPnL().Mul(signed))
	}

	levels := m.premiumLevels.Load().(premiumLevels)

	m.ctx.ResetForTick(
		m.executionID,
		m.dirMult,
		m.direction,
		cumulativePnL,
		m.targetPoints,
		m.stopLossPoints,
		levels.entry,
		levels.target,
		levels.stop,
		legs,
		now,
	)

	for _, strategy := range m.strategies {
		if !m.safeIsEnabled(strategy) {
			continue
		}
		result := m.safeEvaluate(strategy)
		if result.Kind == NoExit {
			continue
		}
		m.dispatch(result)
		return
	}
}

// safeIsEnabled and safeEvaluate contain a strategy panic so it degrades to
// disabled/NO_EXIT instead of crashing the tick goroutine (§4.4 failure
// semantics, grounded on the teacher's workers.Pool panic-recovery pattern).
func (m *PositionMonitor) safeIsEnabled(s ExitStrategy) (enabled bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("strategy IsEnabled panicked", zap.Any("panic", r))
			enabled = false
		}
	}()
	return s.IsEnabled(&m.ctx)
}

func (m *PositionMonitor) safeEvaluate(s ExitStrategy) (result ExitResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("strategy Evaluate panicked", zap.Any("panic", r))
			result = NoExitResult
		}
	}()
	return s.Evaluate(&m.ctx)
}

func (m *PositionMonitor) dispatch(result ExitResult) {
	switch result.Kind {
	case ExitAll:
		m.dispatchExitAll(result.Reason)
	case ExitLeg:
		m.dispatchExitLeg(result.LegSymbol, result.Reason)
	case AdjustLeg:
		m.dispatchAdjustLeg(result)
	}
}

func (m *PositionMonitor) dispatchExitAll(reason ExitReason) {
	m.active.Store(false)
	m.exitReasonMu.Lock()
	m.exitReason = reason
	m.exitReasonMu.Unlock()

	metrics.IncMonitorExit(string(reason))
	m.logger.Info("exit all",
		zap.String("reason", string(reason)),
	)

	m.safeCallback(func() {
		if m.onExitAll != nil {
			m.onExitAll(reason)
		}
	})
}

func (m *PositionMonitor) dispatchExitLeg(legSymbol string, reason ExitReason) {
	m.legsMu.Lock()
	_, existed := m.legsBySymbol[legSymbol]
	if existed {
		delete(m.legsBySymbol, legSymbol)
		m.republishIndexesLocked()
	}
	remaining := len(m.legsBySymbol)
	m.legsMu.Unlock()

	metrics.IncMonitorExit(string(reason))
	m.logger.Info("exit leg", zap.String("leg_symbol", legSymbol), zap.String("reason", string(reason)))

	m.safeCallback(func() {
		if m.onExitLeg != nil {
			m.onExitLeg(legSymbol, reason)
		}
	})

	if remaining == 0 {
		m.Stop()
	}
}

func (m *PositionMonitor) dispatchAdjustLeg(result ExitResult) {
	// Remove the exited (profitable) leg first, as ADJUST_LEG always implies
	// the equivalent of an EXIT_LEG for exited_leg_symbol (§4.4 "additionally").
	m.dispatchExitLeg(result.LegSymbol, result.Reason)
	if !m.active.Load() {
		return
	}

	m.legsMu.Lock()
	if lossLeg, ok := m.legsBySymbol[result.LossMakingLegSymbol]; ok {
		lossLeg.SetEntryPrice(result.LossMakingLegNewEntry)
	}
	m.legsMu.Unlock()

	m.legBeingReplaced.Store(result.LegSymbol)
	m.legReplacementStartNano.Store(time.Now().UnixNano())
	m.legReplacementInProgress.Store(true)

	m.logger.Info("adjust leg",
		zap.String("exited_leg", result.LegSymbol),
		zap.String("loss_making_leg", result.LossMakingLegSymbol),
		zap.String("new_leg_type", string(result.NewLegType)),
	)

	m.safeCallback(func() {
		if m.onLegReplacement != nil {
			m.onLegReplacement(result)
		}
	})
}

// safeCallback logs and swallows a panicking callback; the monitor remains in
// whichever state the dispatch already left it (§4.4).
func (m *PositionMonitor) safeCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("exit callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
