package backtest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/config"
	"github.com/atlas-quant/optionengine/internal/instrument"
	"github.com/atlas-quant/optionengine/internal/monitor"
	"github.com/atlas-quant/optionengine/pkg/types"
	"github.com/atlas-quant/optionengine/pkg/utils"
)

// marketCloseReason tags the forced square-off the harness applies to any
// position still open when the session ends.
const marketCloseReason = "MARKET_CLOSE_SQUARE_OFF"

// StraddleStrategy is the default harness strategy: sell (or buy) the ATM
// CE/PE pair at the first candle, then let the shared position monitor drive
// every exit decision through the worst-case intra-candle walk.
type StraddleStrategy struct {
	logger *zap.Logger

	mon     *monitor.PositionMonitor
	pair    instrument.ATMPair
	qty     decimal.Decimal

	entrySpot     decimal.Decimal
	entryCombined decimal.Decimal
	entryTime     time.Time
	lastSpot      decimal.Decimal
	orderCount    int

	closedLegs []TradeLeg
	legEntries map[string]decimal.Decimal

	pendingReplacement *monitor.ExitResult
	replacementSeq     int

	lastPnL decimal.Decimal
}

func NewStraddleStrategy(logger *zap.Logger) *StraddleStrategy {
	return &StraddleStrategy{logger: logger.Named("straddle")}
}

func (s *StraddleStrategy) Name() string { return "short_straddle" }

// Initialize validates the request; the actual entry happens on the first
// candle, when an entry spot price exists.
func (s *StraddleStrategy) Initialize(req *Request, ctx *Context) error {
	if req.ForcedExitEnabled {
		if _, _, err := config.ParseTimeOfDay(req.ForcedExitCutoff); err != nil {
			return err
		}
	}
	return nil
}

// enter opens the straddle at the candle's open.
func (s *StraddleStrategy) enter(candle types.Candle, ctx *Context) error {
	req := ctx.Request
	spot := candle.Open

	pair, err := instrument.ResolveATMFromDump(ctx.Dump, req.Underlying, req.Expiry, spot)
	if err != nil {
		return err
	}
	s.pair = pair
	ctx.LotSize = pair.LotSize
	s.qty = decimal.NewFromInt(int64(pair.LotSize * req.Lots))

	s.entrySpot = spot
	s.entryCombined = ctx.Estimator.EntryCombined(spot)
	s.entryTime = candle.Timestamp
	s.orderCount = 2
	s.closedLegs = nil
	s.legEntries = make(map[string]decimal.Decimal)
	s.pendingReplacement = nil
	s.lastPnL = decimal.Zero

	perLegEntry := s.entryCombined.Div(decimal.NewFromInt(2))

	var cutoff monitor.TimeOfDay
	if req.ForcedExitEnabled {
		h, m, _ := config.ParseTimeOfDay(req.ForcedExitCutoff)
		cutoff = monitor.TimeOfDay{Hour: h, Minute: m}
	}

	entryCombinedF, _ := s.entryCombined.Float64()
	cfg := monitor.MonitorConfig{
		ExecutionID:              uuid.NewString(),
		Direction:                req.Direction,
		SLMode:                   req.SLMode,
		TargetPoints:             req.TargetPoints,
		StopLossPoints:           req.StopLossPoints,
		TrailingEnabled:          req.TrailingEnabled,
		TrailingActivationPoints: req.TrailingActivationPoints,
		TrailingDistancePoints:   req.TrailingDistancePoints,
		ForcedExitEnabled:        req.ForcedExitEnabled,
		ForcedExitCutoff:         cutoff,
		PremiumEnabled:           req.PremiumEnabled,
		EntryPremium:             entryCombinedF,
		TargetDecayPct:           req.TargetDecayPct,
		StopLossExpansionPct:     req.StopLossExpansionPct,
	}

	s.mon = monitor.NewPositionMonitor(
		s.logger,
		cfg,
		nil, // exit-all: the walk observes deactivation directly
		s.onExitLeg,
		s.onLegReplacement,
	)
	ctx.Monitor = s.mon

	s.mon.AddLeg(utils.GenerateOrderID(), pair.CE.TradingSymbol, pair.CE.Token, perLegEntry, s.qty, monitor.CE, 1)
	s.mon.AddLeg(utils.GenerateOrderID(), pair.PE.TradingSymbol, pair.PE.Token, perLegEntry, s.qty, monitor.PE, 1)
	s.legEntries[pair.CE.TradingSymbol] = perLegEntry
	s.legEntries[pair.PE.TradingSymbol] = perLegEntry

	ctx.RecordEvent(TradeEvent{
		Timestamp: candle.Timestamp,
		EventType: EventEntry,
		LegPrices: legPricesSnapshot(s.mon.Legs()),
	})

	s.logger.Info("position entered",
		zap.String("execution_id", s.mon.ExecutionID()),
		zap.Int("strike", pair.Strike),
		zap.String("combined_premium", s.entryCombined.String()),
	)
	return nil
}

func (s *StraddleStrategy) onExitLeg(legSymbol string, reason monitor.ExitReason) {
	// The leg is already removed from the monitor; remember its round trip.
	entry := s.legEntries[legSymbol]
	s.closedLegs = append(s.closedLegs, TradeLeg{
		Symbol:     legSymbol,
		EntryPrice: entry,
	})
	s.orderCount++
}

func (s *StraddleStrategy) onLegReplacement(result monitor.ExitResult) {
	r := result
	s.pendingReplacement = &r
	// The exited leg's fill price is known here; patch the round trip the
	// onExitLeg callback just recorded.
	if n := len(s.closedLegs); n > 0 && s.closedLegs[n-1].Symbol == result.LegSymbol {
		s.closedLegs[n-1].ExitPrice = result.ExitedLegLTP
		s.closedLegs[n-1].Type = result.NewLegType
	}
}

// applyReplacement simulates the fill of the replacement leg the live engine
// would place through the order gateway: the new leg fills at the requested
// target premium.
func (s *StraddleStrategy) applyReplacement(ctx *Context, at time.Time) {
	rep := s.pendingReplacement
	s.pendingReplacement = nil

	s.replacementSeq++
	newSymbol := fmt.Sprintf("%s-R%d", rep.LegSymbol, s.replacementSeq)
	newToken := s.syntheticToken()

	s.mon.AddReplacementLeg(utils.GenerateOrderID(), newSymbol, newToken,
		rep.TargetPremiumForNewLeg, s.qty, rep.NewLegType, 1)
	s.legEntries[newSymbol] = rep.TargetPremiumForNewLeg
	s.legEntries[rep.LossMakingLegSymbol] = rep.LossMakingLegNewEntry
	s.orderCount++

	// Re-base the estimator so the rebased combined entry premium tracks
	// index moves from here on.
	legs := s.mon.Legs()
	combined := decimal.Zero
	for _, leg := range legs {
		combined = combined.Add(leg.EntryPrice())
	}
	s.entryCombined = combined
	s.entrySpot = s.lastSpot

	ctx.RecordEvent(TradeEvent{
		Timestamp: at,
		EventType: EventTick,
		LegPrices: legPricesSnapshot(legs),
		Reason:    string(rep.Reason),
	})

	s.logger.Info("replacement leg filled",
		zap.String("new_symbol", newSymbol),
		zap.String("entry_price", rep.TargetPremiumForNewLeg.String()),
	)
}

// syntheticToken derives a collision-free token for a simulated replacement
// contract.
func (s *StraddleStrategy) syntheticToken() int64 {
	return s.pair.CE.Token + int64(1000000+s.replacementSeq)
}

func (s *StraddleStrategy) OnCandle(candle types.Candle, ctx *Context, processed []types.Candle) error {
	if s.mon == nil {
		return s.enter(candle, ctx)
	}
	if !s.mon.IsActive() {
		return nil
	}
	s.walk(candle, ctx)
	return nil
}

func (s *StraddleStrategy) OnRestart(candle types.Candle, ctx *Context) error {
	ctx.RecordEvent(TradeEvent{
		Timestamp: candle.Timestamp,
		EventType: EventRestart,
	})
	return s.enter(candle, ctx)
}

func (s *StraddleStrategy) OnMarketClose(candle types.Candle, ctx *Context) error {
	if s.mon == nil || !s.mon.IsActive() {
		return nil
	}
	// Square off at the close: apply the closing price, then force the stop.
	s.applyPricePoint(ctx, candle.Close, candle.Timestamp)
	if s.mon.IsActive() {
		s.mon.Stop()
		s.finalizeTrade(ctx, candle.Timestamp, marketCloseReason)
	}
	return nil
}

// walk steps the monitor through the candle's worst-case price sequence; the
// first exit dispatch ends the walk.
func (s *StraddleStrategy) walk(candle types.Candle, ctx *Context) {
	seq := WorstCaseSequence(candle, ctx.Request.Direction)
	step := ctx.Request.CandleInterval.Duration() / 4

	for i, spot := range seq {
		at := candle.Timestamp.Add(time.Duration(i) * step)
		s.applyPricePoint(ctx, spot, at)

		if s.pendingReplacement != nil {
			s.applyReplacement(ctx, at)
			return
		}
		if !s.mon.IsActive() {
			reason := string(s.mon.ExitReason())
			s.finalizeTrade(ctx, at, reason)
			if reason == string(monitor.ReasonCumulativeTargetHit) ||
				reason == string(monitor.ReasonCumulativeStoplossHit) {
				if ctx.Request.FastForwardEnabled {
					ctx.RequestRestart(at)
				}
			}
			return
		}
	}

	// Candle survived without an exit: record the close-of-candle snapshot.
	ctx.RecordEvent(TradeEvent{
		Timestamp:     candle.Timestamp,
		EventType:     EventTick,
		LegPrices:     legPricesSnapshot(s.mon.Legs()),
		CumulativePnL: s.lastPnL,
		UnrealizedPnL: s.lastPnL.Mul(s.qty),
	})
}

// applyPricePoint estimates per-leg premiums at the index level and feeds
// them to the monitor as one synthetic tick batch.
func (s *StraddleStrategy) applyPricePoint(ctx *Context, spot decimal.Decimal, at time.Time) {
	s.lastSpot = spot
	legs := s.mon.Legs()
	combined := ctx.Estimator.CombinedAt(s.entrySpot, s.entryCombined, spot)
	perLeg := ctx.Estimator.PerLeg(combined, legs)

	ticks := make([]monitor.Tick, 0, len(perLeg))
	for token, price := range perLeg {
		ticks = append(ticks, monitor.Tick{Token: token, LTP: price})
	}

	ctx.RecordTickBatch(at, ticks)
	s.mon.UpdatePrices(ticks, at)
	s.lastPnL = s.cumulativePnL(ctx)
}

// cumulativePnL mirrors the monitor's points computation over the current
// legs, so the harness can report P&L after the monitor deactivates.
func (s *StraddleStrategy) cumulativePnL(ctx *Context) decimal.Decimal {
	dirMult := ctx.Request.Direction.Multiplier()
	sum := decimal.Zero
	for _, leg := range s.mon.Legs() {
		signed := decimal.NewFromInt(int64(dirMult * leg.DirMult))
		sum = sum.Add(leg.UnitPnL().Mul(signed))
	}
	return sum
}

// finalizeTrade records the completed round trip with charges.
func (s *StraddleStrategy) finalizeTrade(ctx *Context, at time.Time, reason string) {
	legs := s.mon.Legs()

	tradeLegs := make([]TradeLeg, 0, len(legs)+len(s.closedLegs))
	tradeLegs = append(tradeLegs, s.closedLegs...)
	exitCombined := decimal.Zero
	for _, leg := range legs {
		tradeLegs = append(tradeLegs, TradeLeg{
			Symbol:     leg.Symbol,
			Type:       leg.Type,
			EntryPrice: leg.EntryPrice(),
			ExitPrice:  leg.CurrentPrice(),
		})
		exitCombined = exitCombined.Add(leg.CurrentPrice())
		s.orderCount++
	}

	points := s.lastPnL
	amount := points.Mul(s.qty)

	var buyValue, sellValue decimal.Decimal
	entryValue := s.entryCombined.Mul(s.qty)
	exitValue := exitCombined.Mul(s.qty)
	if ctx.Request.Direction == monitor.Short {
		sellValue, buyValue = entryValue, exitValue
	} else {
		buyValue, sellValue = entryValue, exitValue
	}

	chargesCfg := ctx.Charges
	chargesCfg.Enabled = chargesCfg.Enabled && ctx.Request.ChargesEnabled
	charges := ComputeCharges(chargesCfg, buyValue, sellValue, s.orderCount)

	trade := TradeRecord{
		ExecutionID: s.mon.ExecutionID(),
		EntryTime:   s.entryTime,
		ExitTime:    at,
		ExitReason:  reason,
		Legs:        tradeLegs,
		PnLPoints:   points,
		PnLAmount:   amount,
		Charges:     charges,
		NetPnL:      amount.Sub(charges.Total),
	}
	ctx.RecordTrade(trade)

	ctx.RecordEvent(TradeEvent{
		Timestamp:     at,
		EventType:     EventExit,
		LegPrices:     legPricesSnapshot(legs),
		CumulativePnL: points,
		UnrealizedPnL: amount,
		Reason:        reason,
	})

	s.logger.Info("trade closed",
		zap.String("execution_id", s.mon.ExecutionID()),
		zap.String("reason", reason),
		zap.String("pnl_points", points.String()),
	)
}
