package monitor

import "github.com/shopspring/decimal"

// PremiumBasedExit is priority 50. It watches combined per-leg LTP against
// entry-premium-derived target/stop levels and, short of either, can ask the
// owner to exit a disproportionately profitable leg and replace it (§4.3).
type PremiumBasedExit struct {
	enabled bool

	// ProfitThresholdPct/LossThresholdPct gate the ADJUST_LEG rule: a leg must
	// be profitable (loss-making) by more than this fraction of its entry
	// price, beyond direction, before it qualifies. Zero means any nonzero
	// profit/loss qualifies (spec §9 Open Question resolution).
	profitThresholdPct decimal.Decimal
	lossThresholdPct   decimal.Decimal
}

// NewPremiumBasedExit constructs the strategy. enabled is resolved once at
// monitor-build time from sl_mode/config, since neither changes afterward.
func NewPremiumBasedExit(enabled bool, profitThresholdPct, lossThresholdPct float64) *PremiumBasedExit {
	return &PremiumBasedExit{
		enabled:            enabled,
		profitThresholdPct: decimal.NewFromFloat(normalizePct(profitThresholdPct)),
		lossThresholdPct:   decimal.NewFromFloat(normalizePct(lossThresholdPct)),
	}
}

func (s *PremiumBasedExit) Priority() int { return 50 }

func (s *PremiumBasedExit) IsEnabled(ctx *ExitContext) bool { return s.enabled }

func (s *PremiumBasedExit) Evaluate(ctx *ExitContext) ExitResult {
	combined := ctx.CombinedLTP()

	if combined.LessThanOrEqual(ctx.TargetPremiumLevel) {
		return ExitResult{Kind: ExitAll, Reason: ReasonPremiumDecayTarget}
	}
	if combined.GreaterThanOrEqual(ctx.StopLossPremiumLevel) {
		return ExitResult{Kind: ExitAll, Reason: ReasonPremiumExpansionSL}
	}

	if result, ok := s.evaluateLegAdjustment(ctx); ok {
		return result
	}
	return NoExitResult
}

// evaluateLegAdjustment implements the "exactly one leg profitable enough,
// the other loss-making enough" rebalancing rule. It only considers exactly
// two legs: the rule is undefined (and never fires) for any other leg count.
func (s *PremiumBasedExit) evaluateLegAdjustment(ctx *ExitContext) (ExitResult, bool) {
	legs := ctx.LegsView
	if len(legs) != 2 {
		return NoExitResult, false
	}

	a, b := legs[0], legs[1]

	aSignedUnit := a.UnitPnL().Mul(decimal.NewFromInt(int64(ctx.DirectionMultiplier * a.DirMult)))
	bSignedUnit := b.UnitPnL().Mul(decimal.NewFromInt(int64(ctx.DirectionMultiplier * b.DirMult)))

	var profitable, lossMaking *Leg
	var profitableUnit, lossUnit decimal.Decimal

	switch {
	case aSignedUnit.IsPositive() && bSignedUnit.IsNegative():
		profitable, lossMaking = a, b
		profitableUnit, lossUnit = aSignedUnit, bSignedUnit
	case bSignedUnit.IsPositive() && aSignedUnit.IsNegative():
		profitable, lossMaking = b, a
		profitableUnit, lossUnit = bSignedUnit, aSignedUnit
	default:
		return NoExitResult, false
	}

	profitThreshold := profitable.EntryPrice().Mul(s.profitThresholdPct)
	lossThreshold := lossMaking.EntryPrice().Mul(s.lossThresholdPct)

	if profitableUnit.LessThanOrEqual(profitThreshold) {
		return NoExitResult, false
	}
	if lossUnit.Abs().LessThanOrEqual(lossThreshold) {
		return NoExitResult, false
	}

	return ExitResult{
		Kind:                   AdjustLeg,
		Reason:                 ReasonLegAdjustProfitRebalance,
		LegSymbol:              profitable.Symbol,
		NewLegType:             profitable.Type,
		TargetPremiumForNewLeg: lossMaking.CurrentPrice(),
		LossMakingLegSymbol:    lossMaking.Symbol,
		LossMakingLegNewEntry:  lossMaking.CurrentPrice(),
		ExitedLegLTP:           profitable.CurrentPrice(),
	}, true
}
