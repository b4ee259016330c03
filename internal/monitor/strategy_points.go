package monitor

// PointsBasedTarget is priority 100: exits the whole position once cumulative
// points P&L reaches the configured target.
type PointsBasedTarget struct {
	enabled bool
}

// NewPointsBasedTarget resolves enabled once from sl_mode/target_points,
// neither of which can change after the monitor is built.
func NewPointsBasedTarget(slMode SLMode, targetPoints float64) *PointsBasedTarget {
	enabled := (slMode == SLModePoints || slMode == SLModeMTM) && targetPoints > 0
	return &PointsBasedTarget{enabled: enabled}
}

func (s *PointsBasedTarget) Priority() int { return 100 }

func (s *PointsBasedTarget) IsEnabled(ctx *ExitContext) bool { return s.enabled }

func (s *PointsBasedTarget) Evaluate(ctx *ExitContext) ExitResult {
	if ctx.CumulativePnL.GreaterThanOrEqual(ctx.TargetPoints) {
		return ExitResult{Kind: ExitAll, Reason: ReasonCumulativeTargetHit}
	}
	return NoExitResult
}

// PointsBasedStopLoss is priority 400: exits the whole position once
// cumulative points P&L falls to or below the negated stop-loss threshold.
type PointsBasedStopLoss struct {
	enabled bool
}

func NewPointsBasedStopLoss(slMode SLMode, stopLossPoints float64) *PointsBasedStopLoss {
	enabled := (slMode == SLModePoints || slMode == SLModeMTM) && stopLossPoints > 0
	return &PointsBasedStopLoss{enabled: enabled}
}

func (s *PointsBasedStopLoss) Priority() int { return 400 }

func (s *PointsBasedStopLoss) IsEnabled(ctx *ExitContext) bool { return s.enabled }

func (s *PointsBasedStopLoss) Evaluate(ctx *ExitContext) ExitResult {
	if ctx.CumulativePnL.LessThanOrEqual(ctx.StopLossPoints.Neg()) {
		return ExitResult{Kind: ExitAll, Reason: ReasonCumulativeStoplossHit}
	}
	return NoExitResult
}
