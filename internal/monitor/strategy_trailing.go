package monitor

import "github.com/shopspring/decimal"

// TrailingStopLoss is priority 300. It activates once cumulative P&L reaches
// activationPoints, then trails distancePoints behind the running high-water
// mark; it never deactivates once armed (§4.3).
//
// Fields are plain (not atomic): the monitor invokes Evaluate serially for a
// given execution_id, so no concurrent mutation of this strategy's state can
// occur.
type TrailingStopLoss struct {
	enabled         bool
	activationPoints decimal.Decimal
	distancePoints   decimal.Decimal

	activated bool
	hwm       decimal.Decimal
	level     decimal.Decimal
}

func NewTrailingStopLoss(enabled bool, activationPoints, distancePoints float64) *TrailingStopLoss {
	return &TrailingStopLoss{
		enabled:          enabled,
		activationPoints: decimal.NewFromFloat(activationPoints),
		distancePoints:   decimal.NewFromFloat(distancePoints),
	}
}

func (s *TrailingStopLoss) Priority() int { return 300 }

func (s *TrailingStopLoss) IsEnabled(ctx *ExitContext) bool { return s.enabled }

func (s *TrailingStopLoss) Evaluate(ctx *ExitContext) ExitResult {
	pnl := ctx.CumulativePnL

	if !s.activated {
		if pnl.GreaterThanOrEqual(s.activationPoints) {
			s.activated = true
			s.hwm = pnl
			s.level = pnl.Sub(s.distancePoints)
		}
		return NoExitResult
	}

	if pnl.GreaterThan(s.hwm) {
		delta := pnl.Sub(s.hwm)
		s.hwm = s.hwm.Add(delta)
		s.level = s.level.Add(delta)
	}

	if pnl.LessThanOrEqual(s.level) {
		return ExitResult{
			Kind:            ExitAll,
			Reason:          ReasonTrailingStoplossHit,
			TrailingCurrent: pnl,
			TrailingHWM:     s.hwm,
			TrailingLevel:   s.level,
		}
	}
	return NoExitResult
}
