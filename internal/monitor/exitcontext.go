package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the monitor's overall stance.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// DirectionMultiplier returns +1 for LONG, -1 for SHORT.
func (d Direction) Multiplier() int {
	if d == Short {
		return -1
	}
	return 1
}

// SLMode selects which family of exit strategies is active.
type SLMode string

const (
	SLModePoints  SLMode = "POINTS"
	SLModePremium SLMode = "PREMIUM"
	SLModeMTM     SLMode = "MTM"
)

// ExitContext is a mutable, per-monitor, reusable snapshot rebuilt in place on
// every tick batch (§4.2). Consumers — the ExitStrategy variants — must treat
// it as valid only for the duration of a single EvaluateExitConditions call;
// nothing retains a reference to it across ticks.
type ExitContext struct {
	ExecutionID         string
	DirectionMultiplier int
	Direction           Direction

	CumulativePnL       decimal.Decimal
	TargetPoints        decimal.Decimal
	StopLossPoints       decimal.Decimal

	EntryPremium           decimal.Decimal
	TargetPremiumLevel     decimal.Decimal
	StopLossPremiumLevel   decimal.Decimal

	LegsView []*Leg

	// SimulatedNow is used only by TimeBasedForcedExit; in live operation it is
	// wall-clock time, in backtest it is the candle's simulated timestamp.
	SimulatedNow time.Time
}

// ResetForTick rewrites every field in place so no per-tick allocation occurs.
func (c *ExitContext) ResetForTick(
	executionID string,
	dirMult int,
	dir Direction,
	cumulativePnL, targetPoints, stopLossPoints decimal.Decimal,
	entryPremium, targetPremiumLevel, stopLossPremiumLevel decimal.Decimal,
	legs []*Leg,
	now time.Time,
) {
	c.ExecutionID = executionID
	c.DirectionMultiplier = dirMult
	c.Direction = dir
	c.CumulativePnL = cumulativePnL
	c.TargetPoints = targetPoints
	c.StopLossPoints = stopLossPoints
	c.EntryPremium = entryPremium
	c.TargetPremiumLevel = targetPremiumLevel
	c.StopLossPremiumLevel = stopLossPremiumLevel
	c.LegsView = legs
	c.SimulatedNow = now
}

// CombinedLTP sums current price across every leg in view — the "combined
// premium" used by PremiumBasedExit.
func (c *ExitContext) CombinedLTP() decimal.Decimal {
	sum := decimal.Zero
	for _, leg := range c.LegsView {
		sum = sum.Add(leg.CurrentPrice())
	}
	return sum
}
