package monitor

import "github.com/shopspring/decimal"

// ExitReason tags a dispatch. Reasons are compared by exact equality, never by
// substring containment — TRAILING_STOPLOSS_HIT and CUMULATIVE_STOPLOSS_HIT
// are deliberately distinct values, not variants of a shared "STOP" match.
type ExitReason string

const (
	ReasonTimeBasedForcedExit     ExitReason = "TIME_BASED_FORCED_EXIT"
	ReasonPremiumDecayTarget      ExitReason = "PREMIUM_DECAY_TARGET_HIT"
	ReasonPremiumExpansionSL      ExitReason = "PREMIUM_EXPANSION_SL_HIT"
	ReasonCumulativeTargetHit     ExitReason = "CUMULATIVE_TARGET_HIT"
	ReasonTrailingStoplossHit     ExitReason = "TRAILING_STOPLOSS_HIT"
	ReasonCumulativeStoplossHit   ExitReason = "CUMULATIVE_STOPLOSS_HIT"
	ReasonLegAdjustProfitRebalance ExitReason = "LEG_ADJUST_PROFIT_REBALANCE"
)

// ResultKind is the tag of the ExitResult variant.
type ResultKind int

const (
	NoExit ResultKind = iota
	ExitAll
	ExitLeg
	AdjustLeg
)

// ExitResult is the tagged union every ExitStrategy.Evaluate returns. Only the
// fields relevant to Kind are populated; it is a plain value, never allocated
// per decision beyond what the caller already owns.
type ExitResult struct {
	Kind ResultKind

	Reason ExitReason // EXIT_ALL, EXIT_LEG

	// EXIT_LEG / ADJUST_LEG
	LegSymbol string

	// ADJUST_LEG payload
	NewLegType              OptionType
	TargetPremiumForNewLeg  decimal.Decimal
	LossMakingLegSymbol     string
	LossMakingLegNewEntry   decimal.Decimal
	ExitedLegLTP            decimal.Decimal

	// TrailingStopLoss attaches its state at the moment of firing.
	TrailingCurrent decimal.Decimal
	TrailingHWM     decimal.Decimal
	TrailingLevel   decimal.Decimal
}

// NoExitResult is the shared zero-allocation NO_EXIT value.
var NoExitResult = ExitResult{Kind: NoExit}
