package monitor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func marketTime(hour, minute int) time.Time {
	zone := time.FixedZone("IST", 5*3600+1800)
	return time.Date(2026, 7, 28, hour, minute, 0, 0, zone)
}

func TestPointsTargetLong(t *testing.T) {
	var exitReason ExitReason
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID:    "exec-target-long",
		Direction:      Long,
		SLMode:         SLModePoints,
		TargetPoints:   15,
		StopLossPoints: 10,
	}, func(reason ExitReason) { exitReason = reason }, nil, nil)

	qty := decimal.NewFromInt(50)
	m.AddLeg("o1", "NIFTY24500CE", 1, dec(150), qty, CE, 1)
	m.AddLeg("o2", "NIFTY24500PE", 2, dec(145), qty, PE, 1)

	// Combined unit P&L +7: below target.
	m.UpdatePrices([]Tick{
		{Token: 1, LTP: dec(153.5)},
		{Token: 2, LTP: dec(148.5)},
	}, marketTime(9, 45))
	if !m.IsActive() {
		t.Fatal("monitor exited below target")
	}

	// Combined unit P&L +16: target hit.
	m.UpdatePrices([]Tick{
		{Token: 1, LTP: dec(158)},
		{Token: 2, LTP: dec(153)},
	}, marketTime(10, 5))

	if m.IsActive() {
		t.Fatal("monitor still active after target hit")
	}
	if exitReason != ReasonCumulativeTargetHit {
		t.Fatalf("exit reason = %s, want %s", exitReason, ReasonCumulativeTargetHit)
	}

	realized := decimal.Zero
	for _, leg := range m.Legs() {
		realized = realized.Add(leg.PnL())
	}
	if !realized.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("realized = %s, want 800", realized)
	}
}

func TestPointsStopShort(t *testing.T) {
	var exitReason ExitReason
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID:    "exec-stop-short",
		Direction:      Short,
		SLMode:         SLModePoints,
		TargetPoints:   15,
		StopLossPoints: 10,
	}, func(reason ExitReason) { exitReason = reason }, nil, nil)

	qty := decimal.NewFromInt(50)
	m.AddLeg("o1", "NIFTY24500CE", 1, dec(120), qty, CE, 1)
	m.AddLeg("o2", "NIFTY24500PE", 2, dec(115), qty, PE, 1)

	// Combined premium rises 11 points: cumulative P&L is -11 for SHORT.
	m.UpdatePrices([]Tick{
		{Token: 1, LTP: dec(126)},
		{Token: 2, LTP: dec(120)},
	}, marketTime(9, 50))

	if m.IsActive() {
		t.Fatal("monitor still active past stop loss")
	}
	if exitReason != ReasonCumulativeStoplossHit {
		t.Fatalf("exit reason = %s, want %s", exitReason, ReasonCumulativeStoplossHit)
	}
}

func TestTrailingStopExitPath(t *testing.T) {
	var exitReason ExitReason
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID:              "exec-trailing",
		Direction:                Long,
		SLMode:                   SLModePoints,
		TrailingEnabled:          true,
		TrailingActivationPoints: 5,
		TrailingDistancePoints:   2,
	}, func(reason ExitReason) { exitReason = reason }, nil, nil)

	m.AddLeg("o1", "NIFTY24500CE", 1, dec(100), decimal.NewFromInt(1), CE, 1)

	// P&L path: 0 -> 3 -> 6 (activate, HWM 6, level 4) -> 9 (HWM 9, level 7)
	// -> 7.5 (above level, holds) -> 6.5 (at or below level, exits).
	for _, price := range []float64{100, 103, 106, 109, 107.5} {
		m.UpdatePrices([]Tick{{Token: 1, LTP: dec(price)}}, marketTime(10, 0))
		if !m.IsActive() {
			t.Fatalf("monitor exited early at price %v", price)
		}
	}

	m.UpdatePrices([]Tick{{Token: 1, LTP: dec(106.5)}}, marketTime(10, 30))
	if m.IsActive() {
		t.Fatal("monitor still active below trail level")
	}
	if exitReason != ReasonTrailingStoplossHit {
		t.Fatalf("exit reason = %s, want %s", exitReason, ReasonTrailingStoplossHit)
	}
}

func TestForcedTimeExit(t *testing.T) {
	var exitReason ExitReason
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID:       "exec-forced",
		Direction:         Short,
		SLMode:            SLModePoints,
		ForcedExitEnabled: true,
		ForcedExitCutoff:  TimeOfDay{Hour: 15, Minute: 10},
	}, func(reason ExitReason) { exitReason = reason }, nil, nil)

	m.AddLeg("o1", "NIFTY24500CE", 1, dec(150), decimal.NewFromInt(50), CE, 1)

	m.UpdatePrices([]Tick{{Token: 1, LTP: dec(150)}}, marketTime(15, 9))
	if !m.IsActive() {
		t.Fatal("monitor exited before cutoff")
	}

	m.UpdatePrices([]Tick{{Token: 1, LTP: dec(150)}}, marketTime(15, 10))
	if m.IsActive() {
		t.Fatal("monitor still active at cutoff")
	}
	if exitReason != ReasonTimeBasedForcedExit {
		t.Fatalf("exit reason = %s, want %s", exitReason, ReasonTimeBasedForcedExit)
	}
}

func TestPremiumDecayShortStraddle(t *testing.T) {
	var exitReason ExitReason
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID:          "exec-premium",
		Direction:            Short,
		SLMode:               SLModePremium,
		PremiumEnabled:       true,
		EntryPremium:         300,
		TargetDecayPct:       5,  // whole percent, normalized to 0.05
		StopLossExpansionPct: 10, // whole percent, normalized to 0.10
	}, func(reason ExitReason) { exitReason = reason }, nil, nil)

	qty := decimal.NewFromInt(50)
	m.AddLeg("o1", "NIFTY24500CE", 1, dec(150), qty, CE, 1)
	m.AddLeg("o2", "NIFTY24500PE", 2, dec(150), qty, PE, 1)

	levels := m.premiumLevels.Load().(premiumLevels)
	if !levels.target.Equal(dec(285)) || !levels.stop.Equal(dec(330)) {
		t.Fatalf("levels = target %s stop %s, want 285/330", levels.target, levels.stop)
	}

	// Combined premium walks 300 -> 292 -> 286 -> 284.
	for _, combined := range []float64{300, 292, 286} {
		each := combined / 2
		m.UpdatePrices([]Tick{
			{Token: 1, LTP: dec(each)},
			{Token: 2, LTP: dec(each)},
		}, marketTime(10, 0))
		if !m.IsActive() {
			t.Fatalf("monitor exited early at combined %v", combined)
		}
	}
	m.UpdatePrices([]Tick{
		{Token: 1, LTP: dec(142)},
		{Token: 2, LTP: dec(142)},
	}, marketTime(10, 10))

	if m.IsActive() {
		t.Fatal("monitor still active below decay target")
	}
	if exitReason != ReasonPremiumDecayTarget {
		t.Fatalf("exit reason = %s, want %s", exitReason, ReasonPremiumDecayTarget)
	}
}

func TestLegReplacementFlow(t *testing.T) {
	var exitedLeg string
	var adjust ExitResult
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID:          "exec-replace",
		Direction:            Short,
		SLMode:               SLModePremium,
		PremiumEnabled:       true,
		EntryPremium:         300,
		TargetDecayPct:       0.05,
		StopLossExpansionPct: 0.10,
	},
		nil,
		func(legSymbol string, reason ExitReason) { exitedLeg = legSymbol },
		func(result ExitResult) { adjust = result },
	)

	qty := decimal.NewFromInt(50)
	m.AddLeg("o1", "NIFTY24500CE", 1, dec(150), qty, CE, 1)
	m.AddLeg("o2", "NIFTY24500PE", 2, dec(150), qty, PE, 1)

	// CE decays to 90 (profitable for SHORT), PE expands to 210
	// (loss-making); combined 300 sits between the premium levels, so the
	// adjustment rule fires.
	m.UpdatePrices([]Tick{
		{Token: 1, LTP: dec(90)},
		{Token: 2, LTP: dec(210)},
	}, marketTime(11, 0))

	if exitedLeg != "NIFTY24500CE" {
		t.Fatalf("exited leg = %q, want NIFTY24500CE", exitedLeg)
	}
	if adjust.Kind != AdjustLeg {
		t.Fatalf("adjust kind = %v, want AdjustLeg", adjust.Kind)
	}
	if adjust.NewLegType != CE {
		t.Fatalf("new leg type = %s, want CE", adjust.NewLegType)
	}
	if !adjust.TargetPremiumForNewLeg.Equal(dec(210)) {
		t.Fatalf("target premium = %s, want 210", adjust.TargetPremiumForNewLeg)
	}

	// The loss-making PE was re-based to its LTP.
	var pe *Leg
	for _, leg := range m.Legs() {
		if leg.Symbol == "NIFTY24500PE" {
			pe = leg
		}
	}
	if pe == nil || !pe.EntryPrice().Equal(dec(210)) {
		t.Fatalf("PE entry not rewritten to 210")
	}

	// Evaluation is paused while the replacement is pending: a tick that
	// would otherwise hit the expansion stop is ignored.
	m.UpdatePrices([]Tick{{Token: 2, LTP: dec(400)}}, marketTime(11, 1))
	if !m.IsActive() {
		t.Fatal("monitor evaluated while replacement pending")
	}

	// Replacement fills at 205: combined entry premium 415, levels 394.25
	// and 456.5.
	m.AddReplacementLeg("o3", "NIFTY24400CE", 3, dec(205), qty, CE, 1)

	levels := m.premiumLevels.Load().(premiumLevels)
	if !levels.entry.Equal(dec(415)) {
		t.Fatalf("entry premium = %s, want 415", levels.entry)
	}
	if !levels.target.Equal(dec(394.25)) {
		t.Fatalf("target level = %s, want 394.25", levels.target)
	}
	if !levels.stop.Equal(dec(456.5)) {
		t.Fatalf("stop level = %s, want 456.5", levels.stop)
	}
	if !levels.target.LessThanOrEqual(levels.entry) || !levels.entry.LessThanOrEqual(levels.stop) {
		t.Fatal("premium level ordering invariant violated")
	}
}

func TestInactiveMonitorIgnoresTicks(t *testing.T) {
	exits := 0
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID:    "exec-inactive",
		Direction:      Long,
		SLMode:         SLModePoints,
		TargetPoints:   5,
		StopLossPoints: 5,
	}, func(reason ExitReason) { exits++ }, nil, nil)

	m.AddLeg("o1", "NIFTY24500CE", 1, dec(100), decimal.NewFromInt(1), CE, 1)

	m.UpdatePrices([]Tick{{Token: 1, LTP: dec(110)}}, marketTime(10, 0))
	if m.IsActive() {
		t.Fatal("monitor should have exited")
	}

	// Further ticks never dispatch again.
	m.UpdatePrices([]Tick{{Token: 1, LTP: dec(80)}}, marketTime(10, 1))
	m.UpdatePrices([]Tick{{Token: 1, LTP: dec(120)}}, marketTime(10, 2))
	if exits != 1 {
		t.Fatalf("exit callbacks = %d, want exactly 1", exits)
	}
}

func TestAtMostOneExitActionPerTick(t *testing.T) {
	// Target and stop are both enabled; the +5 tick hits the target, and
	// exactly one exit action is dispatched for it.
	dispatches := 0
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID:    "exec-single-action",
		Direction:      Long,
		SLMode:         SLModePoints,
		TargetPoints:   1,
		StopLossPoints: 1,
	}, func(reason ExitReason) {
		dispatches++
		if reason != ReasonCumulativeTargetHit {
			t.Fatalf("reason = %s, want target", reason)
		}
	}, nil, nil)

	m.AddLeg("o1", "NIFTY24500CE", 1, dec(100), decimal.NewFromInt(1), CE, 1)
	m.UpdatePrices([]Tick{{Token: 1, LTP: dec(105)}}, marketTime(10, 0))
	if dispatches != 1 {
		t.Fatalf("dispatches = %d, want 1", dispatches)
	}
}

func TestAddLegDuplicateSymbolIsNoop(t *testing.T) {
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID: "exec-dup",
		Direction:   Long,
		SLMode:      SLModePoints,
	}, nil, nil, nil)

	m.AddLeg("o1", "NIFTY24500CE", 1, dec(100), decimal.NewFromInt(1), CE, 1)
	m.AddLeg("o2", "NIFTY24500CE", 9, dec(999), decimal.NewFromInt(1), CE, 1)

	legs := m.Legs()
	if len(legs) != 1 {
		t.Fatalf("legs = %d, want 1", len(legs))
	}
	if legs[0].Token != 1 {
		t.Fatalf("duplicate AddLeg replaced the original leg")
	}
}

func TestUnknownTokenTickIsDropped(t *testing.T) {
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID: "exec-unknown",
		Direction:   Long,
		SLMode:      SLModePoints,
	}, nil, nil, nil)

	m.AddLeg("o1", "NIFTY24500CE", 1, dec(100), decimal.NewFromInt(1), CE, 1)
	m.UpdatePrices([]Tick{{Token: 42, LTP: dec(1)}}, marketTime(10, 0))

	if !m.Legs()[0].CurrentPrice().Equal(dec(100)) {
		t.Fatal("unknown-token tick mutated a leg")
	}
	if !m.IsActive() {
		t.Fatal("unknown-token tick deactivated the monitor")
	}
}

func TestPanickingCallbackIsContained(t *testing.T) {
	m := NewPositionMonitor(zap.NewNop(), MonitorConfig{
		ExecutionID:  "exec-panic",
		Direction:    Long,
		SLMode:       SLModePoints,
		TargetPoints: 1,
	}, func(reason ExitReason) { panic("callback boom") }, nil, nil)

	m.AddLeg("o1", "NIFTY24500CE", 1, dec(100), decimal.NewFromInt(1), CE, 1)
	m.UpdatePrices([]Tick{{Token: 1, LTP: dec(105)}}, marketTime(10, 0)) // must not panic

	if m.IsActive() {
		t.Fatal("monitor state lost after callback panic")
	}
	if m.ExitReason() != ReasonCumulativeTargetHit {
		t.Fatalf("exit reason = %s", m.ExitReason())
	}
}
