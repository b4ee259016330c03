package monitor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func ctxWithPnL(pnl float64) *ExitContext {
	ctx := &ExitContext{}
	ctx.ResetForTick("exec-test", 1, Long,
		dec(pnl), dec(0), dec(0),
		dec(0), dec(0), dec(0),
		nil, time.Time{})
	return ctx
}

func TestTrailingStopMonotoneState(t *testing.T) {
	s := NewTrailingStopLoss(true, 5, 2)

	// Before activation nothing fires, however deep the loss.
	if r := s.Evaluate(ctxWithPnL(-50)); r.Kind != NoExit {
		t.Fatal("trailing fired before activation")
	}

	// Activation at 6.
	if r := s.Evaluate(ctxWithPnL(6)); r.Kind != NoExit {
		t.Fatal("activation must not fire an exit")
	}
	if !s.hwm.Equal(dec(6)) || !s.level.Equal(dec(4)) {
		t.Fatalf("after activation hwm=%s level=%s, want 6/4", s.hwm, s.level)
	}

	// HWM rises with P&L and never falls.
	s.Evaluate(ctxWithPnL(9))
	if !s.hwm.Equal(dec(9)) || !s.level.Equal(dec(7)) {
		t.Fatalf("hwm=%s level=%s, want 9/7", s.hwm, s.level)
	}
	s.Evaluate(ctxWithPnL(8))
	if !s.hwm.Equal(dec(9)) {
		t.Fatal("hwm decreased")
	}
	if !s.level.Equal(s.hwm.Sub(dec(2))) {
		t.Fatal("level is not hwm - distance")
	}

	// Crossing the level fires with the state attached.
	r := s.Evaluate(ctxWithPnL(6.5))
	if r.Kind != ExitAll || r.Reason != ReasonTrailingStoplossHit {
		t.Fatalf("result = %+v", r)
	}
	if !r.TrailingCurrent.Equal(dec(6.5)) || !r.TrailingHWM.Equal(dec(9)) || !r.TrailingLevel.Equal(dec(7)) {
		t.Fatalf("payload = current %s hwm %s level %s", r.TrailingCurrent, r.TrailingHWM, r.TrailingLevel)
	}
}

func TestTimeBasedForcedExitFiresOnce(t *testing.T) {
	s := NewTimeBasedForcedExit(true, TimeOfDay{Hour: 15, Minute: 10})

	before := &ExitContext{SimulatedNow: marketTime(15, 9)}
	if r := s.Evaluate(before); r.Kind != NoExit {
		t.Fatal("fired before cutoff")
	}

	at := &ExitContext{SimulatedNow: marketTime(15, 10)}
	if r := s.Evaluate(at); r.Kind != ExitAll || r.Reason != ReasonTimeBasedForcedExit {
		t.Fatal("did not fire at cutoff")
	}

	// Idempotent: once fired it is no longer enabled.
	if s.IsEnabled(at) {
		t.Fatal("strategy still enabled after firing")
	}
}

func TestPointsStrategiesEnabledByMode(t *testing.T) {
	cases := []struct {
		mode        SLMode
		points      float64
		wantEnabled bool
	}{
		{SLModePoints, 10, true},
		{SLModeMTM, 10, true},
		{SLModePremium, 10, false},
		{SLModePoints, 0, false},
	}
	for _, tc := range cases {
		target := NewPointsBasedTarget(tc.mode, tc.points)
		stop := NewPointsBasedStopLoss(tc.mode, tc.points)
		if target.IsEnabled(nil) != tc.wantEnabled {
			t.Errorf("target enabled(%s, %v) = %v", tc.mode, tc.points, !tc.wantEnabled)
		}
		if stop.IsEnabled(nil) != tc.wantEnabled {
			t.Errorf("stop enabled(%s, %v) = %v", tc.mode, tc.points, !tc.wantEnabled)
		}
	}
}

func TestPremiumExpansionStop(t *testing.T) {
	s := NewPremiumBasedExit(true, 0, 0)

	leg1 := NewLeg("o1", "CE", 1, dec(150), decimal.NewFromInt(50), CE, 1)
	leg2 := NewLeg("o2", "PE", 2, dec(150), decimal.NewFromInt(50), PE, 1)
	leg1.SetCurrentPrice(dec(170))
	leg2.SetCurrentPrice(dec(165))

	ctx := &ExitContext{}
	ctx.ResetForTick("exec", -1, Short,
		dec(-35), dec(0), dec(0),
		dec(300), dec(285), dec(330),
		[]*Leg{leg1, leg2}, time.Time{})

	r := s.Evaluate(ctx)
	if r.Kind != ExitAll || r.Reason != ReasonPremiumExpansionSL {
		t.Fatalf("result = %+v, want expansion stop", r)
	}
}

func TestPremiumAdjustRequiresExactlyTwoLegs(t *testing.T) {
	s := NewPremiumBasedExit(true, 0, 0)

	leg := NewLeg("o1", "CE", 1, dec(150), decimal.NewFromInt(50), CE, 1)
	leg.SetCurrentPrice(dec(90))

	ctx := &ExitContext{}
	ctx.ResetForTick("exec", -1, Short,
		dec(60), dec(0), dec(0),
		dec(300), dec(100), dec(330),
		[]*Leg{leg}, time.Time{})

	// Single leg, combined 90 between 100... actually below target: decay
	// exit, not adjust.
	if r := s.Evaluate(ctx); r.Kind != ExitAll {
		t.Fatalf("single-leg decay should exit-all, got %+v", r)
	}

	// Now keep combined between the levels with one leg: no adjust possible.
	ctx.ResetForTick("exec", -1, Short,
		dec(60), dec(0), dec(0),
		dec(300), dec(50), dec(330),
		[]*Leg{leg}, time.Time{})
	if r := s.Evaluate(ctx); r.Kind != NoExit {
		t.Fatalf("adjust fired with one leg: %+v", r)
	}
}

func TestNormalizePct(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{5, 0.05},
		{10, 0.10},
		{0.05, 0.05},
		{0.9, 0.9},
		{1.0, 0.01},
	}
	for _, tc := range cases {
		if got := normalizePct(tc.in); got != tc.want {
			t.Errorf("normalizePct(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
