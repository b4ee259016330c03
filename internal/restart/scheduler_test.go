package restart

import (
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/monitor"
	"github.com/atlas-quant/optionengine/internal/workers"
)

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *workers.Pool) {
	t.Helper()
	pool := workers.NewPool(zap.NewNop(), workers.OrderPoolConfig())
	pool.Start()
	t.Cleanup(func() { pool.Stop() })
	return NewScheduler(zap.NewNop(), cfg, pool), pool
}

func paperCtx() RequestContext {
	return RequestContext{UserID: "u1", Underlying: "NIFTY", Lots: 1, Strategy: "short_straddle", Mode: ModePaper}
}

func TestScheduleOnlyQualifyingReasons(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Enabled: true, PaperEnabled: true, MaxAutoRestarts: 5})
	noop := func(RequestContext) {}

	if s.Schedule("e1", monitor.ReasonTimeBasedForcedExit, paperCtx(), noop) {
		t.Fatal("forced exit scheduled a restart")
	}
	if s.Schedule("e2", monitor.ReasonTrailingStoplossHit, paperCtx(), noop) {
		t.Fatal("trailing stop scheduled a restart: TRAILING_STOPLOSS_HIT is not STOPLOSS_HIT")
	}
	if !s.Schedule("e3", monitor.ReasonCumulativeTargetHit, paperCtx(), noop) {
		t.Fatal("target hit did not schedule")
	}
	if !s.Schedule("e4", monitor.ReasonCumulativeStoplossHit, paperCtx(), noop) {
		t.Fatal("stop hit did not schedule")
	}
	if s.PendingCount() != 2 {
		t.Fatalf("pending = %d, want 2", s.PendingCount())
	}
}

func TestScheduleDuplicateExecutionDropped(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Enabled: true, PaperEnabled: true, MaxAutoRestarts: 5})
	noop := func(RequestContext) {}

	if !s.Schedule("e1", monitor.ReasonCumulativeTargetHit, paperCtx(), noop) {
		t.Fatal("first schedule failed")
	}
	if s.Schedule("e1", monitor.ReasonCumulativeTargetHit, paperCtx(), noop) {
		t.Fatal("duplicate schedule accepted")
	}
	if s.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", s.PendingCount())
	}
}

func TestScheduleModeGates(t *testing.T) {
	noop := func(RequestContext) {}

	s, _ := newTestScheduler(t, Config{Enabled: false, PaperEnabled: true, LiveEnabled: true})
	if s.Schedule("e1", monitor.ReasonCumulativeTargetHit, paperCtx(), noop) {
		t.Fatal("disabled scheduler accepted a restart")
	}

	s2, _ := newTestScheduler(t, Config{Enabled: true, PaperEnabled: false, LiveEnabled: true})
	if s2.Schedule("e1", monitor.ReasonCumulativeTargetHit, paperCtx(), noop) {
		t.Fatal("paper restart accepted with paper mode disabled")
	}

	liveCtx := paperCtx()
	liveCtx.Mode = ModeLive
	if !s2.Schedule("e2", monitor.ReasonCumulativeTargetHit, liveCtx, noop) {
		t.Fatal("live restart rejected with live mode enabled")
	}
}

func TestScheduleMaxAutoRestarts(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Enabled: true, PaperEnabled: true, MaxAutoRestarts: 2})
	noop := func(RequestContext) {}

	if !s.Schedule("e1", monitor.ReasonCumulativeTargetHit, paperCtx(), noop) {
		t.Fatal("restart 1 rejected")
	}
	if !s.Schedule("e2", monitor.ReasonCumulativeTargetHit, paperCtx(), noop) {
		t.Fatal("restart 2 rejected")
	}
	if s.Schedule("e3", monitor.ReasonCumulativeTargetHit, paperCtx(), noop) {
		t.Fatal("restart beyond max accepted")
	}
}

func TestCancelUserDropsPending(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Enabled: true, PaperEnabled: true, MaxAutoRestarts: 5})
	noop := func(RequestContext) {}

	s.Schedule("e1", monitor.ReasonCumulativeTargetHit, paperCtx(), noop)
	s.Schedule("e2", monitor.ReasonCumulativeStoplossHit, paperCtx(), noop)

	s.CancelUser("u1", []string{"e1", "e2"})
	if s.PendingCount() != 0 {
		t.Fatalf("pending after cancel = %d, want 0", s.PendingCount())
	}
}
