// Package restart schedules follow-on entries at the next 5-minute market
// boundary after a qualifying completion.
package restart

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/metrics"
	"github.com/atlas-quant/optionengine/internal/monitor"
	"github.com/atlas-quant/optionengine/internal/workers"
	"github.com/atlas-quant/optionengine/pkg/utils"
)

// Mode distinguishes live from paper trading for the auto-restart gates.
type Mode string

const (
	ModeLive  Mode = "LIVE"
	ModePaper Mode = "PAPER"
)

// Config gates which completions may auto-restart and how many times.
type Config struct {
	Enabled         bool
	PaperEnabled    bool
	LiveEnabled     bool
	MaxAutoRestarts int
}

// RequestContext carries the original user context into the scheduled task.
type RequestContext struct {
	UserID     string
	Underlying string
	Expiry     time.Time
	Lots       int
	Strategy   string
	Mode       Mode
}

// Scheduler re-executes a completed strategy at the next 5-minute boundary.
// At most one restart is scheduled per execution_id; duplicates are dropped.
type Scheduler struct {
	logger *zap.Logger
	cfg    Config
	pool   *workers.Pool

	mu        sync.Mutex
	scheduled map[string]*time.Timer // execution_id -> pending timer
	counts    map[string]int         // user_id -> restarts performed
}

func NewScheduler(logger *zap.Logger, cfg Config, pool *workers.Pool) *Scheduler {
	return &Scheduler{
		logger:    logger.Named("restart"),
		cfg:       cfg,
		pool:      pool,
		scheduled: make(map[string]*time.Timer),
		counts:    make(map[string]int),
	}
}

// qualifies reports whether a completion reason triggers an auto-restart.
func qualifies(reason monitor.ExitReason) bool {
	return reason == monitor.ReasonCumulativeTargetHit ||
		reason == monitor.ReasonCumulativeStoplossHit
}

// modeAllowed applies the per-mode configuration gates.
func (s *Scheduler) modeAllowed(mode Mode) bool {
	if !s.cfg.Enabled {
		return false
	}
	switch mode {
	case ModeLive:
		return s.cfg.LiveEnabled
	case ModePaper:
		return s.cfg.PaperEnabled
	default:
		return false
	}
}

// Schedule arms a restart for executionID when the completion qualifies.
// Returns true when a restart was armed. The reentry function runs on the
// order pool at the boundary instant.
func (s *Scheduler) Schedule(executionID string, reason monitor.ExitReason, reqCtx RequestContext, reenter func(RequestContext)) bool {
	if !qualifies(reason) || !s.modeAllowed(reqCtx.Mode) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scheduled[executionID]; exists {
		s.logger.Debug("duplicate restart request dropped",
			zap.String("execution_id", executionID))
		return false
	}
	if s.cfg.MaxAutoRestarts > 0 && s.counts[reqCtx.UserID] >= s.cfg.MaxAutoRestarts {
		s.logger.Info("restart suppressed: max auto restarts reached",
			zap.String("user_id", reqCtx.UserID),
			zap.Int("max", s.cfg.MaxAutoRestarts))
		return false
	}

	now := time.Now().In(utils.MarketZone())
	delay := utils.DelayToNextFiveMinuteBoundary(now)

	timer := time.AfterFunc(delay, func() {
		s.fire(executionID, reqCtx, reenter)
	})
	s.scheduled[executionID] = timer
	s.counts[reqCtx.UserID]++
	metrics.RestartCount.Inc()

	s.logger.Info("restart scheduled",
		zap.String("execution_id", executionID),
		zap.String("reason", string(reason)),
		zap.Duration("delay", delay),
	)
	return true
}

func (s *Scheduler) fire(executionID string, reqCtx RequestContext, reenter func(RequestContext)) {
	s.mu.Lock()
	delete(s.scheduled, executionID)
	s.mu.Unlock()

	task := func() error {
		reenter(reqCtx)
		return nil
	}
	if err := s.pool.SubmitFunc(task); err != nil {
		s.logger.Error("restart task submission failed",
			zap.String("execution_id", executionID),
			zap.Error(err))
	}
}

// CancelUser drops every pending restart belonging to userID, used when the
// owning session is invalidated.
func (s *Scheduler) CancelUser(userID string, executionIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range executionIDs {
		if timer, ok := s.scheduled[id]; ok {
			timer.Stop()
			delete(s.scheduled, id)
		}
	}
	delete(s.counts, userID)
	s.logger.Info("pending restarts cancelled", zap.String("user_id", userID))
}

// PendingCount returns how many restarts are currently armed.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}
