package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ConnectionState mirrors the transport's connect/disconnect/reconnect
// lifecycle for one user's tick session.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

const (
	reconnectBaseDelay = 5 * time.Second
	maxReconnectTries  = 10
)

// Transport is the broker tick-streaming session TickDispatcher drives.
// Implementations own the actual WebSocket/socket connection; TickDispatcher
// never talks to the network directly.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(tokens []int64) error
	Unsubscribe(tokens []int64) error
}

// dispatchJob is one fan-out unit: a tick batch routed to a single monitor.
// Modeled on the teacher's EventBus Event, narrowed from a generic interface
// to the one payload shape this engine ever dispatches.
type dispatchJob struct {
	monitor *PositionMonitor
	ticks   []Tick
	now     time.Time
}

// userSession tracks one owner's live monitors and the reverse instrument
// index used to route incoming ticks and drive subscribe/unsubscribe.
type userSession struct {
	mu                     sync.RWMutex
	monitors               map[string]*PositionMonitor // execution_id -> monitor
	instrumentToExecutions map[int64]map[string]struct{}

	transport          Transport
	liveSubscriptionDisabled bool

	connState        atomic.Int32
	reconnectAttempt atomic.Int32
}

func newUserSession(transport Transport, liveSubscriptionDisabled bool) *userSession {
	return &userSession{
		monitors:                 make(map[string]*PositionMonitor),
		instrumentToExecutions:   make(map[int64]map[string]struct{}),
		transport:                transport,
		liveSubscriptionDisabled: liveSubscriptionDisabled,
	}
}

// TickDispatcher fans live tick batches out to the PositionMonitor(s)
// subscribed to each instrument token, one user session at a time (C5).
// Dispatch itself runs on a small bounded worker pool so a slow or stalled
// monitor callback can never block the transport goroutine delivering ticks,
// mirroring the teacher's EventBus's non-blocking `select default:` publish
// discipline.
type TickDispatcher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*userSession // user_id -> session

	jobs chan dispatchJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobsDropped atomic.Int64
}

// DispatcherConfig sizes the worker pool and job buffer.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
}

// DefaultDispatcherConfig mirrors the teacher's EventBus defaults scaled down
// for a single-process options engine rather than a 100K events/sec bus.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{Workers: 8, BufferSize: 4096}
}

func NewTickDispatcher(logger *zap.Logger, cfg DispatcherConfig) *TickDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &TickDispatcher{
		logger:   logger.Named("tick_dispatcher"),
		sessions: make(map[string]*userSession),
		jobs:     make(chan dispatchJob, cfg.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

func (d *TickDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case job := <-d.jobs:
			d.runJob(job)
		}
	}
}

// runJob invokes UpdatePrices with panic recovery, mirroring the teacher's
// executeHandler discipline: a crashing monitor never takes a worker down.
func (d *TickDispatcher) runJob(job dispatchJob) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("monitor dispatch panicked",
				zap.String("execution_id", job.monitor.ExecutionID()),
				zap.Any("panic", r),
			)
		}
	}()
	job.monitor.UpdatePrices(job.ticks, job.now)
}

func (d *TickDispatcher) sessionFor(userID string, transport Transport, liveDisabled bool) *userSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[userID]
	if !ok {
		s = newUserSession(transport, liveDisabled)
		d.sessions[userID] = s
	}
	return s
}

// StartMonitoring registers a monitor under userID/executionID, collects its
// legs' tokens, and asks the transport to subscribe to any token that has no
// existing subscriber.
func (d *TickDispatcher) StartMonitoring(userID, executionID string, mon *PositionMonitor, transport Transport, liveSubscriptionDisabled bool) error {
	s := d.sessionFor(userID, transport, liveSubscriptionDisabled)

	s.mu.Lock()
	s.monitors[executionID] = mon
	var newTokens []int64
	for _, leg := range mon.Legs() {
		subs, exists := s.instrumentToExecutions[leg.Token]
		if !exists {
			subs = make(map[string]struct{})
			s.instrumentToExecutions[leg.Token] = subs
			newTokens = append(newTokens, leg.Token)
		}
		subs[executionID] = struct{}{}
	}
	s.mu.Unlock()

	if !liveSubscriptionDisabled && len(newTokens) > 0 && transport != nil {
		if err := transport.Subscribe(newTokens); err != nil {
			d.logger.Warn("subscribe failed", zap.String("user_id", userID), zap.Error(err))
			return err
		}
	}

	d.logger.Info("monitoring started", zap.String("user_id", userID), zap.String("execution_id", executionID))
	return nil
}

// StopMonitoring removes a monitor's registration and unsubscribes any token
// that no longer has a subscriber.
func (d *TickDispatcher) StopMonitoring(userID, executionID string) error {
	d.mu.RLock()
	s, ok := d.sessions[userID]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	mon, exists := s.monitors[executionID]
	if !exists {
		s.mu.Unlock()
		return nil
	}
	delete(s.monitors, executionID)

	var freedTokens []int64
	for _, leg := range mon.Legs() {
		subs := s.instrumentToExecutions[leg.Token]
		delete(subs, executionID)
		if len(subs) == 0 {
			delete(s.instrumentToExecutions, leg.Token)
			freedTokens = append(freedTokens, leg.Token)
		}
	}
	transport := s.transport
	liveDisabled := s.liveSubscriptionDisabled
	s.mu.Unlock()

	if !liveDisabled && len(freedTokens) > 0 && transport != nil {
		if err := transport.Unsubscribe(freedTokens); err != nil {
			d.logger.Warn("unsubscribe failed", zap.String("user_id", userID), zap.Error(err))
			return err
		}
	}
	return nil
}

// AddInstrumentToMonitoring registers a new token for an already-monitored
// execution, used after a leg replacement introduces a new contract.
func (d *TickDispatcher) AddInstrumentToMonitoring(userID, executionID string, token int64) error {
	d.mu.RLock()
	s, ok := d.sessions[userID]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	subs, exists := s.instrumentToExecutions[token]
	if !exists {
		subs = make(map[string]struct{})
		s.instrumentToExecutions[token] = subs
	}
	subs[executionID] = struct{}{}
	isNew := !exists
	transport := s.transport
	liveDisabled := s.liveSubscriptionDisabled
	s.mu.Unlock()

	if isNew && !liveDisabled && transport != nil {
		return transport.Subscribe([]int64{token})
	}
	return nil
}

// OnTickBatch routes ticks to every distinct monitor subscribed to any
// token in the batch, dispatching the whole batch to each subscriber at
// most once. Never blocks: a full job queue drops the job and logs a
// warning, matching the teacher's EventBus.Publish discipline.
func (d *TickDispatcher) OnTickBatch(userID string, ticks []Tick, now time.Time) {
	d.mu.RLock()
	s, ok := d.sessions[userID]
	d.mu.RUnlock()
	if !ok || len(ticks) == 0 {
		return
	}

	s.mu.RLock()
	targets := make(map[string]*PositionMonitor)
	for _, t := range ticks {
		for executionID := range s.instrumentToExecutions[t.Token] {
			if mon, exists := s.monitors[executionID]; exists {
				targets[executionID] = mon
			}
		}
	}
	s.mu.RUnlock()

	for _, mon := range targets {
		job := dispatchJob{monitor: mon, ticks: ticks, now: now}
		select {
		case d.jobs <- job:
		default:
			d.jobsDropped.Add(1)
			d.logger.Warn("tick dispatch dropped: queue full",
				zap.String("user_id", userID),
				zap.String("execution_id", mon.ExecutionID()),
			)
		}
	}
}

// Connect establishes the transport session for userID, idempotent.
func (d *TickDispatcher) Connect(userID string) error {
	d.mu.RLock()
	s, ok := d.sessions[userID]
	d.mu.RUnlock()
	if !ok || s.transport == nil {
		return nil
	}
	if ConnectionState(s.connState.Load()) == Connected {
		return nil
	}
	s.connState.Store(int32(Connecting))
	if err := s.transport.Connect(d.ctx); err != nil {
		s.connState.Store(int32(Disconnected))
		return err
	}
	s.connState.Store(int32(Connected))
	s.reconnectAttempt.Store(0)
	return nil
}

// Disconnect tears down the transport session for userID, idempotent.
func (d *TickDispatcher) Disconnect(userID string) error {
	d.mu.RLock()
	s, ok := d.sessions[userID]
	d.mu.RUnlock()
	if !ok || s.transport == nil {
		return nil
	}
	if ConnectionState(s.connState.Load()) == Disconnected {
		return nil
	}
	err := s.transport.Disconnect()
	s.connState.Store(int32(Disconnected))
	return err
}

// Reconnect retries Connect with exponential backoff (5s * 2^(attempt-1)),
// capped at 10 attempts, and resubscribes every currently-tracked token on
// success.
func (d *TickDispatcher) Reconnect(userID string) error {
	d.mu.RLock()
	s, ok := d.sessions[userID]
	d.mu.RUnlock()
	if !ok || s.transport == nil {
		return nil
	}

	for {
		attempt := s.reconnectAttempt.Add(1)
		if attempt > maxReconnectTries {
			d.logger.Error("reconnect attempts exhausted", zap.String("user_id", userID))
			return context.DeadlineExceeded
		}

		delay := reconnectBaseDelay * time.Duration(1<<uint(attempt-1))
		d.logger.Warn("reconnecting",
			zap.String("user_id", userID),
			zap.Int32("attempt", attempt),
			zap.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return d.ctx.Err()
		case <-timer.C:
		}

		if err := s.transport.Connect(d.ctx); err != nil {
			continue
		}
		s.connState.Store(int32(Connected))
		s.reconnectAttempt.Store(0)

		s.mu.RLock()
		tokens := make([]int64, 0, len(s.instrumentToExecutions))
		for token := range s.instrumentToExecutions {
			tokens = append(tokens, token)
		}
		s.mu.RUnlock()

		if len(tokens) > 0 {
			if err := s.transport.Subscribe(tokens); err != nil {
				d.logger.Warn("resubscribe after reconnect failed", zap.Error(err))
			}
		}
		return nil
	}
}

// Stop shuts down the dispatcher's worker pool.
func (d *TickDispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}
