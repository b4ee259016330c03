package gateway

import (
	"sync"
	"time"

	"github.com/atlas-quant/optionengine/internal/monitorerr"
)

// EndpointClass buckets broker API calls for rate limiting.
type EndpointClass string

const (
	ClassOrder       EndpointClass = "ORDER"
	ClassOrdersRead  EndpointClass = "ORDERS_READ"
	ClassQuote       EndpointClass = "QUOTE"
	ClassInstruments EndpointClass = "INSTRUMENTS"
	ClassGTT         EndpointClass = "GTT"
)

// RateLimiter is a process-wide, permit-based limiter, one token bucket per
// endpoint class. A denied permit surfaces RATE_LIMITED; retrying is the
// caller's responsibility, the limiter never queues or blocks.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[EndpointClass]*bucket
}

type bucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// defaultClassRates are permits per second per endpoint class, following the
// broker's published per-class ceilings.
var defaultClassRates = map[EndpointClass]float64{
	ClassOrder:       10,
	ClassOrdersRead:  3,
	ClassQuote:       1,
	ClassInstruments: 1,
	ClassGTT:         3,
}

// NewRateLimiter builds a limiter with the default per-class rates.
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{buckets: make(map[EndpointClass]*bucket, len(defaultClassRates))}
	now := time.Now()
	for class, rate := range defaultClassRates {
		rl.buckets[class] = &bucket{
			capacity:   rate,
			tokens:     rate,
			refillRate: rate,
			lastRefill: now,
		}
	}
	return rl
}

// Acquire takes one permit for class, or returns a RATE_LIMITED error.
func (rl *RateLimiter) Acquire(class EndpointClass) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[class]
	if !ok {
		return nil
	}

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return monitorerr.New(monitorerr.RateLimited, string(class))
	}
	b.tokens--
	return nil
}
