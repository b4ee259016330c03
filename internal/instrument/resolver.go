// Package instrument resolves ATM option contracts from a broker instrument
// dump and caches the dump process-wide.
package instrument

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/gateway"
	"github.com/atlas-quant/optionengine/internal/monitorerr"
	"github.com/atlas-quant/optionengine/pkg/types"
)

// dumpTTL bounds how long a cached instrument dump is served before being
// refetched.
const dumpTTL = 5 * time.Minute

// StrikeInterval returns the listed strike spacing for an underlying.
func StrikeInterval(underlying string) int {
	switch underlying {
	case "BANKNIFTY":
		return 100
	case "NIFTY", "FINNIFTY":
		return 50
	default:
		return 50
	}
}

// ATMStrike snaps spot to the nearest listed strike for the underlying.
func ATMStrike(underlying string, spot decimal.Decimal) int {
	interval := StrikeInterval(underlying)
	f, _ := spot.Float64()
	return int(math.Round(f/float64(interval))) * interval
}

// ATMPair is the resolved CE/PE contract pair plus shared lot size.
type ATMPair struct {
	CE      types.Instrument
	PE      types.Instrument
	Strike  int
	LotSize int
}

// cachedDump is one exchange's dump with its fetch time. inflight serializes
// concurrent fetches of the same exchange so the broker sees at most one
// Instruments call per TTL window.
type cachedDump struct {
	fetchedAt time.Time
	dump      []types.Instrument
	inflight  sync.Mutex
}

// Resolver maps (underlying, expiry, spot) to the ATM CE/PE contracts. The
// dump cache is shared process-wide: construct one Resolver and pass it by
// reference.
type Resolver struct {
	logger  *zap.Logger
	gateway gateway.OrderGateway
	limiter *gateway.RateLimiter

	mu    sync.Mutex
	cache map[string]*cachedDump // exchange -> dump
}

func NewResolver(logger *zap.Logger, gw gateway.OrderGateway, limiter *gateway.RateLimiter) *Resolver {
	return &Resolver{
		logger:  logger.Named("instrument"),
		gateway: gw,
		limiter: limiter,
		cache:   make(map[string]*cachedDump),
	}
}

// InstrumentDump returns the cached dump for exchange, refetching after the
// TTL. Concurrent callers for the same exchange share one fetch.
func (r *Resolver) InstrumentDump(ctx context.Context, exchange string) ([]types.Instrument, error) {
	r.mu.Lock()
	entry, ok := r.cache[exchange]
	if !ok {
		entry = &cachedDump{}
		r.cache[exchange] = entry
	}
	r.mu.Unlock()

	entry.inflight.Lock()
	defer entry.inflight.Unlock()

	if entry.dump != nil && time.Since(entry.fetchedAt) < dumpTTL {
		return entry.dump, nil
	}

	if r.limiter != nil {
		if err := r.limiter.Acquire(gateway.ClassInstruments); err != nil {
			// Serve a stale dump over failing the caller when one exists.
			if entry.dump != nil {
				return entry.dump, nil
			}
			return nil, err
		}
	}

	dump, err := r.gateway.Instruments(ctx, exchange)
	if err != nil {
		if entry.dump != nil {
			r.logger.Warn("instrument dump refresh failed, serving stale",
				zap.String("exchange", exchange), zap.Error(err))
			return entry.dump, nil
		}
		return nil, monitorerr.Wrap(monitorerr.DataUnavailable, err)
	}

	entry.dump = dump
	entry.fetchedAt = time.Now()
	r.logger.Info("instrument dump cached",
		zap.String("exchange", exchange),
		zap.Int("instruments", len(dump)),
	)
	return dump, nil
}

// ResolveATM finds the single CE and PE at the ATM strike for the given
// underlying/expiry/spot. Missing either leg is INSTRUMENT_NOT_FOUND — the
// resolver never guesses a neighbouring strike.
func (r *Resolver) ResolveATM(ctx context.Context, exchange, underlying string, expiry time.Time, spot decimal.Decimal) (ATMPair, error) {
	dump, err := r.InstrumentDump(ctx, exchange)
	if err != nil {
		return ATMPair{}, err
	}
	return ResolveATMFromDump(dump, underlying, expiry, spot)
}

// ResolveATMFromDump is the pure scan over an already-fetched dump.
func ResolveATMFromDump(dump []types.Instrument, underlying string, expiry time.Time, spot decimal.Decimal) (ATMPair, error) {
	strike := ATMStrike(underlying, spot)
	strikeDec := decimal.NewFromInt(int64(strike))

	var ce, pe *types.Instrument
	for i := range dump {
		inst := &dump[i]
		if inst.Name != underlying {
			continue
		}
		if !sameCalendarDay(inst.Expiry, expiry) {
			continue
		}
		if !inst.Strike.Equal(strikeDec) {
			continue
		}
		switch inst.InstrumentType {
		case "CE":
			ce = inst
		case "PE":
			pe = inst
		}
	}

	if ce == nil || pe == nil {
		return ATMPair{}, monitorerr.New(monitorerr.InstrumentNotFound,
			fmt.Sprintf("%s %d %s: CE found=%t PE found=%t",
				underlying, strike, expiry.Format("2006-01-02"), ce != nil, pe != nil))
	}

	lotSize := ce.LotSize
	if lotSize == 0 {
		lotSize = pe.LotSize
	}

	return ATMPair{CE: *ce, PE: *pe, Strike: strike, LotSize: lotSize}, nil
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
