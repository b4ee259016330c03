// Package monitor implements the position monitoring and exit decision engine:
// legs, exit strategies, the per-tick hot path, and the live tick dispatcher.
package monitor

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// OptionType distinguishes a call from a put leg.
type OptionType string

const (
	CE OptionType = "CE"
	PE OptionType = "PE"
)

// Leg is one option contract inside a multi-leg position. Everything except
// EntryPrice and CurrentPrice is immutable after construction. CurrentPrice is
// written by the tick goroutine and read by the evaluator without a lock: both
// fields live behind atomic.Value so a single-writer/multi-reader leg survives
// concurrent access without a mutex on the hot path.
type Leg struct {
	OrderID      string
	Symbol       string
	Token        int64
	Quantity     decimal.Decimal
	Type         OptionType
	DirMult      int // leg_direction_multiplier: +1 same side as monitor, -1 hedge

	entryPrice   atomic.Value // decimal.Decimal
	currentPrice atomic.Value // decimal.Decimal
}

// NewLeg constructs a leg. legDir defaults to +1 when 0 is passed.
func NewLeg(orderID, symbol string, token int64, entryPrice, qty decimal.Decimal, typ OptionType, legDir int) *Leg {
	if legDir == 0 {
		legDir = 1
	}
	l := &Leg{
		OrderID:  orderID,
		Symbol:   symbol,
		Token:    token,
		Quantity: qty,
		Type:     typ,
		DirMult:  legDir,
	}
	l.entryPrice.Store(entryPrice)
	l.currentPrice.Store(entryPrice)
	return l
}

// EntryPrice returns the current entry price snapshot.
func (l *Leg) EntryPrice() decimal.Decimal {
	return l.entryPrice.Load().(decimal.Decimal)
}

// SetEntryPrice rewrites the entry price. Only ever called from the monitor
// during leg-adjustment (ADJUST_LEG dispatch), never from the tick thread.
func (l *Leg) SetEntryPrice(p decimal.Decimal) {
	l.entryPrice.Store(p)
}

// CurrentPrice returns the last-written LTP snapshot.
func (l *Leg) CurrentPrice() decimal.Decimal {
	return l.currentPrice.Load().(decimal.Decimal)
}

// SetCurrentPrice writes a new LTP. Safe to call concurrently with CurrentPrice
// reads; callers must still serialize writes to a single leg (the owning
// monitor's tick goroutine).
func (l *Leg) SetCurrentPrice(p decimal.Decimal) {
	l.currentPrice.Store(p)
}

// PnL is (current - entry) * quantity, the leg's realized-if-closed value.
func (l *Leg) PnL() decimal.Decimal {
	return l.UnitPnL().Mul(l.Quantity)
}

// UnitPnL is (current - entry), per-contract points P&L.
func (l *Leg) UnitPnL() decimal.Decimal {
	return l.CurrentPrice().Sub(l.EntryPrice())
}
