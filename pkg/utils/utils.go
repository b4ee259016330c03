// Package utils provides shared helpers: ID generation, decimal math,
// aggregate trade statistics, and market-zone time arithmetic.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	id := hex.EncodeToString(bytes)
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateOrderID generates an order ID.
func GenerateOrderID() string {
	return GenerateID("ord")
}

// RoundToDecimalPlaces rounds a decimal to the given number of places.
func RoundToDecimalPlaces(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// CalculatePercentageChange returns (new-old)/old * 100.
func CalculatePercentageChange(oldVal, newVal decimal.Decimal) decimal.Decimal {
	if oldVal.IsZero() {
		return decimal.Zero
	}
	return newVal.Sub(oldVal).Div(oldVal).Mul(decimal.NewFromInt(100))
}

// CalculateMaxDrawdown returns the largest peak-to-trough decline of an
// equity curve, as a fraction of the peak.
func CalculateMaxDrawdown(equity []decimal.Decimal) decimal.Decimal {
	if len(equity) == 0 {
		return decimal.Zero
	}
	peak := equity[0]
	maxDD := decimal.Zero
	for _, v := range equity {
		if v.GreaterThan(peak) {
			peak = v
		}
		if peak.IsPositive() {
			dd := peak.Sub(v).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CalculateMaxRunup returns the largest trough-to-peak rise of an equity
// curve, as a fraction of the trough.
func CalculateMaxRunup(equity []decimal.Decimal) decimal.Decimal {
	if len(equity) == 0 {
		return decimal.Zero
	}
	trough := equity[0]
	maxRU := decimal.Zero
	for _, v := range equity {
		if v.LessThan(trough) {
			trough = v
		}
		if trough.IsPositive() {
			ru := v.Sub(trough).Div(trough)
			if ru.GreaterThan(maxRU) {
				maxRU = ru
			}
		}
	}
	return maxRU
}

// CalculateWinRate returns winners/total as a fraction.
func CalculateWinRate(pnls []decimal.Decimal) decimal.Decimal {
	if len(pnls) == 0 {
		return decimal.Zero
	}
	wins := 0
	for _, p := range pnls {
		if p.IsPositive() {
			wins++
		}
	}
	return decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(pnls))))
}

// CalculateProfitFactor returns gross profit divided by gross loss.
func CalculateProfitFactor(pnls []decimal.Decimal) decimal.Decimal {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, p := range pnls {
		if p.IsPositive() {
			grossProfit = grossProfit.Add(p)
		} else {
			grossLoss = grossLoss.Add(p.Abs())
		}
	}
	if grossLoss.IsZero() {
		if grossProfit.IsZero() {
			return decimal.Zero
		}
		return grossProfit
	}
	return grossProfit.Div(grossLoss)
}

// marketZone is fixed at UTC+5:30; the exchange zone never observes DST.
var marketZone = time.FixedZone("IST", 5*3600+1800)

// MarketZone returns the exchange time zone (UTC+5:30).
func MarketZone() *time.Location {
	return marketZone
}

// Market session bounds, as hour and minute in the market zone.
const (
	MarketOpenHour    = 9
	MarketOpenMinute  = 15
	MarketCloseHour   = 15
	MarketCloseMinute = 30
)

// SessionBounds returns the market open and close instants for the calendar
// day containing t, in the market zone.
func SessionBounds(t time.Time) (open, close time.Time) {
	local := t.In(marketZone)
	y, m, d := local.Date()
	open = time.Date(y, m, d, MarketOpenHour, MarketOpenMinute, 0, 0, marketZone)
	close = time.Date(y, m, d, MarketCloseHour, MarketCloseMinute, 0, 0, marketZone)
	return open, close
}

// IsWithinSession reports whether t falls inside the market session.
func IsWithinSession(t time.Time) bool {
	open, close := SessionBounds(t)
	return !t.Before(open) && !t.After(close)
}

// NextFiveMinuteBoundary returns the first instant at or after t whose
// market-zone minute is a multiple of five with zero seconds. An instant
// already exactly on a boundary is returned unchanged.
func NextFiveMinuteBoundary(t time.Time) time.Time {
	local := t.In(marketZone)
	if local.Minute()%5 == 0 && local.Second() == 0 && local.Nanosecond() == 0 {
		return local
	}
	truncated := local.Truncate(5 * time.Minute)
	return truncated.Add(5 * time.Minute)
}

// DelayToNextFiveMinuteBoundary returns the wait until the next 5-minute
// boundary; zero when t is already exactly on one.
func DelayToNextFiveMinuteBoundary(t time.Time) time.Duration {
	return NextFiveMinuteBoundary(t).Sub(t.In(marketZone))
}
