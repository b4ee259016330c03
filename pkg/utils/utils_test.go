package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func ist(hour, minute, second int) time.Time {
	return time.Date(2026, 7, 28, hour, minute, second, 0, MarketZone())
}

func TestNextFiveMinuteBoundary(t *testing.T) {
	cases := []struct {
		in   time.Time
		want time.Time
	}{
		{ist(10, 23, 0), ist(10, 25, 0)},
		{ist(10, 23, 59), ist(10, 25, 0)},
		{ist(10, 25, 0), ist(10, 25, 0)}, // exactly on boundary: unchanged
		{ist(10, 25, 1), ist(10, 30, 0)},
		{ist(9, 59, 30), ist(10, 0, 0)},
	}
	for _, tc := range cases {
		got := NextFiveMinuteBoundary(tc.in)
		if !got.Equal(tc.want) {
			t.Errorf("NextFiveMinuteBoundary(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDelayToNextFiveMinuteBoundary(t *testing.T) {
	if d := DelayToNextFiveMinuteBoundary(ist(10, 25, 0)); d != 0 {
		t.Fatalf("delay on boundary = %v, want 0", d)
	}
	if d := DelayToNextFiveMinuteBoundary(ist(10, 23, 0)); d != 2*time.Minute {
		t.Fatalf("delay = %v, want 2m", d)
	}
}

func TestSessionBounds(t *testing.T) {
	open, close := SessionBounds(ist(12, 0, 0))
	if open.Hour() != 9 || open.Minute() != 15 {
		t.Fatalf("open = %v", open)
	}
	if close.Hour() != 15 || close.Minute() != 30 {
		t.Fatalf("close = %v", close)
	}
	if !IsWithinSession(ist(9, 15, 0)) || !IsWithinSession(ist(15, 30, 0)) {
		t.Fatal("session bounds are inclusive")
	}
	if IsWithinSession(ist(9, 14, 59)) || IsWithinSession(ist(15, 30, 1)) {
		t.Fatal("outside session accepted")
	}
}

func decs(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestCalculateWinRate(t *testing.T) {
	if !CalculateWinRate(decs(10, -5, 20, -1)).Equal(decimal.NewFromFloat(0.5)) {
		t.Fatal("win rate wrong")
	}
	if !CalculateWinRate(nil).IsZero() {
		t.Fatal("empty win rate should be zero")
	}
}

func TestCalculateProfitFactor(t *testing.T) {
	pf := CalculateProfitFactor(decs(30, -10, -5))
	if !pf.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("profit factor = %s, want 2", pf)
	}
	// No losses: gross profit returned as-is.
	if !CalculateProfitFactor(decs(30)).Equal(decimal.NewFromInt(30)) {
		t.Fatal("lossless profit factor wrong")
	}
}

func TestCalculateMaxDrawdown(t *testing.T) {
	// Peak 120, trough 90: drawdown 25%.
	dd := CalculateMaxDrawdown(decs(100, 120, 90, 110))
	if !dd.Equal(decimal.NewFromFloat(0.25)) {
		t.Fatalf("max drawdown = %s, want 0.25", dd)
	}
}

func TestCalculateMaxRunup(t *testing.T) {
	// Trough 80, peak 120: run-up 50%.
	ru := CalculateMaxRunup(decs(100, 80, 120, 110))
	if !ru.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("max runup = %s, want 0.5", ru)
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID("ord"), GenerateID("ord")
	if a == b {
		t.Fatal("ids collide")
	}
	if len(a) < 10 || a[:4] != "ord_" {
		t.Fatalf("id format: %q", a)
	}
}
