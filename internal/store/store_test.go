package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/monitorerr"
	"github.com/atlas-quant/optionengine/pkg/types"
	"github.com/atlas-quant/optionengine/pkg/utils"
)

func testCandles(day time.Time, n int) []types.Candle {
	candles := make([]types.Candle, 0, n)
	for i := 0; i < n; i++ {
		ts := time.Date(day.Year(), day.Month(), day.Day(), 9, 15+i, 0, 0, utils.MarketZone())
		candles = append(candles, types.Candle{
			Timestamp: ts,
			Open:      decimal.NewFromInt(24000),
			High:      decimal.NewFromInt(24010),
			Low:       decimal.NewFromInt(23990),
			Close:     decimal.NewFromInt(24005),
			Volume:    decimal.NewFromInt(100),
		})
	}
	return candles
}

func TestSaveAndLoadSessionCandles(t *testing.T) {
	st, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2026, 7, 28, 0, 0, 0, 0, utils.MarketZone())

	if st.HasSessionData("NIFTY", day, types.Timeframe1m) {
		t.Fatal("HasSessionData true before save")
	}

	want := testCandles(day, 5)
	// Save shuffled; load must come back sorted.
	shuffled := []types.Candle{want[3], want[0], want[4], want[1], want[2]}
	if err := st.SaveSessionCandles("NIFTY", day, types.Timeframe1m, shuffled); err != nil {
		t.Fatal(err)
	}

	if !st.HasSessionData("NIFTY", day, types.Timeframe1m) {
		t.Fatal("HasSessionData false after save")
	}

	got, err := st.LoadSessionCandles(context.Background(), "NIFTY", day, types.Timeframe1m)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d candles, want %d", len(got), len(want))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatal("candles not sorted ascending")
		}
	}
}

func TestLoadMissingSessionIsDataUnavailable(t *testing.T) {
	st, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2026, 7, 28, 0, 0, 0, 0, utils.MarketZone())

	_, err = st.LoadSessionCandles(context.Background(), "NIFTY", day, types.Timeframe1m)
	if !monitorerr.Is(err, monitorerr.DataUnavailable) {
		t.Fatalf("err = %v, want DATA_UNAVAILABLE", err)
	}
}

func TestClearCacheKeepsFiles(t *testing.T) {
	st, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2026, 7, 28, 0, 0, 0, 0, utils.MarketZone())
	if err := st.SaveSessionCandles("NIFTY", day, types.Timeframe1m, testCandles(day, 3)); err != nil {
		t.Fatal(err)
	}

	st.ClearCache()
	got, err := st.LoadSessionCandles(context.Background(), "NIFTY", day, types.Timeframe1m)
	if err != nil || len(got) != 3 {
		t.Fatalf("reload after cache clear: %d candles, err %v", len(got), err)
	}
}

func TestExecutionLogAppendAndList(t *testing.T) {
	log, err := NewExecutionLog(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	recs, err := log.List()
	if err != nil || recs != nil {
		t.Fatalf("empty log: %v / %v", recs, err)
	}

	first := types.ExecutionRecord{
		ExecutionID: "e1",
		UserID:      "u1",
		Direction:   "SHORT",
		SLMode:      "POINTS",
		ExitReason:  "CUMULATIVE_TARGET_HIT",
		RealizedPnL: decimal.NewFromInt(800),
	}
	second := types.ExecutionRecord{
		ExecutionID: "e2",
		UserID:      "u1",
		Direction:   "SHORT",
		SLMode:      "PREMIUM",
		ExitReason:  "PREMIUM_DECAY_TARGET_HIT",
		RealizedPnL: decimal.NewFromInt(450),
	}
	if err := log.Append(first); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(second); err != nil {
		t.Fatal(err)
	}

	recs, err = log.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].ExecutionID != "e1" || recs[1].ExecutionID != "e2" {
		t.Fatal("append order not preserved")
	}
	if !recs[0].RealizedPnL.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("realized pnl = %s", recs[0].RealizedPnL)
	}
}
