package instrument

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/gateway"
	"github.com/atlas-quant/optionengine/internal/monitorerr"
	"github.com/atlas-quant/optionengine/pkg/types"
)

func TestATMStrike(t *testing.T) {
	cases := []struct {
		underlying string
		spot       float64
		want       int
	}{
		{"NIFTY", 24023, 24000},
		{"NIFTY", 24025, 24050},
		{"NIFTY", 23976, 24000},
		{"BANKNIFTY", 51949, 51900},
		{"BANKNIFTY", 51950, 52000},
		{"FINNIFTY", 23210, 23200},
	}
	for _, tc := range cases {
		if got := ATMStrike(tc.underlying, decimal.NewFromFloat(tc.spot)); got != tc.want {
			t.Errorf("ATMStrike(%s, %v) = %d, want %d", tc.underlying, tc.spot, got, tc.want)
		}
	}
}

func TestResolveATMFromDump(t *testing.T) {
	expiry := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	dump := SyntheticDump("NIFTY", expiry, decimal.NewFromInt(24000), 5)

	pair, err := ResolveATMFromDump(dump, "NIFTY", expiry, decimal.NewFromFloat(24012))
	if err != nil {
		t.Fatal(err)
	}
	if pair.Strike != 24000 {
		t.Fatalf("strike = %d, want 24000", pair.Strike)
	}
	if pair.CE.InstrumentType != "CE" || pair.PE.InstrumentType != "PE" {
		t.Fatal("pair leg types wrong")
	}
	if pair.LotSize != 50 {
		t.Fatalf("lot size = %d, want 50", pair.LotSize)
	}
}

func TestResolveATMMissingLegFails(t *testing.T) {
	expiry := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	dump := SyntheticDump("NIFTY", expiry, decimal.NewFromInt(24000), 5)

	// Strip every PE at the ATM strike.
	filtered := dump[:0]
	for _, inst := range dump {
		if inst.InstrumentType == "PE" && inst.Strike.Equal(decimal.NewFromInt(24000)) {
			continue
		}
		filtered = append(filtered, inst)
	}

	_, err := ResolveATMFromDump(filtered, "NIFTY", expiry, decimal.NewFromInt(24000))
	if !monitorerr.Is(err, monitorerr.InstrumentNotFound) {
		t.Fatalf("err = %v, want INSTRUMENT_NOT_FOUND", err)
	}
}

func TestResolveATMNeverGuessesNeighbourStrike(t *testing.T) {
	expiry := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	dump := SyntheticDump("NIFTY", expiry, decimal.NewFromInt(24000), 5)

	// Spot snaps to 24050 which exists, but the expiry differs by one day:
	// calendar-day matching must fail rather than fall back.
	wrongExpiry := expiry.AddDate(0, 0, 1)
	_, err := ResolveATMFromDump(dump, "NIFTY", wrongExpiry, decimal.NewFromInt(24050))
	if !monitorerr.Is(err, monitorerr.InstrumentNotFound) {
		t.Fatalf("err = %v, want INSTRUMENT_NOT_FOUND", err)
	}
}

// countingGateway wraps SimGateway counting Instruments fetches.
type countingGateway struct {
	*gateway.SimGateway
	mu      sync.Mutex
	fetches int
}

func (g *countingGateway) Instruments(ctx context.Context, exchange string) ([]types.Instrument, error) {
	g.mu.Lock()
	g.fetches++
	g.mu.Unlock()
	return g.SimGateway.Instruments(ctx, exchange)
}

func TestInstrumentDumpCachedWithinTTL(t *testing.T) {
	expiry := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	sim := gateway.NewSimGateway()
	sim.SetInstruments("NFO", SyntheticDump("NIFTY", expiry, decimal.NewFromInt(24000), 2))
	gw := &countingGateway{SimGateway: sim}

	r := NewResolver(zap.NewNop(), gw, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := r.InstrumentDump(ctx, "NFO"); err != nil {
			t.Fatal(err)
		}
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.fetches != 1 {
		t.Fatalf("instrument fetches = %d, want 1 (TTL cache)", gw.fetches)
	}
}

func TestInstrumentDumpConcurrentSingleFlight(t *testing.T) {
	expiry := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	sim := gateway.NewSimGateway()
	sim.SetInstruments("NFO", SyntheticDump("NIFTY", expiry, decimal.NewFromInt(24000), 2))
	gw := &countingGateway{SimGateway: sim}

	r := NewResolver(zap.NewNop(), gw, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.InstrumentDump(context.Background(), "NFO")
		}()
	}
	wg.Wait()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.fetches != 1 {
		t.Fatalf("concurrent fetches = %d, want 1 (single flight)", gw.fetches)
	}
}
