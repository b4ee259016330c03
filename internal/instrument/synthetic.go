package instrument

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/optionengine/pkg/types"
)

// defaultLotSizes are the exchange lot sizes per underlying.
var defaultLotSizes = map[string]int{
	"NIFTY":     50,
	"BANKNIFTY": 15,
	"FINNIFTY":  40,
}

// LotSize returns the exchange lot size for an underlying.
func LotSize(underlying string) int {
	if ls, ok := defaultLotSizes[underlying]; ok {
		return ls
	}
	return 50
}

// SyntheticDump builds a deterministic instrument dump covering width strikes
// on each side of the strike nearest centerSpot. The backtest harness and
// tests use it in place of a live broker dump; tokens are derived from the
// strike so the same inputs always produce the same contracts.
func SyntheticDump(underlying string, expiry time.Time, centerSpot decimal.Decimal, width int) []types.Instrument {
	interval := StrikeInterval(underlying)
	center := ATMStrike(underlying, centerSpot)
	lotSize := LotSize(underlying)

	dump := make([]types.Instrument, 0, (2*width+1)*2)
	for offset := -width; offset <= width; offset++ {
		strike := center + offset*interval
		for _, optType := range []string{"CE", "PE"} {
			tokenSuffix := int64(1)
			if optType == "PE" {
				tokenSuffix = 2
			}
			dump = append(dump, types.Instrument{
				Token:          int64(strike)*10 + tokenSuffix,
				TradingSymbol:  fmt.Sprintf("%s%s%d%s", underlying, expiry.Format("06Jan"), strike, optType),
				Name:           underlying,
				Expiry:         expiry,
				Strike:         decimal.NewFromInt(int64(strike)),
				InstrumentType: optType,
				Segment:        "NFO-OPT",
				Exchange:       "NFO",
				LotSize:        lotSize,
				TickSize:       decimal.NewFromFloat(0.05),
			})
		}
	}
	return dump
}
