// Package backtest implements the candle-driven replay harness that drives
// the same position monitor the live engine uses: worst-case intra-candle
// sequencing, restart/fast-forward alignment, charges, and result
// aggregation.
package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-quant/optionengine/internal/monitor"
	"github.com/atlas-quant/optionengine/pkg/types"
)

// WorstCaseSequence returns the four intra-candle price points in the order
// that checks the adverse extreme before the favourable one for the given
// monitor direction.
//
// SHORT loses when price rises, so on a bullish candle the High is visited
// before the Close (O,L,H,C) and on a bearish one the High comes right after
// the Open (O,H,L,C). LONG is the mirror image: bullish O,H,L,C, bearish
// O,L,H,C.
func WorstCaseSequence(c types.Candle, dir monitor.Direction) [4]decimal.Decimal {
	bullish := c.IsBullish()
	if dir == monitor.Short {
		if bullish {
			return [4]decimal.Decimal{c.Open, c.Low, c.High, c.Close}
		}
		return [4]decimal.Decimal{c.Open, c.High, c.Low, c.Close}
	}
	if bullish {
		return [4]decimal.Decimal{c.Open, c.High, c.Low, c.Close}
	}
	return [4]decimal.Decimal{c.Open, c.Low, c.High, c.Close}
}
