package backtest

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-quant/optionengine/pkg/types"
)

// ChargesBreakdown itemizes the statutory and broker charges of one
// round-trip trade.
type ChargesBreakdown struct {
	Brokerage          decimal.Decimal `json:"brokerage"`
	STT                decimal.Decimal `json:"stt"`
	TransactionCharges decimal.Decimal `json:"transaction_charges"`
	GST                decimal.Decimal `json:"gst"`
	SEBITurnover       decimal.Decimal `json:"sebi_turnover"`
	StampDuty          decimal.Decimal `json:"stamp_duty"`
	Total              decimal.Decimal `json:"total"`
}

// ComputeCharges applies the configured coefficients to the executed buy and
// sell values of one round trip. STT is sell-side only; stamp duty buy-side
// only; GST applies to brokerage; everything else is on total turnover.
func ComputeCharges(cfg types.ChargesConfig, buyValue, sellValue decimal.Decimal, orderCount int) ChargesBreakdown {
	if !cfg.Enabled {
		return ChargesBreakdown{}
	}

	turnover := buyValue.Add(sellValue)

	b := ChargesBreakdown{
		Brokerage:          cfg.BrokeragePerOrder.Mul(decimal.NewFromInt(int64(orderCount))),
		STT:                sellValue.Mul(cfg.STTRateSellSide),
		TransactionCharges: turnover.Mul(cfg.TransactionChargeRate),
		SEBITurnover:       turnover.Mul(cfg.SEBITurnoverRate),
		StampDuty:          buyValue.Mul(cfg.StampDutyRateBuySide),
	}
	b.GST = b.Brokerage.Mul(cfg.GSTRateOnBrokerage)
	b.Total = b.Brokerage.Add(b.STT).Add(b.TransactionCharges).Add(b.GST).Add(b.SEBITurnover).Add(b.StampDuty)
	return b
}
