// Package gateway defines the abstract broker surface the engine consumes:
// order placement, basket execution with rollback, market data reads, and the
// process-wide API rate limiter. The monitor itself never talks to a gateway;
// only the strategy callbacks and the backtest harness do.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/optionengine/pkg/types"
)

// OrderStatus is the broker-reported outcome of a single order.
type OrderStatus string

const (
	OrderSuccess OrderStatus = "SUCCESS"
	OrderFailed  OrderStatus = "FAILED"
)

// BasketStatus summarizes a multi-leg placement.
type BasketStatus string

const (
	BasketSuccess BasketStatus = "SUCCESS"
	BasketPartial BasketStatus = "PARTIAL"
	BasketFailed  BasketStatus = "FAILED"
)

// OrderRequest describes one order to place.
type OrderRequest struct {
	Symbol          string
	Token           int64
	Exchange        string
	TransactionType types.TransactionType
	Quantity        int
	Price           decimal.Decimal // zero for market orders
	Product         string
	OrderType       string
	Tag             string
}

// OrderResponse is the broker's answer to PlaceOrder.
type OrderResponse struct {
	OrderID string
	Status  OrderStatus
	Message string
}

// LegResult is one leg's outcome inside a basket placement.
type LegResult struct {
	Request        OrderRequest
	OrderID        string
	Status         OrderStatus
	Message        string
	ExecutionPrice decimal.Decimal
}

// BasketResponse is the aggregate outcome of PlaceBasket.
type BasketResponse struct {
	Overall BasketStatus
	Legs    []LegResult
}

// OrderEvent is one row of an order's lifecycle history.
type OrderEvent struct {
	Status       string
	Price        decimal.Decimal
	AveragePrice decimal.Decimal
	Timestamp    time.Time
}

// Quote carries LTP plus depth for one symbol.
type Quote struct {
	Symbol    string
	LTP       decimal.Decimal
	BidPrice  decimal.Decimal
	BidQty    int
	AskPrice  decimal.Decimal
	AskQty    int
	Timestamp time.Time
}

// OrderGateway is the abstract broker-order surface (spec §6). Every blocking
// call takes a context; deadlines and cancellation are the caller's.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
	PlaceBasket(ctx context.Context, reqs []OrderRequest) (BasketResponse, error)
	OrderHistory(ctx context.Context, orderID string) ([]OrderEvent, error)
	CancelOrder(ctx context.Context, orderID string) error
	ModifyOrder(ctx context.Context, orderID string, price decimal.Decimal, quantity int) error

	LTP(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	Quote(ctx context.Context, symbols []string) (map[string]Quote, error)
	Historical(ctx context.Context, token int64, from, to time.Time, interval types.Timeframe, continuous, oi bool) ([]types.Candle, error)
	Instruments(ctx context.Context, exchange string) ([]types.Instrument, error)
}
