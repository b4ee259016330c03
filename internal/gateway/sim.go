package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/optionengine/internal/monitorerr"
	"github.com/atlas-quant/optionengine/pkg/types"
	"github.com/atlas-quant/optionengine/pkg/utils"
)

// SimGateway is a deterministic in-memory OrderGateway used by the backtest
// harness and tests. Fills are immediate at the configured LTP; no network.
type SimGateway struct {
	mu          sync.Mutex
	ltps        map[string]decimal.Decimal
	instruments map[string][]types.Instrument
	candles     map[int64][]types.Candle
	orders      map[string][]OrderEvent

	// FailSymbols forces PlaceOrder to fail for the named symbols, used to
	// exercise partial-fill rollback in tests.
	FailSymbols map[string]bool

	sessionValid bool
}

func NewSimGateway() *SimGateway {
	return &SimGateway{
		ltps:         make(map[string]decimal.Decimal),
		instruments:  make(map[string][]types.Instrument),
		candles:      make(map[int64][]types.Candle),
		orders:       make(map[string][]OrderEvent),
		FailSymbols:  make(map[string]bool),
		sessionValid: true,
	}
}

// SetLTP seeds the simulated last traded price for a symbol.
func (g *SimGateway) SetLTP(symbol string, ltp decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ltps[symbol] = ltp
}

// SetInstruments seeds the simulated instrument dump for an exchange.
func (g *SimGateway) SetInstruments(exchange string, dump []types.Instrument) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instruments[exchange] = dump
}

// SetCandles seeds historical candles for a token.
func (g *SimGateway) SetCandles(token int64, candles []types.Candle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candles[token] = candles
}

// InvalidateSession makes every subsequent call fail with SESSION_INVALID.
func (g *SimGateway) InvalidateSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionValid = false
}

func (g *SimGateway) checkSession() error {
	if !g.sessionValid {
		return monitorerr.New(monitorerr.SessionInvalid, "access token expired")
	}
	return nil
}

func (g *SimGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkSession(); err != nil {
		return OrderResponse{Status: OrderFailed, Message: err.Error()}, err
	}
	if g.FailSymbols[req.Symbol] {
		return OrderResponse{Status: OrderFailed, Message: "rejected"},
			monitorerr.New(monitorerr.OrderPlacementFailed, fmt.Sprintf("simulated rejection for %s", req.Symbol))
	}

	orderID := utils.GenerateOrderID()
	price := req.Price
	if price.IsZero() {
		price = g.ltps[req.Symbol]
	}
	g.orders[orderID] = []OrderEvent{
		{Status: "OPEN", Price: price, Timestamp: time.Now()},
		{Status: "COMPLETE", Price: price, AveragePrice: price, Timestamp: time.Now()},
	}
	return OrderResponse{OrderID: orderID, Status: OrderSuccess}, nil
}

func (g *SimGateway) PlaceBasket(ctx context.Context, reqs []OrderRequest) (BasketResponse, error) {
	resp := BasketResponse{Legs: make([]LegResult, 0, len(reqs))}
	succeeded := 0
	for _, req := range reqs {
		or, err := g.PlaceOrder(ctx, req)
		leg := LegResult{Request: req, OrderID: or.OrderID, Status: or.Status, Message: or.Message}
		if err == nil && or.Status == OrderSuccess {
			succeeded++
			g.mu.Lock()
			leg.ExecutionPrice = g.ltps[req.Symbol]
			g.mu.Unlock()
		}
		resp.Legs = append(resp.Legs, leg)
	}
	switch {
	case succeeded == len(reqs):
		resp.Overall = BasketSuccess
	case succeeded == 0:
		resp.Overall = BasketFailed
	default:
		resp.Overall = BasketPartial
	}
	return resp, nil
}

func (g *SimGateway) OrderHistory(ctx context.Context, orderID string) ([]OrderEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkSession(); err != nil {
		return nil, err
	}
	events, ok := g.orders[orderID]
	if !ok {
		return nil, monitorerr.New(monitorerr.OrderPlacementFailed, "unknown order id")
	}
	out := make([]OrderEvent, len(events))
	copy(out, events)
	return out, nil
}

func (g *SimGateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkSession(); err != nil {
		return err
	}
	g.orders[orderID] = append(g.orders[orderID], OrderEvent{Status: "CANCELLED", Timestamp: time.Now()})
	return nil
}

func (g *SimGateway) ModifyOrder(ctx context.Context, orderID string, price decimal.Decimal, quantity int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkSession(); err != nil {
		return err
	}
	g.orders[orderID] = append(g.orders[orderID], OrderEvent{Status: "MODIFIED", Price: price, Timestamp: time.Now()})
	return nil
}

func (g *SimGateway) LTP(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkSession(); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		out[s] = g.ltps[s]
	}
	return out, nil
}

func (g *SimGateway) Quote(ctx context.Context, symbols []string) (map[string]Quote, error) {
	ltps, err := g.LTP(ctx, symbols)
	if err != nil {
		return nil, err
	}
	tick := decimal.NewFromFloat(0.05)
	out := make(map[string]Quote, len(ltps))
	for s, ltp := range ltps {
		out[s] = Quote{
			Symbol:    s,
			LTP:       ltp,
			BidPrice:  ltp.Sub(tick),
			BidQty:    75,
			AskPrice:  ltp.Add(tick),
			AskQty:    75,
			Timestamp: time.Now(),
		}
	}
	return out, nil
}

func (g *SimGateway) Historical(ctx context.Context, token int64, from, to time.Time, interval types.Timeframe, continuous, oi bool) ([]types.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkSession(); err != nil {
		return nil, err
	}
	all, ok := g.candles[token]
	if !ok {
		return nil, monitorerr.New(monitorerr.DataUnavailable, fmt.Sprintf("no candles seeded for token %d", token))
	}
	out := make([]types.Candle, 0, len(all))
	for _, c := range all {
		if !c.Timestamp.Before(from) && !c.Timestamp.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (g *SimGateway) Instruments(ctx context.Context, exchange string) ([]types.Instrument, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkSession(); err != nil {
		return nil, err
	}
	dump, ok := g.instruments[exchange]
	if !ok {
		return nil, monitorerr.New(monitorerr.DataUnavailable, fmt.Sprintf("no instrument dump for %s", exchange))
	}
	out := make([]types.Instrument, len(dump))
	copy(out, dump)
	return out, nil
}
