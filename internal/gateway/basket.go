package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/internal/monitorerr"
	"github.com/atlas-quant/optionengine/internal/workers"
	"github.com/atlas-quant/optionengine/pkg/types"
)

// rollbackDeadline bounds how long a partial-fill rollback may take before
// operator intervention is demanded.
const rollbackDeadline = 5 * time.Second

// BasketExecutor places multi-leg baskets leg-by-leg on the high-priority
// order pool and rolls back the succeeded legs when the basket lands PARTIAL.
type BasketExecutor struct {
	logger  *zap.Logger
	gateway OrderGateway
	pool    *workers.Pool
	limiter *RateLimiter
}

func NewBasketExecutor(logger *zap.Logger, gw OrderGateway, pool *workers.Pool, limiter *RateLimiter) *BasketExecutor {
	return &BasketExecutor{
		logger:  logger.Named("basket"),
		gateway: gw,
		pool:    pool,
		limiter: limiter,
	}
}

// Execute submits every leg in parallel, each as an independent pool task,
// and waits for all of them. A fully-failed basket returns
// ORDER_PLACEMENT_FAILED; a mixed outcome triggers rollback of the succeeded
// legs and returns ORDER_PARTIAL_FILL.
func (e *BasketExecutor) Execute(ctx context.Context, reqs []OrderRequest) (BasketResponse, error) {
	if len(reqs) == 0 {
		return BasketResponse{Overall: BasketSuccess}, nil
	}

	results := make([]LegResult, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		submit := func() error {
			defer wg.Done()
			results[i] = e.placeLeg(ctx, req)
			return nil
		}
		if err := e.pool.SubmitFunc(submit); err != nil {
			// Pool saturated or stopped: run inline rather than dropping a leg.
			submit()
		}
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Status == OrderSuccess {
			succeeded++
		}
	}

	resp := BasketResponse{Legs: results}
	switch {
	case succeeded == len(reqs):
		resp.Overall = BasketSuccess
		return resp, nil
	case succeeded == 0:
		resp.Overall = BasketFailed
		return resp, monitorerr.New(monitorerr.OrderPlacementFailed, "all basket legs failed")
	default:
		resp.Overall = BasketPartial
		e.rollback(results)
		return resp, monitorerr.New(monitorerr.OrderPartialFill, "basket partially filled; succeeded legs rolled back")
	}
}

func (e *BasketExecutor) placeLeg(ctx context.Context, req OrderRequest) LegResult {
	if e.limiter != nil {
		if err := e.limiter.Acquire(ClassOrder); err != nil {
			return LegResult{Request: req, Status: OrderFailed, Message: err.Error()}
		}
	}
	resp, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		return LegResult{Request: req, Status: OrderFailed, Message: err.Error()}
	}
	return LegResult{
		Request: req,
		OrderID: resp.OrderID,
		Status:  resp.Status,
		Message: resp.Message,
	}
}

// rollback closes every succeeded leg with the opposite transaction type
// under a fixed 5-second deadline. On deadline expiry the engine never
// retries silently: it logs MANUAL_INTERVENTION_REQUIRED for the operator.
func (e *BasketExecutor) rollback(results []LegResult) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackDeadline)
	defer cancel()

	for _, r := range results {
		if r.Status != OrderSuccess {
			continue
		}
		reverse := r.Request
		if reverse.TransactionType == types.TransactionBuy {
			reverse.TransactionType = types.TransactionSell
		} else {
			reverse.TransactionType = types.TransactionBuy
		}
		reverse.Tag = "rollback"

		resp, err := e.gateway.PlaceOrder(ctx, reverse)
		if err != nil || resp.Status != OrderSuccess {
			e.logger.Error("MANUAL_INTERVENTION_REQUIRED: basket rollback failed",
				zap.String("symbol", reverse.Symbol),
				zap.String("order_id", r.OrderID),
				zap.Error(err),
			)
			continue
		}
		if ctx.Err() != nil {
			e.logger.Error("MANUAL_INTERVENTION_REQUIRED: rollback deadline expired",
				zap.String("symbol", reverse.Symbol),
			)
			return
		}
	}
}
