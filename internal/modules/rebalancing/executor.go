package rebalancing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
)

// ExecutionInput is a planned run handed to the executor
type ExecutionInput struct {
	Portfolio *domain.Portfolio
	Snapshot  *domain.PortfolioSnapshot
	Planned   []domain.RebalanceOrder
	DryRun    bool

	// ReservedCash is base currency the portfolio keeps as a target holding
	// and which buys must not spend.
	ReservedCash float64
}

// Execution is the outcome of running a plan
type Execution struct {
	Executed       []domain.RebalanceOrder
	Skipped        []domain.RebalanceOrder
	Errors         []string
	FundAllocation domain.FundAllocation
	Summary        domain.RunSummary
	Status         domain.RunStatus
	Success        bool
}

// orderOutcome is the result of submitting one order
type orderOutcome struct {
	order domain.RebalanceOrder
	err   error
}

func (o orderOutcome) ok() bool {
	return o.err == nil
}

// Executor submits planned orders: every sell resolves before any buy is sent,
// and a failed order never cancels the others.
type Executor struct {
	gateway domain.ExchangeGateway
	feeRate float64
	log     zerolog.Logger
}

// NewExecutor creates an executor. feeRate estimates fees the exchange does not report.
func NewExecutor(gateway domain.ExchangeGateway, feeRate float64, log zerolog.Logger) *Executor {
	return &Executor{
		gateway: gateway,
		feeRate: feeRate,
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// Execute runs the plan. A dry run does the same order limiting and allocation
// from estimated capital but never places an order.
func (e *Executor) Execute(ctx context.Context, in ExecutionInput) *Execution {
	p := in.Portfolio
	limited, skipped := ApplyOrderLimit(in.Planned, p.MaxOrdersPerRebalance)
	sells, buys := splitSides(limited)

	out := &Execution{Skipped: skipped}
	if in.DryRun {
		e.preview(in, sells, buys, out)
	} else {
		e.live(ctx, in, sells, buys, out)
	}
	out.Summary.SkippedOrders = len(out.Skipped)
	return out
}

func (e *Executor) preview(in ExecutionInput, sells, buys []domain.RebalanceOrder, out *Execution) {
	capital := EstimateCapital(in.Snapshot.FreeBaseBalance, in.ReservedCash, sells, e.feeRate)
	alloc := AllocateBuys(buys, capital, in.Portfolio.SmartRoutingEnabled, domain.CapitalEstimated)

	for _, o := range append(markAllocated(sells), alloc.Orders...) {
		o.Fee = o.Value() * e.feeRate
		out.Executed = append(out.Executed, o)
		out.Summary.TotalValueTraded += o.Value()
		out.Summary.TotalFees += o.Fee
	}
	out.Skipped = append(out.Skipped, alloc.Skipped...)
	out.FundAllocation = alloc.Diagnostic

	out.Summary.TotalOrders = len(out.Executed)
	out.Summary.SuccessfulOrders = len(out.Executed)
	out.Status = domain.RunPreviewed
	out.Success = true
}

func (e *Executor) live(ctx context.Context, in ExecutionInput, sells, buys []domain.RebalanceOrder, out *Execution) {
	p := in.Portfolio

	outcomes := make([]orderOutcome, 0, len(sells)+len(buys))
	for _, o := range sells {
		outcomes = append(outcomes, e.place(ctx, p, o))
	}

	capital := in.Snapshot.FreeBaseBalance - in.ReservedCash
	if capital < 0 {
		capital = 0
	}
	// Only proceeds the exchange reports as filled fund buys; resting sells add nothing
	for _, oc := range outcomes {
		if oc.ok() {
			capital += filledValue(oc.order) - oc.order.Fee
		}
	}

	alloc := AllocateBuys(buys, capital, p.SmartRoutingEnabled, domain.CapitalRealized)
	out.FundAllocation = alloc.Diagnostic
	out.Skipped = append(out.Skipped, alloc.Skipped...)

	for _, o := range alloc.Orders {
		outcomes = append(outcomes, e.place(ctx, p, o))
	}

	for _, oc := range outcomes {
		out.Executed = append(out.Executed, oc.order)
		if oc.ok() {
			out.Summary.SuccessfulOrders++
			out.Summary.TotalValueTraded += filledValue(oc.order)
			out.Summary.TotalFees += oc.order.Fee
			continue
		}
		out.Summary.FailedOrders++
		out.Errors = append(out.Errors, fmt.Sprintf("%s %s (%s): %v", oc.order.Side, oc.order.Symbol, oc.order.Pair, oc.err))
	}
	out.Summary.TotalOrders = len(out.Executed)

	switch {
	case out.Summary.FailedOrders == 0:
		out.Status = domain.RunCompleted
		out.Success = true
	case out.Summary.SuccessfulOrders > 0:
		out.Status = domain.RunPartiallyFailed
	default:
		out.Status = domain.RunFailed
	}
}

// place submits one order and records its outcome on a copy of the order
func (e *Executor) place(ctx context.Context, p *domain.Portfolio, o domain.RebalanceOrder) orderOutcome {
	orderType := p.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	req := domain.OrderRequest{
		Pair:      o.Pair,
		Side:      o.Side,
		Volume:    o.Volume,
		OrderType: orderType,
	}
	if orderType == domain.OrderTypeLimit {
		req.LimitPrice = o.Price
	}

	res, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		o.Status = domain.OrderFailed
		o.Error = err.Error()
		e.log.Error().
			Err(err).
			Str("portfolio_id", p.ID).
			Str("pair", o.Pair).
			Str("side", string(o.Side)).
			Float64("volume", o.Volume).
			Msg("Order failed")
		return orderOutcome{order: o, err: err}
	}

	o.OrderID = res.OrderID
	o.Status = res.Status
	if o.Status != domain.OrderFilled {
		o.Status = domain.OrderSubmitted
	}
	o.ExecutedVolume = res.ExecutedVolume
	o.Cost = res.Cost
	o.Fee = res.Fee
	if o.Fee <= 0 {
		o.Fee = filledValue(o) * e.feeRate
	}

	e.log.Info().
		Str("portfolio_id", p.ID).
		Str("pair", o.Pair).
		Str("side", string(o.Side)).
		Float64("volume", o.Volume).
		Str("order_id", o.OrderID).
		Str("status", string(o.Status)).
		Msg("Order placed")
	return orderOutcome{order: o}
}

// filledValue is the base-currency value the exchange has actually executed:
// the reported cost, else executed volume at the planned price. An order that
// is still resting with nothing executed is worth 0.
func filledValue(o domain.RebalanceOrder) float64 {
	if o.Cost > 0 {
		return o.Cost
	}
	executed := o.ExecutedVolume
	if executed <= 0 && o.Status == domain.OrderFilled {
		executed = o.Volume
	}
	return executed * o.Price
}
