package rebalancing

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/rebalancer/internal/domain"
)

// volumePlaces is the precision scaled buy volumes are truncated to
const volumePlaces = 8

// Allocation is the fund allocator's output for the buy side of a plan
type Allocation struct {
	Orders     []domain.RebalanceOrder // buys to submit, status Allocated
	Skipped    []domain.RebalanceOrder // buys dropped by the allocator
	Diagnostic domain.FundAllocation
}

// ApplyOrderLimit keeps the first limit orders of a prioritized plan and marks
// the rest skipped. limit <= 0 means no cap.
func ApplyOrderLimit(orders []domain.RebalanceOrder, limit int) (kept, skipped []domain.RebalanceOrder) {
	if limit <= 0 || len(orders) <= limit {
		return append([]domain.RebalanceOrder(nil), orders...), nil
	}

	kept = append([]domain.RebalanceOrder(nil), orders[:limit]...)
	for _, o := range orders[limit:] {
		o.Status = domain.OrderSkipped
		o.SkipReason = domain.SkipMaxOrders
		skipped = append(skipped, o)
	}
	return kept, skipped
}

// EstimateCapital returns the base currency expected to be free once the sells
// complete: free balance plus sell proceeds net of fees, less any cash the
// portfolio is meant to keep.
func EstimateCapital(freeBase, reserved float64, sells []domain.RebalanceOrder, feeRate float64) float64 {
	capital := decimal.NewFromFloat(freeBase).Sub(decimal.NewFromFloat(reserved))
	if capital.IsNegative() {
		capital = decimal.Zero
	}
	fee := decimal.NewFromFloat(feeRate)
	for _, o := range sells {
		proceeds := decimal.NewFromFloat(o.Volume).Mul(decimal.NewFromFloat(o.Price))
		capital = capital.Add(proceeds.Sub(proceeds.Mul(fee)))
	}
	return capital.InexactFloat64()
}

// AllocateBuys fits buy orders to the available capital.
//
// With smart routing off every buy is allocated unchanged and the diagnostic is
// informational only. With it on, when demand exceeds capital every buy volume is
// scaled by the same factor and truncated, so the scaled total never exceeds
// capital. Buys scaled below their lot minimum are skipped.
func AllocateBuys(buys []domain.RebalanceOrder, capital float64, smartRouting bool, source domain.CapitalSource) Allocation {
	available := decimal.NewFromFloat(capital)
	demand := decimal.Zero
	for _, o := range buys {
		demand = demand.Add(decimal.NewFromFloat(o.Volume).Mul(decimal.NewFromFloat(o.Price)))
	}

	alloc := Allocation{
		Diagnostic: domain.FundAllocation{
			Enabled:          smartRouting,
			AvailableCapital: capital,
			TotalBuyDemand:   demand.InexactFloat64(),
			ScaleFactor:      1,
			Source:           source,
		},
	}

	if !smartRouting || len(buys) == 0 || demand.LessThanOrEqual(available) {
		alloc.Orders = markAllocated(buys)
		return alloc
	}

	if available.Sign() <= 0 {
		alloc.Diagnostic.ScaleFactor = 0
		for _, o := range buys {
			o.Status = domain.OrderSkipped
			o.SkipReason = domain.SkipInsufficientFunds
			alloc.Skipped = append(alloc.Skipped, o)
		}
		return alloc
	}

	scale := available.Div(demand).Truncate(12)
	if scale.Mul(demand).GreaterThan(available) {
		scale = scale.Sub(decimal.New(1, -12))
	}
	alloc.Diagnostic.ScaleFactor = scale.InexactFloat64()

	for _, o := range buys {
		scaled := decimal.NewFromFloat(o.Volume).Mul(scale).Truncate(volumePlaces)
		if scaled.Sign() <= 0 || scaled.LessThan(decimal.NewFromFloat(o.LotMinimum)) {
			o.Status = domain.OrderSkipped
			o.SkipReason = domain.SkipBelowLotMinimum
			o.Volume = scaled.InexactFloat64()
			alloc.Skipped = append(alloc.Skipped, o)
			continue
		}
		o.Volume = scaled.InexactFloat64()
		o.Status = domain.OrderAllocated
		alloc.Orders = append(alloc.Orders, o)
	}
	return alloc
}

func markAllocated(orders []domain.RebalanceOrder) []domain.RebalanceOrder {
	out := make([]domain.RebalanceOrder, 0, len(orders))
	for _, o := range orders {
		o.Status = domain.OrderAllocated
		out = append(out, o)
	}
	return out
}
