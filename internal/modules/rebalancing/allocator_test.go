package rebalancing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/domain"
)

func buy(symbol string, volume, price float64) domain.RebalanceOrder {
	return domain.RebalanceOrder{
		Symbol:         symbol,
		Pair:           symbol + "EUR",
		Side:           domain.SideBuy,
		Volume:         volume,
		Price:          price,
		EstimatedValue: volume * price,
		Status:         domain.OrderPlanned,
	}
}

func sell(symbol string, volume, price float64) domain.RebalanceOrder {
	o := buy(symbol, volume, price)
	o.Side = domain.SideSell
	return o
}

func totalValue(orders []domain.RebalanceOrder) float64 {
	var sum float64
	for _, o := range orders {
		sum += o.Value()
	}
	return sum
}

func TestApplyOrderLimit(t *testing.T) {
	orders := []domain.RebalanceOrder{sell("BTC", 1, 1), buy("ETH", 1, 1), buy("SOL", 1, 1)}

	kept, skipped := ApplyOrderLimit(orders, 2)
	require.Len(t, kept, 2)
	require.Len(t, skipped, 1)
	assert.Equal(t, "SOL", skipped[0].Symbol)
	assert.Equal(t, domain.OrderSkipped, skipped[0].Status)
	assert.Equal(t, domain.SkipMaxOrders, skipped[0].SkipReason)
	assert.Equal(t, domain.OrderPlanned, orders[2].Status, "input is not modified")

	kept, skipped = ApplyOrderLimit(orders, 0)
	assert.Len(t, kept, 3)
	assert.Empty(t, skipped)

	kept, skipped = ApplyOrderLimit(orders, 5)
	assert.Len(t, kept, 3)
	assert.Empty(t, skipped)
}

func TestEstimateCapital(t *testing.T) {
	sells := []domain.RebalanceOrder{sell("BTC", 0.01, 60000), sell("ETH", 0.5, 2000)}

	capital := EstimateCapital(100, 0, sells, 0.0026)
	assert.InDelta(t, 100+1600-1600*0.0026, capital, 1e-9)

	assert.InDelta(t, 1600-1600*0.0026, EstimateCapital(100, 500, sells, 0.0026), 1e-9,
		"reserved cash beyond the free balance never goes negative")
}

func TestAllocateBuys_NoScalingWhenCapitalSuffices(t *testing.T) {
	buys := []domain.RebalanceOrder{buy("ETH", 0.5, 2000), buy("SOL", 5, 100)}

	alloc := AllocateBuys(buys, 2000, true, domain.CapitalEstimated)
	require.Len(t, alloc.Orders, 2)
	assert.Empty(t, alloc.Skipped)
	assert.Equal(t, 1.0, alloc.Diagnostic.ScaleFactor)
	assert.InDelta(t, 1500, alloc.Diagnostic.TotalBuyDemand, 1e-9)
	assert.Equal(t, 0.5, alloc.Orders[0].Volume)
	assert.Equal(t, domain.OrderAllocated, alloc.Orders[0].Status)
}

func TestAllocateBuys_ProportionalScaling(t *testing.T) {
	buys := []domain.RebalanceOrder{buy("ETH", 0.5, 2000), buy("SOL", 10, 100)}

	alloc := AllocateBuys(buys, 1000, true, domain.CapitalRealized)
	require.Len(t, alloc.Orders, 2)
	assert.InDelta(t, 0.5, alloc.Diagnostic.ScaleFactor, 1e-12)
	assert.Equal(t, domain.CapitalRealized, alloc.Diagnostic.Source)
	assert.InDelta(t, 0.25, alloc.Orders[0].Volume, 1e-12)
	assert.InDelta(t, 5, alloc.Orders[1].Volume, 1e-12)
	assert.LessOrEqual(t, totalValue(alloc.Orders), 1000.0)
}

func TestAllocateBuys_NeverExceedsCapital(t *testing.T) {
	cases := []struct {
		capital float64
		buys    []domain.RebalanceOrder
	}{
		{997.4, []domain.RebalanceOrder{buy("ETH", 0.5, 2000)}},
		{333.33, []domain.RebalanceOrder{buy("A", 1.23456789, 97.31), buy("B", 0.00012345, 61234.5), buy("C", 17, 3.3)}},
		{0.01, []domain.RebalanceOrder{buy("A", 3, 0.7), buy("B", 7, 0.3)}},
		{1234.5678, []domain.RebalanceOrder{buy("A", 0.1, 60000), buy("B", 2.5, 2000), buy("C", 77, 101.01)}},
	}

	for _, tc := range cases {
		demand := totalValue(tc.buys)
		alloc := AllocateBuys(tc.buys, tc.capital, true, domain.CapitalEstimated)

		assert.LessOrEqual(t, totalValue(alloc.Orders), tc.capital+1e-9)
		for i, o := range alloc.Orders {
			share := tc.buys[i].Value() * tc.capital / demand
			assert.LessOrEqual(t, o.Value(), share+1e-9, "%s exceeds its proportional share", o.Symbol)
		}
	}
}

func TestAllocateBuys_InsufficientFunds(t *testing.T) {
	buys := []domain.RebalanceOrder{buy("ETH", 0.5, 2000)}

	alloc := AllocateBuys(buys, 0, true, domain.CapitalRealized)
	assert.Empty(t, alloc.Orders)
	require.Len(t, alloc.Skipped, 1)
	assert.Equal(t, domain.SkipInsufficientFunds, alloc.Skipped[0].SkipReason)
	assert.Equal(t, 0.0, alloc.Diagnostic.ScaleFactor)
}

func TestAllocateBuys_ScaledBelowLotMinimum(t *testing.T) {
	small := buy("SOL", 0.05, 100)
	small.LotMinimum = 0.04
	buys := []domain.RebalanceOrder{buy("ETH", 1, 2000), small}

	alloc := AllocateBuys(buys, 1002.5, true, domain.CapitalEstimated)
	require.Len(t, alloc.Orders, 1)
	assert.Equal(t, "ETH", alloc.Orders[0].Symbol)
	require.Len(t, alloc.Skipped, 1)
	assert.Equal(t, "SOL", alloc.Skipped[0].Symbol)
	assert.Equal(t, domain.SkipBelowLotMinimum, alloc.Skipped[0].SkipReason)
}

func TestAllocateBuys_SmartRoutingDisabled(t *testing.T) {
	buys := []domain.RebalanceOrder{buy("ETH", 0.5, 2000)}

	alloc := AllocateBuys(buys, 10, false, domain.CapitalEstimated)
	require.Len(t, alloc.Orders, 1)
	assert.Equal(t, 0.5, alloc.Orders[0].Volume)
	assert.False(t, alloc.Diagnostic.Enabled)
	assert.Equal(t, 1.0, alloc.Diagnostic.ScaleFactor)
	assert.InDelta(t, 1000, alloc.Diagnostic.TotalBuyDemand, 1e-9)
}
