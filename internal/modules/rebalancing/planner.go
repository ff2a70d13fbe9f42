package rebalancing

import (
	"math"
	"sort"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/symbols"
)

// PlanInput is everything the order planner needs
type PlanInput struct {
	Weights            map[string]float64 // canonical symbol -> target percentage
	Snapshot           *domain.PortfolioSnapshot
	LotMinimums        map[string]float64 // canonical symbol -> minimum volume
	RebalanceThreshold float64            // minimum base-currency difference worth an order
	Quote              string
}

// PlanOrders computes the orders that move the holdings to their target weights.
//
// A symbol gets no order when its value difference is below RebalanceThreshold,
// when it has no usable price, or when the implied volume is below the pair's lot
// minimum. The result lists sells before buys; within each side the largest
// difference comes first, ties broken by symbol.
func PlanOrders(in PlanInput) []domain.RebalanceOrder {
	total := in.Snapshot.TotalValue
	orders := make([]domain.RebalanceOrder, 0, len(in.Weights))

	for _, symbol := range sortedKeys(in.Weights) {
		if symbol == in.Quote {
			continue
		}

		holding := in.Snapshot.Holding(symbol)
		targetValue := in.Weights[symbol] / 100 * total
		difference := targetValue - holding.Value
		magnitude := math.Abs(difference)

		if magnitude == 0 || magnitude < in.RebalanceThreshold {
			continue
		}

		price := in.Snapshot.Prices[symbol]
		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}

		volume := magnitude / price
		lotMin := in.LotMinimums[symbol]
		if volume < lotMin {
			continue
		}

		side := domain.SideBuy
		if difference < 0 {
			side = domain.SideSell
			// Rounding must never ask to sell more than is held
			if volume > holding.Amount {
				volume = holding.Amount
			}
		}

		orders = append(orders, domain.RebalanceOrder{
			Symbol:         symbol,
			Pair:           symbols.Pair(symbol, in.Quote),
			Side:           side,
			Volume:         volume,
			Price:          price,
			EstimatedValue: magnitude,
			Difference:     difference,
			LotMinimum:     lotMin,
			Status:         domain.OrderPlanned,
		})
	}

	sortOrders(orders)
	return orders
}

// sortOrders applies the execution priority: sells first, then larger
// differences, then symbol.
func sortOrders(orders []domain.RebalanceOrder) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.Side != b.Side {
			return a.Side == domain.SideSell
		}
		if a.EstimatedValue != b.EstimatedValue {
			return a.EstimatedValue > b.EstimatedValue
		}
		return a.Symbol < b.Symbol
	})
}

// splitSides partitions orders by side, preserving order
func splitSides(orders []domain.RebalanceOrder) (sells, buys []domain.RebalanceOrder) {
	for _, o := range orders {
		if o.Side == domain.SideSell {
			sells = append(sells, o)
		} else {
			buys = append(buys, o)
		}
	}
	return sells, buys
}
