package testing

import (
	"github.com/aristath/rebalancer/internal/domain"
)

// NewPortfolioFixture returns a valid BTC/ETH/SOL portfolio quoted in EUR
func NewPortfolioFixture(id string) domain.Portfolio {
	return domain.Portfolio{
		ID:                        id,
		OwnerID:                   "owner-1",
		Name:                      "Core " + id,
		BaseCurrency:              "EUR",
		TargetWeights:             map[string]float64{"BTC": 50, "ETH": 30, "SOL": 20},
		RebalanceThreshold:        10,
		RebalanceEnabled:          true,
		ThresholdRebalanceEnabled: true,
		ThresholdPercentage:       10,
		OrderType:                 domain.OrderTypeMarket,
		CheckFrequency:            domain.FrequencyHourly,
		SchedulerEnabled:          true,
	}
}

// NewSkewedGatewayFixture returns a gateway holding BTC €6000, ETH €2000 and SOL €2000
// at BTC=60000, ETH=2000, SOL=100.
func NewSkewedGatewayFixture() *MockGateway {
	g := NewMockGateway()
	g.SetBalances(map[string]float64{
		"XXBT": 0.1,
		"XETH": 1,
		"SOL":  20,
		"ZEUR": 0,
	})
	g.SetPrices(map[string]float64{
		"XBTEUR": 60000,
		"ETHEUR": 2000,
		"SOLEUR": 100,
	})
	g.SetMinimums(map[string]float64{
		"XBTEUR": 0.0001,
		"ETHEUR": 0.002,
		"SOLEUR": 0.02,
	})
	return g
}
