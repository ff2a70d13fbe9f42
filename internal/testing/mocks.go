package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/rebalancer/internal/domain"
)

// MockGateway is an in-memory exchange gateway for tests.
// Orders fill immediately at the configured price unless a failure is set for the pair.
type MockGateway struct {
	mu        sync.Mutex
	balances  map[string]float64
	prices    map[string]float64
	minimums  map[string]float64
	feeRate   float64
	failPairs map[string]error
	restPairs map[string]float64 // pair -> filled fraction of orders left resting

	balanceErr error
	priceErr   error

	orders      []domain.OrderRequest
	priceCalls  int
	balanceCall int
	nextID      int

	// OnPlaceOrder, when set, runs before an order is recorded
	OnPlaceOrder func(req domain.OrderRequest)
}

// NewMockGateway creates an empty mock gateway with a 0.26% fee
func NewMockGateway() *MockGateway {
	return &MockGateway{
		balances:  make(map[string]float64),
		prices:    make(map[string]float64),
		minimums:  make(map[string]float64),
		failPairs: make(map[string]error),
		restPairs: make(map[string]float64),
		feeRate:   0.0026,
	}
}

// SetBalances sets the raw balances to return
func (m *MockGateway) SetBalances(balances map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = balances
}

// SetPrices sets the ticker prices keyed by exchange pair
func (m *MockGateway) SetPrices(prices map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = prices
}

// SetMinimums sets the lot minimums keyed by exchange pair
func (m *MockGateway) SetMinimums(minimums map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minimums = minimums
}

// SetFeeRate sets the fee reported on filled orders
func (m *MockGateway) SetFeeRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeRate = rate
}

// FailOrdersFor makes PlaceOrder fail for pair
func (m *MockGateway) FailOrdersFor(pair string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPairs[pair] = err
}

// RestOrdersFor makes orders for pair come back Submitted with only fillRatio
// of the volume executed. 0 leaves the order resting with nothing filled.
func (m *MockGateway) RestOrdersFor(pair string, fillRatio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restPairs[pair] = fillRatio
}

// SetBalanceError makes GetBalances fail
func (m *MockGateway) SetBalanceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceErr = err
}

// SetPriceError makes GetTickerPrices fail
func (m *MockGateway) SetPriceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceErr = err
}

// Orders returns the orders placed so far, in submission order
func (m *MockGateway) Orders() []domain.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OrderRequest, len(m.orders))
	copy(out, m.orders)
	return out
}

// PriceCalls returns how many times ticker prices were requested
func (m *MockGateway) PriceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priceCalls
}

// BalanceCalls returns how many times balances were requested
func (m *MockGateway) BalanceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceCall
}

// GetBalances returns the configured balances
func (m *MockGateway) GetBalances(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCall++
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	out := make(map[string]float64, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out, nil
}

// GetTickerPrices returns prices for the requested pairs
func (m *MockGateway) GetTickerPrices(ctx context.Context, pairs []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceCalls++
	if m.priceErr != nil {
		return nil, m.priceErr
	}
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		price, ok := m.prices[pair]
		if !ok {
			return nil, &domain.GatewayError{Code: domain.GatewayInvalidPair, Op: "ticker", Message: pair}
		}
		out[pair] = price
	}
	return out, nil
}

// GetOrderMinimums returns lot minimums for the requested pairs, 0 when unknown
func (m *MockGateway) GetOrderMinimums(ctx context.Context, pairs []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		out[pair] = m.minimums[pair]
	}
	return out, nil
}

// PlaceOrder records the order and fills it at the configured price, unless
// the pair is set to rest
func (m *MockGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if m.OnPlaceOrder != nil {
		m.OnPlaceOrder(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders = append(m.orders, req)
	if err := m.failPairs[req.Pair]; err != nil {
		return nil, err
	}

	price := m.prices[req.Pair]
	if req.OrderType == domain.OrderTypeLimit && req.LimitPrice > 0 {
		price = req.LimitPrice
	}
	m.nextID++

	status := domain.OrderFilled
	executed := req.Volume
	if ratio, ok := m.restPairs[req.Pair]; ok {
		status = domain.OrderSubmitted
		executed = req.Volume * ratio
	}
	cost := executed * price

	return &domain.OrderResult{
		OrderID:        fmt.Sprintf("O-%04d", m.nextID),
		Status:         status,
		ExecutedVolume: executed,
		Cost:           cost,
		Fee:            cost * m.feeRate,
	}, nil
}
