package domain

import "context"

// ExchangeGateway is the exchange collaborator used by the engine.
// Implementations classify failures as *GatewayError.
type ExchangeGateway interface {
	// GetBalances returns raw exchange asset names mapped to amounts
	GetBalances(ctx context.Context) (map[string]float64, error)
	// GetTickerPrices returns last-trade prices keyed by the requested pair
	GetTickerPrices(ctx context.Context, pairs []string) (map[string]float64, error)
	// GetOrderMinimums returns the minimum order volume keyed by the requested pair
	GetOrderMinimums(ctx context.Context, pairs []string) (map[string]float64, error)
	// PlaceOrder submits an order
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// OrderRequest is an order as sent to the gateway
type OrderRequest struct {
	Pair       string
	Side       OrderSide
	Volume     float64
	OrderType  OrderType
	LimitPrice float64 // Only used for limit orders
}

// OrderResult is what the gateway reports after placing an order
type OrderResult struct {
	OrderID        string
	Status         OrderStatus // Submitted or Filled
	ExecutedVolume float64
	Cost           float64 // Base-currency value of the executed volume
	Fee            float64 // 0 when the exchange did not report one
}
