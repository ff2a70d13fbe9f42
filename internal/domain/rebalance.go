package domain

import "time"

// OrderSide is buy or sell
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus tracks an order through a run
type OrderStatus string

const (
	OrderPlanned   OrderStatus = "Planned"
	OrderAllocated OrderStatus = "Allocated"
	OrderSubmitted OrderStatus = "Submitted"
	OrderFilled    OrderStatus = "Filled"
	OrderFailed    OrderStatus = "Failed"
	OrderSkipped   OrderStatus = "Skipped"
)

// Skip reasons recorded on skipped orders
const (
	SkipMaxOrders         = "max_orders_per_rebalance"
	SkipBelowLotMinimum   = "below_lot_minimum"
	SkipInsufficientFunds = "insufficient_funds"
)

// Holding is a derived position, recomputed every run
type Holding struct {
	Symbol     string  `json:"symbol"`
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
}

// RebalanceOrder is a candidate or executed order
type RebalanceOrder struct {
	Symbol         string      `json:"symbol"`
	Pair           string      `json:"pair"`
	Side           OrderSide   `json:"side"`
	Volume         float64     `json:"volume"`
	Price          float64     `json:"price"`
	EstimatedValue float64     `json:"estimatedValue"` // |difference| at plan time
	Difference     float64     `json:"difference"`     // signed target minus current value
	LotMinimum     float64     `json:"lotMinimum,omitempty"`
	Status         OrderStatus `json:"status"`
	SkipReason     string      `json:"skipReason,omitempty"`

	OrderID        string  `json:"orderId,omitempty"`
	ExecutedVolume float64 `json:"executedVolume,omitempty"`
	Cost           float64 `json:"cost,omitempty"`
	Fee            float64 `json:"fee,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Value returns the order's notional value at the planned price
func (o RebalanceOrder) Value() float64 {
	return o.Volume * o.Price
}

// Succeeded reports whether the order reached the exchange successfully
func (o RebalanceOrder) Succeeded() bool {
	return o.Status == OrderFilled || o.Status == OrderSubmitted
}

// SymbolDeviation is the per-symbol part of a threshold check
type SymbolDeviation struct {
	Symbol       string  `json:"symbol"`
	CurrentPct   float64 `json:"currentPercentage"`
	TargetPct    float64 `json:"targetPercentage"`
	Deviation    float64 `json:"deviation"`
	CurrentValue float64 `json:"currentValue"`
	TargetValue  float64 `json:"targetValue"`
}

// ThresholdReport is the output of the threshold monitor
type ThresholdReport struct {
	PortfolioID         string            `json:"portfolioId"`
	Enabled             bool              `json:"enabled"`
	Breached            bool              `json:"breached"`
	MaxDeviation        float64           `json:"maxDeviation"`
	ThresholdPercentage float64           `json:"thresholdPercentage"`
	TotalValue          float64           `json:"totalValue"`
	Deviations          []SymbolDeviation `json:"deviations"`
	CheckedAt           time.Time         `json:"checkedAt"`
}

// PortfolioSnapshot is the valued state of a portfolio at the start of a run
type PortfolioSnapshot struct {
	TotalValue      float64            `json:"totalValue"`
	FreeBaseBalance float64            `json:"freeBaseBalance"`
	Holdings        []Holding          `json:"holdings"`
	Prices          map[string]float64 `json:"prices"`
	LotMinimums     map[string]float64 `json:"lotMinimums,omitempty"`
}

// Holding returns the holding for symbol, or a zero holding
func (s *PortfolioSnapshot) Holding(symbol string) Holding {
	for _, h := range s.Holdings {
		if h.Symbol == symbol {
			return h
		}
	}
	return Holding{Symbol: symbol, Price: s.Prices[symbol]}
}

// CapitalSource says whether allocation used plan estimates or realized sell proceeds
type CapitalSource string

const (
	CapitalEstimated CapitalSource = "estimated"
	CapitalRealized  CapitalSource = "realized"
)

// FundAllocation is the allocator diagnostic attached to a result
type FundAllocation struct {
	Enabled          bool          `json:"enabled"`
	AvailableCapital float64       `json:"availableCapital"`
	TotalBuyDemand   float64       `json:"totalBuyDemand"`
	ScaleFactor      float64       `json:"scaleFactor"`
	Source           CapitalSource `json:"source"`
}

// RunSummary aggregates order outcomes
type RunSummary struct {
	TotalOrders      int     `json:"totalOrders"`
	SuccessfulOrders int     `json:"successfulOrders"`
	FailedOrders     int     `json:"failedOrders"`
	SkippedOrders    int     `json:"skippedOrders"`
	TotalValueTraded float64 `json:"totalValueTraded"`
	TotalFees        float64 `json:"totalFees"`
}

// RunStatus is the terminal state of a run
type RunStatus string

const (
	RunPreviewed       RunStatus = "Previewed"
	RunCompleted       RunStatus = "Completed"
	RunPartiallyFailed RunStatus = "PartiallyFailed"
	RunFailed          RunStatus = "Failed"
)

// Trigger records what started a run
type Trigger string

const (
	TriggerAPI       Trigger = "api"
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerThreshold Trigger = "threshold"
)

// RebalanceResult is the record of one run. It is not modified after it is returned.
type RebalanceResult struct {
	ID             string            `json:"id"`
	PortfolioID    string            `json:"portfolioId"`
	Timestamp      time.Time         `json:"timestamp"`
	DryRun         bool              `json:"dryRun"`
	Trigger        Trigger           `json:"trigger"`
	Status         RunStatus         `json:"status"`
	Success        bool              `json:"success"`
	Portfolio      PortfolioSnapshot `json:"portfolio"`
	Threshold      *ThresholdReport  `json:"threshold,omitempty"`
	OrdersPlanned  []RebalanceOrder  `json:"ordersPlanned"`
	OrdersExecuted []RebalanceOrder  `json:"ordersExecuted"`
	SkippedOrders  []RebalanceOrder  `json:"skippedOrders"`
	Errors         []string          `json:"errors"`
	Warnings       []string          `json:"warnings"`
	FundAllocation FundAllocation    `json:"fundAllocation"`
	Summary        RunSummary        `json:"summary"`
	DurationMs     int64             `json:"durationMs"`
}
