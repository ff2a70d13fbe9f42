// Package domain holds the types shared by the rebalancing engine, the scheduler
// and the infrastructure around them. It has no infrastructure dependencies.
package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
)

// WeightSumTolerance is how far the target weights may drift from 100.
const WeightSumTolerance = 0.01

// DefaultBaseCurrency is used when a portfolio does not name one.
const DefaultBaseCurrency = "EUR"

// CheckFrequency controls how often the scheduler evaluates a portfolio
type CheckFrequency string

const (
	FrequencyEvery30Minutes CheckFrequency = "every_30_minutes"
	FrequencyHourly         CheckFrequency = "hourly"
	FrequencyEvery2Hours    CheckFrequency = "every_2_hours"
	FrequencyEvery4Hours    CheckFrequency = "every_4_hours"
	FrequencyDaily          CheckFrequency = "daily"
)

var frequencySpecs = map[CheckFrequency]string{
	FrequencyEvery30Minutes: "*/30 * * * *",
	FrequencyHourly:         "0 * * * *",
	FrequencyEvery2Hours:    "0 */2 * * *",
	FrequencyEvery4Hours:    "0 */4 * * *",
	FrequencyDaily:          "0 0 * * *",
}

// Valid reports whether f is a known frequency. The empty value is valid and means hourly.
func (f CheckFrequency) Valid() bool {
	if f == "" {
		return true
	}
	_, ok := frequencySpecs[f]
	return ok
}

// OrDefault returns f, or hourly when f is empty or unknown
func (f CheckFrequency) OrDefault() CheckFrequency {
	if _, ok := frequencySpecs[f]; ok {
		return f
	}
	return FrequencyHourly
}

// CronSpec returns the standard five-field cron expression for f
func (f CheckFrequency) CronSpec() string {
	return frequencySpecs[f.OrDefault()]
}

// OrderType is the kind of order submitted to the exchange
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Portfolio is a managed portfolio and its rebalancing configuration
type Portfolio struct {
	ID           string `json:"id" yaml:"id"`
	OwnerID      string `json:"ownerId" yaml:"ownerId"`
	Name         string `json:"name" yaml:"name"`
	BaseCurrency string `json:"baseCurrency" yaml:"baseCurrency"`

	// TargetWeights maps canonical symbol to percentage; values sum to 100.
	TargetWeights map[string]float64 `json:"targetWeights" yaml:"targetWeights"`

	// RebalanceThreshold is the minimum base-currency difference worth an order.
	RebalanceThreshold float64 `json:"rebalanceThreshold" yaml:"rebalanceThreshold"`
	RebalanceEnabled   bool    `json:"rebalanceEnabled" yaml:"rebalanceEnabled"`

	ThresholdRebalanceEnabled bool    `json:"thresholdRebalanceEnabled" yaml:"thresholdRebalanceEnabled"`
	ThresholdPercentage       float64 `json:"thresholdPercentage" yaml:"thresholdPercentage"`

	MaxOrdersPerRebalance int            `json:"maxOrdersPerRebalance" yaml:"maxOrdersPerRebalance"` // 0 = no cap
	OrderType             OrderType      `json:"orderType" yaml:"orderType"`
	SmartRoutingEnabled   bool           `json:"smartRoutingEnabled" yaml:"smartRoutingEnabled"`
	CheckFrequency        CheckFrequency `json:"checkFrequency" yaml:"checkFrequency"`
	SchedulerEnabled      bool           `json:"schedulerEnabled" yaml:"schedulerEnabled"`

	LastRebalancedAt *time.Time `json:"lastRebalancedAt,omitempty" yaml:"-"`
	NextRebalanceAt  *time.Time `json:"nextRebalanceAt,omitempty" yaml:"-"`
	TotalFeesPaid    float64    `json:"totalFeesPaid" yaml:"-"`

	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// Schedulable reports whether the scheduler should keep a task for this portfolio
func (p *Portfolio) Schedulable() bool {
	return p.SchedulerEnabled && (p.RebalanceEnabled || p.ThresholdRebalanceEnabled)
}

// Quote returns the base currency, falling back to the default
func (p *Portfolio) Quote() string {
	if p.BaseCurrency == "" {
		return DefaultBaseCurrency
	}
	return strings.ToUpper(p.BaseCurrency)
}

// Symbols returns the target symbols in ascending order
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.TargetWeights))
	for symbol := range p.TargetWeights {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// WeightSum returns the sum of all target weights
func (p *Portfolio) WeightSum() float64 {
	if len(p.TargetWeights) == 0 {
		return 0
	}
	values := make([]float64, 0, len(p.TargetWeights))
	for _, symbol := range p.Symbols() {
		values = append(values, p.TargetWeights[symbol])
	}
	return floats.Sum(values)
}

// Validate checks the rebalancing configuration. It returns a ConfigurationError.
func (p *Portfolio) Validate() error {
	const op = "portfolio.validate"

	if strings.TrimSpace(p.ID) == "" {
		return NewError(KindValidation, op, "portfolio id is required", nil)
	}
	if len(p.TargetWeights) == 0 {
		return NewError(KindConfiguration, op, "target weights are empty", nil)
	}
	for _, symbol := range p.Symbols() {
		weight := p.TargetWeights[symbol]
		if strings.TrimSpace(symbol) == "" {
			return NewError(KindConfiguration, op, "target weight has an empty symbol", nil)
		}
		if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
			return NewError(KindConfiguration, op, fmt.Sprintf("invalid weight %v for %s", weight, symbol), nil)
		}
	}
	if sum := p.WeightSum(); math.Abs(sum-100) > WeightSumTolerance {
		return NewError(KindConfiguration, op, fmt.Sprintf("target weights sum to %.4f, expected 100", sum), nil)
	}
	if p.RebalanceThreshold < 0 {
		return NewError(KindConfiguration, op, "rebalance threshold cannot be negative", nil)
	}
	if p.ThresholdRebalanceEnabled && p.ThresholdPercentage <= 0 {
		return NewError(KindConfiguration, op, "threshold percentage must be positive when threshold rebalancing is enabled", nil)
	}
	if p.ThresholdPercentage < 0 {
		return NewError(KindConfiguration, op, "threshold percentage cannot be negative", nil)
	}
	if p.MaxOrdersPerRebalance < 0 {
		return NewError(KindConfiguration, op, "max orders per rebalance cannot be negative", nil)
	}
	switch p.OrderType {
	case "", OrderTypeMarket, OrderTypeLimit:
	default:
		return NewError(KindConfiguration, op, fmt.Sprintf("unknown order type %q", p.OrderType), nil)
	}
	if !p.CheckFrequency.Valid() {
		return NewError(KindConfiguration, op, fmt.Sprintf("unknown check frequency %q", p.CheckFrequency), nil)
	}
	return nil
}

// Overrides replaces parts of a portfolio's configuration for a single run
type Overrides struct {
	TargetWeights         map[string]float64 `json:"targetWeights,omitempty"`
	RebalanceThreshold    *float64           `json:"rebalanceThreshold,omitempty"`
	MaxOrdersPerRebalance *int               `json:"maxOrdersPerRebalance,omitempty"`
	SmartRoutingEnabled   *bool              `json:"smartRoutingEnabled,omitempty"`
	OrderType             *OrderType         `json:"orderType,omitempty"`
}

// Apply returns a copy of p with the overrides applied and validated.
// The original portfolio is never modified.
func (o *Overrides) Apply(p Portfolio) (Portfolio, error) {
	out := p
	out.TargetWeights = make(map[string]float64, len(p.TargetWeights))
	for symbol, weight := range p.TargetWeights {
		out.TargetWeights[symbol] = weight
	}
	if o == nil {
		return out, out.Validate()
	}

	if len(o.TargetWeights) > 0 {
		out.TargetWeights = make(map[string]float64, len(o.TargetWeights))
		for symbol, weight := range o.TargetWeights {
			out.TargetWeights[symbol] = weight
		}
	}
	if o.RebalanceThreshold != nil {
		out.RebalanceThreshold = *o.RebalanceThreshold
	}
	if o.MaxOrdersPerRebalance != nil {
		out.MaxOrdersPerRebalance = *o.MaxOrdersPerRebalance
	}
	if o.SmartRoutingEnabled != nil {
		out.SmartRoutingEnabled = *o.SmartRoutingEnabled
	}
	if o.OrderType != nil {
		out.OrderType = *o.OrderType
	}

	if err := out.Validate(); err != nil {
		return Portfolio{}, err
	}
	return out, nil
}
