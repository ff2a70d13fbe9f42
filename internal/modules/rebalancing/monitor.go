package rebalancing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/symbols"
)

// Monitor values a portfolio from exchange balances and measures how far it
// has drifted from its target weights.
type Monitor struct {
	gateway domain.ExchangeGateway
	log     zerolog.Logger
	now     func() time.Time
}

// NewMonitor creates a threshold monitor
func NewMonitor(gateway domain.ExchangeGateway, log zerolog.Logger) *Monitor {
	return &Monitor{
		gateway: gateway,
		log:     log.With().Str("component", "threshold_monitor").Logger(),
		now:     time.Now,
	}
}

// Snapshot fetches balances and prices and values the portfolio's target symbols.
// Balances held under several exchange spellings of one asset are summed.
// The base currency is priced at 1.
func (m *Monitor) Snapshot(ctx context.Context, p *domain.Portfolio) (*domain.PortfolioSnapshot, error) {
	quote := p.Quote()
	weights := canonicalWeights(p)

	raw, err := m.gateway.GetBalances(ctx)
	if err != nil {
		return nil, err
	}
	amounts := make(map[string]float64, len(raw))
	for asset, amount := range raw {
		symbol := symbols.Normalize(asset)
		if symbol == "" {
			continue
		}
		amounts[symbol] += amount
	}

	targets := sortedKeys(weights)
	pairs := make([]string, 0, len(targets))
	pairBySymbol := make(map[string]string, len(targets))
	for _, symbol := range targets {
		if symbol == quote {
			continue
		}
		pair := symbols.Pair(symbol, quote)
		pairs = append(pairs, pair)
		pairBySymbol[symbol] = pair
	}

	prices := make(map[string]float64, len(targets))
	if len(pairs) > 0 {
		tickers, err := m.gateway.GetTickerPrices(ctx, pairs)
		if err != nil {
			return nil, err
		}
		for symbol, pair := range pairBySymbol {
			price, ok := tickers[pair]
			if !ok {
				return nil, &domain.GatewayError{
					Code:    domain.GatewayInvalidPair,
					Op:      "ticker",
					Message: fmt.Sprintf("no price for %s", pair),
				}
			}
			prices[symbol] = price
		}
	}
	if _, ok := weights[quote]; ok {
		prices[quote] = 1
	}

	snapshot := &domain.PortfolioSnapshot{
		FreeBaseBalance: amounts[quote],
		Holdings:        make([]domain.Holding, 0, len(targets)),
		Prices:          prices,
	}
	for _, symbol := range targets {
		amount := amounts[symbol]
		price := prices[symbol]
		snapshot.Holdings = append(snapshot.Holdings, domain.Holding{
			Symbol: symbol,
			Amount: amount,
			Price:  price,
			Value:  amount * price,
		})
	}
	fillPercentages(snapshot)

	m.log.Debug().
		Str("portfolio_id", p.ID).
		Float64("total_value", snapshot.TotalValue).
		Float64("free_base", snapshot.FreeBaseBalance).
		Int("holdings", len(snapshot.Holdings)).
		Msg("Portfolio valued")

	return snapshot, nil
}

// LotMinimums fetches the minimum order volume for every tradable target symbol,
// keyed by canonical symbol.
func (m *Monitor) LotMinimums(ctx context.Context, p *domain.Portfolio) (map[string]float64, error) {
	quote := p.Quote()
	bySymbol := make(map[string]string)
	pairs := make([]string, 0, len(p.TargetWeights))
	for _, symbol := range sortedKeys(canonicalWeights(p)) {
		if symbol == quote {
			continue
		}
		pair := symbols.Pair(symbol, quote)
		bySymbol[symbol] = pair
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		return map[string]float64{}, nil
	}

	minimums, err := m.gateway.GetOrderMinimums(ctx, pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(bySymbol))
	for symbol, pair := range bySymbol {
		out[symbol] = minimums[pair]
	}
	return out, nil
}

// Evaluate measures deviation from target weights. It performs no I/O.
func (m *Monitor) Evaluate(p *domain.Portfolio, snapshot *domain.PortfolioSnapshot) *domain.ThresholdReport {
	return evaluate(p, snapshot, m.now())
}

func evaluate(p *domain.Portfolio, snapshot *domain.PortfolioSnapshot, at time.Time) *domain.ThresholdReport {
	weights := canonicalWeights(p)
	report := &domain.ThresholdReport{
		PortfolioID:         p.ID,
		Enabled:             p.ThresholdRebalanceEnabled,
		ThresholdPercentage: p.ThresholdPercentage,
		TotalValue:          snapshot.TotalValue,
		Deviations:          make([]domain.SymbolDeviation, 0, len(weights)),
		CheckedAt:           at,
	}

	deviations := make([]float64, 0, len(weights))
	for _, symbol := range sortedKeys(weights) {
		holding := snapshot.Holding(symbol)
		target := weights[symbol]
		deviation := math.Abs(holding.Percentage - target)
		deviations = append(deviations, deviation)

		report.Deviations = append(report.Deviations, domain.SymbolDeviation{
			Symbol:       symbol,
			CurrentPct:   holding.Percentage,
			TargetPct:    target,
			Deviation:    deviation,
			CurrentValue: holding.Value,
			TargetValue:  target / 100 * snapshot.TotalValue,
		})
	}

	if len(deviations) > 0 {
		report.MaxDeviation = floats.Max(deviations)
	}
	report.Breached = p.ThresholdRebalanceEnabled && report.MaxDeviation >= p.ThresholdPercentage
	return report
}

// fillPercentages sets TotalValue and each holding's share of it
func fillPercentages(s *domain.PortfolioSnapshot) {
	values := make([]float64, len(s.Holdings))
	for i, h := range s.Holdings {
		values[i] = h.Value
	}
	s.TotalValue = 0
	if len(values) > 0 {
		s.TotalValue = floats.Sum(values)
	}
	for i := range s.Holdings {
		if s.TotalValue > 0 {
			s.Holdings[i].Percentage = s.Holdings[i].Value / s.TotalValue * 100
		} else {
			s.Holdings[i].Percentage = 0
		}
	}
}

// canonicalWeights keys the target weights by canonical symbol, merging
// entries that name the same asset.
func canonicalWeights(p *domain.Portfolio) map[string]float64 {
	out := make(map[string]float64, len(p.TargetWeights))
	for symbol, weight := range p.TargetWeights {
		out[symbols.Normalize(symbol)] += weight
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
