package kraken

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/symbols"
)

// Gateway adapts Client to domain.ExchangeGateway.
// Results are keyed by the pair names the caller requested, whatever spelling
// the exchange answers with.
type Gateway struct {
	client *Client
	log    zerolog.Logger

	mu        sync.RWMutex
	pairCache map[string]AssetPairInfo // keyed by requested pair
}

// NewGateway creates a gateway around client
func NewGateway(client *Client, log zerolog.Logger) *Gateway {
	return &Gateway{
		client:    client,
		log:       log.With().Str("adapter", "kraken").Logger(),
		pairCache: make(map[string]AssetPairInfo),
	}
}

// GetBalances implements domain.ExchangeGateway
func (g *Gateway) GetBalances(ctx context.Context) (map[string]float64, error) {
	raw, err := g.client.Balance(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(raw))
	for asset, amount := range raw {
		out[asset] = parseFloat(amount)
	}
	return out, nil
}

// GetTickerPrices implements domain.ExchangeGateway. The last trade price is used.
func (g *Gateway) GetTickerPrices(ctx context.Context, pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return map[string]float64{}, nil
	}

	tickers, err := g.client.Ticker(ctx, pairs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(pairs))
	for _, requested := range pairs {
		key, ok := matchPair(requested, keysOf(tickers))
		if !ok {
			return nil, &domain.GatewayError{
				Code:    domain.GatewayInvalidPair,
				Op:      "Ticker",
				Message: fmt.Sprintf("no ticker returned for %s", requested),
			}
		}
		ticker := tickers[key]
		if len(ticker.Last) == 0 {
			return nil, &domain.GatewayError{Code: domain.GatewayUnknown, Op: "Ticker", Message: "empty ticker for " + requested}
		}
		out[requested] = parseFloat(ticker.Last[0])
	}
	return out, nil
}

// GetOrderMinimums implements domain.ExchangeGateway
func (g *Gateway) GetOrderMinimums(ctx context.Context, pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	var missing []string

	g.mu.RLock()
	for _, pair := range pairs {
		if info, ok := g.pairCache[pair]; ok {
			out[pair] = parseFloat(info.OrderMin)
		} else {
			missing = append(missing, pair)
		}
	}
	g.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	infos, err := g.client.AssetPairs(ctx, missing)
	if err != nil {
		return nil, err
	}

	keys := keysOf(infos)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, requested := range missing {
		key, ok := matchPairInfo(requested, infos, keys)
		if !ok {
			return nil, &domain.GatewayError{
				Code:    domain.GatewayInvalidPair,
				Op:      "AssetPairs",
				Message: fmt.Sprintf("unknown pair %s", requested),
			}
		}
		g.pairCache[requested] = infos[key]
		out[requested] = parseFloat(infos[key].OrderMin)
	}
	return out, nil
}

// PlaceOrder implements domain.ExchangeGateway. After submission the order is
// queried once; if that query fails the order is reported as Submitted.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if req.Volume <= 0 {
		return nil, &domain.GatewayError{Code: domain.GatewayUnknown, Op: "AddOrder", Message: "volume must be positive"}
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}

	lotDecimals, pairDecimals := int32(8), int32(-1)
	g.mu.RLock()
	if info, ok := g.pairCache[req.Pair]; ok {
		lotDecimals = int32(info.LotDecimals)
		pairDecimals = int32(info.PairDecimals)
	}
	g.mu.RUnlock()

	add := AddOrderRequest{
		Pair:      req.Pair,
		Side:      string(req.Side),
		OrderType: string(orderType),
		Volume:    formatDecimal(req.Volume, lotDecimals),
	}
	if orderType == domain.OrderTypeLimit {
		if req.LimitPrice <= 0 {
			return nil, &domain.GatewayError{Code: domain.GatewayUnknown, Op: "AddOrder", Message: "limit order without price"}
		}
		if pairDecimals >= 0 {
			add.Price = formatDecimal(req.LimitPrice, pairDecimals)
		} else {
			add.Price = formatDecimal(req.LimitPrice, 8)
		}
	}

	placed, err := g.client.AddOrder(ctx, add)
	if err != nil {
		return nil, err
	}
	if len(placed.TxID) == 0 {
		return nil, &domain.GatewayError{Code: domain.GatewayUnknown, Op: "AddOrder", Message: "no transaction id returned", Sent: true}
	}

	result := &domain.OrderResult{
		OrderID: strings.Join(placed.TxID, ","),
		Status:  domain.OrderSubmitted,
	}

	infos, err := g.client.QueryOrders(ctx, placed.TxID)
	if err != nil {
		g.log.Warn().Err(err).Str("order_id", result.OrderID).Msg("Order placed but status query failed")
		return result, nil
	}

	for _, txid := range placed.TxID {
		info, ok := infos[txid]
		if !ok {
			continue
		}
		result.ExecutedVolume += parseFloat(info.VolExec)
		result.Cost += parseFloat(info.Cost)
		result.Fee += parseFloat(info.Fee)
		if info.Status == "closed" {
			result.Status = domain.OrderFilled
		}
	}
	return result, nil
}

// matchPair finds the response key that denotes the same pair as requested
func matchPair(requested string, keys []string) (string, bool) {
	for _, key := range keys {
		if key == requested {
			return key, true
		}
	}

	reqBase, reqQuote, ok := symbols.SplitPair(requested)
	if !ok {
		return "", false
	}
	for _, key := range keys {
		base, quote, ok := symbols.SplitPair(key)
		if ok && base == reqBase && quote == reqQuote {
			return key, true
		}
	}
	return "", false
}

func matchPairInfo(requested string, infos map[string]AssetPairInfo, keys []string) (string, bool) {
	for _, key := range keys {
		info := infos[key]
		if key == requested || info.Altname == requested || info.WSName == requested {
			return key, true
		}
	}
	reqBase, reqQuote, ok := symbols.SplitPair(requested)
	if !ok {
		return "", false
	}
	for _, key := range keys {
		info := infos[key]
		if info.Base != "" && info.Quote != "" &&
			symbols.Normalize(info.Base) == reqBase && symbols.Normalize(info.Quote) == reqQuote {
			return key, true
		}
	}
	return matchPair(requested, keys)
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
