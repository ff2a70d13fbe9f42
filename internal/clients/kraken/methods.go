package kraken

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// TickerInfo is the subset of the Ticker response the gateway needs
type TickerInfo struct {
	Ask  []string `json:"a"`
	Bid  []string `json:"b"`
	Last []string `json:"c"` // [price, lot volume]
}

// AssetPairInfo is the subset of the AssetPairs response the gateway needs
type AssetPairInfo struct {
	Altname  string `json:"altname"`
	WSName   string `json:"wsname"`
	Base     string `json:"base"`
	Quote    string `json:"quote"`
	OrderMin string `json:"ordermin"`
	CostMin  string `json:"costmin"`

	PairDecimals int `json:"pair_decimals"`
	LotDecimals  int `json:"lot_decimals"`
}

// AddOrderRequest is the form sent to AddOrder
type AddOrderRequest struct {
	Pair      string
	Side      string // buy or sell
	OrderType string // market or limit
	Volume    string
	Price     string // limit orders only
	Validate  bool   // validate only, do not submit
}

// AddOrderResult is the AddOrder response
type AddOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

// OrderInfo is one entry of the QueryOrders response
type OrderInfo struct {
	Status  string `json:"status"` // pending, open, closed, canceled, expired
	Vol     string `json:"vol"`
	VolExec string `json:"vol_exec"`
	Cost    string `json:"cost"`
	Fee     string `json:"fee"`
	Price   string `json:"price"`
}

// Balance returns raw asset balances
func (c *Client) Balance(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	if err := c.private(ctx, "Balance", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ticker returns ticker information keyed by the exchange's pair name
func (c *Client) Ticker(ctx context.Context, pairs []string) (map[string]TickerInfo, error) {
	params := url.Values{}
	params.Set("pair", strings.Join(pairs, ","))

	var out map[string]TickerInfo
	if err := c.public(ctx, "Ticker", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AssetPairs returns pair metadata keyed by the exchange's pair name
func (c *Client) AssetPairs(ctx context.Context, pairs []string) (map[string]AssetPairInfo, error) {
	params := url.Values{}
	if len(pairs) > 0 {
		params.Set("pair", strings.Join(pairs, ","))
	}

	var out map[string]AssetPairInfo
	if err := c.public(ctx, "AssetPairs", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddOrder submits an order
func (c *Client) AddOrder(ctx context.Context, req AddOrderRequest) (*AddOrderResult, error) {
	form := url.Values{}
	form.Set("pair", req.Pair)
	form.Set("type", req.Side)
	form.Set("ordertype", req.OrderType)
	form.Set("volume", req.Volume)
	if req.Price != "" {
		form.Set("price", req.Price)
	}
	if req.Validate {
		form.Set("validate", "true")
	}

	c.log.Debug().
		Str("pair", req.Pair).
		Str("side", req.Side).
		Str("order_type", req.OrderType).
		Str("volume", req.Volume).
		Str("price", req.Price).
		Msg("AddOrder: submitting")

	var out AddOrderResult
	if err := c.private(ctx, "AddOrder", form, &out); err != nil {
		c.log.Error().Err(err).Str("pair", req.Pair).Msg("AddOrder failed")
		return nil, err
	}
	return &out, nil
}

// QueryOrders returns order details keyed by transaction id
func (c *Client) QueryOrders(ctx context.Context, txids []string) (map[string]OrderInfo, error) {
	form := url.Values{}
	form.Set("txid", strings.Join(txids, ","))
	form.Set("trades", "false")

	var out map[string]OrderInfo
	if err := c.private(ctx, "QueryOrders", form, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// formatDecimal truncates v to places decimals so a volume never rounds up past a balance
func formatDecimal(v float64, places int32) string {
	return decimal.NewFromFloat(v).Truncate(places).String()
}
