// Package kraken provides a REST client for the Kraken spot exchange and an
// adapter exposing it as the engine's exchange gateway.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
)

const (
	// DefaultBaseURL is the production REST endpoint
	DefaultBaseURL = "https://api.kraken.com"

	userAgent = "rebalancer/1.0"
)

// Client is a thin Kraken REST client. Credentials may be swapped at runtime.
type Client struct {
	http *resty.Client
	log  zerolog.Logger

	mu        sync.RWMutex
	apiKey    string
	apiSecret []byte

	nonceMu   sync.Mutex
	lastNonce int64
}

// envelope is the response wrapper used by every endpoint
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// NewClient creates a client for baseURL. An invalid base64 secret is treated as missing.
func NewClient(baseURL, apiKey, apiSecret string, timeout time.Duration, log zerolog.Logger) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept", "application/json"),
		log: log.With().Str("client", "kraken").Logger(),
	}
	c.SetCredentials(apiKey, apiSecret)
	return c
}

// SetCredentials replaces the API credentials
func (c *Client) SetCredentials(apiKey, apiSecret string) {
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil && apiSecret != "" {
		c.log.Warn().Msg("API secret is not valid base64, private endpoints disabled")
		secret = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.apiSecret = secret
}

// HasCredentials reports whether private endpoints can be called
func (c *Client) HasCredentials() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != "" && len(c.apiSecret) > 0
}

// public performs a GET on a public endpoint and decodes the result into out
func (c *Client) public(ctx context.Context, method string, params url.Values, out interface{}) error {
	path := "/0/public/" + method

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(path)
	if err != nil {
		return transportError(method, err, false)
	}
	return c.decode(method, resp, out, false)
}

// private performs a signed POST on a private endpoint and decodes the result into out
func (c *Client) private(ctx context.Context, method string, form url.Values, out interface{}) error {
	c.mu.RLock()
	apiKey, secret := c.apiKey, c.apiSecret
	c.mu.RUnlock()

	if apiKey == "" || len(secret) == 0 {
		return &domain.GatewayError{
			Code:    domain.GatewayCredentialsNotConfigured,
			Op:      method,
			Message: "exchange API credentials are not configured",
		}
	}

	path := "/0/private/" + method
	if form == nil {
		form = url.Values{}
	}
	nonce := c.nextNonce()
	form.Set("nonce", strconv.FormatInt(nonce, 10))
	body := form.Encode()

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("API-Key", apiKey).
		SetHeader("API-Sign", Sign(path, nonce, body, secret)).
		SetBody(body).
		Post(path)
	if err != nil {
		// A private request that failed in transport may have reached the exchange
		return transportError(method, err, true)
	}
	return c.decode(method, resp, out, true)
}

func (c *Client) decode(method string, resp *resty.Response, out interface{}, sent bool) error {
	status := resp.StatusCode()
	if status == http.StatusTooManyRequests {
		return &domain.GatewayError{Code: domain.GatewayRateLimited, Transient: true, Op: method, Message: "HTTP 429"}
	}
	if status >= 500 {
		return &domain.GatewayError{
			Code:      domain.GatewayUnknown,
			Transient: true,
			Sent:      sent,
			Op:        method,
			Message:   "HTTP " + strconv.Itoa(status),
		}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return &domain.GatewayError{
			Code:    domain.GatewayUnknown,
			Op:      method,
			Message: "invalid response body",
			Err:     errors.Wrapf(err, "HTTP %d", status),
		}
	}
	if len(env.Error) > 0 {
		c.log.Debug().Str("method", method).Strs("errors", env.Error).Msg("Exchange returned errors")
		return classify(method, env.Error)
	}
	if status < 200 || status >= 300 {
		return &domain.GatewayError{Code: domain.GatewayUnknown, Op: method, Message: "HTTP " + strconv.Itoa(status)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &domain.GatewayError{
			Code:    domain.GatewayUnknown,
			Op:      method,
			Message: "unexpected result shape",
			Err:     errors.Wrap(err, "decode result"),
		}
	}
	return nil
}

// nextNonce returns a strictly increasing nonce based on the wall clock in microseconds
func (c *Client) nextNonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	n := time.Now().UnixMicro()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// Sign computes the API-Sign header:
// base64(HMAC-SHA512(path + SHA256(nonce + body), secret))
func Sign(path string, nonce int64, body string, secret []byte) string {
	sha := sha256.Sum256([]byte(strconv.FormatInt(nonce, 10) + body))

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// classify maps exchange error strings ("EAPI:Rate limit exceeded") to gateway errors
func classify(method string, messages []string) error {
	joined := strings.Join(messages, "; ")
	gwErr := &domain.GatewayError{Code: domain.GatewayUnknown, Op: method, Message: joined}

	for _, msg := range messages {
		switch {
		case strings.Contains(msg, "Rate limit exceeded"),
			strings.Contains(msg, "Temporary lockout"),
			strings.Contains(msg, "Too many requests"):
			gwErr.Code = domain.GatewayRateLimited
			gwErr.Transient = true
			return gwErr
		case strings.HasPrefix(msg, "EAPI:Invalid key"),
			strings.HasPrefix(msg, "EAPI:Invalid signature"),
			strings.HasPrefix(msg, "EGeneral:Permission denied"):
			gwErr.Code = domain.GatewayCredentialsNotConfigured
			return gwErr
		case strings.HasPrefix(msg, "EQuery:Unknown asset pair"),
			strings.HasPrefix(msg, "EQuery:Unknown asset"),
			strings.HasPrefix(msg, "EGeneral:Unknown asset pair"):
			gwErr.Code = domain.GatewayInvalidPair
			return gwErr
		case strings.HasPrefix(msg, "EService:Unavailable"),
			strings.HasPrefix(msg, "EService:Busy"),
			strings.HasPrefix(msg, "EService:Market in cancel_only mode"),
			strings.HasPrefix(msg, "EAPI:Invalid nonce"):
			gwErr.Transient = true
		}
	}
	return gwErr
}

func transportError(method string, err error, sent bool) error {
	return &domain.GatewayError{
		Code:      domain.GatewayUnknown,
		Transient: true,
		Sent:      sent,
		Op:        method,
		Message:   "request failed",
		Err:       errors.Wrap(err, "transport"),
	}
}
