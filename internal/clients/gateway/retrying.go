// Package gateway wraps any exchange gateway with per-call timeouts and
// bounded retries of transient failures.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/domain"
)

// Config controls the retry policy
type Config struct {
	Timeout     time.Duration // Per attempt
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Retrying decorates a domain.ExchangeGateway.
// Transient errors are retried with exponential backoff up to MaxAttempts;
// permanent errors are returned immediately.
type Retrying struct {
	next domain.ExchangeGateway
	cfg  Config
	log  zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next
func NewRetrying(next domain.ExchangeGateway, cfg Config, log zerolog.Logger) *Retrying {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = 10 * cfg.BackoffBase
	}
	return &Retrying{
		next:  next,
		cfg:   cfg,
		log:   log.With().Str("component", "gateway").Logger(),
		sleep: sleepContext,
	}
}

// GetBalances implements domain.ExchangeGateway
func (r *Retrying) GetBalances(ctx context.Context) (map[string]float64, error) {
	var out map[string]float64
	err := r.do(ctx, "balances", isRetryable, func(ctx context.Context) error {
		var err error
		out, err = r.next.GetBalances(ctx)
		return err
	})
	return out, err
}

// GetTickerPrices implements domain.ExchangeGateway
func (r *Retrying) GetTickerPrices(ctx context.Context, pairs []string) (map[string]float64, error) {
	var out map[string]float64
	err := r.do(ctx, "ticker", isRetryable, func(ctx context.Context) error {
		var err error
		out, err = r.next.GetTickerPrices(ctx, pairs)
		return err
	})
	return out, err
}

// GetOrderMinimums implements domain.ExchangeGateway
func (r *Retrying) GetOrderMinimums(ctx context.Context, pairs []string) (map[string]float64, error) {
	var out map[string]float64
	err := r.do(ctx, "order_minimums", isRetryable, func(ctx context.Context) error {
		var err error
		out, err = r.next.GetOrderMinimums(ctx, pairs)
		return err
	})
	return out, err
}

// PlaceOrder implements domain.ExchangeGateway. A failure after the request
// may have reached the exchange is not retried, to avoid duplicate orders.
func (r *Retrying) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	var out *domain.OrderResult
	err := r.do(ctx, "place_order", isOrderRetryable, func(ctx context.Context) error {
		var err error
		out, err = r.next.PlaceOrder(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, op string, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err = fn(attemptCtx)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if err == nil {
			return nil
		}
		if timedOut {
			err = timeoutError(op, err, op == "place_order")
		}
		if ctx.Err() != nil || !retryable(err) || attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.backoff(attempt)
		r.log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Transient gateway error, retrying")

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			break
		}
	}
	return err
}

// backoff returns base * 2^(attempt-1), capped at BackoffMax
func (r *Retrying) backoff(attempt int) time.Duration {
	d := r.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.cfg.BackoffMax {
			return r.cfg.BackoffMax
		}
	}
	return d
}

func isRetryable(err error) bool {
	return domain.IsTransientGatewayError(err)
}

func isOrderRetryable(err error) bool {
	if domain.GatewayCode(err) == domain.GatewayRateLimited {
		return true
	}
	gwErr, ok := asGatewayError(err)
	return ok && gwErr.Transient && !gwErr.Sent
}

// timeoutError classifies an attempt that hit its deadline. A timed-out order
// may still have been accepted by the exchange.
func timeoutError(op string, err error, sent bool) error {
	if _, ok := asGatewayError(err); ok {
		return err
	}
	return &domain.GatewayError{
		Code:      domain.GatewayUnknown,
		Transient: true,
		Sent:      sent,
		Op:        op,
		Message:   "timed out",
		Err:       err,
	}
}

func asGatewayError(err error) (*domain.GatewayError, bool) {
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
