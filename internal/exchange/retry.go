package exchange

import (
	"context"
	"time"

	"ladder_bot/internal/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RatePerSec and Burst bound the request rate over all accounts.
	RatePerSec float64
	Burst      int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		RatePerSec:      10,
		Burst:           5,
	}
}

// Retrying wraps a Gateway with a rate limiter and exponential retries.
// Reads and cancels retry on any transient error. Places retry only when the
// venue refused them up front (ErrRateLimited), so a lost response never
// turns into a duplicate order.
type Retrying struct {
	next    Gateway
	cfg     RetryConfig
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewRetrying(next Gateway, cfg RetryConfig, log *zap.Logger) *Retrying {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Retrying{
		next:    next,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.Named("exchange_retry"),
	}
}

func retryable(err error) bool { return !IsPermanent(err) }

func onlyRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

func do[T any](ctx context.Context, r *Retrying, op string, canRetry func(error) bool, fn func() (T, error)) (T, error) {
	operation := func() (T, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		v, err := fn()
		if err != nil && !canRetry(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	policy := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		policy.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		policy.MaxInterval = r.cfg.MaxInterval
	}

	notify := func(err error, d time.Duration) {
		r.log.Warn("retrying exchange call", zap.String("op", op), zap.Error(err), zap.Duration("backoff", d))
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithNotify(notify))
}

func (r *Retrying) Positions(ctx context.Context, account models.Account) ([]models.Position, error) {
	return do(ctx, r, "positions", retryable, func() ([]models.Position, error) {
		return r.next.Positions(ctx, account)
	})
}

func (r *Retrying) OpenOrders(ctx context.Context, symbol string, account models.Account) ([]models.Order, error) {
	return do(ctx, r, "open_orders", retryable, func() ([]models.Order, error) {
		return r.next.OpenOrders(ctx, symbol, account)
	})
}

func (r *Retrying) PlaceOrder(ctx context.Context, p models.PlaceParams) (string, error) {
	return do(ctx, r, "place", onlyRateLimited, func() (string, error) {
		return r.next.PlaceOrder(ctx, p)
	})
}

func (r *Retrying) CancelOrder(ctx context.Context, account models.Account, symbol, orderID string) (bool, error) {
	return do(ctx, r, "cancel", retryable, func() (bool, error) {
		return r.next.CancelOrder(ctx, account, symbol, orderID)
	})
}

func (r *Retrying) Equity(ctx context.Context, account models.Account) (decimal.Decimal, error) {
	return do(ctx, r, "equity", retryable, func() (decimal.Decimal, error) {
		return r.next.Equity(ctx, account)
	})
}

func (r *Retrying) Instrument(ctx context.Context, symbol string) (models.Instrument, error) {
	return do(ctx, r, "instrument", retryable, func() (models.Instrument, error) {
		return r.next.Instrument(ctx, symbol)
	})
}
