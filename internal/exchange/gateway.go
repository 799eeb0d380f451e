// Package exchange is the boundary to the derivatives venue: a Gateway
// interface, a per-account router and decorators for retries and caching.
package exchange

import (
	"context"

	"ladder_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrPermanent marks rejects that must not be retried.
	ErrPermanent = errors.New("exchange rejected request")
	// ErrRateLimited marks requests refused before execution; always safe to retry.
	ErrRateLimited = errors.New("exchange rate limit")

	ErrUnknownAccount = errors.New("account not configured")
)

// Gateway is everything the keeper needs from an exchange.
type Gateway interface {
	Positions(ctx context.Context, account models.Account) ([]models.Position, error)
	OpenOrders(ctx context.Context, symbol string, account models.Account) ([]models.Order, error)
	PlaceOrder(ctx context.Context, p models.PlaceParams) (string, error)
	// CancelOrder returns false with a nil error when the order no longer
	// exists or cannot be cancelled.
	CancelOrder(ctx context.Context, account models.Account, symbol, orderID string) (bool, error)
	Equity(ctx context.Context, account models.Account) (decimal.Decimal, error)
	Instrument(ctx context.Context, symbol string) (models.Instrument, error)
}

// AccountClient is one authenticated exchange account.
type AccountClient interface {
	Positions(ctx context.Context) ([]models.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	PlaceOrder(ctx context.Context, p models.PlaceParams) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
	Equity(ctx context.Context) (decimal.Decimal, error)
	Instrument(ctx context.Context, symbol string) (models.Instrument, error)
}

// IsPermanent reports whether err should stop retries.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, context.Canceled)
}
