package service

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Equity returns the account's total equity in USD.
func (c *Client) Equity(ctx context.Context) (decimal.Decimal, error) {
	var r balanceResponse
	if err := c.call(ctx, "Equity", http.MethodGet, "/api/v5/account/balance", nil, nil, &r); err != nil {
		return decimal.Zero, err
	}
	if len(r.Data) == 0 {
		return decimal.Zero, errors.New("Equity: empty data")
	}
	return dec(r.Data[0].TotalEq), nil
}
