package service

import (
	"context"
	"net/http"

	"ladder_bot/internal/exchange"

	"github.com/pkg/errors"
)

// Reject codes meaning the algo is already gone (filled, cancelled or
// unknown). They end the cancel without an error.
var algoGone = map[string]bool{
	"51400": true,
	"51401": true,
	"51402": true,
	"51403": true,
}

type cancelAlgoRequest struct {
	InstId string `json:"instId"`
	AlgoId string `json:"algoId"`
}

// CancelOrder cancels one algo. It returns false without error when OKX
// reports the order no longer cancellable.
func (c *Client) CancelOrder(ctx context.Context, symbol, algoID string) (bool, error) {
	body := []cancelAlgoRequest{{InstId: symbol, AlgoId: algoID}}

	var r actionResponse
	err := c.call(ctx, "CancelOrder", http.MethodPost, "/api/v5/trade/cancel-algos", nil, body, &r)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, exchange.ErrPermanent) && len(r.Data) > 0 && algoGone[r.Data[0].SCode] {
		return false, nil
	}
	return false, err
}
