package service

import (
	"context"
	"net/http"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/models"

	"github.com/pkg/errors"
)

type placeAlgoRequest struct {
	InstId          string `json:"instId"`
	TdMode          string `json:"tdMode"`
	Side            string `json:"side"`
	PosSide         string `json:"posSide,omitempty"`
	OrdType         string `json:"ordType"`
	Sz              string `json:"sz"`
	ReduceOnly      bool   `json:"reduceOnly"`
	AlgoClOrdId     string `json:"algoClOrdId,omitempty"`
	TpTriggerPx     string `json:"tpTriggerPx,omitempty"`
	TpOrdPx         string `json:"tpOrdPx,omitempty"`
	TpTriggerPxType string `json:"tpTriggerPxType,omitempty"`
	SlTriggerPx     string `json:"slTriggerPx,omitempty"`
	SlOrdPx         string `json:"slOrdPx,omitempty"`
	SlTriggerPxType string `json:"slTriggerPxType,omitempty"`
}

// PlaceOrder places one conditional market-on-trigger algo and returns its algoId.
func (c *Client) PlaceOrder(ctx context.Context, p models.PlaceParams) (string, error) {
	if !p.PosSide.Valid() {
		return "", errors.Wrapf(exchange.ErrPermanent, "PlaceOrder: unsupported posSide=%q", p.PosSide)
	}
	if !p.Quantity.IsPositive() {
		return "", errors.Wrap(exchange.ErrPermanent, "PlaceOrder: size <= 0")
	}
	if !p.TriggerPrice.IsPositive() {
		return "", errors.Wrap(exchange.ErrPermanent, "PlaceOrder: triggerPx <= 0")
	}
	stopType := p.StopType
	if stopType == "" {
		stopType = models.StopLast
	}

	body := placeAlgoRequest{
		InstId:      p.Symbol,
		TdMode:      "cross",
		Side:        p.PosSide.CloseSide(),
		PosSide:     string(p.PosSide),
		OrdType:     "conditional",
		Sz:          p.Quantity.String(),
		ReduceOnly:  p.ReduceOnly,
		AlgoClOrdId: p.LinkID,
	}
	switch p.Kind {
	case models.KindTakeProfit:
		body.TpTriggerPx = p.TriggerPrice.String()
		body.TpOrdPx = "-1"
		body.TpTriggerPxType = string(stopType)
	case models.KindStopLoss:
		body.SlTriggerPx = p.TriggerPrice.String()
		body.SlOrdPx = "-1"
		body.SlTriggerPxType = string(stopType)
	default:
		return "", errors.Wrapf(exchange.ErrPermanent, "PlaceOrder: unsupported kind %q", p.Kind)
	}

	var r actionResponse
	if err := c.call(ctx, "PlaceOrder", http.MethodPost, "/api/v5/trade/order-algo", nil, body, &r); err != nil {
		return "", err
	}
	if len(r.Data) == 0 || r.Data[0].AlgoId == "" {
		return "", errors.Errorf("PlaceOrder: empty algoId")
	}
	return r.Data[0].AlgoId, nil
}
