package service

import (
	"context"
	"net/http"
	"net/url"

	"ladder_bot/internal/models"
)

// OpenOrders returns pending conditional algos and regular orders of symbol.
// Algos come back as take-profit or stop-loss by which trigger is set, regular
// limit orders as KindLimit.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	var algos algoOrdersResponse
	q := url.Values{"instType": {"SWAP"}, "instId": {symbol}, "ordType": {"conditional,oco"}}
	if err := c.call(ctx, "OpenOrders algos", http.MethodGet, "/api/v5/trade/orders-algo-pending", q, nil, &algos); err != nil {
		return nil, err
	}

	var regular pendingOrdersResponse
	q = url.Values{"instType": {"SWAP"}, "instId": {symbol}}
	if err := c.call(ctx, "OpenOrders regular", http.MethodGet, "/api/v5/trade/orders-pending", q, nil, &regular); err != nil {
		return nil, err
	}

	out := make([]models.Order, 0, len(algos.Data)+len(regular.Data))
	for _, a := range algos.Data {
		out = append(out, c.fromAlgo(a))
	}
	for _, o := range regular.Data {
		kind := models.KindUnknown
		switch o.OrdType {
		case "limit", "post_only":
			kind = models.KindLimit
		}
		out = append(out, models.Order{
			Account:    c.account,
			Symbol:     o.InstId,
			OrderID:    o.OrdId,
			LinkID:     o.ClOrdId,
			Kind:       kind,
			PosSide:    posSide(o.PosSide, o.Side),
			Price:      dec(o.Px),
			Quantity:   dec(o.Sz).Sub(dec(o.AccFillSz)),
			ReduceOnly: o.ReduceOnly == "true",
		})
	}
	return out, nil
}

func (c *Client) fromAlgo(a algoOrder) models.Order {
	o := models.Order{
		Account:    c.account,
		Symbol:     a.InstId,
		OrderID:    a.AlgoId,
		LinkID:     a.AlgoClOrdId,
		PosSide:    posSide(a.PosSide, a.Side),
		Quantity:   dec(a.Sz),
		ReduceOnly: a.ReduceOnly == "true",
	}
	tp, sl := dec(a.TpTriggerPx), dec(a.SlTriggerPx)
	switch {
	case tp.IsPositive() && sl.IsPositive():
		// oco brackets are not part of a ladder
	case tp.IsPositive():
		o.Kind, o.TriggerPrice, o.StopType = models.KindTakeProfit, tp, models.StopType(a.TpTriggerPxType)
	case sl.IsPositive():
		o.Kind, o.TriggerPrice, o.StopType = models.KindStopLoss, sl, models.StopType(a.SlTriggerPxType)
	}
	return o
}

// posSide resolves net-mode orders ("net") from the order side: a sell
// reduces a long.
func posSide(ps, side string) models.Side {
	if s := models.Side(ps); s.Valid() {
		return s
	}
	if side == "buy" {
		return models.SideShort
	}
	return models.SideLong
}
