package service

import (
	"context"
	"net/http"
	"net/url"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Instrument returns lot, minimum size and tick of a SWAP instrument.
func (c *Client) Instrument(ctx context.Context, instID string) (models.Instrument, error) {
	var r instrumentsResponse
	q := url.Values{"instType": {"SWAP"}, "instId": {instID}}
	if err := c.call(ctx, "Instrument", http.MethodGet, "/api/v5/public/instruments", q, nil, &r); err != nil {
		return models.Instrument{}, err
	}
	if len(r.Data) == 0 {
		return models.Instrument{}, errors.Wrapf(exchange.ErrPermanent, "instrument %s not found", instID)
	}

	inst := r.Data[0]
	if inst.State != "" && inst.State != "live" {
		return models.Instrument{}, errors.Wrapf(exchange.ErrPermanent, "instrument %s not live: state=%s", instID, inst.State)
	}

	parsePos := func(name, s string) (decimal.Decimal, error) {
		v := dec(s)
		if !v.IsPositive() {
			return decimal.Zero, errors.Errorf("%s: bad %s %q", instID, name, s)
		}
		return v, nil
	}
	lotSz, err := parsePos("lotSz", inst.LotSz)
	if err != nil {
		return models.Instrument{}, err
	}
	minSz, err := parsePos("minSz", inst.MinSz)
	if err != nil {
		return models.Instrument{}, err
	}
	tickSz, err := parsePos("tickSz", inst.TickSz)
	if err != nil {
		return models.Instrument{}, err
	}

	ctVal := dec(inst.CtVal)
	if m := dec(inst.CtMult); m.IsPositive() {
		ctVal = ctVal.Mul(m)
	}

	return models.Instrument{
		Symbol: inst.InstID,
		LotSz:  lotSz,
		MinSz:  minSz,
		TickSz: tickSz,
		CtVal:  ctVal,
	}, nil
}
