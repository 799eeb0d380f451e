package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ladder_bot/internal/models"

	"github.com/shopspring/decimal"
)

// Positions returns the open SWAP positions of the account. In net mode the
// sign of pos gives the side.
func (c *Client) Positions(ctx context.Context) ([]models.Position, error) {
	var r positionsResponse
	q := url.Values{"instType": {"SWAP"}}
	if err := c.call(ctx, "Positions", http.MethodGet, "/api/v5/account/positions", q, nil, &r); err != nil {
		return nil, err
	}

	out := make([]models.Position, 0, len(r.Data))
	for _, d := range r.Data {
		size := dec(d.Pos)
		if size.IsZero() {
			continue
		}
		side := models.Side(d.PosSide)
		if !side.Valid() {
			side = models.SideLong
			if size.IsNegative() {
				side = models.SideShort
			}
		}
		mark := dec(d.MarkPx)
		if mark.IsZero() {
			mark = dec(d.Last)
		}
		out = append(out, models.Position{
			Account:    c.account,
			Symbol:     d.InstId,
			Side:       side,
			Size:       size.Abs(),
			EntryPrice: dec(d.AvgPx),
			MarkPrice:  mark,
			UpdatedAt:  msTime(d.UTime),
		})
	}
	return out, nil
}

func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
