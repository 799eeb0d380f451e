package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/models"
	"ladder_bot/internal/notify"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PriceSink receives the mark prices seen in the position snapshot.
type PriceSink interface {
	Set(symbol string, px decimal.Decimal, at time.Time)
}

type Result struct {
	Positions   int
	Symbols     int
	Instruments int
	Failed      []string
}

// Warmuper fills the instrument cache and the price cache from live positions
// so the first scheduler cycle does not pay for cold lookups.
type Warmuper struct {
	gw       exchange.Gateway
	accounts []models.Account
	prices   PriceSink
	n        notify.Notifier
	log      *zap.Logger

	// parallel instrument lookups, kept low for the public rate limit
	limit int
}

func NewWarmuper(gw exchange.Gateway, accounts []models.Account, prices PriceSink, n notify.Notifier, limit int, log *zap.Logger) *Warmuper {
	if limit <= 0 {
		limit = 4
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Warmuper{
		gw:       gw,
		accounts: accounts,
		prices:   prices,
		n:        n,
		limit:    limit,
		log:      log.Named("warmup"),
	}
}

func (w *Warmuper) positions(ctx context.Context) ([]models.Position, error) {
	var (
		mu  sync.Mutex
		out []models.Position
	)
	eg, ctx := errgroup.WithContext(ctx)
	for _, acc := range w.accounts {
		eg.Go(func() error {
			list, err := w.gw.Positions(ctx, acc)
			if err != nil {
				return errors.Wrapf(err, "positions %s", acc)
			}
			mu.Lock()
			out = append(out, list...)
			mu.Unlock()
			return nil
		})
	}
	return out, eg.Wait()
}

// Symbols lists the distinct instruments behind positions, sorted.
func Symbols(positions []models.Position) []string {
	seen := make(map[string]struct{}, len(positions))
	out := make([]string, 0, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		out = append(out, p.Symbol)
	}
	sort.Strings(out)
	return out
}

// Warmup fails only when positions cannot be read. Instrument lookups that
// fail are reported in Result.Failed and retried later by the scheduler.
func (w *Warmuper) Warmup(ctx context.Context) (Result, error) {
	var res Result

	positions, err := w.positions(ctx)
	if err != nil {
		return res, err
	}
	res.Positions = len(positions)

	if w.prices != nil {
		for _, p := range positions {
			if p.MarkPrice.IsPositive() {
				w.prices.Set(p.Symbol, p.MarkPrice, p.UpdatedAt)
			}
		}
	}

	symbols := Symbols(positions)
	res.Symbols = len(symbols)

	var (
		loaded atomic.Int64
		mu     sync.Mutex
	)
	eg := errgroup.Group{}
	eg.SetLimit(w.limit)
	for _, sym := range symbols {
		eg.Go(func() error {
			if _, err := w.gw.Instrument(ctx, sym); err != nil {
				w.log.Warn("instrument lookup failed", zap.String("symbol", sym), zap.Error(err))
				mu.Lock()
				res.Failed = append(res.Failed, sym)
				mu.Unlock()
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = eg.Wait()
	res.Instruments = int(loaded.Load())
	sort.Strings(res.Failed)

	w.log.Info("warmup done",
		zap.Int("positions", res.Positions),
		zap.Int("symbols", res.Symbols),
		zap.Int("instruments", res.Instruments),
		zap.Strings("failed", res.Failed),
	)
	msg := fmt.Sprintf("warmup: %d positions, %d instruments cached", res.Positions, res.Instruments)
	if len(res.Failed) > 0 {
		msg += fmt.Sprintf(", %d failed", len(res.Failed))
	}
	if err := w.n.Notify(ctx, models.AccountPrimary, msg); err != nil {
		w.log.Debug("warmup notify", zap.Error(err))
	}
	return res, nil
}
