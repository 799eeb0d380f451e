package mirror

import (
	"context"
	"sync"
	"time"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/metrics"
	"ladder_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RatioMode string

const (
	// RatioEquity derives the ratio from live account equity.
	RatioEquity RatioMode = "equity"
	// RatioFixed always uses the configured constant.
	RatioFixed RatioMode = "fixed"
)

// errorRetry bounds how long a fallback ratio is served after a failed read.
const errorRetry = 30 * time.Second

type RatioConfig struct {
	Mode    RatioMode
	Fixed   decimal.Decimal
	Refresh time.Duration
}

// RatioProvider answers how large the mirror should be relative to the
// primary. In equity mode the value is cached for Refresh and falls back to
// the fixed constant when balances cannot be read.
type RatioProvider struct {
	gw      exchange.Gateway
	cfg     RatioConfig
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	cached   decimal.Decimal
	cachedAt time.Time
	ttl      time.Duration
}

func NewRatioProvider(gw exchange.Gateway, cfg RatioConfig, m *metrics.Metrics, log *zap.Logger) *RatioProvider {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 5 * time.Minute
	}
	return &RatioProvider{
		gw:      gw,
		cfg:     cfg,
		metrics: m,
		log:     log.Named("mirror_ratio"),
		now:     time.Now,
	}
}

func (p *RatioProvider) Ratio(ctx context.Context) decimal.Decimal {
	if p.cfg.Mode != RatioEquity {
		return p.cfg.Fixed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cachedAt.IsZero() && p.now().Sub(p.cachedAt) < p.ttl {
		return p.cached
	}

	r, err := p.fromEquity(ctx)
	if err != nil {
		fallback := p.cached
		if !fallback.IsPositive() {
			fallback = p.cfg.Fixed
		}
		p.log.Warn("equity ratio unavailable, using fallback", zap.Error(err), zap.String("ratio", fallback.String()))
		p.cached, p.cachedAt = fallback, p.now()
		p.ttl = errorRetry
		if p.cfg.Refresh < p.ttl {
			p.ttl = p.cfg.Refresh
		}
		return fallback
	}

	p.cached, p.cachedAt, p.ttl = r, p.now(), p.cfg.Refresh
	f, _ := r.Float64()
	p.metrics.MirrorRatio(f)
	return r
}

// Invalidate forces the next Ratio call to read balances again.
func (p *RatioProvider) Invalidate() {
	p.mu.Lock()
	p.cachedAt = time.Time{}
	p.mu.Unlock()
}

func (p *RatioProvider) fromEquity(ctx context.Context) (decimal.Decimal, error) {
	primary, err := p.gw.Equity(ctx, models.AccountPrimary)
	if err != nil {
		return decimal.Zero, err
	}
	mirror, err := p.gw.Equity(ctx, models.AccountMirror)
	if err != nil {
		return decimal.Zero, err
	}
	if !primary.IsPositive() || !mirror.IsPositive() {
		return decimal.Zero, errors.Errorf("non-positive equity primary=%s mirror=%s", primary, mirror)
	}
	return mirror.Div(primary).Round(6), nil
}
