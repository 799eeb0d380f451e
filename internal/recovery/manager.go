// Package recovery rebuilds monitors from exchange truth when the store has
// drifted from the live positions, and prunes monitors whose position is gone.
package recovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/ladder"
	"ladder_bot/internal/metrics"
	"ladder_bot/internal/mirror"
	"ladder_bot/internal/models"
	"ladder_bot/internal/notify"
	"ladder_bot/internal/orders"
	"ladder_bot/internal/store"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Interval      time.Duration
	MirrorEnabled bool
	// Concurrency bounds parallel order reads during Recover.
	Concurrency int
}

// Scheduler is the part of the scheduler recovery pokes after inserting.
type Scheduler interface {
	MarkDue(key models.MonitorKey)
	Nudge()
}

// Gaps compares live positions with the store.
type Gaps struct {
	// Expected counts live non-zero positions per scanned account; a primary
	// position without a mirror position expects no mirror monitor.
	Expected       int
	Actual         int
	MissingPrimary []models.MonitorKey
	MissingMirror  []models.MonitorKey
	// Orphaned monitors have no live position behind them.
	Orphaned []models.MonitorKey

	live map[models.MonitorKey]models.Position
}

func (g Gaps) Missing() int { return len(g.MissingPrimary) + len(g.MissingMirror) }

// Report is the outcome of one Reconcile pass.
type Report struct {
	Gaps      Gaps
	Recovered int
	Pruned    int
	Closed    int
}

type Manager struct {
	cfg      Config
	store    *store.Store
	gw       exchange.Gateway
	calc     *ladder.Calculator
	ratio    *mirror.RatioProvider
	sched    Scheduler
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	trigger chan struct{}
	mu      sync.Mutex
}

// New; ratio may be nil when mirroring is disabled, sched may be nil in tools
// that only reconcile once.
func New(
	cfg Config,
	st *store.Store,
	gw exchange.Gateway,
	calc *ladder.Calculator,
	ratio *mirror.RatioProvider,
	sched Scheduler,
	n notify.Notifier,
	m *metrics.Metrics,
	log *zap.Logger,
) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Manager{
		cfg:      cfg,
		store:    st,
		gw:       gw,
		calc:     calc,
		ratio:    ratio,
		sched:    sched,
		notifier: n,
		metrics:  m,
		log:      log.Named("recovery"),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

func (r *Manager) accounts() []models.Account {
	if r.cfg.MirrorEnabled {
		return []models.Account{models.AccountPrimary, models.AccountMirror}
	}
	return []models.Account{models.AccountPrimary}
}

// DetectGaps expects one monitor per live nonzero position per account.
func (r *Manager) DetectGaps(ctx context.Context) (Gaps, error) {
	g := Gaps{live: make(map[models.MonitorKey]models.Position)}
	scanned := make(map[models.Account]bool)

	for _, acc := range r.accounts() {
		list, err := r.gw.Positions(ctx, acc)
		if err != nil {
			return Gaps{}, errors.Wrapf(err, "positions %s", acc)
		}
		scanned[acc] = true
		for _, p := range list {
			if !p.Size.IsPositive() {
				continue
			}
			p.Account = acc
			g.live[p.Key()] = p
		}
	}

	present := make(map[models.MonitorKey]*models.PositionMonitor)
	for _, m := range r.store.Snapshot() {
		present[m.Key()] = m
	}

	for key := range g.live {
		g.Expected++
		if _, ok := present[key]; ok {
			g.Actual++
			continue
		}
		if key.Account == models.AccountMirror {
			g.MissingMirror = append(g.MissingMirror, key)
		} else {
			g.MissingPrimary = append(g.MissingPrimary, key)
		}
	}
	for key, m := range present {
		if !scanned[key.Account] || m.Closed() {
			continue
		}
		if _, ok := g.live[key]; !ok {
			g.Orphaned = append(g.Orphaned, key)
		}
	}

	sortKeys(g.MissingPrimary)
	sortKeys(g.MissingMirror)
	sortKeys(g.Orphaned)
	return g, nil
}

func sortKeys(keys []models.MonitorKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}

type ordersKey struct {
	symbol  string
	account models.Account
}

// Recover rebuilds the missing monitors of g from live orders and inserts
// them when still absent. Returns how many were inserted.
func (r *Manager) Recover(ctx context.Context, g Gaps) (int, error) {
	missing := append(append([]models.MonitorKey(nil), g.MissingPrimary...), g.MissingMirror...)
	if len(missing) == 0 {
		return 0, nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "recovery.recover")
	defer span.Finish()
	span.SetTag("missing", len(missing))

	var (
		mu     sync.Mutex
		open   = make(map[ordersKey][]models.Order)
		failed = make(map[ordersKey]error)
	)
	groups := make(map[ordersKey]bool)
	for _, k := range missing {
		groups[ordersKey{symbol: k.Symbol, account: k.Account}] = true
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.Concurrency)
	for gk := range groups {
		eg.Go(func() error {
			list, err := r.gw.OpenOrders(egCtx, gk.symbol, gk.account)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[gk] = err
				return nil
			}
			open[gk] = list
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ratio := r.mirrorRatio(ctx, g.MissingMirror)
	recovered := 0
	for _, key := range missing {
		gk := ordersKey{symbol: key.Symbol, account: key.Account}
		if err, ok := failed[gk]; ok {
			r.log.Warn("open orders unavailable, recovery deferred", zap.String("monitor", key.String()), zap.Error(err))
			continue
		}
		pos, ok := g.live[key]
		if !ok {
			continue
		}

		m := r.rebuild(key, pos, open[gk])
		if key.Account == models.AccountMirror {
			m.AccountRatio = ratio
		}
		if err := r.store.Insert(m); err != nil {
			if errors.Is(err, store.ErrExists) {
				continue
			}
			r.log.Error("insert recovered monitor", zap.String("monitor", key.String()), zap.Error(err))
			continue
		}

		recovered++
		r.metrics.Recovered(key.Account)
		r.log.Info("monitor recovered",
			zap.String("monitor", key.String()),
			zap.String("remaining", m.RemainingSize.String()),
			zap.Int("tps", len(m.TPLadder)),
			zap.Int("tp_hits", m.TPHits),
			zap.Bool("sl", m.SL != nil),
			zap.String("phase", string(m.Phase)),
		)
		notify.Notifyf(ctx, r.notifier, key.Account, "🛟 [%s] %s %s recovered: remaining=%s tps=%d tp_hits=%d sl=%t",
			key.Account, key.Symbol, key.Side, m.RemainingSize, len(m.TPLadder), m.TPHits, m.SL != nil)
		if r.sched != nil {
			r.sched.MarkDue(key)
		}
	}
	if len(failed) > 0 {
		err := errors.Errorf("%d order groups unavailable", len(failed))
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
		return recovered, err
	}
	return recovered, nil
}

func (r *Manager) mirrorRatio(ctx context.Context, keys []models.MonitorKey) decimal.Decimal {
	if len(keys) == 0 || r.ratio == nil {
		return decimal.Zero
	}
	return r.ratio.Ratio(ctx)
}

// rebuild reconstructs a monitor from a live position and its open orders.
// TPs that are gone are assumed filled: TPHits is the configured ladder
// length minus the live TPs.
func (r *Manager) rebuild(key models.MonitorKey, pos models.Position, open []models.Order) *models.PositionMonitor {
	now := r.now()
	book := orders.Split(key.Side, open)

	m := &models.PositionMonitor{
		Symbol:        key.Symbol,
		Side:          key.Side,
		Account:       key.Account,
		PositionSize:  pos.Size,
		RemainingSize: pos.Size,
		EntryPrice:    pos.EntryPrice,
		LastMarkPrice: pos.MarkPrice,
		TPLadder:      book.TPs,
		SL:            book.SL,
		Recovered:     true,
		RecoveredAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	hits := 0
	if len(book.TPs) > 0 {
		hits = r.calc.Levels() - len(book.TPs)
		if hits < 0 {
			hits = 0
		}
	}
	m.TPHits = hits
	for i := range m.TPLadder {
		m.TPLadder[i].TPIndex = hits + i + 1
	}

	switch {
	case len(book.Entries) > 0:
		m.Phase = models.PhaseBuilding
	case hits > 0:
		m.Phase = models.PhaseProfitTaking
	default:
		m.Phase = models.PhaseMonitoring
	}

	if len(book.Stray) > 0 {
		r.log.Warn("ignoring unclassified orders", zap.String("monitor", key.String()), zap.Int("orders", len(book.Stray)))
	}
	return m
}

// Prune removes CLOSED monitors and marks orphaned ones CLOSED, so they go
// on the next pass. In-flight rebalances of a CLOSED monitor are no-ops.
func (r *Manager) Prune(g Gaps) (pruned, closed int) {
	for _, m := range r.store.Snapshot() {
		if m.Closed() && r.store.Remove(m.Key()) {
			pruned++
			r.log.Info("closed monitor removed", zap.String("monitor", m.Key().String()))
		}
	}
	for _, key := range g.Orphaned {
		m, ok := r.store.Get(key)
		if !ok || m.Closed() {
			continue
		}
		m.Phase = models.PhaseClosed
		m.RemainingSize = decimal.Zero
		m.UpdatedAt = r.now()
		if err := r.store.Replace(m); err != nil {
			continue
		}
		closed++
		r.log.Info("orphaned monitor closed", zap.String("monitor", key.String()))
	}
	return pruned, closed
}

// Reconcile runs one detect, prune and recover pass. Concurrent calls are
// serialised.
func (r *Manager) Reconcile(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "recovery.reconcile")
	defer span.Finish()

	g, err := r.DetectGaps(ctx)
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
		return Report{}, err
	}
	rep := Report{Gaps: g}
	rep.Pruned, rep.Closed = r.Prune(g)

	if g.Missing() > 0 {
		r.log.Warn("monitor gaps detected",
			zap.Int("expected", g.Expected),
			zap.Int("actual", g.Actual),
			zap.Int("missing_primary", len(g.MissingPrimary)),
			zap.Int("missing_mirror", len(g.MissingMirror)),
		)
	}
	rep.Recovered, err = r.Recover(ctx, g)
	if rep.Recovered > 0 && r.sched != nil {
		r.sched.Nudge()
	}
	return rep, err
}

// Trigger requests a pass from Run. Never blocks.
func (r *Manager) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles every Interval and on Trigger. With an empty store the
// first pass runs immediately.
func (r *Manager) Run(ctx context.Context) {
	r.log.Info("recovery started", zap.Duration("interval", r.cfg.Interval))
	defer r.log.Info("recovery stopped")

	if r.store.Len() == 0 {
		r.runOnce(ctx)
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		r.runOnce(ctx)
	}
}

func (r *Manager) runOnce(ctx context.Context) {
	rep, err := r.Reconcile(ctx)
	if err != nil {
		r.log.Warn("reconcile failed", zap.Error(err))
	}
	if rep.Recovered+rep.Pruned+rep.Closed > 0 {
		r.log.Info("reconcile done",
			zap.Int("recovered", rep.Recovered),
			zap.Int("pruned", rep.Pruned),
			zap.Int("closed", rep.Closed),
		)
	}
}
