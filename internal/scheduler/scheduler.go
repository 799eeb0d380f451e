// Package scheduler drives the keeper: it decides which monitors are due,
// batches exchange reads per cycle and dispatches rebalance work under an
// adaptive concurrency bound.
package scheduler

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/ladder"
	"ladder_bot/internal/metrics"
	"ladder_bot/internal/mirror"
	"ladder_bot/internal/models"
	"ladder_bot/internal/prices"
	"ladder_bot/internal/rebalance"
	"ladder_bot/internal/store"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	Tiers    Tiers
	MinSleep time.Duration
	MaxSleep time.Duration
	// MaxConcurrent is the job bound when no monitor is critical.
	MaxConcurrent int64
	// MinConcurrent is the bound when every monitor is critical.
	MinConcurrent    int64
	JobTimeout       time.Duration
	MaintenanceEvery time.Duration
	StaleAfter       time.Duration
	CycleBackoff     time.Duration
	// HighLoadShare is the share of critical+active monitors above which
	// maintenance runs half as often.
	HighLoadShare float64
	Tolerance     ladder.Tolerance
}

func DefaultConfig() Config {
	return Config{
		Tiers:            DefaultTiers(),
		MinSleep:         500 * time.Millisecond,
		MaxSleep:         30 * time.Second,
		MaxConcurrent:    8,
		MinConcurrent:    2,
		JobTimeout:       30 * time.Second,
		MaintenanceEvery: 5 * time.Minute,
		StaleAfter:       3 * time.Minute,
		CycleBackoff:     5 * time.Second,
		HighLoadShare:    0.5,
	}
}

// Evicter is a cache the maintenance pass can trim.
type Evicter interface {
	EvictExpired() int
}

type EvictFunc func() int

func (f EvictFunc) EvictExpired() int { return f() }

// Status is the liveness view of the scheduler.
type Status struct {
	LastCycleAt time.Time
	Cycles      uint64
	Monitors    int
	InFlight    int
	Critical    int
}

type groupKey struct {
	symbol  string
	account models.Account
}

// job is the work for one (symbol, account) group. Mirror monitors with a
// primary counterpart ride along with the primary's group.
type job struct {
	group   groupKey
	keys    []models.MonitorKey
	urgency Tier
}

type state struct {
	cycles          uint64
	lastCycleAt     time.Time
	lastMaintenance time.Time
	lastInvalidLog  time.Time
	lastSaturateLog time.Time
	// wakeAt is when the loop's timer fires next. A job finishing with an
	// earlier deadline nudges the loop.
	wakeAt   time.Time
	critical int
	busy     int
	open     int
	monitors int
}

type Scheduler struct {
	cfg      Config
	store    *store.Store
	gw       exchange.Gateway
	exec     *rebalance.Executor
	mirror   *mirror.Synchronizer
	prices   *prices.Cache
	evicters []Evicter
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time

	sem      *semaphore.Weighted
	nudge    chan struct{}
	onCycle  func(Status)
	inflight sync.WaitGroup

	mu      sync.Mutex
	due     map[models.MonitorKey]time.Time
	running map[groupKey]bool
	st      state
}

// New; sync may be nil when mirroring is disabled, px may be nil without a
// price feed.
func New(
	cfg Config,
	st *store.Store,
	gw exchange.Gateway,
	exec *rebalance.Executor,
	sync *mirror.Synchronizer,
	px *prices.Cache,
	m *metrics.Metrics,
	log *zap.Logger,
	evicters ...Evicter,
) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MinConcurrent <= 0 || cfg.MinConcurrent > cfg.MaxConcurrent {
		cfg.MinConcurrent = 1
	}
	return &Scheduler{
		cfg:      cfg,
		store:    st,
		gw:       gw,
		exec:     exec,
		mirror:   sync,
		prices:   px,
		evicters: evicters,
		metrics:  m,
		log:      log.Named("scheduler"),
		now:      time.Now,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		nudge:    make(chan struct{}, 1),
		due:      make(map[models.MonitorKey]time.Time),
		running:  make(map[groupKey]bool),
	}
}

// OnCycle registers a hook called with the status after every cycle.
func (s *Scheduler) OnCycle(fn func(Status)) { s.onCycle = fn }

// Nudge wakes the loop early. Never blocks.
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// MarkDue makes a monitor due on the next cycle and wakes the loop.
func (s *Scheduler) MarkDue(key models.MonitorKey) {
	s.mu.Lock()
	s.due[key] = time.Time{}
	s.mu.Unlock()
	s.Nudge()
}

// MarkSymbolDue makes every monitor of symbol due; used by the price feed.
func (s *Scheduler) MarkSymbolDue(symbol string) {
	s.mu.Lock()
	for k := range s.due {
		if k.Symbol == symbol {
			s.due[k] = time.Time{}
		}
	}
	s.mu.Unlock()
	s.Nudge()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		LastCycleAt: s.st.lastCycleAt,
		Cycles:      s.st.cycles,
		Monitors:    s.st.monitors,
		InFlight:    len(s.running),
		Critical:    s.st.critical,
	}
}

// Run loops until ctx is done, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started")
	defer func() {
		s.inflight.Wait()
		s.log.Info("scheduler stopped")
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.nudge:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		wait, err := s.safeCycle(ctx)
		if err != nil {
			s.log.Error("cycle failed", zap.Error(err))
			wait = s.cfg.CycleBackoff
			s.mu.Lock()
			s.st.wakeAt = s.now().Add(wait)
			s.mu.Unlock()
		}
		s.maybeMaintain()
		timer.Reset(wait)
	}
}

func (s *Scheduler) safeCycle(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in cycle: %v\n%s", r, debug.Stack())
		}
	}()
	return s.Cycle(ctx), nil
}

// Cycle runs one scheduling pass and returns how long to sleep.
func (s *Scheduler) Cycle(ctx context.Context) time.Duration {
	start := s.now()
	snap := s.store.Snapshot()

	byKey := make(map[models.MonitorKey]*models.PositionMonitor, len(snap))
	tiers := make(map[models.MonitorKey]Tier, len(snap))
	counts := make(map[string]int)
	var invalid []string
	critical, busy, open := 0, 0, 0

	for _, m := range snap {
		key := m.Key()
		if err := key.Validate(); err != nil {
			invalid = append(invalid, key.String())
			continue
		}
		byKey[key] = m
		t := s.cfg.Tiers.Classify(m, s.markPrice(m))
		tiers[key] = t
		counts[t.String()]++
		if m.Closed() {
			continue
		}
		open++
		switch t {
		case TierCritical:
			critical++
			busy++
		case TierActive:
			busy++
		}
	}
	s.metrics.Tiers(counts)

	s.mu.Lock()
	s.forgetRemoved(byKey)
	if len(invalid) > 0 && start.Sub(s.st.lastInvalidLog) > time.Minute {
		s.st.lastInvalidLog = start
		s.log.Warn("ignoring monitors without valid key", zap.Strings("keys", invalid))
	}
	jobs := s.collectJobs(byKey, tiers, start)
	s.st.critical = critical
	s.st.monitors = len(byKey)
	s.st.open = open
	s.mu.Unlock()

	weight := s.jobWeight(critical, open)
	b := newBatch(s.gw)
dispatch:
	for i, j := range jobs {
		switch s.tryStart(j.group, weight) {
		case groupBusy:
			continue
		case poolSaturated:
			s.logSaturated(start, len(jobs)-i)
			break dispatch
		}
		s.inflight.Add(1)
		go s.runJob(ctx, b, j, byKey, weight)
	}

	s.mu.Lock()
	s.st.cycles++
	s.st.lastCycleAt = start
	s.st.busy = busy
	status := Status{LastCycleAt: start, Cycles: s.st.cycles, Monitors: len(byKey), InFlight: len(s.running), Critical: critical}
	wait := s.nextWait(start)
	s.st.wakeAt = s.now().Add(wait)
	s.mu.Unlock()

	s.metrics.InFlight(status.InFlight)
	s.metrics.Cycle(s.now().Sub(start))
	if s.onCycle != nil {
		s.onCycle(status)
	}
	return wait
}

func (s *Scheduler) markPrice(m *models.PositionMonitor) decimal.Decimal {
	if s.prices != nil {
		if px, ok := s.prices.Get(m.Symbol); ok {
			return px
		}
	}
	return m.LastMarkPrice
}

// collectJobs groups due monitors, most urgent group first. Caller holds mu.
func (s *Scheduler) collectJobs(byKey map[models.MonitorKey]*models.PositionMonitor, tiers map[models.MonitorKey]Tier, now time.Time) []job {
	groups := make(map[groupKey]*job)
	add := func(g groupKey, key models.MonitorKey, t Tier) {
		j, ok := groups[g]
		if !ok {
			j = &job{group: g, urgency: t}
			groups[g] = j
		}
		j.keys = append(j.keys, key)
		if t < j.urgency {
			j.urgency = t
		}
	}

	for key, m := range byKey {
		deadline, seen := s.due[key]
		if !seen {
			s.due[key] = time.Time{}
		}
		if seen && deadline.After(now) {
			continue
		}
		g := groupKey{symbol: key.Symbol, account: key.Account}
		if key.Account == models.AccountMirror && s.mirror != nil {
			if _, ok := byKey[key.Counterpart()]; ok {
				// handled by the primary's job
				add(groupKey{symbol: key.Symbol, account: models.AccountPrimary}, key.Counterpart(), tiers[key])
				continue
			}
		}
		add(g, m.Key(), tiers[key])
	}

	out := make([]job, 0, len(groups))
	for _, j := range groups {
		j.keys = dedupe(j.keys)
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].urgency != out[b].urgency {
			return out[a].urgency < out[b].urgency
		}
		if out[a].group.symbol != out[b].group.symbol {
			return out[a].group.symbol < out[b].group.symbol
		}
		return out[a].group.account < out[b].group.account
	})
	return out
}

func dedupe(keys []models.MonitorKey) []models.MonitorKey {
	seen := make(map[models.MonitorKey]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// forgetRemoved drops schedule state of monitors no longer in the store.
// Caller holds mu.
func (s *Scheduler) forgetRemoved(byKey map[models.MonitorKey]*models.PositionMonitor) {
	for k := range s.due {
		if _, ok := byKey[k]; !ok {
			delete(s.due, k)
		}
	}
}

// jobWeight grows with the critical share so fewer jobs fit the semaphore
// during a volatility spike.
func (s *Scheduler) jobWeight(critical, open int) int64 {
	limit := s.cfg.MaxConcurrent
	if open > 0 && critical > 0 {
		share := float64(critical) / float64(open)
		span := float64(s.cfg.MaxConcurrent - s.cfg.MinConcurrent)
		limit = s.cfg.MaxConcurrent - int64(share*span+0.5)
	}
	if limit < s.cfg.MinConcurrent {
		limit = s.cfg.MinConcurrent
	}
	w := s.cfg.MaxConcurrent / limit
	if w < 1 {
		w = 1
	}
	return w
}

type startResult int

const (
	started startResult = iota
	groupBusy
	poolSaturated
)

// tryStart claims the group and semaphore weight without blocking.
func (s *Scheduler) tryStart(g groupKey, weight int64) startResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[g] {
		return groupBusy
	}
	if !s.sem.TryAcquire(weight) {
		return poolSaturated
	}
	s.running[g] = true
	return started
}

func (s *Scheduler) logSaturated(now time.Time, left int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.st.lastSaturateLog) < 30*time.Second {
		return
	}
	s.st.lastSaturateLog = now
	s.log.Info("worker pool saturated, deferring groups", zap.Int("deferred", left))
}

// nextWait is the time to the earliest deadline, clamped. Caller holds mu.
func (s *Scheduler) nextWait(now time.Time) time.Duration {
	wait := s.cfg.MaxSleep
	for k, deadline := range s.due {
		if s.running[groupKey{symbol: k.Symbol, account: k.Account}] {
			continue
		}
		if d := deadline.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < s.cfg.MinSleep {
		wait = s.cfg.MinSleep
	}
	return wait
}

func (s *Scheduler) runJob(ctx context.Context, b *batch, j job, byKey map[models.MonitorKey]*models.PositionMonitor, weight int64) {
	defer s.inflight.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, j.group)
		now := s.now()
		early := now.Add(s.nextWait(now)).Before(s.st.wakeAt)
		s.mu.Unlock()
		s.sem.Release(weight)
		if early {
			s.Nudge()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	for _, key := range j.keys {
		s.processMonitor(ctx, b, key, byKey)
	}
}

// processMonitor observes and rebalances one monitor and, for a primary with
// a mirror counterpart, syncs the mirror. Panics stay inside.
func (s *Scheduler) processMonitor(ctx context.Context, b *batch, key models.MonitorKey, byKey map[models.MonitorKey]*models.PositionMonitor) {
	log := s.log.With(zap.String("monitor", key.String()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("monitor panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			s.reschedule(key, s.cfg.Tiers.Interval(TierStandard))
		}
	}()

	m, ok := byKey[key]
	if !ok {
		return
	}
	m = m.Clone()

	if !s.refresh(ctx, b, m, log) {
		s.reschedule(key, s.cfg.Tiers.Interval(TierStandard))
		return
	}
	res := s.exec.Rebalance(ctx, m)

	if key.Account == models.AccountPrimary && s.mirror != nil {
		if mm, ok := byKey[key.Counterpart()]; ok {
			mm = mm.Clone()
			if s.refresh(ctx, b, mm, log) {
				res.Add(s.mirror.SyncMirror(ctx, m, mm))
				s.writeBack(mm, log)
			}
			s.reschedule(mm.Key(), s.cfg.Tiers.Interval(s.cfg.Tiers.Classify(mm, s.markPrice(mm))))
		}
	}
	if len(res.Errors) > 0 {
		log.Warn("rebalance finished with errors", zap.Int("errors", len(res.Errors)), zap.Error(res.Err()))
	}

	s.writeBack(m, log)
	tier := s.cfg.Tiers.Classify(m, s.markPrice(m))
	if res.Gap() && tier > TierCritical {
		tier = TierCritical
	}
	s.reschedule(key, s.cfg.Tiers.Interval(tier))
}

// refresh applies the batch's view of the exchange to m.
func (s *Scheduler) refresh(ctx context.Context, b *batch, m *models.PositionMonitor, log *zap.Logger) bool {
	key := m.Key()
	pos, err := b.Position(ctx, key)
	if err != nil {
		log.Warn("positions unavailable, skipping this cycle", zap.String("account", string(key.Account)), zap.Error(err))
		return false
	}
	open, err := b.OpenOrders(ctx, key.Symbol, key.Account)
	if err != nil {
		log.Warn("open orders unavailable, skipping this cycle", zap.String("account", string(key.Account)), zap.Error(err))
		return false
	}

	obs := Observe(m, pos, open, s.cfg.Tolerance, s.now())
	if obs.Filled > 0 {
		log.Info("tp filled", zap.Int("levels", obs.Filled), zap.Int("tp_hits", m.TPHits), zap.String("remaining", m.RemainingSize.String()))
	}
	if obs.MissingTPs > 0 || obs.MissingSL {
		log.Warn("protective orders missing on exchange", zap.Int("tps", obs.MissingTPs), zap.Bool("sl", obs.MissingSL))
	}
	if obs.Closed {
		log.Info("position closed, waiting for recovery to prune")
	}
	return true
}

func (s *Scheduler) writeBack(m *models.PositionMonitor, log *zap.Logger) {
	if err := s.store.Replace(m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("monitor removed meanwhile, dropping result")
			return
		}
		log.Error("write back failed", zap.Error(err))
	}
}

func (s *Scheduler) reschedule(key models.MonitorKey, in time.Duration) {
	s.mu.Lock()
	s.due[key] = s.now().Add(in)
	s.mu.Unlock()
}

// maybeMaintain evicts caches and flags stale monitors. Under high load the
// period doubles.
func (s *Scheduler) maybeMaintain() {
	now := s.now()

	s.mu.Lock()
	period := s.cfg.MaintenanceEvery
	if s.st.open > 0 && float64(s.st.busy)/float64(s.st.open) > s.cfg.HighLoadShare {
		period *= 2
	}
	if period <= 0 || now.Sub(s.st.lastMaintenance) < period {
		s.mu.Unlock()
		return
	}
	s.st.lastMaintenance = now
	s.mu.Unlock()

	evicted := 0
	for _, e := range s.evicters {
		evicted += e.EvictExpired()
	}

	var stale []string
	for _, m := range s.store.Snapshot() {
		if m.Closed() || m.LastCheckedAt.IsZero() {
			continue
		}
		if now.Sub(m.LastCheckedAt) > s.cfg.StaleAfter {
			stale = append(stale, m.Key().String())
			s.mu.Lock()
			s.due[m.Key()] = time.Time{}
			s.mu.Unlock()
		}
	}
	if len(stale) > 0 {
		s.log.Warn("stale monitors forced due", zap.Strings("keys", stale))
	}
	s.log.Debug("maintenance done", zap.Int("evicted", evicted), zap.Duration("period", period))
}
