package scheduler

import (
	"context"
	"testing"
	"time"

	"ladder_bot/internal/exchange/exchangetest"
	"ladder_bot/internal/ladder"
	"ladder_bot/internal/mirror"
	"ladder_bot/internal/models"
	"ladder_bot/internal/rebalance"
	"ladder_bot/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type env struct {
	fake  *exchangetest.Fake
	store *store.Store
	sched *Scheduler
}

func newEnv(t *testing.T, withMirror bool) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	fake := exchangetest.New()
	st := store.New()

	exec := rebalance.New(fake, ladder.NewCalculator(nil), rebalance.Config{
		Tolerance:    tol,
		DefaultSLPct: d("7.5"),
	}, nil, nil, log)

	var sync *mirror.Synchronizer
	if withMirror {
		ratio := mirror.NewRatioProvider(fake, mirror.RatioConfig{Mode: mirror.RatioFixed, Fixed: d("0.6")}, nil, log)
		sync = mirror.NewSynchronizer(exec, fake, ratio, log)
	}

	cfg := DefaultConfig()
	cfg.Tolerance = tol
	return &env{fake: fake, store: st, sched: New(cfg, st, fake, exec, sync, nil, nil, log)}
}

func (e *env) instrument(symbol string) {
	e.fake.SetInstrument(models.Instrument{Symbol: symbol, LotSz: d("1"), MinSz: d("1"), TickSz: d("0.1")})
}

// seedLadder opens a long position of size on account with a matching 85/5/5/5
// ladder and SL live on the fake, and stores its monitor.
func (e *env) seedLadder(t *testing.T, symbol string, account models.Account, size int64) *models.PositionMonitor {
	t.Helper()
	e.instrument(symbol)
	total := decimal.NewFromInt(size)
	e.fake.SetPosition(models.Position{Account: account, Symbol: symbol, Side: models.SideLong, Size: total, EntryPrice: d("100")})

	m := &models.PositionMonitor{
		Symbol: symbol, Side: models.SideLong, Account: account,
		EntryPrice: d("100"), PositionSize: total, RemainingSize: total,
		Phase: models.PhaseMonitoring,
	}
	for i, q := range ladder.NewCalculator(nil).Targets(total, models.PhaseMonitoring, 0) {
		px := d("110").Add(decimal.NewFromInt(int64(10 * i)))
		id := e.fake.AddOrder(models.Order{
			Account: account, Symbol: symbol, Kind: models.KindTakeProfit,
			PosSide: models.SideLong, TriggerPrice: px, Quantity: q, ReduceOnly: true,
		})
		m.TPLadder = append(m.TPLadder, models.TpOrder{OrderID: id, TriggerPrice: px, Quantity: q, TPIndex: i + 1})
	}
	id := e.fake.AddOrder(models.Order{
		Account: account, Symbol: symbol, Kind: models.KindStopLoss,
		PosSide: models.SideLong, TriggerPrice: d("92.5"), Quantity: total, ReduceOnly: true,
	})
	m.SL = &models.SlOrder{OrderID: id, TriggerPrice: d("92.5"), Quantity: total}
	require.NoError(t, e.store.Insert(m))
	return m
}

func (e *env) cycle(ctx context.Context) time.Duration {
	wait := e.sched.Cycle(ctx)
	e.sched.inflight.Wait()
	return wait
}

func (e *env) get(t *testing.T, key models.MonitorKey) *models.PositionMonitor {
	t.Helper()
	m, ok := e.store.Get(key)
	require.True(t, ok, "monitor %s", key)
	return m
}

func TestCycle_BatchesReadsPerSymbolAndAccount(t *testing.T) {
	e := newEnv(t, false)
	e.seedLadder(t, "BTC-USDT-SWAP", models.AccountPrimary, 1000)
	e.seedLadder(t, "ETH-USDT-SWAP", models.AccountPrimary, 1000)
	e.seedLadder(t, "SOL-USDT-SWAP", models.AccountPrimary, 1000)

	e.cycle(context.Background())

	calls := e.fake.Calls()
	assert.Equal(t, 1, calls.Positions)
	assert.Equal(t, 3, calls.OpenOrders)
	assert.Zero(t, calls.Place, "fresh ladders need no orders")
	assert.Zero(t, calls.Cancel)
	assert.Equal(t, uint64(1), e.sched.Status().Cycles)
	assert.Equal(t, 3, e.sched.Status().Monitors)
}

func TestCycle_TPFillReweightsRemainder(t *testing.T) {
	e := newEnv(t, false)
	m := e.seedLadder(t, "BTC-USDT-SWAP", models.AccountPrimary, 1000)

	e.fake.Fill(models.AccountPrimary, m.TPLadder[0].OrderID)
	e.fake.SetPosition(models.Position{Account: models.AccountPrimary, Symbol: m.Symbol, Side: models.SideLong, Size: d("150")})

	e.cycle(context.Background())

	got := e.get(t, m.Key())
	assert.Equal(t, 1, got.TPHits)
	assert.Equal(t, models.PhaseProfitTaking, got.Phase)
	require.Len(t, got.TPLadder, 3)
	for _, tp := range got.TPLadder {
		assert.True(t, tp.Quantity.Equal(d("50")), "tp%d qty %s", tp.TPIndex, tp.Quantity)
	}
	require.NotNil(t, got.SL)
	assert.True(t, got.SL.Quantity.Equal(d("150")))
	assert.False(t, got.LastCheckedAt.IsZero())
}

func TestCycle_SyncsMirrorInsidePrimaryJob(t *testing.T) {
	e := newEnv(t, true)
	p := e.seedLadder(t, "ETH-USDT-SWAP", models.AccountPrimary, 1000)

	e.fake.SetPosition(models.Position{Account: models.AccountMirror, Symbol: p.Symbol, Side: models.SideLong, Size: d("600"), EntryPrice: d("100")})
	mm := &models.PositionMonitor{
		Symbol: p.Symbol, Side: models.SideLong, Account: models.AccountMirror,
		EntryPrice: d("100"), PositionSize: d("600"), RemainingSize: d("600"),
		Phase: models.PhaseMonitoring,
	}
	require.NoError(t, e.store.Insert(mm))

	e.cycle(context.Background())

	got := e.get(t, mm.Key())
	assert.True(t, got.TPSum().Equal(d("600")), "mirror tp sum %s", got.TPSum())
	require.NotNil(t, got.SL)
	assert.False(t, got.SL.Missing())
	assert.True(t, got.SL.Quantity.Equal(d("600")))
	assert.True(t, got.AccountRatio.Equal(d("0.6")))

	calls := e.fake.Calls()
	assert.Equal(t, 2, calls.Positions, "one positions read per account")
	assert.Equal(t, 2, calls.OpenOrders)
}

func TestCycle_NotDueUntilMarked(t *testing.T) {
	e := newEnv(t, false)
	m := e.seedLadder(t, "BTC-USDT-SWAP", models.AccountPrimary, 1000)
	ctx := context.Background()

	e.cycle(ctx)
	e.fake.ResetCalls()

	e.cycle(ctx)
	assert.Zero(t, e.fake.Calls().Positions, "rescheduled into the future")

	e.sched.MarkDue(m.Key())
	e.cycle(ctx)
	assert.Equal(t, 1, e.fake.Calls().Positions)
}

func TestCycle_DropsResultOfRemovedMonitor(t *testing.T) {
	e := newEnv(t, false)
	m := e.seedLadder(t, "BTC-USDT-SWAP", models.AccountPrimary, 1000)
	e.fake.ReadHook = func(op string, _ models.Account) error {
		if op == "positions" {
			e.store.Remove(m.Key())
		}
		return nil
	}

	e.cycle(context.Background())
	assert.Zero(t, e.store.Len())
}

func TestCycle_PanicStaysInsideMonitor(t *testing.T) {
	e := newEnv(t, false)
	bad := e.seedLadder(t, "BAD-USDT-SWAP", models.AccountPrimary, 1000)
	good := e.seedLadder(t, "GOOD-USDT-SWAP", models.AccountPrimary, 1000)

	// both lose their stop; placing one for BAD blows up
	for _, m := range []*models.PositionMonitor{bad, good} {
		e.fake.Fill(models.AccountPrimary, m.SL.OrderID)
	}
	e.fake.PlaceHook = func(p models.PlaceParams) error {
		if p.Symbol == bad.Symbol {
			panic("boom")
		}
		return nil
	}

	require.NotPanics(t, func() { e.cycle(context.Background()) })

	got := e.get(t, good.Key())
	require.NotNil(t, got.SL)
	assert.False(t, got.SL.Missing())
	assert.Equal(t, uint64(1), e.sched.Status().Cycles)
	assert.Zero(t, e.sched.Status().InFlight)
}

func TestJobWeight_GrowsWithCriticalShare(t *testing.T) {
	e := newEnv(t, false)
	s := e.sched

	assert.Equal(t, int64(1), s.jobWeight(0, 10))
	assert.Equal(t, int64(1), s.jobWeight(5, 10))
	assert.Equal(t, int64(2), s.jobWeight(3, 4))
	assert.Equal(t, int64(4), s.jobWeight(10, 10))
	assert.Equal(t, int64(1), s.jobWeight(0, 0))
}

func TestTryStart(t *testing.T) {
	e := newEnv(t, false)
	s := e.sched
	g1 := groupKey{symbol: "A", account: models.AccountPrimary}
	g2 := groupKey{symbol: "B", account: models.AccountPrimary}
	g3 := groupKey{symbol: "C", account: models.AccountPrimary}

	assert.Equal(t, started, s.tryStart(g1, 4))
	assert.Equal(t, groupBusy, s.tryStart(g1, 4))
	assert.Equal(t, started, s.tryStart(g2, 4))
	assert.Equal(t, poolSaturated, s.tryStart(g3, 1))
}

func TestNextWait_EarliestDeadlineClamped(t *testing.T) {
	e := newEnv(t, false)
	s := e.sched
	now := time.Unix(1000, 0)
	key := models.NewKey("BTC-USDT-SWAP", models.SideLong, models.AccountPrimary)

	assert.Equal(t, s.cfg.MaxSleep, s.nextWait(now))

	s.due[key] = now.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, s.nextWait(now))

	s.due[key] = now.Add(100 * time.Millisecond)
	assert.Equal(t, s.cfg.MinSleep, s.nextWait(now))

	s.due[key] = now.Add(time.Hour)
	assert.Equal(t, s.cfg.MaxSleep, s.nextWait(now))
}

func TestMaybeMaintain(t *testing.T) {
	e := newEnv(t, false)
	s := e.sched
	now := time.Unix(10_000, 0)
	s.now = func() time.Time { return now }

	evicted := 0
	s.evicters = []Evicter{EvictFunc(func() int { evicted++; return 1 })}

	m := e.seedLadder(t, "BTC-USDT-SWAP", models.AccountPrimary, 1000)
	m.LastCheckedAt = now.Add(-10 * time.Minute)
	require.NoError(t, e.store.Replace(m))
	s.due[m.Key()] = now.Add(time.Hour)

	s.maybeMaintain()
	assert.Equal(t, 1, evicted)
	assert.True(t, s.due[m.Key()].IsZero(), "stale monitor forced due")

	// under high load the period doubles
	s.st.lastMaintenance = now.Add(-6 * time.Minute)
	s.st.busy, s.st.open = 3, 4
	s.maybeMaintain()
	assert.Equal(t, 1, evicted)

	s.st.busy = 1
	s.maybeMaintain()
	assert.Equal(t, 2, evicted)
}

func TestRun_CyclesUntilCancelled(t *testing.T) {
	e := newEnv(t, false)
	e.seedLadder(t, "BTC-USDT-SWAP", models.AccountPrimary, 1000)

	cycles := make(chan Status, 16)
	e.sched.OnCycle(func(st Status) {
		select {
		case cycles <- st:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.sched.Run(ctx)
		close(done)
	}()

	select {
	case st := <-cycles:
		assert.Equal(t, 1, st.Monitors)
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_SlowJobStillWakesAtCriticalDeadline(t *testing.T) {
	e := newEnv(t, false)
	e.sched.cfg.MinSleep = 50 * time.Millisecond
	e.sched.cfg.Tiers.Critical = 300 * time.Millisecond

	m := e.seedLadder(t, "BTC-USDT-SWAP", models.AccountPrimary, 1000)
	e.fake.SetPosition(models.Position{
		Account: models.AccountPrimary, Symbol: m.Symbol, Side: models.SideLong,
		Size: d("1000"), EntryPrice: d("100"), MarkPrice: d("109.9"),
	})
	m.LastMarkPrice = d("109.9")
	require.NoError(t, e.store.Replace(m))
	require.Equal(t, TierCritical, e.sched.cfg.Tiers.Classify(m, m.LastMarkPrice))

	// every read outlives the cycle that dispatched it
	e.fake.ReadHook = func(string, models.Account) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.sched.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	assert.Eventually(t, func() bool { return e.fake.Calls().Positions >= 3 }, 3*time.Second, 20*time.Millisecond,
		"critical monitor polled again after its job finished")
}
