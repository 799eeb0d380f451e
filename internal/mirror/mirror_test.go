package mirror

import (
	"context"
	"testing"
	"time"

	"ladder_bot/internal/exchange/exchangetest"
	"ladder_bot/internal/ladder"
	"ladder_bot/internal/models"
	"ladder_bot/internal/rebalance"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sym = "ETH-USDT-SWAP"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func primaryMonitor() *models.PositionMonitor {
	m := &models.PositionMonitor{
		Symbol: sym, Side: models.SideLong, Account: models.AccountPrimary,
		EntryPrice: d("100"), PositionSize: d("1000"), RemainingSize: d("1000"),
		Phase: models.PhaseMonitoring,
		SL:    &models.SlOrder{OrderID: "psl", TriggerPrice: d("92.5"), StopType: models.StopMark, Quantity: d("1000")},
	}
	for i, q := range []string{"850", "50", "50", "50"} {
		m.TPLadder = append(m.TPLadder, models.TpOrder{
			OrderID: "ptp", TriggerPrice: d("110").Add(decimal.NewFromInt(int64(10 * i))),
			StopType: models.StopLast, Quantity: d(q), TPIndex: i + 1,
		})
	}
	return m
}

func mirrorMonitor(remaining string) *models.PositionMonitor {
	return &models.PositionMonitor{
		Symbol: sym, Side: models.SideLong, Account: models.AccountMirror,
		EntryPrice: d("100"), PositionSize: d(remaining), RemainingSize: d(remaining),
		Phase: models.PhaseMonitoring,
	}
}

func newSync(t *testing.T, fake *exchangetest.Fake, cfg RatioConfig) *Synchronizer {
	fake.SetInstrument(models.Instrument{Symbol: sym, LotSz: d("1"), MinSz: d("1"), TickSz: d("0.01")})
	log := zaptest.NewLogger(t)
	exec := rebalance.New(fake, ladder.NewCalculator(nil), rebalance.Config{
		Tolerance:    ladder.Tolerance{MinQty: d("1"), Pct: d("1")},
		DefaultSLPct: d("7.5"),
	}, nil, nil, log)
	return NewSynchronizer(exec, fake, NewRatioProvider(fake, cfg, nil, log), log)
}

func TestSyncMirror_ScenarioC(t *testing.T) {
	fake := exchangetest.New()
	s := newSync(t, fake, RatioConfig{Mode: RatioFixed, Fixed: d("0.6")})
	p := primaryMonitor()
	m := mirrorMonitor("600")

	res := s.SyncMirror(context.Background(), p, m)
	require.Empty(t, res.Errors)
	assert.Equal(t, 5, res.Placed)
	assert.True(t, m.AccountRatio.Equal(d("0.6")))

	require.Len(t, m.TPLadder, 4)
	want := []string{"510", "30", "30", "30"}
	for i, tp := range m.TPLadder {
		assert.True(t, tp.Quantity.Equal(d(want[i])), "tp%d=%s", i+1, tp.Quantity)
		assert.True(t, tp.TriggerPrice.Equal(p.TPLadder[i].TriggerPrice))
		assert.Equal(t, p.TPLadder[i].StopType, tp.StopType)
		assert.False(t, tp.Missing())
	}
	require.NotNil(t, m.SL)
	assert.True(t, m.SL.Quantity.Equal(d("600")), "mirror SL follows its own size")
	assert.True(t, m.SL.TriggerPrice.Equal(d("92.5")))
	assert.Equal(t, models.StopMark, m.SL.StopType)

	for _, pp := range fake.Placed() {
		assert.Equal(t, models.AccountMirror, pp.Account)
		assert.True(t, pp.ReduceOnly)
	}

	fake.ResetCalls()
	again := s.SyncMirror(context.Background(), p, m)
	assert.False(t, again.Changed())
}

func TestMirrorPlan_CapsAtRemaining(t *testing.T) {
	p := primaryMonitor()
	m := mirrorMonitor("500")
	inst := models.Instrument{LotSz: d("1")}
	primaryPlan := rebalance.Plan{TP: []decimal.Decimal{d("850"), d("50"), d("50"), d("50")}, SL: d("1000")}

	plan := MirrorPlan(primaryPlan, p, m, d("0.6"), inst)
	require.Len(t, plan.TP, 4)
	assert.True(t, plan.TP[0].Equal(d("410")))
	assert.True(t, decimal.Sum(decimal.Zero, plan.TP...).Equal(d("500")))
	assert.True(t, plan.SL.Equal(d("500")))
}

func TestMirrorPlan_SkipsLevelsMirrorAlreadyFilled(t *testing.T) {
	p := primaryMonitor()
	m := mirrorMonitor("90")
	m.TPHits = 1
	m.TPLadder = []models.TpOrder{
		{OrderID: "m2", TriggerPrice: d("120"), Quantity: d("30"), TPIndex: 2},
		{OrderID: "m9", TriggerPrice: d("200"), Quantity: d("30"), TPIndex: 9},
	}
	primaryPlan := rebalance.Plan{TP: []decimal.Decimal{d("850"), d("50"), d("50"), d("50")}}

	plan := MirrorPlan(primaryPlan, p, m, d("0.6"), models.Instrument{LotSz: d("1")})

	var idx []int
	for _, tp := range m.TPLadder {
		idx = append(idx, tp.TPIndex)
	}
	assert.Equal(t, []int{2, 3, 4, 9}, idx)
	require.Len(t, plan.TP, 4)
	assert.True(t, plan.TP[0].Equal(d("30")))
	assert.True(t, plan.TP[3].IsZero(), "held level is trimmed first once the sum exceeds remaining")
}

func TestSyncMirror_PrimaryTP1FilledFirst(t *testing.T) {
	fake := exchangetest.New()
	s := newSync(t, fake, RatioConfig{Mode: RatioFixed, Fixed: d("0.6")})
	p := primaryMonitor()
	m := mirrorMonitor("600")
	require.Empty(t, s.SyncMirror(context.Background(), p, m).Errors)
	tp1 := m.TPLadder[0].OrderID
	require.NotEmpty(t, tp1)

	// primary TP1 fills; the mirror's TP1 is still resting
	p.TPLadder = p.TPLadder[1:]
	p.TPHits = 1
	p.RemainingSize = d("150")
	fake.ResetCalls()

	res := s.SyncMirror(context.Background(), p, m)
	require.Empty(t, res.Errors)
	assert.False(t, res.Changed())
	assert.Zero(t, fake.Calls().Cancel)
	require.Len(t, m.TPLadder, 4)
	assert.Equal(t, tp1, m.TPLadder[0].OrderID)
	assert.True(t, m.TPLadder[0].Quantity.Equal(d("510")), "tp1=%s", m.TPLadder[0].Quantity)
	assert.True(t, m.TPSum().Equal(d("600")), "tp sum %s", m.TPSum())
}

func TestSyncMirror_ClosedPrimaryLeavesMirrorLadder(t *testing.T) {
	fake := exchangetest.New()
	s := newSync(t, fake, RatioConfig{Mode: RatioFixed, Fixed: d("0.6")})
	p := primaryMonitor()
	m := mirrorMonitor("600")
	require.Empty(t, s.SyncMirror(context.Background(), p, m).Errors)

	p.Phase = models.PhaseClosed
	p.RemainingSize = decimal.Zero
	fake.ResetCalls()

	res := s.SyncMirror(context.Background(), p, m)
	require.Empty(t, res.Errors)
	assert.Zero(t, fake.Calls().Cancel)
	assert.Zero(t, fake.Calls().Place)
	require.Len(t, m.TPLadder, 4)
	for _, tp := range m.TPLadder {
		assert.False(t, tp.Missing())
	}
	assert.True(t, m.TPSum().Equal(d("600")), "tp sum %s", m.TPSum())
	require.NotNil(t, m.SL)
	assert.True(t, m.SL.Quantity.Equal(d("600")))
}

func TestMirrorPlan_ShortfallGoesToNearestLiveLevel(t *testing.T) {
	p := primaryMonitor()
	p.TPLadder = p.TPLadder[2:]
	p.TPHits = 2
	m := mirrorMonitor("700")
	m.TPLadder = []models.TpOrder{
		{OrderID: "m1", TriggerPrice: d("110"), Quantity: d("500"), TPIndex: 1},
		{OrderID: "m3", TriggerPrice: d("130"), Quantity: d("30"), TPIndex: 3},
		{OrderID: "m4", TriggerPrice: d("140"), Quantity: d("30"), TPIndex: 4},
	}
	primaryPlan := rebalance.Plan{TP: []decimal.Decimal{d("50"), d("50")}}

	plan := MirrorPlan(primaryPlan, p, m, d("0.6"), models.Instrument{LotSz: d("1")})
	require.Len(t, plan.TP, 3)
	assert.True(t, plan.TP[0].Equal(d("500")), "level unknown to the primary keeps its size")
	assert.True(t, plan.TP[1].Equal(d("170")), "tp3=%s", plan.TP[1])
	assert.True(t, plan.TP[2].Equal(d("30")))
	assert.True(t, plan.SL.Equal(d("700")))
}

func TestRatioProvider_Equity(t *testing.T) {
	fake := exchangetest.New()
	fake.SetEquity(models.AccountPrimary, d("10000"))
	fake.SetEquity(models.AccountMirror, d("6000"))

	now := time.Unix(0, 0)
	p := NewRatioProvider(fake, RatioConfig{Mode: RatioEquity, Fixed: d("0.5"), Refresh: time.Minute}, nil, zaptest.NewLogger(t))
	p.now = func() time.Time { return now }

	ctx := context.Background()
	assert.True(t, p.Ratio(ctx).Equal(d("0.6")))
	assert.True(t, p.Ratio(ctx).Equal(d("0.6")))
	assert.Equal(t, 2, fake.Calls().Equity, "cached between refreshes")

	fake.SetEquity(models.AccountMirror, d("3000"))
	now = now.Add(2 * time.Minute)
	assert.True(t, p.Ratio(ctx).Equal(d("0.3")))
}

func TestRatioProvider_FallsBackToFixed(t *testing.T) {
	fake := exchangetest.New()
	fake.ReadHook = func(string, models.Account) error { return errors.New("balance endpoint down") }

	p := NewRatioProvider(fake, RatioConfig{Mode: RatioEquity, Fixed: d("0.5")}, nil, zaptest.NewLogger(t))
	assert.True(t, p.Ratio(context.Background()).Equal(d("0.5")))

	fixed := NewRatioProvider(fake, RatioConfig{Mode: RatioFixed, Fixed: d("0.25")}, nil, zaptest.NewLogger(t))
	assert.True(t, fixed.Ratio(context.Background()).Equal(d("0.25")))
	assert.Equal(t, 1, fake.Calls().Equity, "fixed mode never reads balances")
}

func TestRatioProvider_FailedReadRetriesAfterShortExpiry(t *testing.T) {
	fake := exchangetest.New()
	fake.SetEquity(models.AccountPrimary, d("10000"))
	fake.SetEquity(models.AccountMirror, d("6000"))
	fail := true
	fake.ReadHook = func(string, models.Account) error {
		if fail {
			return errors.New("balance endpoint down")
		}
		return nil
	}

	now := time.Unix(0, 0)
	p := NewRatioProvider(fake, RatioConfig{Mode: RatioEquity, Fixed: d("0.5"), Refresh: 10 * time.Minute}, nil, zaptest.NewLogger(t))
	p.now = func() time.Time { return now }

	ctx := context.Background()
	assert.True(t, p.Ratio(ctx).Equal(d("0.5")))
	assert.True(t, p.Ratio(ctx).Equal(d("0.5")))
	assert.Equal(t, 1, fake.Calls().Equity, "fallback is cached after a failed read")

	fail = false
	now = now.Add(errorRetry)
	assert.True(t, p.Ratio(ctx).Equal(d("0.6")))
	assert.Equal(t, 3, fake.Calls().Equity)

	now = now.Add(time.Minute)
	assert.True(t, p.Ratio(ctx).Equal(d("0.6")))
	assert.Equal(t, 3, fake.Calls().Equity, "success is cached for the full refresh")
}
