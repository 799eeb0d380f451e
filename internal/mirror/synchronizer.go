// Package mirror keeps a secondary account's ladder proportional to the
// primary's.
package mirror

import (
	"context"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/helper"
	"ladder_bot/internal/models"
	"ladder_bot/internal/orders"
	"ladder_bot/internal/rebalance"

	"github.com/opentracing/opentracing-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Synchronizer struct {
	exec  *rebalance.Executor
	gw    exchange.Gateway
	ratio *RatioProvider
	log   *zap.Logger
}

func NewSynchronizer(exec *rebalance.Executor, gw exchange.Gateway, ratio *RatioProvider, log *zap.Logger) *Synchronizer {
	return &Synchronizer{exec: exec, gw: gw, ratio: ratio, log: log.Named("mirror")}
}

func (s *Synchronizer) Ratio(ctx context.Context) decimal.Decimal { return s.ratio.Ratio(ctx) }

// SyncMirror sizes the mirror ladder from the primary's current targets and
// applies it to the mirror account. mirror is updated in place. A closed
// primary leaves the mirror's orders alone.
func (s *Synchronizer) SyncMirror(ctx context.Context, primary, mirror *models.PositionMonitor) rebalance.Result {
	if primary.Closed() || mirror.Closed() || !mirror.RemainingSize.IsPositive() {
		return rebalance.Result{}
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "mirror.sync")
	defer span.Finish()
	span.SetTag("symbol", mirror.Symbol)

	ratio := s.ratio.Ratio(ctx)
	mirror.AccountRatio = ratio
	if !ratio.IsPositive() {
		s.log.Warn("mirror ratio not positive, skipping", zap.String("monitor", mirror.Key().String()))
		return rebalance.Result{}
	}

	inst, err := s.gw.Instrument(ctx, mirror.Symbol)
	if err != nil {
		inst = models.Instrument{Symbol: mirror.Symbol}
	}

	plan := MirrorPlan(s.exec.PlanFor(primary, inst), primary, mirror, ratio, inst)
	return s.exec.Apply(ctx, mirror, plan)
}

// MirrorPlan reshapes mirror's ladder after the primary's and returns the
// targets for it: primary targets times ratio, floored to the lot step.
// Levels that exist only on the primary are added as missing entries at the
// primary's price unless the mirror already recorded a fill of that level.
// Mirror levels the primary no longer has keep their current quantity, so a
// fill on the primary never strips a live mirror order. A closed primary
// contributes nothing and the whole mirror ladder is held.
//
// The sum is capped at the mirror's remaining size, trimming held levels
// first; a shortfall goes to the nearest live level.
func MirrorPlan(primaryPlan rebalance.Plan, primary, mirror *models.PositionMonitor, ratio decimal.Decimal, inst models.Instrument) rebalance.Plan {
	want := make(map[int]decimal.Decimal, len(primary.TPLadder))
	if !primary.Closed() {
		for i := range primary.TPLadder {
			if i >= len(primaryPlan.TP) {
				break
			}
			want[levelOf(primary, i)] = helper.FloorToStep(primaryPlan.TP[i].Mul(ratio), inst.LotSz)
		}
	}

	have := make(map[int]bool, len(mirror.TPLadder))
	for i := range mirror.TPLadder {
		if mirror.TPLadder[i].TPIndex == 0 {
			mirror.TPLadder[i].TPIndex = levelOf(mirror, i)
		}
		have[mirror.TPLadder[i].TPIndex] = true
	}
	if !primary.Closed() {
		for i, tp := range primary.TPLadder {
			lvl := levelOf(primary, i)
			if have[lvl] || lvl <= mirror.TPHits {
				continue
			}
			mirror.TPLadder = append(mirror.TPLadder, models.TpOrder{
				TriggerPrice: tp.TriggerPrice,
				StopType:     tp.StopType,
				TPIndex:      lvl,
			})
		}
	}
	models.SortLadder(mirror.Side, mirror.TPLadder)

	targets := make([]decimal.Decimal, len(mirror.TPLadder))
	held := make([]bool, len(mirror.TPLadder))
	for i, tp := range mirror.TPLadder {
		if q, ok := want[tp.TPIndex]; ok {
			targets[i] = q
			continue
		}
		targets[i], held[i] = tp.Quantity, true
	}
	capTargets(targets, held, mirror.RemainingSize)
	fillShortfall(targets, held, mirror.RemainingSize)

	var tmpl *models.SlOrder
	if primary.SL != nil {
		tmpl = &models.SlOrder{TriggerPrice: primary.SL.TriggerPrice, StopType: primary.SL.StopType}
	}
	return rebalance.Plan{
		TP:         targets,
		SL:         mirror.RemainingSize,
		Reason:     orders.ReasonMirror,
		SLTemplate: tmpl,
	}
}

func levelOf(m *models.PositionMonitor, i int) int {
	if idx := m.TPLadder[i].TPIndex; idx > 0 {
		return idx
	}
	return m.TPHits + i + 1
}

// capTargets trims until the sum fits: held levels first, then from the
// nearest level outward.
func capTargets(targets []decimal.Decimal, held []bool, limit decimal.Decimal) {
	excess := decimal.Sum(decimal.Zero, targets...).Sub(limit)
	for _, heldPass := range []bool{true, false} {
		for i := 0; i < len(targets) && excess.IsPositive(); i++ {
			if heldPass && !held[i] {
				continue
			}
			cut := helper.MinDec(targets[i], excess)
			targets[i] = targets[i].Sub(cut)
			excess = excess.Sub(cut)
		}
	}
}

// fillShortfall gives whatever the ladder leaves uncovered to the nearest
// live level with a positive target, falling back to any positive level and
// then to the nearest one.
func fillShortfall(targets []decimal.Decimal, held []bool, remaining decimal.Decimal) {
	if len(targets) == 0 {
		return
	}
	short := remaining.Sub(decimal.Sum(decimal.Zero, targets...))
	if !short.IsPositive() {
		return
	}
	at := -1
	for j, t := range targets {
		if t.IsPositive() && (at < 0 || !held[j] && held[at]) {
			at = j
		}
	}
	if at < 0 {
		at = 0
	}
	targets[at] = targets[at].Add(short)
}
