// Package rebalance brings the protective orders of a monitor in line with
// its target quantities by whole-order cancel and replace.
package rebalance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/ladder"
	"ladder_bot/internal/metrics"
	"ladder_bot/internal/models"
	"ladder_bot/internal/notify"
	"ladder_bot/internal/orders"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrProtectionGap: an order was cancelled and its replacement failed, so
// part of the position is unprotected until the next cycle re-places it.
var ErrProtectionGap = errors.New("protection gap")

type Config struct {
	Tolerance ladder.Tolerance
	// DefaultSLPct is the stop distance from entry, in percent, used when a
	// monitor has no stop at all.
	DefaultSLPct    decimal.Decimal
	DefaultStopType models.StopType
}

type Result struct {
	Cancelled int
	Replaced  int
	Placed    int
	Errors    []error
}

func (r Result) Changed() bool { return r.Cancelled+r.Replaced+r.Placed > 0 }

// Err returns the first recorded error, if any.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	if len(r.Errors) == 1 {
		return r.Errors[0]
	}
	return errors.Wrapf(r.Errors[0], "%d errors, first", len(r.Errors))
}

// Gap reports whether any error left a cancelled order unreplaced.
func (r Result) Gap() bool {
	for _, err := range r.Errors {
		if errors.Is(err, ErrProtectionGap) {
			return true
		}
	}
	return false
}

func (r *Result) Add(o Result) {
	r.Cancelled += o.Cancelled
	r.Replaced += o.Replaced
	r.Placed += o.Placed
	r.Errors = append(r.Errors, o.Errors...)
}

// Plan is an explicit set of targets for one monitor. TP is aligned with the
// monitor's ladder by position.
type Plan struct {
	TP     []decimal.Decimal
	SL     decimal.Decimal
	Reason orders.Reason
	// SLTemplate gives price and stop type for a stop that does not exist yet.
	// When nil the default stop price is derived from the entry.
	SLTemplate *models.SlOrder
}

type Executor struct {
	gw       exchange.Gateway
	calc     *ladder.Calculator
	cfg      Config
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func New(gw exchange.Gateway, calc *ladder.Calculator, cfg Config, n notify.Notifier, m *metrics.Metrics, log *zap.Logger) *Executor {
	if cfg.DefaultStopType == "" {
		cfg.DefaultStopType = models.StopLast
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Executor{
		gw:       gw,
		calc:     calc,
		cfg:      cfg,
		notifier: n,
		metrics:  m,
		log:      log.Named("rebalance"),
		now:      time.Now,
	}
}

func (e *Executor) Calculator() *ladder.Calculator { return e.calc }

// PlanFor computes lot-stepped targets from the monitor's remaining size.
// A ladder whose length does not match the hit count (recovered monitors)
// is weighted evenly.
func (e *Executor) PlanFor(m *models.PositionMonitor, inst models.Instrument) Plan {
	targets := e.calc.Targets(m.RemainingSize, m.Phase, m.TPHits)
	if len(targets) != len(m.TPLadder) {
		targets = e.calc.Even(m.RemainingSize, len(m.TPLadder))
	}
	reason := orders.ReasonRebalance
	if m.Recovered && m.UpdatedAt.Equal(m.RecoveredAt) {
		// first pass over a freshly rebuilt monitor
		reason = orders.ReasonRecovery
	}
	return Plan{
		TP:     ladder.ApplyLotStep(targets, inst),
		SL:     e.calc.SLTarget(m.RemainingSize),
		Reason: reason,
	}
}

// Rebalance brings m to the targets of its remaining size. m is updated in
// place with the new order ids and quantities.
func (e *Executor) Rebalance(ctx context.Context, m *models.PositionMonitor) Result {
	if m.Closed() || !m.RemainingSize.IsPositive() {
		return Result{}
	}
	inst := e.instrument(ctx, m.Symbol)
	return e.apply(ctx, m, e.PlanFor(m, inst), inst)
}

// Apply executes an explicit plan against m.
func (e *Executor) Apply(ctx context.Context, m *models.PositionMonitor, plan Plan) Result {
	if m.Closed() {
		return Result{}
	}
	return e.apply(ctx, m, plan, e.instrument(ctx, m.Symbol))
}

func (e *Executor) instrument(ctx context.Context, symbol string) models.Instrument {
	inst, err := e.gw.Instrument(ctx, symbol)
	if err != nil {
		e.log.Warn("instrument unavailable, no lot rounding", zap.String("symbol", symbol), zap.Error(err))
		return models.Instrument{Symbol: symbol}
	}
	return inst
}

func (e *Executor) apply(ctx context.Context, m *models.PositionMonitor, plan Plan, inst models.Instrument) Result {
	span, ctx := opentracing.StartSpanFromContext(ctx, "rebalance.apply")
	defer span.Finish()
	span.SetTag("monitor", m.Key().String())
	span.SetTag("reason", string(plan.Reason))

	var res Result
	for i := range m.TPLadder {
		if i >= len(plan.TP) {
			break
		}
		e.applyTP(ctx, m, i, plan.TP[i], plan.Reason, inst, &res)
	}
	e.applySL(ctx, m, plan, inst, &res)

	m.UpdatedAt = e.now()
	m.LastError = ""
	if err := res.Err(); err != nil {
		m.LastError = err.Error()
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
	}
	e.record(m, res)
	e.report(ctx, m, res)
	return res
}

func (e *Executor) applyTP(ctx context.Context, m *models.PositionMonitor, i int, target decimal.Decimal, reason orders.Reason, inst models.Instrument, res *Result) {
	tp := &m.TPLadder[i]
	if tp.StopType == "" {
		tp.StopType = e.cfg.DefaultStopType
	}
	level := tp.TPIndex
	if level == 0 {
		level = m.TPHits + i + 1
	}
	log := e.log.With(zap.String("monitor", m.Key().String()), zap.Int("tp", level))

	if tp.Missing() {
		if !target.IsPositive() {
			tp.Quantity = decimal.Zero
			return
		}
		id, link, err := e.place(ctx, m, models.KindTakeProfit, level, tp.TriggerPrice, tp.StopType, target, replaceReason(reason))
		if err != nil {
			log.Warn("place missing tp failed", zap.Error(err))
			res.Errors = append(res.Errors, errors.Wrapf(err, "place tp%d", level))
			return
		}
		tp.OrderID, tp.LinkID, tp.Quantity = id, link, target
		res.Placed++
		return
	}

	if e.cfg.Tolerance.WithinTolerance(tp.Quantity, target, m.RemainingSize, inst.LotSz) {
		return
	}

	if err := e.cancel(ctx, m, tp.OrderID); err != nil {
		log.Warn("cancel tp failed, keeping order", zap.String("order_id", tp.OrderID), zap.Error(err))
		res.Errors = append(res.Errors, errors.Wrapf(err, "cancel tp%d", level))
		return
	}
	res.Cancelled++

	if !target.IsPositive() {
		tp.OrderID, tp.LinkID, tp.Quantity = "", "", decimal.Zero
		return
	}

	id, link, err := e.place(ctx, m, models.KindTakeProfit, level, tp.TriggerPrice, tp.StopType, target, reason)
	if err != nil {
		tp.OrderID, tp.LinkID, tp.Quantity = "", "", decimal.Zero
		gap := errors.Wrapf(ErrProtectionGap, "tp%d of %s: %v", level, m.Key(), err)
		log.Error("tp cancelled but not re-placed", zap.Error(err))
		res.Errors = append(res.Errors, gap)
		e.metrics.Gap(m.Account)
		return
	}
	tp.OrderID, tp.LinkID, tp.Quantity = id, link, target
	res.Replaced++
}

func (e *Executor) applySL(ctx context.Context, m *models.PositionMonitor, plan Plan, inst models.Instrument, res *Result) {
	log := e.log.With(zap.String("monitor", m.Key().String()))
	target := plan.SL
	if !target.IsPositive() {
		return
	}

	reason := plan.Reason
	if m.SL == nil {
		sl, err := e.defaultSL(m, plan, inst)
		if err != nil {
			log.Error("cannot derive stop-loss", zap.Error(err))
			res.Errors = append(res.Errors, err)
			return
		}
		m.SL = sl
		if reason == orders.ReasonRebalance {
			reason = orders.ReasonDefaultSL
		}
	}
	sl := m.SL
	if sl.StopType == "" {
		sl.StopType = e.cfg.DefaultStopType
	}

	if sl.Missing() {
		id, link, err := e.place(ctx, m, models.KindStopLoss, 0, sl.TriggerPrice, sl.StopType, target, replaceReason(reason))
		if err != nil {
			log.Warn("place stop-loss failed", zap.Error(err))
			res.Errors = append(res.Errors, errors.Wrap(err, "place sl"))
			return
		}
		sl.OrderID, sl.LinkID, sl.Quantity = id, link, target
		res.Placed++
		return
	}

	if e.cfg.Tolerance.WithinTolerance(sl.Quantity, target, m.RemainingSize, inst.LotSz) {
		return
	}

	if err := e.cancel(ctx, m, sl.OrderID); err != nil {
		log.Warn("cancel stop-loss failed, keeping order", zap.String("order_id", sl.OrderID), zap.Error(err))
		res.Errors = append(res.Errors, errors.Wrap(err, "cancel sl"))
		return
	}
	res.Cancelled++

	id, link, err := e.place(ctx, m, models.KindStopLoss, 0, sl.TriggerPrice, sl.StopType, target, reason)
	if err != nil {
		sl.OrderID, sl.LinkID, sl.Quantity = "", "", decimal.Zero
		log.Error("stop-loss cancelled but not re-placed", zap.Error(err))
		res.Errors = append(res.Errors, errors.Wrapf(ErrProtectionGap, "sl of %s: %v", m.Key(), err))
		e.metrics.Gap(m.Account)
		return
	}
	sl.OrderID, sl.LinkID, sl.Quantity = id, link, target
	res.Replaced++
}

func (e *Executor) defaultSL(m *models.PositionMonitor, plan Plan, inst models.Instrument) (*models.SlOrder, error) {
	if t := plan.SLTemplate; t != nil && t.TriggerPrice.IsPositive() {
		return &models.SlOrder{TriggerPrice: t.TriggerPrice, StopType: t.StopType}, nil
	}
	px := ladder.DefaultStopPrice(m.EntryPrice, m.Side, e.cfg.DefaultSLPct, inst.TickSz)
	if !px.IsPositive() {
		return nil, errors.Errorf("no entry price for default stop of %s", m.Key())
	}
	return &models.SlOrder{TriggerPrice: px, StopType: e.cfg.DefaultStopType}, nil
}

// cancel treats "already gone" as a failure: the order may have filled and
// the next observation decides what happened.
func (e *Executor) cancel(ctx context.Context, m *models.PositionMonitor, orderID string) error {
	ok, err := e.gw.CancelOrder(ctx, m.Account, m.Symbol, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("order %s not cancellable", orderID)
	}
	e.metrics.Order(m.Account, "cancel", 1)
	return nil
}

func (e *Executor) place(
	ctx context.Context,
	m *models.PositionMonitor,
	kind models.OrderKind,
	level int,
	trigger decimal.Decimal,
	stopType models.StopType,
	qty decimal.Decimal,
	reason orders.Reason,
) (string, string, error) {
	role := orders.RoleStopLoss
	if kind == models.KindTakeProfit {
		role = orders.RoleTakeProfit
	}
	link := orders.NewLinkID(role, level, reason)

	id, err := e.gw.PlaceOrder(ctx, models.PlaceParams{
		Account:      m.Account,
		Symbol:       m.Symbol,
		PosSide:      m.Side,
		Kind:         kind,
		TriggerPrice: trigger,
		StopType:     stopType,
		Quantity:     qty,
		LinkID:       link,
		ReduceOnly:   true,
	})
	if err != nil {
		return "", "", err
	}
	e.metrics.Order(m.Account, "place", 1)
	return id, link, nil
}

// replaceReason marks re-placement of a missing order during a plain rebalance.
func replaceReason(r orders.Reason) orders.Reason {
	if r == orders.ReasonRebalance {
		return orders.ReasonReplace
	}
	return r
}

func (e *Executor) record(m *models.PositionMonitor, res Result) {
	switch {
	case len(res.Errors) > 0:
		e.metrics.Rebalance(m.Account, "error")
	case res.Changed():
		e.metrics.Rebalance(m.Account, "changed")
	default:
		e.metrics.Rebalance(m.Account, "noop")
	}
}

func (e *Executor) report(ctx context.Context, m *models.PositionMonitor, res Result) {
	if !res.Changed() && len(res.Errors) == 0 {
		return
	}
	var b strings.Builder
	icon := "♻️"
	if res.Gap() {
		icon = "🚨"
	} else if len(res.Errors) > 0 {
		icon = "⚠️"
	}
	fmt.Fprintf(&b, "%s [%s] %s %s: remaining=%s cancelled=%d replaced=%d placed=%d",
		icon, m.Account, m.Symbol, m.Side, m.RemainingSize, res.Cancelled, res.Replaced, res.Placed)
	for _, err := range res.Errors {
		fmt.Fprintf(&b, "\n- %v", err)
	}
	_ = e.notifier.Notify(ctx, m.Account, b.String())
}
