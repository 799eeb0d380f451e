package scheduler

import (
	"time"

	"ladder_bot/internal/ladder"
	"ladder_bot/internal/models"
	"ladder_bot/internal/orders"

	"github.com/shopspring/decimal"
)

// Observation summarises what one batch of exchange state changed.
type Observation struct {
	Closed      bool
	Filled      int
	MissingTPs  int
	MissingSL   bool
	SizeChanged bool
}

// Observe applies live position and open orders to m. pos is nil when the
// exchange reports no position. Ladder orders that disappeared while the
// position shrank are fills, taken nearest-first and only as far as the
// size drop explains them; anything else that disappeared is marked missing
// so the executor places it again.
func Observe(m *models.PositionMonitor, pos *models.Position, open []models.Order, tol ladder.Tolerance, now time.Time) Observation {
	var obs Observation
	m.LastCheckedAt = now

	if pos == nil || !pos.Size.IsPositive() {
		obs.Closed = !m.Closed()
		obs.SizeChanged = !m.RemainingSize.IsZero()
		m.Phase = models.PhaseClosed
		m.RemainingSize = decimal.Zero
		return obs
	}

	live := orders.IDs(open)
	prev := m.RemainingSize
	size := pos.Size
	obs.SizeChanged = !size.Equal(prev)

	drop := prev.Sub(size)
	slack := tol.Threshold(prev, decimal.Zero)
	explained := decimal.Zero

	kept := m.TPLadder[:0]
	for _, tp := range m.TPLadder {
		if tp.Missing() {
			kept = append(kept, tp)
			continue
		}
		if _, ok := live[tp.OrderID]; ok {
			kept = append(kept, tp)
			continue
		}
		if drop.IsPositive() && explained.Add(tp.Quantity).LessThanOrEqual(drop.Add(slack)) {
			explained = explained.Add(tp.Quantity)
			m.TPHits++
			obs.Filled++
			continue
		}
		tp.OrderID, tp.LinkID = "", ""
		obs.MissingTPs++
		kept = append(kept, tp)
	}
	m.TPLadder = kept

	if m.SL != nil && !m.SL.Missing() {
		if _, ok := live[m.SL.OrderID]; !ok {
			m.SL.OrderID, m.SL.LinkID = "", ""
			obs.MissingSL = true
		}
	}

	book := orders.Split(m.Side, open)
	switch {
	case obs.Filled > 0 || m.TPHits > 0:
		m.Phase = models.PhaseProfitTaking
	case len(book.Entries) > 0:
		m.Phase = models.PhaseBuilding
	default:
		m.Phase = models.PhaseMonitoring
	}

	if size.GreaterThan(m.PositionSize) {
		m.PositionSize = size
	}
	m.RemainingSize = size
	if pos.EntryPrice.IsPositive() {
		m.EntryPrice = pos.EntryPrice
	}
	if pos.MarkPrice.IsPositive() {
		m.LastMarkPrice = pos.MarkPrice
	}
	return obs
}
