package scheduler

import (
	"time"

	"ladder_bot/internal/helper"
	"ladder_bot/internal/models"

	"github.com/shopspring/decimal"
)

// Tier is how soon a monitor must be looked at again. Lower is more urgent.
type Tier int

const (
	TierCritical Tier = iota
	TierActive
	TierStandard
	TierInactive
	TierIdle
)

var tierNames = [...]string{"critical", "active", "standard", "inactive", "idle"}

func (t Tier) String() string {
	if t < TierCritical || t > TierIdle {
		return "unknown"
	}
	return tierNames[t]
}

// Tiers maps the distance to the nearest trigger (percent of price) to a
// tier and each tier to a poll interval.
type Tiers struct {
	CriticalPct decimal.Decimal
	ActivePct   decimal.Decimal
	StandardPct decimal.Decimal
	InactivePct decimal.Decimal

	Critical time.Duration
	Active   time.Duration
	Standard time.Duration
	Inactive time.Duration
	Idle     time.Duration
}

func DefaultTiers() Tiers {
	return Tiers{
		CriticalPct: decimal.RequireFromString("0.25"),
		ActivePct:   decimal.RequireFromString("0.75"),
		StandardPct: decimal.NewFromInt(2),
		InactivePct: decimal.NewFromInt(5),

		Critical: 2 * time.Second,
		Active:   5 * time.Second,
		Standard: 12 * time.Second,
		Inactive: 30 * time.Second,
		Idle:     60 * time.Second,
	}
}

// Classify never gets less urgent as the price approaches a trigger.
// BUILDING is at least active, PROFIT_TAKING is one tier more urgent than
// its distance alone, CLOSED is idle. Without a price the monitor is standard.
func (t Tiers) Classify(m *models.PositionMonitor, px decimal.Decimal) Tier {
	if m.Closed() {
		return TierIdle
	}

	tier := TierStandard
	if trig, ok := m.NearestTrigger(px); ok && px.IsPositive() {
		dist, _ := helper.PctDistance(px, trig, px)
		tier = t.byDistance(dist)
	}

	switch m.Phase {
	case models.PhaseBuilding:
		if tier > TierActive {
			tier = TierActive
		}
	case models.PhaseProfitTaking:
		if tier > TierCritical {
			tier--
		}
	}
	return tier
}

func (t Tiers) byDistance(pct decimal.Decimal) Tier {
	switch {
	case pct.LessThanOrEqual(t.CriticalPct):
		return TierCritical
	case pct.LessThanOrEqual(t.ActivePct):
		return TierActive
	case pct.LessThanOrEqual(t.StandardPct):
		return TierStandard
	case pct.LessThanOrEqual(t.InactivePct):
		return TierInactive
	default:
		return TierIdle
	}
}

func (t Tiers) Interval(tier Tier) time.Duration {
	switch tier {
	case TierCritical:
		return t.Critical
	case TierActive:
		return t.Active
	case TierStandard:
		return t.Standard
	case TierInactive:
		return t.Inactive
	default:
		return t.Idle
	}
}
