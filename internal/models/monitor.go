package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Phase of a position monitor lifecycle.
type Phase string

const (
	PhaseBuilding     Phase = "BUILDING"
	PhaseMonitoring   Phase = "MONITORING"
	PhaseProfitTaking Phase = "PROFIT_TAKING"
	PhaseClosed       Phase = "CLOSED"
)

// PositionMonitor tracks the protective orders of one position on one account.
type PositionMonitor struct {
	Symbol  string  `json:"symbol"`
	Side    Side    `json:"side"`
	Account Account `json:"account"`

	PositionSize  decimal.Decimal `json:"position_size"`
	RemainingSize decimal.Decimal `json:"remaining_size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	LastMarkPrice decimal.Decimal `json:"last_mark_price"`

	TPLadder []TpOrder `json:"tp_ladder"`
	SL       *SlOrder  `json:"sl_order,omitempty"`
	TPHits   int       `json:"tp_hits"`

	Phase        Phase           `json:"phase"`
	AccountRatio decimal.Decimal `json:"account_ratio"`

	// Recovered marks monitors reconstructed from exchange state.
	Recovered   bool      `json:"recovered"`
	RecoveredAt time.Time `json:"recovered_at,omitempty"`

	LastError     string    `json:"last_error,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (m *PositionMonitor) Key() MonitorKey {
	return NewKey(m.Symbol, m.Side, m.Account)
}

// Clone returns a deep copy; monitors leave the store only as copies.
func (m *PositionMonitor) Clone() *PositionMonitor {
	if m == nil {
		return nil
	}
	c := *m
	if m.TPLadder != nil {
		c.TPLadder = make([]TpOrder, len(m.TPLadder))
		copy(c.TPLadder, m.TPLadder)
	}
	if m.SL != nil {
		sl := *m.SL
		c.SL = &sl
	}
	return &c
}

// TPSum returns the total quantity of live ladder levels.
func (m *PositionMonitor) TPSum() decimal.Decimal {
	sum := decimal.Zero
	for _, tp := range m.TPLadder {
		if tp.Missing() {
			continue
		}
		sum = sum.Add(tp.Quantity)
	}
	return sum
}

func (m *PositionMonitor) Closed() bool { return m.Phase == PhaseClosed }

// SortLadder orders TPs nearest-to-be-hit first: ascending trigger for long,
// descending for short.
func SortLadder(side Side, ladder []TpOrder) {
	sort.SliceStable(ladder, func(i, j int) bool {
		if side == SideShort {
			return ladder[i].TriggerPrice.GreaterThan(ladder[j].TriggerPrice)
		}
		return ladder[i].TriggerPrice.LessThan(ladder[j].TriggerPrice)
	})
}

// NearestTrigger returns the trigger price (TP or SL) closest to px.
func (m *PositionMonitor) NearestTrigger(px decimal.Decimal) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		dist  decimal.Decimal
		found bool
	)
	consider := func(tr decimal.Decimal) {
		if !tr.IsPositive() {
			return
		}
		d := tr.Sub(px).Abs()
		if !found || d.LessThan(dist) {
			best, dist, found = tr, d, true
		}
	}
	for _, tp := range m.TPLadder {
		consider(tp.TriggerPrice)
	}
	if m.SL != nil {
		consider(m.SL.TriggerPrice)
	}
	return best, found
}
