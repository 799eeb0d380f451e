package orders

import (
	"sort"

	"ladder_bot/internal/models"
)

// Class is the typed role of one open order.
type Class struct {
	Role  Role
	Index int
	// ByLinkID is set when exchange metadata was not enough and the role was
	// taken from the link id.
	ByLinkID bool
}

// Classify uses exchange stop metadata first and the link id only as a fallback.
func Classify(o models.Order) Class {
	switch o.Kind {
	case models.KindTakeProfit:
		c := Class{Role: RoleTakeProfit}
		if id := ParseLinkID(o.LinkID); id != nil && id.Role == RoleTakeProfit {
			c.Index = id.Index
		}
		return c
	case models.KindStopLoss:
		return Class{Role: RoleStopLoss}
	case models.KindLimit:
		if !o.ReduceOnly {
			return Class{Role: RoleEntry}
		}
	}

	role, idx := GuessRoleFromLinkID(o.LinkID)
	if role == RoleUnknown {
		return Class{}
	}
	return Class{Role: role, Index: idx, ByLinkID: true}
}

// Book is the open orders of one position split by role.
type Book struct {
	TPs     []models.TpOrder
	SL      *models.SlOrder
	Entries []models.Order
	// Stray holds extra stops and unrecognised orders.
	Stray []models.Order
}

// Split classifies the open orders of a position. Orders of the other side are
// ignored. TPs come back sorted nearest-first. When several stops exist the
// largest one is kept as the SL.
func Split(side models.Side, open []models.Order) Book {
	var (
		b     Book
		stops []models.Order
	)
	for _, o := range open {
		if o.PosSide != "" && o.PosSide != side {
			continue
		}
		c := Classify(o)
		switch c.Role {
		case RoleTakeProfit:
			b.TPs = append(b.TPs, models.TpOrder{
				OrderID:      o.OrderID,
				LinkID:       o.LinkID,
				TriggerPrice: o.TriggerPrice,
				StopType:     o.StopType,
				Quantity:     o.Quantity,
				TPIndex:      c.Index,
			})
		case RoleStopLoss:
			stops = append(stops, o)
		case RoleEntry:
			b.Entries = append(b.Entries, o)
		default:
			b.Stray = append(b.Stray, o)
		}
	}
	models.SortLadder(side, b.TPs)

	if len(stops) > 0 {
		sort.SliceStable(stops, func(i, j int) bool {
			return stops[i].Quantity.GreaterThan(stops[j].Quantity)
		})
		s := stops[0]
		b.SL = &models.SlOrder{
			OrderID:      s.OrderID,
			LinkID:       s.LinkID,
			TriggerPrice: s.TriggerPrice,
			StopType:     s.StopType,
			Quantity:     s.Quantity,
		}
		b.Stray = append(b.Stray, stops[1:]...)
	}
	return b
}

// IDs returns the set of order ids in open.
func IDs(open []models.Order) map[string]struct{} {
	out := make(map[string]struct{}, len(open))
	for _, o := range open {
		out[o.OrderID] = struct{}{}
	}
	return out
}
