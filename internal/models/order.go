package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind is the exchange-native classification of an open order.
type OrderKind string

const (
	KindUnknown    OrderKind = ""
	KindTakeProfit OrderKind = "take_profit"
	KindStopLoss   OrderKind = "stop_loss"
	KindLimit      OrderKind = "limit"
)

// StopType is the price feed a conditional order triggers on (OKX triggerPxType).
type StopType string

const (
	StopLast  StopType = "last"
	StopMark  StopType = "mark"
	StopIndex StopType = "index"
)

// Position: live position as reported by the exchange.
type Position struct {
	Account    Account
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	UpdatedAt  time.Time
}

func (p Position) Key() MonitorKey {
	return NewKey(p.Symbol, p.Side, p.Account)
}

// Order: live open order as reported by the exchange.
type Order struct {
	Account      Account
	Symbol       string
	OrderID      string
	LinkID       string
	Kind         OrderKind
	PosSide      Side
	TriggerPrice decimal.Decimal
	StopType     StopType
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	ReduceOnly   bool
}

// PlaceParams describes one conditional reduce-only order to place.
type PlaceParams struct {
	Account      Account
	Symbol       string
	PosSide      Side
	Kind         OrderKind
	TriggerPrice decimal.Decimal
	StopType     StopType
	Quantity     decimal.Decimal
	LinkID       string
	ReduceOnly   bool
}

// TpOrder: one take-profit level of a ladder.
type TpOrder struct {
	OrderID      string          `json:"order_id"`
	LinkID       string          `json:"link_id"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	StopType     StopType        `json:"stop_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	TPIndex      int             `json:"tp_index"`
}

// Missing reports whether the level has no live order behind it.
func (o TpOrder) Missing() bool { return o.OrderID == "" }

// SlOrder: the stop-loss covering the whole remaining size.
type SlOrder struct {
	OrderID      string          `json:"order_id"`
	LinkID       string          `json:"link_id"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	StopType     StopType        `json:"stop_type"`
	Quantity     decimal.Decimal `json:"quantity"`
}

func (o SlOrder) Missing() bool { return o.OrderID == "" }
