package models

import "github.com/shopspring/decimal"

// Instrument holds the trading rules needed to round quantities and prices.
type Instrument struct {
	Symbol string
	LotSz  decimal.Decimal
	MinSz  decimal.Decimal
	TickSz decimal.Decimal
	CtVal  decimal.Decimal
}
