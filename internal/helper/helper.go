package helper

import (
	"github.com/shopspring/decimal"
)

func RoundDownToTick(px, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return px
	}
	return px.Div(tick).Floor().Mul(tick)
}

func RoundUpToTick(px, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return px
	}
	return px.Div(tick).Ceil().Mul(tick)
}

// FloorToStep floors a quantity to the lot step; non-positive step leaves it as is.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	return RoundDownToTick(qty, step)
}

func MaxDec(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func MinDec(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// PctDistance returns |a-b|/ref in percent, or false when ref is not positive.
func PctDistance(a, b, ref decimal.Decimal) (decimal.Decimal, bool) {
	if !ref.IsPositive() {
		return decimal.Zero, false
	}
	return a.Sub(b).Abs().Div(ref).Mul(decimal.NewFromInt(100)), true
}
