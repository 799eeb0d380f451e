// Package ladder computes target quantities for a TP ladder and its stop-loss.
// Everything here is pure: no I/O, no shared state.
package ladder

import (
	"ladder_bot/internal/helper"
	"ladder_bot/internal/models"

	"github.com/shopspring/decimal"
)

// qtyPrecision is the number of decimal places kept before lot-step rounding.
const qtyPrecision int32 = 8

var DefaultWeights = []float64{0.85, 0.05, 0.05, 0.05}

type Calculator struct {
	weights []decimal.Decimal
	sum     decimal.Decimal
}

// NewCalculator keeps the relative weights of the levels. Empty or
// non-positive input falls back to DefaultWeights.
func NewCalculator(weights []float64) *Calculator {
	if !validWeights(weights) {
		weights = DefaultWeights
	}
	c := &Calculator{weights: make([]decimal.Decimal, len(weights)), sum: decimal.Zero}
	for i, w := range weights {
		c.weights[i] = decimal.NewFromFloat(w)
		c.sum = c.sum.Add(c.weights[i])
	}
	return c
}

func validWeights(ws []float64) bool {
	if len(ws) == 0 {
		return false
	}
	for _, w := range ws {
		if w <= 0 {
			return false
		}
	}
	return true
}

// Levels is the number of TP levels of a fresh ladder.
func (c *Calculator) Levels() int { return len(c.weights) }

// Targets returns TP quantities for the ladder levels still open, nearest first.
// With no hits the configured weights apply; after k hits the remaining
// levels share the remaining size evenly. The first level absorbs rounding.
func (c *Calculator) Targets(remaining decimal.Decimal, phase models.Phase, tpHits int) []decimal.Decimal {
	if phase == models.PhaseClosed || !remaining.IsPositive() {
		return nil
	}
	if tpHits < 0 {
		tpHits = 0
	}
	levels := len(c.weights) - tpHits
	if levels <= 0 {
		return nil
	}
	if tpHits == 0 {
		return split(remaining, c.weights, c.sum)
	}
	return c.Even(remaining, levels)
}

// Even splits remaining into n equal levels.
func (c *Calculator) Even(remaining decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 || !remaining.IsPositive() {
		return nil
	}
	ws := make([]decimal.Decimal, n)
	for i := range ws {
		ws[i] = decimal.NewFromInt(1)
	}
	return split(remaining, ws, decimal.NewFromInt(int64(n)))
}

// SLTarget: the stop always covers the whole remaining size.
func (c *Calculator) SLTarget(remaining decimal.Decimal) decimal.Decimal {
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// split multiplies before dividing so even shares of round totals stay exact.
func split(total decimal.Decimal, weights []decimal.Decimal, sum decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	rest := decimal.Zero
	for i := 1; i < len(weights); i++ {
		out[i] = total.Mul(weights[i]).Div(sum).Truncate(qtyPrecision)
		rest = rest.Add(out[i])
	}
	out[0] = total.Sub(rest)
	return out
}

// ApplyLotStep rounds every level but the first down to the lot step. Levels
// under the minimum size become zero; the first level takes whatever is left
// so the total is unchanged.
func ApplyLotStep(targets []decimal.Decimal, inst models.Instrument) []decimal.Decimal {
	if len(targets) == 0 {
		return nil
	}
	out := make([]decimal.Decimal, len(targets))
	total := decimal.Sum(decimal.Zero, targets...)
	rest := decimal.Zero
	for i := 1; i < len(targets); i++ {
		q := helper.FloorToStep(targets[i], inst.LotSz)
		if inst.MinSz.IsPositive() && q.LessThan(inst.MinSz) {
			q = decimal.Zero
		}
		out[i] = q
		rest = rest.Add(q)
	}
	out[0] = total.Sub(rest)
	if out[0].IsNegative() {
		out[0] = decimal.Zero
	}
	return out
}

// Tolerance decides when a quantity drift is too small to act on.
type Tolerance struct {
	MinQty decimal.Decimal
	Pct    decimal.Decimal // percent of position size
}

// Threshold is max(MinQty, step, Pct% of size).
func (t Tolerance) Threshold(size, step decimal.Decimal) decimal.Decimal {
	th := helper.MaxDec(t.MinQty, step)
	if t.Pct.IsPositive() {
		th = helper.MaxDec(th, size.Abs().Mul(t.Pct).Div(decimal.NewFromInt(100)))
	}
	return th
}

// WithinTolerance reports whether current may stay as it is.
func (t Tolerance) WithinTolerance(current, target, size, step decimal.Decimal) bool {
	return current.Sub(target).Abs().LessThan(t.Threshold(size, step))
}

// DefaultStopPrice places a stop riskPct percent away from entry: below for
// long, above for short. Tick rounding goes toward the entry.
func DefaultStopPrice(entry decimal.Decimal, side models.Side, riskPct, tick decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	frac := riskPct.Div(decimal.NewFromInt(100))
	one := decimal.NewFromInt(1)
	if side == models.SideShort {
		return helper.RoundDownToTick(entry.Mul(one.Add(frac)), tick)
	}
	return helper.RoundUpToTick(entry.Mul(one.Sub(frac)), tick)
}
