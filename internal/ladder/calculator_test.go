package ladder

import (
	"testing"

	"ladder_bot/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDecs(t *testing.T, want []string, got []decimal.Decimal) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Truef(t, d(want[i]).Equal(got[i]), "level %d: want %s got %s", i, want[i], got[i])
	}
}

func TestTargets_FreshLadder(t *testing.T) {
	c := NewCalculator(nil)
	got := c.Targets(d("1000"), models.PhaseMonitoring, 0)
	requireDecs(t, []string{"850", "50", "50", "50"}, got)
}

func TestTargets_AfterFirstHit(t *testing.T) {
	c := NewCalculator(nil)
	got := c.Targets(d("150"), models.PhaseProfitTaking, 1)
	requireDecs(t, []string{"50", "50", "50"}, got)
}

func TestTargets_ReweightingLaw(t *testing.T) {
	c := NewCalculator(nil)
	for k := 0; k < c.Levels(); k++ {
		got := c.Targets(d("77.7"), models.PhaseProfitTaking, k)
		require.Len(t, got, c.Levels()-k)
		assert.True(t, decimal.Sum(decimal.Zero, got...).Equal(d("77.7")), "k=%d", k)
		if k > 0 {
			for i := 2; i < len(got); i++ {
				assert.True(t, got[i].Equal(got[1]), "k=%d evenly weighted", k)
			}
		}
	}
	assert.Empty(t, c.Targets(d("10"), models.PhaseProfitTaking, c.Levels()))
}

func TestTargets_ClosedOrEmpty(t *testing.T) {
	c := NewCalculator(nil)
	assert.Nil(t, c.Targets(d("100"), models.PhaseClosed, 0))
	assert.Nil(t, c.Targets(decimal.Zero, models.PhaseMonitoring, 0))
	assert.Nil(t, c.Targets(d("-1"), models.PhaseMonitoring, 0))
}

func TestTargets_RemainderGoesToFirst(t *testing.T) {
	c := NewCalculator(nil)
	got := c.Targets(d("1"), models.PhaseProfitTaking, 1)
	require.Len(t, got, 3)
	assert.True(t, got[1].Equal(d("0.33333333")))
	assert.True(t, got[0].Equal(d("0.33333334")))
}

func TestNewCalculator_NormalisesWeights(t *testing.T) {
	c := NewCalculator([]float64{2, 1, 1})
	requireDecs(t, []string{"50", "25", "25"}, c.Targets(d("100"), models.PhaseMonitoring, 0))

	c = NewCalculator([]float64{1, 0})
	assert.Equal(t, len(DefaultWeights), c.Levels())
}

func TestEven(t *testing.T) {
	c := NewCalculator(nil)
	requireDecs(t, []string{"33.33333334", "33.33333333", "33.33333333"}, c.Even(d("100"), 3))
	assert.Nil(t, c.Even(d("100"), 0))
}

func TestSLTarget(t *testing.T) {
	c := NewCalculator(nil)
	assert.True(t, c.SLTarget(d("150")).Equal(d("150")))
	assert.True(t, c.SLTarget(d("-3")).IsZero())
}

func TestApplyLotStep(t *testing.T) {
	inst := models.Instrument{LotSz: d("1"), MinSz: d("1")}
	got := ApplyLotStep([]decimal.Decimal{d("33.4"), d("33.3"), d("33.3")}, inst)
	requireDecs(t, []string{"34", "33", "33"}, got)

	got = ApplyLotStep([]decimal.Decimal{d("9.5"), d("0.5")}, inst)
	requireDecs(t, []string{"10", "0"}, got)

	assert.Nil(t, ApplyLotStep(nil, inst))
}

func TestTolerance(t *testing.T) {
	tol := Tolerance{MinQty: d("1"), Pct: d("1")}
	assert.True(t, d("10").Equal(tol.Threshold(d("1000"), d("0.1"))))
	assert.True(t, tol.WithinTolerance(d("1005"), d("1000"), d("1000"), d("1")))
	assert.False(t, tol.WithinTolerance(d("1000"), d("150"), d("150"), d("1")))
	assert.True(t, tol.WithinTolerance(d("50"), d("50"), d("150"), d("1")))
	assert.False(t, Tolerance{}.WithinTolerance(d("1"), d("2"), d("2"), decimal.Zero))
}

func TestDefaultStopPrice(t *testing.T) {
	assert.True(t, d("92.5").Equal(DefaultStopPrice(d("100"), models.SideLong, d("7.5"), d("0.1"))))
	assert.True(t, d("107.5").Equal(DefaultStopPrice(d("100"), models.SideShort, d("7.5"), d("0.1"))))
	// tick rounding toward the entry
	assert.True(t, d("92.6").Equal(DefaultStopPrice(d("100.1"), models.SideLong, d("7.5"), d("0.1"))))
	assert.True(t, d("107.6").Equal(DefaultStopPrice(d("100.1"), models.SideShort, d("7.5"), d("0.1"))))
	assert.True(t, DefaultStopPrice(decimal.Zero, models.SideLong, d("7.5"), d("0.1")).IsZero())
}
