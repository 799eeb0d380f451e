package prices

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Freshness(t *testing.T) {
	now := time.Unix(100, 0)
	c := NewCache(5 * time.Second)
	c.now = func() time.Time { return now }

	c.Set("BTC-USDT-SWAP", decimal.NewFromInt(100), now)
	c.Set("ETH-USDT-SWAP", decimal.Zero, now)

	px, ok := c.Get("BTC-USDT-SWAP")
	require.True(t, ok)
	assert.True(t, px.Equal(decimal.NewFromInt(100)))
	_, ok = c.Get("ETH-USDT-SWAP")
	assert.False(t, ok)

	now = now.Add(6 * time.Second)
	_, ok = c.Get("BTC-USDT-SWAP")
	assert.False(t, ok)
	assert.Equal(t, 1, c.EvictStale())
	assert.Zero(t, c.Len())
}

func TestCache_OnJump(t *testing.T) {
	c := NewCache(time.Minute)
	var jumped []string
	c.OnJump(decimal.NewFromInt(1), func(s string) { jumped = append(jumped, s) })

	at := time.Now()
	c.Set("SOL", decimal.NewFromInt(100), at)
	c.Set("SOL", decimal.RequireFromString("100.5"), at)
	c.Set("SOL", decimal.RequireFromString("102"), at)

	assert.Equal(t, []string{"SOL"}, jumped)
}
