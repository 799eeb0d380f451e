// Package prices caches mark prices pushed by the websocket feed.
package prices

import (
	"sync"
	"time"

	"ladder_bot/internal/helper"

	"github.com/shopspring/decimal"
)

type entry struct {
	px decimal.Decimal
	at time.Time
}

// Cache maps instrument id to its latest mark price. Prices older than
// maxAge are not returned.
type Cache struct {
	mu     sync.RWMutex
	items  map[string]entry
	maxAge time.Duration
	now    func() time.Time

	// jumpPct and onJump let the owner react to sharp moves.
	jumpPct decimal.Decimal
	onJump  func(symbol string)
}

func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		items:  make(map[string]entry),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// OnJump registers fn to run when a symbol moves at least pct percent in one
// update. fn must not block.
func (c *Cache) OnJump(pct decimal.Decimal, fn func(symbol string)) {
	c.mu.Lock()
	c.jumpPct, c.onJump = pct, fn
	c.mu.Unlock()
}

func (c *Cache) Set(symbol string, px decimal.Decimal, at time.Time) {
	if !px.IsPositive() {
		return
	}
	c.mu.Lock()
	prev, had := c.items[symbol]
	c.items[symbol] = entry{px: px, at: at}
	fn, pct := c.onJump, c.jumpPct
	c.mu.Unlock()

	if !had || fn == nil || !pct.IsPositive() {
		return
	}
	if move, ok := helper.PctDistance(px, prev.px, prev.px); ok && move.GreaterThanOrEqual(pct) {
		fn(symbol)
	}
}

// Get returns a fresh price for symbol.
func (c *Cache) Get(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	e, ok := c.items[symbol]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.at) > c.maxAge {
		return decimal.Zero, false
	}
	return e.px, true
}

func (c *Cache) EvictStale() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.items {
		if now.Sub(e.at) > c.maxAge {
			delete(c.items, k)
			n++
		}
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
