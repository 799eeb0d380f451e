package exchange

import (
	"context"
	"sync"
	"time"

	"ladder_bot/internal/models"
)

type cachedInstrument struct {
	inst     models.Instrument
	loadedAt time.Time
}

// Caching keeps instrument metadata for ttl and passes every other call
// through untouched.
type Caching struct {
	Gateway
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]cachedInstrument
}

func NewCaching(next Gateway, ttl time.Duration) *Caching {
	return &Caching{
		Gateway: next,
		ttl:     ttl,
		now:     time.Now,
		items:   make(map[string]cachedInstrument),
	}
}

func (c *Caching) Instrument(ctx context.Context, symbol string) (models.Instrument, error) {
	c.mu.Lock()
	it, ok := c.items[symbol]
	c.mu.Unlock()
	if ok && c.now().Sub(it.loadedAt) < c.ttl {
		return it.inst, nil
	}

	inst, err := c.Gateway.Instrument(ctx, symbol)
	if err != nil {
		if ok {
			// stale metadata beats none
			return it.inst, nil
		}
		return models.Instrument{}, err
	}

	c.mu.Lock()
	c.items[symbol] = cachedInstrument{inst: inst, loadedAt: c.now()}
	c.mu.Unlock()
	return inst, nil
}

// EvictExpired drops entries older than ttl and returns how many went.
func (c *Caching) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, it := range c.items {
		if now.Sub(it.loadedAt) >= c.ttl {
			delete(c.items, k)
			n++
		}
	}
	return n
}
