package scheduler

import (
	"context"
	"sync"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/models"
)

type memo[T any] struct {
	once sync.Once
	v    T
	err  error
}

type ordersKey struct {
	symbol  string
	account models.Account
}

// batch memoizes exchange reads for one cycle: positions once per account,
// open orders once per (symbol, account).
type batch struct {
	gw exchange.Gateway

	mu        sync.Mutex
	positions map[models.Account]*memo[[]models.Position]
	orders    map[ordersKey]*memo[[]models.Order]
}

func newBatch(gw exchange.Gateway) *batch {
	return &batch{
		gw:        gw,
		positions: make(map[models.Account]*memo[[]models.Position]),
		orders:    make(map[ordersKey]*memo[[]models.Order]),
	}
}

func (b *batch) Positions(ctx context.Context, account models.Account) ([]models.Position, error) {
	b.mu.Lock()
	m, ok := b.positions[account]
	if !ok {
		m = &memo[[]models.Position]{}
		b.positions[account] = m
	}
	b.mu.Unlock()

	m.once.Do(func() { m.v, m.err = b.gw.Positions(ctx, account) })
	return m.v, m.err
}

// Position returns the live position for key, nil when there is none.
func (b *batch) Position(ctx context.Context, key models.MonitorKey) (*models.Position, error) {
	list, err := b.Positions(ctx, key.Account)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Symbol == key.Symbol && list[i].Side == key.Side {
			p := list[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (b *batch) OpenOrders(ctx context.Context, symbol string, account models.Account) ([]models.Order, error) {
	k := ordersKey{symbol: symbol, account: account}
	b.mu.Lock()
	m, ok := b.orders[k]
	if !ok {
		m = &memo[[]models.Order]{}
		b.orders[k] = m
	}
	b.mu.Unlock()

	m.once.Do(func() { m.v, m.err = b.gw.OpenOrders(ctx, symbol, account) })
	return m.v, m.err
}
