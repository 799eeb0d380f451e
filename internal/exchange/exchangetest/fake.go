// Package exchangetest provides an in-memory exchange.Gateway for tests.
package exchangetest

import (
	"context"
	"strconv"
	"sync"

	"ladder_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Calls counts gateway requests by kind.
type Calls struct {
	Positions  int
	OpenOrders int
	Place      int
	Cancel     int
	Equity     int
	Instrument int
}

// Fake keeps positions and open orders per account. Hooks, when set, run
// before the default behaviour and can fail a call.
type Fake struct {
	mu sync.Mutex

	positions   map[models.Account][]models.Position
	orders      map[models.Account][]models.Order
	equity      map[models.Account]decimal.Decimal
	instruments map[string]models.Instrument
	nextID      int
	calls       Calls
	placed      []models.PlaceParams

	PlaceHook  func(p models.PlaceParams) error
	CancelHook func(account models.Account, orderID string) (bool, error)
	ReadHook   func(op string, account models.Account) error
}

func New() *Fake {
	return &Fake{
		positions:   make(map[models.Account][]models.Position),
		orders:      make(map[models.Account][]models.Order),
		equity:      make(map[models.Account]decimal.Decimal),
		instruments: make(map[string]models.Instrument),
	}
}

// SetPosition adds or replaces a position; zero size removes it.
func (f *Fake) SetPosition(p models.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.positions[p.Account][:0:0]
	for _, cur := range f.positions[p.Account] {
		if cur.Symbol == p.Symbol && cur.Side == p.Side {
			continue
		}
		list = append(list, cur)
	}
	if !p.Size.IsZero() {
		list = append(list, p)
	}
	f.positions[p.Account] = list
}

// AddOrder seeds an open order and returns its id.
func (f *Fake) AddOrder(o models.Order) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if o.OrderID == "" {
		o.OrderID = f.newID()
	}
	f.orders[o.Account] = append(f.orders[o.Account], o)
	return o.OrderID
}

// Fill removes an open order as if it executed.
func (f *Fake) Fill(account models.Account, orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove(account, orderID)
}

func (f *Fake) SetEquity(account models.Account, eq decimal.Decimal) {
	f.mu.Lock()
	f.equity[account] = eq
	f.mu.Unlock()
}

func (f *Fake) SetInstrument(inst models.Instrument) {
	f.mu.Lock()
	f.instruments[inst.Symbol] = inst
	f.mu.Unlock()
}

func (f *Fake) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) ResetCalls() {
	f.mu.Lock()
	f.calls = Calls{}
	f.placed = nil
	f.mu.Unlock()
}

// Placed returns every successful place request in order.
func (f *Fake) Placed() []models.PlaceParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PlaceParams(nil), f.placed...)
}

// Orders returns a copy of the open orders of an account.
func (f *Fake) Orders(account models.Account) []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Order(nil), f.orders[account]...)
}

func (f *Fake) Positions(_ context.Context, account models.Account) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls.Positions++
	if err := f.read("positions", account); err != nil {
		return nil, err
	}
	return append([]models.Position(nil), f.positions[account]...), nil
}

func (f *Fake) OpenOrders(_ context.Context, symbol string, account models.Account) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls.OpenOrders++
	if err := f.read("open_orders", account); err != nil {
		return nil, err
	}
	var out []models.Order
	for _, o := range f.orders[account] {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *Fake) PlaceOrder(_ context.Context, p models.PlaceParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls.Place++
	if f.PlaceHook != nil {
		if err := f.PlaceHook(p); err != nil {
			return "", err
		}
	}
	id := f.newID()
	f.orders[p.Account] = append(f.orders[p.Account], models.Order{
		Account:      p.Account,
		Symbol:       p.Symbol,
		OrderID:      id,
		LinkID:       p.LinkID,
		Kind:         p.Kind,
		PosSide:      p.PosSide,
		TriggerPrice: p.TriggerPrice,
		StopType:     p.StopType,
		Quantity:     p.Quantity,
		ReduceOnly:   p.ReduceOnly,
	})
	f.placed = append(f.placed, p)
	return id, nil
}

func (f *Fake) CancelOrder(_ context.Context, account models.Account, _ string, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls.Cancel++
	if f.CancelHook != nil {
		ok, err := f.CancelHook(account, orderID)
		if err != nil || !ok {
			return ok, err
		}
	}
	return f.remove(account, orderID), nil
}

func (f *Fake) Equity(_ context.Context, account models.Account) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls.Equity++
	if err := f.read("equity", account); err != nil {
		return decimal.Zero, err
	}
	eq, ok := f.equity[account]
	if !ok {
		return decimal.Zero, errors.Errorf("no equity for %s", account)
	}
	return eq, nil
}

func (f *Fake) Instrument(_ context.Context, symbol string) (models.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls.Instrument++
	inst, ok := f.instruments[symbol]
	if !ok {
		return models.Instrument{Symbol: symbol}, nil
	}
	return inst, nil
}

func (f *Fake) read(op string, account models.Account) error {
	if f.ReadHook == nil {
		return nil
	}
	return f.ReadHook(op, account)
}

func (f *Fake) remove(account models.Account, orderID string) bool {
	list := f.orders[account]
	for i, o := range list {
		if o.OrderID == orderID {
			f.orders[account] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Fake) newID() string {
	f.nextID++
	return "ord" + strconv.Itoa(f.nextID)
}
