package exchange

import (
	"context"

	"ladder_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Accounts routes Gateway calls to the client of the requested account.
// Public data (instruments) is read through the primary client.
type Accounts struct {
	clients map[models.Account]AccountClient
}

// NewAccounts; mirror may be nil when no mirror account is configured.
func NewAccounts(primary, mirror AccountClient) *Accounts {
	a := &Accounts{clients: map[models.Account]AccountClient{models.AccountPrimary: primary}}
	if mirror != nil {
		a.clients[models.AccountMirror] = mirror
	}
	return a
}

func (a *Accounts) Has(account models.Account) bool {
	_, ok := a.clients[account]
	return ok
}

// List returns configured accounts, primary first.
func (a *Accounts) List() []models.Account {
	out := []models.Account{models.AccountPrimary}
	if a.Has(models.AccountMirror) {
		out = append(out, models.AccountMirror)
	}
	return out
}

func (a *Accounts) client(account models.Account) (AccountClient, error) {
	c, ok := a.clients[account]
	if !ok || c == nil {
		return nil, errors.Wrapf(ErrUnknownAccount, "%q", account)
	}
	return c, nil
}

func (a *Accounts) Positions(ctx context.Context, account models.Account) ([]models.Position, error) {
	c, err := a.client(account)
	if err != nil {
		return nil, err
	}
	pos, err := c.Positions(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "positions %s", account)
	}
	for i := range pos {
		pos[i].Account = account
	}
	return pos, nil
}

func (a *Accounts) OpenOrders(ctx context.Context, symbol string, account models.Account) ([]models.Order, error) {
	c, err := a.client(account)
	if err != nil {
		return nil, err
	}
	ords, err := c.OpenOrders(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "open orders %s %s", symbol, account)
	}
	for i := range ords {
		ords[i].Account = account
	}
	return ords, nil
}

func (a *Accounts) PlaceOrder(ctx context.Context, p models.PlaceParams) (string, error) {
	c, err := a.client(p.Account)
	if err != nil {
		return "", err
	}
	id, err := c.PlaceOrder(ctx, p)
	if err != nil {
		return "", errors.Wrapf(err, "place %s %s %s", p.Symbol, p.Account, p.LinkID)
	}
	return id, nil
}

func (a *Accounts) CancelOrder(ctx context.Context, account models.Account, symbol, orderID string) (bool, error) {
	c, err := a.client(account)
	if err != nil {
		return false, err
	}
	ok, err := c.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		return false, errors.Wrapf(err, "cancel %s %s %s", symbol, account, orderID)
	}
	return ok, nil
}

func (a *Accounts) Equity(ctx context.Context, account models.Account) (decimal.Decimal, error) {
	c, err := a.client(account)
	if err != nil {
		return decimal.Zero, err
	}
	eq, err := c.Equity(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "equity %s", account)
	}
	return eq, nil
}

func (a *Accounts) Instrument(ctx context.Context, symbol string) (models.Instrument, error) {
	c, err := a.client(models.AccountPrimary)
	if err != nil {
		return models.Instrument{}, err
	}
	inst, err := c.Instrument(ctx, symbol)
	if err != nil {
		return models.Instrument{}, errors.Wrapf(err, "instrument %s", symbol)
	}
	return inst, nil
}
