package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"ladder_bot/internal/exchange/exchangetest"
	"ladder_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type priceRecorder struct {
	mu  sync.Mutex
	got map[string]decimal.Decimal
}

func (p *priceRecorder) Set(symbol string, px decimal.Decimal, _ time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.got == nil {
		p.got = make(map[string]decimal.Decimal)
	}
	p.got[symbol] = px
}

type notes struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notes) Notify(_ context.Context, _ models.Account, msg string) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
	return nil
}

func pos(acc models.Account, symbol, mark string) models.Position {
	return models.Position{
		Account: acc, Symbol: symbol, Side: models.SideLong,
		Size: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100),
		MarkPrice: decimal.RequireFromString(mark), UpdatedAt: time.Now(),
	}
}

func TestWarmup(t *testing.T) {
	fake := exchangetest.New()
	fake.SetPosition(pos(models.AccountPrimary, "BTC-USDT-SWAP", "101"))
	fake.SetPosition(pos(models.AccountPrimary, "ETH-USDT-SWAP", "0"))
	fake.SetPosition(pos(models.AccountMirror, "BTC-USDT-SWAP", "101"))
	fake.SetInstrument(models.Instrument{Symbol: "BTC-USDT-SWAP", LotSz: decimal.NewFromInt(1), MinSz: decimal.NewFromInt(1), TickSz: decimal.RequireFromString("0.1"), CtVal: decimal.NewFromInt(1)})
	fake.SetInstrument(models.Instrument{Symbol: "ETH-USDT-SWAP", LotSz: decimal.NewFromInt(1), MinSz: decimal.NewFromInt(1), TickSz: decimal.RequireFromString("0.01"), CtVal: decimal.NewFromInt(1)})

	px := &priceRecorder{}
	n := &notes{}
	w := NewWarmuper(fake, []models.Account{models.AccountPrimary, models.AccountMirror}, px, n, 2, zaptest.NewLogger(t))

	res, err := w.Warmup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Positions)
	assert.Equal(t, 2, res.Symbols)
	assert.Equal(t, 2, res.Instruments)
	assert.Empty(t, res.Failed)
	assert.Equal(t, 2, fake.Calls().Instrument)

	require.Len(t, px.got, 1, "zero mark price is not seeded")
	assert.True(t, px.got["BTC-USDT-SWAP"].Equal(decimal.NewFromInt(101)))
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0], "2 instruments")
}

func TestWarmup_PositionsError(t *testing.T) {
	fake := exchangetest.New()
	fake.ReadHook = func(op string, acc models.Account) error {
		if acc == models.AccountMirror {
			return errors.New("timeout")
		}
		return nil
	}
	w := NewWarmuper(fake, []models.Account{models.AccountPrimary, models.AccountMirror}, nil, nil, 0, zaptest.NewLogger(t))
	_, err := w.Warmup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror")
}

func TestSymbols(t *testing.T) {
	got := Symbols([]models.Position{
		pos(models.AccountMirror, "SOL-USDT-SWAP", "1"),
		pos(models.AccountPrimary, "BTC-USDT-SWAP", "1"),
		pos(models.AccountPrimary, "SOL-USDT-SWAP", "1"),
	})
	assert.Equal(t, []string{"BTC-USDT-SWAP", "SOL-USDT-SWAP"}, got)
}
