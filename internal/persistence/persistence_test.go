package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ladder_bot/internal/models"
	"ladder_bot/internal/store"
	"ladder_bot/pkg/db"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sample(symbol string, account models.Account, remaining string) *models.PositionMonitor {
	return &models.PositionMonitor{
		Symbol: symbol, Side: models.SideLong, Account: account,
		PositionSize: d("1000"), RemainingSize: d(remaining), EntryPrice: d("100.5"),
		Phase:  models.PhaseProfitTaking,
		TPHits: 1,
		TPLadder: []models.TpOrder{
			{OrderID: "1", LinkID: "TP2rb0123456789abcdef", TriggerPrice: d("120"), StopType: models.StopMark, Quantity: d("50"), TPIndex: 2},
		},
		SL:        &models.SlOrder{OrderID: "2", TriggerPrice: d("92.5"), StopType: models.StopLast, Quantity: d(remaining)},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newLayer(t *testing.T, st *store.Store) (*Layer, *File) {
	f := NewFile(filepath.Join(t.TempDir(), "state", "monitors.json"))
	return NewLayer(f, st, time.Hour, nil, zaptest.NewLogger(t)), f
}

func TestEncodeDecode_KeepsMonitor(t *testing.T) {
	m := sample("BTC-USDT-SWAP", models.AccountMirror, "150")
	b, err := Encode([]*models.PositionMonitor{m}, time.Unix(100, 0))
	require.NoError(t, err)

	dec, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, dec.Monitors, 1)
	got := dec.Monitors[0]
	assert.Equal(t, m.Key(), got.Key())
	assert.True(t, got.RemainingSize.Equal(d("150")))
	assert.True(t, got.TPLadder[0].TriggerPrice.Equal(d("120")))
	assert.Equal(t, models.StopMark, got.TPLadder[0].StopType)
	assert.Equal(t, 1, got.TPHits)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, dec.SavedAt.Equal(time.Unix(100, 0)))
}

func TestDecode_RejectsLegacyAndMismatchedKeys(t *testing.T) {
	raw := `{"version":1,"saved_at":"2026-01-01T00:00:00Z","monitors":{
		"BTC-USDT-SWAP_long_primary":{"symbol":"BTC-USDT-SWAP","side":"long","account":"primary","remaining_size":"10"},
		"ETH-USDT-SWAP_long":{"symbol":"ETH-USDT-SWAP","side":"long","account":"primary","remaining_size":"10"},
		"SOL-USDT-SWAP_long_mirror":{"symbol":"SOL-USDT-SWAP","side":"long","account":"primary","remaining_size":"10"}
	}}`
	dec, err := Decode([]byte(raw))
	require.NoError(t, err)
	require.Len(t, dec.Monitors, 1)
	assert.Equal(t, "BTC-USDT-SWAP", dec.Monitors[0].Symbol)
	assert.Equal(t, []string{"ETH-USDT-SWAP_long", "SOL-USDT-SWAP_long_mirror"}, dec.Rejected)
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	_, err := Decode([]byte(`{"version":2,"monitors":{}}`))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))

	_, err = Decode([]byte(`{"BTC_long": {}}`))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion), "unversioned legacy file")
}

func TestLayer_SaveAndReloadPrefersMemory(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	require.NoError(t, st.Insert(sample("BTC-USDT-SWAP", models.AccountPrimary, "150")))
	require.NoError(t, st.Insert(sample("ETH-USDT-SWAP", models.AccountPrimary, "400")))

	l, f := newLayer(t, st)
	require.NoError(t, l.Save(ctx))
	assert.False(t, l.Dirty())

	// a restarted process already rebalanced BTC before the reload arrived
	fresh := store.New()
	require.NoError(t, fresh.Insert(sample("BTC-USDT-SWAP", models.AccountPrimary, "90")))
	l2 := NewLayer(f, fresh, time.Hour, nil, zaptest.NewLogger(t))

	added, err := l2.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, fresh.Len())

	btc, _ := fresh.Get(models.NewKey("BTC-USDT-SWAP", models.SideLong, models.AccountPrimary))
	assert.True(t, btc.RemainingSize.Equal(d("90")), "in-memory copy wins")
	eth, _ := fresh.Get(models.NewKey("ETH-USDT-SWAP", models.SideLong, models.AccountPrimary))
	assert.True(t, eth.RemainingSize.Equal(d("400")))
}

func TestLayer_DirtyFollowsStoreVersion(t *testing.T) {
	st := store.New()
	l, _ := newLayer(t, st)
	assert.True(t, l.Dirty(), "never saved")

	require.NoError(t, l.Save(context.Background()))
	assert.False(t, l.Dirty())

	require.NoError(t, st.Insert(sample("BTC-USDT-SWAP", models.AccountPrimary, "1")))
	assert.True(t, l.Dirty())
}

func TestLayer_RestoreWithoutPriorState(t *testing.T) {
	ctx := context.Background()
	st := store.New()
	l, f := newLayer(t, st)

	_, err := l.Reload(ctx)
	assert.True(t, errors.Is(err, ErrNoSnapshot))
	assert.Zero(t, l.Restore(ctx))

	require.NoError(t, os.MkdirAll(filepath.Dir(f.Path()), 0o755))
	require.NoError(t, os.WriteFile(f.Path(), []byte("{not json"), 0o644))
	assert.Zero(t, l.Restore(ctx), "corrupt snapshot is no prior state")
	assert.Zero(t, st.Len())
}

func TestLayer_RunSavesOnStop(t *testing.T) {
	st := store.New()
	l, f := newLayer(t, st)
	require.NoError(t, st.Insert(sample("BTC-USDT-SWAP", models.AccountPrimary, "150")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	b, err := f.Read(context.Background())
	require.NoError(t, err)
	dec, err := Decode(b)
	require.NoError(t, err)
	assert.Len(t, dec.Monitors, 1)
}

func TestFile_WriteIsAtomic(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "monitors.json"))
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, []byte("first"), time.Now()))
	require.NoError(t, f.Write(ctx, []byte("second"), time.Now()))

	b, err := f.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))

	entries, err := os.ReadDir(filepath.Dir(f.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

// Backends against real servers run only when addresses are provided.

func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("LADDER_TEST_REDIS")
	if addr == "" {
		t.Skip("LADDER_TEST_REDIS not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	r := NewRedis(client, "ladder:test:"+t.Name())
	defer client.Del(ctx, r.key, r.savedAtKey())

	_, err := r.Read(ctx)
	require.True(t, errors.Is(err, ErrNoSnapshot))

	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, r.Write(ctx, []byte(`{"version":1}`), at))
	b, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(b))

	saved, err := r.SavedAt(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(saved))
}

func TestPostgres_RoundTrip(t *testing.T) {
	dsn := os.Getenv("LADDER_TEST_DSN")
	if dsn == "" {
		t.Skip("LADDER_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn})
	require.NoError(t, err)
	tx := db.NewPgTxManager(pool)
	defer tx.Close()

	p := NewPostgres(tx, t.Name())
	require.NoError(t, p.Migrate(ctx))
	defer tx.Conn().Exec(ctx, `DELETE FROM monitor_snapshots WHERE name = $1`, p.name)

	st := store.New()
	require.NoError(t, st.Insert(sample("BTC-USDT-SWAP", models.AccountPrimary, "150")))
	l := NewLayer(p, st, time.Hour, nil, zaptest.NewLogger(t))
	require.NoError(t, l.Save(ctx))

	dec, err := l.Load(ctx)
	require.NoError(t, err)
	require.Len(t, dec.Monitors, 1)
	assert.True(t, dec.Monitors[0].RemainingSize.Equal(d("150")))
}
