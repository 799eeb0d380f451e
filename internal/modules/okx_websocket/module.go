package okx_websocket

import (
	"context"
	"sort"

	"ladder_bot/internal/modules/config"
	health "ladder_bot/internal/modules/health/service"
	"ladder_bot/internal/modules/okx_websocket/service"
	"ladder_bot/internal/prices"
	"ladder_bot/internal/runner"
	"ladder_bot/internal/store"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// monitoredSymbols lists the distinct instruments with an open monitor.
func monitoredSymbols(st *store.Store) service.SymbolSource {
	return func() []string {
		seen := make(map[string]bool)
		var out []string
		for _, m := range st.Snapshot() {
			if m.Closed() || seen[m.Symbol] {
				continue
			}
			seen[m.Symbol] = true
			out = append(out, m.Symbol)
		}
		sort.Strings(out)
		return out
	}
}

func newClient(cfg *config.Config, st *store.Store, cache *prices.Cache, state *health.State, log *zap.Logger) *service.Client {
	return service.NewClient(service.Config{URL: cfg.OKX.WSURL}, monitoredSymbols(st), cache, state, log)
}

// Module streams OKX mark prices into the price cache.
func Module() fx.Option {
	return fx.Module("okx_websocket",
		fx.Provide(
			newClient,
		),
		fx.Invoke(func(lc fx.Lifecycle, mgr *runner.Manager, c *service.Client) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					return mgr.Go("okx_ws", c.Run)
				},
			})
		}),
	)
}
