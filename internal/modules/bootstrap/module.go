package bootstrap

import (
	"context"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/models"
	bootstrap "ladder_bot/internal/modules/bootstrap/service"
	"ladder_bot/internal/modules/config"
	"ladder_bot/internal/notify"
	"ladder_bot/internal/prices"
	"ladder_bot/internal/runner"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newWarmuper(cfg *config.Config, gw exchange.Gateway, px *prices.Cache, n *notify.Async, log *zap.Logger) *bootstrap.Warmuper {
	accounts := []models.Account{models.AccountPrimary}
	if cfg.Mirror.Enabled {
		accounts = append(accounts, models.AccountMirror)
	}
	return bootstrap.NewWarmuper(gw, accounts, px, n, cfg.Recovery.Concurrency, log)
}

// Module warms the instrument and price caches once after start.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			newWarmuper,
		),
		fx.Invoke(func(lc fx.Lifecycle, mgr *runner.Manager, wu *bootstrap.Warmuper, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					return mgr.Go("warmup", func(ctx context.Context) {
						if _, err := wu.Warmup(ctx); err != nil {
							log.Warn("warmup failed", zap.Error(err))
						}
					})
				},
			})
		}),
	)
}
