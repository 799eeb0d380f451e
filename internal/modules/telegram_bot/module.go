package telegram

import (
	"context"

	"ladder_bot/internal/modules/config"
	keeper "ladder_bot/internal/modules/keeper/service"
	"ladder_bot/internal/modules/telegram_bot/service"
	"ladder_bot/internal/notify"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// newNotifier picks Telegram when a token is configured and the log sink
// otherwise. The *service.Telegram result is nil in the second case.
func newNotifier(cfg *config.Config, log *zap.Logger) (notify.Notifier, *service.Telegram, error) {
	if cfg.Telegram.Token == "" {
		log.Info("telegram token not set, notifications go to the log")
		return notify.NewStdout(log), nil, nil
	}
	t, err := service.NewTelegram(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return t, t, nil
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			newNotifier,
		),
		fx.Invoke(
			func(lc fx.Lifecycle, t *service.Telegram, ctrl *keeper.Control) {
				if t == nil {
					return
				}
				ctx, cancel := context.WithCancel(context.Background())
				done := make(chan struct{})
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						go func() {
							defer close(done)
							t.Start(ctx, ctrl)
						}()
						return nil
					},
					OnStop: func(stopCtx context.Context) error {
						cancel()
						t.Stop()
						select {
						case <-done:
						case <-stopCtx.Done():
						}
						return nil
					},
				})
			},
		),
	)
}
