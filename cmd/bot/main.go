package main

import (
	"log"

	"ladder_bot/internal/modules/bootstrap"
	"ladder_bot/internal/modules/config"
	"ladder_bot/internal/modules/health"
	"ladder_bot/internal/modules/keeper"
	"ladder_bot/internal/modules/okx_websocket"
	telegram "ladder_bot/internal/modules/telegram_bot"
	"ladder_bot/internal/runner"
	"ladder_bot/pkg/logger"
	"ladder_bot/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger.SetServiceName(cfg.Service.Name)
	tracing.SetServiceName(cfg.Service.Name)

	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	})
	if err != nil {
		zl.Fatal("init tracer", zap.Error(err))
	}
	defer closeTracer()

	app := fx.New(
		fx.Supply(zl),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		config.Module(cfg),
		keeper.StorageModule(cfg),
		runner.Module(),
		keeper.Module(),
		health.Module(),
		telegram.Module(),
		okx_websocket.Module(),
		bootstrap.Module(),
	)
	app.Run()
}
