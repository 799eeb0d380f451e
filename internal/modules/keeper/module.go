// Package keeper wires the ladder keeper: exchange access, the scheduler,
// recovery, persistence and the operator control surface.
package keeper

import (
	"context"
	"time"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/ladder"
	"ladder_bot/internal/metrics"
	"ladder_bot/internal/mirror"
	"ladder_bot/internal/models"
	"ladder_bot/internal/modules/config"
	health "ladder_bot/internal/modules/health/service"
	"ladder_bot/internal/modules/keeper/service"
	okx "ladder_bot/internal/modules/okx_client/service"
	"ladder_bot/internal/notify"
	"ladder_bot/internal/persistence"
	"ladder_bot/internal/prices"
	"ladder_bot/internal/rebalance"
	"ladder_bot/internal/recovery"
	"ladder_bot/internal/runner"
	"ladder_bot/internal/scheduler"
	"ladder_bot/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func credentials(c config.Credentials) okx.Credentials {
	return okx.Credentials{APIKey: c.APIKey, APISecret: c.APISecret, Passphrase: c.Passphrase}
}

// newGateway stacks the OKX accounts behind retries and the instrument cache.
func newGateway(cfg *config.Config, log *zap.Logger) *exchange.Caching {
	primary := okx.NewClient(models.AccountPrimary, cfg.OKX.BaseURL, credentials(cfg.OKX.Primary), cfg.OKX.Simulated)

	var mirrorClient exchange.AccountClient
	if cfg.Mirror.Enabled {
		mirrorClient = okx.NewClient(models.AccountMirror, cfg.OKX.BaseURL, credentials(cfg.OKX.Mirror), cfg.OKX.Simulated)
	}

	retry := exchange.DefaultRetryConfig()
	if cfg.OKX.MaxTries > 0 {
		retry.MaxTries = cfg.OKX.MaxTries
	}
	if cfg.OKX.RatePerSec > 0 {
		retry.RatePerSec = cfg.OKX.RatePerSec
	}
	if cfg.OKX.Burst > 0 {
		retry.Burst = cfg.OKX.Burst
	}

	accounts := exchange.NewAccounts(primary, mirrorClient)
	return exchange.NewCaching(exchange.NewRetrying(accounts, retry, log), cfg.OKX.InstrumentTTL)
}

func tolerance(cfg *config.Config) ladder.Tolerance {
	return ladder.Tolerance{
		MinQty: decimal.NewFromFloat(cfg.Ladder.ToleranceMinQty),
		Pct:    decimal.NewFromFloat(cfg.Ladder.TolerancePct),
	}
}

func newPriceCache(cfg *config.Config) *prices.Cache {
	return prices.NewCache(cfg.Prices.MaxAge)
}

func newCalculator(cfg *config.Config) *ladder.Calculator {
	return ladder.NewCalculator(cfg.Ladder.Weights)
}

func newAsyncNotifier(n notify.Notifier, log *zap.Logger) *notify.Async {
	return notify.NewAsync(n, 256, log)
}

func newExecutor(cfg *config.Config, gw exchange.Gateway, calc *ladder.Calculator, n *notify.Async, m *metrics.Metrics, log *zap.Logger) *rebalance.Executor {
	return rebalance.New(gw, calc, rebalance.Config{
		Tolerance:       tolerance(cfg),
		DefaultSLPct:    decimal.NewFromFloat(cfg.Ladder.DefaultSLPct),
		DefaultStopType: models.StopType(cfg.Ladder.StopType),
	}, n, m, log)
}

func newRatioProvider(cfg *config.Config, gw exchange.Gateway, m *metrics.Metrics, log *zap.Logger) *mirror.RatioProvider {
	return mirror.NewRatioProvider(gw, mirror.RatioConfig{
		Mode:    mirror.RatioMode(cfg.Mirror.RatioMode),
		Fixed:   decimal.NewFromFloat(cfg.Mirror.FixedRatio),
		Refresh: cfg.Mirror.RatioRefresh,
	}, m, log)
}

// newSynchronizer is nil when mirroring is off.
func newSynchronizer(cfg *config.Config, exec *rebalance.Executor, gw exchange.Gateway, ratio *mirror.RatioProvider, log *zap.Logger) *mirror.Synchronizer {
	if !cfg.Mirror.Enabled {
		return nil
	}
	return mirror.NewSynchronizer(exec, gw, ratio, log)
}

func newScheduler(
	cfg *config.Config,
	st *store.Store,
	gw *exchange.Caching,
	exec *rebalance.Executor,
	sync *mirror.Synchronizer,
	px *prices.Cache,
	m *metrics.Metrics,
	log *zap.Logger,
) *scheduler.Scheduler {
	sc := scheduler.DefaultConfig()
	sc.MinSleep = cfg.Scheduler.MinSleep
	sc.MaxSleep = cfg.Scheduler.MaxSleep
	sc.MaxConcurrent = cfg.Scheduler.MaxConcurrent
	sc.MinConcurrent = cfg.Scheduler.MinConcurrent
	if cfg.Scheduler.JobTimeout > 0 {
		sc.JobTimeout = cfg.Scheduler.JobTimeout
	}
	if cfg.Scheduler.MaintenanceEvery > 0 {
		sc.MaintenanceEvery = cfg.Scheduler.MaintenanceEvery
	}
	if cfg.Scheduler.StaleAfter > 0 {
		sc.StaleAfter = cfg.Scheduler.StaleAfter
	}
	sc.Tolerance = tolerance(cfg)
	return scheduler.New(sc, st, gw, exec, sync, px, m, log, gw, scheduler.EvictFunc(px.EvictStale))
}

func newRecovery(
	cfg *config.Config,
	st *store.Store,
	gw exchange.Gateway,
	calc *ladder.Calculator,
	ratio *mirror.RatioProvider,
	sched *scheduler.Scheduler,
	n *notify.Async,
	m *metrics.Metrics,
	log *zap.Logger,
) *recovery.Manager {
	if !cfg.Mirror.Enabled {
		ratio = nil
	}
	return recovery.New(recovery.Config{
		Interval:      cfg.Recovery.Interval,
		MirrorEnabled: cfg.Mirror.Enabled,
		Concurrency:   cfg.Recovery.Concurrency,
	}, st, gw, calc, ratio, sched, n, m, log)
}

func newLayer(cfg *config.Config, b persistence.Backend, st *store.Store, m *metrics.Metrics, log *zap.Logger) *persistence.Layer {
	return persistence.NewLayer(b, st, cfg.Persistence.Interval, m, log)
}

func newControl(st *store.Store, layer *persistence.Layer, rec *recovery.Manager, sched *scheduler.Scheduler, log *zap.Logger) *service.Control {
	return service.NewControl(st, layer, rec, sched, log)
}

type runParams struct {
	fx.In

	LC       fx.Lifecycle
	Config   *config.Config
	Runner   *runner.Manager
	State    *health.State
	Store    *store.Store
	Prices   *prices.Cache
	Notifier *notify.Async
	Layer    *persistence.Layer
	Sched    *scheduler.Scheduler
	Recovery *recovery.Manager
	Log      *zap.Logger
}

// run restores the snapshot, hooks the price feed and the health state into
// the scheduler and starts the background loops.
func run(p runParams) {
	log := p.Log.Named("keeper")

	p.Prices.OnJump(decimal.NewFromFloat(p.Config.Prices.JumpPct), p.Sched.MarkSymbolDue)
	p.Sched.OnCycle(func(s scheduler.Status) {
		p.State.TouchCycle(s.LastCycleAt, s.Monitors)
	})

	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			restored := p.Layer.Restore(ctx)
			log.Info("keeper starting",
				zap.Int("restored", restored),
				zap.Bool("mirror", p.Config.Mirror.Enabled),
				zap.Bool("simulated", p.Config.OKX.Simulated),
			)

			loops := []struct {
				name string
				fn   func(context.Context)
			}{
				{"notify", p.Notifier.Run},
				{"persistence", p.Layer.Run},
				{"scheduler", p.Sched.Run},
				{"recovery", p.Recovery.Run},
			}
			for _, l := range loops {
				if err := p.Runner.Go(l.name, l.fn); err != nil {
					return err
				}
			}
			p.State.SetReady(true)
			return nil
		},
		OnStop: func(context.Context) error {
			p.State.SetReady(false)
			log.Info("keeper stopping", zap.Int("monitors", p.Store.Len()), zap.Duration("uptime", p.State.Uptime().Truncate(time.Second)))
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("keeper",
		fx.Provide(
			newRegistry,
			newMetrics,
			newGateway,
			func(c *exchange.Caching) exchange.Gateway { return c },
			store.New,
			newPriceCache,
			newCalculator,
			newAsyncNotifier,
			newExecutor,
			newRatioProvider,
			newSynchronizer,
			newScheduler,
			newRecovery,
			newLayer,
			newControl,
		),
		fx.Invoke(run),
	)
}
