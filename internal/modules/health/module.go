package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"ladder_bot/internal/modules/config"
	"ladder_bot/internal/modules/health/service"
	keeper "ladder_bot/internal/modules/keeper/service"
	"ladder_bot/internal/recovery"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Addr string
	// StaleAfter marks the service unhealthy when no cycle finished for this long.
	StaleAfter time.Duration
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: cfg.Service.AdminAddr, StaleAfter: 2 * cfg.Scheduler.MaxSleep}
}

// Admin is what the admin endpoints drive.
type Admin interface {
	Reload(ctx context.Context) (int, error)
	Recover(ctx context.Context) (recovery.Report, error)
	Status() keeper.Status
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

func NewMux(cfg Config, state *service.State, admin Admin, reg *prometheus.Registry, log *zap.Logger) *http.ServeMux {
	log = log.Named("health")
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		last := state.LastCycle()
		stale := cfg.StaleAfter > 0 && state.Ready() && (last.IsZero() || time.Since(last) > cfg.StaleAfter)
		resp := map[string]any{
			"ready":         state.Ready(),
			"wsConnected":   state.WSConnected(),
			"uptimeSec":     int64(state.Uptime().Seconds()),
			"monitors":      state.Monitors(),
			"stale":         stale,
			"lastCycleUnix": int64(0),
		}
		if !last.IsZero() {
			resp["lastCycleUnix"] = last.Unix()
		}
		code := http.StatusOK
		if stale {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /admin/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, admin.Status())
	})

	mux.HandleFunc("POST /admin/reload", func(w http.ResponseWriter, r *http.Request) {
		added, err := admin.Reload(r.Context())
		if err != nil {
			log.Warn("admin reload", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"added": added})
	})

	mux.HandleFunc("POST /admin/recover", func(w http.ResponseWriter, r *http.Request) {
		rep, err := admin.Recover(r.Context())
		resp := map[string]any{
			"expected":  rep.Gaps.Expected,
			"actual":    rep.Gaps.Actual,
			"missing":   rep.Gaps.Missing(),
			"recovered": rep.Recovered,
			"pruned":    rep.Pruned,
			"closed":    rep.Closed,
		}
		code := http.StatusOK
		if err != nil {
			log.Warn("admin recover", zap.Error(err))
			resp["error"] = err.Error()
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, resp)
	})

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return errors.Wrapf(err, "listen %s", cfg.Addr)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("admin http stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewMux,
			func(c *keeper.Control) Admin { return c },
		),
		fx.Invoke(RunHTTP),
	)
}
