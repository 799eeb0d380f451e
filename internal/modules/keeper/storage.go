package keeper

import (
	"context"
	"time"

	"ladder_bot/internal/modules/config"
	"ladder_bot/internal/modules/postgres"
	"ladder_bot/internal/persistence"
	"ladder_bot/pkg/db"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func newFileBackend(cfg *config.Config) persistence.Backend {
	return persistence.NewFile(cfg.Persistence.Path)
}

func newRedisBackend(lc fx.Lifecycle, cfg *config.Config) persistence.Backend {
	client := redis.NewClient(&redis.Options{Addr: cfg.Persistence.RedisAddr})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return errors.Wrap(client.Ping(ctx).Err(), "ping redis")
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return persistence.NewRedis(client, cfg.Persistence.RedisKey)
}

func newPostgresBackend(tx db.TxManager, cfg *config.Config) (persistence.Backend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := persistence.NewPostgres(tx, cfg.Persistence.SnapshotName)
	if err := p.Migrate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// StorageModule provides the persistence.Backend chosen by
// persistence.backend. Only the postgres backend opens a database pool.
func StorageModule(cfg *config.Config) fx.Option {
	switch cfg.Persistence.Backend {
	case config.BackendPostgres:
		return fx.Options(postgres.Module(), fx.Provide(newPostgresBackend))
	case config.BackendRedis:
		return fx.Provide(newRedisBackend)
	default:
		return fx.Provide(newFileBackend)
	}
}
