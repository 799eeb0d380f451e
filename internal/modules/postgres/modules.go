package postgres

import (
	"context"
	"time"

	"ladder_bot/internal/modules/config"
	"ladder_bot/pkg/db"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

func newTxManager(lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create poolMaster")
	}

	tx := db.NewPgTxManager(poolMaster)
	if err := tx.Ping(ctx); err != nil {
		tx.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	return tx, nil
}

// Module provides *db.PgTxManager and db.TxManager over cfg.DB.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			newTxManager,
			func(tx *db.PgTxManager) db.TxManager { return tx },
		),
	)
}
