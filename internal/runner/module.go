package runner

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the *Manager and stops its loops with the app.
func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewManager,
		),
		fx.Invoke(func(lc fx.Lifecycle, m *Manager) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					return m.Stop(ctx)
				},
			})
		}),
	)
}
