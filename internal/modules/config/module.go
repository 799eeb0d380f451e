package config

import "go.uber.org/fx"

// Module supplies a config loaded up front, so main can pick modules from it.
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
	)
}
