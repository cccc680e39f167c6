package config

import (
	"go.uber.org/fx"

	"github.com/inferbill/inferbill/pkg/db"
)

// Module wires application and billing configuration.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewBillingConfigHolder,
		func(cfg Config) db.Config { return cfg.DB() },
	),
)
