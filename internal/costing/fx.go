package costing

import "go.uber.org/fx"

var Module = fx.Module("costing",
	fx.Provide(NewConverter),
)
