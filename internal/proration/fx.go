package proration

import (
	"go.uber.org/fx"

	"github.com/inferbill/inferbill/internal/proration/service"
)

var Module = fx.Module("proration",
	fx.Provide(service.NewService),
)
