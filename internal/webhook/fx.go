package webhook

import (
	"go.uber.org/fx"

	"github.com/inferbill/inferbill/internal/webhook/service"
)

var Module = fx.Module("webhook",
	fx.Provide(service.NewService),
)
