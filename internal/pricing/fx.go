package pricing

import (
	"github.com/inferbill/inferbill/internal/cache"
	"github.com/inferbill/inferbill/internal/pricing/repository"
	"github.com/inferbill/inferbill/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.catalog",
	fx.Provide(
		repository.New,
		cache.NewPricingResolverCache,
		service.NewService,
	),
)
