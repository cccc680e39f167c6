package ledger

import (
	"go.uber.org/fx"

	"github.com/inferbill/inferbill/internal/ledger/repository"
	"github.com/inferbill/inferbill/internal/ledger/service"
)

var Module = fx.Module("ledger",
	fx.Provide(
		repository.New,
		service.NewService,
	),
)
