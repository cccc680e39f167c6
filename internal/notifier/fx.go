package notifier

import (
	"go.uber.org/fx"

	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
)

var Module = fx.Module("notifier",
	fx.Provide(
		fx.Annotate(New, fx.As(new(ledgerdomain.BalanceObserver))),
	),
)
