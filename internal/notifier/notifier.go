// Package notifier turns committed deductions into balance threshold
// notification intents.
package notifier

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/inferbill/inferbill/internal/config"
	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
	obsmetrics "github.com/inferbill/inferbill/internal/observability/metrics"
	webhookdomain "github.com/inferbill/inferbill/internal/webhook/domain"
)

const (
	EventCreditsDepleted = "credits.depleted"
	EventCreditsLow      = "credits.low"

	queueTimeout = 5 * time.Second
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Dispatcher webhookdomain.Dispatcher
	BillingCfg *config.BillingConfigHolder
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

// Notifier evaluates the post-deduction balance against the depletion and
// low-balance thresholds. Emission is strictly decoupled from the committed
// deduction: a queue failure is logged and dropped, never propagated.
type Notifier struct {
	log        *zap.Logger
	dispatcher webhookdomain.Dispatcher
	billingCfg *config.BillingConfigHolder
	metrics    *obsmetrics.Metrics
}

var _ ledgerdomain.BalanceObserver = (*Notifier)(nil)

func New(p Params) *Notifier {
	return &Notifier{
		log:        p.Log.Named("notifier"),
		dispatcher: p.Dispatcher,
		billingCfg: p.BillingCfg,
		metrics:    p.Metrics,
	}
}

// Evaluate picks at most one intent per deduction: depletion wins over low
// balance. The queue write runs on its own goroutine so the caller returns
// immediately.
func (n *Notifier) Evaluate(account *ledgerdomain.CreditAccount) {
	if account == nil {
		return
	}

	eventType := n.classify(account)
	if eventType == "" {
		return
	}

	if n.metrics != nil {
		n.metrics.IncWebhookIntent(eventType)
	}

	payload := map[string]any{
		"account_id":    account.ID.String(),
		"credit_type":   string(account.CreditType),
		"balance":       account.Remaining(),
		"total_credits": account.TotalCredits,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), queueTimeout)
		defer cancel()

		if err := n.dispatcher.Queue(ctx, account.UserID, eventType, payload); err != nil {
			n.log.Warn("failed to queue balance notification",
				zap.String("event_type", eventType),
				zap.String("user_id", account.UserID.String()),
				zap.Error(err),
			)
		}
	}()
}

func (n *Notifier) classify(account *ledgerdomain.CreditAccount) string {
	remaining := account.Remaining()
	switch {
	case remaining == 0:
		return EventCreditsDepleted
	case remaining < 0:
		// Balances never go negative under the strict deduction check;
		// seeing one means corrupted state worth shouting about.
		n.log.Error("negative balance observed",
			zap.String("account_id", account.ID.String()),
			zap.Int64("balance", remaining),
		)
		return EventCreditsDepleted
	case account.TotalCredits > 0 &&
		float64(remaining) <= n.billingCfg.Get().LowBalanceRatio*float64(account.TotalCredits):
		return EventCreditsLow
	default:
		return ""
	}
}
