package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inferbill/inferbill/internal/config"
	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
	webhookdomain "github.com/inferbill/inferbill/internal/webhook/domain"
)

type queuedIntent struct {
	userID    snowflake.ID
	eventType string
	payload   map[string]any
}

type dispatcherStub struct {
	mu      sync.Mutex
	intents []queuedIntent
	err     error
	done    chan struct{}
}

func newDispatcherStub(err error) *dispatcherStub {
	return &dispatcherStub{err: err, done: make(chan struct{}, 16)}
}

func (d *dispatcherStub) Queue(_ context.Context, userID snowflake.ID, eventType string, payload map[string]any) error {
	d.mu.Lock()
	d.intents = append(d.intents, queuedIntent{userID: userID, eventType: eventType, payload: payload})
	d.mu.Unlock()
	d.done <- struct{}{}
	return d.err
}

func (d *dispatcherStub) Claim(context.Context, int) ([]webhookdomain.Event, error) {
	return nil, nil
}

func (d *dispatcherStub) MarkDelivered(context.Context, string) error { return nil }

func (d *dispatcherStub) MarkFailed(context.Context, string) error { return nil }

func (d *dispatcherStub) queued() []queuedIntent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]queuedIntent, len(d.intents))
	copy(out, d.intents)
	return out
}

func (d *dispatcherStub) waitOne(t *testing.T) {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("no intent queued in time")
	}
}

func account(total, used int64) *ledgerdomain.CreditAccount {
	return &ledgerdomain.CreditAccount{
		ID:           snowflake.ID(99),
		UserID:       snowflake.ID(7),
		CreditType:   ledgerdomain.CreditTypePro,
		TotalCredits: total,
		UsedCredits:  used,
	}
}

func newNotifier(dispatcher *dispatcherStub) *Notifier {
	return New(Params{
		Log:        zap.NewNop(),
		Dispatcher: dispatcher,
		BillingCfg: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	})
}

func TestEvaluate(t *testing.T) {
	t.Run("depleted balance", func(t *testing.T) {
		dispatcher := newDispatcherStub(nil)
		n := newNotifier(dispatcher)

		n.Evaluate(account(100, 100))
		dispatcher.waitOne(t)

		intents := dispatcher.queued()
		require.Len(t, intents, 1)
		assert.Equal(t, EventCreditsDepleted, intents[0].eventType)
		assert.Equal(t, snowflake.ID(7), intents[0].userID)
		assert.Equal(t, int64(0), intents[0].payload["balance"])
	})

	t.Run("low balance at the threshold", func(t *testing.T) {
		dispatcher := newDispatcherStub(nil)
		n := newNotifier(dispatcher)

		// Exactly 10% remaining still fires.
		n.Evaluate(account(100, 90))
		dispatcher.waitOne(t)

		intents := dispatcher.queued()
		require.Len(t, intents, 1)
		assert.Equal(t, EventCreditsLow, intents[0].eventType)
		assert.Equal(t, int64(10), intents[0].payload["balance"])
	})

	t.Run("healthy balance stays quiet", func(t *testing.T) {
		dispatcher := newDispatcherStub(nil)
		n := newNotifier(dispatcher)

		n.Evaluate(account(100, 89))

		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, dispatcher.queued())
	})

	t.Run("depletion wins over low", func(t *testing.T) {
		dispatcher := newDispatcherStub(nil)
		n := newNotifier(dispatcher)

		n.Evaluate(account(50, 50))
		dispatcher.waitOne(t)

		intents := dispatcher.queued()
		require.Len(t, intents, 1, "at most one intent per deduction")
		assert.Equal(t, EventCreditsDepleted, intents[0].eventType)
	})

	t.Run("queue failure never panics the caller", func(t *testing.T) {
		dispatcher := newDispatcherStub(errors.New("outbox down"))
		n := newNotifier(dispatcher)

		require.NotPanics(t, func() {
			n.Evaluate(account(100, 95))
			dispatcher.waitOne(t)
		})
	})

	t.Run("nil account is ignored", func(t *testing.T) {
		dispatcher := newDispatcherStub(nil)
		n := newNotifier(dispatcher)
		require.NotPanics(t, func() { n.Evaluate(nil) })
		assert.Empty(t, dispatcher.queued())
	})
}
