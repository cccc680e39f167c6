package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Dispatcher queues notification intents and hands batches to the delivery
// worker. Queue must be fast and must never surface delivery failures to the
// financial path that produced the intent.
type Dispatcher interface {
	Queue(ctx context.Context, userID snowflake.ID, eventType string, payload map[string]any) error

	// Claim locks up to limit pending events for delivery, skipping rows
	// another worker already holds.
	Claim(ctx context.Context, limit int) ([]Event, error)
	MarkDelivered(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string) error
}

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrEventNotFound    = errors.New("webhook_event_not_found")
)
