package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inferbill/inferbill/internal/clock"
	webhookdomain "github.com/inferbill/inferbill/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) webhookdomain.Dispatcher {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("webhook.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Queue(ctx context.Context, userID snowflake.ID, eventType string, payload map[string]any) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return webhookdomain.ErrInvalidEventType
	}

	event := webhookdomain.Event{
		ID:        s.genID.Generate(),
		EventID:   uuid.NewString(),
		UserID:    userID,
		EventType: eventType,
		Payload:   payload,
		Status:    webhookdomain.EventStatusPending,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return err
	}

	s.log.Debug("webhook intent queued",
		zap.String("event_id", event.EventID),
		zap.String("event_type", eventType),
		zap.String("user_id", userID.String()),
	)
	return nil
}

func (s *Service) Claim(ctx context.Context, limit int) ([]webhookdomain.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	var claimed []webhookdomain.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := `SELECT id, event_id, user_id, event_type, payload, status, attempts, created_at, delivered_at
		 FROM webhook_outbox
		 WHERE status = ?
		 ORDER BY id
		 LIMIT ?`
		if !isSQLite(tx) {
			query += " FOR UPDATE SKIP LOCKED"
		}
		if err := tx.Raw(query, webhookdomain.EventStatusPending, limit).Scan(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(claimed))
		for i := range claimed {
			claimed[i].Attempts++
			ids = append(ids, claimed[i].ID)
		}
		return tx.Model(&webhookdomain.Event{}).
			Where("id IN ?", ids).
			Update("attempts", gorm.Expr("attempts + 1")).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Service) MarkDelivered(ctx context.Context, eventID string) error {
	now := s.clock.Now().UTC()
	res := s.db.WithContext(ctx).Model(&webhookdomain.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"status":       webhookdomain.EventStatusDelivered,
			"delivered_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return webhookdomain.ErrEventNotFound
	}
	return nil
}

func (s *Service) MarkFailed(ctx context.Context, eventID string) error {
	res := s.db.WithContext(ctx).Model(&webhookdomain.Event{}).
		Where("event_id = ?", eventID).
		Update("status", webhookdomain.EventStatusFailed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return webhookdomain.ErrEventNotFound
	}
	return nil
}

func isSQLite(db *gorm.DB) bool {
	return db != nil && strings.EqualFold(db.Dialector.Name(), "sqlite")
}
