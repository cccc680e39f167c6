// Package domain defines the webhook outbox: delivery itself is owned by an
// external worker, this core only records the intent to notify.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusDelivered EventStatus = "delivered"
	EventStatusFailed    EventStatus = "failed"
)

// Event is one queued notification intent. EventID is the stable identifier
// exposed to receivers for deduplication; ID orders the outbox.
type Event struct {
	ID          snowflake.ID       `gorm:"primaryKey"`
	EventID     string             `gorm:"type:text;not null;uniqueIndex"`
	UserID      snowflake.ID       `gorm:"not null;index"`
	EventType   string             `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap  `gorm:"not null"`
	Status      EventStatus        `gorm:"type:text;not null;index"`
	Attempts    int                `gorm:"not null;default:0"`
	CreatedAt   time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeliveredAt *time.Time         `gorm:""`
}

// TableName sets the database table name.
func (Event) TableName() string { return "webhook_outbox" }
