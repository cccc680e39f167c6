package domain

import (
	"context"

	"gorm.io/gorm"
)

// Repository is the persistence contract behind the catalog. The pricing
// tables are read-only from the engine's perspective apart from the admin
// write operations exposed here.
type Repository interface {
	ListEntries(ctx context.Context, db *gorm.DB, modelID, providerID string) ([]PricingEntry, error)
	InsertEntry(ctx context.Context, db *gorm.DB, entry *PricingEntry) error

	ListMargins(ctx context.Context, db *gorm.DB, tier string) ([]TierMargin, error)
	UpsertMargin(ctx context.Context, db *gorm.DB, margin *TierMargin) error

	FindModelMeta(ctx context.Context, db *gorm.DB, modelID string) (*ModelMeta, error)
	UpsertModelMeta(ctx context.Context, db *gorm.DB, meta *ModelMeta) error
}
