package repository

import (
	"context"
	"errors"
	"strings"

	pricingdomain "github.com/inferbill/inferbill/internal/pricing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

// New returns the gorm-backed pricing repository.
func New() pricingdomain.Repository {
	return &repository{}
}

func (r *repository) ListEntries(ctx context.Context, db *gorm.DB, modelID, providerID string) ([]pricingdomain.PricingEntry, error) {
	var entries []pricingdomain.PricingEntry
	err := db.WithContext(ctx).
		Where("model_id = ? AND provider_id = ?", strings.TrimSpace(modelID), strings.TrimSpace(providerID)).
		Order("effective_from DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) InsertEntry(ctx context.Context, db *gorm.DB, entry *pricingdomain.PricingEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListMargins(ctx context.Context, db *gorm.DB, tier string) ([]pricingdomain.TierMargin, error) {
	var margins []pricingdomain.TierMargin
	err := db.WithContext(ctx).
		Where("tier = ?", strings.TrimSpace(tier)).
		Find(&margins).Error
	if err != nil {
		return nil, err
	}
	return margins, nil
}

func (r *repository) UpsertMargin(ctx context.Context, db *gorm.DB, margin *pricingdomain.TierMargin) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tier"}, {Name: "provider_id"}, {Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"multiplier", "updated_at"}),
	}).Create(margin).Error
}

func (r *repository) FindModelMeta(ctx context.Context, db *gorm.DB, modelID string) (*pricingdomain.ModelMeta, error) {
	var meta pricingdomain.ModelMeta
	err := db.WithContext(ctx).
		Where("model_id = ?", strings.TrimSpace(modelID)).
		First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &meta, nil
}

func (r *repository) UpsertModelMeta(ctx context.Context, db *gorm.DB, meta *pricingdomain.ModelMeta) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"input_credits_per_k", "output_credits_per_k", "updated_at"}),
	}).Create(meta).Error
}
