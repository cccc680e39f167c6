// Package domain contains persistence models for vendor pricing, tier
// margins, and model credit metadata.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PricingEntry is a vendor price row, immutable per effective window.
// Multiple entries may exist per (model, provider); exactly one should be
// active for any request timestamp.
type PricingEntry struct {
	ID                 snowflake.ID        `gorm:"primaryKey"`
	ModelID            string              `gorm:"type:text;not null;index:idx_pricing_entries_model_provider,priority:1"`
	ProviderID         string              `gorm:"type:text;not null;index:idx_pricing_entries_model_provider,priority:2"`
	InputPricePerK     decimal.Decimal     `gorm:"type:numeric(14,8);not null"`
	OutputPricePerK    decimal.Decimal     `gorm:"type:numeric(14,8);not null"`
	CacheReadPricePerK decimal.NullDecimal `gorm:"type:numeric(14,8)"`
	EffectiveFrom      time.Time           `gorm:"not null"`
	EffectiveUntil     *time.Time          `gorm:""`
	CreatedAt          time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PricingEntry) TableName() string { return "pricing_entries" }

// ActiveAt reports whether the entry's effective window covers at.
func (e PricingEntry) ActiveAt(at time.Time) bool {
	if e.EffectiveFrom.After(at) {
		return false
	}
	return e.EffectiveUntil == nil || !e.EffectiveUntil.Before(at)
}

// TierMargin is the markup multiplier applied to vendor cost for a
// (tier, provider, model) combination. Empty ProviderID or ModelID rows act
// as wildcards for less specific matches.
type TierMargin struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Tier       string       `gorm:"type:text;not null;uniqueIndex:ux_tier_margins_scope,priority:1"`
	ProviderID string       `gorm:"type:text;not null;default:'';uniqueIndex:ux_tier_margins_scope,priority:2"`
	ModelID    string       `gorm:"type:text;not null;default:'';uniqueIndex:ux_tier_margins_scope,priority:3"`
	Multiplier float64      `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TierMargin) TableName() string { return "tier_margins" }

// ModelMeta carries optional retail per-K credit rates for a model. When both
// rates are present the credit split is priced off them; otherwise the split
// falls back to proportional division of the converted total.
type ModelMeta struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	ModelID           string       `gorm:"type:text;not null;uniqueIndex"`
	InputCreditsPerK  *float64     `gorm:""`
	OutputCreditsPerK *float64     `gorm:""`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ModelMeta) TableName() string { return "model_metadata" }

// SplitMode tags how input/output credits are derived.
type SplitMode int

const (
	// SplitProportional divides the converted credit total by token share.
	SplitProportional SplitMode = iota
	// SplitExplicitPerK prices each side off its own retail per-K rate.
	SplitExplicitPerK
)

// CreditSplit is the resolved split variant for a model, computed once per
// metadata lookup rather than re-checked per request.
type CreditSplit struct {
	Mode              SplitMode
	InputCreditsPerK  float64
	OutputCreditsPerK float64
}

// Split resolves the tagged split variant for the model.
func (m ModelMeta) Split() CreditSplit {
	if m.InputCreditsPerK != nil && m.OutputCreditsPerK != nil {
		return CreditSplit{
			Mode:              SplitExplicitPerK,
			InputCreditsPerK:  *m.InputCreditsPerK,
			OutputCreditsPerK: *m.OutputCreditsPerK,
		}
	}
	return CreditSplit{Mode: SplitProportional}
}
