// Package domain contains the credit ledger's persistence models: the
// mutable per-period balance row and the append-only usage stream.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CreditType distinguishes the free monthly grant from paid subscription
// credits. A user holds at most one current account per type.
type CreditType string

const (
	CreditTypeFree CreditType = "free"
	CreditTypePro  CreditType = "pro"
)

func (t CreditType) Valid() bool {
	return t == CreditTypeFree || t == CreditTypePro
}

// CreditAccount is the mutable balance row for one user and billing period.
// Exactly one row per user+creditType carries is_current=true at any time;
// superseded rows are retained for history.
type CreditAccount struct {
	ID                 snowflake.ID  `gorm:"primaryKey"`
	UserID             snowflake.ID  `gorm:"not null;index:idx_credit_accounts_user_type,priority:1"`
	SubscriptionID     *snowflake.ID `gorm:""` // nil for purchased add-ons
	CreditType         CreditType    `gorm:"type:text;not null;index:idx_credit_accounts_user_type,priority:2"`
	TotalCredits       int64         `gorm:"not null"`
	UsedCredits        int64         `gorm:"not null;default:0"`
	MonthlyAllocation  int64         `gorm:"not null"`
	BillingPeriodStart time.Time     `gorm:"not null"`
	BillingPeriodEnd   time.Time     `gorm:"not null"`
	IsCurrent          bool          `gorm:"not null;index"`
	CreatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditAccount) TableName() string { return "credit_accounts" }

// Remaining returns the spendable balance.
func (a CreditAccount) Remaining() int64 { return a.TotalCredits - a.UsedCredits }

// ExpiredAt reports whether the billing period has elapsed at now.
func (a CreditAccount) ExpiredAt(now time.Time) bool {
	return now.After(a.BillingPeriodEnd)
}

// UsageRecordStatus marks whether the upstream inference request succeeded.
type UsageRecordStatus string

const (
	UsageStatusSuccess UsageRecordStatus = "success"
	UsageStatusFailed  UsageRecordStatus = "failed"
)

// UsageRecord is one immutable row per completed inference request, written
// in the same transaction as the balance mutation it pays for. RequestID is
// the idempotency key.
type UsageRecord struct {
	ID                 snowflake.ID      `gorm:"primaryKey"`
	RequestID          string            `gorm:"type:text;not null;uniqueIndex:ux_usage_records_request"`
	UserID             snowflake.ID      `gorm:"not null;index:idx_usage_records_user_created,priority:1"`
	AccountID          snowflake.ID      `gorm:"not null;index"`
	ModelID            string            `gorm:"type:text;not null"`
	ProviderID         string            `gorm:"type:text;not null"`
	InputTokens        int64             `gorm:"not null"`
	OutputTokens       int64             `gorm:"not null"`
	CachedInputTokens  int64             `gorm:"not null;default:0"`
	VendorCostUSD      decimal.Decimal   `gorm:"type:numeric(14,8);not null"`
	MarginMultiplier   float64           `gorm:"not null"`
	CreditsDeducted    int64             `gorm:"not null"`
	InputCredits       int64             `gorm:"not null"`
	OutputCredits      int64             `gorm:"not null"`
	GrossMarginUSD     decimal.Decimal   `gorm:"type:numeric(14,8);not null"`
	Status             UsageRecordStatus `gorm:"type:text;not null"`
	RequestStartedAt   time.Time         `gorm:"not null"`
	RequestCompletedAt time.Time         `gorm:"not null"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_usage_records_user_created,priority:2"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
