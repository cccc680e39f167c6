package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence contract for accounts and usage records.
// Mutating methods take the transaction handle they must run inside.
type Repository interface {
	FindCurrent(ctx context.Context, db *gorm.DB, userID snowflake.ID, creditType CreditType) (*CreditAccount, error)
	// FindCurrentForUpdate locks the current account row for the duration
	// of the enclosing transaction.
	FindCurrentForUpdate(ctx context.Context, tx *gorm.DB, userID snowflake.ID, creditType CreditType) (*CreditAccount, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CreditAccount, error)

	FlipCurrent(ctx context.Context, tx *gorm.DB, userID snowflake.ID, creditType CreditType, now time.Time) error
	InsertAccount(ctx context.Context, tx *gorm.DB, account *CreditAccount) error
	IncrementUsed(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, delta int64, now time.Time) error
	IncrementTotal(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, delta int64, now time.Time) error

	FindUsageByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*UsageRecord, error)
	InsertUsage(ctx context.Context, tx *gorm.DB, record *UsageRecord) error
	ListUsage(ctx context.Context, db *gorm.DB, userID snowflake.ID, cursorCreatedAt *time.Time, cursorID snowflake.ID, limit int) ([]*UsageRecord, error)
}
