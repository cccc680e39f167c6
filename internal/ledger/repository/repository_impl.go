package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
)

type repository struct{}

// New returns the gorm-backed ledger repository.
func New() ledgerdomain.Repository {
	return &repository{}
}

func (r *repository) FindCurrent(ctx context.Context, db *gorm.DB, userID snowflake.ID, creditType ledgerdomain.CreditType) (*ledgerdomain.CreditAccount, error) {
	var account ledgerdomain.CreditAccount
	err := db.WithContext(ctx).
		Where("user_id = ? AND credit_type = ? AND is_current", userID, creditType).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// FindCurrentForUpdate takes a row lock on the current account. sqlite (used
// in tests) has no FOR UPDATE; its single-writer model serializes the
// transaction anyway.
func (r *repository) FindCurrentForUpdate(ctx context.Context, tx *gorm.DB, userID snowflake.ID, creditType ledgerdomain.CreditType) (*ledgerdomain.CreditAccount, error) {
	query := `SELECT id, user_id, subscription_id, credit_type, total_credits, used_credits,
		 monthly_allocation, billing_period_start, billing_period_end, is_current,
		 created_at, updated_at
	 FROM credit_accounts
	 WHERE user_id = ? AND credit_type = ? AND is_current`
	if !isSQLite(tx) {
		query += " FOR UPDATE"
	}

	var account ledgerdomain.CreditAccount
	err := tx.WithContext(ctx).Raw(query, userID, creditType).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ledgerdomain.CreditAccount, error) {
	var account ledgerdomain.CreditAccount
	err := db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FlipCurrent(ctx context.Context, tx *gorm.DB, userID snowflake.ID, creditType ledgerdomain.CreditType, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE credit_accounts
		 SET is_current = ?, updated_at = ?
		 WHERE user_id = ? AND credit_type = ? AND is_current`,
		false,
		now,
		userID,
		creditType,
	).Error
}

func (r *repository) InsertAccount(ctx context.Context, tx *gorm.DB, account *ledgerdomain.CreditAccount) error {
	return tx.WithContext(ctx).Create(account).Error
}

func (r *repository) IncrementUsed(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, delta int64, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE credit_accounts
		 SET used_credits = used_credits + ?, updated_at = ?
		 WHERE id = ?`,
		delta,
		now,
		accountID,
	).Error
}

func (r *repository) IncrementTotal(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, delta int64, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE credit_accounts
		 SET total_credits = total_credits + ?, updated_at = ?
		 WHERE id = ?`,
		delta,
		now,
		accountID,
	).Error
}

func (r *repository) FindUsageByRequestID(ctx context.Context, db *gorm.DB, requestID string) (*ledgerdomain.UsageRecord, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, nil
	}
	var record ledgerdomain.UsageRecord
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) InsertUsage(ctx context.Context, tx *gorm.DB, record *ledgerdomain.UsageRecord) error {
	return tx.WithContext(ctx).Create(record).Error
}

func (r *repository) ListUsage(ctx context.Context, db *gorm.DB, userID snowflake.ID, cursorCreatedAt *time.Time, cursorID snowflake.ID, limit int) ([]*ledgerdomain.UsageRecord, error) {
	stmt := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)
	if cursorCreatedAt != nil {
		stmt = stmt.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			*cursorCreatedAt, *cursorCreatedAt, cursorID,
		)
	}

	var records []*ledgerdomain.UsageRecord
	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func isSQLite(db *gorm.DB) bool {
	return db != nil && strings.EqualFold(db.Dialector.Name(), "sqlite")
}
