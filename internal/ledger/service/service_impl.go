package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inferbill/inferbill/internal/clock"
	ledgerdomain "github.com/inferbill/inferbill/internal/ledger/domain"
	obsmetrics "github.com/inferbill/inferbill/internal/observability/metrics"
	"github.com/inferbill/inferbill/pkg/db"
	"github.com/inferbill/inferbill/pkg/db/pagination"
)

// errDuplicateRequest signals a concurrent idempotent replay detected by the
// unique index on request_id; it never escapes this package.
var errDuplicateRequest = errors.New("duplicate_request")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     ledgerdomain.Repository
	Observer ledgerdomain.BalanceObserver `optional:"true"`
	Metrics  *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     ledgerdomain.Repository
	observer ledgerdomain.BalanceObserver
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		observer: p.Observer,
		metrics:  p.Metrics,
	}
}

func (s *Service) GetActive(ctx context.Context, userID snowflake.ID, creditType ledgerdomain.CreditType) (*ledgerdomain.CreditAccount, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if !creditType.Valid() {
		return nil, ledgerdomain.ErrInvalidType
	}

	account, err := s.repo.FindCurrent(ctx, s.db, userID, creditType)
	if err != nil {
		return nil, transient("get_active", err)
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}

	now := s.clock.Now().UTC()
	if account.ExpiredAt(now) {
		// Lazy expiry: flip the stale flag on read so no background
		// sweep is needed. Failure here only leaves the flag stale
		// until the next read.
		if err := s.repo.FlipCurrent(ctx, s.db, userID, creditType, now); err != nil {
			s.log.Warn("failed to flip expired account",
				zap.String("user_id", userID.String()),
				zap.String("credit_type", string(creditType)),
				zap.Error(err),
			)
		}
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) CheckAffordable(ctx context.Context, userID snowflake.ID, creditType ledgerdomain.CreditType, estimatedCredits int64) (ledgerdomain.Affordability, error) {
	if estimatedCredits < 0 {
		return ledgerdomain.Affordability{}, ledgerdomain.ErrInvalidCredits
	}

	account, err := s.GetActive(ctx, userID, creditType)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
			return ledgerdomain.Affordability{
				Sufficient: false,
				Balance:    0,
				Shortfall:  estimatedCredits,
			}, nil
		}
		return ledgerdomain.Affordability{}, err
	}

	remaining := account.Remaining()
	result := ledgerdomain.Affordability{
		Sufficient: remaining >= estimatedCredits,
		Balance:    remaining,
	}
	if !result.Sufficient {
		result.Shortfall = estimatedCredits - remaining
	}
	return result, nil
}

func (s *Service) DeductAtomically(ctx context.Context, req ledgerdomain.DeductRequest) (*ledgerdomain.CreditAccount, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if !req.CreditType.Valid() {
		return nil, ledgerdomain.ErrInvalidType
	}
	if req.Credits < 0 {
		return nil, ledgerdomain.ErrInvalidCredits
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		return nil, ledgerdomain.ErrInvalidRequestID
	}

	// Idempotency probe before any mutation: a retry after an ambiguous
	// failure must find the committed record and not deduct again.
	existing, err := s.repo.FindUsageByRequestID(ctx, s.db, requestID)
	if err != nil {
		return nil, transient("idempotency_probe", err)
	}
	if existing != nil {
		return s.replay(ctx, requestID, existing)
	}

	now := s.clock.Now().UTC()
	var updated *ledgerdomain.CreditAccount

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindCurrentForUpdate(ctx, tx, req.UserID, req.CreditType)
		if err != nil {
			return transient("lock_account", err)
		}
		if account == nil {
			return ledgerdomain.ErrAccountNotFound
		}
		if account.ExpiredAt(now) {
			if err := s.repo.FlipCurrent(ctx, tx, req.UserID, req.CreditType, now); err != nil {
				return transient("flip_expired", err)
			}
			return ledgerdomain.ErrBillingPeriodExpired
		}

		// Strict post-hoc check against the actual cost, even when a
		// pre-flight estimate already passed.
		if account.Remaining() < req.Credits {
			s.log.Error("post-hoc deduction rejected with vendor cost already incurred",
				zap.String("user_id", req.UserID.String()),
				zap.String("request_id", requestID),
				zap.Int64("balance", account.Remaining()),
				zap.Int64("credits", req.Credits),
				zap.Int64("shortfall", req.Credits-account.Remaining()),
			)
			if s.metrics != nil {
				s.metrics.IncInsufficientCredits()
			}
			return ledgerdomain.ErrInsufficientCredits
		}

		if err := s.repo.IncrementUsed(ctx, tx, account.ID, req.Credits, now); err != nil {
			return transient("increment_used", err)
		}

		record := req.Usage
		record.ID = s.genID.Generate()
		record.RequestID = requestID
		record.UserID = req.UserID
		record.AccountID = account.ID
		record.CreditsDeducted = req.Credits
		if record.Status == "" {
			record.Status = ledgerdomain.UsageStatusSuccess
		}
		record.CreatedAt = now
		if err := s.repo.InsertUsage(ctx, tx, &record); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errDuplicateRequest
			}
			return transient("insert_usage", err)
		}

		account.UsedCredits += req.Credits
		account.UpdatedAt = now
		updated = account
		return nil
	})
	if err != nil {
		if errors.Is(err, errDuplicateRequest) {
			existing, probeErr := s.repo.FindUsageByRequestID(ctx, s.db, requestID)
			if probeErr != nil || existing == nil {
				return nil, transient("replay_probe", err)
			}
			return s.replay(ctx, requestID, existing)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordDeduction(string(req.CreditType), req.Credits)
	}
	if s.observer != nil {
		s.observer.Evaluate(updated)
	}
	return updated, nil
}

func (s *Service) Allocate(ctx context.Context, req ledgerdomain.AllocateRequest) (*ledgerdomain.CreditAccount, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if !req.CreditType.Valid() {
		return nil, ledgerdomain.ErrInvalidType
	}
	if req.TotalCredits <= 0 {
		return nil, ledgerdomain.ErrInvalidCredits
	}
	if req.PeriodStart.IsZero() || !req.PeriodEnd.After(req.PeriodStart) {
		return nil, ledgerdomain.ErrInvalidPeriod
	}

	now := s.clock.Now().UTC()
	monthlyAllocation := req.MonthlyAllocation
	if monthlyAllocation == 0 {
		monthlyAllocation = req.TotalCredits
	}

	account := &ledgerdomain.CreditAccount{
		ID:                 s.genID.Generate(),
		UserID:             req.UserID,
		SubscriptionID:     req.SubscriptionID,
		CreditType:         req.CreditType,
		TotalCredits:       req.TotalCredits,
		UsedCredits:        0,
		MonthlyAllocation:  monthlyAllocation,
		BillingPeriodStart: req.PeriodStart.UTC(),
		BillingPeriodEnd:   req.PeriodEnd.UTC(),
		IsCurrent:          true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Flip-then-insert in one transaction: a crash between the two
		// must never leave two current rows.
		if err := s.repo.FlipCurrent(ctx, tx, req.UserID, req.CreditType, now); err != nil {
			return transient("flip_current", err)
		}
		if err := s.repo.InsertAccount(ctx, tx, account); err != nil {
			return transient("insert_account", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("credit account allocated",
		zap.String("user_id", req.UserID.String()),
		zap.String("credit_type", string(req.CreditType)),
		zap.Int64("total_credits", req.TotalCredits),
		zap.Time("period_end", account.BillingPeriodEnd),
	)
	return account, nil
}

func (s *Service) TopUp(ctx context.Context, req ledgerdomain.TopUpRequest) (*ledgerdomain.CreditAccount, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if !req.CreditType.Valid() {
		return nil, ledgerdomain.ErrInvalidType
	}
	if req.Credits <= 0 {
		return nil, ledgerdomain.ErrInvalidCredits
	}

	now := s.clock.Now().UTC()
	var updated *ledgerdomain.CreditAccount

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindCurrentForUpdate(ctx, tx, req.UserID, req.CreditType)
		if err != nil {
			return transient("lock_account", err)
		}
		if account == nil {
			return ledgerdomain.ErrAccountNotFound
		}
		if account.ExpiredAt(now) {
			return ledgerdomain.ErrBillingPeriodExpired
		}
		if err := s.repo.IncrementTotal(ctx, tx, account.ID, req.Credits, now); err != nil {
			return transient("increment_total", err)
		}
		account.TotalCredits += req.Credits
		account.UpdatedAt = now
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) ListUsage(ctx context.Context, req ledgerdomain.ListUsageRequest) (ledgerdomain.ListUsageResponse, error) {
	if req.UserID == 0 {
		return ledgerdomain.ListUsageResponse{}, ledgerdomain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	var cursorCreatedAt *time.Time
	var cursorID snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.ListUsageResponse{}, err
		}
		if cursor.CreatedAt != "" {
			parsed, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			if err != nil {
				return ledgerdomain.ListUsageResponse{}, err
			}
			cursorCreatedAt = &parsed
		}
		if cursor.ID != "" {
			id, err := snowflake.ParseString(cursor.ID)
			if err != nil {
				return ledgerdomain.ListUsageResponse{}, err
			}
			cursorID = id
		}
	}

	items, err := s.repo.ListUsage(ctx, s.db, req.UserID, cursorCreatedAt, cursorID, int(pageSize)+1)
	if err != nil {
		return ledgerdomain.ListUsageResponse{}, transient("list_usage", err)
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *ledgerdomain.UsageRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	records := make([]ledgerdomain.UsageRecord, 0, len(items))
	for _, item := range items {
		records = append(records, *item)
	}

	resp := ledgerdomain.ListUsageResponse{UsageRecords: records}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// replay resolves an idempotent retry: the usage record is already
// committed, so return the account it charged without touching the balance.
func (s *Service) replay(ctx context.Context, requestID string, record *ledgerdomain.UsageRecord) (*ledgerdomain.CreditAccount, error) {
	s.log.Info("idempotent deduction replay",
		zap.String("request_id", requestID),
		zap.String("user_id", record.UserID.String()),
	)
	account, err := s.repo.FindByID(ctx, s.db, record.AccountID)
	if err != nil {
		return nil, transient("replay_account", err)
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return account, nil
}

// transient wraps storage failures as retryable while letting domain
// sentinels pass through untouched.
func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, ledgerdomain.ErrInsufficientCredits),
		errors.Is(err, ledgerdomain.ErrBillingPeriodExpired):
		return err
	}
	return &ledgerdomain.TransientError{Op: op, Err: err}
}
