package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/inferbill/inferbill/pkg/db/pagination"
)

// Affordability is the advisory result of a pre-flight balance check. It is
// not a reservation: no lock is held between the check and a later
// deduction, so a passing check can still be followed by a rejection.
type Affordability struct {
	Sufficient bool  `json:"sufficient"`
	Balance    int64 `json:"balance"`
	Shortfall  int64 `json:"shortfall"`
}

// DeductRequest carries the post-hoc actual cost of a completed request. The
// embedded usage fields are persisted verbatim alongside the balance
// mutation.
type DeductRequest struct {
	UserID     snowflake.ID
	CreditType CreditType
	Credits    int64
	RequestID  string
	Usage      UsageRecord
}

type AllocateRequest struct {
	UserID            snowflake.ID
	SubscriptionID    *snowflake.ID
	CreditType        CreditType
	TotalCredits      int64
	MonthlyAllocation int64
	PeriodStart       time.Time
	PeriodEnd         time.Time
}

type TopUpRequest struct {
	UserID     snowflake.ID
	CreditType CreditType
	Credits    int64
}

type ListUsageRequest struct {
	UserID    snowflake.ID
	PageToken string
	PageSize  int32
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageRecords []UsageRecord `json:"usage_records"`
}

// Service owns the mutable balance and the append-only usage stream.
type Service interface {
	// GetActive returns the current account, lazily flipping an elapsed
	// period to non-current and reporting ErrAccountNotFound for it.
	GetActive(ctx context.Context, userID snowflake.ID, creditType CreditType) (*CreditAccount, error)

	// CheckAffordable is the lock-free pre-flight gate evaluated before
	// the external vendor call.
	CheckAffordable(ctx context.Context, userID snowflake.ID, creditType CreditType, estimatedCredits int64) (Affordability, error)

	// DeductAtomically re-checks the balance under a row lock, increments
	// used credits, and appends the usage record in one transaction.
	// Replays with a known RequestID return the current account without a
	// second deduction.
	DeductAtomically(ctx context.Context, req DeductRequest) (*CreditAccount, error)

	// Allocate inserts a new current account and flips any previous
	// current row for the same user+creditType, atomically.
	Allocate(ctx context.Context, req AllocateRequest) (*CreditAccount, error)

	// TopUp raises total_credits on the current account under the same
	// row lock deductions use.
	TopUp(ctx context.Context, req TopUpRequest) (*CreditAccount, error)

	ListUsage(ctx context.Context, req ListUsageRequest) (ListUsageResponse, error)
}

var (
	ErrAccountNotFound = errors.New("credit_account_not_found")
	// ErrInsufficientCredits is terminal for the request: the caller must
	// not retry until the user adds credits.
	ErrInsufficientCredits = errors.New("insufficient_credits")
	// ErrBillingPeriodExpired is terminal until a new allocation replaces
	// the elapsed account.
	ErrBillingPeriodExpired = errors.New("billing_period_expired")

	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidCredits   = errors.New("invalid_credits")
	ErrInvalidType      = errors.New("invalid_credit_type")
	ErrInvalidRequestID = errors.New("invalid_request_id")
	ErrInvalidPeriod    = errors.New("invalid_billing_period")
)

// TransientError wraps database timeouts and connection failures so callers
// can distinguish a retryable deduction from a terminal rejection. Retrying
// with the same RequestID is safe: the idempotency probe prevents a double
// charge after an ambiguous commit.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient ledger failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
