package domain

// BalanceObserver is notified after a committed deduction. Implementations
// must be non-blocking; observer failures never affect the transaction that
// already committed.
type BalanceObserver interface {
	Evaluate(account *CreditAccount)
}
