package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore owns trade records and user balances. Escrow and Settle are
// the only two code paths allowed to mutate a balance for trading; both are
// single atomic units (no observer may see a settled trade without its
// balance credit, or vice versa).
type LedgerStore interface {
	// Escrow atomically verifies balance >= stake, debits the stake, and
	// creates the trade in the active state. Two concurrent escrows for the
	// same user must never both pass a check only one can satisfy; the debit
	// is a compare-and-debit, not a read-then-write. Returns
	// ErrInsufficientBalance when the stake cannot be covered.
	Escrow(ctx context.Context, trade FlashTrade) (FlashTrade, error)

	// Settle atomically marks the trade settled with the given outcome and
	// profit, credits stake+profit back to the owner, and appends a
	// Transaction record. A trade settles at most once: on an already
	// settled trade it returns ErrAlreadySettled and changes nothing.
	Settle(ctx context.Context, tradeID string, outcome Outcome, profit float64, exitPrice float64) (SettleResult, error)

	// GetTrade returns a trade by ID.
	GetTrade(ctx context.Context, tradeID string) (FlashTrade, error)

	// ListActive returns every active trade, oldest first. Used by the
	// settlement scheduler's startup reconciliation scan.
	ListActive(ctx context.Context) ([]FlashTrade, error)

	// ListActiveByUser returns a user's active trades, oldest first.
	ListActiveByUser(ctx context.Context, userID string) ([]FlashTrade, error)

	// History returns a user's trades newest first with limit/offset.
	History(ctx context.Context, userID string, opts ListOpts) ([]FlashTrade, error)

	// GetBalance returns a user's current balance.
	GetBalance(ctx context.Context, userID string) (float64, error)

	// AdjustBalance applies an operator credit or debit (amount may be
	// negative) and appends a Transaction record. A debit that would take
	// the balance below zero returns ErrInsufficientBalance.
	AdjustBalance(ctx context.Context, userID string, amount float64, reference string) (float64, error)

	// ListSettledBefore returns settled trades whose settlement time is
	// strictly before the cutoff, oldest first. Used for archival.
	ListSettledBefore(ctx context.Context, before time.Time) ([]FlashTrade, error)

	// DeleteSettledBefore removes settled trades older than the cutoff and
	// returns the number removed. Only called after a successful archive.
	DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error)
}

// PolicyStore persists the operator-controlled outcome policies: one global
// default plus optional per-user overrides. Writes are last-writer-wins.
type PolicyStore interface {
	// GetGlobal returns the global default policy.
	GetGlobal(ctx context.Context) (Policy, error)

	// SetGlobal replaces the global default policy.
	SetGlobal(ctx context.Context, p Policy) error

	// GetForUser returns the effective policy for a user: the per-user
	// override when one exists, otherwise the global default.
	GetForUser(ctx context.Context, userID string) (Policy, error)

	// SetForUser writes a per-user override.
	SetForUser(ctx context.Context, userID string, p Policy) error

	// ClearForUser removes a per-user override so the user falls back to
	// the global default. Clearing a missing override is a no-op.
	ClearForUser(ctx context.Context, userID string) error
}

// TransactionStore reads the append-only balance-mutation log. Writes happen
// inside LedgerStore's atomic operations, never through this interface.
type TransactionStore interface {
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Transaction, error)
}

// PriceCache provides fast access to the latest simulated prices.
type PriceCache interface {
	SetPrice(ctx context.Context, pair string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, pair string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub delivery of event payloads between the
// settlement path and the push-connection hubs.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
