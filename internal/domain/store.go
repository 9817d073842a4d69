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

// BetStore persists bets. Implementations must assign monotonically
// increasing identifiers that are never reused, even for bets that were
// later withdrawn.
type BetStore interface {
	// Create inserts a fresh bet and returns its assigned id.
	Create(ctx context.Context, bet Bet) (int64, error)
	GetByID(ctx context.Context, id int64) (Bet, error)
	// Update replaces the mutable fields of an existing bet. Callers must
	// hold the per-bet lock so the read-modify-write is atomic.
	Update(ctx context.Context, bet Bet) error
	List(ctx context.Context, opts ListOpts) ([]Bet, error)
	// ListDue returns activated, unsettled bets whose settlement window began
	// at or before the given cutoff.
	ListDue(ctx context.Context, activatedBefore time.Time) ([]Bet, error)
	// ListClosedBefore returns settled bets whose settlement happened
	// strictly before the cutoff, for archival.
	ListClosedBefore(ctx context.Context, before time.Time) ([]Bet, error)
	Count(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of state transitions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
