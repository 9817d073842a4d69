// Package domain defines the core entities, errors, and collaborator
// interfaces for the coinduel escrow-and-settlement engine.
package domain

import "time"

// Leg identifies one side of the two-party deposit.
type Leg string

const (
	// LegStable is the stable-asset side (fixed USDC amount).
	LegStable Leg = "stable"
	// LegVolatile is the volatile-asset side (fixed WBTC amount).
	LegVolatile Leg = "volatile"
)

// BetStatus is the derived lifecycle state of a bet.
type BetStatus string

const (
	// BetStatusOpen means the bet is awaiting one or both deposits.
	BetStatusOpen BetStatus = "open"
	// BetStatusActive means both legs are funded and the settlement window
	// is running.
	BetStatusActive BetStatus = "active"
	// BetStatusSettled means the winner has been paid both legs.
	BetStatusSettled BetStatus = "settled"
)

// Bet is the sole persistent entity: a single binary wager between a
// stable-asset depositor and a volatile-asset depositor. A bet is never
// deleted; once settled it remains as an auditable record and accepts no
// further funding or settlement.
type Bet struct {
	// ID is unique, monotonically assigned, and never reused.
	ID int64

	// PartyStable and PartyVolatile are the two counterparties, fixed at
	// creation and never reassigned. They may be equal (self-bet).
	PartyStable   string
	PartyVolatile string

	// StableFunded and VolatileFunded track independent deposit completion.
	StableFunded   bool
	VolatileFunded bool

	// StartTimestamp is zero until both deposits are present. Once set it
	// marks the beginning of the settlement window and is never reset to a
	// different nonzero value.
	StartTimestamp time.Time

	// Settled is true only after the winner has been paid both legs.
	Settled bool

	// Winner is the address paid at settlement; empty until settled.
	Winner string

	// SettlementPrice is the normalized oracle price observed at settlement;
	// zero until settled.
	SettlementPrice int64

	CreatedAt time.Time
	UpdatedAt time.Time
	SettledAt *time.Time
}

// Activated reports whether both legs have been funded and the settlement
// window has begun.
func (b Bet) Activated() bool {
	return !b.StartTimestamp.IsZero()
}

// Funded reports whether the given leg currently has escrowed funds. Custody
// is derived from the leg flag and the settled flag: a leg's deposit is
// present iff its flag is true and the bet is not settled.
func (b Bet) Funded(leg Leg) bool {
	if b.Settled {
		return false
	}
	if leg == LegStable {
		return b.StableFunded
	}
	return b.VolatileFunded
}

// PartyFor returns the designated depositor for the given leg.
func (b Bet) PartyFor(leg Leg) string {
	if leg == LegStable {
		return b.PartyStable
	}
	return b.PartyVolatile
}

// Status derives the lifecycle state from the persisted flags.
func (b Bet) Status() BetStatus {
	switch {
	case b.Settled:
		return BetStatusSettled
	case b.Activated():
		return BetStatusActive
	default:
		return BetStatusOpen
	}
}

// SettleDeadline returns the instant at which settlement becomes permitted
// for an activated bet. It is meaningless for unactivated bets.
func (b Bet) SettleDeadline(window time.Duration) time.Time {
	return b.StartTimestamp.Add(window)
}
