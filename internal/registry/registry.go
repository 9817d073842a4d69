// Package registry owns the collection of bets and enforces the per-bet
// lifecycle state machine: create, fund, activate, settle, or withdraw
// stale. All escrow movements happen as side effects of transitions here,
// and every mutation of a bet runs under that bet's lock.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/coinduel/internal/domain"
	"github.com/alanyoungcy/coinduel/internal/escrow"
	"github.com/alanyoungcy/coinduel/internal/events"
	"github.com/alanyoungcy/coinduel/internal/metrics"
	"github.com/alanyoungcy/coinduel/internal/oracle"
)

// dlockTTL bounds how long a crashed instance can hold a distributed
// per-bet lock.
const dlockTTL = 30 * time.Second

// betsChannel is the pub/sub channel and stream carrying lifecycle events.
const (
	betsChannel = "bets"
	betsStream  = "stream:bets"
)

// EventPublisher publishes serialized lifecycle events to an external
// broker. Satisfied by events.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, betID int64, payload []byte) error
}

// Notifier delivers operator-facing notifications. Satisfied by
// notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Deps bundles everything the registry needs. Store, Ledger, Oracle, Clock,
// Window, Threshold, and Logger are required; the rest are optional side
// channels that are skipped when nil.
type Deps struct {
	Store  domain.BetStore
	Ledger *escrow.Ledger
	Oracle *oracle.Adapter
	Clock  domain.Clock

	// Window is the settlement window length; settlement is permitted once
	// the current time is at or past StartTimestamp + Window.
	Window time.Duration

	// Threshold is the winning price boundary at the oracle adapter's
	// normalized scale. Strictly above it the volatile party wins; at or
	// below it the stable party wins.
	Threshold int64

	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Producer EventPublisher
	Notifier Notifier

	// DLocks adds cross-instance exclusion on top of the in-process per-bet
	// mutex for deployments running multiple replicas.
	DLocks domain.LockManager

	Logger *slog.Logger
}

// Registry is the bet lifecycle state machine.
type Registry struct {
	deps  Deps
	locks *keyedMutex
}

// New creates a Registry from the given dependencies.
func New(deps Deps) *Registry {
	deps.Logger = deps.Logger.With(slog.String("component", "registry"))
	return &Registry{
		deps:  deps,
		locks: newKeyedMutex(),
	}
}

// CreateBet allocates the next identifier and stores a fresh bet with both
// parties fixed and all flags zeroed. No funds move and any account may
// propose a pairing, so there is no authorization check.
func (r *Registry) CreateBet(ctx context.Context, partyStable, partyVolatile string) (domain.Bet, error) {
	partyStable = normalizeAddr(partyStable)
	partyVolatile = normalizeAddr(partyVolatile)
	if partyStable == "" || partyVolatile == "" {
		return domain.Bet{}, fmt.Errorf("registry: create bet: both party addresses are required")
	}

	now := r.deps.Clock.Now()
	bet := domain.Bet{
		PartyStable:   partyStable,
		PartyVolatile: partyVolatile,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	id, err := r.deps.Store.Create(ctx, bet)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("registry: create bet: %w", err)
	}
	bet.ID = id

	metrics.BetsCreated.Inc()
	r.emit(ctx, events.FromBet(events.TypeBetCreated, bet, now), map[string]any{
		"bet_id":         bet.ID,
		"party_stable":   bet.PartyStable,
		"party_volatile": bet.PartyVolatile,
	})

	r.deps.Logger.InfoContext(ctx, "bet created",
		slog.Int64("bet_id", bet.ID),
		slog.String("party_stable", bet.PartyStable),
		slog.String("party_volatile", bet.PartyVolatile),
	)
	return bet, nil
}

// AddStableDeposit funds the stable leg. Callable only by the bet's stable
// party; activates the settlement window when the volatile leg is already
// funded.
func (r *Registry) AddStableDeposit(ctx context.Context, id int64, caller string) (domain.Bet, error) {
	return r.addDeposit(ctx, id, caller, domain.LegStable)
}

// AddVolatileDeposit funds the volatile leg. Callable only by the bet's
// volatile party; activates the settlement window when the stable leg is
// already funded.
func (r *Registry) AddVolatileDeposit(ctx context.Context, id int64, caller string) (domain.Bet, error) {
	return r.addDeposit(ctx, id, caller, domain.LegVolatile)
}

func (r *Registry) addDeposit(ctx context.Context, id int64, caller string, leg domain.Leg) (domain.Bet, error) {
	caller = normalizeAddr(caller)

	unlock, err := r.lockBet(ctx, id)
	if err != nil {
		return domain.Bet{}, err
	}
	defer unlock()

	bet, err := r.deps.Store.GetByID(ctx, id)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("registry: deposit %s leg of bet %d: %w", leg, id, err)
	}

	if !strings.EqualFold(caller, bet.PartyFor(leg)) {
		return domain.Bet{}, fmt.Errorf("registry: deposit %s leg of bet %d by %s: %w", leg, id, caller, domain.ErrNotParty)
	}
	if bet.Settled {
		return domain.Bet{}, fmt.Errorf("registry: deposit %s leg of bet %d: %w", leg, id, domain.ErrAlreadySettled)
	}
	if legFunded(bet, leg) {
		return domain.Bet{}, fmt.Errorf("registry: deposit %s leg of bet %d: %w", leg, id, domain.ErrLegFunded)
	}

	// Move funds first; the flag must never reflect a transfer that has not
	// unconditionally completed.
	if err := r.deps.Ledger.PullIn(ctx, leg, caller); err != nil {
		return domain.Bet{}, fmt.Errorf("registry: deposit %s leg of bet %d: %w", leg, id, err)
	}

	now := r.deps.Clock.Now()
	setLegFunded(&bet, leg)
	activated := false
	if bet.StableFunded && bet.VolatileFunded && !bet.Activated() {
		bet.StartTimestamp = now
		activated = true
	}
	bet.UpdatedAt = now

	if err := r.deps.Store.Update(ctx, bet); err != nil {
		// The deposit is already in custody; push it back so the caller is
		// not left with escrowed funds the store never recorded.
		if refundErr := r.deps.Ledger.PushOut(ctx, leg, caller); refundErr != nil {
			r.deps.Logger.ErrorContext(ctx, "deposit compensation failed; funds held without record",
				slog.Int64("bet_id", id),
				slog.String("leg", string(leg)),
				slog.String("error", refundErr.Error()),
			)
			return domain.Bet{}, fmt.Errorf("registry: record deposit for bet %d: %w (compensation failed: %w)", id, err, refundErr)
		}
		return domain.Bet{}, fmt.Errorf("registry: record deposit for bet %d: %w", id, err)
	}

	metrics.LegsFunded.WithLabelValues(string(leg)).Inc()
	evt := events.FromBet(events.TypeLegFunded, bet, now)
	evt.Leg = string(leg)
	evt.Caller = caller
	r.emit(ctx, evt, map[string]any{
		"bet_id": id,
		"leg":    string(leg),
		"caller": caller,
	})

	if activated {
		metrics.BetsActivated.Inc()
		r.emit(ctx, events.FromBet(events.TypeBetActivated, bet, now), map[string]any{
			"bet_id":   id,
			"start_ts": bet.StartTimestamp.Format(time.RFC3339),
		})
		r.notify(ctx, "bet_activated", "Bet activated",
			fmt.Sprintf("Bet %d is fully funded; settlement window ends %s.",
				id, bet.SettleDeadline(r.deps.Window).Format(time.RFC3339)))
	}

	r.deps.Logger.InfoContext(ctx, "leg funded",
		slog.Int64("bet_id", id),
		slog.String("leg", string(leg)),
		slog.Bool("activated", activated),
	)
	return bet, nil
}

// SettleBet settles an activated bet whose window has elapsed. It is
// permissionless: the outcome depends only on the oracle, not on the caller.
func (r *Registry) SettleBet(ctx context.Context, id int64) (domain.Bet, error) {
	unlock, err := r.lockBet(ctx, id)
	if err != nil {
		return domain.Bet{}, err
	}
	defer unlock()

	bet, err := r.deps.Store.GetByID(ctx, id)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("registry: settle bet %d: %w", id, err)
	}

	if bet.Settled {
		return domain.Bet{}, r.settleFailure(id, "already_settled", domain.ErrAlreadySettled)
	}
	if !bet.Activated() {
		return domain.Bet{}, r.settleFailure(id, "not_activated", domain.ErrStillPending)
	}
	now := r.deps.Clock.Now()
	if now.Before(bet.SettleDeadline(r.deps.Window)) {
		return domain.Bet{}, r.settleFailure(id, "window_open", domain.ErrWindowOpen)
	}

	price, err := r.deps.Oracle.CurrentPrice(ctx)
	if err != nil {
		return domain.Bet{}, r.settleFailure(id, "oracle", err)
	}

	winner := bet.PartyStable
	winnerSide := domain.LegStable
	if price > r.deps.Threshold {
		winner = bet.PartyVolatile
		winnerSide = domain.LegVolatile
	}

	// Both payouts must be coverable before the settled mark is committed;
	// after the mark, a payout failure is only reachable through a
	// misbehaving token.
	if err := r.deps.Ledger.CheckCustody(ctx, domain.LegStable, domain.LegVolatile); err != nil {
		return domain.Bet{}, r.settleFailure(id, "custody", err)
	}

	// Commit the settled mark before paying out so a concurrent or re-entrant
	// settle attempt observes the bet as settled and cannot double-pay.
	settledAt := now
	bet.Settled = true
	bet.Winner = winner
	bet.SettlementPrice = price
	bet.SettledAt = &settledAt
	bet.UpdatedAt = now
	if err := r.deps.Store.Update(ctx, bet); err != nil {
		return domain.Bet{}, r.settleFailure(id, "store", fmt.Errorf("registry: mark settled: %w", err))
	}

	if err := r.deps.Ledger.PushOut(ctx, domain.LegStable, winner); err != nil {
		// Nothing has been paid; revert the mark so the settlement can be
		// retried and the bet is not recorded as paid out.
		r.revertSettleMark(ctx, bet)
		return domain.Bet{}, r.settleFailure(id, "payout_stable", err)
	}
	if err := r.deps.Ledger.PushOut(ctx, domain.LegVolatile, winner); err != nil {
		// The stable leg is already paid. Keep the settled mark so a retry
		// cannot double-pay it, record the partial payout loudly, and
		// surface the failure for operator remediation.
		r.deps.Logger.ErrorContext(ctx, "partial settlement payout",
			slog.Int64("bet_id", id),
			slog.String("winner", winner),
			slog.String("unpaid_leg", string(domain.LegVolatile)),
			slog.String("error", err.Error()),
		)
		if r.deps.Audit != nil {
			_ = r.deps.Audit.Log(ctx, "bet.settlement_partial", map[string]any{
				"bet_id":     id,
				"winner":     winner,
				"unpaid_leg": string(domain.LegVolatile),
				"error":      err.Error(),
			})
		}
		r.notify(ctx, "error", "Partial settlement payout",
			fmt.Sprintf("Bet %d: stable leg paid to %s but volatile leg failed: %v", id, winner, err))
		return domain.Bet{}, r.settleFailure(id, "payout_volatile", err)
	}

	metrics.BetsSettled.WithLabelValues(string(winnerSide)).Inc()
	evt := events.FromBet(events.TypeBetSettled, bet, now)
	evt.Winner = winner
	evt.Price = price
	r.emit(ctx, evt, map[string]any{
		"bet_id": id,
		"winner": winner,
		"price":  price,
	})
	r.notify(ctx, "bet_settled", "Bet settled",
		fmt.Sprintf("Bet %d settled at price %d; both legs paid to %s.", id, price, winner))

	r.deps.Logger.InfoContext(ctx, "bet settled",
		slog.Int64("bet_id", id),
		slog.Int64("price", price),
		slog.String("winner", winner),
		slog.String("winner_side", string(winnerSide)),
	)
	return bet, nil
}

// WithdrawStale refunds the funded leg of a never-activated bet. Callable by
// either designated party. A leg with no funds present is skipped, not an
// error; the bet returns to awaiting-funding and may be funded again.
func (r *Registry) WithdrawStale(ctx context.Context, id int64, caller string) (domain.Bet, error) {
	caller = normalizeAddr(caller)

	unlock, err := r.lockBet(ctx, id)
	if err != nil {
		return domain.Bet{}, err
	}
	defer unlock()

	bet, err := r.deps.Store.GetByID(ctx, id)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("registry: withdraw bet %d: %w", id, err)
	}

	if !strings.EqualFold(caller, bet.PartyStable) && !strings.EqualFold(caller, bet.PartyVolatile) {
		return domain.Bet{}, fmt.Errorf("registry: withdraw bet %d by %s: %w", id, caller, domain.ErrNotParty)
	}
	if bet.Settled {
		return domain.Bet{}, fmt.Errorf("registry: withdraw bet %d: %w", id, domain.ErrAlreadySettled)
	}
	if bet.Activated() {
		return domain.Bet{}, fmt.Errorf("registry: withdraw bet %d: %w", id, domain.ErrBetActive)
	}

	// Activation requires both legs, so pre-activation at most one leg holds
	// funds. Refund it to its original depositor; flip the flag only after
	// the refund has unconditionally completed.
	var refunded []domain.Leg
	for _, leg := range []domain.Leg{domain.LegStable, domain.LegVolatile} {
		if !legFunded(bet, leg) {
			continue
		}
		if err := r.deps.Ledger.PushOut(ctx, leg, bet.PartyFor(leg)); err != nil {
			return domain.Bet{}, fmt.Errorf("registry: refund %s leg of bet %d: %w", leg, id, err)
		}
		clearLegFunded(&bet, leg)
		refunded = append(refunded, leg)
	}

	now := r.deps.Clock.Now()
	bet.UpdatedAt = now
	if len(refunded) > 0 {
		if err := r.deps.Store.Update(ctx, bet); err != nil {
			return domain.Bet{}, fmt.Errorf("registry: record withdrawal for bet %d: %w", id, err)
		}
		metrics.BetsWithdrawn.Inc()
	}

	evt := events.FromBet(events.TypeBetWithdrawn, bet, now)
	evt.Caller = caller
	r.emit(ctx, evt, map[string]any{
		"bet_id":   id,
		"caller":   caller,
		"refunded": legNames(refunded),
	})

	r.deps.Logger.InfoContext(ctx, "stale bet withdrawn",
		slog.Int64("bet_id", id),
		slog.String("caller", caller),
		slog.Any("refunded_legs", legNames(refunded)),
	)
	return bet, nil
}

// GetBet returns a bet by id.
func (r *Registry) GetBet(ctx context.Context, id int64) (domain.Bet, error) {
	bet, err := r.deps.Store.GetByID(ctx, id)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("registry: get bet %d: %w", id, err)
	}
	return bet, nil
}

// ListBets returns bets with pagination.
func (r *Registry) ListBets(ctx context.Context, opts domain.ListOpts) ([]domain.Bet, error) {
	bets, err := r.deps.Store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("registry: list bets: %w", err)
	}
	return bets, nil
}

// Count returns the total number of bets ever created.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	n, err := r.deps.Store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("registry: count bets: %w", err)
	}
	return n, nil
}

// CurrentPrice exposes the oracle's live normalized price for the read-only
// API endpoint.
func (r *Registry) CurrentPrice(ctx context.Context) (int64, error) {
	return r.deps.Oracle.CurrentPrice(ctx)
}

// SettleDue settles every activated bet whose window has elapsed. Individual
// failures are logged and do not stop the sweep; it returns the number of
// bets settled.
func (r *Registry) SettleDue(ctx context.Context) (int, error) {
	cutoff := r.deps.Clock.Now().Add(-r.deps.Window)
	due, err := r.deps.Store.ListDue(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("registry: list due bets: %w", err)
	}

	settled := 0
	for _, bet := range due {
		if _, err := r.SettleBet(ctx, bet.ID); err != nil {
			// Another caller may have settled it between the sweep query and
			// the lock; that is not a problem worth logging at error level.
			if errors.Is(err, domain.ErrAlreadySettled) {
				continue
			}
			r.deps.Logger.WarnContext(ctx, "sweep settlement failed",
				slog.Int64("bet_id", bet.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		settled++
	}
	return settled, nil
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

// lockBet acquires the in-process per-bet mutex and, when a distributed lock
// manager is configured, the cross-instance lock as well. The returned
// function releases both.
func (r *Registry) lockBet(ctx context.Context, id int64) (func(), error) {
	unlockLocal := r.locks.lock(id)

	if r.deps.DLocks == nil {
		return unlockLocal, nil
	}

	unlockDist, err := r.deps.DLocks.Acquire(ctx, fmt.Sprintf("bet:%d", id), dlockTTL)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("registry: lock bet %d: %w", id, err)
	}
	return func() {
		unlockDist()
		unlockLocal()
	}, nil
}

// revertSettleMark undoes a committed settled mark after a payout failed
// with nothing transferred. Runs under the bet lock.
func (r *Registry) revertSettleMark(ctx context.Context, bet domain.Bet) {
	bet.Settled = false
	bet.Winner = ""
	bet.SettlementPrice = 0
	bet.SettledAt = nil
	bet.UpdatedAt = r.deps.Clock.Now()
	if err := r.deps.Store.Update(ctx, bet); err != nil {
		r.deps.Logger.ErrorContext(ctx, "failed to revert settled mark after payout failure",
			slog.Int64("bet_id", bet.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) settleFailure(id int64, reason string, err error) error {
	metrics.SettlementFailures.WithLabelValues(reason).Inc()
	return fmt.Errorf("registry: settle bet %d: %w", id, err)
}

// emit publishes an event to the signal bus, the broker, and the audit log.
// Side-channel failures are logged but never fail the operation; the state
// transition has already been committed.
func (r *Registry) emit(ctx context.Context, evt events.BetEvent, detail map[string]any) {
	payload, err := json.Marshal(evt)
	if err != nil {
		r.deps.Logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}

	if r.deps.Bus != nil {
		if err := r.deps.Bus.Publish(ctx, betsChannel, payload); err != nil {
			r.deps.Logger.WarnContext(ctx, "publish event failed",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
		if err := r.deps.Bus.StreamAppend(ctx, betsStream, payload); err != nil {
			r.deps.Logger.WarnContext(ctx, "append event to stream failed",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.deps.Producer != nil {
		if err := r.deps.Producer.Publish(ctx, evt.BetID, payload); err != nil {
			r.deps.Logger.WarnContext(ctx, "broker publish failed",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.deps.Audit != nil {
		if err := r.deps.Audit.Log(ctx, "bet."+evt.Type, detail); err != nil {
			r.deps.Logger.WarnContext(ctx, "audit log failed",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Registry) notify(ctx context.Context, event, title, message string) {
	if r.deps.Notifier == nil {
		return
	}
	if err := r.deps.Notifier.Notify(ctx, event, title, message); err != nil {
		r.deps.Logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func legFunded(bet domain.Bet, leg domain.Leg) bool {
	if leg == domain.LegStable {
		return bet.StableFunded
	}
	return bet.VolatileFunded
}

func setLegFunded(bet *domain.Bet, leg domain.Leg) {
	if leg == domain.LegStable {
		bet.StableFunded = true
	} else {
		bet.VolatileFunded = true
	}
}

func clearLegFunded(bet *domain.Bet, leg domain.Leg) {
	if leg == domain.LegStable {
		bet.StableFunded = false
	} else {
		bet.VolatileFunded = false
	}
}

func legNames(legs []domain.Leg) []string {
	names := make([]string, 0, len(legs))
	for _, l := range legs {
		names = append(names, string(l))
	}
	return names
}

func normalizeAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
