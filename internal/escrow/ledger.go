// Package escrow implements the balance-moving side effects of bet state
// transitions: pulling fixed deposits into custody and pushing payouts and
// refunds back out.
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/coinduel/internal/domain"
)

// Ledger moves the two fixed per-leg amounts between the parties and the
// escrow custody address. Each call is a single atomic collaborator
// operation: it either fully succeeds or has no effect, so the registry can
// safely refuse to flip a flag unless the corresponding call returned nil.
//
// The Ledger only ever moves the fixed amount for a leg, which is what makes
// flag-derived per-bet custody exact: one bet's funds can never be consumed
// by another bet's payout as long as flags are only flipped on confirmed
// transfers.
type Ledger struct {
	stable   domain.Token
	volatile domain.Token

	custody     string
	stableAmt   *big.Int
	volatileAmt *big.Int

	logger *slog.Logger
}

// New creates a Ledger over the two asset collaborators. custody is the
// address holding escrowed funds; stableAmt and volatileAmt are the fixed
// per-leg deposit amounts in base units.
func New(stable, volatile domain.Token, custody string, stableAmt, volatileAmt *big.Int, logger *slog.Logger) *Ledger {
	return &Ledger{
		stable:      stable,
		volatile:    volatile,
		custody:     custody,
		stableAmt:   stableAmt,
		volatileAmt: volatileAmt,
		logger:      logger.With(slog.String("component", "escrow")),
	}
}

// Amount returns the fixed deposit amount for the given leg.
func (l *Ledger) Amount(leg domain.Leg) *big.Int {
	if leg == domain.LegStable {
		return new(big.Int).Set(l.stableAmt)
	}
	return new(big.Int).Set(l.volatileAmt)
}

func (l *Ledger) token(leg domain.Leg) domain.Token {
	if leg == domain.LegStable {
		return l.stable
	}
	return l.volatile
}

// PullIn moves the leg's fixed amount from the depositor into custody. It
// fails without side effects when the depositor's balance or allowance is
// insufficient.
func (l *Ledger) PullIn(ctx context.Context, leg domain.Leg, from string) error {
	if err := l.token(leg).TransferFrom(ctx, from, l.custody, l.Amount(leg)); err != nil {
		return fmt.Errorf("escrow: pull %s leg from %s: %w: %w", leg, from, domain.ErrTransferFailed, err)
	}
	l.logger.DebugContext(ctx, "deposit pulled into custody",
		slog.String("leg", string(leg)),
		slog.String("from", from),
	)
	return nil
}

// PushOut moves the leg's fixed amount from custody to the given address.
// It fails without side effects when custody does not hold the amount.
func (l *Ledger) PushOut(ctx context.Context, leg domain.Leg, to string) error {
	if err := l.token(leg).Transfer(ctx, to, l.Amount(leg)); err != nil {
		return fmt.Errorf("escrow: push %s leg to %s: %w: %w", leg, to, domain.ErrTransferFailed, err)
	}
	l.logger.DebugContext(ctx, "funds pushed out of custody",
		slog.String("leg", string(leg)),
		slog.String("to", to),
	)
	return nil
}

// CheckCustody verifies that custody holds at least the fixed amounts for
// the given legs. It is called before settlement payouts so a payout failure
// after the settled mark is only reachable through a misbehaving token.
func (l *Ledger) CheckCustody(ctx context.Context, legs ...domain.Leg) error {
	for _, leg := range legs {
		bal, err := l.token(leg).BalanceOf(ctx, l.custody)
		if err != nil {
			return fmt.Errorf("escrow: custody balance for %s leg: %w", leg, err)
		}
		if bal.Cmp(l.Amount(leg)) < 0 {
			return fmt.Errorf("escrow: custody holds %s of %s leg, need %s: %w",
				bal, leg, l.Amount(leg), domain.ErrTransferFailed)
		}
	}
	return nil
}
