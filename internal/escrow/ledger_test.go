package escrow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/alanyoungcy/coinduel/internal/domain"
)

// memToken is an in-memory ERC-20 style token with balances and allowances.
type memToken struct {
	mu        sync.Mutex
	balances  map[string]*big.Int
	allowance map[string]*big.Int // from -> amount approved for the escrow
	failNext  bool
}

func newMemToken() *memToken {
	return &memToken{
		balances:  make(map[string]*big.Int),
		allowance: make(map[string]*big.Int),
	}
}

func (t *memToken) mint(owner string, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[owner] = big.NewInt(amount)
}

func (t *memToken) approve(from string, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowance[from] = big.NewInt(amount)
}

func (t *memToken) balance(owner string) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (t *memToken) Transfer(ctx context.Context, to string, amount *big.Int) error {
	return t.move(t.custodyOwner(), to, amount, false)
}

func (t *memToken) TransferFrom(ctx context.Context, from, to string, amount *big.Int) error {
	return t.move(from, to, amount, true)
}

func (t *memToken) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	return t.balance(owner), nil
}

// custodyOwner mirrors the fixture custody address used in tests.
func (t *memToken) custodyOwner() string { return custodyAddr }

func (t *memToken) move(from, to string, amount *big.Int, checkAllowance bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failNext {
		t.failNext = false
		return errors.New("injected failure")
	}

	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	if checkAllowance {
		allow, ok := t.allowance[from]
		if !ok || allow.Cmp(amount) < 0 {
			return errors.New("insufficient allowance")
		}
		allow.Sub(allow, amount)
	}

	bal.Sub(bal, amount)
	if _, ok := t.balances[to]; !ok {
		t.balances[to] = big.NewInt(0)
	}
	t.balances[to].Add(t.balances[to], amount)
	return nil
}

const (
	custodyAddr = "0x00000000000000000000000000000000000c0de5"
	alice       = "0x000000000000000000000000000000000000a11c"
	bob         = "0x0000000000000000000000000000000000000b0b"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger() (*Ledger, *memToken, *memToken) {
	stable := newMemToken()
	volatile := newMemToken()
	l := New(stable, volatile, custodyAddr, big.NewInt(1_000_000), big.NewInt(100), discardLogger())
	return l, stable, volatile
}

func TestPullIn_MovesFixedAmountIntoCustody(t *testing.T) {
	l, stable, _ := newTestLedger()
	stable.mint(alice, 5_000_000)
	stable.approve(alice, 1_000_000)

	if err := l.PullIn(context.Background(), domain.LegStable, alice); err != nil {
		t.Fatalf("PullIn: %v", err)
	}

	if got := stable.balance(custodyAddr); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("custody balance = %s, want 1000000", got)
	}
	if got := stable.balance(alice); got.Cmp(big.NewInt(4_000_000)) != 0 {
		t.Errorf("depositor balance = %s, want 4000000", got)
	}
}

func TestPullIn_FailsWithoutAllowance(t *testing.T) {
	l, stable, _ := newTestLedger()
	stable.mint(alice, 5_000_000)

	err := l.PullIn(context.Background(), domain.LegStable, alice)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("PullIn error = %v, want ErrTransferFailed", err)
	}
	if got := stable.balance(custodyAddr); got.Sign() != 0 {
		t.Errorf("custody balance = %s after failed pull, want 0", got)
	}
}

func TestPushOut_FailsOnInsufficientCustody(t *testing.T) {
	l, _, volatile := newTestLedger()
	volatile.mint(custodyAddr, 50) // less than the fixed 100

	err := l.PushOut(context.Background(), domain.LegVolatile, bob)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("PushOut error = %v, want ErrTransferFailed", err)
	}
	if got := volatile.balance(bob); got.Sign() != 0 {
		t.Errorf("recipient balance = %s after failed push, want 0", got)
	}
}

func TestPushOut_RoundTrip(t *testing.T) {
	l, stable, volatile := newTestLedger()
	stable.mint(custodyAddr, 1_000_000)
	volatile.mint(custodyAddr, 100)

	if err := l.PushOut(context.Background(), domain.LegStable, bob); err != nil {
		t.Fatalf("push stable: %v", err)
	}
	if err := l.PushOut(context.Background(), domain.LegVolatile, bob); err != nil {
		t.Fatalf("push volatile: %v", err)
	}

	if got := stable.balance(bob); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("stable payout = %s, want 1000000", got)
	}
	if got := volatile.balance(bob); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("volatile payout = %s, want 100", got)
	}
}

func TestCheckCustody(t *testing.T) {
	l, stable, volatile := newTestLedger()
	stable.mint(custodyAddr, 1_000_000)
	volatile.mint(custodyAddr, 99)

	if err := l.CheckCustody(context.Background(), domain.LegStable); err != nil {
		t.Errorf("stable custody check: %v", err)
	}
	if err := l.CheckCustody(context.Background(), domain.LegStable, domain.LegVolatile); err == nil {
		t.Error("expected custody check to fail for short volatile leg")
	}
}
