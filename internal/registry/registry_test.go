package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/coinduel/internal/domain"
	"github.com/alanyoungcy/coinduel/internal/escrow"
	"github.com/alanyoungcy/coinduel/internal/oracle"
)

const (
	custody = "0x000000000000000000000000000000000c0de5"
	alice   = "0x00000000000000000000000000000000000a11"
	bob     = "0x00000000000000000000000000000000000b0b"

	testWindow    = 90 * 24 * time.Hour
	testThreshold = int64(100_000)
)

var (
	stableAmt   = big.NewInt(10_000_000_000) // 10,000 USDC at 6 decimals
	volatileAmt = big.NewInt(10_000_000)     // 0.1 WBTC at 8 decimals
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type memStore struct {
	mu      sync.Mutex
	nextID  int64
	bets    map[int64]domain.Bet
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{nextID: 1, bets: make(map[int64]domain.Bet)}
}

func (s *memStore) Create(_ context.Context, bet domain.Bet) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	bet.ID = id
	s.bets[id] = bet
	return id, nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return bet, nil
}

func (s *memStore) Update(_ context.Context, bet domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return errors.New("store down")
	}
	if _, ok := s.bets[bet.ID]; !ok {
		return domain.ErrNotFound
	}
	s.bets[bet.ID] = bet
	return nil
}

func (s *memStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Bet, 0, len(s.bets))
	for _, b := range s.bets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListDue(_ context.Context, activatedBefore time.Time) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	for _, b := range s.bets {
		if b.Activated() && !b.Settled && !b.StartTimestamp.After(activatedBefore) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	for _, b := range s.bets {
		if b.Settled && b.SettledAt != nil && b.SettledAt.Before(before) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID - 1, nil
}

// memToken is an in-memory ERC-20 with injectable per-call failures.
type memToken struct {
	mu           sync.Mutex
	balances     map[string]*big.Int
	allowances   map[string]*big.Int
	failTransfer bool
}

func newMemToken() *memToken {
	return &memToken{
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func (t *memToken) mint(owner string, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[owner] = new(big.Int).Add(t.bal(owner), amount)
}

func (t *memToken) approve(owner string, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[owner] = new(big.Int).Set(amount)
}

func (t *memToken) bal(owner string) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return big.NewInt(0)
}

func (t *memToken) Transfer(_ context.Context, to string, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failTransfer {
		return errors.New("transfer reverted")
	}
	if t.bal(custody).Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	t.balances[custody] = new(big.Int).Sub(t.bal(custody), amount)
	t.balances[to] = new(big.Int).Add(t.bal(to), amount)
	return nil
}

func (t *memToken) TransferFrom(_ context.Context, from, to string, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed, ok := t.allowances[from]
	if !ok || allowed.Cmp(amount) < 0 {
		return errors.New("insufficient allowance")
	}
	if t.bal(from).Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	t.allowances[from] = new(big.Int).Sub(allowed, amount)
	t.balances[from] = new(big.Int).Sub(t.bal(from), amount)
	t.balances[to] = new(big.Int).Add(t.bal(to), amount)
	return nil
}

func (t *memToken) BalanceOf(_ context.Context, owner string) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.bal(owner)), nil
}

type fakeFeed struct {
	mu       sync.Mutex
	price    *big.Int
	decimals uint8
	err      error
}

func (f *fakeFeed) set(price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = big.NewInt(price)
}

func (f *fakeFeed) LatestPrice(context.Context) (*big.Int, uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	return new(big.Int).Set(f.price), f.decimals, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

// ---------------------------------------------------------------------------
// harness
// ---------------------------------------------------------------------------

type harness struct {
	reg      *Registry
	store    *memStore
	stable   *memToken
	volatile *memToken
	feed     *fakeFeed
	clock    *fakeClock
	audit    *memAudit
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	stable := newMemToken()
	volatile := newMemToken()
	feed := &fakeFeed{price: big.NewInt(120_000_00000000), decimals: 8}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	audit := &memAudit{}

	ledger := escrow.New(stable, volatile, custody, stableAmt, volatileAmt, logger)

	reg := New(Deps{
		Store:     store,
		Ledger:    ledger,
		Oracle:    oracle.New(feed),
		Clock:     clock,
		Window:    testWindow,
		Threshold: testThreshold,
		Audit:     audit,
		Logger:    logger,
	})

	return &harness{
		reg:      reg,
		store:    store,
		stable:   stable,
		volatile: volatile,
		feed:     feed,
		clock:    clock,
		audit:    audit,
	}
}

// fundParties mints and approves the fixed deposit amounts for both parties.
func (h *harness) fundParties() {
	h.stable.mint(alice, stableAmt)
	h.stable.approve(alice, stableAmt)
	h.volatile.mint(bob, volatileAmt)
	h.volatile.approve(bob, volatileAmt)
}

// activate creates a bet, funds both legs, and returns it activated.
func (h *harness) activate(t *testing.T) domain.Bet {
	t.Helper()
	ctx := context.Background()
	h.fundParties()

	bet, err := h.reg.CreateBet(ctx, alice, bob)
	if err != nil {
		t.Fatalf("CreateBet: %v", err)
	}
	if _, err := h.reg.AddStableDeposit(ctx, bet.ID, alice); err != nil {
		t.Fatalf("AddStableDeposit: %v", err)
	}
	bet, err = h.reg.AddVolatileDeposit(ctx, bet.ID, bob)
	if err != nil {
		t.Fatalf("AddVolatileDeposit: %v", err)
	}
	if !bet.Activated() {
		t.Fatal("bet not activated after both deposits")
	}
	return bet
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestCreateBet_AssignsMonotonicIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		bet, err := h.reg.CreateBet(ctx, alice, bob)
		if err != nil {
			t.Fatalf("CreateBet: %v", err)
		}
		if bet.ID <= prev {
			t.Fatalf("id %d not greater than previous %d", bet.ID, prev)
		}
		if bet.Activated() || bet.Settled || bet.StableFunded || bet.VolatileFunded {
			t.Fatalf("fresh bet has nonzero state: %+v", bet)
		}
		prev = bet.ID
	}
}

func TestCreateBet_SelfBetAllowed(t *testing.T) {
	h := newHarness(t)
	bet, err := h.reg.CreateBet(context.Background(), alice, alice)
	if err != nil {
		t.Fatalf("CreateBet: %v", err)
	}
	if bet.PartyStable != bet.PartyVolatile {
		t.Fatal("parties differ on a self-bet")
	}
}

func TestAddDeposit_MovesFixedAmountIntoCustody(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)
	got, err := h.reg.AddStableDeposit(ctx, bet.ID, alice)
	if err != nil {
		t.Fatalf("AddStableDeposit: %v", err)
	}
	if !got.StableFunded {
		t.Fatal("stable flag not set")
	}
	if got.Activated() {
		t.Fatal("bet activated with only one leg funded")
	}

	bal, _ := h.stable.BalanceOf(ctx, custody)
	if bal.Cmp(stableAmt) != 0 {
		t.Fatalf("custody holds %s, want %s", bal, stableAmt)
	}
}

func TestAddDeposit_RejectsNonParty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)

	// Bob is the volatile party; he may not fund the stable leg even with
	// funds and allowance in place.
	h.stable.mint(bob, stableAmt)
	h.stable.approve(bob, stableAmt)

	if _, err := h.reg.AddStableDeposit(ctx, bet.ID, bob); !errors.Is(err, domain.ErrNotParty) {
		t.Fatalf("got %v, want ErrNotParty", err)
	}
	if _, err := h.reg.AddVolatileDeposit(ctx, bet.ID, alice); !errors.Is(err, domain.ErrNotParty) {
		t.Fatalf("got %v, want ErrNotParty", err)
	}
}

func TestAddDeposit_CallerAddressCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)
	upper := "0x00000000000000000000000000000000000A11"
	if _, err := h.reg.AddStableDeposit(ctx, bet.ID, upper); err != nil {
		t.Fatalf("mixed-case caller rejected: %v", err)
	}
}

func TestAddDeposit_DoubleFundRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()
	h.stable.mint(alice, stableAmt)
	h.stable.approve(alice, stableAmt)

	bet, _ := h.reg.CreateBet(ctx, alice, bob)
	if _, err := h.reg.AddStableDeposit(ctx, bet.ID, alice); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if _, err := h.reg.AddStableDeposit(ctx, bet.ID, alice); !errors.Is(err, domain.ErrLegFunded) {
		t.Fatalf("got %v, want ErrLegFunded", err)
	}

	// Exactly one fixed amount must be in custody.
	bal, _ := h.stable.BalanceOf(ctx, custody)
	if bal.Cmp(stableAmt) != 0 {
		t.Fatalf("custody holds %s after double-fund attempt, want %s", bal, stableAmt)
	}
}

func TestAddDeposit_TransferFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// No mint, no approval: the pull must fail.
	bet, _ := h.reg.CreateBet(ctx, alice, bob)

	_, err := h.reg.AddStableDeposit(ctx, bet.ID, alice)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	got, _ := h.reg.GetBet(ctx, bet.ID)
	if got.StableFunded {
		t.Fatal("flag set despite failed transfer")
	}
}

func TestAddDeposit_ActivationSetsStartTimestampOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)

	h.clock.advance(time.Hour)
	if _, err := h.reg.AddStableDeposit(ctx, bet.ID, alice); err != nil {
		t.Fatalf("stable deposit: %v", err)
	}
	got, _ := h.reg.GetBet(ctx, bet.ID)
	if got.Activated() {
		t.Fatal("activated after a single deposit")
	}

	h.clock.advance(time.Hour)
	activatedAt := h.clock.Now()
	got, err := h.reg.AddVolatileDeposit(ctx, bet.ID, bob)
	if err != nil {
		t.Fatalf("volatile deposit: %v", err)
	}
	if !got.StartTimestamp.Equal(activatedAt) {
		t.Fatalf("start timestamp %v, want %v", got.StartTimestamp, activatedAt)
	}
}

func TestAddDeposit_UnknownBet(t *testing.T) {
	h := newHarness(t)
	if _, err := h.reg.AddStableDeposit(context.Background(), 404, alice); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSettleBet_RejectsUnactivated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)
	if _, err := h.reg.SettleBet(ctx, bet.ID); !errors.Is(err, domain.ErrStillPending) {
		t.Fatalf("unfunded: got %v, want ErrStillPending", err)
	}

	h.reg.AddStableDeposit(ctx, bet.ID, alice)
	if _, err := h.reg.SettleBet(ctx, bet.ID); !errors.Is(err, domain.ErrStillPending) {
		t.Fatalf("half-funded: got %v, want ErrStillPending", err)
	}
}

func TestSettleBet_RejectsOpenWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)

	h.clock.advance(testWindow - time.Second)
	if _, err := h.reg.SettleBet(ctx, bet.ID); !errors.Is(err, domain.ErrWindowOpen) {
		t.Fatalf("got %v, want ErrWindowOpen", err)
	}
}

func TestSettleBet_VolatileWinsStrictlyAboveThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)

	h.clock.advance(testWindow)
	h.feed.set((testThreshold + 1) * 100_000_000) // one whole unit above, 8 decimals

	got, err := h.reg.SettleBet(ctx, bet.ID)
	if err != nil {
		t.Fatalf("SettleBet: %v", err)
	}
	if got.Winner != bob {
		t.Fatalf("winner %s, want volatile party %s", got.Winner, bob)
	}
	if got.SettlementPrice != testThreshold+1 {
		t.Fatalf("settlement price %d, want %d", got.SettlementPrice, testThreshold+1)
	}

	// Winner receives both legs; custody is emptied.
	sBal, _ := h.stable.BalanceOf(ctx, bob)
	vBal, _ := h.volatile.BalanceOf(ctx, bob)
	if sBal.Cmp(stableAmt) != 0 || vBal.Cmp(volatileAmt) != 0 {
		t.Fatalf("winner holds stable=%s volatile=%s, want %s and %s", sBal, vBal, stableAmt, volatileAmt)
	}
	for name, tok := range map[string]*memToken{"stable": h.stable, "volatile": h.volatile} {
		bal, _ := tok.BalanceOf(ctx, custody)
		if bal.Sign() != 0 {
			t.Fatalf("custody still holds %s of %s after settlement", bal, name)
		}
	}
}

func TestSettleBet_StableWinsAtExactThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)

	h.clock.advance(testWindow)
	h.feed.set(testThreshold * 100_000_000)

	got, err := h.reg.SettleBet(ctx, bet.ID)
	if err != nil {
		t.Fatalf("SettleBet: %v", err)
	}
	if got.Winner != alice {
		t.Fatalf("winner %s at exact threshold, want stable party %s", got.Winner, alice)
	}
}

func TestSettleBet_StableWinsBelowThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)

	h.clock.advance(testWindow)
	h.feed.set(50_000 * 100_000_000)

	got, err := h.reg.SettleBet(ctx, bet.ID)
	if err != nil {
		t.Fatalf("SettleBet: %v", err)
	}
	if got.Winner != alice {
		t.Fatalf("winner %s, want stable party %s", got.Winner, alice)
	}
	sBal, _ := h.stable.BalanceOf(ctx, alice)
	vBal, _ := h.volatile.BalanceOf(ctx, alice)
	if sBal.Cmp(stableAmt) != 0 || vBal.Cmp(volatileAmt) != 0 {
		t.Fatalf("winner holds stable=%s volatile=%s, want both legs", sBal, vBal)
	}
}

func TestSettleBet_SecondSettleRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)

	h.clock.advance(testWindow)
	if _, err := h.reg.SettleBet(ctx, bet.ID); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if _, err := h.reg.SettleBet(ctx, bet.ID); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("got %v, want ErrAlreadySettled", err)
	}
}

func TestSettleBet_OracleFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)

	h.clock.advance(testWindow)
	h.feed.err = errors.New("feed offline")

	if _, err := h.reg.SettleBet(ctx, bet.ID); !errors.Is(err, domain.ErrBadPrice) {
		t.Fatalf("got %v, want ErrBadPrice", err)
	}

	got, _ := h.reg.GetBet(ctx, bet.ID)
	if got.Settled {
		t.Fatal("bet marked settled despite oracle failure")
	}
	bal, _ := h.stable.BalanceOf(ctx, custody)
	if bal.Cmp(stableAmt) != 0 {
		t.Fatalf("custody drained on failed settlement: %s", bal)
	}
}

func TestSettleBet_FirstPayoutFailureRevertsMark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)

	h.clock.advance(testWindow)
	// Fail after CheckCustody passes: the balance is there but the transfer
	// reverts, modeling a misbehaving token.
	h.stable.failTransfer = true

	if _, err := h.reg.SettleBet(ctx, bet.ID); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	got, _ := h.reg.GetBet(ctx, bet.ID)
	if got.Settled || got.Winner != "" || got.SettlementPrice != 0 {
		t.Fatalf("settled mark not reverted: %+v", got)
	}

	// The token recovers and the retry succeeds.
	h.stable.failTransfer = false
	if _, err := h.reg.SettleBet(ctx, bet.ID); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}

func TestSettleBet_SecondPayoutFailureKeepsMark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)

	h.clock.advance(testWindow)
	h.volatile.failTransfer = true

	if _, err := h.reg.SettleBet(ctx, bet.ID); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	// The stable leg was paid, so the mark must stand: a retry double-paying
	// the first leg would be worse than a recorded partial payout.
	got, _ := h.reg.GetBet(ctx, bet.ID)
	if !got.Settled {
		t.Fatal("settled mark reverted after the first leg was paid")
	}

	entries, _ := h.audit.List(ctx, domain.ListOpts{})
	found := false
	for _, e := range entries {
		if e.Event == "bet.settlement_partial" {
			found = true
		}
	}
	if !found {
		t.Fatal("partial payout not recorded in audit log")
	}
}

func TestWithdrawStale_RefundsFundedLeg(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)
	if _, err := h.reg.AddStableDeposit(ctx, bet.ID, alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Either party may trigger the withdrawal; here the volatile party does.
	got, err := h.reg.WithdrawStale(ctx, bet.ID, bob)
	if err != nil {
		t.Fatalf("WithdrawStale: %v", err)
	}
	if got.StableFunded {
		t.Fatal("stable flag still set after refund")
	}

	bal, _ := h.stable.BalanceOf(ctx, alice)
	if bal.Cmp(stableAmt) != 0 {
		t.Fatalf("depositor holds %s after refund, want %s", bal, stableAmt)
	}
	cust, _ := h.stable.BalanceOf(ctx, custody)
	if cust.Sign() != 0 {
		t.Fatalf("custody still holds %s after refund", cust)
	}
}

func TestWithdrawStale_NoFundedLegsIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)
	if _, err := h.reg.WithdrawStale(ctx, bet.ID, alice); err != nil {
		t.Fatalf("WithdrawStale on unfunded bet: %v", err)
	}
}

func TestWithdrawStale_RejectsActivatedAndSettled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)

	if _, err := h.reg.WithdrawStale(ctx, bet.ID, alice); !errors.Is(err, domain.ErrBetActive) {
		t.Fatalf("active: got %v, want ErrBetActive", err)
	}

	h.clock.advance(testWindow)
	if _, err := h.reg.SettleBet(ctx, bet.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := h.reg.WithdrawStale(ctx, bet.ID, alice); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("settled: got %v, want ErrAlreadySettled", err)
	}
}

func TestWithdrawStale_RejectsThirdParty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)
	if _, err := h.reg.WithdrawStale(ctx, bet.ID, "0x0000000000000000000000000000000000c4401"); !errors.Is(err, domain.ErrNotParty) {
		t.Fatalf("got %v, want ErrNotParty", err)
	}
}

func TestWithdrawStale_AllowsRefunding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)
	if _, err := h.reg.AddStableDeposit(ctx, bet.ID, alice); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.reg.WithdrawStale(ctx, bet.ID, alice); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	// After a stale withdrawal the bet returns to awaiting-funding and the
	// same leg may be funded again.
	h.stable.approve(alice, stableAmt)
	got, err := h.reg.AddStableDeposit(ctx, bet.ID, alice)
	if err != nil {
		t.Fatalf("re-fund after withdrawal: %v", err)
	}
	if !got.StableFunded {
		t.Fatal("stable flag not set on re-fund")
	}
}

func TestSettleDue_SweepsOnlyElapsedBets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	due := h.activate(t)

	// Second bet activates a day later, so its window has not elapsed when
	// the sweep runs.
	h.clock.advance(24 * time.Hour)
	h.activate(t)

	h.clock.advance(testWindow - 24*time.Hour)
	n, err := h.reg.SettleDue(ctx)
	if err != nil {
		t.Fatalf("SettleDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("settled %d bets, want 1", n)
	}

	got, _ := h.reg.GetBet(ctx, due.ID)
	if !got.Settled {
		t.Fatal("due bet not settled by sweep")
	}
}

func TestConcurrentDeposits_ExactlyOneSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()
	// Enough balance and allowance for two deposits, so only the flag check
	// can stop the second one.
	h.stable.mint(alice, stableAmt)
	h.stable.approve(alice, new(big.Int).Mul(stableAmt, big.NewInt(2)))

	bet, _ := h.reg.CreateBet(ctx, alice, bob)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.reg.AddStableDeposit(ctx, bet.ID, alice)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, domain.ErrLegFunded) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d deposits succeeded, want exactly 1", ok)
	}

	bal, _ := h.stable.BalanceOf(ctx, custody)
	if bal.Cmp(stableAmt) != 0 {
		t.Fatalf("custody holds %s, want one fixed amount %s", bal, stableAmt)
	}
}

func TestConcurrentSettles_ExactlyOnePays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bet := h.activate(t)
	h.clock.advance(testWindow)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.reg.SettleBet(ctx, bet.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, domain.ErrAlreadySettled) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d settles succeeded, want exactly 1", ok)
	}

	// Winner got each leg exactly once.
	got, _ := h.reg.GetBet(ctx, bet.ID)
	sBal, _ := h.stable.BalanceOf(ctx, got.Winner)
	vBal, _ := h.volatile.BalanceOf(ctx, got.Winner)
	if sBal.Cmp(stableAmt) != 0 || vBal.Cmp(volatileAmt) != 0 {
		t.Fatalf("winner holds stable=%s volatile=%s, want exactly one of each leg", sBal, vBal)
	}
}

func TestCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := h.reg.CreateBet(ctx, alice, bob); err != nil {
			t.Fatalf("CreateBet: %v", err)
		}
	}
	n, err := h.reg.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count %d, want 3", n)
	}
}

func TestGetBet_NotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.reg.GetBet(context.Background(), 9001); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestStatusDerivation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fundParties()

	bet, _ := h.reg.CreateBet(ctx, alice, bob)
	if got, _ := h.reg.GetBet(ctx, bet.ID); got.Status() != domain.BetStatusOpen {
		t.Fatalf("status %s, want open", got.Status())
	}

	h.reg.AddStableDeposit(ctx, bet.ID, alice)
	h.reg.AddVolatileDeposit(ctx, bet.ID, bob)
	if got, _ := h.reg.GetBet(ctx, bet.ID); got.Status() != domain.BetStatusActive {
		t.Fatalf("status %s, want active", got.Status())
	}

	h.clock.advance(testWindow)
	h.reg.SettleBet(ctx, bet.ID)
	if got, _ := h.reg.GetBet(ctx, bet.ID); got.Status() != domain.BetStatusSettled {
		t.Fatalf("status %s, want settled", got.Status())
	}
}
