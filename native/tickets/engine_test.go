package tickets

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"aprvault/config"
	"aprvault/core/events"
	"aprvault/crypto"
	"aprvault/storage"
	"aprvault/storage/records"
)

type transferCall struct {
	from, to, owner crypto.Address
	amount          uint64
}

type mintCall struct {
	to, owner crypto.Address
	amount    uint64
}

type mockTokens struct {
	authority     crypto.Address
	mint          crypto.Address
	treasuryToken crypto.Address
	transfers     []transferCall
	mints         []mintCall
}

func (m *mockTokens) Authority() (crypto.Address, uint8, error) {
	return m.authority, 255, nil
}

func (m *mockTokens) MintAddress() (crypto.Address, uint8, error) {
	return m.mint, 255, nil
}

func (m *mockTokens) TreasuryTokenAccount() (crypto.Address, error) {
	return m.treasuryToken, nil
}

func (m *mockTokens) TransferTokens(from, to, owner crypto.Address, amount uint64) error {
	m.transfers = append(m.transfers, transferCall{from: from, to: to, owner: owner, amount: amount})
	return nil
}

func (m *mockTokens) MintTokens(authority, mint, to, toOwner crypto.Address, amount uint64) error {
	if !authority.Equal(m.authority) {
		return fmt.Errorf("wrong authority")
	}
	if !mint.Equal(m.mint) {
		return fmt.Errorf("wrong mint")
	}
	m.mints = append(m.mints, mintCall{to: to, owner: toOwner, amount: amount})
	return nil
}

type fundingLedger struct {
	balances map[string]uint64
}

func newFundingLedger() *fundingLedger {
	return &fundingLedger{balances: make(map[string]uint64)}
}

func (f *fundingLedger) Debit(addr crypto.Address, amount uint64) error {
	key := string(addr.Bytes())
	if f.balances[key] < amount {
		return fmt.Errorf("insufficient native balance")
	}
	f.balances[key] -= amount
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func addr(fill byte) crypto.Address {
	return crypto.NewAddress(crypto.APRPrefix, bytes.Repeat([]byte{fill}, crypto.AddressLength))
}

type fixture struct {
	engine  *Engine
	tokens  *mockTokens
	funding *fundingLedger
	emitter *capturingEmitter
	now     int64
	actor   crypto.Address
	token   crypto.Address
	ledger  crypto.Address
}

func newFixture(t *testing.T, mutate func(*config.Policy)) *fixture {
	t.Helper()
	f := &fixture{
		tokens: &mockTokens{
			authority:     addr(0xA0),
			mint:          addr(0xA1),
			treasuryToken: addr(0xA2),
		},
		funding: newFundingLedger(),
		emitter: &capturingEmitter{},
		actor:   addr(0x01),
		token:   addr(0x02),
	}
	policy := config.Default()
	if mutate != nil {
		mutate(&policy)
	}
	engine := NewEngine(policy, addr(0x77))
	engine.SetStore(records.NewStore(storage.NewMemDB(), records.FundingPolicy{Base: policy.FundingBase, PerByte: policy.FundingPerByte}))
	engine.SetTokens(f.tokens)
	engine.SetFunding(f.funding)
	engine.SetEmitter(f.emitter)
	engine.SetNowFunc(func() time.Time { return time.Unix(f.now, 0) })
	f.engine = engine

	ledger, _, err := engine.LedgerAddress(f.actor)
	if err != nil {
		t.Fatalf("ledger address: %v", err)
	}
	f.ledger = ledger
	f.funding.balances[string(f.actor.Bytes())] = 100_000_000
	return f
}

func TestPurchaseWholeTicketsOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.now = 500

	// 2,500,000 buys exactly two tickets; the 500,000 remainder stays put.
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 2_500_000, 0); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if len(f.tokens.transfers) != 1 || f.tokens.transfers[0].amount != 2_000_000 {
		t.Fatalf("custody must be debited the exact cost, got %+v", f.tokens.transfers)
	}
	ledger, err := f.engine.Ledger(f.actor)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.Total != 2 || len(ledger.Tickets) != 1 {
		t.Fatalf("unexpected ledger: %+v", ledger)
	}
	entry := ledger.Tickets[0]
	if entry.Count != 2 || entry.DepositTime != 500 || entry.VestingPeriod != 0 || entry.Claimed {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestPurchaseZeroTickets(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 999_999, 0); !errors.Is(err, ErrZeroTickets) {
		t.Fatalf("expected ErrZeroTickets, got %v", err)
	}
	if len(f.tokens.transfers) != 0 {
		t.Fatalf("failed purchase must not move tokens")
	}
	if ledger, _ := f.engine.Ledger(f.actor); ledger != nil {
		t.Fatalf("failed purchase must not create a ledger")
	}
}

func TestPurchaseRejectsWrongLedger(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.engine.Purchase(f.actor, f.token, addr(0x55), 1_000_000, 0); !errors.Is(err, crypto.ErrInvalidAuthority) {
		t.Fatalf("wrong ledger candidate: %v", err)
	}
}

func TestPurchaseGrowsLedgerFunding(t *testing.T) {
	f := newFixture(t, nil)
	policy := f.engine.store.Policy()

	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	rec, ok, err := f.engine.store.Load(f.ledger)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if rec.Size() != ledgerSize(1) || rec.Funding != policy.Minimum(ledgerSize(1)) {
		t.Fatalf("after first purchase: size=%d funding=%d", rec.Size(), rec.Funding)
	}

	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	rec, _, _ = f.engine.store.Load(f.ledger)
	if rec.Size() != ledgerSize(2) || rec.Funding != policy.Minimum(ledgerSize(2)) {
		t.Fatalf("after second purchase: size=%d funding=%d", rec.Size(), rec.Funding)
	}
}

func TestPurchaseFundingFailureMovesNoTokens(t *testing.T) {
	f := newFixture(t, nil)
	f.funding.balances[string(f.actor.Bytes())] = 0

	// Creating the ledger record debits the actor's native balance; when that
	// fails nothing may have moved into treasury custody.
	err := f.engine.Purchase(f.actor, f.token, f.ledger, 2_500_000, 0)
	if err == nil {
		t.Fatal("expected funding failure")
	}
	if len(f.tokens.transfers) != 0 {
		t.Fatalf("failed purchase must not move tokens, got %+v", f.tokens.transfers)
	}
	if ledger, _ := f.engine.Ledger(f.actor); ledger != nil {
		t.Fatalf("failed purchase must not create a ledger, got %+v", ledger)
	}

	// Fund exactly one full purchase; the resize top-up for a second entry
	// must fail with the ledger still holding only the first.
	policy := f.engine.store.Policy()
	f.funding.balances[string(f.actor.Bytes())] = policy.Minimum(ledgerSize(1))
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); err != nil {
		t.Fatalf("funded purchase: %v", err)
	}
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); err == nil {
		t.Fatal("expected resize funding failure")
	}
	if len(f.tokens.transfers) != 1 {
		t.Fatalf("failed resize must not move tokens, got %+v", f.tokens.transfers)
	}
	ledger, err := f.engine.Ledger(f.actor)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.Total != 1 || len(ledger.Tickets) != 1 {
		t.Fatalf("failed purchase must leave the ledger untouched, got %+v", ledger)
	}
}

func TestPurchaseQueueFull(t *testing.T) {
	f := newFixture(t, func(p *config.Policy) { p.MaxTicketEntries = 2 })
	for i := 0; i < 2; i++ {
		if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); !errors.Is(err, ErrTicketQueueFull) {
		t.Fatalf("expected ErrTicketQueueFull, got %v", err)
	}
	// The capacity check runs before the custody transfer.
	if len(f.tokens.transfers) != 2 {
		t.Fatalf("rejected purchase must not move tokens, got %d transfers", len(f.tokens.transfers))
	}
}

func TestRedeemFIFOSkipsVesting(t *testing.T) {
	f := newFixture(t, nil)
	f.now = 0
	vestings := []int64{0, 100, 0}
	for _, v := range vestings {
		if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, v); err != nil {
			t.Fatalf("purchase vesting=%d: %v", v, err)
		}
	}

	// Only the first and third entries are matured; asking for all three
	// must fail without minting anything.
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 3); !errors.Is(err, ErrInsufficientVestedTickets) {
		t.Fatalf("expected ErrInsufficientVestedTickets, got %v", err)
	}
	if len(f.tokens.mints) != 0 {
		t.Fatalf("failed redemption must not mint")
	}
	ledger, _ := f.engine.Ledger(f.actor)
	if ledger.Total != 3 || len(ledger.Tickets) != 3 {
		t.Fatalf("failed redemption must not change the ledger, got %+v", ledger)
	}

	// Redeeming two consumes the matured first and third entries, skipping
	// the vesting middle one.
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 2); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if len(f.tokens.mints) != 1 || f.tokens.mints[0].amount != 2_000_000 {
		t.Fatalf("unexpected mints: %+v", f.tokens.mints)
	}
	ledger, _ = f.engine.Ledger(f.actor)
	if ledger.Total != 1 || len(ledger.Tickets) != 1 || ledger.Tickets[0].VestingPeriod != 100 {
		t.Fatalf("expected only the vesting entry to survive, got %+v", ledger)
	}
}

func TestRedeemClampsOverRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.now = 0
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 2_000_000, 0); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 100); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if len(f.tokens.mints) != 1 || f.tokens.mints[0].amount != 2_000_000 {
		t.Fatalf("over-request must clamp to the outstanding total, got %+v", f.tokens.mints)
	}
	ledger, _ := f.engine.Ledger(f.actor)
	if ledger.Total != 0 || len(ledger.Tickets) != 0 {
		t.Fatalf("expected empty queue, got %+v", ledger)
	}
}

func TestRedeemPartialEntry(t *testing.T) {
	f := newFixture(t, nil)
	f.now = 0
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 5_000_000, 0); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 2); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	ledger, _ := f.engine.Ledger(f.actor)
	if ledger.Total != 3 || len(ledger.Tickets) != 1 || ledger.Tickets[0].Count != 3 {
		t.Fatalf("partial entry redemption: %+v", ledger)
	}
}

func TestRedeemYieldAfterOneYear(t *testing.T) {
	f := newFixture(t, nil)
	f.now = 0
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	f.now = secondsPerYear
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 1); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// floor(1 * 1e6 * 5 * 31536000 / 31536000 / 100) = 50,000.
	if len(f.tokens.mints) != 1 || f.tokens.mints[0].amount != 1_050_000 {
		t.Fatalf("expected principal plus 5%% yield, got %+v", f.tokens.mints)
	}
}

func TestBatchYieldNumeratorOrder(t *testing.T) {
	// The full numerator must be assembled before either division: redeeming
	// 3 units at half a year gives floor(3*1e6*5*15768000/31536000/100) =
	// 75,000, where dividing per-unit first would lose precision at smaller
	// magnitudes.
	if got := batchYield(3, 1_000_000, 5, secondsPerYear/2); got != 75_000 {
		t.Fatalf("batch yield: %d", got)
	}
	if got := batchYield(1, 1_000_000, 5, 86_400); got != 136 {
		t.Fatalf("one-day yield: %d", got)
	}
	// units*price*rate*elapsed overflows uint64 here; the big-integer
	// numerator must carry it.
	if got := batchYield(1_000_000_000, 1_000_000, 5, secondsPerYear); got != 50_000_000_000_000 {
		t.Fatalf("large-batch yield: %d", got)
	}
}

func TestRedeemValidation(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 1); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("uninitialized: %v", err)
	}

	f.now = 0
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 1); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 1); !errors.Is(err, ErrNoTickets) {
		t.Fatalf("empty queue: %v", err)
	}
}

func TestRedeemUnauthorized(t *testing.T) {
	f := newFixture(t, nil)
	f.now = 0
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	// Corrupt the owner field directly to simulate a hijacked ledger.
	rec, ok, err := f.engine.store.Load(f.ledger)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	ledger, err := decodeLedger(rec.Data())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ledger.Owner = addr(0x66)
	if err := rec.SetData(encodeLedger(ledger)); err != nil {
		t.Fatalf("set data: %v", err)
	}
	if err := f.engine.store.Save(rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	after, _ := f.engine.Ledger(f.actor)
	if after.Total != 1 || len(after.Tickets) != 1 {
		t.Fatalf("unauthorized redeem must not change the ledger, got %+v", after)
	}
}

func TestTicketTotalInvariant(t *testing.T) {
	f := newFixture(t, nil)
	f.now = 0
	check := func(step string) {
		t.Helper()
		ledger, err := f.engine.Ledger(f.actor)
		if err != nil {
			t.Fatalf("%s: ledger: %v", step, err)
		}
		var sum uint64
		for _, entry := range ledger.Tickets {
			sum += entry.Count
		}
		if sum != ledger.Total {
			t.Fatalf("%s: ticket total %d, entry sum %d", step, ledger.Total, sum)
		}
	}

	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 3_000_000, 0); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	check("after first purchase")
	if err := f.engine.Purchase(f.actor, f.token, f.ledger, 2_000_000, 50); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	check("after second purchase")
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 2); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	check("after partial redeem")
	f.now = 100
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 3); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	check("after final redeem")
}

func TestRedeemShrinksRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.now = 0
	for i := 0; i < 3; i++ {
		if err := f.engine.Purchase(f.actor, f.token, f.ledger, 1_000_000, 0); err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}
	if err := f.engine.Redeem(f.actor, f.token, f.ledger, 2); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	rec, _, err := f.engine.store.Load(f.ledger)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Size() != ledgerSize(1) {
		t.Fatalf("record size after shrink: %d", rec.Size())
	}
}
