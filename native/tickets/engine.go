package tickets

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"aprvault/config"
	"aprvault/core/events"
	"aprvault/crypto"
	"aprvault/storage/records"
)

const secondsPerYear = 31_536_000

var (
	// ErrZeroTickets indicates a deposit too small to buy a single ticket.
	ErrZeroTickets = errors.New("tickets: deposit buys zero tickets")
	// ErrTicketQueueFull indicates the vesting queue is at capacity.
	ErrTicketQueueFull = errors.New("tickets: ticket queue full")
	// ErrUninitialized indicates the actor has no ticket ledger.
	ErrUninitialized = errors.New("tickets: ticket ledger not initialized")
	// ErrUnauthorized indicates the ledger is owned by another actor.
	ErrUnauthorized = errors.New("tickets: ledger owned by another actor")
	// ErrNoTickets indicates the ledger holds no outstanding tickets.
	ErrNoTickets = errors.New("tickets: no outstanding tickets")
	// ErrInsufficientVestedTickets indicates the matured portion of the
	// queue cannot cover the request. The redemption applies nothing.
	ErrInsufficientVestedTickets = errors.New("tickets: insufficient vested tickets")
	// ErrNotConfigured indicates an engine collaborator was not wired.
	ErrNotConfigured = errors.New("tickets: engine not configured")
)

// Tokens is the slice of the treasury facade the ticket engine needs:
// address derivations, the purchase transfer and redemption minting.
type Tokens interface {
	Authority() (crypto.Address, uint8, error)
	MintAddress() (crypto.Address, uint8, error)
	TreasuryTokenAccount() (crypto.Address, error)
	TransferTokens(from, to, owner crypto.Address, amount uint64) error
	MintTokens(authority, mint, to, toOwner crypto.Address, amount uint64) error
}

// Engine runs the vesting-ticket facility: deposits convert into fixed-price
// tickets queued FIFO per actor, redeemed after their individual vesting
// periods for principal plus linear yield.
type Engine struct {
	policy  config.Policy
	program crypto.Address
	store   *records.Store
	tokens  Tokens
	funding records.FundingSource
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine creates a ticket engine bound to the given policy and program
// identity. Collaborators are wired via the Set methods.
func NewEngine(policy config.Policy, program crypto.Address) *Engine {
	return &Engine{
		policy:  policy,
		program: program,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetStore configures the record store backing ticket ledgers.
func (e *Engine) SetStore(store *records.Store) { e.store = store }

// SetTokens configures the treasury facade.
func (e *Engine) SetTokens(t Tokens) { e.tokens = t }

// SetFunding configures the native balance source used to fund records.
func (e *Engine) SetFunding(src records.FundingSource) { e.funding = src }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source for deterministic tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.tokens == nil || e.funding == nil {
		return ErrNotConfigured
	}
	return nil
}

// LedgerAddress derives the actor's ticket ledger address.
func (e *Engine) LedgerAddress(actor crypto.Address) (crypto.Address, uint8, error) {
	seed := make([]byte, 0, crypto.AddressLength+len(e.policy.TicketSeed))
	seed = append(seed, actor.Bytes()...)
	seed = append(seed, []byte(e.policy.TicketSeed)...)
	return crypto.DeriveAuthority(seed, e.program)
}

// Purchase converts amount into whole tickets at the fixed price. The
// remainder below one ticket price stays with the actor; only the exact cost
// moves into treasury custody. The queue entry records its own vesting
// period, so tickets from different purchases mature independently.
func (e *Engine) Purchase(actor, actorToken, ledgerCandidate crypto.Address, amount uint64, vestingPeriod int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	count := amount / e.policy.TicketPrice
	if count == 0 {
		return fmt.Errorf("%w: deposit %d below price %d", ErrZeroTickets, amount, e.policy.TicketPrice)
	}
	cost := count * e.policy.TicketPrice

	derived, _, err := e.LedgerAddress(actor)
	if err != nil {
		return err
	}
	if !ledgerCandidate.Equal(derived) {
		return fmt.Errorf("%w: ticket ledger %s", crypto.ErrInvalidAuthority, ledgerCandidate)
	}

	rec, exists, err := e.store.Load(ledgerCandidate)
	if err != nil {
		return err
	}
	ledger := &Ledger{Owner: actor}
	if exists {
		ledger, err = decodeLedger(rec.Data())
		if err != nil {
			return err
		}
		if !ledger.Owner.IsZero() && !ledger.Owner.Equal(actor) {
			return fmt.Errorf("%w: ledger %s", ErrUnauthorized, ledgerCandidate)
		}
		ledger.Owner = actor
	}
	if len(ledger.Tickets)+1 > e.policy.MaxTicketEntries {
		return fmt.Errorf("%w: %d entries", ErrTicketQueueFull, len(ledger.Tickets))
	}

	// Record creation and growth debit the actor's native balance and can
	// fail, so both run before any tokens move. A funding failure leaves the
	// actor's token balance untouched.
	if !exists {
		rec, err = e.store.EnsureCreated(ledgerCandidate, derived, e.program, headerSize, actor, e.funding)
		if err != nil {
			return err
		}
	}

	now := e.nowFn().Unix()
	ledger.Tickets = append(ledger.Tickets, Ticket{
		Count:         count,
		DepositTime:   now,
		VestingPeriod: vestingPeriod,
	})
	ledger.Total += count

	if newSize := ledgerSize(len(ledger.Tickets)); newSize > rec.Size() {
		if err := e.store.Resize(rec, newSize, false, actor, e.funding); err != nil {
			return err
		}
	}

	treasuryToken, err := e.tokens.TreasuryTokenAccount()
	if err != nil {
		return err
	}
	if err := e.tokens.TransferTokens(actorToken, treasuryToken, actor, cost); err != nil {
		return err
	}

	if err := rec.SetData(encodeLedger(ledger)); err != nil {
		return err
	}
	if err := e.store.Save(rec); err != nil {
		return err
	}

	e.emitter.Emit(events.TicketPurchased{
		Owner:         actor,
		Count:         count,
		Cost:          cost,
		VestingPeriod: vestingPeriod,
		DepositTime:   now,
		TicketTotal:   ledger.Total,
	})
	return nil
}

// Redeem releases up to requested tickets from the matured portion of the
// queue, FIFO, skipping entries still vesting. Requesting more than the
// outstanding total redeems everything available. The whole pass is a dry
// run: nothing is minted or persisted unless every requested unit is covered
// by matured tickets.
func (e *Engine) Redeem(actor, actorToken, ledgerCandidate crypto.Address, requested uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	derived, _, err := e.LedgerAddress(actor)
	if err != nil {
		return err
	}
	if !ledgerCandidate.Equal(derived) {
		return fmt.Errorf("%w: ticket ledger %s", crypto.ErrInvalidAuthority, ledgerCandidate)
	}
	rec, ok, err := e.store.Load(ledgerCandidate)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUninitialized
	}
	ledger, err := decodeLedger(rec.Data())
	if err != nil {
		return err
	}
	if !ledger.Owner.Equal(actor) {
		return fmt.Errorf("%w: ledger %s", ErrUnauthorized, ledgerCandidate)
	}
	if ledger.Total == 0 {
		return ErrNoTickets
	}
	if requested > ledger.Total {
		requested = ledger.Total
	}

	now := e.nowFn().Unix()
	remaining := requested
	var principal, yield uint64
	survivors := make([]Ticket, 0, len(ledger.Tickets))
	for _, entry := range ledger.Tickets {
		if remaining == 0 || !entry.Matured(now) {
			survivors = append(survivors, entry)
			continue
		}
		take := entry.Count
		if take > remaining {
			take = remaining
		}
		principal += take * e.policy.TicketPrice
		yield += batchYield(take, e.policy.TicketPrice, e.policy.YieldRatePercent, now-entry.DepositTime)
		remaining -= take
		entry.Count -= take
		if entry.Count > 0 {
			survivors = append(survivors, entry)
		}
	}
	if remaining > 0 {
		return fmt.Errorf("%w: %d of %d uncovered", ErrInsufficientVestedTickets, remaining, requested)
	}

	authority, _, err := e.tokens.Authority()
	if err != nil {
		return err
	}
	mint, _, err := e.tokens.MintAddress()
	if err != nil {
		return err
	}
	if err := e.tokens.MintTokens(authority, mint, actorToken, actor, principal+yield); err != nil {
		return err
	}

	ledger.Tickets = survivors
	ledger.Total -= requested
	if newSize := ledgerSize(len(ledger.Tickets)); newSize < rec.Size() {
		if err := e.store.Resize(rec, newSize, true, actor, e.funding); err != nil {
			return err
		}
	}
	if err := rec.SetData(encodeLedger(ledger)); err != nil {
		return err
	}
	if err := e.store.Save(rec); err != nil {
		return err
	}

	e.emitter.Emit(events.TicketRedeemed{
		Owner:       actor,
		Count:       requested,
		Principal:   principal,
		Yield:       yield,
		TicketTotal: ledger.Total,
	})
	return nil
}

// Ledger returns the actor's decoded ticket ledger, or nil when the actor
// never purchased.
func (e *Engine) Ledger(actor crypto.Address) (*Ledger, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	derived, _, err := e.LedgerAddress(actor)
	if err != nil {
		return nil, err
	}
	rec, ok, err := e.store.Load(derived)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decodeLedger(rec.Data())
}

// batchYield computes the integer yield for a matured batch: the full
// numerator is assembled before either division so rounding matches across
// magnitudes, and the intermediate product is kept in a big integer because
// units*price*rate*elapsed can overflow 64 bits.
func batchYield(units, price, ratePercent uint64, elapsed int64) uint64 {
	if elapsed <= 0 {
		return 0
	}
	num := new(big.Int).SetUint64(units)
	num.Mul(num, new(big.Int).SetUint64(price))
	num.Mul(num, new(big.Int).SetUint64(ratePercent))
	num.Mul(num, big.NewInt(elapsed))
	num.Quo(num, big.NewInt(secondsPerYear))
	num.Quo(num, big.NewInt(100))
	return num.Uint64()
}
