package staking

import (
	"errors"
	"fmt"
	"math"
	"time"

	"aprvault/config"
	"aprvault/core/events"
	"aprvault/crypto"
	"aprvault/storage/records"
)

const secondsPerYear = 31_536_000

var (
	// ErrInvalidAmount indicates a zero-amount stake.
	ErrInvalidAmount = errors.New("staking: amount must be positive")
	// ErrUninitialized indicates the actor has no active staked balance.
	ErrUninitialized = errors.New("staking: no active stake for actor")
	// ErrIllegalOwner indicates the staker record is owned by someone else.
	ErrIllegalOwner = errors.New("staking: record owned by another actor")
	// ErrStakingPeriodNotComplete indicates the lock has not elapsed. There
	// is no early or partial withdrawal path.
	ErrStakingPeriodNotComplete = errors.New("staking: staking period not complete")
	// ErrNotConfigured indicates an engine collaborator was not wired.
	ErrNotConfigured = errors.New("staking: engine not configured")
)

// Tokens is the slice of the treasury facade the staking engine needs:
// address derivations, the deposit transfer, and reward minting.
type Tokens interface {
	Authority() (crypto.Address, uint8, error)
	MintAddress() (crypto.Address, uint8, error)
	TreasuryTokenAccount() (crypto.Address, error)
	TransferTokens(from, to, owner crypto.Address, amount uint64) error
	MintTokens(authority, mint, to, toOwner crypto.Address, amount uint64) error
}

// Engine runs the fixed-lock staking facility. Deposits transfer into the
// treasury's custody account; releases are minted fresh to the actor, so the
// treasury never pre-funds a reward pool.
type Engine struct {
	policy  config.Policy
	program crypto.Address
	store   *records.Store
	tokens  Tokens
	funding records.FundingSource
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewEngine creates a staking engine bound to the given policy and program
// identity. Collaborators are wired via the Set methods.
func NewEngine(policy config.Policy, program crypto.Address) *Engine {
	return &Engine{
		policy:  policy,
		program: program,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetStore configures the record store backing staker records.
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

// RecordAddress derives the actor's staker record address.
func (e *Engine) RecordAddress(actor crypto.Address) (crypto.Address, uint8, error) {
	seed := make([]byte, 0, crypto.AddressLength+len(e.policy.StakerSeed))
	seed = append(seed, actor.Bytes()...)
	seed = append(seed, []byte(e.policy.StakerSeed)...)
	return crypto.DeriveAuthority(seed, e.program)
}

// Stake converts a deposit into staked principal. The staker record is
// created lazily, funded by the actor. Repeated stakes accumulate principal
// and restart the lock clock at the latest deposit.
func (e *Engine) Stake(actor, actorToken, recordCandidate crypto.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	derived, _, err := e.RecordAddress(actor)
	if err != nil {
		return err
	}
	if !recordCandidate.Equal(derived) {
		return fmt.Errorf("%w: staker record %s", crypto.ErrInvalidAuthority, recordCandidate)
	}

	rec, err := e.store.EnsureCreated(recordCandidate, derived, e.program, RecordSize, actor, e.funding)
	if err != nil {
		return err
	}
	pos, err := decodePosition(rec.Data())
	if err != nil {
		return err
	}
	if !pos.Owner.IsZero() && !pos.Owner.Equal(actor) {
		return fmt.Errorf("%w: record %s", ErrIllegalOwner, recordCandidate)
	}

	treasuryToken, err := e.tokens.TreasuryTokenAccount()
	if err != nil {
		return err
	}
	if err := e.tokens.TransferTokens(actorToken, treasuryToken, actor, amount); err != nil {
		return err
	}

	pos.Owner = actor
	pos.Amount += amount
	pos.LastStakedAt = e.nowFn().Unix()
	pos.Duration = e.policy.StakeLockSeconds
	if err := rec.SetData(encodePosition(pos)); err != nil {
		return err
	}
	if err := e.store.Save(rec); err != nil {
		return err
	}

	e.emitter.Emit(events.StakeLocked{
		Owner:       actor,
		Amount:      amount,
		TotalStaked: pos.Amount,
		LockedAt:    pos.LastStakedAt,
		Duration:    pos.Duration,
	})
	return nil
}

// Unstake releases staked principal plus the linear reward once the lock has
// elapsed. Requesting more than the staked balance releases the entire
// balance; requesting less leaves the remainder staked with its original
// clock. The payout is minted directly to the actor's custody account.
func (e *Engine) Unstake(actor, actorToken, recordCandidate crypto.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	derived, _, err := e.RecordAddress(actor)
	if err != nil {
		return err
	}
	if !recordCandidate.Equal(derived) {
		return fmt.Errorf("%w: staker record %s", crypto.ErrInvalidAuthority, recordCandidate)
	}
	rec, ok, err := e.store.Load(recordCandidate)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUninitialized
	}
	pos, err := decodePosition(rec.Data())
	if err != nil {
		return err
	}
	if pos.Amount == 0 {
		return ErrUninitialized
	}
	if !pos.Owner.Equal(actor) {
		return fmt.Errorf("%w: record %s", ErrIllegalOwner, recordCandidate)
	}
	now := e.nowFn().Unix()
	if now < pos.LastStakedAt+pos.Duration {
		return fmt.Errorf("%w: %ds remaining", ErrStakingPeriodNotComplete, pos.LastStakedAt+pos.Duration-now)
	}

	principal := amount
	if principal > pos.Amount {
		principal = pos.Amount
	}
	reward := linearReward(principal, e.policy.YieldRatePercent, now-pos.LastStakedAt)

	authority, _, err := e.tokens.Authority()
	if err != nil {
		return err
	}
	mint, _, err := e.tokens.MintAddress()
	if err != nil {
		return err
	}
	if err := e.tokens.MintTokens(authority, mint, actorToken, actor, principal+reward); err != nil {
		return err
	}

	if principal == pos.Amount {
		pos.Amount = 0
		pos.LastStakedAt = 0
		pos.Duration = 0
	} else {
		pos.Amount -= principal
	}
	if err := rec.SetData(encodePosition(pos)); err != nil {
		return err
	}
	if err := e.store.Save(rec); err != nil {
		return err
	}

	e.emitter.Emit(events.StakeReleased{
		Owner:     actor,
		Principal: principal,
		Reward:    reward,
		Remaining: pos.Amount,
	})
	return nil
}

// Position returns the actor's decoded staker record, or nil when the actor
// never staked.
func (e *Engine) Position(actor crypto.Address) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	derived, _, err := e.RecordAddress(actor)
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
	return decodePosition(rec.Data())
}

// linearReward computes simple interest at ratePercent per year over elapsed
// seconds, rounded to the nearest base unit.
func linearReward(principal uint64, ratePercent uint64, elapsed int64) uint64 {
	if elapsed <= 0 {
		return 0
	}
	rate := float64(ratePercent) / 100
	return uint64(math.Round(float64(principal) * rate * float64(elapsed) / secondsPerYear))
}
