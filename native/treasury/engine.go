package treasury

import (
	"errors"
	"fmt"

	"aprvault/config"
	"aprvault/core/events"
	"aprvault/core/types"
	"aprvault/crypto"
	"aprvault/storage/records"
)

var (
	// ErrAlreadyInitialized indicates the singleton treasury record exists
	// and is flagged initialized.
	ErrAlreadyInitialized = errors.New("treasury: already initialized")
	// ErrSupplyExceeded indicates a mint would push supply past the cap.
	ErrSupplyExceeded = errors.New("treasury: max supply exceeded")
	// ErrCustodyOwnership indicates an account that must be custody-held
	// is not.
	ErrCustodyOwnership = errors.New("treasury: account not held by custody service")
	// ErrInvalidMint indicates the presented mint is unknown to custody or
	// structurally invalid.
	ErrInvalidMint = errors.New("treasury: invalid mint account")
	// ErrNotConfigured indicates an engine collaborator was not wired.
	ErrNotConfigured = errors.New("treasury: engine not configured")
)

// Custody is the narrow contract the treasury requires from the external
// token-custody service. None of these calls are idempotent; a caller
// resubmitting after an ambiguous failure must recompute amounts.
type Custody interface {
	CreateMint(mint, authority crypto.Address, decimals uint8) error
	Mint(mint crypto.Address) (*types.TokenMint, bool, error)
	CreateAccount(addr, mint, owner crypto.Address) error
	Account(addr crypto.Address) (*types.TokenAccount, bool, error)
	Holds(addr crypto.Address) (bool, error)
	MintTo(mint, to, authority crypto.Address, amount uint64) error
	Burn(mint, from, owner crypto.Address, amount uint64) error
	Transfer(from, to, owner crypto.Address, amount uint64) error
}

// Engine guards all privileged treasury operations: the one-time treasury and
// mint bootstrap, the treasury's own custody account, and the authenticated
// mint/burn/transfer facade over custody.
type Engine struct {
	policy  config.Policy
	program crypto.Address
	store   *records.Store
	custody Custody
	funding records.FundingSource
	emitter events.Emitter
}

// NewEngine creates a treasury engine bound to the given policy and program
// identity. Collaborators are wired via the Set methods.
func NewEngine(policy config.Policy, program crypto.Address) *Engine {
	return &Engine{
		policy:  policy,
		program: program,
		emitter: events.NoopEmitter{},
	}
}

// SetStore configures the record store backing the treasury record.
func (e *Engine) SetStore(store *records.Store) { e.store = store }

// SetCustody configures the external custody service facade.
func (e *Engine) SetCustody(c Custody) { e.custody = c }

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

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.custody == nil || e.funding == nil {
		return ErrNotConfigured
	}
	return nil
}

// Authority derives the treasury authority address. Every privileged
// operation re-derives and compares before trusting a presented account.
func (e *Engine) Authority() (crypto.Address, uint8, error) {
	return crypto.DeriveAuthority([]byte(e.policy.TreasurySeed), e.program)
}

// MintAddress derives the address of the program's token mint.
func (e *Engine) MintAddress() (crypto.Address, uint8, error) {
	return crypto.DeriveAuthority([]byte(e.policy.MintSeed), e.program)
}

// TreasuryTokenAccount derives the treasury's own custody account, bound to
// both the treasury authority and the mint.
func (e *Engine) TreasuryTokenAccount() (crypto.Address, error) {
	authority, _, err := e.Authority()
	if err != nil {
		return crypto.Address{}, err
	}
	mint, _, err := e.MintAddress()
	if err != nil {
		return crypto.Address{}, err
	}
	seed := append(authority.Bytes(), mint.Bytes()...)
	derived, _, err := crypto.DeriveAuthority(seed, e.program)
	return derived, err
}

// Initialize creates the singleton treasury record and the token mint. The
// presented treasury and mint accounts must match their derivations, and a
// second initialization fails.
func (e *Engine) Initialize(treasuryAccount, admin, mintAccount crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	authority, _, err := e.Authority()
	if err != nil {
		return err
	}
	if !treasuryAccount.Equal(authority) {
		return fmt.Errorf("%w: treasury account %s", crypto.ErrInvalidAuthority, treasuryAccount)
	}
	mintAddr, _, err := e.MintAddress()
	if err != nil {
		return err
	}
	if !mintAccount.Equal(mintAddr) {
		return fmt.Errorf("%w: mint account %s", crypto.ErrInvalidAuthority, mintAccount)
	}

	if rec, ok, err := e.store.Load(authority); err != nil {
		return err
	} else if ok && rec.Size() >= 1 && rec.Data()[0] == 1 {
		return ErrAlreadyInitialized
	}

	rec, err := e.store.EnsureCreated(authority, authority, e.program, RecordSize, admin, e.funding)
	if err != nil {
		return err
	}
	if err := rec.SetData(encodeState(&State{Initialized: true, Admin: admin})); err != nil {
		return err
	}
	if err := e.store.Save(rec); err != nil {
		return err
	}

	if err := e.custody.CreateMint(mintAddr, authority, e.policy.Decimals); err != nil {
		return err
	}

	e.emitter.Emit(events.TreasuryInitialized{Treasury: authority, Mint: mintAddr, Admin: admin})
	return nil
}

// CreateTreasuryAccount idempotently creates the treasury's custody account.
// The presented account must match the derived address.
func (e *Engine) CreateTreasuryAccount(presented crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	derived, err := e.TreasuryTokenAccount()
	if err != nil {
		return err
	}
	if !presented.Equal(derived) {
		return fmt.Errorf("%w: treasury token account %s", crypto.ErrInvalidAuthority, presented)
	}
	authority, _, err := e.Authority()
	if err != nil {
		return err
	}
	mint, _, err := e.MintAddress()
	if err != nil {
		return err
	}
	return e.custody.CreateAccount(derived, mint, authority)
}

// MintTokens mints amount to the recipient custody account, creating the
// account on the fly when it does not exist yet. Fails when supply would pass
// the policy cap.
func (e *Engine) MintTokens(authorityCandidate, mintAccount, to, toOwner crypto.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	authority, _, err := e.Authority()
	if err != nil {
		return err
	}
	if !authorityCandidate.Equal(authority) {
		return fmt.Errorf("%w: mint authority %s", crypto.ErrInvalidAuthority, authorityCandidate)
	}
	info, ok, err := e.custody.Mint(mintAccount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidMint
	}
	if amount > e.policy.MaxSupply || info.Supply > e.policy.MaxSupply-amount {
		return fmt.Errorf("%w: supply %d + %d > %d", ErrSupplyExceeded, info.Supply, amount, e.policy.MaxSupply)
	}
	holds, err := e.custody.Holds(to)
	if err != nil {
		return err
	}
	if !holds {
		if err := e.custody.CreateAccount(to, mintAccount, toOwner); err != nil {
			return err
		}
	}
	if err := e.custody.MintTo(mintAccount, to, authority, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.TokenMinted{Recipient: to, Amount: amount, Supply: info.Supply + amount})
	return nil
}

// BurnTokens burns amount from a custody account. The account owner signs the
// burn; the treasury authority is still re-verified as the privileged party.
func (e *Engine) BurnTokens(authorityCandidate, mintAccount, from, owner crypto.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	authority, _, err := e.Authority()
	if err != nil {
		return err
	}
	if !authorityCandidate.Equal(authority) {
		return fmt.Errorf("%w: burn authority %s", crypto.ErrInvalidAuthority, authorityCandidate)
	}
	if _, ok, err := e.custody.Mint(mintAccount); err != nil {
		return err
	} else if !ok {
		return ErrInvalidMint
	}
	if holds, err := e.custody.Holds(from); err != nil {
		return err
	} else if !holds {
		return fmt.Errorf("%w: burn account %s", ErrCustodyOwnership, from)
	}
	if err := e.custody.Burn(mintAccount, from, owner, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.TokenBurned{Account: from, Amount: amount})
	return nil
}

// TransferTokens moves amount between two custody accounts on behalf of the
// sender's wallet owner.
func (e *Engine) TransferTokens(from, to, owner crypto.Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	for _, account := range []crypto.Address{from, to} {
		if holds, err := e.custody.Holds(account); err != nil {
			return err
		} else if !holds {
			return fmt.Errorf("%w: token account %s", ErrCustodyOwnership, account)
		}
	}
	if err := e.custody.Transfer(from, to, owner, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.TokenTransferred{From: from, To: to, Amount: amount})
	return nil
}

// TreasuryState decodes the persisted treasury record.
func (e *Engine) TreasuryState() (*State, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	authority, _, err := e.Authority()
	if err != nil {
		return nil, err
	}
	rec, ok, err := e.store.Load(authority)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &State{}, nil
	}
	return decodeState(rec.Data())
}
