package custody

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"aprvault/core/types"
	"aprvault/crypto"
	"aprvault/storage"
)

// Package custody is the in-process reference implementation of the external
// token-custody service: it owns every token account and the mint, and is the
// only component that moves balances. The engines consume it strictly through
// their own narrow interfaces; nothing here is treasury policy.
//
// The ledger also tracks native (funding) balances, which back the
// minimum-balance requirements of program storage records.

var (
	// ErrAccountNotFound indicates the custody account does not exist.
	ErrAccountNotFound = errors.New("custody: account not found")
	// ErrMintNotFound indicates the mint has not been created.
	ErrMintNotFound = errors.New("custody: mint not found")
	// ErrWrongAuthority indicates the presented authority cannot move funds
	// out of the account or mint.
	ErrWrongAuthority = errors.New("custody: wrong authority")
	// ErrInsufficientBalance indicates a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
	// ErrMintExists indicates the mint was already created.
	ErrMintExists = errors.New("custody: mint already exists")
)

var (
	accountKeyPrefix = []byte("custody/account/")
	mintKeyPrefix    = []byte("custody/mint/")
	nativeKeyPrefix  = []byte("custody/native/")
)

type storedAccount struct {
	Mint    [crypto.AddressLength]byte
	Owner   [crypto.AddressLength]byte
	Balance uint64
}

type storedMint struct {
	Authority [crypto.AddressLength]byte
	Supply    uint64
	Decimals  uint8
}

// Ledger persists custody accounts, mints and native balances in the
// underlying key-value store.
type Ledger struct {
	db storage.Database
}

// NewLedger constructs a custody ledger bound to the provided database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

// --- Mint lifecycle ---

// CreateMint registers the token type. A mint can only be created once.
func (l *Ledger) CreateMint(mint, authority crypto.Address, decimals uint8) error {
	key := mintKey(mint)
	ok, err := l.db.Has(key)
	if err != nil {
		return err
	}
	if ok {
		return ErrMintExists
	}
	return l.putMint(mint, &types.TokenMint{Address: mint, Authority: authority, Decimals: decimals})
}

// Mint looks up the mint descriptor. The second return value reports whether
// the mint exists.
func (l *Ledger) Mint(mint crypto.Address) (*types.TokenMint, bool, error) {
	raw, err := l.db.Get(mintKey(mint))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedMint
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("custody: decode mint: %w", err)
	}
	return &types.TokenMint{
		Address:   mint,
		Authority: crypto.NewAddress(crypto.APRPrefix, stored.Authority[:]),
		Supply:    stored.Supply,
		Decimals:  stored.Decimals,
	}, true, nil
}

// --- Account lifecycle ---

// CreateAccount registers a token account for (mint, owner). Idempotent when
// the existing account matches; a conflicting definition is rejected.
func (l *Ledger) CreateAccount(addr, mint, owner crypto.Address) error {
	existing, ok, err := l.Account(addr)
	if err != nil {
		return err
	}
	if ok {
		if !existing.Mint.Equal(mint) || !existing.Owner.Equal(owner) {
			return fmt.Errorf("custody: account %s exists with different definition", addr)
		}
		return nil
	}
	if _, ok, err := l.Mint(mint); err != nil {
		return err
	} else if !ok {
		return ErrMintNotFound
	}
	return l.putAccount(&types.TokenAccount{Address: addr, Mint: mint, Owner: owner})
}

// Account looks up a token account. The second return value reports whether
// the account exists.
func (l *Ledger) Account(addr crypto.Address) (*types.TokenAccount, bool, error) {
	raw, err := l.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("custody: decode account: %w", err)
	}
	return &types.TokenAccount{
		Address: addr,
		Mint:    crypto.NewAddress(crypto.APRPrefix, stored.Mint[:]),
		Owner:   crypto.NewAddress(crypto.APRPrefix, stored.Owner[:]),
		Balance: stored.Balance,
	}, true, nil
}

// Holds reports whether addr is a custody-held token account.
func (l *Ledger) Holds(addr crypto.Address) (bool, error) {
	return l.db.Has(accountKey(addr))
}

// --- Token movement ---

// MintTo creates amount new tokens in the recipient account. The caller must
// present the mint authority.
func (l *Ledger) MintTo(mint, to, authority crypto.Address, amount uint64) error {
	info, ok, err := l.Mint(mint)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMintNotFound
	}
	if !info.Authority.Equal(authority) {
		return ErrWrongAuthority
	}
	account, ok, err := l.Account(to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if !account.Mint.Equal(mint) {
		return fmt.Errorf("custody: account %s is not in mint %s", to, mint)
	}
	info.Supply += amount
	account.Balance += amount
	if err := l.putMint(mint, info); err != nil {
		return err
	}
	return l.putAccount(account)
}

// Burn destroys amount tokens held by the account. The caller must present
// the account's wallet owner.
func (l *Ledger) Burn(mint, from, owner crypto.Address, amount uint64) error {
	info, ok, err := l.Mint(mint)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMintNotFound
	}
	account, ok, err := l.Account(from)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if !account.Owner.Equal(owner) {
		return ErrWrongAuthority
	}
	if !account.Mint.Equal(mint) {
		return fmt.Errorf("custody: account %s is not in mint %s", from, mint)
	}
	if account.Balance < amount {
		return ErrInsufficientBalance
	}
	account.Balance -= amount
	info.Supply -= amount
	if err := l.putAccount(account); err != nil {
		return err
	}
	return l.putMint(mint, info)
}

// Transfer moves amount between two custody accounts in the same mint. The
// caller must present the source account's wallet owner.
func (l *Ledger) Transfer(from, to, owner crypto.Address, amount uint64) error {
	src, ok, err := l.Account(from)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if !src.Owner.Equal(owner) {
		return ErrWrongAuthority
	}
	dst, ok, err := l.Account(to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if !src.Mint.Equal(dst.Mint) {
		return fmt.Errorf("custody: transfer across mints")
	}
	if src.Balance < amount {
		return ErrInsufficientBalance
	}
	src.Balance -= amount
	dst.Balance += amount
	if err := l.putAccount(src); err != nil {
		return err
	}
	return l.putAccount(dst)
}

// --- Native funding balances ---

// Credit adds native funding balance to addr.
func (l *Ledger) Credit(addr crypto.Address, amount uint64) error {
	balance, err := l.NativeBalance(addr)
	if err != nil {
		return err
	}
	return l.putNative(addr, balance+amount)
}

// Debit removes native funding balance from addr. It satisfies the record
// store's FundingSource contract.
func (l *Ledger) Debit(addr crypto.Address, amount uint64) error {
	balance, err := l.NativeBalance(addr)
	if err != nil {
		return err
	}
	if balance < amount {
		return ErrInsufficientBalance
	}
	return l.putNative(addr, balance-amount)
}

// NativeBalance returns the native funding balance of addr.
func (l *Ledger) NativeBalance(addr crypto.Address) (uint64, error) {
	raw, err := l.db.Get(nativeKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var balance uint64
	if err := rlp.DecodeBytes(raw, &balance); err != nil {
		return 0, fmt.Errorf("custody: decode native balance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) putAccount(account *types.TokenAccount) error {
	stored := storedAccount{Balance: account.Balance}
	copy(stored.Mint[:], account.Mint.Bytes())
	copy(stored.Owner[:], account.Owner.Bytes())
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return l.db.Put(accountKey(account.Address), raw)
}

func (l *Ledger) putMint(mint crypto.Address, info *types.TokenMint) error {
	stored := storedMint{Supply: info.Supply, Decimals: info.Decimals}
	copy(stored.Authority[:], info.Authority.Bytes())
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return l.db.Put(mintKey(mint), raw)
}

func (l *Ledger) putNative(addr crypto.Address, balance uint64) error {
	raw, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return l.db.Put(nativeKey(addr), raw)
}

func accountKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), accountKeyPrefix...), addr.Bytes()...)
}

func mintKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), mintKeyPrefix...), addr.Bytes()...)
}

func nativeKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), nativeKeyPrefix...), addr.Bytes()...)
}
