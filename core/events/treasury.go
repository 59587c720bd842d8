package events

import (
	"aprvault/core/types"
	"aprvault/crypto"
)

const (
	// TypeTreasuryInitialized marks the one-time creation of the treasury
	// record and its mint.
	TypeTreasuryInitialized = "treasury.initialized"
	// TypeTokenMinted is emitted after custody mints tokens under the
	// treasury authority.
	TypeTokenMinted = "treasury.minted"
	// TypeTokenBurned is emitted after custody burns tokens from an account.
	TypeTokenBurned = "treasury.burned"
	// TypeTokenTransferred is emitted after a custody-to-custody transfer.
	TypeTokenTransferred = "token.transferred"
)

// TreasuryInitialized captures the singleton treasury bootstrap.
type TreasuryInitialized struct {
	Treasury crypto.Address
	Mint     crypto.Address
	Admin    crypto.Address
}

// EventType satisfies the Event interface.
func (TreasuryInitialized) EventType() string { return TypeTreasuryInitialized }

// Event converts the structured payload into a broadcastable event.
func (e TreasuryInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryInitialized,
		Attributes: map[string]string{
			"treasury": formatAddress(e.Treasury),
			"mint":     formatAddress(e.Mint),
			"admin":    formatAddress(e.Admin),
		},
	}
}

// TokenMinted captures a successful mint to a custody account.
type TokenMinted struct {
	Recipient crypto.Address
	Amount    uint64
	Supply    uint64
}

// EventType satisfies the Event interface.
func (TokenMinted) EventType() string { return TypeTokenMinted }

// Event converts the structured payload into a broadcastable event.
func (e TokenMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMinted,
		Attributes: map[string]string{
			"recipient": formatAddress(e.Recipient),
			"amount":    formatAmount(e.Amount),
			"supply":    formatAmount(e.Supply),
		},
	}
}

// TokenBurned captures a successful burn from a custody account.
type TokenBurned struct {
	Account crypto.Address
	Amount  uint64
}

// EventType satisfies the Event interface.
func (TokenBurned) EventType() string { return TypeTokenBurned }

// Event converts the structured payload into a broadcastable event.
func (e TokenBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenBurned,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"amount":  formatAmount(e.Amount),
		},
	}
}

// TokenTransferred captures a custody transfer between two accounts.
type TokenTransferred struct {
	From   crypto.Address
	To     crypto.Address
	Amount uint64
}

// EventType satisfies the Event interface.
func (TokenTransferred) EventType() string { return TypeTokenTransferred }

// Event converts the structured payload into a broadcastable event.
func (e TokenTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransferred,
		Attributes: map[string]string{
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}
