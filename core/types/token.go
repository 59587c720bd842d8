package types

import "aprvault/crypto"

// TokenAccount is a custody-held token account: a balance in a mint,
// controlled by a wallet owner.
type TokenAccount struct {
	Address crypto.Address
	Mint    crypto.Address
	Owner   crypto.Address
	Balance uint64
}

// TokenMint describes a token type held by the custody service. The authority
// is the only address permitted to create new supply.
type TokenMint struct {
	Address   crypto.Address
	Authority crypto.Address
	Supply    uint64
	Decimals  uint8
}
