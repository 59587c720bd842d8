package crypto

import (
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Derived authority addresses gate every privileged treasury operation. The
// derivation is a pure function of the seed bytes and the owning program
// identity: no private key exists for the resulting address, so authorisation
// is proven by re-deriving rather than by signature.
//
// A bump disambiguator is folded into the hash. Candidates whose leading byte
// is zero are rejected; the zero-prefixed namespace is reserved so a derived
// authority can never alias a module vault address. The highest bump in
// 255..0 producing an acceptable candidate wins, making the (address, bump)
// pair unique for a fixed seed and program.

const derivationDomain = "aprvault/authority/v1"

var (
	// ErrInvalidAuthority indicates a supplied account does not match the
	// derived authority address for its seed.
	ErrInvalidAuthority = errors.New("crypto: invalid authority address")
	// ErrNoValidBump indicates no bump in 0..255 produced an acceptable
	// candidate. With a 256-way search this is not reachable in practice.
	ErrNoValidBump = errors.New("crypto: no valid bump for seed")
)

// DeriveAuthority computes the unique (address, bump) pair for the given seed
// under the supplied program identity. The computation is deterministic and
// side-effect free.
func DeriveAuthority(seed []byte, program Address) (Address, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		candidate, ok := authorityCandidate(seed, uint8(bump), program)
		if !ok {
			continue
		}
		return candidate, uint8(bump), nil
	}
	return Address{}, 0, ErrNoValidBump
}

// VerifyAuthority re-derives the authority for seed and reports whether the
// candidate matches. Privileged handlers must call this before treating an
// account as authoritative.
func VerifyAuthority(candidate Address, seed []byte, program Address) bool {
	derived, _, err := DeriveAuthority(seed, program)
	if err != nil {
		return false
	}
	return derived.Equal(candidate)
}

// VerifyAuthorityWithBump checks a caller-supplied (candidate, bump) pair
// without searching: the bump must itself be acceptable and reproduce the
// candidate exactly.
func VerifyAuthorityWithBump(candidate Address, bump uint8, seed []byte, program Address) bool {
	derived, ok := authorityCandidate(seed, bump, program)
	if !ok {
		return false
	}
	if !derived.Equal(candidate) {
		return false
	}
	// The pair is only valid if no higher bump would have been chosen.
	canonical, canonicalBump, err := DeriveAuthority(seed, program)
	if err != nil {
		return false
	}
	return canonicalBump == bump && canonical.Equal(candidate)
}

func authorityCandidate(seed []byte, bump uint8, program Address) (Address, bool) {
	digest := ethcrypto.Keccak256(
		[]byte(derivationDomain),
		program.Bytes(),
		seed,
		[]byte{bump},
	)
	if digest[12] == 0 {
		return Address{}, false
	}
	return NewAddress(APRPrefix, digest[12:]), true
}
