package config

import "fmt"

// Policy is the immutable parameter set handed to every engine at
// construction. Seeds feed authority derivation; the numeric constants govern
// supply, pricing and lock durations. Engines never read ambient globals.
type Policy struct {
	MintSeed     string `toml:"MintSeed"`
	TreasurySeed string `toml:"TreasurySeed"`
	TicketSeed   string `toml:"TicketSeed"`
	StakerSeed   string `toml:"StakerSeed"`

	// MaxSupply bounds the custody supply in base units.
	MaxSupply uint64 `toml:"MaxSupply"`
	// TicketPrice is the fixed cost of a single vesting ticket.
	TicketPrice uint64 `toml:"TicketPrice"`
	// YieldRatePercent is the simple annual interest rate applied to both
	// staking rewards and ticket yield.
	YieldRatePercent uint64 `toml:"YieldRatePercent"`
	// StakeLockSeconds is the fixed lock applied to every stake.
	StakeLockSeconds int64 `toml:"StakeLockSeconds"`
	// MaxTicketEntries caps the per-actor vesting queue length.
	MaxTicketEntries int `toml:"MaxTicketEntries"`
	// Decimals is the mint's display precision.
	Decimals uint8 `toml:"Decimals"`

	// FundingBase and FundingPerByte set the minimum-balance policy for
	// record retention.
	FundingBase    uint64 `toml:"FundingBase"`
	FundingPerByte uint64 `toml:"FundingPerByte"`
}

func (p *Policy) applyDefaults() {
	if p.MintSeed == "" {
		p.MintSeed = "aprvault/mint"
	}
	if p.TreasurySeed == "" {
		p.TreasurySeed = "aprvault/treasury"
	}
	if p.TicketSeed == "" {
		p.TicketSeed = "aprvault/ticket"
	}
	if p.StakerSeed == "" {
		p.StakerSeed = "staker"
	}
	if p.MaxSupply == 0 {
		p.MaxSupply = 1_000_000_000
	}
	if p.TicketPrice == 0 {
		p.TicketPrice = 1_000_000
	}
	if p.YieldRatePercent == 0 {
		p.YieldRatePercent = 5
	}
	if p.StakeLockSeconds == 0 {
		p.StakeLockSeconds = 24 * 60 * 60
	}
	if p.MaxTicketEntries == 0 {
		p.MaxTicketEntries = 178
	}
	if p.Decimals == 0 {
		p.Decimals = 9
	}
	if p.FundingBase == 0 {
		p.FundingBase = 890_880
	}
	if p.FundingPerByte == 0 {
		p.FundingPerByte = 6_960
	}
}

// Validate rejects parameter combinations the engines cannot operate under.
func (p Policy) Validate() error {
	if p.MintSeed == p.TreasurySeed || p.MintSeed == p.TicketSeed || p.TreasurySeed == p.TicketSeed {
		return fmt.Errorf("policy: derivation seeds must be distinct")
	}
	if p.TicketPrice == 0 {
		return fmt.Errorf("policy: ticket price must be positive")
	}
	if p.MaxSupply == 0 {
		return fmt.Errorf("policy: max supply must be positive")
	}
	if p.StakeLockSeconds < 0 {
		return fmt.Errorf("policy: stake lock must not be negative")
	}
	if p.MaxTicketEntries <= 0 {
		return fmt.Errorf("policy: ticket queue capacity must be positive")
	}
	return nil
}

// Default returns the policy used when no configuration file overrides it.
func Default() Policy {
	p := Policy{}
	p.applyDefaults()
	return p
}
