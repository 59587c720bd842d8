package events

import (
	"aprvault/core/types"
	"aprvault/crypto"
)

const (
	// TypeStakeLocked is emitted when a deposit enters the staking facility.
	TypeStakeLocked = "stake.locked"
	// TypeStakeReleased is emitted when principal and reward leave the
	// staking facility.
	TypeStakeReleased = "stake.released"
)

// StakeLocked captures a stake deposit. TotalStaked is the accumulated
// principal after the deposit; the lock clock restarts at LockedAt.
type StakeLocked struct {
	Owner       crypto.Address
	Amount      uint64
	TotalStaked uint64
	LockedAt    int64
	Duration    int64
}

// EventType satisfies the Event interface.
func (StakeLocked) EventType() string { return TypeStakeLocked }

// Event converts the structured payload into a broadcastable event.
func (e StakeLocked) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeLocked,
		Attributes: map[string]string{
			"owner":       formatAddress(e.Owner),
			"amount":      formatAmount(e.Amount),
			"totalStaked": formatAmount(e.TotalStaked),
			"lockedAt":    formatTime(e.LockedAt),
			"duration":    formatTime(e.Duration),
		},
	}
}

// StakeReleased captures an unstake payout of principal plus reward.
type StakeReleased struct {
	Owner     crypto.Address
	Principal uint64
	Reward    uint64
	Remaining uint64
}

// EventType satisfies the Event interface.
func (StakeReleased) EventType() string { return TypeStakeReleased }

// Event converts the structured payload into a broadcastable event.
func (e StakeReleased) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeReleased,
		Attributes: map[string]string{
			"owner":     formatAddress(e.Owner),
			"principal": formatAmount(e.Principal),
			"reward":    formatAmount(e.Reward),
			"remaining": formatAmount(e.Remaining),
		},
	}
}
