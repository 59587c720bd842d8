package events

import (
	"aprvault/core/types"
	"aprvault/crypto"
)

const (
	// TypeTicketPurchased is emitted when a deposit is converted into
	// vesting tickets.
	TypeTicketPurchased = "ticket.purchased"
	// TypeTicketRedeemed is emitted when matured tickets are redeemed for
	// principal plus yield.
	TypeTicketRedeemed = "ticket.redeemed"
)

// TicketPurchased captures a ticket purchase. Cost is the amount actually
// debited (the deposit remainder below one ticket price never moves).
type TicketPurchased struct {
	Owner         crypto.Address
	Count         uint64
	Cost          uint64
	VestingPeriod int64
	DepositTime   int64
	TicketTotal   uint64
}

// EventType satisfies the Event interface.
func (TicketPurchased) EventType() string { return TypeTicketPurchased }

// Event converts the structured payload into a broadcastable event.
func (e TicketPurchased) Event() *types.Event {
	return &types.Event{
		Type: TypeTicketPurchased,
		Attributes: map[string]string{
			"owner":         formatAddress(e.Owner),
			"count":         formatAmount(e.Count),
			"cost":          formatAmount(e.Cost),
			"vestingPeriod": formatTime(e.VestingPeriod),
			"depositTime":   formatTime(e.DepositTime),
			"ticketTotal":   formatAmount(e.TicketTotal),
		},
	}
}

// TicketRedeemed captures an aggregate redemption across one or more matured
// queue entries.
type TicketRedeemed struct {
	Owner       crypto.Address
	Count       uint64
	Principal   uint64
	Yield       uint64
	TicketTotal uint64
}

// EventType satisfies the Event interface.
func (TicketRedeemed) EventType() string { return TypeTicketRedeemed }

// Event converts the structured payload into a broadcastable event.
func (e TicketRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeTicketRedeemed,
		Attributes: map[string]string{
			"owner":       formatAddress(e.Owner),
			"count":       formatAmount(e.Count),
			"principal":   formatAmount(e.Principal),
			"yield":       formatAmount(e.Yield),
			"ticketTotal": formatAmount(e.TicketTotal),
		},
	}
}
