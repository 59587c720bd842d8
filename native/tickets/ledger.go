package tickets

import (
	"encoding/binary"
	"errors"
	"fmt"

	"aprvault/crypto"
)

const (
	// headerSize covers the 32-byte owner, the 8-byte running total and the
	// 4-byte entry count.
	headerSize = 32 + 8 + 4
	// entrySize is the persisted width of one queue entry: count, deposit
	// time, vesting period and the reserved claimed flag.
	entrySize = 8 + 8 + 8 + 1
)

// ErrCorruptedLedger indicates a ledger payload of the wrong shape.
var ErrCorruptedLedger = errors.New("tickets: corrupted ticket ledger")

// Ticket is one time-locked position in the vesting queue. Claimed is
// persisted but currently always false; the slot is reserved.
type Ticket struct {
	Count         uint64
	DepositTime   int64
	VestingPeriod int64
	Claimed       bool
}

// Matured reports whether the ticket's vesting period has elapsed at now.
func (t Ticket) Matured(now int64) bool {
	return now >= t.DepositTime+t.VestingPeriod
}

// Ledger is the decoded per-actor vesting queue. Tickets keeps insertion
// order; Total always equals the sum of Count over live entries.
type Ledger struct {
	Owner   crypto.Address
	Total   uint64
	Tickets []Ticket
}

// ledgerSize returns the persisted byte size of a ledger with n entries.
func ledgerSize(n int) int {
	return headerSize + n*entrySize
}

func encodeLedger(l *Ledger) []byte {
	buf := make([]byte, ledgerSize(len(l.Tickets)))
	owner := l.Owner.Bytes32()
	copy(buf[0:32], owner[:])
	binary.LittleEndian.PutUint64(buf[32:40], l.Total)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(l.Tickets)))
	off := headerSize
	for _, t := range l.Tickets {
		binary.LittleEndian.PutUint64(buf[off:off+8], t.Count)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(t.DepositTime))
		binary.LittleEndian.PutUint64(buf[off+16:off+24], uint64(t.VestingPeriod))
		if t.Claimed {
			buf[off+24] = 1
		}
		off += entrySize
	}
	return buf
}

func decodeLedger(data []byte) (*Ledger, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptedLedger, len(data))
	}
	n := int(binary.LittleEndian.Uint32(data[40:44]))
	if len(data) != ledgerSize(n) {
		return nil, fmt.Errorf("%w: %d entries in %d bytes", ErrCorruptedLedger, n, len(data))
	}
	var owner [32]byte
	copy(owner[:], data[0:32])
	ledger := &Ledger{
		Owner:   crypto.AddressFromBytes32(owner),
		Total:   binary.LittleEndian.Uint64(data[32:40]),
		Tickets: make([]Ticket, 0, n),
	}
	off := headerSize
	for i := 0; i < n; i++ {
		ledger.Tickets = append(ledger.Tickets, Ticket{
			Count:         binary.LittleEndian.Uint64(data[off : off+8]),
			DepositTime:   int64(binary.LittleEndian.Uint64(data[off+8 : off+16])),
			VestingPeriod: int64(binary.LittleEndian.Uint64(data[off+16 : off+24])),
			Claimed:       data[off+24] == 1,
		})
		off += entrySize
	}
	return ledger, nil
}
