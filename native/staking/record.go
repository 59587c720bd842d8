package staking

import (
	"encoding/binary"
	"errors"

	"aprvault/crypto"
)

// RecordSize is the fixed byte size of a persisted staker record: three
// little-endian 8-byte numeric fields followed by the 32-byte owner.
const RecordSize = 56

// ErrCorruptedRecord indicates a staker record payload of the wrong shape.
var ErrCorruptedRecord = errors.New("staking: corrupted staker record")

// Position is the persisted accounting state of one staking actor. The record
// outlives a full unstake; its numeric fields are simply zeroed.
type Position struct {
	Amount       uint64
	LastStakedAt int64
	Duration     int64
	Owner        crypto.Address
}

func encodePosition(p *Position) []byte {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], p.Amount)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.LastStakedAt))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(p.Duration))
	owner := p.Owner.Bytes32()
	copy(buf[24:56], owner[:])
	return buf
}

func decodePosition(data []byte) (*Position, error) {
	if len(data) != RecordSize {
		return nil, ErrCorruptedRecord
	}
	var owner [32]byte
	copy(owner[:], data[24:56])
	return &Position{
		Amount:       binary.LittleEndian.Uint64(data[0:8]),
		LastStakedAt: int64(binary.LittleEndian.Uint64(data[8:16])),
		Duration:     int64(binary.LittleEndian.Uint64(data[16:24])),
		Owner:        crypto.AddressFromBytes32(owner),
	}, nil
}
