package treasury

import (
	"encoding/binary"
	"fmt"

	"aprvault/crypto"
)

// RecordSize is the fixed byte size of the singleton treasury record:
// initialization flag (1) + admin address (32) + legacy balance counter (8).
const RecordSize = 1 + 32 + 8

// State is the decoded form of the treasury record. Balance is a legacy
// informational counter carried for layout compatibility; no operation
// updates it after initialization.
type State struct {
	Initialized bool
	Admin       crypto.Address
	Balance     uint64
}

func encodeState(s *State) []byte {
	out := make([]byte, RecordSize)
	if s.Initialized {
		out[0] = 1
	}
	admin := s.Admin.Bytes32()
	copy(out[1:33], admin[:])
	binary.LittleEndian.PutUint64(out[33:41], s.Balance)
	return out
}

func decodeState(raw []byte) (*State, error) {
	if len(raw) != RecordSize {
		return nil, fmt.Errorf("treasury: record length %d, want %d", len(raw), RecordSize)
	}
	var admin [32]byte
	copy(admin[:], raw[1:33])
	return &State{
		Initialized: raw[0] == 1,
		Admin:       crypto.AddressFromBytes32(admin),
		Balance:     binary.LittleEndian.Uint64(raw[33:41]),
	}, nil
}
