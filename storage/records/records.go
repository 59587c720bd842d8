package records

import (
	"encoding/binary"
	"errors"
	"fmt"

	"aprvault/crypto"
	"aprvault/storage"
)

// Package records implements the persistent storage records owned by the
// program: treasury metadata, staker records and ticket ledgers. A record is
// a byte buffer with an explicit capacity and a funding balance that must
// stay at or above the retention minimum for that capacity. The physical
// backing buffer never shrinks; logically freed trailing bytes survive a
// shrink unless the caller asks for them to be wiped, mirroring the
// reallocation semantics the engines depend on.

var (
	// ErrAddressMismatch indicates a record address does not equal the
	// derived address the caller expected.
	ErrAddressMismatch = errors.New("records: address does not match derived address")
	// ErrNotFound indicates no record exists at the address.
	ErrNotFound = errors.New("records: record not found")
	// ErrCorrupted indicates a persisted record failed to decode.
	ErrCorrupted = errors.New("records: corrupted record")
)

var recordKeyPrefix = []byte("records/v1/")

// FundingPolicy computes the minimum funding balance required to retain a
// record of a given size indefinitely.
type FundingPolicy struct {
	Base    uint64
	PerByte uint64
}

// Minimum returns the retention minimum for a record of size bytes.
func (p FundingPolicy) Minimum(size int) uint64 {
	return p.Base + p.PerByte*uint64(size)
}

// FundingSource debits a funder when a record needs its balance topped up.
// The treasury engine backs this with the native balance ledger.
type FundingSource interface {
	Debit(addr crypto.Address, amount uint64) error
}

// Record is a single program-owned storage record. Size is the logical
// capacity visible to callers; buf retains the largest capacity the record
// has ever had.
type Record struct {
	Address crypto.Address
	Owner   crypto.Address
	Funding uint64
	size    uint32
	buf     []byte
}

// Size returns the record's logical capacity in bytes.
func (r *Record) Size() int { return int(r.size) }

// Data returns the record's logical contents. The slice aliases the backing
// buffer; callers mutate it in place before saving.
func (r *Record) Data() []byte { return r.buf[:r.size] }

// SetData copies b into the record. b must fit the logical capacity exactly.
func (r *Record) SetData(b []byte) error {
	if len(b) != int(r.size) {
		return fmt.Errorf("records: data length %d does not match record size %d", len(b), r.size)
	}
	copy(r.buf[:r.size], b)
	return nil
}

// Store persists records in the underlying key-value database.
type Store struct {
	db     storage.Database
	policy FundingPolicy
}

// NewStore constructs a record store bound to the provided database.
func NewStore(db storage.Database, policy FundingPolicy) *Store {
	return &Store{db: db, policy: policy}
}

// Policy returns the funding policy the store enforces.
func (s *Store) Policy() FundingPolicy { return s.policy }

// Load fetches the record at addr. The second return value reports whether
// the record exists.
func (s *Store) Load(addr crypto.Address) (*Record, bool, error) {
	raw, err := s.db.Get(recordKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := decodeRecord(addr, raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Save persists the record.
func (s *Store) Save(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("records: nil record")
	}
	return s.db.Put(recordKey(rec.Address), encodeRecord(rec))
}

// EnsureCreated allocates a record of exactly size bytes at addr, funded to
// the retention minimum from funder. The presented address must equal the
// derived address the caller computed; a mismatch is fatal. If the record
// already exists the call is idempotent and returns the existing record.
func (s *Store) EnsureCreated(addr, derived, owner crypto.Address, size int, funder crypto.Address, src FundingSource) (*Record, error) {
	if !addr.Equal(derived) {
		return nil, ErrAddressMismatch
	}
	existing, ok, err := s.Load(addr)
	if err != nil {
		return nil, err
	}
	if ok {
		return existing, nil
	}
	minimum := s.policy.Minimum(size)
	if err := src.Debit(funder, minimum); err != nil {
		return nil, fmt.Errorf("records: fund creation of %s: %w", addr, err)
	}
	rec := &Record{
		Address: addr,
		Owner:   owner,
		Funding: minimum,
		size:    uint32(size),
		buf:     make([]byte, size),
	}
	if err := s.Save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Resize changes the record's logical capacity. Growth tops up the funding
// balance from funder before the capacity changes; shrinking never refunds.
// zeroTail wipes the freed trailing bytes on shrink and must be set whenever
// stale contents must not leak into a later re-grow.
func (s *Store) Resize(rec *Record, newSize int, zeroTail bool, funder crypto.Address, src FundingSource) error {
	if rec == nil {
		return fmt.Errorf("records: nil record")
	}
	if newSize < 0 {
		return fmt.Errorf("records: negative size %d", newSize)
	}
	current := int(rec.size)
	if newSize == current {
		return nil
	}
	if newSize > current {
		required := s.policy.Minimum(newSize)
		if required > rec.Funding {
			topUp := required - rec.Funding
			if err := src.Debit(funder, topUp); err != nil {
				return fmt.Errorf("records: fund resize of %s: %w", rec.Address, err)
			}
			rec.Funding = required
		}
		if newSize > len(rec.buf) {
			rec.buf = append(rec.buf, make([]byte, newSize-len(rec.buf))...)
		}
		rec.size = uint32(newSize)
		return nil
	}
	if zeroTail {
		for i := newSize; i < current; i++ {
			rec.buf[i] = 0
		}
	}
	rec.size = uint32(newSize)
	return nil
}

func recordKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), recordKeyPrefix...), addr.Bytes()...)
}

// Persisted layout: funding (8, LE) || owner (20) || logical size (4, LE) ||
// backing buffer. The full backing buffer is stored so shrink-then-grow
// behaviour survives a reload.
func encodeRecord(rec *Record) []byte {
	out := make([]byte, 8+crypto.AddressLength+4+len(rec.buf))
	binary.LittleEndian.PutUint64(out[0:8], rec.Funding)
	copy(out[8:8+crypto.AddressLength], rec.Owner.Bytes())
	binary.LittleEndian.PutUint32(out[8+crypto.AddressLength:], rec.size)
	copy(out[8+crypto.AddressLength+4:], rec.buf)
	return out
}

func decodeRecord(addr crypto.Address, raw []byte) (*Record, error) {
	header := 8 + crypto.AddressLength + 4
	if len(raw) < header {
		return nil, ErrCorrupted
	}
	funding := binary.LittleEndian.Uint64(raw[0:8])
	owner := crypto.NewAddress(crypto.APRPrefix, raw[8:8+crypto.AddressLength])
	size := binary.LittleEndian.Uint32(raw[8+crypto.AddressLength : header])
	buf := append([]byte(nil), raw[header:]...)
	if int(size) > len(buf) {
		return nil, ErrCorrupted
	}
	return &Record{
		Address: addr,
		Owner:   owner,
		Funding: funding,
		size:    size,
		buf:     buf,
	}, nil
}
