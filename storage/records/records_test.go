package records

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"aprvault/crypto"
	"aprvault/storage"
)

type fundingLedger struct {
	balances map[string]uint64
}

func newFundingLedger() *fundingLedger {
	return &fundingLedger{balances: make(map[string]uint64)}
}

func (f *fundingLedger) credit(addr crypto.Address, amount uint64) {
	f.balances[string(addr.Bytes())] += amount
}

func (f *fundingLedger) Debit(addr crypto.Address, amount uint64) error {
	key := string(addr.Bytes())
	if f.balances[key] < amount {
		return errors.New("insufficient funds")
	}
	f.balances[key] -= amount
	return nil
}

func testAddr(fill byte) crypto.Address {
	return crypto.NewAddress(crypto.APRPrefix, bytes.Repeat([]byte{fill}, crypto.AddressLength))
}

func newTestStore() *Store {
	return NewStore(storage.NewMemDB(), FundingPolicy{Base: 890_880, PerByte: 6_960})
}

func TestEnsureCreated(t *testing.T) {
	store := newTestStore()
	funds := newFundingLedger()
	funder := testAddr(0x01)
	addr := testAddr(0x02)
	owner := testAddr(0x03)
	funds.credit(funder, 10_000_000)

	rec, err := store.EnsureCreated(addr, addr, owner, 56, funder, funds)
	require.NoError(t, err)
	require.Equal(t, 56, rec.Size())
	require.Equal(t, store.Policy().Minimum(56), rec.Funding)

	// Creation debits the funder exactly once.
	remaining := funds.balances[string(funder.Bytes())]
	require.Equal(t, 10_000_000-store.Policy().Minimum(56), remaining)

	// Idempotent: a second call returns the existing record without a debit.
	again, err := store.EnsureCreated(addr, addr, owner, 56, funder, funds)
	require.NoError(t, err)
	require.Equal(t, 56, again.Size())
	require.Equal(t, remaining, funds.balances[string(funder.Bytes())])
}

func TestEnsureCreatedAddressMismatch(t *testing.T) {
	store := newTestStore()
	funds := newFundingLedger()
	funder := testAddr(0x01)
	funds.credit(funder, 10_000_000)

	_, err := store.EnsureCreated(testAddr(0x02), testAddr(0x04), testAddr(0x03), 56, funder, funds)
	require.ErrorIs(t, err, ErrAddressMismatch)

	_, ok, err := store.Load(testAddr(0x02))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsureCreatedInsufficientFunding(t *testing.T) {
	store := newTestStore()
	funds := newFundingLedger()
	funder := testAddr(0x01)
	funds.credit(funder, 1) // far below the retention minimum

	addr := testAddr(0x02)
	_, err := store.EnsureCreated(addr, addr, testAddr(0x03), 56, funder, funds)
	require.Error(t, err)

	_, ok, err := store.Load(addr)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResizeGrowTopsUpFunding(t *testing.T) {
	store := newTestStore()
	funds := newFundingLedger()
	funder := testAddr(0x01)
	addr := testAddr(0x02)
	funds.credit(funder, 100_000_000)

	rec, err := store.EnsureCreated(addr, addr, testAddr(0x03), 69, funder, funds)
	require.NoError(t, err)

	before := funds.balances[string(funder.Bytes())]
	require.NoError(t, store.Resize(rec, 94, false, funder, funds))
	require.Equal(t, 94, rec.Size())
	require.Equal(t, store.Policy().Minimum(94), rec.Funding)
	require.Equal(t, before-(store.Policy().Minimum(94)-store.Policy().Minimum(69)), funds.balances[string(funder.Bytes())])

	// Growth that the funder cannot cover fails before the capacity changes.
	broke := testAddr(0x0F)
	err = store.Resize(rec, 4_096, false, broke, funds)
	require.Error(t, err)
	require.Equal(t, 94, rec.Size())
}

func TestResizeShrinkZeroTail(t *testing.T) {
	store := newTestStore()
	funds := newFundingLedger()
	funder := testAddr(0x01)
	addr := testAddr(0x02)
	funds.credit(funder, 100_000_000)

	rec, err := store.EnsureCreated(addr, addr, testAddr(0x03), 8, funder, funds)
	require.NoError(t, err)
	require.NoError(t, rec.SetData([]byte{1, 2, 3, 4, 5, 6, 7, 8}))

	// Shrink without wiping: stale bytes reappear on re-grow.
	require.NoError(t, store.Resize(rec, 4, false, funder, funds))
	require.NoError(t, store.Resize(rec, 8, false, funder, funds))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, rec.Data())

	// Shrink with zeroTail: the freed tail is gone for good.
	require.NoError(t, store.Resize(rec, 4, true, funder, funds))
	require.NoError(t, store.Resize(rec, 8, false, funder, funds))
	require.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 0}, rec.Data())

	// Shrinking never refunds.
	require.Equal(t, store.Policy().Minimum(8), rec.Funding)
}

func TestRecordPersistenceRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db, FundingPolicy{Base: 890_880, PerByte: 6_960})
	funds := newFundingLedger()
	funder := testAddr(0x01)
	addr := testAddr(0x02)
	owner := testAddr(0x03)
	funds.credit(funder, 100_000_000)

	rec, err := store.EnsureCreated(addr, addr, owner, 8, funder, funds)
	require.NoError(t, err)
	require.NoError(t, rec.SetData([]byte{9, 8, 7, 6, 5, 4, 3, 2}))
	require.NoError(t, store.Resize(rec, 4, false, funder, funds))
	require.NoError(t, store.Save(rec))

	reloaded := NewStore(db, FundingPolicy{Base: 890_880, PerByte: 6_960})
	got, ok, err := reloaded.Load(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, got.Size())
	require.Equal(t, owner.Bytes(), got.Owner.Bytes())
	require.Equal(t, rec.Funding, got.Funding)

	// The stale tail persisted with the record.
	require.NoError(t, reloaded.Resize(got, 8, false, funder, funds))
	require.Equal(t, []byte{9, 8, 7, 6, 5, 4, 3, 2}, got.Data())
}
