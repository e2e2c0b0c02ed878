package accounts

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vault/internal/types"
)

func testKey(b byte) types.Pubkey {
	var k types.Pubkey
	k[0] = b
	k[31] = 0xaa
	return k
}

func TestAccountSerialization(t *testing.T) {
	account := &Account{
		Lamports:   1_000_000_000,
		Data:       []byte("balance record"),
		Owner:      types.DefaultVaultProgramAddr,
		Executable: false,
		RentEpoch:  7,
	}

	restored, err := DeserializeAccount(account.Serialize())
	require.NoError(t, err)
	assert.True(t, account.Equal(restored))

	empty := &Account{Lamports: 5}
	restored, err = DeserializeAccount(empty.Serialize())
	require.NoError(t, err)
	assert.Nil(t, restored.Data)
	assert.Equal(t, uint64(5), restored.Lamports)
}

func TestDeserializeAccountRejectsMalformed(t *testing.T) {
	good := (&Account{Lamports: 1, Data: []byte{1, 2, 3}}).Serialize()

	_, err := DeserializeAccount(good[:10])
	assert.ErrorIs(t, err, ErrInvalidData)

	_, err = DeserializeAccount(append(good, 0))
	assert.ErrorIs(t, err, ErrInvalidData)

	bad := append([]byte(nil), good...)
	bad[16+3+32] = 2
	_, err = DeserializeAccount(bad)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestCloneIsDeep(t *testing.T) {
	a := &Account{Lamports: 1, Data: []byte{1}}
	c := a.Clone()
	c.Data[0] = 9
	assert.Equal(t, byte(1), a.Data[0])
}

// testDB runs the shared DB contract against an implementation.
func testDB(t *testing.T, db DB) {
	a, b := testKey(1), testKey(2)

	_, err := db.GetAccount(a)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, db.Apply(3, []Update{
		{Pubkey: b, Account: &Account{Lamports: 20}},
		{Pubkey: a, Account: &Account{Lamports: 10, Data: []byte("x"), Owner: types.DefaultVaultProgramAddr}},
	}))
	assert.Equal(t, uint64(3), db.GetSlot())

	got, err := db.GetAccount(a)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Lamports)
	assert.Equal(t, []byte("x"), got.Data)

	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	// Mutating a returned account must not change stored state.
	got.Lamports = 99
	again, err := db.GetAccount(a)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), again.Lamports)

	// Zero accounts are deleted; the slot never moves backwards.
	require.NoError(t, db.Apply(2, []Update{{Pubkey: b, Account: &Account{}}}))
	_, err = db.GetAccount(b)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Equal(t, uint64(3), db.GetSlot())

	count, err = db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	var seen []types.Pubkey
	require.NoError(t, db.Apply(4, []Update{{Pubkey: b, Account: &Account{Lamports: 1}}}))
	require.NoError(t, db.IterateAccounts(func(k types.Pubkey, _ *Account) error {
		seen = append(seen, k)
		return nil
	}))
	assert.Equal(t, []types.Pubkey{a, b}, seen)

	stop := errors.New("stop")
	err = db.IterateAccounts(func(types.Pubkey, *Account) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestMemoryDB(t *testing.T) {
	db := NewMemoryDB()
	testDB(t, db)

	require.NoError(t, db.Close())
	_, err := db.GetAccount(testKey(1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBadgerDB(t *testing.T) {
	cfg := DefaultBadgerDBConfig(t.TempDir())
	cfg.SyncWrites = false

	db, err := NewBadgerDB(cfg)
	require.NoError(t, err)
	testDB(t, db)
	require.NoError(t, db.Close())

	// Metadata and accounts survive a reopen.
	db, err = NewBadgerDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, uint64(4), db.GetSlot())
	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	got, err := db.GetAccount(testKey(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Lamports)
	assert.NoError(t, db.RunGC())
}

func TestBadgerDBDuplicateKeysInBatch(t *testing.T) {
	cfg := DefaultBadgerDBConfig("")
	cfg.InMemory = true

	db, err := NewBadgerDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	k := testKey(5)
	require.NoError(t, db.Apply(1, []Update{
		{Pubkey: k, Account: &Account{Lamports: 1}},
		{Pubkey: k, Account: &Account{Lamports: 2}},
	}))

	count, err := db.AccountsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	got, err := db.GetAccount(k)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Lamports)
}

func TestStateHash(t *testing.T) {
	db := NewMemoryDB()
	empty, err := StateHash(db)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	require.NoError(t, db.Apply(1, []Update{{Pubkey: testKey(1), Account: &Account{Lamports: 1}}}))
	h1, err := StateHash(db)
	require.NoError(t, err)

	require.NoError(t, db.Apply(2, []Update{{Pubkey: testKey(1), Account: &Account{Lamports: 2}}}))
	h2, err := StateHash(db)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	other := NewMemoryDB()
	require.NoError(t, other.Apply(9, []Update{{Pubkey: testKey(1), Account: &Account{Lamports: 2}}}))
	h3, err := StateHash(other)
	require.NoError(t, err)
	assert.Equal(t, h2, h3)
}

func TestDeltaHashOrderIndependent(t *testing.T) {
	u1 := Update{Pubkey: testKey(1), Account: &Account{Lamports: 1}}
	u2 := Update{Pubkey: testKey(2), Account: &Account{Lamports: 2}}
	u3 := Update{Pubkey: testKey(3), Account: &Account{}}

	assert.Equal(t, DeltaHash([]Update{u1, u2, u3}), DeltaHash([]Update{u3, u1, u2}))
	assert.NotEqual(t, DeltaHash([]Update{u1, u2}), DeltaHash([]Update{u1, u2, u3}))
}

func TestBankHashChains(t *testing.T) {
	in := BankHashInput{DeltaHash: types.ComputeHash([]byte("d")), NumSignatures: 1}
	first := BankHash(in)
	in.ParentBankHash = first
	assert.NotEqual(t, first, BankHash(in))
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewMemoryDB()
	require.NoError(t, src.Apply(12, []Update{
		{Pubkey: testKey(1), Account: &Account{Lamports: 1_169_280, Data: make([]byte, 40), Owner: types.DefaultVaultProgramAddr}},
		{Pubkey: testKey(2), Account: &Account{Lamports: 600_000}},
	}))

	path := filepath.Join(t.TempDir(), "snap", "ledger.snap")
	header, err := WriteSnapshot(src, path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), header.AccountsCount)
	assert.Equal(t, uint64(12), header.Slot)

	dst := NewMemoryDB()
	loaded, err := LoadSnapshot(dst, path)
	require.NoError(t, err)
	assert.Equal(t, header.StateHash, loaded.StateHash)
	assert.Equal(t, uint64(12), dst.GetSlot())

	got, err := dst.GetAccount(testKey(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(600_000), got.Lamports)

	// Restoring over existing state is refused.
	_, err = LoadSnapshot(dst, path)
	assert.Error(t, err)
}
