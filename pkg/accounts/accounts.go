// Package accounts stores ledger state: one Account per address.
//
// Every write goes through DB.Apply, which commits a set of account updates
// together with the slot they belong to as one atomic unit. The transaction
// runtime stages all changes of a transaction in memory and applies them only
// when the whole transaction succeeded, so a reader never observes a
// half-applied deposit or withdrawal.
package accounts

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/fortiblox/X1-Vault/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when stored account bytes are malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxDataSize bounds the data a single account may hold.
const MaxDataSize = 10 * 1024 * 1024

// Account is the state stored at one address.
type Account struct {
	// Lamports is the native currency balance.
	Lamports uint64

	// Data is the program-defined payload. Only the owner may change it.
	Data []byte

	// Owner is the program that owns this account.
	Owner types.Pubkey

	// Executable marks program accounts. Their data and lamports are frozen.
	Executable bool

	// RentEpoch is kept for wire compatibility and is always zero.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return &c
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0 && !a.Executable
}

// Equal reports whether two accounts hold identical state.
func (a *Account) Equal(b *Account) bool {
	return a.Lamports == b.Lamports &&
		a.Owner == b.Owner &&
		a.Executable == b.Executable &&
		a.RentEpoch == b.RentEpoch &&
		string(a.Data) == string(b.Data)
}

// serializedOverhead is every field except the data bytes.
const serializedOverhead = 8 + 8 + 32 + 1 + 8

// Serialize encodes the account for storage.
// Format: lamports (8) | data_len (8) | data | owner (32) | executable (1) | rent_epoch (8)
func (a *Account) Serialize() []byte {
	buf := make([]byte, serializedOverhead+len(a.Data))
	binary.LittleEndian.PutUint64(buf[0:], a.Lamports)
	binary.LittleEndian.PutUint64(buf[8:], uint64(len(a.Data)))
	n := 16 + copy(buf[16:], a.Data)
	n += copy(buf[n:], a.Owner[:])
	if a.Executable {
		buf[n] = 1
	}
	binary.LittleEndian.PutUint64(buf[n+1:], a.RentEpoch)
	return buf
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(b []byte) (*Account, error) {
	if len(b) < serializedOverhead {
		return nil, ErrInvalidData
	}
	dataLen := binary.LittleEndian.Uint64(b[8:])
	if dataLen > MaxDataSize || uint64(len(b)) != serializedOverhead+dataLen {
		return nil, ErrInvalidData
	}

	a := &Account{Lamports: binary.LittleEndian.Uint64(b[0:])}
	n := 16 + int(dataLen)
	if dataLen > 0 {
		a.Data = append([]byte(nil), b[16:n]...)
	}
	copy(a.Owner[:], b[n:n+32])
	switch b[n+32] {
	case 0:
	case 1:
		a.Executable = true
	default:
		return nil, ErrInvalidData
	}
	a.RentEpoch = binary.LittleEndian.Uint64(b[n+33:])
	return a, nil
}

// Update is one account write inside an Apply batch. A zero account
// deletes the address.
type Update struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// Apply atomically writes all updates and records slot as current.
	Apply(slot uint64, updates []Update) error

	// IterateAccounts calls fn for every account in ascending pubkey order.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the slot of the last applied batch.
	GetSlot() uint64

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// Apply writes all updates under one lock.
func (m *MemoryDB) Apply(slot uint64, updates []Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, u := range updates {
		if u.Account == nil || u.Account.IsZero() {
			delete(m.accounts, u.Pubkey)
			continue
		}
		m.accounts[u.Pubkey] = u.Account.Clone()
	}
	if slot > m.slot {
		m.slot = slot
	}
	return nil
}

// IterateAccounts visits accounts in ascending pubkey order.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	for k := range m.accounts {
		keys = append(keys, k)
	}
	snapshot := make(map[types.Pubkey]*Account, len(keys))
	for _, k := range keys {
		snapshot[k] = m.accounts[k].Clone()
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.accounts = nil
	return nil
}

var _ DB = (*MemoryDB)(nil)
