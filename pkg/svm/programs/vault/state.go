package vault

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Vault/internal/types"
)

// BalanceRecordSize is the size of a serialized BalanceRecord.
//
// The layout carries no version tag or discriminator. Adding a field later
// makes existing 40 byte records ambiguous, so any format change needs a
// migration path decided up front.
const BalanceRecordSize = types.PubkeySize + 8

// BalanceRecord is the amount the vault owes one user.
//
// Layout:
//   - owner (32)
//   - balance (8, little-endian)
type BalanceRecord struct {
	Owner   types.Pubkey
	Balance uint64
}

// Marshal encodes the record.
func (r *BalanceRecord) Marshal() []byte {
	b := make([]byte, BalanceRecordSize)
	copy(b, r.Owner[:])
	binary.LittleEndian.PutUint64(b[types.PubkeySize:], r.Balance)
	return b
}

// Unmarshal decodes a record. The input must be exactly
// BalanceRecordSize bytes.
func (r *BalanceRecord) Unmarshal(data []byte) error {
	if len(data) != BalanceRecordSize {
		return ErrUninitializedAccount
	}
	copy(r.Owner[:], data[:types.PubkeySize])
	r.Balance = binary.LittleEndian.Uint64(data[types.PubkeySize:])
	return nil
}

// Credit adds amount to the balance.
func (r *BalanceRecord) Credit(amount uint64) error {
	if r.Balance > ^uint64(0)-amount {
		return ErrArithmeticOverflow
	}
	r.Balance += amount
	return nil
}

// Debit subtracts amount from the balance.
func (r *BalanceRecord) Debit(amount uint64) error {
	if r.Balance < amount {
		return ErrInsufficientFunds
	}
	next := r.Balance - amount
	if next > r.Balance {
		return ErrArithmeticUnderflow
	}
	r.Balance = next
	return nil
}
