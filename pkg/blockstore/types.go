// Package blockstore keeps the blocks the ledger produces and the status of
// every transaction it processed.
//
// It provides:
//   - block storage with slot-based indexing
//   - transaction lookup by signature
//   - address-to-signature indexing
//   - automatic pruning of old blocks
//
// The blockstore uses BoltDB for persistent storage. Each block and all of
// its indexes are written in one BoltDB transaction.
package blockstore

import (
	"encoding/binary"
	"encoding/json"

	"github.com/fortiblox/X1-Vault/internal/types"
)

// CommitmentLevel represents the confirmation status of a block.
type CommitmentLevel uint8

const (
	// CommitmentProcessed indicates the transaction was executed but its
	// block has not been stored yet.
	CommitmentProcessed CommitmentLevel = iota

	// CommitmentConfirmed is accepted for client compatibility. A single
	// producer ledger never reports it.
	CommitmentConfirmed

	// CommitmentFinalized indicates the block is stored. The ledger has one
	// producer, so a stored block is never rolled back.
	CommitmentFinalized
)

// String returns the string representation of the commitment level.
func (c CommitmentLevel) String() string {
	switch c {
	case CommitmentProcessed:
		return "processed"
	case CommitmentConfirmed:
		return "confirmed"
	case CommitmentFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// ParseCommitment parses the commitment names clients send.
func ParseCommitment(s string) (CommitmentLevel, bool) {
	switch s {
	case "processed", "recent":
		return CommitmentProcessed, true
	case "confirmed", "single", "singleGossip":
		return CommitmentConfirmed, true
	case "finalized", "max", "root", "":
		return CommitmentFinalized, true
	default:
		return 0, false
	}
}

// SlotMeta contains metadata about a stored slot.
type SlotMeta struct {
	// Slot is the slot number.
	Slot uint64

	// ParentSlot is the parent slot number.
	ParentSlot uint64

	// BlockTime is the Unix timestamp when the block was produced.
	BlockTime int64

	// BlockHeight is the number of blocks produced since genesis.
	BlockHeight uint64

	// TransactionCount is the number of transactions in this slot.
	TransactionCount uint64

	// Blockhash is the hash of this block.
	Blockhash types.Hash

	// PreviousBlockhash is the hash of the previous block.
	PreviousBlockhash types.Hash

	// BankHash commits to the account state after this block.
	BankHash types.Hash
}

// Block is one produced block with all its transactions.
type Block struct {
	// Slot is the slot number.
	Slot uint64

	// ParentSlot is the parent slot number.
	ParentSlot uint64

	// Blockhash is the unique hash identifying this block. Transactions
	// use it as their recent blockhash.
	Blockhash types.Hash

	// PreviousBlockhash links to the parent block.
	PreviousBlockhash types.Hash

	// BankHash commits to the account state after this block.
	BankHash types.Hash

	// BlockTime is the Unix timestamp the block was produced at.
	BlockTime int64

	// BlockHeight is the block height.
	BlockHeight uint64

	// Transactions contains all transactions in this block.
	Transactions []Transaction
}

// Transaction is a processed transaction.
type Transaction struct {
	// Signature is the first signature, used as the transaction ID.
	Signature types.Signature

	// Raw is the transaction in wire format.
	Raw []byte

	// AccountKeys lists all accounts referenced by this transaction.
	AccountKeys []types.Pubkey

	// Meta contains execution metadata.
	Meta TransactionMeta

	// Slot is the slot this transaction was included in.
	Slot uint64
}

// TransactionMeta contains metadata about transaction execution.
type TransactionMeta struct {
	// Err is the JSON encoded transaction error, nil on success.
	Err json.RawMessage

	// PreBalances are account balances before execution.
	PreBalances []uint64

	// PostBalances are account balances after execution.
	PostBalances []uint64

	// LogMessages contains program log output.
	LogMessages []string

	// ComputeUnitsConsumed is the total compute units used.
	ComputeUnitsConsumed uint64
}

// TransactionStatus stores the execution status of a transaction.
type TransactionStatus struct {
	// Slot is the slot the transaction was processed in.
	Slot uint64

	// Signature is the transaction signature.
	Signature types.Signature

	// Err is the JSON encoded error if execution failed.
	Err json.RawMessage

	// ConfirmationStatus is the commitment level.
	ConfirmationStatus CommitmentLevel
}

// SignatureInfo is stored in the address-to-signature index.
type SignatureInfo struct {
	// Signature is the transaction signature.
	Signature types.Signature

	// Slot is the slot containing this transaction.
	Slot uint64

	// Err is present if the transaction failed.
	Err json.RawMessage

	// BlockTime is the block timestamp.
	BlockTime int64
}

// Helper functions for key encoding.

// EncodeSlotKey encodes a slot number as a big-endian 8-byte key.
// Big-endian ensures proper lexicographic ordering.
func EncodeSlotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

// DecodeSlotKey decodes a slot number from a big-endian 8-byte key.
func DecodeSlotKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeSignatureKey encodes a signature as a key (raw bytes).
func EncodeSignatureKey(sig types.Signature) []byte {
	return sig[:]
}

// EncodeAddressSlotKey encodes an address+slot+signature composite key.
// Format: [32-byte address][8-byte slot big-endian][64-byte signature]
func EncodeAddressSlotKey(addr types.Pubkey, slot uint64, sig types.Signature) []byte {
	key := make([]byte, 32+8+64)
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:40], slot)
	copy(key[40:], sig[:])
	return key
}

// DecodeAddressSlotKey decodes an address+slot+signature composite key.
func DecodeAddressSlotKey(key []byte) (types.Pubkey, uint64, types.Signature) {
	var (
		addr types.Pubkey
		sig  types.Signature
	)
	if len(key) < 32+8+64 {
		return addr, 0, sig
	}
	copy(addr[:], key[:32])
	copy(sig[:], key[40:])
	return addr, binary.BigEndian.Uint64(key[32:40]), sig
}

// DefaultRetainSlots keeps about four days of blocks at 2.5 slots per second.
const DefaultRetainSlots uint64 = 864_000
