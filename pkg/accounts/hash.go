package accounts

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Vault/internal/types"
)

// AccountHash hashes one account:
// BLAKE3(lamports || rent_epoch || data || executable || owner || pubkey).
// Deleted (zero) accounts hash to the zero hash.
func AccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.IsZero() {
		return types.Hash{}
	}

	h := blake3.New()
	var num [8]byte
	binary.LittleEndian.PutUint64(num[:], account.Lamports)
	h.Write(num[:])
	binary.LittleEndian.PutUint64(num[:], account.RentEpoch)
	h.Write(num[:])
	h.Write(account.Data)
	if account.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DeltaHash is the merkle root over the hashes of the accounts a slot
// modified, ordered by pubkey.
func DeltaHash(updates []Update) types.Hash {
	sorted := make([]Update, len(updates))
	copy(sorted, updates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pubkey.Compare(sorted[j].Pubkey) < 0 })

	hashes := make([]types.Hash, len(sorted))
	for i, u := range sorted {
		hashes[i] = AccountHash(u.Pubkey, u.Account)
	}
	return MerkleRoot(hashes)
}

// StateHash is the merkle root over every stored account.
func StateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, AccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return MerkleRoot(hashes), nil
}

// MerkleRoot builds a binary merkle tree.
// Leaf: BLAKE3(0x00 || hash). Node: BLAKE3(0x01 || left || right).
// An odd node at any level is paired with the zero hash.
func MerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = leafHash(h)
	}
	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = nodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func leafHash(h types.Hash) types.Hash {
	var buf [1 + types.HashSize]byte
	copy(buf[1:], h[:])
	return blake3.Sum256(buf[:])
}

func nodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 2*types.HashSize]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[1+types.HashSize:], right[:])
	return blake3.Sum256(buf[:])
}

// BankHashInput contains the inputs for computing a slot's bank hash.
type BankHashInput struct {
	ParentBankHash types.Hash
	DeltaHash      types.Hash
	NumSignatures  uint64
	Blockhash      types.Hash
}

// BankHash = BLAKE3(parent_bankhash || delta_hash || num_sigs || blockhash).
func BankHash(input BankHashInput) types.Hash {
	var buf [32 + 32 + 8 + 32]byte
	copy(buf[0:], input.ParentBankHash[:])
	copy(buf[32:], input.DeltaHash[:])
	binary.LittleEndian.PutUint64(buf[64:], input.NumSignatures)
	copy(buf[72:], input.Blockhash[:])
	return blake3.Sum256(buf[:])
}
