// Package runtime turns signed transactions into account updates.
//
// A Transaction carries a legacy Solana message: a header, a deduplicated
// list of account keys, a recent blockhash and instructions that reference
// accounts by index. The Executor checks the message, loads every account,
// runs the instructions through the invoke runtime and hands back the
// resulting updates without writing them. The caller decides whether to
// commit.
package runtime

import (
	"bytes"
	"sort"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

// MaxTransactionSize is the largest serialized transaction accepted.
const MaxTransactionSize = 1232

// MessageHeader describes the account types in a message.
type MessageHeader struct {
	// NumRequiredSignatures is the number of signatures required.
	NumRequiredSignatures uint8

	// NumReadonlySignedAccounts is the number of readonly signer accounts.
	NumReadonlySignedAccounts uint8

	// NumReadonlyUnsignedAccounts is the number of readonly non-signer accounts.
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction is an instruction that references accounts by their
// index in Message.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// Message is the signed part of a transaction.
type Message struct {
	Header          MessageHeader
	AccountKeys     []types.Pubkey
	RecentBlockhash types.Hash
	Instructions    []CompiledInstruction
}

// IsSigner reports whether the account at index i must sign.
func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the account at index i may be written.
func (m *Message) IsWritable(i int) bool {
	numSigners := int(m.Header.NumRequiredSignatures)
	if i < numSigners {
		return i < numSigners-int(m.Header.NumReadonlySignedAccounts)
	}
	numWritableUnsigned := len(m.AccountKeys) - numSigners - int(m.Header.NumReadonlyUnsignedAccounts)
	return i-numSigners < numWritableUnsigned
}

// Sanitize checks the structural rules every message must follow.
func (m *Message) Sanitize() error {
	h := m.Header
	if h.NumRequiredSignatures == 0 {
		return ErrSanitizeFailure
	}
	if h.NumReadonlySignedAccounts >= h.NumRequiredSignatures {
		return ErrSanitizeFailure
	}
	if int(h.NumRequiredSignatures)+int(h.NumReadonlyUnsignedAccounts) > len(m.AccountKeys) {
		return ErrSanitizeFailure
	}

	seen := make(map[types.Pubkey]bool, len(m.AccountKeys))
	for _, key := range m.AccountKeys {
		if seen[key] {
			return ErrAccountLoadedTwice
		}
		seen[key] = true
	}

	for _, ix := range m.Instructions {
		// The fee payer cannot be a program.
		if ix.ProgramIDIndex == 0 || int(ix.ProgramIDIndex) >= len(m.AccountKeys) {
			return ErrSanitizeFailure
		}
		for _, index := range ix.AccountIndexes {
			if int(index) >= len(m.AccountKeys) {
				return ErrSanitizeFailure
			}
		}
	}
	return nil
}

// instruction expands a compiled instruction back into keyed metas.
func (m *Message) instruction(ix CompiledInstruction) invoke.Instruction {
	metas := make([]invoke.AccountMeta, len(ix.AccountIndexes))
	for i, index := range ix.AccountIndexes {
		metas[i] = invoke.AccountMeta{
			Pubkey:     m.AccountKeys[index],
			IsSigner:   m.IsSigner(int(index)),
			IsWritable: m.IsWritable(int(index)),
		}
	}
	return invoke.NewInstruction(m.AccountKeys[ix.ProgramIDIndex], ix.Data, metas...)
}

// accountMeta is an AccountMeta with the ordering flags a message needs.
type accountMeta struct {
	invoke.AccountMeta
	isPayer   bool
	isProgram bool
}

// sortableAccountMeta orders accounts the way a message lists them: payer
// first, then signers before non-signers, writable before readonly within
// each group, programs after everything else, and key order as the tie
// breaker.
type sortableAccountMeta []accountMeta

func (s sortableAccountMeta) Len() int      { return len(s) }
func (s sortableAccountMeta) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s sortableAccountMeta) Less(i, j int) bool {
	if s[i].isPayer != s[j].isPayer {
		return s[i].isPayer
	}
	if s[i].IsSigner != s[j].IsSigner {
		return s[i].IsSigner
	}
	if s[i].IsWritable != s[j].IsWritable {
		return s[i].IsWritable
	}
	if s[i].isProgram != s[j].isProgram {
		return !s[i].isProgram
	}
	return bytes.Compare(s[i].Pubkey[:], s[j].Pubkey[:]) < 0
}

// NewMessage compiles instructions into a message paid for by payer.
func NewMessage(payer types.Pubkey, instructions ...invoke.Instruction) Message {
	metas := []accountMeta{{
		AccountMeta: invoke.NewAccountMeta(payer, true),
		isPayer:     true,
	}}
	for _, ix := range instructions {
		metas = append(metas, accountMeta{
			AccountMeta: invoke.NewReadonlyAccountMeta(ix.ProgramID, false),
			isProgram:   true,
		})
		for _, a := range ix.Accounts {
			metas = append(metas, accountMeta{AccountMeta: a})
		}
	}
	metas = filterUnique(metas)
	sort.Sort(sortableAccountMeta(metas))

	var m Message
	index := make(map[types.Pubkey]uint8, len(metas))
	for i, a := range metas {
		index[a.Pubkey] = uint8(i)
		m.AccountKeys = append(m.AccountKeys, a.Pubkey)

		if a.IsSigner {
			m.Header.NumRequiredSignatures++
			if !a.IsWritable {
				m.Header.NumReadonlySignedAccounts++
			}
		} else if !a.IsWritable {
			m.Header.NumReadonlyUnsignedAccounts++
		}
	}

	for _, ix := range instructions {
		c := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			AccountIndexes: make([]uint8, len(ix.Accounts)),
			Data:           ix.Data,
		}
		for i, a := range ix.Accounts {
			c.AccountIndexes[i] = index[a.Pubkey]
		}
		m.Instructions = append(m.Instructions, c)
	}
	return m
}

// filterUnique merges repeated accounts, promoting each to the strongest
// privilege any reference asked for.
func filterUnique(metas []accountMeta) []accountMeta {
	filtered := make([]accountMeta, 0, len(metas))
	position := make(map[types.Pubkey]int, len(metas))

	for _, a := range metas {
		i, ok := position[a.Pubkey]
		if !ok {
			position[a.Pubkey] = len(filtered)
			filtered = append(filtered, a)
			continue
		}
		f := &filtered[i]
		f.IsSigner = f.IsSigner || a.IsSigner
		f.IsWritable = f.IsWritable || a.IsWritable
		f.isPayer = f.isPayer || a.isPayer
		// An account that is also passed as data is not ordered as a program.
		f.isProgram = f.isProgram && a.isProgram
	}
	return filtered
}
