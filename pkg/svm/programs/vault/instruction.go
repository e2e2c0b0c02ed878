package vault

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/system"
)

// Instruction tags.
const (
	TagInitialize uint8 = iota
	TagDeposit
	TagWithdraw
)

// Operation is a decoded vault instruction: Initialize, Deposit or
// Withdraw. The set is closed.
type Operation interface {
	isOperation()
}

// Initialize creates the caller's balance record.
type Initialize struct{}

// Deposit moves Amount lamports from the caller into the vault.
type Deposit struct {
	Amount uint64
}

// Withdraw moves Amount lamports from the vault back to the caller.
type Withdraw struct {
	Amount uint64
}

func (Initialize) isOperation() {}
func (Deposit) isOperation()    {}
func (Withdraw) isOperation()   {}

// DecodeOperation decodes an instruction payload. Any length other than
// the exact length of the tagged variant is rejected.
func DecodeOperation(data []byte) (Operation, error) {
	if len(data) == 0 {
		return nil, ErrMalformedInstruction
	}

	tag, args := data[0], data[1:]
	switch tag {
	case TagInitialize:
		if len(args) != 0 {
			return nil, ErrMalformedInstruction
		}
		return Initialize{}, nil
	case TagDeposit, TagWithdraw:
		if len(args) != 8 {
			return nil, ErrMalformedInstruction
		}
		amount := binary.LittleEndian.Uint64(args)
		if tag == TagDeposit {
			return Deposit{Amount: amount}, nil
		}
		return Withdraw{Amount: amount}, nil
	default:
		return nil, ErrMalformedInstruction
	}
}

// EncodeOperation encodes op as an instruction payload. A nil op fails
// with ErrMalformedInstruction.
func EncodeOperation(op Operation) ([]byte, error) {
	switch op := op.(type) {
	case Initialize:
		return []byte{TagInitialize}, nil
	case Deposit:
		return encodeAmount(TagDeposit, op.Amount), nil
	case Withdraw:
		return encodeAmount(TagWithdraw, op.Amount), nil
	default:
		return nil, ErrMalformedInstruction
	}
}

func encodeAmount(tag uint8, amount uint64) []byte {
	data := make([]byte, 1+8)
	data[0] = tag
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

// InstructionAccounts are the addresses a vault instruction references.
type InstructionAccounts struct {
	User   types.Pubkey
	Record types.Pubkey
	Vault  types.Pubkey
}

// DeriveInstructionAccounts fills in the record and vault addresses of
// user under programID.
func DeriveInstructionAccounts(programID, user types.Pubkey) (*InstructionAccounts, error) {
	record, _, err := UserRecordAddress(programID, user)
	if err != nil {
		return nil, err
	}
	vault, _, err := VaultAddress(programID)
	if err != nil {
		return nil, err
	}
	return &InstructionAccounts{
		User:   user,
		Record: record,
		Vault:  vault,
	}, nil
}

// NewInitializeInstruction builds an Initialize instruction.
//
// Account references:
//  0. [WRITE, SIGNER] User
//  1. [WRITE] Balance record
//  2. [] System program
func NewInitializeInstruction(programID types.Pubkey, accounts *InstructionAccounts) invoke.Instruction {
	return invoke.NewInstruction(
		programID,
		[]byte{TagInitialize},
		invoke.NewAccountMeta(accounts.User, true),
		invoke.NewAccountMeta(accounts.Record, false),
		invoke.NewReadonlyAccountMeta(system.ProgramID, false),
	)
}

// NewDepositInstruction builds a Deposit instruction.
//
// Account references:
//  0. [WRITE, SIGNER] User
//  1. [WRITE] Balance record
//  2. [WRITE] Vault
//  3. [] System program
func NewDepositInstruction(programID types.Pubkey, accounts *InstructionAccounts, amount uint64) invoke.Instruction {
	return newTransferInstruction(programID, accounts, TagDeposit, amount)
}

// NewWithdrawInstruction builds a Withdraw instruction. The account
// references match NewDepositInstruction.
func NewWithdrawInstruction(programID types.Pubkey, accounts *InstructionAccounts, amount uint64) invoke.Instruction {
	return newTransferInstruction(programID, accounts, TagWithdraw, amount)
}

func newTransferInstruction(programID types.Pubkey, accounts *InstructionAccounts, tag uint8, amount uint64) invoke.Instruction {
	return invoke.NewInstruction(
		programID,
		encodeAmount(tag, amount),
		invoke.NewAccountMeta(accounts.User, true),
		invoke.NewAccountMeta(accounts.Record, false),
		invoke.NewAccountMeta(accounts.Vault, false),
		invoke.NewReadonlyAccountMeta(system.ProgramID, false),
	)
}
