package system

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

// CreateAccount builds a CreateAccount instruction.
//
// Account references:
//  0. [WRITE, SIGNER] Funding account
//  1. [WRITE, SIGNER] New account
func CreateAccount(funder, address, owner types.Pubkey, lamports, space uint64) invoke.Instruction {
	data := make([]byte, 4+2*8+32)
	binary.LittleEndian.PutUint32(data, InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[4+8:], space)
	copy(data[4+2*8:], owner[:])

	return invoke.NewInstruction(
		ProgramID,
		data,
		invoke.NewAccountMeta(funder, true),
		invoke.NewAccountMeta(address, true),
	)
}

// Assign builds an Assign instruction.
//
// Account references:
//  0. [WRITE, SIGNER] Assigned account
func Assign(address, owner types.Pubkey) invoke.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data, InstructionAssign)
	copy(data[4:], owner[:])

	return invoke.NewInstruction(
		ProgramID,
		data,
		invoke.NewAccountMeta(address, true),
	)
}

// Transfer builds a Transfer instruction.
//
// Account references:
//  0. [WRITE, SIGNER] Funding account
//  1. [WRITE] Recipient account
func Transfer(from, to types.Pubkey, lamports uint64) invoke.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)

	return invoke.NewInstruction(
		ProgramID,
		data,
		invoke.NewAccountMeta(from, true),
		invoke.NewAccountMeta(to, false),
	)
}

// Allocate builds an Allocate instruction.
//
// Account references:
//  0. [WRITE, SIGNER] New account
func Allocate(address types.Pubkey, space uint64) invoke.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data, InstructionAllocate)
	binary.LittleEndian.PutUint64(data[4:], space)

	return invoke.NewInstruction(
		ProgramID,
		data,
		invoke.NewAccountMeta(address, true),
	)
}
