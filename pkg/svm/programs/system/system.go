// Package system implements the System Program.
//
// The System Program owns every wallet and every fresh address. It is
// responsible for:
//   - creating new accounts
//   - transferring lamports out of accounts it owns
//   - assigning account ownership to another program
//   - allocating account space
//
// Program derived addresses reach it through a cross-program invocation
// signed by a ProgramAuthority.
package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/svm"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

// ProgramID is the System Program address (all zero bytes).
var ProgramID = types.SystemProgramAddr

// Instruction discriminants.
const (
	InstructionCreateAccount uint32 = iota
	InstructionAssign
	InstructionTransfer
	InstructionCreateAccountWithSeed
	InstructionAdvanceNonceAccount
	InstructionWithdrawNonceAccount
	InstructionInitializeNonceAccount
	InstructionAuthorizeNonceAccount
	InstructionAllocate
)

// Error is a System Program error. It reaches clients as a custom
// instruction error carrying its code.
type Error uint32

const (
	ErrAccountAlreadyInUse Error = iota
	ErrResultWithNegativeLamports
	ErrInvalidProgramID
	ErrInvalidAccountDataLength
)

var errorNames = map[Error]string{
	ErrAccountAlreadyInUse:        "account already in use",
	ErrResultWithNegativeLamports: "insufficient lamports for the requested operation",
	ErrInvalidProgramID:           "cannot assign account to this program id",
	ErrInvalidAccountDataLength:   "cannot allocate account data of this length",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("system error %d", uint32(e))
}

// CustomCode returns the numeric error code.
func (e Error) CustomCode() uint32 {
	return uint32(e)
}

// Instruction errors shared with the runtime.
var (
	ErrInvalidInstructionData   = errors.New("InvalidInstructionData")
	ErrMissingRequiredSignature = errors.New("MissingRequiredSignature")
	ErrArithmeticOverflow       = errors.New("ArithmeticOverflow")
)

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx *invoke.Context, data []byte) error {
	if err := ctx.Consume(svm.CUSystemProgram); err != nil {
		return err
	}
	if len(data) < 4 {
		return ErrInvalidInstructionData
	}

	args := data[4:]
	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, args)
	case InstructionAssign:
		return p.processAssign(ctx, args)
	case InstructionTransfer:
		return p.processTransfer(ctx, args)
	case InstructionAllocate:
		return p.processAllocate(ctx, args)
	default:
		return ErrInvalidInstructionData
	}
}

// processCreateAccount funds, allocates and assigns a fresh account.
// Accounts: [0] funder (signer, writable), [1] new account (signer, writable).
func (p *Processor) processCreateAccount(ctx *invoke.Context, data []byte) error {
	// lamports (8) + space (8) + owner (32)
	if len(data) != 48 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	space := binary.LittleEndian.Uint64(data[8:16])
	var owner types.Pubkey
	copy(owner[:], data[16:48])

	funder, err := ctx.Account(0)
	if err != nil {
		return err
	}
	target, err := ctx.Account(1)
	if err != nil {
		return err
	}

	if !funder.IsSigner || !target.IsSigner {
		return ErrMissingRequiredSignature
	}

	// An address that already holds lamports, data or a foreign owner is
	// in use, even if the funder could pay for it.
	acct := target.Account
	if acct.Owner != ProgramID || len(acct.Data) > 0 || acct.Lamports > 0 {
		ctx.Log("Create Account: account %s already in use", target.Key)
		return ErrAccountAlreadyInUse
	}

	if err := allocate(ctx, target, space); err != nil {
		return err
	}
	target.Account.Owner = owner

	return transfer(ctx, funder, target, lamports)
}

// processAssign changes the owner of an account.
// Accounts: [0] account (signer, writable).
func (p *Processor) processAssign(ctx *invoke.Context, data []byte) error {
	if len(data) != 32 {
		return ErrInvalidInstructionData
	}
	var owner types.Pubkey
	copy(owner[:], data)

	account, err := ctx.Account(0)
	if err != nil {
		return err
	}

	// Assigning to the current owner is a no-op and needs no signature.
	if account.Account.Owner == owner {
		return nil
	}
	if !account.IsSigner {
		ctx.Log("Assign: account %s must sign", account.Key)
		return ErrMissingRequiredSignature
	}
	if account.Account.Owner != ProgramID {
		return invoke.ErrModifiedProgramID
	}

	account.Account.Owner = owner
	return nil
}

// processTransfer moves lamports between accounts.
// Accounts: [0] from (signer, writable), [1] to (writable).
func (p *Processor) processTransfer(ctx *invoke.Context, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data)

	from, err := ctx.Account(0)
	if err != nil {
		return err
	}
	to, err := ctx.Account(1)
	if err != nil {
		return err
	}

	if !from.IsSigner {
		ctx.Log("Transfer: `from` account %s must sign", from.Key)
		return ErrMissingRequiredSignature
	}
	if len(from.Account.Data) > 0 {
		ctx.Log("Transfer: `from` must not carry data")
		return invoke.ErrExternalAccountDataModified
	}

	return transfer(ctx, from, to, lamports)
}

// processAllocate grows a fresh system owned account to the requested size.
// Accounts: [0] account (signer, writable).
func (p *Processor) processAllocate(ctx *invoke.Context, data []byte) error {
	if len(data) != 8 {
		return ErrInvalidInstructionData
	}
	space := binary.LittleEndian.Uint64(data)

	account, err := ctx.Account(0)
	if err != nil {
		return err
	}
	return allocate(ctx, account, space)
}

func allocate(ctx *invoke.Context, account *invoke.AccountHandle, space uint64) error {
	if !account.IsSigner {
		ctx.Log("Allocate: 'to' account %s must sign", account.Key)
		return ErrMissingRequiredSignature
	}

	// Only unallocated system accounts may be allocated.
	if len(account.Account.Data) > 0 || account.Account.Owner != ProgramID {
		ctx.Log("Allocate: account %s already in use", account.Key)
		return ErrAccountAlreadyInUse
	}
	if space > accounts.MaxDataSize {
		ctx.Log("Allocate: requested %d, max allowed %d", space, accounts.MaxDataSize)
		return ErrInvalidAccountDataLength
	}

	if space > 0 {
		account.Account.Data = make([]byte, space)
	}
	return nil
}

func transfer(ctx *invoke.Context, from, to *invoke.AccountHandle, lamports uint64) error {
	if lamports == 0 {
		return nil
	}
	if from.Account.Lamports < lamports {
		ctx.Log("Transfer: insufficient lamports %d, need %d", from.Account.Lamports, lamports)
		return ErrResultWithNegativeLamports
	}
	if from.Key != to.Key && to.Account.Lamports > ^uint64(0)-lamports {
		return ErrArithmeticOverflow
	}

	from.Account.Lamports -= lamports
	to.Account.Lamports += lamports
	return nil
}
