// Package vault implements the custodial vault program.
//
// Users deposit lamports into one pooled escrow, the vault, and the program
// records what it owes each of them in a per-user BalanceRecord. Both live
// at addresses derived from the program ID, so only this program can write
// the records or move lamports out of the vault.
//
// After every transaction the vault holds exactly the sum of all recorded
// balances.
package vault

import (
	"github.com/fortiblox/X1-Vault/pkg/svm"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

// Processor executes vault instructions.
type Processor struct{}

// NewProcessor creates a vault program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process decodes data and runs the matching operation.
func (p *Processor) Process(ctx *invoke.Context, data []byte) error {
	if err := ctx.Consume(svm.CUVaultProgram); err != nil {
		return err
	}

	op, err := DecodeOperation(data)
	if err != nil {
		return err
	}

	switch op := op.(type) {
	case Initialize:
		return p.processInitialize(ctx)
	case Deposit:
		return p.processDeposit(ctx, op.Amount)
	case Withdraw:
		return p.processWithdraw(ctx, op.Amount)
	default:
		return ErrMalformedInstruction
	}
}

// processInitialize creates the caller's zero balance record.
func (p *Processor) processInitialize(ctx *invoke.Context) error {
	accts, err := accountsN(ctx, 3)
	if err != nil {
		return err
	}
	user, record, systemProgram := accts[0], accts[1], accts[2]

	if err := requireSigner(user); err != nil {
		return err
	}
	bump, err := requireRecordAddress(ctx, record, user.Key)
	if err != nil {
		return err
	}
	if err := requireSystemProgram(systemProgram); err != nil {
		return err
	}
	if record.Account.Owner == ctx.ProgramID() {
		return ErrAlreadyInitialized
	}

	if err := createRecord(ctx, user, record, bump); err != nil {
		return err
	}
	storeRecord(record, &BalanceRecord{Owner: user.Key})

	ctx.Log("Initialized balance record %s", record.Key)
	return nil
}

// processDeposit moves amount into the vault, then credits it.
func (p *Processor) processDeposit(ctx *invoke.Context, amount uint64) error {
	accts, err := accountsN(ctx, 4)
	if err != nil {
		return err
	}
	user, record, vault, systemProgram := accts[0], accts[1], accts[2], accts[3]

	if err := requireSigner(user); err != nil {
		return err
	}
	if _, err := requireRecordAddress(ctx, record, user.Key); err != nil {
		return err
	}
	if _, err := requireVaultAddress(ctx, vault); err != nil {
		return err
	}
	if err := requireSystemProgram(systemProgram); err != nil {
		return err
	}

	balance, err := loadRecord(ctx, record, user.Key)
	if err != nil {
		return err
	}

	if err := transferFromUser(ctx, user, vault, amount); err != nil {
		return err
	}
	if err := balance.Credit(amount); err != nil {
		return err
	}
	storeRecord(record, balance)

	ctx.Log("Deposit: %d lamports", amount)
	return nil
}

// processWithdraw debits amount, then pays it out of the vault. The debit
// is recorded before any lamports leave.
func (p *Processor) processWithdraw(ctx *invoke.Context, amount uint64) error {
	accts, err := accountsN(ctx, 4)
	if err != nil {
		return err
	}
	user, record, vault, systemProgram := accts[0], accts[1], accts[2], accts[3]

	if err := requireSigner(user); err != nil {
		return err
	}
	if _, err := requireRecordAddress(ctx, record, user.Key); err != nil {
		return err
	}
	vaultBump, err := requireVaultAddress(ctx, vault)
	if err != nil {
		return err
	}
	if err := requireSystemProgram(systemProgram); err != nil {
		return err
	}

	balance, err := loadRecord(ctx, record, user.Key)
	if err != nil {
		return err
	}
	if err := balance.Debit(amount); err != nil {
		return err
	}
	storeRecord(record, balance)

	if err := transferFromVault(ctx, vault, user, amount, vaultBump); err != nil {
		return err
	}

	ctx.Log("Withdraw: %d lamports", amount)
	return nil
}

var _ invoke.Program = (*Processor)(nil)
