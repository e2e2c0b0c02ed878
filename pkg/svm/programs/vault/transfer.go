package vault

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/system"
)

// transferFailed keeps the System Program's reason next to the vault code.
func transferFailed(cause error) error {
	return fmt.Errorf("%w: %v", ErrTransferFailed, cause)
}

// transferFromUser moves amount from the user's wallet into the vault.
// The user's own signature authorizes the debit.
func transferFromUser(ctx *invoke.Context, user, vault *invoke.AccountHandle, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := ctx.Invoke(system.Transfer(user.Key, vault.Key, amount)); err != nil {
		return transferFailed(err)
	}
	return nil
}

// transferFromVault moves amount from the vault to the user. The program
// signs for the vault by presenting its derivation seeds.
func transferFromVault(ctx *invoke.Context, vault, user *invoke.AccountHandle, amount uint64, bump uint8) error {
	if amount == 0 {
		return nil
	}
	authority := invoke.NewProgramAuthority(ctx.ProgramID(), vaultSeeds(bump)...)
	if err := ctx.InvokeSigned(system.Transfer(vault.Key, user.Key, amount), authority); err != nil {
		return transferFailed(err)
	}
	return nil
}

// createRecord makes the record address a program owned account holding
// BalanceRecordSize zeroed bytes and the rent exempt minimum, paid by user.
//
// A fresh address is created in one CreateAccount call. An address that
// someone already sent lamports to cannot be created, so it is topped up,
// allocated and assigned in separate calls instead.
func createRecord(ctx *invoke.Context, user, record *invoke.AccountHandle, bump uint8) error {
	programID := ctx.ProgramID()
	minimum := ctx.Rent().MinimumBalance(BalanceRecordSize)
	authority := func() *invoke.ProgramAuthority {
		return invoke.NewProgramAuthority(programID, userRecordSeeds(user.Key, bump)...)
	}

	current := record.Account
	if current.Lamports == 0 {
		err := ctx.InvokeSigned(
			system.CreateAccount(user.Key, record.Key, programID, minimum, BalanceRecordSize),
			authority(),
		)
		if errors.Is(err, system.ErrAccountAlreadyInUse) {
			return ErrAlreadyInitialized
		}
		if err != nil {
			return transferFailed(err)
		}
		return nil
	}

	if len(current.Data) > 0 || current.Owner != system.ProgramID {
		return ErrAlreadyInitialized
	}

	if current.Lamports < minimum {
		if err := ctx.Invoke(system.Transfer(user.Key, record.Key, minimum-current.Lamports)); err != nil {
			return transferFailed(err)
		}
	}
	steps := []invoke.Instruction{
		system.Allocate(record.Key, BalanceRecordSize),
		system.Assign(record.Key, programID),
	}
	for _, ix := range steps {
		if err := ctx.InvokeSigned(ix, authority()); err != nil {
			return transferFailed(err)
		}
	}
	return nil
}
