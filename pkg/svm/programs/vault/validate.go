package vault

import (
	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/system"
)

// accountsN returns the first n instruction accounts.
func accountsN(ctx *invoke.Context, n int) ([]*invoke.AccountHandle, error) {
	if ctx.NumAccounts() < n {
		return nil, ErrNotEnoughAccounts
	}
	return ctx.Accounts()[:n], nil
}

func requireSigner(h *invoke.AccountHandle) error {
	if !h.IsSigner {
		return ErrMissingSignature
	}
	return nil
}

func requireAddress(h *invoke.AccountHandle, expected types.Pubkey) error {
	if h.Key != expected {
		return ErrAddressMismatch
	}
	return nil
}

// requireSystemProgram checks the account the vault relies on to move
// lamports and allocate records.
func requireSystemProgram(h *invoke.AccountHandle) error {
	return requireAddress(h, system.ProgramID)
}

// requireRecordAddress checks that h is user's balance record.
func requireRecordAddress(ctx *invoke.Context, h *invoke.AccountHandle, user types.Pubkey) (uint8, error) {
	addr, bump, err := ctx.FindProgramAddress(userRecordPrefix, user[:])
	if err != nil {
		return 0, err
	}
	return bump, requireAddress(h, addr)
}

// requireVaultAddress checks that h is the escrow.
func requireVaultAddress(ctx *invoke.Context, h *invoke.AccountHandle) (uint8, error) {
	addr, bump, err := ctx.FindProgramAddress(vaultPrefix)
	if err != nil {
		return 0, err
	}
	return bump, requireAddress(h, addr)
}

// loadRecord reads user's balance record. The account must belong to the
// executing program, hold exactly one record, and name user as its owner.
func loadRecord(ctx *invoke.Context, h *invoke.AccountHandle, user types.Pubkey) (*BalanceRecord, error) {
	if h.Account.Owner != ctx.ProgramID() {
		return nil, ErrUninitializedAccount
	}
	var record BalanceRecord
	if err := record.Unmarshal(h.Account.Data); err != nil {
		return nil, err
	}
	if record.Owner != user {
		return nil, ErrAddressMismatch
	}
	return &record, nil
}

func storeRecord(h *invoke.AccountHandle, record *BalanceRecord) {
	h.Account.Data = record.Marshal()
}
