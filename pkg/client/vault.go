package client

import (
	"context"

	"github.com/pkg/errors"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/vault"
)

// Initialize creates the balance record of user. An existing record owned
// by user counts as success and returns the zero signature.
func (c *Client) Initialize(ctx context.Context, user *types.Keypair) (types.Signature, error) {
	accounts, err := c.instructionAccounts(user.Pubkey())
	if err != nil {
		return types.Signature{}, err
	}

	sig, err := c.Submit(ctx, user, vault.NewInitializeInstruction(c.config.ProgramID, accounts))
	if code, ok := VaultError(err); ok && code == vault.ErrAlreadyInitialized {
		balance, balanceErr := c.GetVaultBalance(ctx, user.Pubkey())
		if balanceErr != nil {
			return sig, errors.Wrap(err, "record exists but could not be read")
		}
		if balance.Owner != user.Pubkey() {
			return sig, errors.Wrapf(err, "record %s belongs to %s", balance.Record, balance.Owner)
		}
		c.log.WithField("user", user.Pubkey().String()).Debug("balance record already initialized")
		return types.Signature{}, nil
	}
	return sig, err
}

// Deposit moves amount lamports from user into the vault.
func (c *Client) Deposit(ctx context.Context, user *types.Keypair, amount uint64) (types.Signature, error) {
	accounts, err := c.instructionAccounts(user.Pubkey())
	if err != nil {
		return types.Signature{}, err
	}
	return c.Submit(ctx, user, vault.NewDepositInstruction(c.config.ProgramID, accounts, amount))
}

// Withdraw moves amount lamports from the vault back to user.
func (c *Client) Withdraw(ctx context.Context, user *types.Keypair, amount uint64) (types.Signature, error) {
	accounts, err := c.instructionAccounts(user.Pubkey())
	if err != nil {
		return types.Signature{}, err
	}
	return c.Submit(ctx, user, vault.NewWithdrawInstruction(c.config.ProgramID, accounts, amount))
}

// Balance returns the lamports the vault holds for user, or
// ErrNotInitialized.
func (c *Client) Balance(ctx context.Context, user types.Pubkey) (uint64, error) {
	balance, err := c.GetVaultBalance(ctx, user)
	if err != nil {
		return 0, err
	}
	return balance.Balance, nil
}

// VaultHoldings returns the lamports held by the vault account, the sum of
// every user's balance.
func (c *Client) VaultHoldings(ctx context.Context) (uint64, error) {
	address, _, err := vault.VaultAddress(c.config.ProgramID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to derive vault address")
	}
	return c.GetBalance(ctx, address)
}

// Transfer moves lamports between two system accounts.
func (c *Client) Transfer(ctx context.Context, from *types.Keypair, to types.Pubkey, lamports uint64) (types.Signature, error) {
	return c.Submit(ctx, from, system.Transfer(from.Pubkey(), to, lamports))
}

func (c *Client) instructionAccounts(user types.Pubkey) (*vault.InstructionAccounts, error) {
	accounts, err := vault.DeriveInstructionAccounts(c.config.ProgramID, user)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive vault accounts")
	}
	return accounts, nil
}

// VaultError returns the vault program error carried by err, the result of
// a vault transaction, if any.
func VaultError(err error) (vault.Error, bool) {
	var txErr *runtime.TransactionError
	if !errors.As(err, &txErr) || txErr.Instruction == nil {
		return 0, false
	}
	code, ok := txErr.Instruction.CustomError()
	if !ok {
		return 0, false
	}
	return vault.ErrorFromCode(code.CustomCode())
}
