package ledger

import (
	"context"
	"fmt"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/system"
)

// FaucetPubkey returns the faucet address, or false if airdrops are disabled.
func (l *Ledger) FaucetPubkey() (types.Pubkey, bool) {
	if l.faucet == nil {
		return types.Pubkey{}, false
	}
	return l.faucet.Pubkey(), true
}

// RequestAirdrop transfers lamports from the faucet to pubkey.
func (l *Ledger) RequestAirdrop(ctx context.Context, pubkey types.Pubkey, lamports uint64) (types.Signature, error) {
	if l.faucet == nil {
		return types.Signature{}, ErrFaucetDisabled
	}
	if lamports > l.config.MaxAirdrop {
		return types.Signature{}, fmt.Errorf("%w: %d > %d", ErrAirdropTooLarge, lamports, l.config.MaxAirdrop)
	}

	blockhash, _ := l.LatestBlockhash()
	tx := runtime.NewTransaction(l.faucet.Pubkey(), system.Transfer(l.faucet.Pubkey(), pubkey, lamports))
	tx.SetBlockhash(blockhash)
	if err := tx.Sign(l.faucet); err != nil {
		return types.Signature{}, err
	}

	result, err := l.ProcessTransaction(ctx, &tx)
	if err != nil {
		return types.Signature{}, err
	}
	if result.Failed() {
		return result.Signature, fmt.Errorf("airdrop failed: %w", result.Err)
	}
	return result.Signature, nil
}
