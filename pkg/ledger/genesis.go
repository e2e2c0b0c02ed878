package ledger

import (
	"fmt"
	"time"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/blockstore"
	"github.com/fortiblox/X1-Vault/pkg/runtime"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
)

// GenesisConfig describes the initial ledger state.
type GenesisConfig struct {
	// Faucet receives FaucetLamports at genesis.
	Faucet types.Pubkey

	// FaucetLamports is the faucet's starting balance.
	FaucetLamports uint64

	// Accounts are extra accounts to create.
	Accounts []accounts.Update

	// CreationTime is the genesis block time.
	CreationTime time.Time
}

// Genesis writes the program accounts of registry, the funded faucet and
// any extra accounts at slot 0 and stores the genesis block. It fails with
// ErrAlreadyInitialized if blocks already holds a block.
func Genesis(config GenesisConfig, db accounts.DB, blocks blockstore.Store, registry *invoke.Registry) (*blockstore.Block, error) {
	stats, err := blocks.GetStats()
	if err != nil {
		return nil, fmt.Errorf("read blockstore stats: %w", err)
	}
	if stats.BlockCount > 0 {
		return nil, ErrAlreadyInitialized
	}

	updates := runtime.ProgramAccounts(registry)
	if config.FaucetLamports > 0 {
		updates = append(updates, accounts.Update{
			Pubkey:  config.Faucet,
			Account: &accounts.Account{Lamports: config.FaucetLamports, Owner: types.SystemProgramAddr},
		})
	}
	updates = append(updates, config.Accounts...)

	if err := db.Apply(0, updates); err != nil {
		return nil, fmt.Errorf("write genesis accounts: %w", err)
	}
	stateHash, err := accounts.StateHash(db)
	if err != nil {
		return nil, fmt.Errorf("hash genesis state: %w", err)
	}

	blockhash := types.ComputeHash([]byte("genesis"), stateHash[:])
	block := &blockstore.Block{
		Slot:      0,
		Blockhash: blockhash,
		BankHash: accounts.BankHash(accounts.BankHashInput{
			DeltaHash: accounts.DeltaHash(updates),
			Blockhash: blockhash,
		}),
		BlockTime: config.CreationTime.Unix(),
	}
	if err := blocks.PutBlock(block); err != nil {
		return nil, fmt.Errorf("store genesis block: %w", err)
	}
	return block, nil
}
