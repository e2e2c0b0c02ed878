package runtime

import (
	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/accounts"
	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/vault"
)

// NewProgramRegistry returns a registry holding the System Program and the
// vault program deployed at vaultProgramID.
func NewProgramRegistry(vaultProgramID types.Pubkey) *invoke.Registry {
	reg := invoke.NewRegistry()
	reg.Register(system.ProgramID, system.NewProcessor())
	reg.Register(vaultProgramID, vault.NewProcessor())
	return reg
}

// ProgramAccounts returns the executable accounts a ledger must hold for
// every program in reg.
func ProgramAccounts(reg *invoke.Registry) []accounts.Update {
	var updates []accounts.Update
	for _, id := range reg.IDs() {
		updates = append(updates, accounts.Update{
			Pubkey: id,
			Account: &accounts.Account{
				Lamports:   1,
				Owner:      types.NativeLoaderAddr,
				Executable: true,
			},
		})
	}
	return updates
}
