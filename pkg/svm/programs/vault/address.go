package vault

import (
	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/svm/pda"
)

var (
	userRecordPrefix = []byte("user-account")
	vaultPrefix      = []byte("vault")
)

// UserRecordAddress returns the address of user's balance record and its
// bump.
func UserRecordAddress(programID, user types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(
		[][]byte{
			userRecordPrefix,
			user[:],
		},
		programID,
	)
}

// VaultAddress returns the address of the escrow that pools every
// deposit, and its bump.
func VaultAddress(programID types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(
		[][]byte{
			vaultPrefix,
		},
		programID,
	)
}

// userRecordSeeds are the signer seeds of user's balance record.
func userRecordSeeds(user types.Pubkey, bump uint8) [][]byte {
	return [][]byte{userRecordPrefix, user[:], {bump}}
}

// vaultSeeds are the signer seeds of the escrow.
func vaultSeeds(bump uint8) [][]byte {
	return [][]byte{vaultPrefix, {bump}}
}
