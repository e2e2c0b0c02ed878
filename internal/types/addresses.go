package types

import "fmt"

// Native program and sysvar addresses used by the vault runtime.
var (
	// SystemProgramAddr is the System Program address (all zero bytes).
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// NativeLoaderAddr owns every builtin program account.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")

	// DefaultVaultProgramAddr is the program id the vault is deployed under
	// when no other id is configured.
	DefaultVaultProgramAddr = MustPubkeyFromBase58("Vau1t11111111111111111111111111111111111111")
)

// MustPubkeyFromBase58 parses a base58 pubkey or panics.
// Only use for compile-time constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid pubkey constant %q: %v", s, err))
	}
	return p
}

// IsNativeProgram returns true if the pubkey is a builtin program.
func IsNativeProgram(p Pubkey) bool {
	switch p {
	case SystemProgramAddr, NativeLoaderAddr:
		return true
	default:
		return false
	}
}
