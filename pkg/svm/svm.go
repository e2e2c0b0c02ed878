// Package svm holds the execution budget and rent rules shared by the
// native programs and the transaction runtime.
package svm

// Rent parameters. They match the defaults of the Rent sysvar.
const (
	// AccountStorageOverhead is the per-account byte overhead charged for rent.
	AccountStorageOverhead = uint64(128)

	// LamportsPerByteYear is the yearly rent per stored byte.
	LamportsPerByteYear = uint64(3480)

	// ExemptionThresholdYears is how many years of rent make an account exempt.
	ExemptionThresholdYears = uint64(2)
)

// Rent computes rent-exemption minimums.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// DefaultRent returns the network default rent parameters.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: LamportsPerByteYear,
		ExemptionYears:      ExemptionThresholdYears,
	}
}

// MinimumBalance returns the lamports an account holding dataLen bytes
// needs to be rent exempt.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * r.LamportsPerByteYear * r.ExemptionYears
}

// IsExempt reports whether an account may hold lamports with dataLen bytes.
// Accounts without data carry no rent obligation: wallets and the vault
// escrow hold whatever they are sent.
func (r Rent) IsExempt(lamports uint64, dataLen uint64) bool {
	if dataLen == 0 {
		return true
	}
	return lamports >= r.MinimumBalance(dataLen)
}
