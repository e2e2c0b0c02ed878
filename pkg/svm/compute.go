package svm

import "errors"

// Compute unit costs charged by the vault runtime. Values follow the
// Agave defaults for the same operations.
const (
	CUDefault = uint64(200_000)   // Default limit per instruction
	CUMax     = uint64(1_400_000) // Max limit per transaction

	CUInvokeBase           = uint64(1_000) // Cross-program invocation
	CUCreateProgramAddress = uint64(1_500) // create_program_address
	CUFindProgramAddress   = uint64(1_500) // find_program_address, per bump tried
	CUSystemProgram        = uint64(150)   // System program instruction
	CUVaultProgram         = uint64(500)   // Vault program dispatch
	CULog                  = uint64(100)   // One program log line
)

// CPIDepthMax is the maximum nesting of cross-program invocations.
const CPIDepthMax = 4

// ErrComputeExceeded is returned when compute units are exhausted.
var ErrComputeExceeded = errors.New("compute budget exceeded")

// ComputeMeter tracks compute unit consumption for one transaction.
// A transaction runs on a single goroutine, so the meter is not synchronized.
type ComputeMeter struct {
	limit    uint64
	consumed uint64
}

// NewComputeMeter creates a meter capped at CUMax.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit == 0 || limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{limit: limit}
}

// Consume charges cost units. Once the budget is exceeded the meter stays
// exhausted and every further call fails.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if cost > cm.limit-cm.consumed {
		cm.consumed = cm.limit
		return ErrComputeExceeded
	}
	cm.consumed += cost
	return nil
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return cm.limit - cm.consumed
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return cm.consumed
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
