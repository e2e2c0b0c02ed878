package invoke

import "errors"

// Runtime errors raised while executing an instruction. Their text matches
// the instruction error names reported to clients.
var (
	ErrNotEnoughAccountKeys        = errors.New("NotEnoughAccountKeys")
	ErrMissingAccount              = errors.New("MissingAccount")
	ErrUnsupportedProgramID        = errors.New("UnsupportedProgramId")
	ErrPrivilegeEscalation         = errors.New("PrivilegeEscalation")
	ErrCallDepth                   = errors.New("CallDepth")
	ErrReentrancyNotAllowed        = errors.New("ReentrancyNotAllowed")
	ErrReadonlyLamportChange       = errors.New("ReadonlyLamportChange")
	ErrReadonlyDataModified        = errors.New("ReadonlyDataModified")
	ErrExternalAccountLamportSpend = errors.New("ExternalAccountLamportSpend")
	ErrExternalAccountDataModified = errors.New("ExternalAccountDataModified")
	ErrModifiedProgramID           = errors.New("ModifiedProgramId")
	ErrExecutableModified          = errors.New("ExecutableModified")
	ErrRentEpochModified           = errors.New("RentEpochModified")
	ErrUnbalancedInstruction       = errors.New("UnbalancedInstruction")
	ErrInsufficientFundsForRent    = errors.New("InsufficientFundsForRent")
	ErrInvalidRealloc              = errors.New("InvalidRealloc")
	ErrInvalidSeeds                = errors.New("InvalidSeeds")
	ErrComputationalBudgetExceeded = errors.New("ComputationalBudgetExceeded")
)

// Errors raised when a ProgramAuthority cannot sign.
var (
	// ErrAuthorityConsumed is returned when an authority is presented to a
	// second invocation.
	ErrAuthorityConsumed = errors.New("program authority already consumed")

	// ErrAuthorityProgramMismatch is returned when a program presents an
	// authority created for another program.
	ErrAuthorityProgramMismatch = errors.New("program authority belongs to another program")
)

// CustomError is implemented by program-specific errors that carry a
// numeric code, such as the vault program's error taxonomy.
type CustomError interface {
	error
	CustomCode() uint32
}
