package vault

import "fmt"

// Error is a vault program error. Errors reach transaction submitters as
// custom instruction errors carrying the numeric code, so the values are
// part of the program's interface and must never be renumbered.
type Error uint32

const (
	// ErrMalformedInstruction: the instruction payload could not be decoded.
	ErrMalformedInstruction Error = iota

	// ErrMissingSignature: the user account did not sign the transaction.
	ErrMissingSignature

	// ErrAddressMismatch: a supplied account is not the derived address it
	// claims to be, or the record belongs to someone else.
	ErrAddressMismatch

	// ErrAlreadyInitialized: the user's balance record already exists.
	ErrAlreadyInitialized

	// ErrInsufficientFunds: the withdrawal exceeds the recorded balance.
	ErrInsufficientFunds

	// ErrArithmeticOverflow: a credit would overflow the balance.
	ErrArithmeticOverflow

	// ErrArithmeticUnderflow: a debit would underflow the balance.
	ErrArithmeticUnderflow

	// ErrTransferFailed: the System Program rejected a currency movement.
	ErrTransferFailed

	// ErrUninitializedAccount: the balance record does not exist yet.
	ErrUninitializedAccount

	// ErrNotEnoughAccounts: fewer accounts were passed than the operation needs.
	ErrNotEnoughAccounts
)

var errorMessages = map[Error]string{
	ErrMalformedInstruction: "malformed instruction",
	ErrMissingSignature:     "missing user signature",
	ErrAddressMismatch:      "account address mismatch",
	ErrAlreadyInitialized:   "balance record already initialized",
	ErrInsufficientFunds:    "insufficient funds",
	ErrArithmeticOverflow:   "arithmetic overflow",
	ErrArithmeticUnderflow:  "arithmetic underflow",
	ErrTransferFailed:       "transfer failed",
	ErrUninitializedAccount: "balance record not initialized",
	ErrNotEnoughAccounts:    "not enough accounts",
}

func (e Error) Error() string {
	if msg, ok := errorMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("vault error %d", uint32(e))
}

// CustomCode returns the numeric error code.
func (e Error) CustomCode() uint32 {
	return uint32(e)
}

// ErrorFromCode maps a custom error code reported by a transaction back to
// the vault error.
func ErrorFromCode(code uint32) (Error, bool) {
	e := Error(code)
	_, ok := errorMessages[e]
	return e, ok
}
