package runtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Vault/pkg/svm/invoke"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/system"
)

// TransactionErrorKey is the name of a transaction level error, as
// reported in the "err" field of transaction statuses.
type TransactionErrorKey string

const (
	TransactionErrorAccountLoadedTwice TransactionErrorKey = "AccountLoadedTwice" // A key appears twice in the message account list
	TransactionErrorBlockhashNotFound  TransactionErrorKey = "BlockhashNotFound"  // The recent blockhash is unknown or too old
	TransactionErrorDuplicateSignature TransactionErrorKey = "DuplicateSignature" // The ledger has already processed this transaction
	TransactionErrorInstructionError   TransactionErrorKey = "InstructionError"   // An instruction failed; see InstructionError
	TransactionErrorSanitizeFailure    TransactionErrorKey = "SanitizeFailure"    // The message breaks a structural rule
	TransactionErrorSignatureFailure   TransactionErrorKey = "SignatureFailure"   // A required signature is missing or invalid

	// An instruction names a program account that does not exist.
	TransactionErrorProgramNotFound TransactionErrorKey = "ProgramAccountNotFound"

	// An instruction names an account that is not an executable program.
	TransactionErrorInvalidProgram TransactionErrorKey = "InvalidProgramForExecution"
)

// Transaction level errors.
var (
	ErrAccountLoadedTwice = &TransactionError{Key: TransactionErrorAccountLoadedTwice}
	ErrBlockhashNotFound  = &TransactionError{Key: TransactionErrorBlockhashNotFound}
	ErrDuplicateSignature = &TransactionError{Key: TransactionErrorDuplicateSignature}
	ErrSanitizeFailure    = &TransactionError{Key: TransactionErrorSanitizeFailure}
	ErrSignatureFailure   = &TransactionError{Key: TransactionErrorSignatureFailure}
	ErrProgramNotFound    = &TransactionError{Key: TransactionErrorProgramNotFound}
	ErrInvalidProgram     = &TransactionError{Key: TransactionErrorInvalidProgram}
)

// InstructionErrorCustom is the key of program specific errors.
const InstructionErrorCustom = "Custom"

// GenericError is reported for failures that have no instruction error name.
var GenericError = errors.New("GenericError")

// CustomError is the numeric error returned by a program.
type CustomError uint32

func (c CustomError) Error() string {
	return fmt.Sprintf("custom program error: 0x%x", uint32(c))
}

// CustomCode returns the error code.
func (c CustomError) CustomCode() uint32 {
	return uint32(c)
}

// InstructionError reports which instruction failed and why.
type InstructionError struct {
	Index int
	Err   error
}

func (i InstructionError) Error() string {
	return fmt.Sprintf("Error processing Instruction %d: %v", i.Index, i.Err)
}

// Unwrap exposes the cause so callers can match sentinels.
func (i InstructionError) Unwrap() error {
	return i.Err
}

// CustomError returns the program error code if there is one.
func (i InstructionError) CustomError() (CustomError, bool) {
	var custom invoke.CustomError
	if errors.As(i.Err, &custom) {
		return CustomError(custom.CustomCode()), true
	}
	return 0, false
}

// Key returns the instruction error name.
func (i InstructionError) Key() string {
	if _, ok := i.CustomError(); ok {
		return InstructionErrorCustom
	}
	for _, known := range instructionErrors {
		if errors.Is(i.Err, known) {
			return known.Error()
		}
	}
	return GenericError.Error()
}

// instructionErrors are the named failures the runtime and the System
// Program can raise.
var instructionErrors = []error{
	invoke.ErrNotEnoughAccountKeys,
	invoke.ErrMissingAccount,
	invoke.ErrUnsupportedProgramID,
	invoke.ErrPrivilegeEscalation,
	invoke.ErrCallDepth,
	invoke.ErrReentrancyNotAllowed,
	invoke.ErrReadonlyLamportChange,
	invoke.ErrReadonlyDataModified,
	invoke.ErrExternalAccountLamportSpend,
	invoke.ErrExternalAccountDataModified,
	invoke.ErrModifiedProgramID,
	invoke.ErrExecutableModified,
	invoke.ErrRentEpochModified,
	invoke.ErrUnbalancedInstruction,
	invoke.ErrInsufficientFundsForRent,
	invoke.ErrInvalidRealloc,
	invoke.ErrInvalidSeeds,
	invoke.ErrComputationalBudgetExceeded,
	system.ErrInvalidInstructionData,
	system.ErrMissingRequiredSignature,
	system.ErrArithmeticOverflow,
	GenericError,
}

// TransactionError is a failed transaction. Instruction is set when Key is
// TransactionErrorInstructionError.
type TransactionError struct {
	Key         TransactionErrorKey
	Instruction *InstructionError
}

// NewInstructionError wraps the failure of instruction index.
func NewInstructionError(index int, err error) *TransactionError {
	return &TransactionError{
		Key:         TransactionErrorInstructionError,
		Instruction: &InstructionError{Index: index, Err: err},
	}
}

func (e *TransactionError) Error() string {
	if e.Instruction != nil {
		return fmt.Sprintf("transaction failed: %v", *e.Instruction)
	}
	return fmt.Sprintf("transaction failed: %s", e.Key)
}

// Is matches transaction errors by key, so a decoded error still matches
// the package sentinels.
func (e *TransactionError) Is(target error) bool {
	t, ok := target.(*TransactionError)
	return ok && t.Instruction == nil && t.Key == e.Key
}

// Unwrap exposes the instruction failure.
func (e *TransactionError) Unwrap() error {
	if e.Instruction == nil {
		return nil
	}
	return *e.Instruction
}

// MarshalJSON encodes the error the way Solana nodes report it:
// "BlockhashNotFound", or {"InstructionError":[0,{"Custom":2}]}, or
// {"InstructionError":[0,"MissingRequiredSignature"]}.
func (e *TransactionError) MarshalJSON() ([]byte, error) {
	if e.Instruction == nil {
		return json.Marshal(string(e.Key))
	}

	var detail interface{} = e.Instruction.Key()
	if code, ok := e.Instruction.CustomError(); ok {
		detail = map[string]uint32{InstructionErrorCustom: uint32(code)}
	}
	return json.Marshal(map[string][]interface{}{
		string(TransactionErrorInstructionError): {e.Instruction.Index, detail},
	})
}

// UnmarshalJSON decodes every form MarshalJSON produces.
func (e *TransactionError) UnmarshalJSON(b []byte) error {
	var key string
	if err := json.Unmarshal(b, &key); err == nil {
		*e = TransactionError{Key: TransactionErrorKey(key)}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("unexpected transaction error format: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("invalid transaction error size: %d", len(obj))
	}
	for k, v := range obj {
		if TransactionErrorKey(k) != TransactionErrorInstructionError {
			*e = TransactionError{Key: TransactionErrorKey(k)}
			return nil
		}
		ie, err := parseInstructionError(v)
		if err != nil {
			return err
		}
		*e = TransactionError{Key: TransactionErrorInstructionError, Instruction: ie}
	}
	return nil
}

func parseInstructionError(raw json.RawMessage) (*InstructionError, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return nil, fmt.Errorf("unexpected instruction error format: %w", err)
	}
	if len(tuple) != 2 {
		return nil, fmt.Errorf("wrong number of entries in InstructionError tuple: %d", len(tuple))
	}

	ie := &InstructionError{}
	if err := json.Unmarshal(tuple[0], &ie.Index); err != nil {
		return nil, fmt.Errorf("invalid instruction index: %w", err)
	}

	var name string
	if err := json.Unmarshal(tuple[1], &name); err == nil {
		ie.Err = namedInstructionError(name)
		return ie, nil
	}

	var custom map[string]uint32
	if err := json.Unmarshal(tuple[1], &custom); err != nil {
		return nil, fmt.Errorf("unexpected instruction error detail: %w", err)
	}
	code, ok := custom[InstructionErrorCustom]
	if !ok || len(custom) != 1 {
		return nil, fmt.Errorf("unhandled instruction error: %s", tuple[1])
	}
	ie.Err = CustomError(code)
	return ie, nil
}

// namedInstructionError maps a name back to its sentinel so errors.Is
// works across the wire.
func namedInstructionError(name string) error {
	for _, known := range instructionErrors {
		if known.Error() == name {
			return known
		}
	}
	return errors.New(name)
}
