package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/fortiblox/X1-Vault/pkg/runtime"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Solana-specific error codes.
const (
	// BlockCleanedUp indicates the block was cleaned up (pruned).
	BlockCleanedUp = -32001

	// SendTransactionPreflightFailure indicates preflight simulation failed.
	SendTransactionPreflightFailure = -32002

	// TransactionSignatureVerificationFailure indicates signature verification failed.
	TransactionSignatureVerificationFailure = -32003

	// BlockNotAvailable indicates the block is not available.
	BlockNotAvailable = -32004

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005

	// MinContextSlotNotReached indicates min context slot not yet reached.
	MinContextSlotNotReached = -32016
)

// Common error messages.
var (
	ErrParseError      = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest  = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound  = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams   = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError   = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy   = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrSignatureVerify = NewRPCError(TransactionSignatureVerificationFailure, "Transaction signature verification failure")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// BlockNotFoundError creates an error for block not found.
func BlockNotFoundError(slot uint64) *RPCError {
	return NewRPCErrorWithData(BlockNotAvailable,
		fmt.Sprintf("Block not available for slot %d", slot),
		map[string]uint64{"slot": slot})
}

// MinContextSlotError creates an error for min context slot not reached.
func MinContextSlotError(minSlot, currentSlot uint64) *RPCError {
	return NewRPCErrorWithData(MinContextSlotNotReached,
		fmt.Sprintf("Minimum context slot %d has not been reached, current slot is %d", minSlot, currentSlot),
		map[string]uint64{"minSlot": minSlot, "currentSlot": currentSlot})
}

// PreflightFailureError reports a transaction that failed before it was
// accepted. The data carries the simulation result so clients can decode
// the transaction error.
func PreflightFailureError(txErr *runtime.TransactionError, result *SimulationResult) *RPCError {
	if result == nil {
		result = &SimulationResult{Logs: []string{}}
	}
	result.Err = transactionErrorJSON(txErr)
	return NewRPCErrorWithData(SendTransactionPreflightFailure,
		fmt.Sprintf("Transaction simulation failed: %v", txErr),
		result)
}

// transactionErrorJSON encodes err the way transaction statuses report it,
// null for success.
func transactionErrorJSON(err *runtime.TransactionError) json.RawMessage {
	if err == nil {
		return nil
	}
	b, marshalErr := err.MarshalJSON()
	if marshalErr != nil {
		return json.RawMessage(`"GenericError"`)
	}
	return b
}
