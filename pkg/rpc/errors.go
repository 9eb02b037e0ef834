package rpc

import (
	"fmt"
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

// Engine error codes.
const (
	// SubstateNotFound indicates the substate doesn't exist in the ledger.
	SubstateNotFound = -32001

	// ReceiptNotFound indicates the receipt doesn't exist or was pruned.
	ReceiptNotFound = -32002

	// ReceiptsDisabled indicates the node runs without a receipt archive.
	ReceiptsDisabled = -32003

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005
)

// Common error messages.
var (
	ErrParseError       = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest   = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound   = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams    = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError    = NewRPCError(InternalError, "Internal error")
	ErrReceiptsDisabled = NewRPCError(ReceiptsDisabled, "Receipt archive is disabled on this node")
	ErrNodeUnhealthy    = NewRPCError(NodeUnhealthy, "Node is unhealthy")
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

// SubstateNotFoundError creates an error for a missing substate.
func SubstateNotFoundError(id string) *RPCError {
	return NewRPCErrorWithData(SubstateNotFound, "Substate not found", map[string]string{"id": id})
}

// ReceiptNotFoundError creates an error for a missing receipt.
func ReceiptNotFoundError(txHash string) *RPCError {
	return NewRPCErrorWithData(ReceiptNotFound, "Receipt not found", map[string]string{"txHash": txHash})
}
