// Package errors provides standardized error codes for the IDE link client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (protocol, transport, edit, surface, session)
//   - error: The specific error type within that domain
//
// Codes are stable and appear in logs and on the local control socket.
// Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Protocol domain - frame decoding and dispatch
	CodeUnknownKind       = "protocol.unknown_kind"       // No handler registered for the message kind
	CodeInvalidMessage    = "protocol.invalid_message"    // Malformed frame or payload
	CodeUnmatchedResponse = "protocol.unmatched_response" // Response correlationId has no pending request

	// Transport domain - websocket connection errors
	CodeConnectionClosed = "transport.connection_closed" // Connection closed before completion
	CodeDialFailed       = "transport.dial_failed"       // Could not reach the backend
	CodeSendFailed       = "transport.send_failed"       // Failed to queue or write a frame

	// Edit domain - programmatic edits
	CodeEditRejected = "edit.rejected" // Editing surface refused the edit

	// Surface domain - editing surface lookups
	CodeSurfaceNotFound = "surface.not_found" // File cannot be opened or located

	// Session domain - GUI session handshake
	CodeHandshakeFailed = "session.handshake_failed" // openGUI response missing or invalid

	// Command domain - terminal command runner
	CodeCommandFailed = "command.failed" // Terminal could not be created or written

	// Storage domain - database and persistence errors
	CodeStorageNotFound    = "storage.not_found"    // Resource not found
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal error (recovered panic, invariant violation)
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "protocol.unknown_kind")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to control socket responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors.

// UnknownKind creates a "protocol.unknown_kind" error.
func UnknownKind(kind string) *CodedError {
	return New(CodeUnknownKind, fmt.Sprintf("unknown message kind: %q", kind))
}

// InvalidMessage creates a "protocol.invalid_message" error.
func InvalidMessage(reason string, cause error) *CodedError {
	return Wrap(CodeInvalidMessage, reason, cause)
}

// UnmatchedResponse creates a "protocol.unmatched_response" error.
func UnmatchedResponse(kind, correlationID string) *CodedError {
	msg := fmt.Sprintf("response %s (%s) matches no pending request", correlationID, kind)
	return New(CodeUnmatchedResponse, msg)
}

// ConnectionClosed creates a "transport.connection_closed" error.
func ConnectionClosed() *CodedError {
	return New(CodeConnectionClosed, "connection closed")
}

// DialFailed creates a "transport.dial_failed" error.
func DialFailed(url string, cause error) *CodedError {
	return Wrap(CodeDialFailed, fmt.Sprintf("failed to connect to %s", url), cause)
}

// SendFailed creates a "transport.send_failed" error.
func SendFailed(kind string, cause error) *CodedError {
	return Wrap(CodeSendFailed, fmt.Sprintf("failed to send %s", kind), cause)
}

// EditRejected creates an "edit.rejected" error.
func EditRejected(path string, cause error) *CodedError {
	return Wrap(CodeEditRejected, fmt.Sprintf("edit to %s was rejected", path), cause)
}

// SurfaceNotFound creates a "surface.not_found" error.
func SurfaceNotFound(path string, cause error) *CodedError {
	return Wrap(CodeSurfaceNotFound, fmt.Sprintf("cannot open %s", path), cause)
}

// HandshakeFailed creates a "session.handshake_failed" error.
func HandshakeFailed(reason string, cause error) *CodedError {
	return Wrap(CodeHandshakeFailed, reason, cause)
}

// CommandFailed creates a "command.failed" error.
func CommandFailed(message string, cause error) *CodedError {
	return Wrap(CodeCommandFailed, message, cause)
}

// NotFound creates a "storage.not_found" error.
func NotFound(resource string) *CodedError {
	return New(CodeStorageNotFound, fmt.Sprintf("%s not found", resource))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
