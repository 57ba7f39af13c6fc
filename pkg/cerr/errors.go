// Package cerr provides error codes and error types shared across the daemon.
// This is a leaf package with no internal dependencies so that every subsystem
// (registry, connection manager, plugins, RPC surface) can classify failures
// without import cycles.
package cerr

import (
	"errors"
	"fmt"
)

// Code classifies an error for propagation policy and RPC reporting.
type Code int

const (
	// CodeRegistryIO indicates a device registry persistence failure.
	// Surfaced to the caller; the daemon continues.
	CodeRegistryIO Code = iota + 1

	// CodeCertIO indicates a certificate read, parse, or write failure.
	CodeCertIO

	// CodeUnknownDevice indicates the referenced device id is not in the registry.
	CodeUnknownDevice

	// CodeNotConnected indicates the operation requires a live TLS session.
	CodeNotConnected

	// CodeNotPaired indicates the operation requires a paired device.
	CodeNotPaired

	// CodeUntrustedPeer indicates a certificate fingerprint mismatch.
	// Fatal for the session.
	CodeUntrustedPeer

	// CodePairingTimeout indicates a pair request expired unanswered.
	// A terminal outcome, signaled rather than raised to the initiator.
	CodePairingTimeout

	// CodePairingRejected indicates the peer declined the pair request.
	CodePairingRejected

	// CodeFrameTooLarge indicates a packet line exceeded the frame limit.
	// Fatal for the session.
	CodeFrameTooLarge

	// CodeMalformedPacket indicates a packet failed to decode.
	CodeMalformedPacket

	// CodeIdle indicates the keep-alive window expired with no bytes.
	// Fatal for the session.
	CodeIdle

	// CodePayloadIO indicates a bulk transfer network or filesystem failure.
	// The transfer is marked failed; the control session is unaffected.
	CodePayloadIO

	// CodeCancelled indicates a caller-initiated transfer cancellation.
	CodeCancelled

	// CodePluginError indicates a plugin returned failure for a packet.
	// Logged; the packet is dropped; the session continues.
	CodePluginError

	// CodePathTraversal indicates an inbound filesync transfer would escape
	// its sync root. The transfer is refused.
	CodePathTraversal

	// CodeInvalidArgument indicates a malformed request from an RPC caller.
	CodeInvalidArgument
)

// String returns the stable name of the code, used in RPC error payloads and logs.
func (c Code) String() string {
	switch c {
	case CodeRegistryIO:
		return "RegistryIo"
	case CodeCertIO:
		return "CertIo"
	case CodeUnknownDevice:
		return "UnknownDevice"
	case CodeNotConnected:
		return "NotConnected"
	case CodeNotPaired:
		return "NotPaired"
	case CodeUntrustedPeer:
		return "UntrustedPeer"
	case CodePairingTimeout:
		return "PairingTimeout"
	case CodePairingRejected:
		return "PairingRejected"
	case CodeFrameTooLarge:
		return "FrameTooLarge"
	case CodeMalformedPacket:
		return "MalformedPacket"
	case CodeIdle:
		return "Idle"
	case CodePayloadIO:
		return "PayloadIo"
	case CodeCancelled:
		return "Cancelled"
	case CodePluginError:
		return "PluginError"
	case CodePathTraversal:
		return "PathTraversal"
	case CodeInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches two classified errors by code, so sentinel comparison via
// errors.Is(err, cerr.New(cerr.CodeIdle, "")) works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code from an error chain, or 0 if the chain carries
// no classified error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
