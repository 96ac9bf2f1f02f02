package ir

import (
	"errors"
	"fmt"
)

// Error is a classified error raised by the update layer.
//
// The code decides how the startup path reacts:
//   - CONFIGURATION / NOT_INITIALIZED: fatal, not recoverable in-process
//   - CORRUPT_METADATA: fatal for the current resolution attempt
//   - PERSISTENCE: propagated, startup must fail visibly
//   - KNOWN_BAD_PACKAGE / INVALID_PACKAGE / PACKAGE_NOT_FOUND: returned to
//     the caller of an install operation
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed.
	Op string

	// Message is a human-readable description.
	Message string

	// Hash identifies the affected package, if any.
	Hash string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes update layer errors.
type ErrorCode string

const (
	ErrCodeConfiguration   ErrorCode = "CONFIGURATION"
	ErrCodeNotInitialized  ErrorCode = "NOT_INITIALIZED"
	ErrCodeCorruptMetadata ErrorCode = "CORRUPT_METADATA"
	ErrCodePersistence     ErrorCode = "PERSISTENCE"
	ErrCodeKnownBadPackage ErrorCode = "KNOWN_BAD_PACKAGE"
	ErrCodePackageNotFound ErrorCode = "PACKAGE_NOT_FOUND"
	ErrCodeInvalidPackage  ErrorCode = "INVALID_PACKAGE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Hash != "" {
		msg = fmt.Sprintf("%s (package=%s)", msg, e.Hash)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfigurationError reports whether err is a configuration error.
func IsConfigurationError(err error) bool {
	return CodeOf(err) == ErrCodeConfiguration
}

// IsNotInitialized reports whether err signals use before initialization.
func IsNotInitialized(err error) bool {
	return CodeOf(err) == ErrCodeNotInitialized
}

// IsCorruptMetadata reports whether err is a corrupt metadata error.
func IsCorruptMetadata(err error) bool {
	return CodeOf(err) == ErrCodeCorruptMetadata
}

// IsPersistenceError reports whether err is a persistence error.
func IsPersistenceError(err error) bool {
	return CodeOf(err) == ErrCodePersistence
}

// IsKnownBadPackage reports whether err rejected a previously failed package.
func IsKnownBadPackage(err error) bool {
	return CodeOf(err) == ErrCodeKnownBadPackage
}

// NewConfigurationError creates an Error for unusable host configuration.
func NewConfigurationError(op, message string, cause error) *Error {
	return &Error{Code: ErrCodeConfiguration, Op: op, Message: message, Err: cause}
}

// NewNotInitializedError creates an Error for access before registration.
func NewNotInitializedError(op string) *Error {
	return &Error{
		Code:    ErrCodeNotInitialized,
		Op:      op,
		Message: "goby has not been registered with the host yet",
	}
}

// NewCorruptMetadataError creates an Error for unreadable stored metadata.
func NewCorruptMetadataError(op, hash, message string, cause error) *Error {
	return &Error{Code: ErrCodeCorruptMetadata, Op: op, Hash: hash, Message: message, Err: cause}
}

// NewPersistenceError wraps a storage failure.
func NewPersistenceError(op string, cause error) *Error {
	return &Error{Code: ErrCodePersistence, Op: op, Message: "storage operation failed", Err: cause}
}

// NewKnownBadPackageError rejects a hash from the failed update record.
func NewKnownBadPackageError(op, hash string) *Error {
	return &Error{
		Code:    ErrCodeKnownBadPackage,
		Op:      op,
		Hash:    hash,
		Message: "package previously failed to load",
	}
}

// NewPackageNotFoundError reports a hash the package store does not hold.
func NewPackageNotFoundError(op, hash string) *Error {
	return &Error{Code: ErrCodePackageNotFound, Op: op, Hash: hash, Message: "package not installed"}
}

// NewInvalidPackageError rejects malformed package contents or metadata.
func NewInvalidPackageError(op, hash, message string, cause error) *Error {
	return &Error{Code: ErrCodeInvalidPackage, Op: op, Hash: hash, Message: message, Err: cause}
}
