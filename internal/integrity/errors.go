package integrity

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes storage failures.
type ErrorCode string

const (
	// CodeSerialization indicates the payload could not be encoded or
	// decoded.
	CodeSerialization ErrorCode = "SERIALIZATION_FAILURE"

	// CodeIntegrityMismatch indicates a stored record failed verification.
	CodeIntegrityMismatch ErrorCode = "INTEGRITY_MISMATCH"

	// CodeQuotaExceeded indicates the write did not fit even after stale
	// drafts were evicted.
	CodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// CodeUnknown indicates any other backend failure.
	CodeUnknown ErrorCode = "UNKNOWN_STORAGE_ERROR"
)

// StorageError is returned by every Store operation that fails.
type StorageError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Key is the storage key involved.
	Key string

	// Message is a human-readable description.
	Message string

	// Evicted is the number of stale drafts removed during quota
	// remediation (QUOTA_EXCEEDED only).
	Evicted int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	msg := fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsQuotaError reports whether err is a QUOTA_EXCEEDED StorageError.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	return hasCode(err, CodeQuotaExceeded)
}

// IsIntegrityError reports whether err signals a corrupted record.
func IsIntegrityError(err error) bool {
	return hasCode(err, CodeIntegrityMismatch)
}

// IsSerializationError reports whether err is a SERIALIZATION_FAILURE.
func IsSerializationError(err error) bool {
	return hasCode(err, CodeSerialization)
}

func newSerializationError(key string, err error) *StorageError {
	return &StorageError{
		Code:    CodeSerialization,
		Key:     key,
		Message: "payload is not serializable",
		Err:     err,
	}
}

func newIntegrityError(key string, err error) *StorageError {
	return &StorageError{
		Code:    CodeIntegrityMismatch,
		Key:     key,
		Message: "stored record failed integrity check",
		Err:     err,
	}
}

func newQuotaError(key string, evicted int, err error) *StorageError {
	return &StorageError{
		Code:    CodeQuotaExceeded,
		Key:     key,
		Message: fmt.Sprintf("storage full after evicting %d stale drafts", evicted),
		Evicted: evicted,
		Err:     err,
	}
}

func newUnknownError(key string, err error) *StorageError {
	return &StorageError{
		Code:    CodeUnknown,
		Key:     key,
		Message: "storage operation failed",
		Err:     err,
	}
}
