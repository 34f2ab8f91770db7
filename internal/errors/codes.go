package errors

import (
	"fmt"
)

// ErrorCode represents internal error codes for metadata operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeEntryNotFound   ErrorCode = 1001
	ErrCodeRecordNotFound  ErrorCode = 1002
	ErrCodePathNotFound    ErrorCode = 1003
	ErrCodeContentNotFound ErrorCode = 1004
	ErrCodePeerNotFound    ErrorCode = 1005
	ErrCodeChecksumFailed  ErrorCode = 1006

	// Server errors (5xx equivalent)
	ErrCodeInternal          ErrorCode = 2000
	ErrCodeLocalDurability   ErrorCode = 2001
	ErrCodePeerUnreachable   ErrorCode = 2002
	ErrCodeTierUnavailable   ErrorCode = 2003
	ErrCodeCheckpointFailed  ErrorCode = 2004
	ErrCodeCorruptedData     ErrorCode = 2005
	ErrCodeStoreClosed       ErrorCode = 2006
	ErrCodeResourceExhausted ErrorCode = 2007
)

// StrataError represents a structured error with code and context
type StrataError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StrataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StrataError) Unwrap() error {
	return e.Cause
}

// New creates a new StrataError
func New(code ErrorCode, message string, cause error) *StrataError {
	return &StrataError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StrataError) WithDetail(key string, value interface{}) *StrataError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StrataError {
	return New(ErrCodeInvalidArgument, message, cause)
}

func EntryNotFound(entryID string) *StrataError {
	return New(ErrCodeEntryNotFound, fmt.Sprintf("journal entry not found: %s", entryID), nil).
		WithDetail("entry_id", entryID)
}

func RecordNotFound(entryID string) *StrataError {
	return New(ErrCodeRecordNotFound, fmt.Sprintf("replication record not found: %s", entryID), nil).
		WithDetail("entry_id", entryID)
}

func PathNotFound(path string) *StrataError {
	return New(ErrCodePathNotFound, fmt.Sprintf("path not found: %s", path), nil).
		WithDetail("path", path)
}

func ContentNotFound(contentID string) *StrataError {
	return New(ErrCodeContentNotFound, fmt.Sprintf("content not found: %s", contentID), nil).
		WithDetail("content_id", contentID)
}

func PeerNotFound(nodeID string) *StrataError {
	return New(ErrCodePeerNotFound, fmt.Sprintf("peer not registered: %s", nodeID), nil).
		WithDetail("node_id", nodeID)
}

func ChecksumFailed(expected, actual uint32) *StrataError {
	return New(ErrCodeChecksumFailed, fmt.Sprintf("checksum validation failed: expected %d, got %d", expected, actual), nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

// LocalDurability marks a failed journal write or sync. The entry is
// not visible anywhere; callers must treat this as fatal for the
// operation.
func LocalDurability(message string, cause error) *StrataError {
	return New(ErrCodeLocalDurability, message, cause)
}

// PeerUnreachable marks one failed delivery. It is recorded in the
// per-node outcome and never surfaced to replication callers.
func PeerUnreachable(nodeID string, cause error) *StrataError {
	return New(ErrCodePeerUnreachable, fmt.Sprintf("peer unreachable: %s", nodeID), cause).
		WithDetail("node_id", nodeID)
}

// TierUnavailable marks a tier whose backing store is missing or
// unreachable. Migrations hitting it are deferred and retried, never
// failed outright.
func TierUnavailable(tier string, cause error) *StrataError {
	return New(ErrCodeTierUnavailable, fmt.Sprintf("tier unavailable: %s", tier), cause).
		WithDetail("tier", tier)
}

func CheckpointFailed(message string, cause error) *StrataError {
	return New(ErrCodeCheckpointFailed, message, cause)
}

func CorruptedData(message string, cause error) *StrataError {
	return New(ErrCodeCorruptedData, message, cause)
}

func InternalError(message string, cause error) *StrataError {
	return New(ErrCodeInternal, message, cause)
}

func StoreClosed(name string) *StrataError {
	return New(ErrCodeStoreClosed, fmt.Sprintf("%s is closed", name), nil).
		WithDetail("store", name)
}

func ResourceExhausted(resource string, current, limit int) *StrataError {
	return New(ErrCodeResourceExhausted, fmt.Sprintf("%s exhausted: %d/%d", resource, current, limit), nil).
		WithDetail("resource", resource).
		WithDetail("current", current).
		WithDetail("limit", limit)
}

// IsStrataError checks if an error is a StrataError
func IsStrataError(err error) bool {
	_, ok := err.(*StrataError)
	return ok
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if se, ok := err.(*StrataError); ok {
		return se.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is a StrataError carrying the given code
func HasCode(err error, code ErrorCode) bool {
	se, ok := err.(*StrataError)
	return ok && se.Code == code
}
