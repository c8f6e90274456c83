package profile

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes profile errors.
type ErrorCode string

const (
	// ErrCodeCorrupt indicates the buffer is not a well-formed profile.
	ErrCodeCorrupt ErrorCode = "CORRUPT_PROFILE"

	// ErrCodeVersionMismatch indicates a format version this build cannot read.
	ErrCodeVersionMismatch ErrorCode = "VERSION_MISMATCH"

	// ErrCodeMalformedRecord indicates a single mapping record failed to decode.
	ErrCodeMalformedRecord ErrorCode = "MALFORMED_MAPPING_RECORD"
)

// Error is returned by Load and Record.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Offset is the byte offset the error refers to, when known.
	Offset int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s: %s (offset=%d)", e.Code, e.Message, e.Offset)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func corrupt(offset int, format string, args ...any) *Error {
	return &Error{Code: ErrCodeCorrupt, Message: fmt.Sprintf(format, args...), Offset: offset}
}

func malformed(offset int, format string, args ...any) *Error {
	return &Error{Code: ErrCodeMalformedRecord, Message: fmt.Sprintf(format, args...), Offset: offset}
}

func hasCode(err error, code ErrorCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsCorrupt returns true if err is a corrupt profile error.
// Uses errors.As to handle wrapped errors.
func IsCorrupt(err error) bool {
	return hasCode(err, ErrCodeCorrupt)
}

// IsVersionMismatch returns true if err is a version mismatch error.
func IsVersionMismatch(err error) bool {
	return hasCode(err, ErrCodeVersionMismatch)
}

// IsMalformedRecord returns true if err is a malformed mapping record error.
func IsMalformedRecord(err error) bool {
	return hasCode(err, ErrCodeMalformedRecord)
}
