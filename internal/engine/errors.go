package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/keyrx/internal/ir"
)

// RuntimeError represents an error detected during event processing.
//
// Runtime errors never escape ProcessEvent or Tick; they are logged, counted
// in Stats, and, for reentrancy in debug builds, raised as a panic value.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Key is the physical key involved, if any.
	Key ir.KeyCode

	// Device is the device involved, if any.
	Device ir.DeviceID
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeReentrancy indicates a call arrived while another was in flight.
	ErrCodeReentrancy RuntimeErrorCode = "REENTRANCY_VIOLATION"

	// ErrCodeMalformedMapping indicates a key's mapping record could not be decoded.
	ErrCodeMalformedMapping RuntimeErrorCode = "MALFORMED_MAPPING_RECORD"

	// ErrCodeSessionsExhausted indicates every tap/hold slot was in use.
	ErrCodeSessionsExhausted RuntimeErrorCode = "SESSIONS_EXHAUSTED"

	// ErrCodeLayerStackFull indicates a layer push beyond the stack depth.
	ErrCodeLayerStackFull RuntimeErrorCode = "LAYER_STACK_FULL"

	// ErrCodeBufferOverflow indicates the interrupt buffer filled up and a
	// pending session was forced to resolve.
	ErrCodeBufferOverflow RuntimeErrorCode = "BUFFER_OVERFLOW"

	// ErrCodeMissingMacro indicates a mapping referenced an undefined macro.
	ErrCodeMissingMacro RuntimeErrorCode = "MISSING_MACRO"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Key != 0 {
		return fmt.Sprintf("%s: %s (key=%d, device=%d)", e.Code, e.Message, e.Key, e.Device)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsReentrancyError returns true if the error is a reentrancy violation.
// Uses errors.As to handle wrapped errors.
func IsReentrancyError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeReentrancy
	}
	return false
}

// NewReentrancyError creates a RuntimeError for a reentrant call.
func NewReentrancyError(op string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeReentrancy,
		Message: fmt.Sprintf("%s called while another call is in flight", op),
	}
}
