// Package errors provides standardized error handling for the event service.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeEventNotFound         ErrorCode = "EVENT_NOT_FOUND"
	ErrCodeEventValidationFailed ErrorCode = "EVENT_VALIDATION_FAILED"

	ErrCodePushSendFailed    ErrorCode = "PUSH_SEND_FAILED"
	ErrCodeDeviceNotFound    ErrorCode = "DEVICE_NOT_FOUND"
	ErrCodeTickAlreadyActive ErrorCode = "TICK_ALREADY_ACTIVE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewEventNotFoundError creates a non-retryable lookup error.
func NewEventNotFoundError(eventID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventNotFound,
		Message:   "Event not found",
		Details:   fmt.Sprintf("eventId: %d", eventID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventValidationFailedError creates a non-retryable payload validation error.
func NewEventValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventValidationFailed,
		Message:   "Event payload validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPushSendFailedError creates a retryable push delivery error. The
// scheduler leaves the notification flag unset so the next tick retries.
func NewPushSendFailedError(transport string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePushSendFailed,
		Message:   "Push notification delivery failed",
		Details:   fmt.Sprintf("transport: %s, error: %s", transport, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeviceNotFoundError creates a non-retryable device registry error.
func NewDeviceNotFoundError(deviceID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeviceNotFound,
		Message:   "Device token not found",
		Details:   fmt.Sprintf("deviceId: %d", deviceID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTickAlreadyActiveError signals that another notification tick holds
// the single-flight lock.
func NewTickAlreadyActiveError() *StandardError {
	return &StandardError{
		Code:      ErrCodeTickAlreadyActive,
		Message:   "A notification check is already running",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}
