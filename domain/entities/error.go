package entities

import "fmt"

// ErrorCode is the machine-readable classification of a surfaced failure.
type ErrorCode string

const (
	ErrCodeCaptureDevice            ErrorCode = "capture_device"
	ErrCodeCapturePermission        ErrorCode = "capture_permission"
	ErrCodeEncoderInit              ErrorCode = "encoder_init"
	ErrCodeAuthFailed               ErrorCode = "auth_failed"
	ErrCodeTransportDisconnected    ErrorCode = "transport_disconnected"
	ErrCodeTransportSend            ErrorCode = "transport_send"
	ErrCodeLowConfidence            ErrorCode = "low_confidence"
	ErrCodeTranscriptionFailed      ErrorCode = "transcription_failed"
	ErrCodeInterpreterUnavailable   ErrorCode = "interpretation_unavailable"
	ErrCodeExecutionFailed          ErrorCode = "execution_failed"
	ErrCodeConfirmationDeclined     ErrorCode = "confirmation_declined"
	ErrCodeCommandActive            ErrorCode = "command_active"
	ErrCodeStreamIncomplete         ErrorCode = "stream_incomplete"
	ErrCodeQueueTimeout             ErrorCode = "queue_timeout"
	ErrCodeSlotBusy                 ErrorCode = "slot_busy"
	ErrCodePairingExpired           ErrorCode = "pairing_expired"
	ErrCodePairingCodeInvalid       ErrorCode = "pairing_code_invalid"
	ErrCodeCancelled                ErrorCode = "cancelled"
	ErrCodeInternal                 ErrorCode = "internal"
)

// CommandError is a failure surfaced to the caller: a machine-readable code,
// a message suitable for direct display, and whether retrying makes sense.
type CommandError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCommandError builds a surfaced error.
func NewCommandError(code ErrorCode, message string, retryable bool) *CommandError {
	return &CommandError{Code: code, Message: message, Retryable: retryable}
}
