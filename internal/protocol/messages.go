package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType defines the type of a JSON control message
type MessageType string

// Supported message types. Unknown types received on the wire are logged and
// ignored for forward compatibility.
const (
	MessageTypeAuth                  MessageType = "auth"
	MessageTypeAuthSuccess           MessageType = "auth_success"
	MessageTypeAuthFailed            MessageType = "auth_failed"
	MessageTypeAudioStart            MessageType = "audio_start"
	MessageTypeAudioEnd              MessageType = "audio_end"
	MessageTypeProcessingStatus      MessageType = "processing_status"
	MessageTypeTranscriptionComplete MessageType = "transcription_complete"
	MessageTypeActionInterpretation  MessageType = "action_interpretation"
	MessageTypeConfirmationRequired  MessageType = "confirmation_required"
	MessageTypeConfirmationResponse  MessageType = "confirmation_response"
	MessageTypeCommandComplete       MessageType = "command_complete"
	MessageTypeCommandError          MessageType = "command_error"
	MessageTypePing                  MessageType = "ping"
	MessageTypePong                  MessageType = "pong"
	MessageTypeQueuePosition         MessageType = "queue_position"
	MessageTypeSlotAvailable         MessageType = "slot_available"
)

// BaseMessage defines the common structure for all control messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// NewBase fills the common envelope fields for an outgoing message.
func NewBase(t MessageType) BaseMessage {
	return BaseMessage{
		Type:      t,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// AuthMessage carries the client's bearer token on connect
type AuthMessage struct {
	BaseMessage
	Token       string `json:"token"`
	DeviceLabel string `json:"device_label,omitempty"`
}

// AuthSuccessMessage confirms authentication and assigns the session
type AuthSuccessMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// AuthFailedMessage reports a terminal authentication failure
type AuthFailedMessage struct {
	BaseMessage
	Reason string `json:"reason"`
}

// AudioStartMessage announces that frames for a command will follow
type AudioStartMessage struct {
	BaseMessage
	CommandID  string `json:"command_id"`
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language,omitempty"`
}

// AudioEndMessage announces that the final frame for a command was sent
type AudioEndMessage struct {
	BaseMessage
	CommandID  string `json:"command_id"`
	FrameCount uint64 `json:"frame_count"`
	DurationMs int64  `json:"duration_ms"`
}

// ProcessingStatusMessage reports pipeline progress for a command
type ProcessingStatusMessage struct {
	BaseMessage
	CommandID string `json:"command_id"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
}

// TranscriptionCompleteMessage delivers the transcription result
type TranscriptionCompleteMessage struct {
	BaseMessage
	CommandID  string  `json:"command_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

// ActionInterpretationMessage delivers the interpreted action
type ActionInterpretationMessage struct {
	BaseMessage
	CommandID            string            `json:"command_id"`
	ActionType           string            `json:"action_type"`
	Operation            string            `json:"operation"`
	Parameters           map[string]string `json:"parameters,omitempty"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
}

// ConfirmationRequiredMessage asks the user to approve a destructive action
type ConfirmationRequiredMessage struct {
	BaseMessage
	CommandID string `json:"command_id"`
	Prompt    string `json:"prompt"`
}

// ConfirmationResponseMessage carries the user's approve/decline decision
type ConfirmationResponseMessage struct {
	BaseMessage
	CommandID string `json:"command_id"`
	Confirmed bool   `json:"confirmed"`
}

// CommandCompleteMessage is the terminal success/failure result
type CommandCompleteMessage struct {
	BaseMessage
	CommandID     string `json:"command_id"`
	Success       bool   `json:"success"`
	ResultMessage string `json:"result_message"`
}

// CommandErrorMessage is the terminal error result
type CommandErrorMessage struct {
	BaseMessage
	CommandID string `json:"command_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// PingMessage is the heartbeat request
type PingMessage struct {
	BaseMessage
	Seq uint64 `json:"seq,omitempty"`
}

// PongMessage is the heartbeat reply
type PongMessage struct {
	BaseMessage
	Seq uint64 `json:"seq,omitempty"`
}

// QueuePositionMessage reports admission queue standing to a waiting caller
type QueuePositionMessage struct {
	BaseMessage
	Position        int   `json:"position"`
	EstimatedWaitMs int64 `json:"estimated_wait_ms"`
}

// SlotAvailableMessage notifies the queue head that the slot opened up
type SlotAvailableMessage struct {
	BaseMessage
}

// ErrUnknownType marks a message whose type tag is outside the closed set.
// Receivers log and drop such messages rather than failing the connection.
type ErrUnknownType struct {
	Type MessageType
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown message type: %s", e.Type)
}

// Decode parses a control message into its concrete struct, dispatched by the
// type tag.
func Decode(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON envelope: %w", err)
	}

	var msg interface{}
	switch base.Type {
	case MessageTypeAuth:
		msg = &AuthMessage{}
	case MessageTypeAuthSuccess:
		msg = &AuthSuccessMessage{}
	case MessageTypeAuthFailed:
		msg = &AuthFailedMessage{}
	case MessageTypeAudioStart:
		msg = &AudioStartMessage{}
	case MessageTypeAudioEnd:
		msg = &AudioEndMessage{}
	case MessageTypeProcessingStatus:
		msg = &ProcessingStatusMessage{}
	case MessageTypeTranscriptionComplete:
		msg = &TranscriptionCompleteMessage{}
	case MessageTypeActionInterpretation:
		msg = &ActionInterpretationMessage{}
	case MessageTypeConfirmationRequired:
		msg = &ConfirmationRequiredMessage{}
	case MessageTypeConfirmationResponse:
		msg = &ConfirmationResponseMessage{}
	case MessageTypeCommandComplete:
		msg = &CommandCompleteMessage{}
	case MessageTypeCommandError:
		msg = &CommandErrorMessage{}
	case MessageTypePing:
		msg = &PingMessage{}
	case MessageTypePong:
		msg = &PongMessage{}
	case MessageTypeQueuePosition:
		msg = &QueuePositionMessage{}
	case MessageTypeSlotAvailable:
		msg = &SlotAvailableMessage{}
	default:
		return nil, &ErrUnknownType{Type: base.Type}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", base.Type, err)
	}
	return msg, nil
}

// Encode marshals a control message for the wire.
func Encode(msg interface{}) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
