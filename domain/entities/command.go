package entities

import (
	"time"

	"github.com/google/uuid"
)

// CommandStatus represents the lifecycle state of a voice command
type CommandStatus string

const (
	CommandStatusIdle       CommandStatus = "idle"
	CommandStatusListening  CommandStatus = "listening"
	CommandStatusProcessing CommandStatus = "processing"
	CommandStatusExecuting  CommandStatus = "executing"
	CommandStatusCompleted  CommandStatus = "completed"
	CommandStatusError      CommandStatus = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s CommandStatus) Terminal() bool {
	return s == CommandStatusCompleted || s == CommandStatusError
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition. Error is reachable from every non-terminal state.
func (s CommandStatus) CanTransitionTo(next CommandStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == CommandStatusError {
		return true
	}
	switch s {
	case CommandStatusIdle:
		return next == CommandStatusListening
	case CommandStatusListening:
		return next == CommandStatusProcessing
	case CommandStatusProcessing:
		return next == CommandStatusExecuting || next == CommandStatusCompleted
	case CommandStatusExecuting:
		return next == CommandStatusCompleted
	}
	return false
}

// VoiceCommand represents one spoken command end-to-end. The audio buffer is
// transient: it lives only while the command is active and is never persisted.
type VoiceCommand struct {
	ID          uuid.UUID     `json:"id"`
	AudioBuffer []byte        `json:"-"`
	Transcript  string        `json:"transcript"`
	Confidence  float64       `json:"confidence"`
	Language    string        `json:"language"`
	DurationMs  int64         `json:"duration_ms"`
	Status      CommandStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
}

// NewVoiceCommand creates a command in the idle state with a fresh identifier.
func NewVoiceCommand() *VoiceCommand {
	return &VoiceCommand{
		ID:        uuid.New(),
		Status:    CommandStatusIdle,
		StartedAt: time.Now(),
	}
}

// ReleaseAudio drops the transient audio buffer. Called as soon as
// transmission completes and again on every terminal transition.
func (c *VoiceCommand) ReleaseAudio() {
	c.AudioBuffer = nil
}

// Transition moves the command to next, returning false if the move is not
// allowed. Terminal transitions release the audio buffer.
func (c *VoiceCommand) Transition(next CommandStatus) bool {
	if !c.Status.CanTransitionTo(next) {
		return false
	}
	c.Status = next
	if next.Terminal() {
		c.ReleaseAudio()
	}
	return true
}
