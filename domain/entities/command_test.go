package entities

import (
	"testing"
)

func TestVoiceCommandCreation(t *testing.T) {
	cmd := NewVoiceCommand()

	if cmd.Status != CommandStatusIdle {
		t.Errorf("Expected status %s, got %s", CommandStatusIdle, cmd.Status)
	}

	if cmd.ID.String() == "" {
		t.Error("Expected a non-empty command ID")
	}
}

func TestVoiceCommandTransitions(t *testing.T) {
	tests := []struct {
		name string
		from CommandStatus
		to   CommandStatus
		want bool
	}{
		{"idle to listening", CommandStatusIdle, CommandStatusListening, true},
		{"listening to processing", CommandStatusListening, CommandStatusProcessing, true},
		{"processing to executing", CommandStatusProcessing, CommandStatusExecuting, true},
		{"processing to completed", CommandStatusProcessing, CommandStatusCompleted, true},
		{"executing to completed", CommandStatusExecuting, CommandStatusCompleted, true},
		{"idle to processing skips listening", CommandStatusIdle, CommandStatusProcessing, false},
		{"listening to executing skips processing", CommandStatusListening, CommandStatusExecuting, false},
		{"completed is terminal", CommandStatusCompleted, CommandStatusListening, false},
		{"error is terminal", CommandStatusError, CommandStatusListening, false},
		{"error from idle", CommandStatusIdle, CommandStatusError, true},
		{"error from listening", CommandStatusListening, CommandStatusError, true},
		{"error from processing", CommandStatusProcessing, CommandStatusError, true},
		{"error from executing", CommandStatusExecuting, CommandStatusError, true},
		{"no error from completed", CommandStatusCompleted, CommandStatusError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestVoiceCommandReleasesAudioOnTerminal(t *testing.T) {
	cmd := NewVoiceCommand()
	cmd.AudioBuffer = []byte{1, 2, 3}

	cmd.Transition(CommandStatusListening)
	if cmd.AudioBuffer == nil {
		t.Error("Audio buffer should survive non-terminal transitions")
	}

	cmd.Transition(CommandStatusError)
	if cmd.AudioBuffer != nil {
		t.Error("Audio buffer must be released on terminal transition")
	}
}

func TestPairingStatusMonotone(t *testing.T) {
	p := &DevicePairing{Status: PairingStatusInitiated}

	if !p.Transition(PairingStatusAwaitingConfirmation) {
		t.Fatal("initiated -> awaiting-confirmation should be allowed")
	}
	if !p.Transition(PairingStatusCompleted) {
		t.Fatal("awaiting-confirmation -> completed should be allowed")
	}
	if p.Transition(PairingStatusInitiated) {
		t.Error("completed pairing must not move backwards")
	}
	if p.Transition(PairingStatusFailed) {
		t.Error("completed pairing must not move to another terminal state")
	}
}
