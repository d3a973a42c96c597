package protocol

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/voicedesk/voicedesk/domain/entities"
)

func TestDecodeDispatchesByType(t *testing.T) {
	tests := []struct {
		name    string
		message string
		check   func(t *testing.T, msg interface{})
	}{
		{
			name:    "auth",
			message: `{"type":"auth","token":"tok-123","device_label":"pixel"}`,
			check: func(t *testing.T, msg interface{}) {
				m, ok := msg.(*AuthMessage)
				if !ok {
					t.Fatalf("expected *AuthMessage, got %T", msg)
				}
				if m.Token != "tok-123" {
					t.Errorf("expected token tok-123, got %s", m.Token)
				}
			},
		},
		{
			name:    "transcription complete",
			message: `{"type":"transcription_complete","command_id":"c1","text":"open browser","confidence":0.92}`,
			check: func(t *testing.T, msg interface{}) {
				m, ok := msg.(*TranscriptionCompleteMessage)
				if !ok {
					t.Fatalf("expected *TranscriptionCompleteMessage, got %T", msg)
				}
				if m.Confidence != 0.92 {
					t.Errorf("expected confidence 0.92, got %f", m.Confidence)
				}
			},
		},
		{
			name:    "ping",
			message: `{"type":"ping","seq":7}`,
			check: func(t *testing.T, msg interface{}) {
				m, ok := msg.(*PingMessage)
				if !ok {
					t.Fatalf("expected *PingMessage, got %T", msg)
				}
				if m.Seq != 7 {
					t.Errorf("expected seq 7, got %d", m.Seq)
				}
			},
		},
		{
			name:    "command error",
			message: `{"type":"command_error","code":"execution_failed","message":"no such file","retryable":true}`,
			check: func(t *testing.T, msg interface{}) {
				m, ok := msg.(*CommandErrorMessage)
				if !ok {
					t.Fatalf("expected *CommandErrorMessage, got %T", msg)
				}
				if !m.Retryable {
					t.Error("expected retryable error")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.message))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			tt.check(t, msg)
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"hologram_projection"}`))
	var unknown *ErrUnknownType
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if unknown.Type != "hologram_projection" {
		t.Errorf("unexpected type in error: %s", unknown.Type)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	commandID := uuid.New()
	frame := entities.AudioFrame{
		CommandID: commandID,
		Sequence:  42,
		Payload:   []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	wire := MarshalFrame(frame)
	if len(wire) != FrameHeaderSize+4 {
		t.Fatalf("expected %d bytes, got %d", FrameHeaderSize+4, len(wire))
	}

	decoded, err := UnmarshalFrame(wire)
	if err != nil {
		t.Fatalf("UnmarshalFrame() error = %v", err)
	}
	if decoded.CommandID != commandID {
		t.Errorf("command id mismatch: %s != %s", decoded.CommandID, commandID)
	}
	if decoded.Sequence != 42 {
		t.Errorf("expected sequence 42, got %d", decoded.Sequence)
	}
	if decoded.IsFinal {
		t.Error("data frame must not be final")
	}
}

func TestFrameSequenceIsBigEndian(t *testing.T) {
	frame := entities.AudioFrame{CommandID: uuid.New(), Sequence: 0x0102030405060708, Payload: []byte{0}}
	wire := MarshalFrame(frame)

	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	for i, b := range want {
		if wire[16+i] != b {
			t.Fatalf("byte %d: expected %#x, got %#x", 16+i, b, wire[16+i])
		}
	}
}

func TestFrameEmptyPayloadIsFinal(t *testing.T) {
	frame := entities.AudioFrame{CommandID: uuid.New(), Sequence: 9, IsFinal: true}
	decoded, err := UnmarshalFrame(MarshalFrame(frame))
	if err != nil {
		t.Fatalf("UnmarshalFrame() error = %v", err)
	}
	if !decoded.IsFinal {
		t.Error("empty payload must decode as the end-of-stream frame")
	}
}

func TestFrameTooShort(t *testing.T) {
	if _, err := UnmarshalFrame(make([]byte, FrameHeaderSize-1)); err == nil {
		t.Error("expected error for truncated frame")
	}
}
