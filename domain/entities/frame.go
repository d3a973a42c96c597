package entities

import "github.com/google/uuid"

// AudioFrame is one sequenced chunk of encoded audio belonging to a command.
// For a given command the receiver must observe sequences 0..N-1 with no gaps
// and exactly one final frame, which is the last one.
type AudioFrame struct {
	CommandID uuid.UUID
	Sequence  uint64
	Payload   []byte
	IsFinal   bool
}
