package codec

import (
	"errors"

	"github.com/google/uuid"

	"github.com/voicedesk/voicedesk/domain/entities"
)

// ErrStreamFinalized is returned when frames are requested after Final.
var ErrStreamFinalized = errors.New("frame stream already finalized")

// Framer assigns wire sequence numbers for one command's audio stream.
// Sequences start at 0 and increment by one in emission order; exactly one
// final frame closes the stream.
type Framer struct {
	commandID uuid.UUID
	next      uint64
	finalized bool
}

// NewFramer creates a framer for one command.
func NewFramer(commandID uuid.UUID) *Framer {
	return &Framer{commandID: commandID}
}

// Frame wraps one encoded payload in the next sequenced frame.
func (f *Framer) Frame(payload []byte) (entities.AudioFrame, error) {
	if f.finalized {
		return entities.AudioFrame{}, ErrStreamFinalized
	}
	frame := entities.AudioFrame{
		CommandID: f.commandID,
		Sequence:  f.next,
		Payload:   payload,
	}
	f.next++
	return frame, nil
}

// Final emits the empty end-of-stream frame. It may be called once.
func (f *Framer) Final() (entities.AudioFrame, error) {
	if f.finalized {
		return entities.AudioFrame{}, ErrStreamFinalized
	}
	f.finalized = true
	frame := entities.AudioFrame{
		CommandID: f.commandID,
		Sequence:  f.next,
		IsFinal:   true,
	}
	f.next++
	return frame, nil
}

// Count returns the number of frames emitted so far, final included.
func (f *Framer) Count() uint64 {
	return f.next
}
