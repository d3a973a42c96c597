package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/voicedesk/voicedesk/domain/entities"
)

// Binary audio frame layout: 16-byte command UUID, 8-byte big-endian
// sequence number, then the encoded payload. An empty payload marks the
// end-of-stream frame.
const FrameHeaderSize = 16 + 8

// MarshalFrame packs an audio frame into its wire form.
func MarshalFrame(frame entities.AudioFrame) []byte {
	buf := make([]byte, FrameHeaderSize+len(frame.Payload))
	copy(buf[:16], frame.CommandID[:])
	binary.BigEndian.PutUint64(buf[16:24], frame.Sequence)
	copy(buf[FrameHeaderSize:], frame.Payload)
	return buf
}

// UnmarshalFrame unpacks a wire frame. A frame with an empty payload is the
// end-of-stream marker and is returned with IsFinal set.
func UnmarshalFrame(data []byte) (entities.AudioFrame, error) {
	if len(data) < FrameHeaderSize {
		return entities.AudioFrame{}, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	var commandID uuid.UUID
	copy(commandID[:], data[:16])

	frame := entities.AudioFrame{
		CommandID: commandID,
		Sequence:  binary.BigEndian.Uint64(data[16:24]),
	}
	if len(data) > FrameHeaderSize {
		frame.Payload = make([]byte, len(data)-FrameHeaderSize)
		copy(frame.Payload, data[FrameHeaderSize:])
	} else {
		frame.IsFinal = true
	}
	return frame, nil
}
