package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Encoder settings are fixed for the voice command pipeline: 16 kHz mono,
// 20 ms frames, ~24 kbps VBR. Small enough to keep every encoded frame well
// under the transport's 2 KB ceiling while remaining intelligible for
// transcription.
const (
	SampleRate      = 16000
	Channels        = 1
	FrameDurationMs = 20
	TargetBitrate   = 24000

	// SamplesPerFrame is the PCM chunk size the encoder accepts.
	SamplesPerFrame = SampleRate * FrameDurationMs / 1000

	maxEncodedBytes = 2048
)

// Encoder compresses raw PCM chunks to Opus. Construction failure is fatal
// for the session and must surface before any audio is captured.
type Encoder struct {
	enc *opus.Encoder
	buf []byte
}

// NewEncoder initializes the Opus encoder. Returns an error if the codec
// rejects the configuration, which callers treat as terminal.
func NewEncoder() (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize opus encoder: %w", err)
	}
	if err := enc.SetBitrate(TargetBitrate); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
	}
	return &Encoder{
		enc: enc,
		buf: make([]byte, maxEncodedBytes),
	}, nil
}

// Encode compresses one 20 ms PCM chunk. Chunks must arrive in capture order;
// the encoder never reorders or skips input.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != SamplesPerFrame {
		return nil, fmt.Errorf("pcm chunk must be %d samples, got %d", SamplesPerFrame, len(pcm))
	}
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}
