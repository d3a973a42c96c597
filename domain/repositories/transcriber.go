package repositories

import "context"

// AudioConfig describes the encoded stream handed to the transcriber.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// Transcription is the terminal result for one command's audio stream.
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// Transcriber abstracts the external speech-to-text service. One streaming
// session is opened per command and fed frames in sequence order.
type Transcriber interface {
	// InitStream opens a streaming transcription session for a command.
	InitStream(ctx context.Context, config AudioConfig) (TranscriberStream, error)
}

// TranscriberStream is a single in-flight transcription.
type TranscriberStream interface {
	// Stream feeds one encoded audio payload.
	Stream(data []byte) error
	// End signals end of audio and blocks for the final result.
	End() (Transcription, error)
}
