package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/repositories"
)

// MockTranscriber is a placeholder transcriber for development and demos
// without cloud credentials.
type MockTranscriber struct {
	logger *zap.Logger
}

// NewMockTranscriber creates a mock transcriber.
func NewMockTranscriber(logger *zap.Logger) repositories.Transcriber {
	return &MockTranscriber{logger: logger}
}

// InitStream creates a new mock streaming session.
func (m *MockTranscriber) InitStream(ctx context.Context, config repositories.AudioConfig) (repositories.TranscriberStream, error) {
	m.logger.Info("Initializing mock transcription stream",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &mockStream{logger: m.logger, language: config.Language}, nil
}

type mockStream struct {
	logger   *zap.Logger
	language string
	received int
}

func (m *mockStream) Stream(data []byte) error {
	m.received += len(data)
	return nil
}

// End picks a canned transcript by cumulative audio size, so short and
// long utterances exercise different downstream paths.
func (m *mockStream) End() (repositories.Transcription, error) {
	if m.received == 0 {
		return repositories.Transcription{}, fmt.Errorf("no audio data received")
	}

	result := repositories.Transcription{Confidence: 0.92, Language: m.language}
	switch {
	case m.received > 10000:
		result.Text = "delete the old report from the downloads folder"
	case m.received > 1000:
		result.Text = "open the file manager"
	default:
		result.Text = "hello"
		result.Confidence = 0.55
	}

	m.logger.Info("Mock transcription complete",
		zap.String("text", result.Text),
		zap.Float64("confidence", result.Confidence))
	return result, nil
}
