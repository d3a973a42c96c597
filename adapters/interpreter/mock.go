package interpreter

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/repositories"
)

// MockInterpreter is a keyword-rule interpreter for development and demos
// without an API key.
type MockInterpreter struct {
	logger *zap.Logger
}

// NewMockInterpreter creates a mock interpreter.
func NewMockInterpreter(logger *zap.Logger) repositories.Interpreter {
	return &MockInterpreter{logger: logger}
}

func (m *MockInterpreter) Interpret(ctx context.Context, transcript string, recentHistory []string) (repositories.ActionInterpretation, error) {
	lower := strings.ToLower(transcript)

	var action repositories.ActionInterpretation
	switch {
	case strings.Contains(lower, "delete"):
		action = repositories.ActionInterpretation{
			ActionType:           "file",
			Operation:            "delete",
			Parameters:           map[string]string{"target": strings.TrimSpace(strings.TrimPrefix(lower, "delete"))},
			RequiresConfirmation: true,
		}
	case strings.Contains(lower, "open"):
		action = repositories.ActionInterpretation{
			ActionType: "app",
			Operation:  "open",
			Parameters: map[string]string{"name": strings.TrimSpace(strings.TrimPrefix(lower, "open"))},
		}
	case strings.Contains(lower, "close"):
		action = repositories.ActionInterpretation{
			ActionType: "window",
			Operation:  "close",
		}
	default:
		action = repositories.ActionInterpretation{
			ActionType: "system",
			Operation:  "say",
			Parameters: map[string]string{"text": transcript},
		}
	}

	m.logger.Info("Mock interpretation",
		zap.String("transcript", transcript),
		zap.String("operation", action.Operation))
	return action, nil
}
