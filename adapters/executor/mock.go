package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/repositories"
)

// MockExecutor acknowledges actions without touching the host. The real
// automation backend is platform-specific and plugs in behind the same
// interface.
type MockExecutor struct {
	logger *zap.Logger
}

// NewMockExecutor creates a mock executor.
func NewMockExecutor(logger *zap.Logger) repositories.ActionExecutor {
	return &MockExecutor{logger: logger}
}

func (m *MockExecutor) Execute(ctx context.Context, action repositories.ActionInterpretation) (repositories.ActionResult, error) {
	select {
	case <-ctx.Done():
		return repositories.ActionResult{}, ctx.Err()
	default:
	}

	m.logger.Info("Executing action",
		zap.String("actionType", action.ActionType),
		zap.String("operation", action.Operation),
		zap.Any("parameters", action.Parameters))

	return repositories.ActionResult{
		Success:       true,
		ResultMessage: fmt.Sprintf("Done: %s %s", action.Operation, action.ActionType),
	}, nil
}
