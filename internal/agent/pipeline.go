package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/domain/repositories"
	"github.com/voicedesk/voicedesk/internal/protocol"
)

// PipelineConfig holds the per-command processing parameters.
type PipelineConfig struct {
	// ConfidenceThreshold stops the pipeline after transcription when the
	// result is too uncertain to act on.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// InterpretRetryWindow bounds the internal retries against a transient
	// interpreter outage. This is the one place a remote failure is masked
	// by automatic retry.
	InterpretRetryWindow  time.Duration `yaml:"interpret_retry_window"`
	InterpretRetryInitial time.Duration `yaml:"interpret_retry_initial"`
	// ExecuteTimeout caps action execution.
	ExecuteTimeout time.Duration `yaml:"execute_timeout"`
	// ConfirmTimeout caps the wait for the user's confirmation answer.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	// ProtectedPaths lists prefixes under which deletions always require
	// confirmation, whatever the interpreter decided.
	ProtectedPaths []string `yaml:"protected_paths"`
}

// DefaultPipelineConfig returns the standard processing parameters.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ConfidenceThreshold:   0.60,
		InterpretRetryWindow:  30 * time.Second,
		InterpretRetryInitial: 500 * time.Millisecond,
		ExecuteTimeout:        30 * time.Second,
		ConfirmTimeout:        60 * time.Second,
		ProtectedPaths:        []string{"/etc", "/usr", "/bin", "/sbin", "/boot", "/var"},
	}
}

// Outbound is the reply path back to the device that issued the command.
type Outbound interface {
	Send(msg interface{}) error
}

// Pipeline turns one finished audio stream into an executed action:
// transcribe, gate on confidence, interpret, confirm destructive actions,
// execute, report.
type Pipeline struct {
	cfg         PipelineConfig
	interpreter repositories.Interpreter
	executor    repositories.ActionExecutor
	logger      *zap.Logger
}

// NewPipeline creates the processing pipeline shared by all connections.
func NewPipeline(cfg PipelineConfig, interpreter repositories.Interpreter, executor repositories.ActionExecutor, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		interpreter: interpreter,
		executor:    executor,
		logger:      logger,
	}
}

// Run processes one command whose final frame has arrived. The stream is
// ended here; confirm delivers the user's answer to a confirmation prompt.
// It returns the transcript when the command reached execution, for the
// caller's recent-history context.
func (p *Pipeline) Run(
	ctx context.Context,
	commandID string,
	stream repositories.TranscriberStream,
	history []string,
	confirm <-chan bool,
	out Outbound,
) (string, bool) {
	p.status(out, commandID, "transcribing", "Transcribing audio")

	transcription, err := stream.End()
	if err != nil {
		p.logger.Error("Transcription failed", zap.String("commandID", commandID), zap.Error(err))
		p.fail(out, commandID, entities.ErrCodeTranscriptionFailed,
			"Could not transcribe the audio", true)
		return "", false
	}

	p.send(out, &protocol.TranscriptionCompleteMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeTranscriptionComplete),
		CommandID:   commandID,
		Text:        transcription.Text,
		Confidence:  transcription.Confidence,
		Language:    transcription.Language,
	})

	// Below the threshold the device asks the user to retry; the pipeline
	// just stops.
	if transcription.Confidence < p.cfg.ConfidenceThreshold {
		p.logger.Info("Transcription below confidence threshold",
			zap.String("commandID", commandID),
			zap.Float64("confidence", transcription.Confidence))
		return "", false
	}

	p.status(out, commandID, "interpreting", "Working out what to do")

	action, err := p.interpret(ctx, transcription.Text, history)
	if err != nil {
		if errors.Is(err, repositories.ErrInterpreterUnavailable) {
			p.fail(out, commandID, entities.ErrCodeInterpreterUnavailable,
				"The interpretation service is unreachable, try again later", true)
		} else {
			p.logger.Error("Interpretation failed", zap.String("commandID", commandID), zap.Error(err))
			p.fail(out, commandID, entities.ErrCodeInternal,
				"Could not interpret the command", false)
		}
		return "", false
	}

	p.send(out, &protocol.ActionInterpretationMessage{
		BaseMessage:          protocol.NewBase(protocol.MessageTypeActionInterpretation),
		CommandID:            commandID,
		ActionType:           action.ActionType,
		Operation:            action.Operation,
		Parameters:           action.Parameters,
		RequiresConfirmation: action.RequiresConfirmation,
	})

	if p.destructive(action) {
		approved, err := p.awaitConfirmation(ctx, commandID, action, confirm, out)
		if err != nil {
			p.fail(out, commandID, entities.ErrCodeConfirmationDeclined,
				"Confirmation was not given, nothing was done", false)
			return transcription.Text, false
		}
		if !approved {
			p.fail(out, commandID, entities.ErrCodeConfirmationDeclined,
				"Cancelled, nothing was done", false)
			return transcription.Text, false
		}
	}

	p.status(out, commandID, "executing", "Executing on the host")

	execCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecuteTimeout)
	defer cancel()
	result, err := p.executor.Execute(execCtx, action)
	if err != nil {
		p.logger.Error("Execution failed", zap.String("commandID", commandID), zap.Error(err))
		p.fail(out, commandID, entities.ErrCodeExecutionFailed,
			"The action could not be carried out", true)
		return transcription.Text, false
	}
	if !result.Success {
		p.fail(out, commandID, entities.ErrCodeExecutionFailed, result.ResultMessage, result.Retryable)
		return transcription.Text, false
	}

	p.send(out, &protocol.CommandCompleteMessage{
		BaseMessage:   protocol.NewBase(protocol.MessageTypeCommandComplete),
		CommandID:     commandID,
		Success:       true,
		ResultMessage: result.ResultMessage,
	})
	return transcription.Text, true
}

// interpret retries transient interpreter outages with short backoff inside
// a bounded window; every other failure is immediate.
func (p *Pipeline) interpret(ctx context.Context, transcript string, history []string) (repositories.ActionInterpretation, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.InterpretRetryInitial
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = p.cfg.InterpretRetryWindow

	var action repositories.ActionInterpretation
	err := backoff.Retry(func() error {
		var ierr error
		action, ierr = p.interpreter.Interpret(ctx, transcript, history)
		if ierr == nil {
			return nil
		}
		if errors.Is(ierr, repositories.ErrInterpreterUnavailable) {
			return ierr
		}
		return backoff.Permanent(ierr)
	}, backoff.WithContext(policy, ctx))
	return action, err
}

// destructive reports whether the action needs an explicit user
// confirmation before execution: whatever the interpreter flagged, plus any
// deletion under a protected path.
func (p *Pipeline) destructive(action repositories.ActionInterpretation) bool {
	if action.RequiresConfirmation {
		return true
	}
	if action.Operation != "delete" {
		return false
	}
	path := action.Parameters["path"]
	for _, prefix := range p.cfg.ProtectedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (p *Pipeline) awaitConfirmation(
	ctx context.Context,
	commandID string,
	action repositories.ActionInterpretation,
	confirm <-chan bool,
	out Outbound,
) (bool, error) {
	prompt := "Confirm: " + action.Operation
	if path, ok := action.Parameters["path"]; ok {
		prompt = "Confirm: " + action.Operation + " " + path
	}
	p.send(out, &protocol.ConfirmationRequiredMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeConfirmationRequired),
		CommandID:   commandID,
		Prompt:      prompt,
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(p.cfg.ConfirmTimeout):
		return false, errors.New("confirmation timed out")
	case approved := <-confirm:
		return approved, nil
	}
}

func (p *Pipeline) status(out Outbound, commandID, stage, text string) {
	p.send(out, &protocol.ProcessingStatusMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeProcessingStatus),
		CommandID:   commandID,
		Stage:       stage,
		Status:      text,
	})
}

func (p *Pipeline) fail(out Outbound, commandID string, code entities.ErrorCode, message string, retryable bool) {
	p.send(out, &protocol.CommandErrorMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeCommandError),
		CommandID:   commandID,
		Code:        string(code),
		Message:     message,
		Retryable:   retryable,
	})
}

func (p *Pipeline) send(out Outbound, msg interface{}) {
	if err := out.Send(msg); err != nil {
		p.logger.Warn("Failed to send pipeline message", zap.Error(err))
	}
}
