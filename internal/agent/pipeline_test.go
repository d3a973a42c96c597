package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/domain/repositories"
	"github.com/voicedesk/voicedesk/internal/protocol"
)

type fakeStream struct {
	mu       sync.Mutex
	payloads [][]byte
	result   repositories.Transcription
	endErr   error
}

func (f *fakeStream) Stream(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeStream) End() (repositories.Transcription, error) {
	return f.result, f.endErr
}

type fakeInterpreter struct {
	mu       sync.Mutex
	action   repositories.ActionInterpretation
	failures int
	calls    int
	err      error
}

func (f *fakeInterpreter) Interpret(ctx context.Context, transcript string, history []string) (repositories.ActionInterpretation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return repositories.ActionInterpretation{}, f.err
	}
	if f.calls <= f.failures {
		return repositories.ActionInterpretation{}, repositories.ErrInterpreterUnavailable
	}
	return f.action, nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	result repositories.ActionResult
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, action repositories.ActionInterpretation) (repositories.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingOutbound struct {
	mu       sync.Mutex
	messages []interface{}
}

func (r *recordingOutbound) Send(msg interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingOutbound) types(t *testing.T) []protocol.MessageType {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []protocol.MessageType
	for _, msg := range r.messages {
		switch msg.(type) {
		case *protocol.ProcessingStatusMessage:
			types = append(types, protocol.MessageTypeProcessingStatus)
		case *protocol.TranscriptionCompleteMessage:
			types = append(types, protocol.MessageTypeTranscriptionComplete)
		case *protocol.ActionInterpretationMessage:
			types = append(types, protocol.MessageTypeActionInterpretation)
		case *protocol.ConfirmationRequiredMessage:
			types = append(types, protocol.MessageTypeConfirmationRequired)
		case *protocol.CommandCompleteMessage:
			types = append(types, protocol.MessageTypeCommandComplete)
		case *protocol.CommandErrorMessage:
			types = append(types, protocol.MessageTypeCommandError)
		default:
			t.Fatalf("unexpected message %T", msg)
		}
	}
	return types
}

func (r *recordingOutbound) lastError() *protocol.CommandErrorMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if e, ok := r.messages[i].(*protocol.CommandErrorMessage); ok {
			return e
		}
	}
	return nil
}

func fastPipelineConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.InterpretRetryInitial = 5 * time.Millisecond
	cfg.InterpretRetryWindow = 100 * time.Millisecond
	cfg.ConfirmTimeout = 200 * time.Millisecond
	return cfg
}

func TestPipelineHappyPath(t *testing.T) {
	interpreter := &fakeInterpreter{action: repositories.ActionInterpretation{
		ActionType: "app",
		Operation:  "open",
		Parameters: map[string]string{"name": "files"},
	}}
	executor := &fakeExecutor{result: repositories.ActionResult{Success: true, ResultMessage: "Opened files"}}
	p := NewPipeline(fastPipelineConfig(), interpreter, executor, zap.NewNop())

	out := &recordingOutbound{}
	stream := &fakeStream{result: repositories.Transcription{Text: "open the file manager", Confidence: 0.93}}

	transcript, completed := p.Run(context.Background(), "cmd-1", stream, nil, make(chan bool), out)
	if !completed || transcript != "open the file manager" {
		t.Fatalf("expected completion with transcript, got %q completed=%v", transcript, completed)
	}

	want := []protocol.MessageType{
		protocol.MessageTypeProcessingStatus,
		protocol.MessageTypeTranscriptionComplete,
		protocol.MessageTypeProcessingStatus,
		protocol.MessageTypeActionInterpretation,
		protocol.MessageTypeProcessingStatus,
		protocol.MessageTypeCommandComplete,
	}
	got := out.types(t)
	if len(got) != len(want) {
		t.Fatalf("message sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d is %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPipelineStopsBelowConfidenceThreshold(t *testing.T) {
	interpreter := &fakeInterpreter{}
	executor := &fakeExecutor{}
	p := NewPipeline(fastPipelineConfig(), interpreter, executor, zap.NewNop())

	out := &recordingOutbound{}
	stream := &fakeStream{result: repositories.Transcription{Text: "mumble", Confidence: 0.45}}

	_, completed := p.Run(context.Background(), "cmd-1", stream, nil, make(chan bool), out)
	if completed {
		t.Fatal("low-confidence transcription must not complete")
	}

	// The transcription still goes out so the device can surface the retry
	// outcome, but nothing after it.
	got := out.types(t)
	if len(got) != 2 || got[1] != protocol.MessageTypeTranscriptionComplete {
		t.Fatalf("expected status+transcription only, got %v", got)
	}
	if interpreter.calls != 0 {
		t.Error("interpreter must not run on a low-confidence transcript")
	}
}

func TestPipelineRetriesTransientInterpreterOutage(t *testing.T) {
	interpreter := &fakeInterpreter{
		failures: 2,
		action:   repositories.ActionInterpretation{ActionType: "app", Operation: "open"},
	}
	executor := &fakeExecutor{result: repositories.ActionResult{Success: true}}
	p := NewPipeline(fastPipelineConfig(), interpreter, executor, zap.NewNop())

	out := &recordingOutbound{}
	stream := &fakeStream{result: repositories.Transcription{Text: "open settings", Confidence: 0.9}}

	_, completed := p.Run(context.Background(), "cmd-1", stream, nil, make(chan bool), out)
	if !completed {
		t.Fatal("pipeline must ride out a transient interpreter outage")
	}
	if interpreter.calls != 3 {
		t.Errorf("expected 3 interpreter calls, got %d", interpreter.calls)
	}
}

func TestPipelineSurfacesExhaustedInterpreterRetries(t *testing.T) {
	interpreter := &fakeInterpreter{failures: 1 << 30}
	executor := &fakeExecutor{}
	p := NewPipeline(fastPipelineConfig(), interpreter, executor, zap.NewNop())

	out := &recordingOutbound{}
	stream := &fakeStream{result: repositories.Transcription{Text: "open settings", Confidence: 0.9}}

	_, completed := p.Run(context.Background(), "cmd-1", stream, nil, make(chan bool), out)
	if completed {
		t.Fatal("exhausted retries must not complete")
	}

	cmdErr := out.lastError()
	if cmdErr == nil || cmdErr.Code != string(entities.ErrCodeInterpreterUnavailable) {
		t.Fatalf("expected interpretation_unavailable, got %+v", cmdErr)
	}
	if !cmdErr.Retryable {
		t.Error("interpreter outage should be marked retryable")
	}
}

func TestPipelineFinalInterpreterErrorsAreNotRetried(t *testing.T) {
	interpreter := &fakeInterpreter{err: errors.New("model rejected the prompt")}
	executor := &fakeExecutor{}
	p := NewPipeline(fastPipelineConfig(), interpreter, executor, zap.NewNop())

	out := &recordingOutbound{}
	stream := &fakeStream{result: repositories.Transcription{Text: "open settings", Confidence: 0.9}}

	p.Run(context.Background(), "cmd-1", stream, nil, make(chan bool), out)
	if interpreter.calls != 1 {
		t.Errorf("final errors must fail immediately, got %d calls", interpreter.calls)
	}
}

func TestPipelineConfirmationApproved(t *testing.T) {
	interpreter := &fakeInterpreter{action: repositories.ActionInterpretation{
		ActionType: "file",
		Operation:  "delete",
		Parameters: map[string]string{"path": "/etc/hosts"},
	}}
	executor := &fakeExecutor{result: repositories.ActionResult{Success: true, ResultMessage: "Deleted"}}
	p := NewPipeline(fastPipelineConfig(), interpreter, executor, zap.NewNop())

	out := &recordingOutbound{}
	stream := &fakeStream{result: repositories.Transcription{Text: "delete hosts", Confidence: 0.9}}
	confirm := make(chan bool, 1)
	confirm <- true

	_, completed := p.Run(context.Background(), "cmd-1", stream, nil, confirm, out)
	if !completed {
		t.Fatal("approved destructive action must execute")
	}

	var prompted bool
	for _, mt := range out.types(t) {
		if mt == protocol.MessageTypeConfirmationRequired {
			prompted = true
		}
	}
	if !prompted {
		t.Error("deletion under a protected path must prompt for confirmation")
	}
}

func TestPipelineConfirmationDeclined(t *testing.T) {
	interpreter := &fakeInterpreter{action: repositories.ActionInterpretation{
		ActionType:           "file",
		Operation:            "delete",
		Parameters:           map[string]string{"path": "/home/user/notes.txt"},
		RequiresConfirmation: true,
	}}
	executor := &fakeExecutor{}
	p := NewPipeline(fastPipelineConfig(), interpreter, executor, zap.NewNop())

	out := &recordingOutbound{}
	stream := &fakeStream{result: repositories.Transcription{Text: "delete my notes", Confidence: 0.9}}
	confirm := make(chan bool, 1)
	confirm <- false

	_, completed := p.Run(context.Background(), "cmd-1", stream, nil, confirm, out)
	if completed {
		t.Fatal("declined confirmation must not execute")
	}
	if executor.callCount() != 0 {
		t.Error("executor ran despite the declined confirmation")
	}
	cmdErr := out.lastError()
	if cmdErr == nil || cmdErr.Code != string(entities.ErrCodeConfirmationDeclined) {
		t.Fatalf("expected confirmation_declined, got %+v", cmdErr)
	}
}

func TestDestructiveDetection(t *testing.T) {
	p := NewPipeline(DefaultPipelineConfig(), nil, nil, zap.NewNop())

	tests := []struct {
		name   string
		action repositories.ActionInterpretation
		want   bool
	}{
		{
			name:   "interpreter flagged",
			action: repositories.ActionInterpretation{Operation: "open", RequiresConfirmation: true},
			want:   true,
		},
		{
			name:   "delete under protected path",
			action: repositories.ActionInterpretation{Operation: "delete", Parameters: map[string]string{"path": "/etc/hosts"}},
			want:   true,
		},
		{
			name:   "delete in home",
			action: repositories.ActionInterpretation{Operation: "delete", Parameters: map[string]string{"path": "/home/user/tmp.txt"}},
			want:   false,
		},
		{
			name:   "copy under protected path",
			action: repositories.ActionInterpretation{Operation: "copy", Parameters: map[string]string{"path": "/etc/hosts"}},
			want:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.destructive(tc.action); got != tc.want {
				t.Errorf("destructive(%+v) = %v, want %v", tc.action, got, tc.want)
			}
		})
	}
}

func TestPipelineExecutionFailure(t *testing.T) {
	interpreter := &fakeInterpreter{action: repositories.ActionInterpretation{ActionType: "app", Operation: "open"}}
	executor := &fakeExecutor{result: repositories.ActionResult{
		Success:       false,
		ResultMessage: "Application not installed",
		Retryable:     false,
	}}
	p := NewPipeline(fastPipelineConfig(), interpreter, executor, zap.NewNop())

	out := &recordingOutbound{}
	stream := &fakeStream{result: repositories.Transcription{Text: "open photoshop", Confidence: 0.9}}

	_, completed := p.Run(context.Background(), "cmd-1", stream, nil, make(chan bool), out)
	if completed {
		t.Fatal("failed execution must not report completion")
	}
	cmdErr := out.lastError()
	if cmdErr == nil || cmdErr.Code != string(entities.ErrCodeExecutionFailed) {
		t.Fatalf("expected execution_failed, got %+v", cmdErr)
	}
	if cmdErr.Message != "Application not installed" {
		t.Errorf("executor message must be surfaced verbatim, got %q", cmdErr.Message)
	}
}
