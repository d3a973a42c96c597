package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/internal/capture"
	"github.com/voicedesk/voicedesk/internal/codec"
	"github.com/voicedesk/voicedesk/internal/protocol"
)

// Config holds session timing and gating parameters.
type Config struct {
	// SilenceTimeout is how much continuous silence ends listening, counted
	// in audio time, once MinSpeechDuration of speech was heard.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	// MinSpeechDuration is the least speech required before silence can end
	// the command.
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`
	// MaxCommandDuration caps listening regardless of speech activity.
	MaxCommandDuration time.Duration `yaml:"max_command_duration"`
	// ConfidenceThreshold rejects transcriptions below it with a
	// retry-requested outcome instead of interpreting them.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// ResultTimeout bounds the wait for the host's terminal result after the
	// final frame was sent.
	ResultTimeout time.Duration `yaml:"result_timeout"`
	// Language hint forwarded with the audio stream.
	Language string `yaml:"language"`
}

// DefaultConfig returns the standard session parameters.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout:      2 * time.Second,
		MinSpeechDuration:   300 * time.Millisecond,
		MaxCommandDuration:  10 * time.Second,
		ConfidenceThreshold: 0.60,
		ResultTimeout:       2 * time.Minute,
		Language:            "en-US",
	}
}

// Transport is the slice of the connection manager the session uses.
type Transport interface {
	Send(msg interface{}) error
	SendFrame(frame entities.AudioFrame) error
}

// CaptureUnit is the slice of the capture unit the session uses.
type CaptureUnit interface {
	Start(ctx context.Context) (<-chan capture.Window, error)
	Stop()
}

// Encoder compresses one PCM window into an opus payload.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Update is published on every state transition of the active command.
type Update struct {
	CommandID uuid.UUID
	Status    entities.CommandStatus
	Message   string
	Err       *entities.CommandError
}

// Prompt asks the caller to approve a destructive action before execution
// proceeds. Answer with Confirm.
type Prompt struct {
	CommandID uuid.UUID
	Text      string
}

// activeCommand is the session's bookkeeping for one in-flight command.
type activeCommand struct {
	cmd      *entities.VoiceCommand
	framer   *codec.Framer
	events   chan interface{}
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Session drives one voice command at a time end-to-end: capture and
// classify, encode and stream, then track the host's pipeline replies until
// a terminal result. A new start while a command is active is rejected, not
// queued.
type Session struct {
	cfg       Config
	transport Transport
	capture   CaptureUnit
	encoder   Encoder
	logger    *zap.Logger

	mu     sync.Mutex
	active *activeCommand

	updates chan Update
	prompts chan Prompt
	levels  chan float64
}

// NewSession creates a session over the given transport, capture unit, and
// encoder.
func NewSession(cfg Config, transport Transport, capture CaptureUnit, encoder Encoder, logger *zap.Logger) *Session {
	return &Session{
		cfg:       cfg,
		transport: transport,
		capture:   capture,
		encoder:   encoder,
		logger:    logger,
		updates:   make(chan Update, 32),
		prompts:   make(chan Prompt, 4),
		levels:    make(chan float64, 32),
	}
}

// Updates delivers one entry per state transition, each carrying the status
// string for display.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// Prompts delivers confirmation requests for destructive actions.
func (s *Session) Prompts() <-chan Prompt {
	return s.prompts
}

// Levels delivers the normalized input level of every capture window for UI
// metering. Entries are dropped when the consumer falls behind.
func (s *Session) Levels() <-chan float64 {
	return s.levels
}

// Start begins a new voice command and returns its id. Rejected while
// another command is active.
func (s *Session) Start(ctx context.Context) (uuid.UUID, error) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return uuid.Nil, entities.NewCommandError(entities.ErrCodeCommandActive,
			"A command is already in progress", false)
	}

	cmd := entities.NewVoiceCommand()
	active := &activeCommand{
		cmd:    cmd,
		framer: codec.NewFramer(cmd.ID),
		events: make(chan interface{}, 16),
		stopCh: make(chan struct{}),
	}
	s.active = active
	s.mu.Unlock()

	go s.run(ctx, active)
	return cmd.ID, nil
}

// Stop ends the listening phase early, as if silence had been detected. It
// has no effect outside listening.
func (s *Session) Stop() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return
	}
	active.stopOnce.Do(func() { close(active.stopCh) })
}

// Confirm answers a pending confirmation prompt for the given command.
func (s *Session) Confirm(commandID uuid.UUID, approved bool) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil || active.cmd.ID != commandID {
		return entities.NewCommandError(entities.ErrCodeInternal,
			"No matching command awaiting confirmation", false)
	}

	reply := protocol.ConfirmationResponseMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeConfirmationResponse),
		CommandID:   commandID.String(),
		Confirmed:   approved,
	}
	return s.transport.Send(&reply)
}

// Abort fails the active command, if any, with the given error. Used by the
// caller when the connection is lost mid-command.
func (s *Session) Abort(code entities.ErrorCode, message string) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return
	}
	select {
	case active.events <- entities.NewCommandError(code, message, true):
	default:
	}
}

// HandleMessage routes a host reply to the active command. Register it on
// the transport for every pipeline message type. Replies for other commands
// are dropped.
func (s *Session) HandleMessage(msg interface{}) {
	commandID := commandIDOf(msg)
	if commandID == "" {
		return
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil || active.cmd.ID.String() != commandID {
		s.logger.Debug("Dropping reply for inactive command", zap.String("command_id", commandID))
		return
	}

	select {
	case active.events <- msg:
	default:
		s.logger.Warn("Command event queue full, dropping message", zap.String("command_id", commandID))
	}
}

func (s *Session) run(ctx context.Context, active *activeCommand) {
	if err := s.listen(ctx, active); err != nil {
		s.fail(active, err)
		return
	}

	s.transition(active, entities.CommandStatusProcessing, "Processing your command")

	if err := s.awaitResult(ctx, active); err != nil {
		s.fail(active, err)
		return
	}

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

// listen streams capture windows as sequenced opus frames until silence,
// the duration cap, or an explicit stop, then closes the stream with the
// final frame and the audio_end announcement. Timing is counted in audio
// time: each window is one fixed-length slice of the stream.
func (s *Session) listen(ctx context.Context, active *activeCommand) *entities.CommandError {
	cmd := active.cmd

	windows, err := s.capture.Start(ctx)
	if err != nil {
		return entities.NewCommandError(entities.ErrCodeCaptureDevice,
			"Microphone is unavailable", false)
	}
	defer s.capture.Stop()

	start := protocol.AudioStartMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeAudioStart),
		CommandID:   cmd.ID.String(),
		SampleRate:  codec.SampleRate,
		Encoding:    "opus",
		Language:    s.cfg.Language,
	}
	if err := s.transport.Send(&start); err != nil {
		return entities.NewCommandError(entities.ErrCodeTransportSend,
			"Connection to the host was lost", true)
	}
	s.transition(active, entities.CommandStatusListening, "Listening")

	windowDuration := time.Duration(codec.FrameDurationMs) * time.Millisecond
	var total, speech, silenceRun time.Duration

stream:
	for {
		select {
		case <-ctx.Done():
			return entities.NewCommandError(entities.ErrCodeCancelled, "Command cancelled", false)
		case <-active.stopCh:
			break stream
		case window, ok := <-windows:
			if !ok {
				break stream
			}
			s.meter(window.Level)

			payload, err := s.encoder.Encode(window.Samples)
			if err != nil {
				return entities.NewCommandError(entities.ErrCodeInternal,
					"Audio encoding failed", false)
			}
			frame, err := active.framer.Frame(payload)
			if err != nil {
				return entities.NewCommandError(entities.ErrCodeInternal,
					"Audio stream already closed", false)
			}
			if err := s.transport.SendFrame(frame); err != nil {
				return entities.NewCommandError(entities.ErrCodeTransportSend,
					"Connection to the host was lost", true)
			}
			cmd.AudioBuffer = append(cmd.AudioBuffer, payload...)

			total += windowDuration
			if window.IsSpeech {
				speech += windowDuration
				silenceRun = 0
			} else {
				silenceRun += windowDuration
			}

			if speech >= s.cfg.MinSpeechDuration && silenceRun >= s.cfg.SilenceTimeout {
				break stream
			}
			if total >= s.cfg.MaxCommandDuration {
				break stream
			}
		}
	}

	final, err := active.framer.Final()
	if err != nil {
		return entities.NewCommandError(entities.ErrCodeInternal, "Audio stream already closed", false)
	}
	if err := s.transport.SendFrame(final); err != nil {
		return entities.NewCommandError(entities.ErrCodeTransportSend,
			"Connection to the host was lost", true)
	}

	cmd.DurationMs = total.Milliseconds()
	// Transmission is done; the audio bytes must not outlive it.
	cmd.ReleaseAudio()

	end := protocol.AudioEndMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeAudioEnd),
		CommandID:   cmd.ID.String(),
		FrameCount:  active.framer.Count(),
		DurationMs:  cmd.DurationMs,
	}
	if err := s.transport.Send(&end); err != nil {
		return entities.NewCommandError(entities.ErrCodeTransportSend,
			"Connection to the host was lost", true)
	}
	return nil
}

// awaitResult tracks the host pipeline replies for the active command until
// a terminal result arrives.
func (s *Session) awaitResult(ctx context.Context, active *activeCommand) *entities.CommandError {
	cmd := active.cmd
	deadline := time.NewTimer(s.cfg.ResultTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return entities.NewCommandError(entities.ErrCodeCancelled, "Command cancelled", false)
		case <-deadline.C:
			return entities.NewCommandError(entities.ErrCodeInternal,
				"The host did not answer in time", true)
		case event := <-active.events:
			switch msg := event.(type) {
			case *entities.CommandError:
				return msg
			case *protocol.ProcessingStatusMessage:
				s.publish(Update{CommandID: cmd.ID, Status: cmd.Status, Message: msg.Status})
			case *protocol.TranscriptionCompleteMessage:
				cmd.Transcript = msg.Text
				cmd.Confidence = msg.Confidence
				cmd.Language = msg.Language
				if msg.Confidence < s.cfg.ConfidenceThreshold {
					return entities.NewCommandError(entities.ErrCodeLowConfidence,
						"Didn't quite catch that, please try again", true)
				}
				s.transition(active, entities.CommandStatusExecuting, "Executing: "+msg.Text)
			case *protocol.ActionInterpretationMessage:
				s.publish(Update{CommandID: cmd.ID, Status: cmd.Status,
					Message: "Understood: " + msg.Operation})
			case *protocol.ConfirmationRequiredMessage:
				select {
				case s.prompts <- Prompt{CommandID: cmd.ID, Text: msg.Prompt}:
				default:
					s.logger.Warn("Confirmation prompt dropped, no listener",
						zap.String("command_id", msg.CommandID))
				}
			case *protocol.CommandCompleteMessage:
				if !cmd.Transition(entities.CommandStatusCompleted) {
					return entities.NewCommandError(entities.ErrCodeInternal,
						"Unexpected result for this command state", false)
				}
				message := msg.ResultMessage
				if message == "" {
					message = "Command completed"
				}
				s.publish(Update{CommandID: cmd.ID, Status: cmd.Status, Message: message})
				return nil
			case *protocol.CommandErrorMessage:
				return entities.NewCommandError(entities.ErrorCode(msg.Code), msg.Message, msg.Retryable)
			}
		}
	}
}

// transition moves the active command forward and publishes the status.
func (s *Session) transition(active *activeCommand, next entities.CommandStatus, message string) {
	if !active.cmd.Transition(next) {
		return
	}
	s.publish(Update{CommandID: active.cmd.ID, Status: next, Message: message})
}

// fail moves the active command to the terminal error state, releasing its
// buffers, and frees the session for the next command.
func (s *Session) fail(active *activeCommand, cmdErr *entities.CommandError) {
	active.cmd.Transition(entities.CommandStatusError)

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()

	s.logger.Warn("Command failed",
		zap.String("command_id", active.cmd.ID.String()),
		zap.String("code", string(cmdErr.Code)),
		zap.Bool("retryable", cmdErr.Retryable))
	s.publish(Update{
		CommandID: active.cmd.ID,
		Status:    entities.CommandStatusError,
		Message:   cmdErr.Message,
		Err:       cmdErr,
	})
}

func (s *Session) publish(update Update) {
	select {
	case s.updates <- update:
	default:
		s.logger.Warn("Status update dropped, consumer too slow",
			zap.String("command_id", update.CommandID.String()))
	}
}

func (s *Session) meter(level float64) {
	select {
	case s.levels <- level:
	default:
	}
}

func commandIDOf(msg interface{}) string {
	switch m := msg.(type) {
	case *protocol.ProcessingStatusMessage:
		return m.CommandID
	case *protocol.TranscriptionCompleteMessage:
		return m.CommandID
	case *protocol.ActionInterpretationMessage:
		return m.CommandID
	case *protocol.ConfirmationRequiredMessage:
		return m.CommandID
	case *protocol.CommandCompleteMessage:
		return m.CommandID
	case *protocol.CommandErrorMessage:
		return m.CommandID
	default:
		return ""
	}
}
