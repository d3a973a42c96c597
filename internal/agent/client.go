package agent

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/domain/repositories"
	"github.com/voicedesk/voicedesk/internal/protocol"
)

var (
	errAuthRequired = errors.New("auth must be the first message")
	errQueueTimeout = errors.New("admission queue wait exceeded")
)

// Send encodes a control message onto the client's write queue. It
// implements the pipeline's Outbound.
func (c *Client) Send(msg interface{}) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	default:
		return errors.New("send queue full")
	}
}

// writeNow writes a control message synchronously, for use before the pumps
// start.
func (c *Client) writeNow(msg interface{}) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Warn("Failed to write message", zap.Error(err))
	}
}

// readPump pumps messages from the websocket connection into the command
// handlers.
func (c *Client) readPump() {
	defer func() {
		c.abortRun()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.String("sessionID", c.sessionID), zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.processControl(message)
		case websocket.BinaryMessage:
			c.processFrame(message)
		default:
			c.logger.Warn("Received unknown websocket message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps queued messages to the websocket connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		message, ok := <-c.send
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
			c.logger.Error("Failed to write message", zap.String("sessionID", c.sessionID), zap.Error(err))
			return
		}
	}
}

// processControl dispatches one JSON control message.
func (c *Client) processControl(message []byte) {
	msg, err := protocol.Decode(message)
	if err != nil {
		var unknown *protocol.ErrUnknownType
		if errors.As(err, &unknown) {
			c.logger.Debug("Ignoring unknown message type", zap.String("type", string(unknown.Type)))
		} else {
			c.logger.Warn("Dropping undecodable message", zap.Error(err))
		}
		return
	}

	switch m := msg.(type) {
	case *protocol.PingMessage:
		_ = c.Send(&protocol.PongMessage{
			BaseMessage: protocol.NewBase(protocol.MessageTypePong),
			Seq:         m.Seq,
		})
	case *protocol.AudioStartMessage:
		c.handleAudioStart(m)
	case *protocol.AudioEndMessage:
		c.handleAudioEnd(m)
	case *protocol.ConfirmationResponseMessage:
		c.handleConfirmation(m)
	default:
		c.logger.Debug("Unhandled control message", zap.Any("message", msg))
	}
}

// handleAudioStart opens a transcription stream for the announced command.
// Only one command may be in flight per connection.
func (c *Client) handleAudioStart(msg *protocol.AudioStartMessage) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.run != nil {
		c.commandError(msg.CommandID, entities.ErrCodeCommandActive,
			"Another command is still in progress", false)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.hub.transcriber.InitStream(ctx, repositories.AudioConfig{
		SampleRate: msg.SampleRate,
		Encoding:   msg.Encoding,
		Language:   msg.Language,
	})
	if err != nil {
		cancel()
		c.logger.Error("Failed to open transcription stream",
			zap.String("commandID", msg.CommandID), zap.Error(err))
		c.commandError(msg.CommandID, entities.ErrCodeTranscriptionFailed,
			"Could not start transcription", true)
		return
	}

	c.run = &commandRun{
		commandID: msg.CommandID,
		stream:    stream,
		confirm:   make(chan bool, 1),
		cancel:    cancel,
	}
	c.logger.Info("Audio stream opened",
		zap.String("sessionID", c.sessionID),
		zap.String("commandID", msg.CommandID))
}

// processFrame feeds one binary audio frame into the active command's
// stream. Sequences must be contiguous from zero; a gap aborts the stream
// since a transcript of partial audio would act on the wrong words.
func (c *Client) processFrame(data []byte) {
	frame, err := protocol.UnmarshalFrame(data)
	if err != nil {
		c.logger.Warn("Dropping malformed audio frame", zap.Error(err))
		return
	}

	c.mutex.Lock()
	run := c.run
	if run == nil || run.running {
		c.mutex.Unlock()
		c.logger.Warn("Audio frame outside an open stream",
			zap.String("commandID", frame.CommandID.String()))
		return
	}
	if frame.CommandID.String() != run.commandID {
		c.mutex.Unlock()
		c.logger.Warn("Audio frame for a different command",
			zap.String("commandID", frame.CommandID.String()))
		return
	}

	if frame.Sequence != run.nextSeq {
		c.logger.Warn("Audio frame sequence gap",
			zap.String("commandID", run.commandID),
			zap.Uint64("expected", run.nextSeq),
			zap.Uint64("got", frame.Sequence))
		run.cancel()
		c.run = nil
		c.mutex.Unlock()
		c.commandError(run.commandID, entities.ErrCodeStreamIncomplete,
			"Audio arrived incomplete, please try again", true)
		return
	}
	run.nextSeq++

	if frame.IsFinal {
		run.running = true
		c.mutex.Unlock()
		go c.finish(run)
		return
	}

	if err := run.stream.Stream(frame.Payload); err != nil {
		run.cancel()
		c.run = nil
		c.mutex.Unlock()
		c.logger.Error("Failed to stream audio payload",
			zap.String("commandID", run.commandID), zap.Error(err))
		c.commandError(run.commandID, entities.ErrCodeTranscriptionFailed,
			"Could not process the audio", true)
		return
	}
	c.mutex.Unlock()
}

// handleAudioEnd cross-checks the announced frame count against what
// actually arrived.
func (c *Client) handleAudioEnd(msg *protocol.AudioEndMessage) {
	c.mutex.Lock()
	run := c.run
	var received uint64
	if run != nil {
		received = run.nextSeq
	}
	c.mutex.Unlock()

	if run == nil || run.commandID != msg.CommandID {
		return
	}
	if received != msg.FrameCount {
		c.logger.Warn("Frame count mismatch",
			zap.String("commandID", msg.CommandID),
			zap.Uint64("announced", msg.FrameCount),
			zap.Uint64("received", received))
		c.abortRun()
		c.commandError(msg.CommandID, entities.ErrCodeStreamIncomplete,
			"Audio arrived incomplete, please try again", true)
	}
}

// handleConfirmation forwards the user's answer to the waiting pipeline.
func (c *Client) handleConfirmation(msg *protocol.ConfirmationResponseMessage) {
	c.mutex.Lock()
	run := c.run
	c.mutex.Unlock()

	if run == nil || run.commandID != msg.CommandID {
		c.logger.Warn("Confirmation for an unknown command",
			zap.String("commandID", msg.CommandID))
		return
	}
	select {
	case run.confirm <- msg.Confirmed:
	default:
	}
}

// finish runs the processing pipeline once the final frame arrived.
func (c *Client) finish(run *commandRun) {
	c.mutex.Lock()
	history := append([]string(nil), c.history...)
	c.mutex.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	transcript, completed := c.hub.pipeline.Run(ctx, run.commandID, run.stream, history, run.confirm, c)

	c.mutex.Lock()
	if completed && transcript != "" {
		c.history = append(c.history, transcript)
		if len(c.history) > historyDepth {
			c.history = c.history[len(c.history)-historyDepth:]
		}
	}
	if c.run == run {
		c.run = nil
	}
	c.mutex.Unlock()
	run.cancel()
}

// abortRun cancels any in-flight command, for disconnects and stream
// failures.
func (c *Client) abortRun() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.run != nil {
		c.run.cancel()
		c.run = nil
	}
}

func (c *Client) commandError(commandID string, code entities.ErrorCode, message string, retryable bool) {
	_ = c.Send(&protocol.CommandErrorMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeCommandError),
		CommandID:   commandID,
		Code:        string(code),
		Message:     message,
		Retryable:   retryable,
	})
}
