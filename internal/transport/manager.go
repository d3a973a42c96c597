package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/internal/pairing"
	"github.com/voicedesk/voicedesk/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Outbound queue depth. Encoded audio frames are small (<=2 KB), so a
	// heartbeat never waits long behind one.
	sendQueueSize = 256
)

// ErrAuthFailed marks a terminal authentication failure: bad certificate or
// expired token. No automatic reconnection; the caller must re-pair.
var ErrAuthFailed = errors.New("authentication failed")

// ErrNotAuthenticated is returned for sends outside the authenticated state.
var ErrNotAuthenticated = errors.New("connection not authenticated")

// Config holds transport settings.
type Config struct {
	// HeartbeatInterval is the ping cadence.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// HeartbeatMisses is how many consecutive unanswered pings trip the
	// connection into error.
	HeartbeatMisses int `yaml:"heartbeat_misses"`
	// InitialBackoff and MaxBackoff bound the reconnect schedule.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	// HandshakeTimeout bounds dial plus authentication.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// DefaultConfig returns the standard transport settings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Second,
		HeartbeatMisses:   3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Credentials is everything the manager needs to authenticate: the bearer
// token and the mutual-TLS material from pairing.
type Credentials struct {
	Token           string
	TokenExpiresAt  time.Time
	DeviceLabel     string
	ClientIdentity  *pairing.Identity
	HostFingerprint string
}

// Handler is invoked for each decoded control message of a registered type.
type Handler func(msg interface{})

type outbound struct {
	messageType int
	payload     []byte
}

// Manager owns the authenticated persistent connection to one host. The
// Connection value is owned exclusively by the manager and replaced
// wholesale on every reconnect; other components observe it through State
// and StateChanges only.
type Manager struct {
	cfg    Config
	creds  Credentials
	url    string
	logger *zap.Logger

	mu       sync.RWMutex
	conn     *entities.Connection
	ws       *websocket.Conn
	send     chan outbound
	handlers map[protocol.MessageType]Handler

	pongCh  chan struct{}
	stateCh chan entities.Connection
}

// NewManager creates a transport manager for the given host URL
// (wss://host:port/ws).
func NewManager(cfg Config, url string, creds Credentials, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		creds:    creds,
		url:      url,
		logger:   logger,
		conn:     &entities.Connection{State: entities.ConnectionStateDisconnected},
		handlers: make(map[protocol.MessageType]Handler),
		stateCh:  make(chan entities.Connection, 16),
	}
}

// Handle registers a handler for one message type. Must be called before
// Run. Unknown incoming types are logged and ignored.
func (m *Manager) Handle(t protocol.MessageType, h Handler) {
	m.handlers[t] = h
}

// State returns a copy of the current connection status.
func (m *Manager) State() entities.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.conn
}

// StateChanges delivers a status copy on every state transition.
func (m *Manager) StateChanges() <-chan entities.Connection {
	return m.stateCh
}

// Run connects and keeps the connection alive until the context is
// cancelled, reconnecting with capped exponential backoff on any unexpected
// disconnect. Each attempt re-runs the full handshake; there is no
// partial-state resume. Returns ErrAuthFailed without retrying further when
// authentication is rejected.
func (m *Manager) Run(ctx context.Context) error {
	policy := backoff.WithContext(newReconnectBackoff(m.cfg.InitialBackoff, m.cfg.MaxBackoff), ctx)

	firstAttempt := true
	operation := func() error {
		if !firstAttempt {
			m.setState(entities.ConnectionStateReconnecting)
		}
		firstAttempt = false

		err := m.runOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.Is(err, ErrAuthFailed):
			m.setState(entities.ConnectionStateError)
			return backoff.Permanent(err)
		default:
			m.setState(entities.ConnectionStateError)
			m.logger.Warn("Connection lost, will reconnect", zap.Error(err))
			return err
		}
	}

	err := backoff.Retry(operation, policy)
	m.setState(entities.ConnectionStateDisconnected)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// runOnce performs one full connection lifetime: dial, authenticate, pump
// until failure.
func (m *Manager) runOnce(ctx context.Context) error {
	m.replaceConnection(&entities.Connection{
		HostAddress:            m.url,
		State:                  entities.ConnectionStateConnecting,
		AuthToken:              m.creds.Token,
		AuthTokenExpiresAt:     m.creds.TokenExpiresAt,
		CertificateFingerprint: m.creds.HostFingerprint,
	})

	if m.conn.TokenExpired(time.Now()) {
		return backoff.Permanent(fmt.Errorf("%w: bearer token expired, re-pair the device", ErrAuthFailed))
	}

	ws, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	m.attach(ws)
	m.setState(entities.ConnectionStateConnected)

	if err := m.authenticate(ctx, ws); err != nil {
		ws.Close()
		m.detach()
		return err
	}
	m.setState(entities.ConnectionStateAuthenticated)

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- m.readPump(pumpCtx, ws) }()
	go func() { errCh <- m.writePump(pumpCtx, ws) }()
	go func() { errCh <- m.heartbeatLoop(pumpCtx) }()

	err = <-errCh
	cancel()
	ws.Close()
	m.detach()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	tlsConfig := &tls.Config{
		// Verification is replaced by fingerprint pinning against the
		// certificate exchanged during pairing.
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: m.verifyPinned,
	}
	if m.creds.ClientIdentity != nil {
		tlsConfig.Certificates = []tls.Certificate{m.creds.ClientIdentity.Certificate}
	}

	dialer := websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, m.url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return ws, err
}

// verifyPinned accepts exactly the certificate whose SHA-256 fingerprint
// was pinned at pairing time.
func (m *Manager) verifyPinned(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if m.creds.HostFingerprint == "" {
		return fmt.Errorf("%w: no pinned host fingerprint", ErrAuthFailed)
	}
	for _, raw := range rawCerts {
		if pairing.Fingerprint(raw) == m.creds.HostFingerprint {
			return nil
		}
	}
	return fmt.Errorf("%w: host certificate does not match pinned fingerprint", ErrAuthFailed)
}

// authenticate sends the bearer token and waits for the host's verdict.
func (m *Manager) authenticate(ctx context.Context, ws *websocket.Conn) error {
	authMsg := protocol.AuthMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeAuth),
		Token:       m.creds.Token,
		DeviceLabel: m.creds.DeviceLabel,
	}
	payload, err := protocol.Encode(&authMsg)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send auth message: %w", err)
	}

	deadline := time.Now().Add(m.cfg.HandshakeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection closed during handshake: %w", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			m.logger.Warn("Dropping undecodable handshake message", zap.Error(err))
			continue
		}
		switch reply := msg.(type) {
		case *protocol.AuthSuccessMessage:
			m.mu.Lock()
			m.conn.SessionID = reply.SessionID
			m.mu.Unlock()
			return nil
		case *protocol.AuthFailedMessage:
			return fmt.Errorf("%w: %s", ErrAuthFailed, reply.Reason)
		case *protocol.QueuePositionMessage:
			// Queued for the host's single slot; the wait can far exceed
			// the handshake timeout and is bounded host-side by eviction.
			ws.SetReadDeadline(time.Time{})
			m.dispatch(msg)
		default:
			m.dispatch(msg)
		}
	}
}

// Send queues a control message. Only legal in the authenticated state.
func (m *Manager) Send(msg interface{}) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return m.enqueue(outbound{messageType: websocket.TextMessage, payload: payload})
}

// SendFrame queues one binary audio frame.
func (m *Manager) SendFrame(frame entities.AudioFrame) error {
	return m.enqueue(outbound{messageType: websocket.BinaryMessage, payload: protocol.MarshalFrame(frame)})
}

func (m *Manager) enqueue(out outbound) error {
	m.mu.RLock()
	send := m.send
	state := m.conn.State
	m.mu.RUnlock()

	if send == nil || state != entities.ConnectionStateAuthenticated {
		return ErrNotAuthenticated
	}
	select {
	case send <- out:
		return nil
	default:
		return fmt.Errorf("send queue full")
	}
}

func (m *Manager) readPump(ctx context.Context, ws *websocket.Conn) error {
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read failed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			var unknown *protocol.ErrUnknownType
			if errors.As(err, &unknown) {
				m.logger.Debug("Ignoring unknown message type", zap.String("type", string(unknown.Type)))
			} else {
				m.logger.Warn("Dropping undecodable message", zap.Error(err))
			}
			continue
		}

		if _, ok := msg.(*protocol.PongMessage); ok {
			m.notePong()
			continue
		}
		m.dispatch(msg)
	}
}

func (m *Manager) writePump(ctx context.Context, ws *websocket.Conn) error {
	m.mu.RLock()
	send := m.send
	m.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(out.messageType, out.payload); err != nil {
				return fmt.Errorf("write failed: %w", err)
			}
		}
	}
}

// heartbeatLoop pings at a fixed interval. After HeartbeatMisses unanswered
// pings the connection is declared dead, which trips the reconnect path.
func (m *Manager) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	// The field is replaced by attach/detach across reconnects; this loop
	// belongs to exactly one connection, so it snapshots the channel once.
	m.mu.RLock()
	pongCh := m.pongCh
	m.mu.RUnlock()

	missed := 0
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pongCh:
			missed = 0
		case <-ticker.C:
			if missed >= m.cfg.HeartbeatMisses {
				return fmt.Errorf("heartbeat: %d consecutive pings unanswered", missed)
			}
			seq++
			ping := protocol.PingMessage{BaseMessage: protocol.NewBase(protocol.MessageTypePing), Seq: seq}
			if err := m.Send(&ping); err != nil {
				return fmt.Errorf("heartbeat send failed: %w", err)
			}
			missed++
		}
	}
}

func (m *Manager) notePong() {
	m.mu.Lock()
	m.conn.LastHeartbeatAt = time.Now()
	pongCh := m.pongCh
	m.mu.Unlock()

	if pongCh != nil {
		select {
		case pongCh <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) dispatch(msg interface{}) {
	t := messageTypeOf(msg)
	handler, ok := m.handlers[t]
	if !ok {
		m.logger.Debug("No handler registered for message type", zap.String("type", string(t)))
		return
	}
	handler(msg)
}

func messageTypeOf(msg interface{}) protocol.MessageType {
	switch msg.(type) {
	case *protocol.AuthSuccessMessage:
		return protocol.MessageTypeAuthSuccess
	case *protocol.AuthFailedMessage:
		return protocol.MessageTypeAuthFailed
	case *protocol.ProcessingStatusMessage:
		return protocol.MessageTypeProcessingStatus
	case *protocol.TranscriptionCompleteMessage:
		return protocol.MessageTypeTranscriptionComplete
	case *protocol.ActionInterpretationMessage:
		return protocol.MessageTypeActionInterpretation
	case *protocol.ConfirmationRequiredMessage:
		return protocol.MessageTypeConfirmationRequired
	case *protocol.CommandCompleteMessage:
		return protocol.MessageTypeCommandComplete
	case *protocol.CommandErrorMessage:
		return protocol.MessageTypeCommandError
	case *protocol.QueuePositionMessage:
		return protocol.MessageTypeQueuePosition
	case *protocol.SlotAvailableMessage:
		return protocol.MessageTypeSlotAvailable
	case *protocol.PingMessage:
		return protocol.MessageTypePing
	case *protocol.PongMessage:
		return protocol.MessageTypePong
	default:
		return ""
	}
}

func (m *Manager) attach(ws *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ws = ws
	m.send = make(chan outbound, sendQueueSize)
	m.pongCh = make(chan struct{}, 1)
}

func (m *Manager) detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ws = nil
	m.send = nil
	m.pongCh = nil
}

// replaceConnection swaps in a fresh Connection; no partial mutation
// survives across reconnects.
func (m *Manager) replaceConnection(conn *entities.Connection) {
	m.mu.Lock()
	conn.SessionID = uuid.NewString()
	m.conn = conn
	snapshot := *conn
	m.mu.Unlock()
	m.publish(snapshot)
}

func (m *Manager) setState(state entities.ConnectionState) {
	m.mu.Lock()
	if m.conn.State == state {
		m.mu.Unlock()
		return
	}
	m.conn.State = state
	snapshot := *m.conn
	m.mu.Unlock()
	m.publish(snapshot)
}

func (m *Manager) publish(snapshot entities.Connection) {
	select {
	case m.stateCh <- snapshot:
	default:
		// Observer fell behind; state is still available via State().
	}
}
