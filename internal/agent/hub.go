package agent

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
	"github.com/voicedesk/voicedesk/domain/repositories"
	"github.com/voicedesk/voicedesk/internal/admission"
	"github.com/voicedesk/voicedesk/internal/pairing"
	"github.com/voicedesk/voicedesk/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the client to send its auth message after connect.
	authWait = 10 * time.Second

	// Idle read limit; client pings every 10s, so a silent minute means the
	// peer is gone.
	readWait = 60 * time.Second

	// Maximum message size allowed from peer. Opus frames stay under 2 KB;
	// this leaves generous headroom for control messages.
	maxMessageSize = 64 * 1024

	// historyDepth is how many successful transcripts are kept per device
	// as interpreter context.
	historyDepth = 5
)

// queuePingPeriod is how often a queued connection is pinged. A waiting
// device sends nothing, so a failed control ping is the only prompt sign it
// hung up; without it the entry would sit in the queue until eviction.
var queuePingPeriod = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WriteData is one outbound websocket write.
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage.
	Type    int
	Payload []byte
}

// Hub maintains the set of connected devices and owns the shared services
// they use.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	pairing     *pairing.Service
	admission   *admission.Controller
	transcriber repositories.Transcriber
	pipeline    *Pipeline

	logger *zap.Logger
}

// NewHub creates the connection hub.
func NewHub(
	pairingService *pairing.Service,
	admissionController *admission.Controller,
	transcriber repositories.Transcriber,
	pipeline *Pipeline,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		pairing:     pairingService,
		admission:   admissionController,
		transcriber: transcriber,
		pipeline:    pipeline,
		logger:      logger,
	}
}

// Run starts the hub's registration loop. It returns when the context is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.sessionID] = client
			h.mu.Unlock()
			h.logger.Info("Device connected",
				zap.String("sessionID", client.sessionID),
				zap.String("deviceFingerprint", client.deviceFingerprint))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.sessionID]; ok {
				delete(h.clients, client.sessionID)
				close(client.send)
			}
			h.mu.Unlock()
			h.admission.Release(client.admissionID)
			h.logger.Info("Device disconnected", zap.String("sessionID", client.sessionID))
		}
	}
}

// commandRun is the per-command stream state on the host side.
type commandRun struct {
	commandID string
	stream    repositories.TranscriberStream
	confirm   chan bool
	cancel    context.CancelFunc
	nextSeq   uint64
	running   bool
}

// Client is one authenticated device connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan WriteData

	sessionID         string
	deviceFingerprint string
	deviceLabel       string
	admissionID       string

	mutex   sync.Mutex
	run     *commandRun
	history []string

	logger *zap.Logger
}

// HandleConnection upgrades the request and walks the connection through
// authentication and admission before registering it with the hub. The
// first message must be auth; a bad token gets auth_failed and the socket
// is closed.
func (h *Hub) HandleConnection(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan WriteData, 256),
		logger: h.logger,
	}

	if err := h.authenticate(client); err != nil {
		conn.Close()
		return nil
	}

	if err := h.admit(client); err != nil {
		conn.Close()
		return nil
	}

	client.sessionID = uuid.NewString()
	client.writeNow(&protocol.AuthSuccessMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeAuthSuccess),
		SessionID:   client.sessionID,
	})

	h.register <- client

	go client.writePump()
	go client.readPump()
	return nil
}

// authenticate reads the auth message and validates its bearer token.
func (h *Hub) authenticate(client *Client) error {
	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(authWait))

	_, data, err := client.conn.ReadMessage()
	if err != nil {
		h.logger.Warn("Connection closed before auth", zap.Error(err))
		return err
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		client.writeNow(authFailed("malformed auth message"))
		return err
	}
	auth, ok := msg.(*protocol.AuthMessage)
	if !ok {
		client.writeNow(authFailed("auth must be the first message"))
		return errAuthRequired
	}

	claims, err := h.pairing.ValidateToken(auth.Token)
	if err != nil {
		h.logger.Warn("Token rejected", zap.Error(err))
		client.writeNow(authFailed("invalid or expired token, re-pair the device"))
		return err
	}

	// Mutual TLS: the certificate presented during the handshake must be
	// the one whose fingerprint was bound to the token at pairing time. A
	// stolen token alone is not enough.
	if tlsConn, ok := client.conn.NetConn().(*tls.Conn); ok {
		certs := tlsConn.ConnectionState().PeerCertificates
		if len(certs) == 0 {
			client.writeNow(authFailed("client certificate required"))
			return errAuthRequired
		}
		fp := pairing.Fingerprint(certs[0].Raw)
		if fp != claims.DeviceFingerprint {
			h.logger.Warn("Client certificate does not match paired device",
				zap.String("presented", fp),
				zap.String("paired", claims.DeviceFingerprint))
			client.writeNow(authFailed("certificate does not match the paired device"))
			return errAuthRequired
		}
	}

	client.deviceFingerprint = claims.DeviceFingerprint
	client.deviceLabel = auth.DeviceLabel
	return nil
}

// admit acquires the single active slot, holding the connection in the
// queue with standing updates until granted or evicted. The wait is bounded
// by the controller's max wait, so the read deadline is lifted meanwhile.
func (h *Hub) admit(client *Client) error {
	adm, err := h.admission.RequestSlot(client.deviceLabel)
	if err != nil {
		var cmdErr *entities.CommandError
		if e, ok := err.(*entities.CommandError); ok {
			cmdErr = e
		} else {
			cmdErr = entities.NewCommandError(entities.ErrCodeSlotBusy, "Host is busy", true)
		}
		client.writeNow(&protocol.CommandErrorMessage{
			BaseMessage: protocol.NewBase(protocol.MessageTypeCommandError),
			Code:        string(cmdErr.Code),
			Message:     cmdErr.Message,
			Retryable:   cmdErr.Retryable,
		})
		return err
	}
	client.admissionID = adm.ID
	if adm.Active {
		client.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	}

	client.conn.SetReadDeadline(time.Time{})
	client.writeNow(&protocol.QueuePositionMessage{
		BaseMessage:     protocol.NewBase(protocol.MessageTypeQueuePosition),
		Position:        adm.Position,
		EstimatedWaitMs: h.admission.Status().EstimatedWait.Milliseconds(),
	})

	ticker := time.NewTicker(queuePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-adm.Events:
			if !ok {
				return errQueueTimeout
			}
			switch event.Type {
			case admission.EventGranted:
				client.writeNow(&protocol.SlotAvailableMessage{
					BaseMessage: protocol.NewBase(protocol.MessageTypeSlotAvailable),
				})
				client.conn.SetReadDeadline(time.Now().Add(readWait))
				return nil
			case admission.EventPosition:
				client.writeNow(&protocol.QueuePositionMessage{
					BaseMessage:     protocol.NewBase(protocol.MessageTypeQueuePosition),
					Position:        event.Position,
					EstimatedWaitMs: event.EstimatedWait.Milliseconds(),
				})
			case admission.EventEvicted:
				client.writeNow(&protocol.CommandErrorMessage{
					BaseMessage: protocol.NewBase(protocol.MessageTypeCommandError),
					Code:        string(entities.ErrCodeQueueTimeout),
					Message:     "Waited too long for a slot, try again later",
					Retryable:   true,
				})
				return errQueueTimeout
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := client.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.logger.Info("Queued device hung up, freeing its queue entry",
					zap.String("device", client.deviceLabel))
				h.admission.Release(client.admissionID)
				return err
			}
		}
	}
}

func authFailed(reason string) *protocol.AuthFailedMessage {
	return &protocol.AuthFailedMessage{
		BaseMessage: protocol.NewBase(protocol.MessageTypeAuthFailed),
		Reason:      reason,
	}
}
