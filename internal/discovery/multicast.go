package discovery

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
)

// multicastQuery is the SSDP-style discovery request broadcast to the
// well-known group. Hosts running a Responder reply unicast with their
// announcement.
type multicastQuery struct {
	Type string `json:"type"`
}

const multicastQueryType = "voicedesk_discover"

// queryMulticast broadcasts a discovery request and collects replies until
// the wait elapses. Malformed replies are dropped silently.
func (s *Service) queryMulticast(ctx context.Context, found chan<- entities.DiscoveredHost) {
	group, err := net.ResolveUDPAddr("udp4", s.cfg.MulticastAddr)
	if err != nil {
		s.logger.Debug("Invalid multicast address", zap.Error(err))
		return
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		s.logger.Debug("Failed to open multicast query socket", zap.Error(err))
		return
	}
	defer conn.Close()

	query, _ := json.Marshal(multicastQuery{Type: multicastQueryType})
	if _, err := conn.WriteToUDP(query, group); err != nil {
		s.logger.Debug("Failed to send multicast query", zap.Error(err))
		return
	}

	deadline := time.Now().Add(s.cfg.MulticastWait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var ann Announcement
		if err := json.Unmarshal(buf[:n], &ann); err != nil {
			continue
		}
		ip := from.IP.String()
		if ann.IPAddress != "" {
			ip = ann.IPAddress
		}
		select {
		case found <- hostFromAnnouncement(ann, ip):
		case <-ctx.Done():
			return
		}
	}
}

// Responder answers multicast discovery queries on the agent side.
type Responder struct {
	cfg    Config
	ann    Announcement
	logger *zap.Logger

	conn *net.UDPConn
}

// NewResponder creates a multicast responder advertising the given
// announcement.
func NewResponder(cfg Config, ann Announcement, logger *zap.Logger) *Responder {
	return &Responder{cfg: cfg, ann: ann, logger: logger}
}

// Start joins the multicast group and replies to discovery queries until
// the context is cancelled.
func (r *Responder) Start(ctx context.Context) error {
	group, err := net.ResolveUDPAddr("udp4", r.cfg.MulticastAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, group)
	if err != nil {
		return err
	}
	r.conn = conn

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go r.serve(ctx, conn)
	return nil
}

func (r *Responder) serve(ctx context.Context, conn *net.UDPConn) {
	reply, _ := json.Marshal(r.ann)
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Debug("Multicast read failed", zap.Error(err))
			return
		}
		var query multicastQuery
		if err := json.Unmarshal(buf[:n], &query); err != nil || query.Type != multicastQueryType {
			continue
		}
		if _, err := conn.WriteToUDP(reply, from); err != nil {
			r.logger.Debug("Failed to answer discovery query", zap.Error(err))
		}
	}
}
