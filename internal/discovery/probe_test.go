package discovery

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.uber.org/zap"
)

// startTLSHealthEndpoint mimics the agent's health surface: TLS only, no
// plain-HTTP listener, announcement JSON on /healthz.
func startTLSHealthEndpoint(t *testing.T, ann Announcement) (ip string, port int, cleanup func()) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ann)
	})
	server := httptest.NewTLSServer(mux)

	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split listener addr: %v", err)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse listener port: %v", err)
	}
	return host, port, server.Close
}

func TestPingHostReachesTLSOnlyAgent(t *testing.T) {
	ip, port, cleanup := startTLSHealthEndpoint(t, Announcement{ID: "host-1", Name: "study-pc"})
	defer cleanup()

	cfg := DefaultConfig()
	cfg.ProbePort = port
	s := NewService(cfg, zap.NewNop())

	if !s.PingHost(context.Background(), ip) {
		t.Fatal("PingHost should reach the agent's TLS health endpoint")
	}
}

func TestProbeOneReadsAnnouncementOverTLS(t *testing.T) {
	ann := Announcement{ID: "host-2", Name: "media-pc", MACAddress: "AA:BB:CC:DD:EE:FF"}
	ip, port, cleanup := startTLSHealthEndpoint(t, ann)
	defer cleanup()

	cfg := DefaultConfig()
	cfg.ProbePort = port
	s := NewService(cfg, zap.NewNop())

	host, ok := s.probeOne(context.Background(), s.probeClient(), ip)
	if !ok {
		t.Fatal("probe should succeed against the TLS listener")
	}
	if host.Name != "media-pc" || host.MACAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("announcement not carried through: %+v", host)
	}
	if !host.Reachable {
		t.Error("probed host should be marked reachable")
	}
}

func TestPingHostFailsWhenNothingListens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbePort = 1 // nothing listens there
	s := NewService(cfg, zap.NewNop())

	if s.PingHost(context.Background(), "127.0.0.1") {
		t.Fatal("PingHost should report an unreachable host as down")
	}
}
