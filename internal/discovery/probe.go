package discovery

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
)

// probeClient builds the HTTP client for health probes. The agent serves
// TLS only, and discovery runs before any fingerprint is pinned, so the
// certificate is not verified here; pairing and the pinned websocket
// handshake are what authenticate the host.
func (s *Service) probeClient() *http.Client {
	return &http.Client{
		Timeout: s.cfg.ProbeTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// probeSubnet enumerates the local /24 and probes every address's health
// endpoint with bounded parallelism. Failed probes are dropped silently;
// absence of a host is not an error.
func (s *Service) probeSubnet(ctx context.Context, found chan<- entities.DiscoveredHost) {
	base, self, err := localSubnet()
	if err != nil {
		s.logger.Debug("No usable local subnet for probing", zap.Error(err))
		return
	}

	client := s.probeClient()
	sem := make(chan struct{}, s.cfg.ProbeParallelism)

	for octet := 1; octet < 255; octet++ {
		ip := fmt.Sprintf("%s.%d", base, octet)
		if ip == self {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func(ip string) {
			defer func() { <-sem }()
			if host, ok := s.probeOne(ctx, client, ip); ok {
				select {
				case found <- host:
				case <-ctx.Done():
				}
			}
		}(ip)
	}

	// Drain the semaphore so no probe goroutine outlives the run.
	for i := 0; i < cap(sem); i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) probeOne(ctx context.Context, client *http.Client, ip string) (entities.DiscoveredHost, bool) {
	url := fmt.Sprintf("https://%s:%d/healthz", ip, s.cfg.ProbePort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return entities.DiscoveredHost{}, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return entities.DiscoveredHost{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return entities.DiscoveredHost{}, false
	}
	var ann Announcement
	if err := json.NewDecoder(resp.Body).Decode(&ann); err != nil {
		return entities.DiscoveredHost{}, false
	}
	return hostFromAnnouncement(ann, ip), true
}

// PingHost checks whether a single host answers its health endpoint. Used
// after a wake packet, since magic packet delivery is unconfirmed.
func (s *Service) PingHost(ctx context.Context, ip string) bool {
	_, ok := s.probeOne(ctx, s.probeClient(), ip)
	return ok
}

// localSubnet returns the /24 prefix (e.g. "192.168.1") and own address of
// the first non-loopback IPv4 interface.
func localSubnet() (prefix, self string, err error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2]), ip4.String(), nil
	}
	return "", "", fmt.Errorf("no non-loopback IPv4 interface found")
}
