package discovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
)

// Config holds the knobs for a discovery run.
type Config struct {
	// ProbePort is the agent's HTTP port; /healthz doubles as the probe
	// target.
	ProbePort int `yaml:"probe_port"`
	// Budget bounds the whole discovery run.
	Budget time.Duration `yaml:"budget"`
	// ProbeTimeout bounds each individual subnet probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// ProbeParallelism is the number of probes in flight at once.
	ProbeParallelism int `yaml:"probe_parallelism"`
	// MulticastAddr is the SSDP-style query group.
	MulticastAddr string `yaml:"multicast_addr"`
	// MulticastWait is how long to collect multicast replies.
	MulticastWait time.Duration `yaml:"multicast_wait"`
	// ServiceType is the mDNS service to browse.
	ServiceType string `yaml:"service_type"`
}

// DefaultConfig returns the standard discovery settings.
func DefaultConfig() Config {
	return Config{
		ProbePort:        8090,
		Budget:           5 * time.Second,
		ProbeTimeout:     2 * time.Second,
		ProbeParallelism: 20,
		MulticastAddr:    "239.255.77.88:5388",
		MulticastWait:    2 * time.Second,
		ServiceType:      "_voicedesk._tcp",
	}
}

// Announcement is what a host reports about itself, over the health
// endpoint and in multicast replies.
type Announcement struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IPAddress  string `json:"ip_address,omitempty"`
	MACAddress string `json:"mac_address,omitempty"`
}

// Service finds reachable hosts on the local network and can wake sleeping
// ones. Constructed once and injected into dependents.
type Service struct {
	cfg    Config
	logger *zap.Logger
}

// NewService creates the discovery service.
func NewService(cfg Config, logger *zap.Logger) *Service {
	return &Service{cfg: cfg, logger: logger}
}

// Discover runs the subnet probe, multicast query, and mDNS browse
// concurrently under the shared budget and returns the merged result,
// deduplicated by IP. Individual strategy failures are absorbed; an empty
// result after the budget expires is a normal outcome.
func (s *Service) Discover(ctx context.Context) []entities.DiscoveredHost {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()

	found := make(chan entities.DiscoveredHost, 64)

	var wg sync.WaitGroup
	strategies := []func(context.Context, chan<- entities.DiscoveredHost){
		s.probeSubnet,
		s.queryMulticast,
		s.browseMDNS,
	}
	for _, strategy := range strategies {
		wg.Add(1)
		go func(run func(context.Context, chan<- entities.DiscoveredHost)) {
			defer wg.Done()
			run(ctx, found)
		}(strategy)
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	return mergeByIP(found)
}

// mergeByIP deduplicates discovered hosts, preferring entries that carry a
// MAC address so wake stays possible.
func mergeByIP(found <-chan entities.DiscoveredHost) []entities.DiscoveredHost {
	byIP := make(map[string]entities.DiscoveredHost)
	var order []string
	for host := range found {
		existing, seen := byIP[host.IPAddress]
		if !seen {
			byIP[host.IPAddress] = host
			order = append(order, host.IPAddress)
			continue
		}
		if existing.MACAddress == "" && host.MACAddress != "" {
			existing.MACAddress = host.MACAddress
		}
		if existing.Name == "" {
			existing.Name = host.Name
		}
		byIP[host.IPAddress] = existing
	}

	hosts := make([]entities.DiscoveredHost, 0, len(order))
	for _, ip := range order {
		hosts = append(hosts, byIP[ip])
	}
	return hosts
}

func hostFromAnnouncement(a Announcement, ip string) entities.DiscoveredHost {
	return entities.DiscoveredHost{
		ID:         a.ID,
		Name:       a.Name,
		IPAddress:  ip,
		MACAddress: a.MACAddress,
		Reachable:  true,
		LastSeenAt: time.Now(),
	}
}
