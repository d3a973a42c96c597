package discovery

import (
	"testing"
	"time"

	"github.com/voicedesk/voicedesk/domain/entities"
)

func TestMergeDeduplicatesByIP(t *testing.T) {
	found := make(chan entities.DiscoveredHost, 4)
	now := time.Now()

	// Two strategies report the same host; the probe entry has no MAC, the
	// multicast entry does.
	found <- entities.DiscoveredHost{Name: "study-pc", IPAddress: "192.168.1.20", Reachable: true, LastSeenAt: now}
	found <- entities.DiscoveredHost{Name: "study-pc", IPAddress: "192.168.1.20", MACAddress: "AA:BB:CC:DD:EE:FF", Reachable: true, LastSeenAt: now}
	found <- entities.DiscoveredHost{Name: "media-pc", IPAddress: "192.168.1.30", Reachable: true, LastSeenAt: now}
	close(found)

	hosts := mergeByIP(found)
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts after dedupe, got %d", len(hosts))
	}

	if hosts[0].IPAddress != "192.168.1.20" {
		t.Errorf("expected first-seen ordering, got %s first", hosts[0].IPAddress)
	}
	if hosts[0].MACAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("merge should keep the MAC from the richer entry, got %q", hosts[0].MACAddress)
	}
}

func TestMergeEmptyResultIsNormal(t *testing.T) {
	found := make(chan entities.DiscoveredHost)
	close(found)

	if hosts := mergeByIP(found); len(hosts) != 0 {
		t.Errorf("expected empty result, got %d hosts", len(hosts))
	}
}
