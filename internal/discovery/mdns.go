package discovery

import (
	"context"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/voicedesk/voicedesk/domain/entities"
)

// browseMDNS resolves service records for the well-known type on the local
// domain. Entries without an IPv4 address are dropped.
func (s *Service) browseMDNS(ctx context.Context, found chan<- entities.DiscoveredHost) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		s.logger.Debug("Failed to create mDNS resolver", zap.Error(err))
		return
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go func() {
		for entry := range entries {
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			ann := Announcement{Name: entry.Instance}
			for _, txt := range entry.Text {
				if len(txt) > 4 && txt[:4] == "mac=" {
					ann.MACAddress = txt[4:]
				}
				if len(txt) > 3 && txt[:3] == "id=" {
					ann.ID = txt[3:]
				}
			}
			select {
			case found <- hostFromAnnouncement(ann, entry.AddrIPv4[0].String()):
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, s.cfg.ServiceType, "local.", entries); err != nil {
		s.logger.Debug("mDNS browse failed", zap.Error(err))
		return
	}
	<-ctx.Done()
}

// RegisterMDNS advertises the agent's service record until the context is
// cancelled.
func RegisterMDNS(ctx context.Context, cfg Config, ann Announcement, logger *zap.Logger) error {
	txt := []string{"id=" + ann.ID}
	if ann.MACAddress != "" {
		txt = append(txt, "mac="+ann.MACAddress)
	}
	server, err := zeroconf.Register(ann.Name, cfg.ServiceType, "local.", cfg.ProbePort, txt, nil)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	logger.Info("mDNS service registered",
		zap.String("service", cfg.ServiceType),
		zap.String("name", ann.Name))
	return nil
}
