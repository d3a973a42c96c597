package discovery

import (
	"bytes"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// WakePort is the standard Wake-on-LAN UDP port.
const WakePort = 9

// magicPacketSize is 6 sync bytes plus the MAC repeated 16 times.
const magicPacketSize = 6 + 6*16

// MagicPacket builds the 102-byte Wake-on-LAN payload for a MAC address:
// 6 bytes of 0xFF followed by the 6-byte MAC repeated 16 times.
func MagicPacket(macAddress string) ([]byte, error) {
	mac, err := net.ParseMAC(macAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid MAC address %q: %w", macAddress, err)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("MAC address %q is not 48-bit", macAddress)
	}

	packet := make([]byte, 0, magicPacketSize)
	packet = append(packet, bytes.Repeat([]byte{0xFF}, 6)...)
	for i := 0; i < 16; i++ {
		packet = append(packet, mac...)
	}
	return packet, nil
}

// Wake broadcasts the magic packet for the given MAC. A nil return only
// means the packet was sent; delivery is inherently unconfirmed, so callers
// must poll host availability separately (see PingHost).
func (s *Service) Wake(macAddress string) error {
	packet, err := MagicPacket(macAddress)
	if err != nil {
		return err
	}

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{
		IP:   net.IPv4bcast,
		Port: WakePort,
	})
	if err != nil {
		return fmt.Errorf("failed to open broadcast socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("failed to send magic packet: %w", err)
	}

	s.logger.Info("Magic packet sent", zap.String("mac", macAddress))
	return nil
}
