package discovery

import (
	"testing"
)

func TestMagicPacketLayout(t *testing.T) {
	packet, err := MagicPacket("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("MagicPacket() error = %v", err)
	}

	if len(packet) != 102 {
		t.Fatalf("expected 102 bytes, got %d", len(packet))
	}

	for i := 0; i < 6; i++ {
		if packet[i] != 0xFF {
			t.Fatalf("byte %d: expected 0xFF, got %#x", i, packet[i])
		}
	}

	mac := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	for rep := 0; rep < 16; rep++ {
		for i, b := range mac {
			got := packet[6+rep*6+i]
			if got != b {
				t.Fatalf("repetition %d byte %d: expected %#x, got %#x", rep, i, b, got)
			}
		}
	}
}

func TestMagicPacketRejectsInvalidMAC(t *testing.T) {
	tests := []string{
		"",
		"not-a-mac",
		"AA:BB:CC:DD:EE",
		"AA:BB:CC:DD:EE:FF:00:11", // EUI-64, not wakeable
	}
	for _, mac := range tests {
		if _, err := MagicPacket(mac); err == nil {
			t.Errorf("MagicPacket(%q) should fail", mac)
		}
	}
}
