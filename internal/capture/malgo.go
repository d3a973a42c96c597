package capture

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// MalgoDevice captures from the default system microphone via miniaudio.
// Mono 16 kHz s16le, matching the encoder's input format.
type MalgoDevice struct {
	logger *zap.Logger

	allocated *malgo.AllocatedContext
	device    *malgo.Device
}

// NewMalgoDevice creates the microphone backend.
func NewMalgoDevice(logger *zap.Logger) *MalgoDevice {
	return &MalgoDevice{logger: logger}
}

// Start opens the default capture device. Device-busy or permission errors
// surface here and are terminal for the attempt.
func (m *MalgoDevice) Start(ctx context.Context) (<-chan []int16, error) {
	allocated, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.Capture.Format = malgo.FormatS16
	config.Capture.Channels = 1
	config.SampleRate = 16000

	out := make(chan []int16, 64)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			samples := make([]int16, frameCount)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(input[i*2:]))
			}
			select {
			case out <- samples:
			default:
				// Transient overrun, skip the chunk.
				m.logger.Warn("Dropped microphone chunk, channel full")
			}
		},
	}

	device, err := malgo.InitDevice(allocated.Context, config, callbacks)
	if err != nil {
		allocated.Uninit()
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		allocated.Uninit()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	m.allocated = allocated
	m.device = device

	go func() {
		<-ctx.Done()
		m.teardown()
		close(out)
	}()

	return out, nil
}

// Close releases the device outside of a capture run.
func (m *MalgoDevice) Close() error {
	m.teardown()
	return nil
}

func (m *MalgoDevice) teardown() {
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.allocated != nil {
		_ = m.allocated.Uninit()
		m.allocated = nil
	}
}
