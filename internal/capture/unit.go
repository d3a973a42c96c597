package capture

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// WindowSize is the number of samples per capture window: 20 ms at 16 kHz,
// which keeps end-to-end buffering far below the 200 ms budget.
const WindowSize = 320

// Window is one classified chunk of captured audio.
type Window struct {
	Samples  []int16
	Level    float64
	IsSpeech bool
}

// Unit pulls PCM from the device, re-windows it, and classifies each window
// with the detector. One Unit is constructed per process and started once
// per command.
type Unit struct {
	device Device
	det    *Detector
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewUnit creates a capture unit over the given device.
func NewUnit(device Device, det *Detector, logger *zap.Logger) *Unit {
	return &Unit{device: device, det: det, logger: logger}
}

// Start begins capture and returns the window stream. The stream is closed
// when Stop is called, the context is cancelled, or the device stops.
func (u *Unit) Start(ctx context.Context) (<-chan Window, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return nil, fmt.Errorf("capture already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	samples, err := u.device.Start(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	u.cancel = cancel
	u.running = true
	u.det.Reset()

	out := make(chan Window, 32)
	go u.windowLoop(ctx, samples, out)
	return out, nil
}

// Stop cancels capture. Safe to call multiple times.
func (u *Unit) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	u.running = false
}

func (u *Unit) windowLoop(ctx context.Context, samples <-chan []int16, out chan<- Window) {
	defer close(out)

	pending := make([]int16, 0, WindowSize*2)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-samples:
			if !ok {
				return
			}
			pending = append(pending, chunk...)
			for len(pending) >= WindowSize {
				window := make([]int16, WindowSize)
				copy(window, pending[:WindowSize])
				pending = pending[WindowSize:]

				level, isSpeech := u.det.Process(window)
				select {
				case out <- Window{Samples: window, Level: level, IsSpeech: isSpeech}:
				case <-ctx.Done():
					return
				default:
					// Consumer fell behind; dropping one window does not
					// stop capture.
					u.logger.Warn("Dropped capture window, consumer too slow")
				}
			}
		}
	}
}
