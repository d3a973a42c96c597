package capture

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func loudWindow() []int16 {
	samples := make([]int16, WindowSize)
	for i := range samples {
		samples[i] = 16000 // normalized RMS ~0.49, far above threshold
	}
	return samples
}

func TestDetectorSilence(t *testing.T) {
	det := NewDetector(DefaultThreshold, DefaultHangoverWindows)

	level, isSpeech := det.Process(make([]int16, WindowSize))
	if isSpeech {
		t.Error("all-zero window must not be speech")
	}
	if level != 0 {
		t.Errorf("expected level 0 for silence, got %f", level)
	}
}

func TestDetectorSpeech(t *testing.T) {
	det := NewDetector(DefaultThreshold, DefaultHangoverWindows)

	level, isSpeech := det.Process(loudWindow())
	if !isSpeech {
		t.Error("window above threshold must be speech")
	}
	if level <= DefaultThreshold {
		t.Errorf("expected level above %f, got %f", DefaultThreshold, level)
	}
}

func TestDetectorHysteresis(t *testing.T) {
	const hangover = 10
	det := NewDetector(DefaultThreshold, hangover)

	if _, isSpeech := det.Process(loudWindow()); !isSpeech {
		t.Fatal("expected speech assertion")
	}

	silent := make([]int16, WindowSize)
	for i := 0; i < hangover-1; i++ {
		if _, isSpeech := det.Process(silent); !isSpeech {
			t.Fatalf("window %d of %d: hysteresis must keep speech asserted", i+1, hangover-1)
		}
	}

	if _, isSpeech := det.Process(silent); isSpeech {
		t.Errorf("window %d must flip to silence", hangover)
	}
}

func TestDetectorSpeechResetsHangover(t *testing.T) {
	det := NewDetector(DefaultThreshold, 3)
	silent := make([]int16, WindowSize)

	det.Process(loudWindow())
	det.Process(silent)
	det.Process(silent)
	// A loud window mid-dip restarts the silence count.
	det.Process(loudWindow())
	det.Process(silent)
	det.Process(silent)
	if _, isSpeech := det.Process(silent); isSpeech {
		t.Error("third consecutive silent window should end speech")
	}
}

// fakeDevice feeds predetermined chunks for unit tests.
type fakeDevice struct {
	chunks [][]int16
}

func (f *fakeDevice) Start(ctx context.Context) (<-chan []int16, error) {
	out := make(chan []int16, len(f.chunks))
	go func() {
		defer close(out)
		for _, c := range f.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeDevice) Close() error { return nil }

func TestUnitRewindowsDeviceChunks(t *testing.T) {
	// 800 samples delivered as odd-sized chunks -> two full 320-sample
	// windows, remainder discarded at stream end.
	device := &fakeDevice{chunks: [][]int16{
		make([]int16, 500),
		make([]int16, 300),
	}}
	unit := NewUnit(device, NewDetector(0, 0), zap.NewNop())

	windows, err := unit.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer unit.Stop()

	var got int
	timeout := time.After(2 * time.Second)
	for {
		select {
		case w, ok := <-windows:
			if !ok {
				if got != 2 {
					t.Fatalf("expected 2 windows, got %d", got)
				}
				return
			}
			if len(w.Samples) != WindowSize {
				t.Fatalf("expected %d samples per window, got %d", WindowSize, len(w.Samples))
			}
			got++
		case <-timeout:
			t.Fatal("timed out waiting for windows")
		}
	}
}

func TestUnitRejectsDoubleStart(t *testing.T) {
	unit := NewUnit(&fakeDevice{}, NewDetector(0, 0), zap.NewNop())
	if _, err := unit.Start(context.Background()); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	defer unit.Stop()
	if _, err := unit.Start(context.Background()); err == nil {
		t.Error("second Start() should fail while running")
	}
}
