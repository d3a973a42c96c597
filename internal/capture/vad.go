package capture

import "math"

// Detector is a pure-Go voice activity detector based on RMS energy with
// hysteresis: once speech is asserted, it takes HangoverWindows consecutive
// sub-threshold windows before end-of-speech is declared, so brief dips do
// not clip words.
type Detector struct {
	threshold float64
	hangover  int

	inSpeech  bool
	silentRun int
}

// DefaultThreshold is the normalized RMS level above which a window counts
// as speech.
const DefaultThreshold = 0.1

// DefaultHangoverWindows is the number of consecutive sub-threshold windows
// required to end speech.
const DefaultHangoverWindows = 10

// NewDetector creates a detector. Zero or negative arguments fall back to
// the defaults.
func NewDetector(threshold float64, hangoverWindows int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if hangoverWindows <= 0 {
		hangoverWindows = DefaultHangoverWindows
	}
	return &Detector{threshold: threshold, hangover: hangoverWindows}
}

// Process classifies one window and returns the normalized level [0,1] and
// the speech decision. The level is always reported so callers can drive a
// UI meter even during silence.
func (d *Detector) Process(samples []int16) (level float64, isSpeech bool) {
	level = rms(samples)

	if level > d.threshold {
		d.inSpeech = true
		d.silentRun = 0
		return level, true
	}

	if d.inSpeech {
		d.silentRun++
		if d.silentRun >= d.hangover {
			d.inSpeech = false
			d.silentRun = 0
			return level, false
		}
		// Within the hangover window: still speech.
		return level, true
	}

	return level, false
}

// Reset clears hysteresis state between commands.
func (d *Detector) Reset() {
	d.inSpeech = false
	d.silentRun = 0
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(samples))) / 32768.0
}
