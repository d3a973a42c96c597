package stt

import (
	"math"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"gopkg.in/hraban/opus.v2"

	"github.com/voicedesk/voicedesk/internal/codec"
)

// The device streams bare Opus packets; the adapter must turn each one back
// into a full 20 ms PCM chunk before handing it to the recognizer.
func TestTranscodePacketProducesLinear16(t *testing.T) {
	enc, err := codec.NewEncoder()
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	dec, err := opus.NewDecoder(codec.SampleRate, codec.Channels)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	g := &googleStream{decoder: dec, pcm: make([]int16, maxOpusFrameSamples)}

	// A 440 Hz tone frame survives an encode/decode round trip.
	pcm := make([]int16, codec.SamplesPerFrame)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/codec.SampleRate))
	}
	packet, err := enc.Encode(pcm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := g.transcodePacket(packet)
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	if len(out) != codec.SamplesPerFrame*2 {
		t.Fatalf("expected %d PCM bytes per frame, got %d", codec.SamplesPerFrame*2, len(out))
	}
}

func TestTranscodePacketRejectsGarbage(t *testing.T) {
	dec, err := opus.NewDecoder(codec.SampleRate, codec.Channels)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	g := &googleStream{decoder: dec, pcm: make([]int16, maxOpusFrameSamples)}

	if _, err := g.transcodePacket([]byte{0xDE, 0xAD, 0xBE, 0xEF}); err == nil {
		t.Fatal("expected decode error for a non-opus packet")
	}
}

func TestAudioEncodingMapsContainersOnly(t *testing.T) {
	cases := []struct {
		name string
		want speechpb.RecognitionConfig_AudioEncoding
		ok   bool
	}{
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS, true},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS, true},
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16, true},
		{"WAV", speechpb.RecognitionConfig_LINEAR16, true},
		{"FLAC", speechpb.RecognitionConfig_FLAC, true},
		// Bare opus goes through the local transcoder, never the enum.
		{"opus", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, false},
		{"mp3", speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, false},
	}
	for _, tc := range cases {
		got, err := audioEncoding(tc.name)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("%s: got %v, %v", tc.name, got, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}
