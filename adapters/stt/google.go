package stt

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"gopkg.in/hraban/opus.v2"

	"github.com/voicedesk/voicedesk/domain/repositories"
)

// maxOpusFrameSamples fits the longest legal Opus frame (120 ms at 48 kHz),
// so one decode buffer covers any sample rate.
const maxOpusFrameSamples = 5760

// GoogleTranscriber implements Transcriber on Google Cloud Speech-to-Text
// streaming recognition.
type GoogleTranscriber struct{}

// NewGoogleTranscriber creates the adapter. Credentials come from the
// standard GOOGLE_APPLICATION_CREDENTIALS environment.
func NewGoogleTranscriber() *GoogleTranscriber {
	return &GoogleTranscriber{}
}

func (g *GoogleTranscriber) InitStream(ctx context.Context, config repositories.AudioConfig) (repositories.TranscriberStream, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// The device streams bare Opus packets with no container, which the
	// API cannot parse. Decode them locally and stream PCM instead;
	// container formats pass through untouched.
	var decoder *opus.Decoder
	encoding := speechpb.RecognitionConfig_LINEAR16
	if config.Encoding == "opus" {
		decoder, err = opus.NewDecoder(config.SampleRate, 1)
		if err != nil {
			stream.CloseSend()
			client.Close()
			return nil, fmt.Errorf("failed to create opus decoder: %w", err)
		}
	} else {
		encoding, err = audioEncoding(config.Encoding)
		if err != nil {
			stream.CloseSend()
			client.Close()
			return nil, err
		}
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(config.SampleRate),
					LanguageCode:    config.Language,
				},
				InterimResults:  false,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &googleStream{
		client:     client,
		stream:     stream,
		ctx:        ctx,
		language:   config.Language,
		decoder:    decoder,
		pcm:        make([]int16, maxOpusFrameSamples),
		resultChan: make(chan repositories.Transcription, 1),
		errorChan:  make(chan error, 1),
	}
	go s.receiveResults()
	return s, nil
}

type googleStream struct {
	client   *speech.Client
	stream   speechpb.Speech_StreamingRecognizeClient
	ctx      context.Context
	language string

	decoder *opus.Decoder
	pcm     []int16

	audioReceived bool
	resultChan    chan repositories.Transcription
	errorChan     chan error
}

func (g *googleStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if g.decoder != nil {
		pcm, err := g.transcodePacket(data)
		if err != nil {
			return err
		}
		data = pcm
	}
	g.audioReceived = true

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (g *googleStream) End() (repositories.Transcription, error) {
	defer g.client.Close()

	if !g.audioReceived {
		return repositories.Transcription{}, fmt.Errorf("no audio data received")
	}

	if err := g.stream.CloseSend(); err != nil {
		return repositories.Transcription{}, fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.ctx.Done():
		return repositories.Transcription{}, fmt.Errorf("cancelled while waiting for result: %w", g.ctx.Err())
	case err := <-g.errorChan:
		return repositories.Transcription{}, err
	case result := <-g.resultChan:
		if result.Text == "" {
			return repositories.Transcription{}, fmt.Errorf("no speech detected in audio")
		}
		return result, nil
	}
}

func (g *googleStream) receiveResults() {
	var final repositories.Transcription
	final.Language = g.language

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.resultChan <- final
			return
		}
		if err != nil {
			g.errorChan <- fmt.Errorf("failed to receive response: %w", err)
			return
		}

		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				best := result.Alternatives[0]
				final.Text = best.Transcript
				final.Confidence = float64(best.Confidence)
				if result.LanguageCode != "" {
					final.Language = result.LanguageCode
				}
			}
		}
	}
}

// transcodePacket decodes one bare Opus packet into little-endian PCM
// bytes the recognizer accepts as LINEAR16.
func (g *googleStream) transcodePacket(packet []byte) ([]byte, error) {
	n, err := g.decoder.Decode(packet, g.pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus packet: %w", err)
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(g.pcm[i]))
	}
	return out, nil
}

// audioEncoding maps a container encoding name to the Speech API enum.
// Bare "opus" is handled by local transcoding, not here.
func audioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
			fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
