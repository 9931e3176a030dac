// Package google provides a Google Cloud Speech-to-Text transcription
// upstream. A streaming recognize call is exposed as an upstream connection
// so it is supervised like any other provider.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/proto"

	"ai-voice-relay-service/internal/service/stt"
	"ai-voice-relay-service/internal/upstream"
)

// Config holds the recognition settings sent as the first stream message.
type Config struct {
	LanguageCode    string
	SampleRateHz    int
	InterimResults  bool
	AudioEncoding   string
	SingleUtterance bool
}

// DefaultConfig returns telephony-grade defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

func (c Config) request() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(c.AudioEncoding),
					SampleRateHertz: int32(c.SampleRateHz),
					LanguageCode:    c.LanguageCode,
				},
				InterimResults:  c.InterimResults,
				SingleUtterance: c.SingleUtterance,
			},
		},
	}
}

// Dialer opens streaming recognize calls.
// Requires GOOGLE_APPLICATION_CREDENTIALS unless client options say otherwise.
type Dialer struct {
	client *speech.Client
	cfg    Config
}

// NewDialer creates the speech client shared by every call it dials.
func NewDialer(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Dialer, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Dialer{client: c, cfg: cfg}, nil
}

// Dial implements upstream.Dialer. The call outlives ctx, which only bounds
// stream setup; Close ends it.
func (d *Dialer) Dial(ctx context.Context) (upstream.Conn, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	type result struct {
		stream speechpb.Speech_StreamingRecognizeClient
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := d.client.StreamingRecognize(streamCtx)
		if err == nil {
			err = stream.Send(d.cfg.request())
		}
		done <- result{stream, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			cancel()
			return nil, fmt.Errorf("start streaming recognize: %w", r.err)
		}
		return &conn{stream: r.stream, cancel: cancel}, nil
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// Close releases the underlying client.
func (d *Dialer) Close() error {
	return d.client.Close()
}

type conn struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc

	mu        sync.Mutex
	closeOnce sync.Once
}

// ReadMessage returns each response re-encoded as protobuf so Decoder can
// interpret it on the session goroutine.
func (c *conn) ReadMessage() (upstream.Message, error) {
	resp, err := c.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return upstream.Message{}, io.ErrUnexpectedEOF
		}
		return upstream.Message{}, err
	}
	data, err := proto.Marshal(resp)
	if err != nil {
		return upstream.Message{}, fmt.Errorf("encode recognize response: %w", err)
	}
	return upstream.Binary(data), nil
}

// WriteMessage sends binary messages as audio. Text messages are provider
// control frames with no gRPC equivalent and are ignored.
func (c *conn) WriteMessage(msg upstream.Message) error {
	if !msg.Binary {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: msg.Data,
		},
	})
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		err = c.stream.CloseSend()
		c.mu.Unlock()
		c.cancel()
	})
	return err
}

// Decoder interprets responses produced by Dialer connections.
type Decoder struct{}

// Decode implements stt.Decoder. Google finals close the utterance, so they
// are reported as speech-final.
func (Decoder) Decode(msg upstream.Message) ([]stt.Result, error) {
	var resp speechpb.StreamingRecognizeResponse
	if err := proto.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode recognize response: %w", err)
	}
	if e := resp.GetError(); e != nil && e.GetCode() != 0 {
		return nil, fmt.Errorf("recognize error %d: %s", e.GetCode(), e.GetMessage())
	}

	var results []stt.Result
	now := time.Now()
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		alt := alts[0]
		results = append(results, stt.Result{
			Kind: stt.ResultTranscript,
			Transcript: stt.TranscriptEvent{
				Text:          alt.GetTranscript(),
				Confidence:    float64(alt.GetConfidence()),
				IsFinal:       r.GetIsFinal(),
				IsSpeechFinal: r.GetIsFinal(),
				Timestamp:     now,
			},
		})
	}
	if resp.GetSpeechEventType() == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
		results = append(results, stt.Result{Kind: stt.ResultUtteranceEnd})
	}
	return results, nil
}
