package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"ai-voice-relay-service/internal/config"
	"ai-voice-relay-service/internal/service/completion"
	"ai-voice-relay-service/internal/service/stt"
	"ai-voice-relay-service/internal/service/stt/google"
	sttmock "ai-voice-relay-service/internal/service/stt/mock"
	"ai-voice-relay-service/internal/service/tts"
	ttsmock "ai-voice-relay-service/internal/service/tts/mock"
	"ai-voice-relay-service/internal/upstream"
)

// Providers builds the per-session upstream connections and completion
// orchestrators from configuration. Clients that are expensive to create,
// such as the Google speech client, are shared by every session.
type Providers struct {
	cfg     *config.Configuration
	google  *google.Dialer
	backend completion.Backend

	// sttDialer and ttsDialer replace the configured dialers when set.
	sttDialer upstream.Dialer
	ttsDialer upstream.Dialer
}

// NewProviders validates the configured providers and creates shared clients.
func NewProviders(ctx context.Context, cfg *config.Configuration) (*Providers, error) {
	p := &Providers{cfg: cfg}

	switch cfg.STT.Provider {
	case "deepgram", "mock":
	case "google":
		gc := google.DefaultConfig()
		gc.LanguageCode = cfg.STT.Language
		gc.SampleRateHz = cfg.STT.SampleRateHz
		gc.InterimResults = cfg.STT.InterimResults
		gc.AudioEncoding = strings.ToUpper(cfg.STT.Encoding)

		var opts []option.ClientOption
		if cfg.STT.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.STT.CredentialsFile))
		}
		d, err := google.NewDialer(ctx, gc, opts...)
		if err != nil {
			return nil, err
		}
		p.google = d
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STT.Provider)
	}

	switch cfg.TTS.Provider {
	case "deepgram", "mock":
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.TTS.Provider)
	}

	switch cfg.Completion.Provider {
	case "openai":
		p.backend = completion.NewOpenAIBackend(cfg.Completion.APIKey, cfg.Completion.BaseURL)
	case "mock":
		p.backend = completion.ScriptedBackend{}
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Completion.Provider)
	}

	return p, nil
}

// Close releases shared clients.
func (p *Providers) Close() error {
	if p.google != nil {
		return p.google.Close()
	}
	return nil
}

func (p *Providers) policy() upstream.Policy {
	u := p.cfg.Upstream
	return upstream.Policy{
		Backoff:        upstream.Backoff{Base: u.BackoffBase, Max: u.BackoffMax},
		StableAfter:    u.StableAfter,
		ConnectTimeout: u.ConnectTimeout,
		SendBuffer:     u.SendBuffer,
	}
}

// Transcription returns the dialer, decoder and reconnect policy of the
// transcription upstream.
func (p *Providers) Transcription() (upstream.Dialer, stt.Decoder, upstream.Policy, error) {
	c := p.cfg.STT
	policy := p.policy()
	if p.sttDialer != nil {
		return p.sttDialer, stt.DeepgramDecoder{}, policy, nil
	}

	switch c.Provider {
	case "deepgram":
		u, err := stt.DeepgramURL(c.URL, stt.ListenParams{
			Model:          c.Model,
			Language:       c.Language,
			Encoding:       c.Encoding,
			SampleRateHz:   c.SampleRateHz,
			EndpointingMs:  c.EndpointingMs,
			UtteranceEndMs: c.UtteranceEndMs,
			SmartFormat:    c.SmartFormat,
			InterimResults: c.InterimResults,
		})
		if err != nil {
			return nil, nil, policy, err
		}
		keepalive := stt.DeepgramKeepalive
		policy.Keepalive = &keepalive
		policy.KeepaliveInterval = c.KeepaliveInterval
		return &upstream.WebSocketDialer{
			URL:              u,
			Header:           tokenHeader(c.APIKey),
			HandshakeTimeout: p.cfg.Upstream.ConnectTimeout,
		}, stt.DeepgramDecoder{}, policy, nil
	case "google":
		return p.google, google.Decoder{}, policy, nil
	default:
		return sttmock.NewDialer(sttmock.DefaultFramesPerStep), stt.DeepgramDecoder{}, policy, nil
	}
}

// Synthesis returns the dialer and reconnect policy of the synthesis
// upstream speaking with voice, or the configured default voice.
func (p *Providers) Synthesis(voice string) (upstream.Dialer, upstream.Policy, error) {
	c := p.cfg.TTS
	policy := p.policy()
	if voice == "" {
		voice = c.DefaultVoice
	}
	if p.ttsDialer != nil {
		return p.ttsDialer, policy, nil
	}

	switch c.Provider {
	case "deepgram":
		u, err := tts.DeepgramSpeakURL(c.URL, tts.SpeakParams{
			Voice:        voice,
			Encoding:     c.Encoding,
			SampleRateHz: c.SampleRateHz,
		})
		if err != nil {
			return nil, policy, err
		}
		return &upstream.WebSocketDialer{
			URL:              u,
			Header:           tokenHeader(c.APIKey),
			HandshakeTimeout: p.cfg.Upstream.ConnectTimeout,
		}, policy, nil
	default:
		return ttsmock.NewDialer(), policy, nil
	}
}

// Orchestrator returns a new orchestrator for one session.
func (p *Providers) Orchestrator(logger zerolog.Logger) *completion.Orchestrator {
	c := p.cfg.Completion
	return completion.NewOrchestrator(p.backend, completion.Options{
		Timeout:          c.Timeout,
		HistoryMessages:  c.HistoryMessages,
		MaxResponseChars: c.MaxResponseChars,
		FallbackText:     c.FallbackText,
		DefaultModel:     c.Model,
	}, logger)
}

func tokenHeader(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Token "+apiKey)
	}
	return h
}
