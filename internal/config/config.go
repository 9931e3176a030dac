// Package config loads the relay configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingCredentials is returned when a configured provider lacks the
// credentials it needs to open an upstream connection.
var ErrMissingCredentials = errors.New("missing required credentials")

// Configuration is the complete relay configuration.
type Configuration struct {
	Service       ServiceConfig
	Gateway       GatewayConfig
	STT           STTConfig
	TTS           TTSConfig
	Completion    CompletionConfig
	Upstream      UpstreamConfig
	Turn          TurnConfig
	Store         StoreConfig
	Kafka         KafkaConfig
	Telephony     TelephonyConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name          string
	HTTPPort      string
	GRPCPort      string
	MetricsAddr   string
	PublicBaseURL string
}

// GatewayConfig controls the client-facing socket.
type GatewayConfig struct {
	PingInterval    time.Duration
	MaxMissedPings  int
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	OutboundQueue   int
	AllowedOrigins  []string
	// DefaultAssistantID serves telephony streams that carry no assistant.
	DefaultAssistantID string
}

type STTConfig struct {
	Provider          string // deepgram, google, mock
	URL               string
	APIKey            string
	Model             string
	Language          string
	Encoding          string
	SampleRateHz      int
	EndpointingMs     int
	UtteranceEndMs    int
	SmartFormat       bool
	InterimResults    bool
	KeepaliveInterval time.Duration
	CredentialsFile   string
}

type TTSConfig struct {
	Provider     string // deepgram, mock
	URL          string
	APIKey       string
	DefaultVoice string
	Encoding     string
	SampleRateHz int
}

type CompletionConfig struct {
	Provider         string // openai, mock
	BaseURL          string
	APIKey           string
	Model            string
	Timeout          time.Duration
	HistoryMessages  int
	MaxResponseChars int
	FallbackText     string
}

// UpstreamConfig is the reconnection policy shared by the STT and TTS upstreams.
type UpstreamConfig struct {
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	StableAfter    time.Duration
	ConnectTimeout time.Duration
	SendBuffer     int
}

type TurnConfig struct {
	HistoryLimit int
	EndCallGrace time.Duration
	BargeIn      string // ignore, preempt
	SpeakTimeout time.Duration
	MaxPending   int
}

type StoreConfig struct {
	Driver        string // memory, supabase
	SupabaseURL   string
	SupabaseKey   string
	AgentCacheTTL time.Duration
	WriteTimeout  time.Duration
	RedisURL      string
	SessionTTL    time.Duration
}

type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicTranscript string
	TopicCallStatus string
	Principal       string
}

type TelephonyConfig struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string
	TransferNumber string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from environment variables. Invalid values
// fall back to their defaults.
func Load() *Configuration {
	serviceName := envOrDefault("SERVICE_NAME", "ai-voice-relay-service")

	return &Configuration{
		Service: ServiceConfig{
			Name:          serviceName,
			HTTPPort:      envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:      envOrDefault("GRPC_PORT", "50051"),
			MetricsAddr:   envOrDefault("METRICS_ADDR", ":9090"),
			PublicBaseURL: strings.TrimRight(envOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		},
		Gateway: GatewayConfig{
			PingInterval:    envOrDefaultDuration("GATEWAY_PING_INTERVAL", 20*time.Second),
			MaxMissedPings:  envOrDefaultInt("GATEWAY_MAX_MISSED_PINGS", 3),
			WriteTimeout:    envOrDefaultDuration("GATEWAY_WRITE_TIMEOUT", 5*time.Second),
			MaxMessageBytes: envOrDefaultInt64("GATEWAY_MAX_MESSAGE_BYTES", 1<<20),
			OutboundQueue:   envOrDefaultInt("GATEWAY_OUTBOUND_QUEUE", 256),
			AllowedOrigins:  splitList(os.Getenv("GATEWAY_ALLOWED_ORIGINS")),

			DefaultAssistantID: os.Getenv("GATEWAY_DEFAULT_ASSISTANT_ID"),
		},
		STT: STTConfig{
			Provider:          envOrDefault("STT_PROVIDER", "mock"),
			URL:               envOrDefault("STT_URL", "wss://api.deepgram.com/v1/listen"),
			APIKey:            os.Getenv("STT_API_KEY"),
			Model:             envOrDefault("STT_MODEL", "nova-2"),
			Language:          envOrDefault("STT_LANGUAGE", "en-US"),
			Encoding:          envOrDefault("STT_ENCODING", "mulaw"),
			SampleRateHz:      envOrDefaultInt("STT_SAMPLE_RATE_HZ", 8000),
			EndpointingMs:     envOrDefaultInt("STT_ENDPOINTING_MS", 300),
			UtteranceEndMs:    envOrDefaultInt("STT_UTTERANCE_END_MS", 1000),
			SmartFormat:       envOrDefaultBool("STT_SMART_FORMAT", true),
			InterimResults:    envOrDefaultBool("STT_INTERIM_RESULTS", true),
			KeepaliveInterval: envOrDefaultDuration("STT_KEEPALIVE_INTERVAL", 8*time.Second),
			CredentialsFile:   os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		},
		TTS: TTSConfig{
			Provider:     envOrDefault("TTS_PROVIDER", "mock"),
			URL:          envOrDefault("TTS_URL", "wss://api.deepgram.com/v1/speak"),
			APIKey:       os.Getenv("TTS_API_KEY"),
			DefaultVoice: envOrDefault("TTS_DEFAULT_VOICE", "aura-asteria-en"),
			Encoding:     envOrDefault("TTS_ENCODING", "mulaw"),
			SampleRateHz: envOrDefaultInt("TTS_SAMPLE_RATE_HZ", 8000),
		},
		Completion: CompletionConfig{
			Provider:         envOrDefault("LLM_PROVIDER", "mock"),
			BaseURL:          os.Getenv("LLM_BASE_URL"),
			APIKey:           os.Getenv("LLM_API_KEY"),
			Model:            envOrDefault("LLM_MODEL", "gpt-4o-mini"),
			Timeout:          envOrDefaultDuration("LLM_TIMEOUT", 12*time.Second),
			HistoryMessages:  envOrDefaultInt("LLM_HISTORY_MESSAGES", 10),
			MaxResponseChars: envOrDefaultInt("LLM_MAX_RESPONSE_CHARS", 600),
			FallbackText: envOrDefault("LLM_FALLBACK_TEXT",
				"I'm having trouble processing that right now. Could you say it again?"),
		},
		Upstream: UpstreamConfig{
			BackoffBase:    envOrDefaultDuration("UPSTREAM_BACKOFF_BASE", time.Second),
			BackoffMax:     envOrDefaultDuration("UPSTREAM_BACKOFF_MAX", 8*time.Second),
			StableAfter:    envOrDefaultDuration("UPSTREAM_STABLE_AFTER", 3*time.Second),
			ConnectTimeout: envOrDefaultDuration("UPSTREAM_CONNECT_TIMEOUT", 10*time.Second),
			SendBuffer:     envOrDefaultInt("UPSTREAM_SEND_BUFFER", 128),
		},
		Turn: TurnConfig{
			HistoryLimit: envOrDefaultInt("TURN_HISTORY_LIMIT", 20),
			EndCallGrace: envOrDefaultDuration("TURN_END_CALL_GRACE", 2500*time.Millisecond),
			BargeIn:      strings.ToLower(envOrDefault("TURN_BARGE_IN", "preempt")),
			SpeakTimeout: envOrDefaultDuration("TURN_SPEAK_TIMEOUT", 5*time.Second),
			MaxPending:   envOrDefaultInt("TURN_MAX_PENDING", 4),
		},
		Store: StoreConfig{
			Driver:        envOrDefault("STORE_DRIVER", "memory"),
			SupabaseURL:   os.Getenv("SUPABASE_URL"),
			SupabaseKey:   os.Getenv("SUPABASE_KEY"),
			AgentCacheTTL: envOrDefaultDuration("STORE_AGENT_CACHE_TTL", 5*time.Minute),
			WriteTimeout:  envOrDefaultDuration("STORE_WRITE_TIMEOUT", 5*time.Second),
			RedisURL:      os.Getenv("REDIS_URL"),
			SessionTTL:    envOrDefaultDuration("REDIS_SESSION_TTL", 2*time.Hour),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         splitList(os.Getenv("KAFKA_BROKERS")),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "voice.relay.transcript"),
			TopicCallStatus: envOrDefault("KAFKA_TOPIC_CALL_STATUS", "voice.relay.call_status"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", serviceName),
		},
		Telephony: TelephonyConfig{
			AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
			FromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
			// Human escalation target for transfer_call; empty disables transfer.
			TransferNumber: os.Getenv("TWILIO_TRANSFER_NUMBER"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", envOrDefault("ZEROLOG_LOG_LEVEL", "info")),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

// ValidateCredentials reports every credential required by the configured
// providers that is absent. Mock providers need none.
func (c *Configuration) ValidateCredentials() error {
	var missing []string
	switch c.STT.Provider {
	case "deepgram":
		if c.STT.APIKey == "" {
			missing = append(missing, "STT_API_KEY")
		}
	case "google":
		if c.STT.CredentialsFile == "" {
			missing = append(missing, "GOOGLE_APPLICATION_CREDENTIALS")
		}
	}
	if c.TTS.Provider == "deepgram" && c.TTS.APIKey == "" {
		missing = append(missing, "TTS_API_KEY")
	}
	if c.Completion.Provider == "openai" && c.Completion.APIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if c.Store.Driver == "supabase" {
		if c.Store.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.Store.SupabaseKey == "" {
			missing = append(missing, "SUPABASE_KEY")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// TelephonyEnabled reports whether outbound calls can be placed.
func (c *Configuration) TelephonyEnabled() bool {
	return c.Telephony.AccountSID != "" && c.Telephony.AuthToken != "" && c.Telephony.FromNumber != ""
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
