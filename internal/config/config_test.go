package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	envVars := []string{
		"SERVICE_NAME", "GRPC_PORT", "LOG_LEVEL", "ZEROLOG_LOG_LEVEL",
		"STT_PROVIDER", "STT_LANGUAGE", "STT_SAMPLE_RATE_HZ", "STT_ENCODING",
		"UPSTREAM_BACKOFF_BASE", "UPSTREAM_BACKOFF_MAX", "TURN_BARGE_IN",
		"TURN_END_CALL_GRACE", "LLM_HISTORY_MESSAGES", "GATEWAY_PING_INTERVAL",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg := Load()

	if cfg.Service.Name != "ai-voice-relay-service" {
		t.Errorf("expected default service name, got %s", cfg.Service.Name)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default port '50051', got %s", cfg.Service.GRPCPort)
	}
	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.Language != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.STT.Language)
	}
	if cfg.STT.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate 8000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.Encoding != "mulaw" {
		t.Errorf("expected default encoding 'mulaw', got %s", cfg.STT.Encoding)
	}
	if cfg.Upstream.BackoffBase != time.Second {
		t.Errorf("expected default backoff base 1s, got %v", cfg.Upstream.BackoffBase)
	}
	if cfg.Upstream.BackoffMax != 8*time.Second {
		t.Errorf("expected default backoff max 8s, got %v", cfg.Upstream.BackoffMax)
	}
	if cfg.Turn.BargeIn != "preempt" {
		t.Errorf("expected default barge-in 'preempt', got %s", cfg.Turn.BargeIn)
	}
	if cfg.Turn.EndCallGrace != 2500*time.Millisecond {
		t.Errorf("expected default end call grace 2.5s, got %v", cfg.Turn.EndCallGrace)
	}
	if cfg.Completion.HistoryMessages != 10 {
		t.Errorf("expected default history messages 10, got %d", cfg.Completion.HistoryMessages)
	}
	if cfg.Gateway.PingInterval != 20*time.Second {
		t.Errorf("expected default ping interval 20s, got %v", cfg.Gateway.PingInterval)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("SERVICE_NAME", "relay-eu")
	os.Setenv("GRPC_PORT", "9999")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("STT_PROVIDER", "deepgram")
	os.Setenv("STT_SAMPLE_RATE_HZ", "16000")
	os.Setenv("STT_SMART_FORMAT", "false")
	os.Setenv("TURN_BARGE_IN", "IGNORE")
	os.Setenv("UPSTREAM_BACKOFF_MAX", "30s")
	os.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	defer func() {
		os.Unsetenv("SERVICE_NAME")
		os.Unsetenv("GRPC_PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("STT_PROVIDER")
		os.Unsetenv("STT_SAMPLE_RATE_HZ")
		os.Unsetenv("STT_SMART_FORMAT")
		os.Unsetenv("TURN_BARGE_IN")
		os.Unsetenv("UPSTREAM_BACKOFF_MAX")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg := Load()

	if cfg.Service.Name != "relay-eu" {
		t.Errorf("expected service name 'relay-eu', got %s", cfg.Service.Name)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.STT.Provider != "deepgram" {
		t.Errorf("expected STT provider 'deepgram', got %s", cfg.STT.Provider)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.SmartFormat {
		t.Error("expected smart format false")
	}
	if cfg.Turn.BargeIn != "ignore" {
		t.Errorf("expected barge-in 'ignore', got %s", cfg.Turn.BargeIn)
	}
	if cfg.Upstream.BackoffMax != 30*time.Second {
		t.Errorf("expected backoff max 30s, got %v", cfg.Upstream.BackoffMax)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("expected two trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	os.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("STT_INTERIM_RESULTS", "invalid")
	os.Setenv("UPSTREAM_BACKOFF_BASE", "invalid")
	os.Setenv("GATEWAY_MAX_MESSAGE_BYTES", "invalid")

	defer func() {
		os.Unsetenv("STT_SAMPLE_RATE_HZ")
		os.Unsetenv("STT_INTERIM_RESULTS")
		os.Unsetenv("UPSTREAM_BACKOFF_BASE")
		os.Unsetenv("GATEWAY_MAX_MESSAGE_BYTES")
	}()

	cfg := Load()

	if cfg.STT.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.InterimResults != true {
		t.Errorf("expected default interim results on invalid input, got %v", cfg.STT.InterimResults)
	}
	if cfg.Upstream.BackoffBase != time.Second {
		t.Errorf("expected default backoff base on invalid input, got %v", cfg.Upstream.BackoffBase)
	}
	if cfg.Gateway.MaxMessageBytes != 1<<20 {
		t.Errorf("expected default max message bytes on invalid input, got %d", cfg.Gateway.MaxMessageBytes)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServiceName(t *testing.T) {
	os.Setenv("SERVICE_NAME", "my-relay")
	os.Unsetenv("KAFKA_PRINCIPAL")

	defer os.Unsetenv("SERVICE_NAME")

	cfg := Load()

	if cfg.Kafka.Principal != "my-relay" {
		t.Errorf("expected Kafka principal to fall back to service name, got %s", cfg.Kafka.Principal)
	}
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Configuration)
		wantErr bool
	}{
		{"mock providers", func(c *Configuration) {}, false},
		{"deepgram stt without key", func(c *Configuration) { c.STT.Provider = "deepgram" }, true},
		{"deepgram stt with key", func(c *Configuration) {
			c.STT.Provider = "deepgram"
			c.STT.APIKey = "k"
		}, false},
		{"google stt without credentials", func(c *Configuration) { c.STT.Provider = "google" }, true},
		{"deepgram tts without key", func(c *Configuration) { c.TTS.Provider = "deepgram" }, true},
		{"openai without key", func(c *Configuration) { c.Completion.Provider = "openai" }, true},
		{"supabase without url", func(c *Configuration) {
			c.Store.Driver = "supabase"
			c.Store.SupabaseKey = "k"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Configuration{
				STT:        STTConfig{Provider: "mock"},
				TTS:        TTSConfig{Provider: "mock"},
				Completion: CompletionConfig{Provider: "mock"},
				Store:      StoreConfig{Driver: "memory"},
			}
			tt.mutate(cfg)

			err := cfg.ValidateCredentials()
			if tt.wantErr && !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
