package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-voice-relay-service/internal/app"
	"ai-voice-relay-service/internal/config"
	"ai-voice-relay-service/internal/events"
	"ai-voice-relay-service/internal/gateway"
	relayhttp "ai-voice-relay-service/internal/http"
	"ai-voice-relay-service/internal/observability"
	"ai-voice-relay-service/internal/observability/logging"
	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/service/session"
	"ai-voice-relay-service/internal/store"
	"ai-voice-relay-service/internal/telephony"
)

const (
	healthServiceName = "ai.voice.relay.VoiceRelay"
	drainTimeout      = 15 * time.Second
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}
	logger := logging.WithComponent("main").With().Str("service", cfg.Service.Name).Logger()

	publisher := events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		TopicCallStatus: cfg.Kafka.TopicCallStatus,
		Principal:       cfg.Kafka.Principal,
	})
	defer publisher.Close()

	st, err := newStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create store")
	}
	recorder := store.NewRecorder(st, publisher, cfg.Store.WriteTimeout, logger)

	ctx := context.Background()
	registry, err := newRegistry(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session registry")
	}
	defer registry.Close()

	providers, err := session.NewProviders(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create providers")
	}
	defer providers.Close()

	deps := session.Deps{
		Config:    cfg,
		Agents:    st,
		Recorder:  recorder,
		Providers: providers,
	}

	routes := relayhttp.Routes{
		Recorder: recorder,
		Sessions: registry,
	}
	if cfg.TelephonyEnabled() {
		dialer, err := telephony.NewTwilioDialer(telephony.Config{
			AccountSID:     cfg.Telephony.AccountSID,
			AuthToken:      cfg.Telephony.AuthToken,
			FromNumber:     cfg.Telephony.FromNumber,
			PublicBaseURL:  cfg.Service.PublicBaseURL,
			TransferNumber: cfg.Telephony.TransferNumber,
		}, logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create telephony dialer")
		}
		routes.Calls = dialer
		deps.Transferer = dialer
	} else {
		logger.Info().Msg("Telephony credentials not set, outbound calls disabled")
	}

	hostname, _ := os.Hostname()
	tracker := gateway.NewTracker(registry, hostname, logger)
	routes.Relay = gateway.NewHandler(deps, tracker, logger)
	routes.MediaStream = gateway.NewTelephonyHandler(deps, tracker, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           relayhttp.NewRouter(application, routes),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Service.HTTPPort).Msg("Voice relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP serve failed")
		}
	}()

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen for gRPC")
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(metrics.DefaultMetrics)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(grpcServer)

	go func() {
		logger.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health service started")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()

	obsServer := observability.NewServer(cfg.Service.MetricsAddr, application.Ready)
	obsServer.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	application.Shutdown()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	// Hijacked sockets are not tracked by the HTTP server; cancel sessions
	// explicitly and wait for their teardown records.
	n := tracker.CancelAll()
	logger.Info().Int("sessions", n).Msg("Draining sessions")
	if !tracker.Wait(shutdownCtx) {
		logger.Warn().Int("remaining", tracker.Count()).Msg("Sessions still open at drain deadline")
	}
	recorder.Wait()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	grpcServer.GracefulStop()
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Observability shutdown failed")
	}
}

func newStore(cfg *config.Configuration) (store.Store, error) {
	switch cfg.Store.Driver {
	case "supabase":
		return store.NewSupabaseStore(store.SupabaseConfig{
			URL:      cfg.Store.SupabaseURL,
			APIKey:   cfg.Store.SupabaseKey,
			CacheTTL: cfg.Store.AgentCacheTTL,
		})
	default:
		return store.NewMemoryStore(), nil
	}
}

func newRegistry(ctx context.Context, cfg *config.Configuration) (store.Registry, error) {
	if cfg.Store.RedisURL == "" {
		return store.NewMemoryRegistry(), nil
	}
	return store.NewRedisRegistry(ctx, store.RedisConfig{
		URL: cfg.Store.RedisURL,
		TTL: cfg.Store.SessionTTL,
	})
}
