package app

import (
	"errors"
	"sync/atomic"
	"time"

	"ai-voice-relay-service/internal/config"
	"ai-voice-relay-service/internal/observability/logging"

	"github.com/rs/zerolog"
)

// ErrDraining is reported by Ready once shutdown has begun.
var ErrDraining = errors.New("relay is draining")

// Application holds process-wide state for the relay.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	draining atomic.Bool
}

// New constructs a new Application from the provided configuration. The
// global logger must already be initialized.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
		Logger: logging.Logger().With().
			Str("service", cfg.Service.Name).
			Str("component", "application").
			Logger(),
	}

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("ttsProvider", cfg.TTS.Provider).
		Str("completionProvider", cfg.Completion.Provider).
		Str("storeDriver", cfg.Store.Driver).
		Bool("telephony", cfg.TelephonyEnabled()).
		Msg("Voice relay application created")
	return a
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	if err := a.Cfg.ValidateCredentials(); err != nil {
		// Sessions are refused individually; the process stays up so health
		// probes and operators can see the problem.
		startLogger.Error().Err(err).Msg("Provider credentials are incomplete")
	}

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Voice relay starting")

	return nil
}

// Ready reports whether new sessions should be routed here.
func (a *Application) Ready() error {
	if a.draining.Load() {
		return ErrDraining
	}
	return nil
}

// Drain marks the application as shutting down.
func (a *Application) Drain() {
	a.draining.Store(true)
}

// Uptime returns the time since Start.
func (a *Application) Uptime() time.Duration {
	if a.StartupTime.IsZero() {
		return 0
	}
	return time.Since(a.StartupTime)
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.Drain()
	shutdownLogger.Info().
		Dur("uptime", a.Uptime()).
		Msg("Voice relay shutting down")
}
