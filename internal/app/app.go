package app

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-bridge-service/internal/audio"
	"speech-bridge-service/internal/bridge"
	"speech-bridge-service/internal/config"
	"speech-bridge-service/internal/events"
	"speech-bridge-service/internal/observability/logging"
	"speech-bridge-service/internal/observability/metrics"
	"speech-bridge-service/internal/service/asr"
	"speech-bridge-service/internal/service/asr/google"
	"speech-bridge-service/internal/service/asr/mock"
	"speech-bridge-service/internal/service/asr/whisperlive"
	"speech-bridge-service/internal/service/session"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Metrics       *metrics.Metrics
	Publisher     *events.Publisher
	Bridge        *bridge.Bridge
	SessionConfig session.Config

	dialer asr.Dialer
	ready  atomic.Bool
}

// New constructs the application: logging, the ASR dialer for the configured
// provider, the Kafka publisher and the bridge.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
		Logger: logging.WithComponent("application").With().
			Str("service", "speech-bridge-service").
			Logger(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dialer, err := NewDialer(ctx, cfg.ASR)
	if err != nil {
		return nil, fmt.Errorf("create %s dialer: %w", cfg.ASR.Provider, err)
	}
	a.dialer = dialer

	a.Publisher = events.NewWithMetrics(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		TopicTurn:    cfg.Kafka.TopicTurn,
		Principal:    cfg.Kafka.Principal,
	}, a.Metrics)

	a.SessionConfig = SessionConfig(cfg)
	a.Bridge = bridge.New(dialer, a.SessionConfig,
		bridge.WithLogger(logging.WithComponent("bridge").With().Str("asrProvider", cfg.ASR.Provider).Logger()),
		bridge.WithMetrics(a.Metrics),
	)

	a.Logger.Info().
		Str("asrProvider", cfg.ASR.Provider).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Msg("Speech bridge application created")
	return a, nil
}

// SessionConfig derives per-session settings from the service config.
func SessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Format: audio.Format{
			SampleRate:    cfg.ASR.SampleRateHz,
			Channels:      cfg.ASR.Channels,
			FrameDuration: cfg.Session.FrameDuration,
		},
		QueueCapacity:    cfg.Session.QueueCapacity,
		StableTimeout:    cfg.Session.StableTimeout,
		TickInterval:     cfg.Session.TickInterval,
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		DrainGrace:       cfg.Session.DrainGrace,
		Language:         cfg.ASR.LanguageCode,
		Model:            cfg.ASR.Model,
		Task:             cfg.ASR.Task,
		UseVAD:           cfg.ASR.UseVAD,
		AwaitAck:         cfg.ASR.AwaitAck,
	}
}

// NewDialer returns the ASR dialer for the configured provider.
func NewDialer(ctx context.Context, cfg config.ASRConfig) (asr.Dialer, error) {
	log := logging.WithComponent("asr").With().Str("asrProvider", cfg.Provider).Logger()

	switch cfg.Provider {
	case "whisperlive":
		return whisperlive.NewDialer(whisperlive.Config{
			URL:        cfg.URL,
			Model:      cfg.Model,
			Task:       cfg.Task,
			UseVAD:     cfg.UseVAD,
			EndOfAudio: cfg.EndOfAudio,
		}, log), nil
	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.LanguageCode
		gcfg.SampleRateHz = cfg.SampleRateHz
		gcfg.InterimResults = cfg.InterimResults
		gcfg.AudioEncoding = cfg.AudioEncoding
		gcfg.Model = cfg.Model
		return google.NewDialer(ctx, gcfg, log)
	case "mock":
		log.Warn().Msg("Using mock ASR backend")
		return mock.NewDialer(), nil
	default:
		return nil, fmt.Errorf("unknown ASR provider %q", cfg.Provider)
	}
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Speech bridge service starting")
	return nil
}

// Ready reports whether the service accepts new sessions.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown stops accepting sessions and releases backend clients and the
// publisher.
func (a *Application) Shutdown() {
	a.ready.Store(false)
	a.Logger.Info().Msg("Speech bridge service shutting down")

	if c, ok := a.dialer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing ASR client")
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing publisher")
		}
	}
}
