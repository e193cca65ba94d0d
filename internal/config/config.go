// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables win over the file; invalid
// values fall back to the previous value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	ASR           ASRConfig           `yaml:"asr"`
	Session       SessionConfig       `yaml:"session"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	GRPCPort    string `yaml:"grpcPort"`
	HTTPPort    string `yaml:"httpPort"`
	MetricsPort string `yaml:"metricsPort"`
}

// ASRConfig selects and configures the speech recognition backend.
type ASRConfig struct {
	Provider       string `yaml:"provider"` // whisperlive, google, mock
	URL            string `yaml:"url"`
	LanguageCode   string `yaml:"languageCode"`
	Model          string `yaml:"model"`
	Task           string `yaml:"task"`
	UseVAD         bool   `yaml:"useVad"`
	AwaitAck       bool   `yaml:"awaitAck"`
	SampleRateHz   int    `yaml:"sampleRateHz"`
	Channels       int    `yaml:"channels"`
	EndOfAudio     string `yaml:"endOfAudio"`
	AudioEncoding  string `yaml:"audioEncoding"`
	InterimResults bool   `yaml:"interimResults"`
}

type SessionConfig struct {
	FrameDuration    time.Duration `yaml:"frameDuration"`
	QueueCapacity    int           `yaml:"queueCapacity"`
	StableTimeout    time.Duration `yaml:"stableTimeout"`
	TickInterval     time.Duration `yaml:"tickInterval"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	DrainGrace       time.Duration `yaml:"drainGrace"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicPartial string   `yaml:"topicPartial"`
	TopicFinal   string   `yaml:"topicFinal"`
	TopicTurn    string   `yaml:"topicTurn"`
	Principal    string   `yaml:"principal"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal:   "svc-speech-bridge",
			GRPCPort:    "50051",
			HTTPPort:    "8080",
			MetricsPort: "9090",
		},
		ASR: ASRConfig{
			Provider:       "mock",
			URL:            "ws://localhost:9090",
			LanguageCode:   "en",
			Model:          "small",
			Task:           "transcribe",
			UseVAD:         true,
			AwaitAck:       true,
			SampleRateHz:   16000,
			Channels:       1,
			EndOfAudio:     `{"eof": true}`,
			AudioEncoding:  "LINEAR16",
			InterimResults: true,
		},
		Session: SessionConfig{
			FrameDuration:    20 * time.Millisecond,
			QueueCapacity:    50,
			StableTimeout:    300 * time.Millisecond,
			TickInterval:     50 * time.Millisecond,
			HandshakeTimeout: 10 * time.Second,
			DrainGrace:       5 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			TopicPartial: "speech.transcript.partial",
			TopicFinal:   "speech.transcript.final",
			TopicTurn:    "speech.turn",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE if set, then environment variables. A file that cannot be read
// is logged and skipped.
func Load() *Config {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Ignoring config file")
		}
	}
	cfg.applyEnv()
	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.MetricsPort = envOrDefault("METRICS_PORT", s.MetricsPort)

	a := &c.ASR
	a.Provider = envOrDefault("ASR_PROVIDER", a.Provider)
	a.URL = envOrDefault("ASR_URL", a.URL)
	a.LanguageCode = envOrDefault("ASR_LANGUAGE", a.LanguageCode)
	a.Model = envOrDefault("ASR_MODEL", a.Model)
	a.Task = envOrDefault("ASR_TASK", a.Task)
	a.UseVAD = envOrDefaultBool("ASR_USE_VAD", a.UseVAD)
	a.AwaitAck = envOrDefaultBool("ASR_AWAIT_ACK", a.AwaitAck)
	a.SampleRateHz = envOrDefaultInt("ASR_SAMPLE_RATE_HZ", a.SampleRateHz)
	a.Channels = envOrDefaultInt("ASR_CHANNELS", a.Channels)
	a.EndOfAudio = envOrDefault("ASR_END_OF_AUDIO", a.EndOfAudio)
	a.AudioEncoding = envOrDefault("ASR_AUDIO_ENCODING", a.AudioEncoding)
	a.InterimResults = envOrDefaultBool("ASR_INTERIM_RESULTS", a.InterimResults)

	ss := &c.Session
	ss.FrameDuration = envOrDefaultDuration("SESSION_FRAME_DURATION", ss.FrameDuration)
	ss.QueueCapacity = envOrDefaultInt("SESSION_QUEUE_CAPACITY", ss.QueueCapacity)
	ss.StableTimeout = envOrDefaultDuration("SESSION_STABLE_TIMEOUT", ss.StableTimeout)
	ss.TickInterval = envOrDefaultDuration("SESSION_TICK_INTERVAL", ss.TickInterval)
	ss.HandshakeTimeout = envOrDefaultDuration("SESSION_HANDSHAKE_TIMEOUT", ss.HandshakeTimeout)
	ss.DrainGrace = envOrDefaultDuration("SESSION_DRAIN_GRACE", ss.DrainGrace)

	k := &c.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	k.Brokers = envOrDefaultList("KAFKA_BROKERS", k.Brokers)
	k.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", k.TopicPartial)
	k.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", k.TopicFinal)
	k.TopicTurn = envOrDefault("KAFKA_TOPIC_TURN", k.TopicTurn)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	o := &c.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.ASR.Provider {
	case "whisperlive", "google", "mock":
	default:
		return fmt.Errorf("unknown ASR provider %q", c.ASR.Provider)
	}
	if c.ASR.SampleRateHz <= 0 || c.ASR.Channels <= 0 {
		return fmt.Errorf("invalid audio format: %d Hz, %d channels", c.ASR.SampleRateHz, c.ASR.Channels)
	}
	if c.Session.QueueCapacity <= 0 {
		return fmt.Errorf("session queue capacity must be positive, got %d", c.Session.QueueCapacity)
	}
	if c.Session.TickInterval <= 0 || c.Session.StableTimeout <= 0 {
		return fmt.Errorf("session tick interval and stable timeout must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled without brokers")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
