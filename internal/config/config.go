// Package config provides the configuration structure for the murmur TTS server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/pelletier/go-toml/v2"
)

// Environment overrides. They take precedence over file values.
const (
	EnvVoiceSamplesDir = "MURMUR_VOICE_SAMPLES_DIR"
	EnvHost            = "HOST"
	EnvPort            = "PORT"
	EnvDevice          = "MURMUR_DEVICE"
)

// Backend drivers.
const (
	DriverHTTP = "http"
	DriverExec = "exec"
)

// Defaults.
const (
	defaultHost                 = "127.0.0.1"
	defaultPort                 = 8787
	defaultReadHeaderTimeout    = 10
	defaultWriteTimeout         = 600
	defaultIdleTimeout          = 120
	defaultShutdownTimeout      = 30
	defaultDevice               = "cpu"
	defaultMaxTextLength        = 10000
	defaultSampleRate           = 24000
	defaultMaxConcurrent        = 1
	defaultLoadTimeout          = 300
	defaultRequestTimeout       = 300
	defaultHealthPollInterval   = 2
	defaultMetricsPath          = "/metrics"
	defaultLogsDir              = "logs"
	defaultTextProcessedSubject = "text.processed"
	defaultTextBucket           = "TEXT_FILES"
	defaultAudioBucket          = "AUDIO_FILES"
	defaultNATSURL              = "nats://127.0.0.1:4222"
	maxPort                     = 65535
)

var (
	// ErrUnknownDriver indicates a tier configured with an unsupported driver.
	ErrUnknownDriver = errors.New("unknown backend driver")
	// ErrInvalidPort indicates a port outside 1..65535.
	ErrInvalidPort = errors.New("invalid port")
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                     string   `toml:"host"`
	Port                     int      `toml:"port"`
	ReadHeaderTimeoutSeconds int      `toml:"read_header_timeout_seconds"`
	WriteTimeoutSeconds      int      `toml:"write_timeout_seconds"`
	IdleTimeoutSeconds       int      `toml:"idle_timeout_seconds"`
	ShutdownTimeoutSeconds   int      `toml:"shutdown_timeout_seconds"`
	Device                   string   `toml:"device"`
	CORSAllowedOrigins       []string `toml:"cors_allowed_origins"`
}

// VoicesConfig holds the voice sample locations.
type VoicesConfig struct {
	SamplesDir  string   `toml:"samples_dir"`
	SearchPaths []string `toml:"search_paths"`
}

// GenerationConfig holds request-level limits and text handling.
type GenerationConfig struct {
	MaxTextLength int  `toml:"max_text_length"`
	NormalizeText bool `toml:"normalize_text"`
}

// TierConfig configures the backend serving a single tier.
type TierConfig struct {
	Enabled                   bool   `toml:"enabled"`
	Driver                    string `toml:"driver"`
	ModelName                 string `toml:"model_name"`
	ServiceURL                string `toml:"service_url"`
	BinaryPath                string `toml:"binary_path"`
	ModelPath                 string `toml:"model_path"`
	SampleRate                int    `toml:"sample_rate"`
	Accelerated               bool   `toml:"accelerated"`
	NativeSpeed               bool   `toml:"native_speed"`
	SupportsCloning           bool   `toml:"supports_cloning"`
	SupportsStyle             bool   `toml:"supports_style"`
	MaxConcurrent             int    `toml:"max_concurrent"`
	LoadTimeoutSeconds        int    `toml:"load_timeout_seconds"`
	RequestTimeoutSeconds     int    `toml:"request_timeout_seconds"`
	HealthPollIntervalSeconds int    `toml:"health_poll_interval_seconds"`
}

// TiersConfig holds one TierConfig per tier.
type TiersConfig struct {
	Fast        TierConfig `toml:"fast"`
	Normal      TierConfig `toml:"normal"`
	HighQuality TierConfig `toml:"high_quality"`
}

// NATSConfig holds the configuration for the optional NATS job worker.
type NATSConfig struct {
	Enabled                bool   `toml:"enabled"`
	URL                    string `toml:"url"`
	TextProcessedSubject   string `toml:"text_processed_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	DefaultTier            string `toml:"default_tier"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Voices     VoicesConfig     `toml:"voices"`
	Generation GenerationConfig `toml:"generation"`
	Tiers      TiersConfig      `toml:"tiers"`
	NATS       NATSConfig       `toml:"nats"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(cfg)
}

// LoadFile loads the configuration from a local TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data on top of the defaults and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	err := toml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()

	err := cfg.applyEnv()
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration: a Kokoro-class fast tier and two
// Chatterbox-class cloning tiers, all served by local model workers.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                     defaultHost,
			Port:                     defaultPort,
			ReadHeaderTimeoutSeconds: defaultReadHeaderTimeout,
			WriteTimeoutSeconds:      defaultWriteTimeout,
			IdleTimeoutSeconds:       defaultIdleTimeout,
			ShutdownTimeoutSeconds:   defaultShutdownTimeout,
			Device:                   defaultDevice,
			CORSAllowedOrigins:       []string{"*"},
		},
		Voices: VoicesConfig{
			SamplesDir:  "",
			SearchPaths: []string{"VoiceSamples", "Resources/VoiceSamples"},
		},
		Generation: GenerationConfig{
			MaxTextLength: defaultMaxTextLength,
			NormalizeText: false,
		},
		Tiers: TiersConfig{
			Fast: TierConfig{
				Enabled:         true,
				Driver:          DriverHTTP,
				ModelName:       "kokoro-82m",
				ServiceURL:      "http://127.0.0.1:8790",
				SampleRate:      defaultSampleRate,
				Accelerated:     false,
				NativeSpeed:     true,
				SupportsCloning: false,
				SupportsStyle:   false,
			},
			Normal: TierConfig{
				Enabled:         true,
				Driver:          DriverHTTP,
				ModelName:       "chatterbox-turbo",
				ServiceURL:      "http://127.0.0.1:8791",
				SampleRate:      defaultSampleRate,
				Accelerated:     true,
				NativeSpeed:     false,
				SupportsCloning: true,
				SupportsStyle:   false,
			},
			HighQuality: TierConfig{
				Enabled:         true,
				Driver:          DriverHTTP,
				ModelName:       "chatterbox",
				ServiceURL:      "http://127.0.0.1:8792",
				SampleRate:      defaultSampleRate,
				Accelerated:     true,
				NativeSpeed:     false,
				SupportsCloning: true,
				SupportsStyle:   true,
			},
		},
		NATS: NATSConfig{
			Enabled:                false,
			URL:                    defaultNATSURL,
			TextProcessedSubject:   defaultTextProcessedSubject,
			TextObjectStoreBucket:  defaultTextBucket,
			AudioObjectStoreBucket: defaultAudioBucket,
			DefaultTier:            tier.NameFast,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    defaultMetricsPath,
		},
		Paths: PathsConfig{
			BaseLogsDir: defaultLogsDir,
		},
	}
}

// For returns the configuration of the given tier.
func (t *TiersConfig) For(which tier.Tier) TierConfig {
	switch which {
	case tier.Normal:
		return t.Normal
	case tier.HighQuality:
		return t.HighQuality
	default:
		return t.Fast
	}
}

func (t *TiersConfig) each(apply func(*TierConfig)) {
	apply(&t.Fast)
	apply(&t.Normal)
	apply(&t.HighQuality)
}

// Validate checks values that would make the server unusable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}

	for _, which := range tier.All() {
		tierCfg := c.Tiers.For(which)
		if !tierCfg.Enabled {
			continue
		}

		switch tierCfg.Driver {
		case DriverHTTP, DriverExec:
		default:
			return fmt.Errorf("%w: tier %s uses %q", ErrUnknownDriver, which, tierCfg.Driver)
		}
	}

	if c.NATS.Enabled {
		_, err := tier.Parse(c.NATS.DefaultTier)
		if err != nil {
			return fmt.Errorf("invalid nats default_tier: %w", err)
		}
	}

	return nil
}

// Address returns the host:port the HTTP server listens on.
func (s ServerConfig) Address() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// ReadHeaderTimeout returns the header read timeout.
func (s ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(s.ReadHeaderTimeoutSeconds) * time.Second
}

// WriteTimeout returns the response write timeout. It is generous because
// synthesis on the slow tiers can take minutes.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// IdleTimeout returns the keep-alive idle timeout.
func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// LoadTimeout returns the model load budget.
func (t TierConfig) LoadTimeout() time.Duration {
	return time.Duration(t.LoadTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-synthesis budget.
func (t TierConfig) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutSeconds) * time.Second
}

// HealthPollInterval returns the delay between worker readiness probes.
func (t TierConfig) HealthPollInterval() time.Duration {
	return time.Duration(t.HealthPollIntervalSeconds) * time.Second
}

func (c *Config) applyDefaults() {
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = defaultReadHeaderTimeout
	}

	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = defaultWriteTimeout
	}

	if c.Server.IdleTimeoutSeconds <= 0 {
		c.Server.IdleTimeoutSeconds = defaultIdleTimeout
	}

	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = defaultShutdownTimeout
	}

	if c.Server.Device == "" {
		c.Server.Device = defaultDevice
	}

	if c.Generation.MaxTextLength <= 0 {
		c.Generation.MaxTextLength = defaultMaxTextLength
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = defaultLogsDir
	}

	c.Tiers.each(func(tierCfg *TierConfig) {
		if tierCfg.Driver == "" {
			tierCfg.Driver = DriverHTTP
		}

		if tierCfg.SampleRate <= 0 {
			tierCfg.SampleRate = defaultSampleRate
		}

		if tierCfg.MaxConcurrent <= 0 {
			tierCfg.MaxConcurrent = defaultMaxConcurrent
		}

		if tierCfg.LoadTimeoutSeconds <= 0 {
			tierCfg.LoadTimeoutSeconds = defaultLoadTimeout
		}

		if tierCfg.RequestTimeoutSeconds <= 0 {
			tierCfg.RequestTimeoutSeconds = defaultRequestTimeout
		}

		if tierCfg.HealthPollIntervalSeconds <= 0 {
			tierCfg.HealthPollIntervalSeconds = defaultHealthPollInterval
		}
	})
}

func (c *Config) applyEnv() error {
	if dir := os.Getenv(EnvVoiceSamplesDir); dir != "" {
		c.Voices.SamplesDir = dir
	}

	if host := os.Getenv(EnvHost); host != "" {
		c.Server.Host = host
	}

	if device := os.Getenv(EnvDevice); device != "" {
		c.Server.Device = device
	}

	if rawPort := os.Getenv(EnvPort); rawPort != "" {
		port, err := strconv.Atoi(rawPort)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidPort, EnvPort, rawPort)
		}

		c.Server.Port = port
	}

	return nil
}
