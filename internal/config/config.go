// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port         int `mapstructure:"port"`
	MetricsPort  int `mapstructure:"metrics_port"`
	MaxBatchSize int `mapstructure:"max_batch_size"`
	// MaxImagePixels rejects images whose header declares a larger canvas.
	MaxImagePixels int `mapstructure:"max_image_pixels"`

	Model   ModelConfig   `mapstructure:"model"`
	Session SessionConfig `mapstructure:"session"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Log     LogConfig     `mapstructure:"log"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Feature flags
	UseMockInference bool `mapstructure:"use_mock_inference"`
}

// ModelConfig locates the model assets
type ModelConfig struct {
	Encoder    string `mapstructure:"encoder"`
	Decoder    string `mapstructure:"decoder"`
	Embeddings string `mapstructure:"embeddings"`
	Vocab      string `mapstructure:"vocab"`
}

// SessionConfig tunes the inference session
type SessionConfig struct {
	CacheDir          string        `mapstructure:"cache_dir"`
	AcceleratorLibDir string        `mapstructure:"accelerator_lib_dir"`
	LatencyBudget     time.Duration `mapstructure:"latency_budget"`
	// ReleaseDelay is the pause after Close when a GPU was in use. Zero
	// disables it.
	ReleaseDelay time.Duration `mapstructure:"release_delay"`
}

// CacheConfig sizes the result cache. An empty RedisAddr keeps it local.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Capacity      int           `mapstructure:"capacity"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// LogConfig selects the logger level and encoding ("json" or "console")
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command-line flag names to configuration keys
var flagKeys = map[string]string{
	"port":            "port",
	"metrics-port":    "metrics_port",
	"max-batch-size":  "max_batch_size",
	"encoder":         "model.encoder",
	"decoder":         "model.decoder",
	"embeddings":      "model.embeddings",
	"vocab":           "model.vocab",
	"cache-dir":       "session.cache_dir",
	"accelerator-lib": "session.accelerator_lib_dir",
	"redis":           "cache.redis_addr",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"mock":            "use_mock_inference",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 50051)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("max_batch_size", 16)
	v.SetDefault("max_image_pixels", 40_000_000)

	v.SetDefault("model.encoder", "models/encoder.onnx")
	v.SetDefault("model.decoder", "models/decoder.onnx")
	v.SetDefault("model.embeddings", "models/embeddings.bin")
	v.SetDefault("model.vocab", "models/vocab.json")

	v.SetDefault("session.cache_dir", "")
	v.SetDefault("session.accelerator_lib_dir", "")
	v.SetDefault("session.latency_budget", 500*time.Millisecond)
	v.SetDefault("session.release_delay", 100*time.Millisecond)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("use_mock_inference", false)
}

// Load loads configuration from flags, environment variables, and an optional config file.
// Priority (highest to lowest): flags > env vars > config file > defaults.
// An empty configFile searches ., /etc/ocr-service/ and $HOME/.ocr-service for config.yaml.
// flags may be nil.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable configuration: OCR_SERVICE_MODEL_ENCODER etc.
	v.SetEnvPrefix("OCR_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("otel_endpoint", "OCR_SERVICE_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("use_mock_inference", "OCR_SERVICE_USE_MOCK")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ocr-service/")
		v.AddConfigPath("$HOME/.ocr-service")

		// Read config file if present (ignore error if not found)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The OTEL standard endpoint variable also turns tracing on.
	if cfg.OTELEndpoint != "" {
		cfg.OTELEnabled = true
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", c.MaxBatchSize)
	}
	if c.MaxImagePixels < 0 {
		return fmt.Errorf("max_image_pixels must not be negative, got %d", c.MaxImagePixels)
	}
	if err := c.ValidateModel(); err != nil {
		return err
	}
	if c.Cache.Enabled && c.Cache.Capacity < 0 {
		return fmt.Errorf("cache capacity must not be negative, got %d", c.Cache.Capacity)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ValidateModel checks the model asset paths, which the mock engine does not
// need
func (c *Config) ValidateModel() error {
	if c.UseMockInference {
		return nil
	}
	paths := map[string]string{
		"model.encoder":    c.Model.Encoder,
		"model.decoder":    c.Model.Decoder,
		"model.embeddings": c.Model.Embeddings,
		"model.vocab":      c.Model.Vocab,
	}
	for _, key := range []string{"model.encoder", "model.decoder", "model.embeddings", "model.vocab"} {
		if paths[key] == "" {
			return fmt.Errorf("%s is required when not using mock inference", key)
		}
	}
	if c.Session.LatencyBudget < 0 {
		return fmt.Errorf("session.latency_budget must not be negative")
	}
	return nil
}
