package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Filter    FilterConfig    `koanf:"filter"`
	Detector  DetectorConfig  `koanf:"detector"`
	Security  SecurityConfig  `koanf:"security"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Enabled  bool   `koanf:"enabled"`
}

// FilterConfig selects and sizes the membership filter backing. The backing
// is a config-time choice, not a runtime capability check.
type FilterConfig struct {
	Backend           string        `koanf:"backend"` // "bloom" or "exact"
	ExpectedCapacity  uint64        `koanf:"expected_capacity"`
	FalsePositiveRate float64       `koanf:"false_positive_rate"`
	DecisionCacheTTL  time.Duration `koanf:"decision_cache_ttl"`
}

type DetectorConfig struct {
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
}

type SecurityConfig struct {
	JWTSecret   string          `koanf:"jwt_secret"`
	TokenExpiry time.Duration   `koanf:"token_expiry"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
}

// TelemetryConfig configures OTLP trace and metric export. Disabled installs
// no-op providers, so instrumented code needs no collector in development.
type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

type RateLimitConfig struct {
	CheckPerSecond    int `koanf:"check_per_second"`
	MutationPerSecond int `koanf:"mutation_per_second"`
	AdminPerMinute    int `koanf:"admin_per_minute"`
	BurstMultiplier   int `koanf:"burst_multiplier"`
}

func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:      0,
			Enabled: true,
		},
		Filter: FilterConfig{
			Backend:           "bloom",
			ExpectedCapacity:  1_000_000,
			FalsePositiveRate: 0.01,
			DecisionCacheTTL:  5 * time.Minute,
		},
		Detector: DetectorConfig{
			ConfidenceThreshold: 0.85,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
		Security: SecurityConfig{
			TokenExpiry: 24 * time.Hour,
			RateLimit: RateLimitConfig{
				CheckPerSecond:    1000,
				MutationPerSecond: 100,
				AdminPerMinute:    10,
				BurstMultiplier:   2,
			},
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables
	if err := k.Load(env.Provider("DNC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "DNC_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	switch c.Filter.Backend {
	case "bloom", "exact":
	default:
		return fmt.Errorf("filter.backend must be \"bloom\" or \"exact\", got %q", c.Filter.Backend)
	}

	if c.Filter.FalsePositiveRate <= 0 || c.Filter.FalsePositiveRate >= 1 {
		return fmt.Errorf("filter.false_positive_rate must be in (0, 1), got %f", c.Filter.FalsePositiveRate)
	}

	if c.Filter.ExpectedCapacity == 0 {
		return fmt.Errorf("filter.expected_capacity must be positive")
	}

	return nil
}
