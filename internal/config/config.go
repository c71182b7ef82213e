package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anchorhome/anchor/internal/learning"
	"github.com/anchorhome/anchor/internal/provider"
	"github.com/anchorhome/anchor/pkg/models"
)

// Config is the full AI-core configuration, loaded from YAML.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Database  DatabaseConfig    `yaml:"database"`
	NATS      NATSConfig        `yaml:"nats"`
	Redis     RedisConfig       `yaml:"redis"`
	Temporal  TemporalConfig    `yaml:"temporal"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
	Cache     CacheConfig       `yaml:"cache"`
	Models    []provider.Config `yaml:"models"`
	Routing   RoutingConfig     `yaml:"routing"`
	Learning  LearningConfig    `yaml:"learning"`
	Discovery DiscoveryConfig   `yaml:"discovery"`
}

// ServerConfig configures the HTTP metrics/health endpoint.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures pattern and case-memory persistence.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string. Empty keeps everything
	// in memory, which is fine for tests and single-node trials.
	DSN string `yaml:"dsn"`
}

// NATSConfig configures the event bus.
type NATSConfig struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	StreamName string        `yaml:"stream_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RedisConfig configures the distributed response cache backend.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TemporalConfig configures out-of-band experiment execution.
type TemporalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	HostPort  string        `yaml:"host_port"`
	Namespace string        `yaml:"namespace"`
	Window    time.Duration `yaml:"window"` // experiment measurement interval
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	MaxSize       int           `yaml:"max_size"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// SpecializedRoute is one conditionally preferred model for a task kind.
type SpecializedRoute struct {
	Model       string `yaml:"model"`
	ForAccuracy bool   `yaml:"for_accuracy"`
	MinDataSize int    `yaml:"min_data_size"`
}

// RouteConfig names the models serving one task kind.
type RouteConfig struct {
	Primary     string             `yaml:"primary"`
	Fallback    string             `yaml:"fallback"`
	Specialized []SpecializedRoute `yaml:"specialized"`
}

// RoutingConfig maps task kinds to routes.
type RoutingConfig map[string]RouteConfig

// LearningConfig tunes the learning pipeline thresholds.
type LearningConfig struct {
	Thresholds learning.Thresholds `yaml:"thresholds"`
}

// DiscoveryConfig tunes batch pattern discovery.
type DiscoveryConfig struct {
	Categories    []string      `yaml:"categories"`
	MinConfidence float64       `yaml:"min_confidence"`
	Interval      time.Duration `yaml:"interval"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8090"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.NATS.StreamName == "" {
		c.NATS.StreamName = "ANCHOR"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "anchor-ai-core"
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = time.Hour
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = 10000
	}
	if c.Cache.CleanupPeriod == 0 {
		c.Cache.CleanupPeriod = 5 * time.Minute
	}
	if c.Discovery.MinConfidence == 0 {
		c.Discovery.MinConfidence = 0.6
	}
	if c.Discovery.Interval == 0 {
		c.Discovery.Interval = 6 * time.Hour
	}
}

// Validate checks internal consistency: every routing entry names a known
// task kind and refers to configured models.
func (c *Config) Validate() error {
	known := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model %d has no name", i)
		}
		if known[m.Name] {
			return fmt.Errorf("duplicate model name %q", m.Name)
		}
		known[m.Name] = true
	}

	for kind, route := range c.Routing {
		if !models.TaskKind(kind).Valid() {
			return fmt.Errorf("routing references unknown task kind %q", kind)
		}
		if route.Primary == "" {
			return fmt.Errorf("routing for %q has no primary model", kind)
		}
		if !known[route.Primary] {
			return fmt.Errorf("routing for %q references unknown model %q", kind, route.Primary)
		}
		if route.Fallback != "" && !known[route.Fallback] {
			return fmt.Errorf("routing for %q references unknown fallback %q", kind, route.Fallback)
		}
		for _, sp := range route.Specialized {
			if !known[sp.Model] {
				return fmt.Errorf("routing for %q references unknown specialized model %q", kind, sp.Model)
			}
		}
	}
	return nil
}
