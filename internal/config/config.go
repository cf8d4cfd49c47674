package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the kosaten API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Cache    CacheConfig    `yaml:"cache"`
	Geocoder GeocoderConfig `yaml:"geocoder"`
	Features FeaturesConfig `yaml:"features"`
	Redis    RedisConfig    `yaml:"redis"`
	Search   SearchConfig   `yaml:"search"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// CacheConfig holds place cache API settings.
type CacheConfig struct {
	BaseURL    string `yaml:"base_url"`
	ServiceKey string `yaml:"service_key"`
	Table      string `yaml:"table"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// GeocoderConfig holds geocoder settings.
type GeocoderConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// FeaturesConfig holds live map-data settings.
type FeaturesConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// RedisConfig holds optional center-cache store settings. With no
// addrs the service runs without a center cache.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	CenterTTLHours   int      `yaml:"center_ttl_hours"`
}

// SearchConfig holds search pipeline tuning.
type SearchConfig struct {
	NearExactRadiusM   int `yaml:"near_exact_radius_m"`
	NearPartialRadiusM int `yaml:"near_partial_radius_m"`
	PartialLimit       int `yaml:"partial_limit"`
	EnrichLimit        int `yaml:"enrich_limit"`
	BackfillTimeoutSec int `yaml:"backfill_timeout_sec"`
}

// IndexerConfig holds area indexing settings.
type IndexerConfig struct {
	RadiusM int `yaml:"radius_m"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// Live tiers can chain geocode and map-data calls.
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Cache.Table == "" {
		c.Cache.Table = "intersections"
	}
	if c.Cache.TimeoutSec <= 0 {
		c.Cache.TimeoutSec = 8
	}
	if c.Geocoder.BaseURL == "" {
		c.Geocoder.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if c.Geocoder.TimeoutSec <= 0 {
		c.Geocoder.TimeoutSec = 8
	}
	if c.Features.BaseURL == "" {
		c.Features.BaseURL = "https://overpass-api.de/api/interpreter"
	}
	if c.Features.TimeoutSec <= 0 {
		c.Features.TimeoutSec = 12
	}
	// Unset ${VAR} substitutions leave empty list entries behind.
	addrs := c.Redis.Addrs[:0]
	for _, a := range c.Redis.Addrs {
		if a != "" {
			addrs = append(addrs, a)
		}
	}
	c.Redis.Addrs = addrs
	if c.Redis.ReadinessTimeout <= 0 {
		c.Redis.ReadinessTimeout = 10
	}
	if c.Redis.CenterTTLHours <= 0 {
		c.Redis.CenterTTLHours = 168
	}
	if c.Search.NearExactRadiusM <= 0 {
		c.Search.NearExactRadiusM = 6000
	}
	if c.Search.NearPartialRadiusM <= 0 {
		c.Search.NearPartialRadiusM = 4000
	}
	if c.Search.PartialLimit <= 0 {
		c.Search.PartialLimit = 20
	}
	if c.Search.EnrichLimit <= 0 {
		c.Search.EnrichLimit = 8
	}
	if c.Search.BackfillTimeoutSec <= 0 {
		c.Search.BackfillTimeoutSec = 10
	}
	if c.Indexer.RadiusM <= 0 {
		c.Indexer.RadiusM = 5000
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Cache.BaseURL == "" {
		return fmt.Errorf("cache.base_url is required")
	}
	if c.Cache.ServiceKey == "" {
		return fmt.Errorf("cache.service_key is required")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
