package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/withobsrvr/nyc311-ingestion/client"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	API     APIConfig     `yaml:"api"`
	Loader  LoaderConfig  `yaml:"loader"`
	State   StateConfig   `yaml:"state"`
	Archive ArchiveConfig `yaml:"archive"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	Name                string `yaml:"name"`
	HealthPort          string `yaml:"health_port"`
	PollIntervalMinutes int    `yaml:"poll_interval_minutes"`
}

// APIConfig contains Socrata API client settings.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	AppToken       string `yaml:"app_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms"`
	PageSize       int    `yaml:"page_size"`
	PageDelayMS    int    `yaml:"page_delay_ms"`
}

// LoaderConfig contains incremental-load settings.
type LoaderConfig struct {
	SCD2Mode            bool `yaml:"scd2_mode"`
	InitialLookbackDays int  `yaml:"initial_lookback_days"`
}

// StateConfig selects where the loader state lives.
type StateConfig struct {
	// Backend is one of "file", "duckdb", "object".
	Backend string `yaml:"backend"`

	// Path is the state file path (file backend) or database path
	// (duckdb backend).
	Path string `yaml:"path"`

	// Bucket and Key locate the state object for the object backend,
	// which reuses the archive section's MinIO connection settings.
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
}

// ArchiveConfig contains raw-page landing settings (S3-compatible storage).
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// NotifyConfig contains downstream load-complete notification settings.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
}

// LoadConfig builds the configuration in three layers: defaults, then the
// YAML file at path (skipped with a log line if absent), then environment
// overrides for the endpoint and credentials.
func LoadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvOverrides(config)
	return config, nil
}

// defaultConfig returns the configuration used when neither the YAML file
// nor the environment says otherwise.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                "nyc311-ingestion",
			HealthPort:          "8080",
			PollIntervalMinutes: 15,
		},
		API: APIConfig{
			BaseURL:        "https://data.cityofnewyork.us/resource/erm2-nwe9.json",
			TimeoutSeconds: 30,
			MaxRetries:     3,
			RetryBackoffMS: 500,
			PageSize:       10000,
			PageDelayMS:    100,
		},
		Loader: LoaderConfig{
			SCD2Mode:            true,
			InitialLookbackDays: 7,
		},
		State: StateConfig{
			Backend: "file",
			Path:    "./state/loader_state.json",
		},
		Archive: ArchiveConfig{
			Bucket: "raw-data",
			Prefix: "nyc311",
		},
		Notify: NotifyConfig{
			Queue: "transform",
		},
	}
}

// applyEnvOverrides layers environment variables on top of file config so
// secrets stay out of the YAML.
func applyEnvOverrides(config *Config) {
	config.API.BaseURL = getEnv("NYC_OPENDATA_URL", config.API.BaseURL)
	config.API.AppToken = getEnv("NYC_OPENDATA_APP_TOKEN", config.API.AppToken)
	config.API.TimeoutSeconds = getIntEnv("NYC_OPENDATA_TIMEOUT_SECONDS", config.API.TimeoutSeconds)
	config.API.MaxRetries = getIntEnv("NYC_OPENDATA_MAX_RETRIES", config.API.MaxRetries)
	config.API.RetryBackoffMS = getIntEnv("NYC_OPENDATA_RETRY_BACKOFF_MS", config.API.RetryBackoffMS)
	config.API.PageSize = getIntEnv("NYC_OPENDATA_PAGE_SIZE", config.API.PageSize)
	config.Service.HealthPort = getEnv("HEALTH_PORT", config.Service.HealthPort)
	config.Archive.Endpoint = getEnv("MINIO_ENDPOINT", config.Archive.Endpoint)
	config.Archive.AccessKey = getEnv("MINIO_ACCESS_KEY", config.Archive.AccessKey)
	config.Archive.SecretKey = getEnv("MINIO_SECRET_KEY", config.Archive.SecretKey)
	config.Notify.URL = getEnv("RABBITMQ_URL", config.Notify.URL)
}

// Validate checks the configuration is runnable.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Service.PollIntervalMinutes <= 0 {
		return fmt.Errorf("service.poll_interval_minutes must be positive")
	}
	switch c.State.Backend {
	case "file", "duckdb":
		if c.State.Path == "" {
			return fmt.Errorf("state.path is required for the %s backend", c.State.Backend)
		}
	case "object":
		if c.State.Bucket == "" {
			return fmt.Errorf("state.bucket is required for the object backend")
		}
		if c.Archive.Endpoint == "" {
			return fmt.Errorf("archive.endpoint is required for the object state backend")
		}
	default:
		return fmt.Errorf("state.backend must be file, duckdb, or object (got %q)", c.State.Backend)
	}
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			return fmt.Errorf("archive.endpoint is required when archive is enabled")
		}
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive is enabled")
		}
	}
	if c.Notify.Enabled && c.Notify.URL == "" {
		return fmt.Errorf("notify.url is required when notify is enabled")
	}
	return nil
}

// PollInterval returns the load cycle interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Service.PollIntervalMinutes) * time.Minute
}

// ClientConfig maps the API section to the client package's config.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:      c.API.BaseURL,
		AppToken:     c.API.AppToken,
		Timeout:      time.Duration(c.API.TimeoutSeconds) * time.Second,
		MaxRetries:   c.API.MaxRetries,
		RetryBackoff: time.Duration(c.API.RetryBackoffMS) * time.Millisecond,
		PageSize:     c.API.PageSize,
		PageDelay:    time.Duration(c.API.PageDelayMS) * time.Millisecond,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
