// Manages server configuration stored in config.yaml.

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the server configuration file inside the data directory.
const ConfigFileName = "config.yaml"

// StepsView selects the response contract of GET /steps for a deployment.
type StepsView string

const (
	// StepsViewSamples returns every stored sample and the total.
	StepsViewSamples StepsView = "samples"
	// StepsViewCount returns only the stored count, backed by the count cache.
	StepsViewCount StepsView = "count"
)

// Validate checks that v is a known view.
func (v StepsView) Validate() error {
	switch v {
	case StepsViewSamples, StepsViewCount:
		return nil
	default:
		return fmt.Errorf("unknown steps view %q (want %q or %q)", v, StepsViewSamples, StepsViewCount)
	}
}

// ServerConfig stores all server-wide configuration.
// Loaded from config.yaml, created with defaults if missing.
type ServerConfig struct {
	// StepsView selects the GET /steps contract. It is fixed for the lifetime
	// of a data directory's deployment.
	StepsView StepsView `yaml:"steps_view"`

	// Quotas defines request size limits.
	Quotas Quotas `yaml:"quotas"`

	// RateLimits defines rate limiting configuration.
	RateLimits RateLimits `yaml:"rate_limits"`

	// CORS defines cross-origin settings.
	CORS CORSConfig `yaml:"cors"`
}

// Quotas defines request and response size limits.
type Quotas struct {
	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	// MaxSamplesPerBatch limits how many samples one POST may carry.
	// 0 means unlimited.
	MaxSamplesPerBatch int `yaml:"max_samples_per_batch"`

	// MaxEgressBytesPerSec limits the bytes per second sent by GET /steps,
	// shared by all clients. 0 means unlimited.
	MaxEgressBytesPerSec int64 `yaml:"max_egress_bytes_per_sec"`
}

// Validate checks that all quota values are usable.
func (q *Quotas) Validate() error {
	if q.MaxRequestBodyBytes <= 0 {
		return errors.New("max_request_body_bytes must be positive")
	}
	if q.MaxSamplesPerBatch < 0 {
		return errors.New("max_samples_per_batch must be non-negative")
	}
	if q.MaxEgressBytesPerSec < 0 {
		return errors.New("max_egress_bytes_per_sec must be non-negative")
	}
	return nil
}

// RateLimits defines rate limiting configuration (requests per minute per
// client IP).
type RateLimits struct {
	// WriteRatePerMin limits POST and DELETE requests. 0 means unlimited.
	WriteRatePerMin int `yaml:"write_rate_per_min"`

	// ReadRatePerMin limits GET requests. 0 means unlimited.
	ReadRatePerMin int `yaml:"read_rate_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.WriteRatePerMin < 0 {
		return errors.New("write_rate_per_min must be non-negative")
	}
	if r.ReadRatePerMin < 0 {
		return errors.New("read_rate_per_min must be non-negative")
	}
	return nil
}

// CORSConfig defines which browser origins may call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultServerConfig returns the configuration written on first start.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		StepsView: StepsViewSamples,
		Quotas: Quotas{
			MaxRequestBodyBytes:  10 * 1024 * 1024, // 10 MiB
			MaxSamplesPerBatch:   0,
			MaxEgressBytesPerSec: 0,
		},
		RateLimits: RateLimits{
			WriteRatePerMin: 600,
			ReadRatePerMin:  6000,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Validate checks that the configuration is valid.
func (c *ServerConfig) Validate() error {
	if err := c.StepsView.Validate(); err != nil {
		return fmt.Errorf("steps_view: %w", err)
	}
	if err := c.Quotas.Validate(); err != nil {
		return fmt.Errorf("quotas: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	return nil
}

// LoadServerConfig loads configuration from dataDir/config.yaml.
// Creates the file with defaults if it doesn't exist. Keys missing from an
// existing file keep their default value.
func LoadServerConfig(dataDir string) (*ServerConfig, error) {
	path := filepath.Join(dataDir, ConfigFileName)

	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", ConfigFileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ConfigFileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ConfigFileName, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/config.yaml.
func (c *ServerConfig) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, ConfigFileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", ConfigFileName, err)
	}
	return nil
}
