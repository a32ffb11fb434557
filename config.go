package devsession

import (
	"context"
	"fmt"
	"time"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/project-nyra/devsession/service/controller"
	"github.com/project-nyra/devsession/service/waiter"
)

// Config is a serialisable representation of the subsystem configuration.
// It can be populated from JSON or YAML; the zero-value of every field
// inherits its package default.
type Config struct {
	// BaseLocation is the host-scoped directory holding the session
	// table, the current pointer and pending signals. Empty means the
	// well-known default under temporary storage.
	BaseLocation string `json:"baseLocation" yaml:"baseLocation"`

	// GracePeriodMs bounds graceful termination before escalation.
	GracePeriodMs int `json:"gracePeriodMs" yaml:"gracePeriodMs"`

	// PollIntervalMs is the completion poller cadence.
	PollIntervalMs int `json:"pollIntervalMs" yaml:"pollIntervalMs"`

	// StartupDelayMs debounces launch-then-wait races.
	StartupDelayMs int `json:"startupDelayMs" yaml:"startupDelayMs"`

	// TruncateLimit bounds the response text fields, in bytes.
	TruncateLimit int `json:"truncateLimit" yaml:"truncateLimit"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		GracePeriodMs:  5000,
		PollIntervalMs: 250,
		StartupDelayMs: 250,
		TruncateLimit:  1000,
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.GracePeriodMs <= 0 {
		return fmt.Errorf("gracePeriodMs must be > 0")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("pollIntervalMs must be > 0")
	}
	if c.StartupDelayMs < 0 {
		return fmt.Errorf("startupDelayMs must be >= 0")
	}
	if c.TruncateLimit <= 0 {
		return fmt.Errorf("truncateLimit must be > 0")
	}
	return nil
}

// LoadConfig reads a YAML (or JSON, a YAML subset) config document from
// URL. Unset fields keep their defaults.
func LoadConfig(ctx context.Context, fileService afs.Service, URL string) (*Config, error) {
	data, err := fileService.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", URL, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", URL, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) controllerConfig() controller.Config {
	cfg := controller.DefaultConfig()
	cfg.GracePeriod = time.Duration(c.GracePeriodMs) * time.Millisecond
	return cfg
}

func (c *Config) waiterConfig() waiter.Config {
	cfg := waiter.DefaultConfig()
	cfg.PollInterval = time.Duration(c.PollIntervalMs) * time.Millisecond
	cfg.StartupDelay = time.Duration(c.StartupDelayMs) * time.Millisecond
	return cfg
}
