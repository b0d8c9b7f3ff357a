// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads kerneld's YAML configuration file, applying
// environment variable overrides on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	kerrors "github.com/kernelflow/kerneld/pkg/errors"
)

// LogConfig configures structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KernelConfig configures the orchestration kernel itself.
type KernelConfig struct {
	// Listen is the address the REST adapter and dashboard bind to;
	// the gRPC adapter binds to the next port up.
	Listen string `yaml:"listen"`

	// DataDir is where a durable persistence backend stores its files.
	DataDir string `yaml:"data_dir"`

	// Persistence selects the backend: "memory", "snapshot" or
	// "state-action-log".
	Persistence string `yaml:"persistence"`

	// SnapshotInterval is the reserved write count between snapshots
	// for the "snapshot" backend.
	SnapshotInterval int `yaml:"snapshot_interval,omitempty"`

	// BroadcasterCapacity is validated to be positive but is not passed
	// to the broadcaster, which always uses the fixed events.Capacity
	// (1000) for its ring buffer and subscriber channels.
	BroadcasterCapacity int `yaml:"broadcaster_capacity"`

	// HeartbeatInterval is the expected worker heartbeat cadence; a
	// worker silent for 3x this long is evicted.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// PollRatePerSecond caps PollTasks calls per worker id.
	PollRatePerSecond float64 `yaml:"poll_rate_per_second"`

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// ShutdownTimeout bounds forceful shutdown after DrainTimeout.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures worker session token issuance.
type AuthConfig struct {
	// JWTSecret signs worker session tokens. Required in production;
	// Validate rejects an empty secret unless Insecure is true.
	JWTSecret string `yaml:"jwt_secret,omitempty"`

	// TokenTTL is how long a minted worker session token is valid.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// Insecure allows an empty JWTSecret, for local development only.
	Insecure bool `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Config is kerneld's complete configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Kernel  KernelConfig  `yaml:"kernel"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Default returns a Config with production-sane defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Kernel: KernelConfig{
			Listen:              ":7070",
			DataDir:             "./data",
			Persistence:         "memory",
			BroadcasterCapacity: 1000,
			HeartbeatInterval:   30 * time.Second,
			PollRatePerSecond:   20,
			DrainTimeout:        30 * time.Second,
			ShutdownTimeout:     10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
		},
	}
}

// Load reads configuration from path, applies KERNELD_* environment
// overrides on top of it, and then validates the result. An empty path
// starts from Default with only environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &kerrors.ValidationError{Field: "config_file", Message: err.Error()}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &kerrors.ValidationError{Field: "config_file", Message: err.Error()}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("KERNELD_LISTEN"); v != "" {
		c.Kernel.Listen = v
	}
	if v := os.Getenv("KERNELD_DATA_DIR"); v != "" {
		c.Kernel.DataDir = v
	}
	if v := os.Getenv("KERNELD_PERSISTENCE"); v != "" {
		c.Kernel.Persistence = v
	}
	if v := os.Getenv("KERNELD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("KERNELD_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("KERNELD_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("KERNELD_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Kernel.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("KERNELD_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Metrics.Enabled = b
		}
	}
}

// Validate checks Config for internally-consistent values.
func (c *Config) Validate() error {
	switch c.Kernel.Persistence {
	case "memory", "snapshot", "state-action-log":
	default:
		return &kerrors.ValidationError{
			Field:   "kernel.persistence",
			Message: fmt.Sprintf("unknown persistence mode %q", c.Kernel.Persistence),
		}
	}
	if c.Kernel.BroadcasterCapacity <= 0 {
		return &kerrors.ValidationError{Field: "kernel.broadcaster_capacity", Message: "must be positive"}
	}
	if c.Auth.JWTSecret == "" && !c.Auth.Insecure {
		return &kerrors.ValidationError{
			Field:   "auth.jwt_secret",
			Message: "required unless auth.insecure is set",
		}
	}
	return nil
}
