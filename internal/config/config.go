// Package config loads the bridge configuration from YAML with environment
// overrides, and watches the file for the few settings that reload at
// runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	minPollInterval = 10 * time.Second
	maxPollInterval = 300 * time.Second
)

type NVRConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TimeoutSeconds bounds each device HTTP call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// PollIntervalSeconds is the coordinator refresh cadence, clamped to
	// 10..300.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// AdvertiseAddr is the address the device can reach this bridge on; it
	// goes into the EventPush configuration.
	AdvertiseAddr string `yaml:"advertise_addr"`
	AdvertisePort int    `yaml:"advertise_port"`
	WebhookPath   string `yaml:"webhook_path"`
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

type DedupConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxKeys    int `yaml:"max_keys"`
	// MinCommon is the plate-match threshold; reloadable at runtime.
	MinCommon int `yaml:"min_common"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type HistoryConfig struct {
	Slots int `yaml:"slots"`
}

type Config struct {
	NVR      NVRConfig     `yaml:"nvr"`
	Server   ServerConfig  `yaml:"server"`
	Dedup    DedupConfig   `yaml:"dedup"`
	NATS     NATSConfig    `yaml:"nats"`
	Archive  ArchiveConfig `yaml:"archive"`
	History  HistoryConfig `yaml:"history"`
	StateDir string        `yaml:"state_dir"`
}

// Load reads path, applies environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if cfg.NVR.Host == "" {
		return nil, fmt.Errorf("nvr.host is required")
	}
	if cfg.NVR.Username == "" {
		return nil, fmt.Errorf("nvr.username is required")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NVR_HOST"); v != "" {
		c.NVR.Host = v
	}
	if v := os.Getenv("NVR_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.NVR.Port = n
		}
	}
	if v := os.Getenv("NVR_USERNAME"); v != "" {
		c.NVR.Username = v
	}
	if v := os.Getenv("NVR_PASSWORD"); v != "" {
		c.NVR.Password = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("ARCHIVE_DSN"); v != "" {
		c.Archive.DSN = v
		c.Archive.Enabled = true
	}
	if v := os.Getenv("JWT_SIGNING_KEY"); v != "" {
		c.Server.JWTSigningKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.ListenAddr = ":" + v
	}
}

func (c *Config) applyDefaults() {
	if c.NVR.Port == 0 {
		c.NVR.Port = 80
	}
	if c.NVR.TimeoutSeconds <= 0 {
		c.NVR.TimeoutSeconds = 15
	}
	if c.NVR.PollIntervalSeconds <= 0 {
		c.NVR.PollIntervalSeconds = 30
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8093"
	}
	if c.Server.WebhookPath == "" {
		c.Server.WebhookPath = "/webhook"
	}
	if c.Server.AdvertisePort == 0 {
		c.Server.AdvertisePort = 8093
	}
	if c.Dedup.TTLSeconds <= 0 {
		c.Dedup.TTLSeconds = 30
	}
	if c.Dedup.MaxKeys <= 0 {
		c.Dedup.MaxKeys = 4096
	}
	if c.Dedup.MinCommon <= 0 {
		c.Dedup.MinCommon = 3
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "nvrbridge"
	}
	if c.History.Slots <= 0 {
		c.History.Slots = 5
	}
	if c.StateDir == "" {
		c.StateDir = "state"
	}
}

// PollInterval returns the refresh cadence clamped to the supported range.
func (c *Config) PollInterval() time.Duration {
	d := time.Duration(c.NVR.PollIntervalSeconds) * time.Second
	if d < minPollInterval {
		return minPollInterval
	}
	if d > maxPollInterval {
		return maxPollInterval
	}
	return d
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.NVR.TimeoutSeconds) * time.Second
}

func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.Dedup.TTLSeconds) * time.Second
}
