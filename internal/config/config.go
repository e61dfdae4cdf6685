// Package config provides configuration management for the Outpost daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the daemon's timing and window parameters.
const (
	DefaultListenAddr          = "127.0.0.1:7465"
	DefaultOfflineMaxDays      = 14
	DefaultPollIntervalSecs    = 60
	DefaultPollInitialDelaySec = 10
	DefaultHubTimeoutSecs      = 15
	DefaultSessionTTLHours     = 12
	DefaultCredentialMaxAgeDay = 90
)

// DefaultConfigDir returns the default config directory (~/.groomwise).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".groomwise"), nil
}

// DefaultConfigPath returns the default config file path (~/.groomwise/outpost.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "outpost.yml"), nil
}

// ProxyConfig contains outbound proxy settings for shops that sit behind one.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"http_proxy,omitempty"`
	HTTPSProxy  string `yaml:"https_proxy,omitempty"`
	SOCKS5Proxy string `yaml:"socks5_proxy,omitempty"`
	NoProxy     string `yaml:"no_proxy,omitempty"`
}

// HasProxy returns true if any proxy is configured.
func (p *ProxyConfig) HasProxy() bool {
	return p != nil && (p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != "")
}

// Config holds the Outpost daemon's configuration.
type Config struct {
	HubURL     string `yaml:"hub_url,omitempty"`
	DeviceID   string `yaml:"device_id,omitempty"`
	TenantID   string `yaml:"tenant_id,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
	DataDir    string `yaml:"data_dir,omitempty"`

	// OfflineMaxDays is the maximum number of days the device may operate
	// without successfully reaching the Hub.
	OfflineMaxDays int `yaml:"offline_max_days,omitempty"`

	PollIntervalSeconds     int `yaml:"poll_interval_seconds,omitempty"`
	PollInitialDelaySeconds int `yaml:"poll_initial_delay_seconds,omitempty"`
	HubTimeoutSeconds       int `yaml:"hub_timeout_seconds,omitempty"`
	SessionTTLHours         int `yaml:"session_ttl_hours,omitempty"`
	CredentialMaxAgeDays    int `yaml:"credential_max_age_days,omitempty"`

	Proxy *ProxyConfig `yaml:"proxy,omitempty"`
}

// Validate checks that the configuration has required fields for serving.
func (c *Config) Validate() error {
	if c.HubURL == "" {
		return errors.New("hub_url is required")
	}
	if c.OfflineMaxDays < 0 {
		return errors.New("offline_max_days must not be negative")
	}
	return nil
}

// IsActivated returns true once the device has been activated with the Hub.
func (c *Config) IsActivated() bool {
	return c.DeviceID != "" && c.TenantID != ""
}

// PollInterval returns the connectivity poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// PollInitialDelay returns the delay before the first connectivity probe.
func (c *Config) PollInitialDelay() time.Duration {
	return time.Duration(c.PollInitialDelaySeconds) * time.Second
}

// HubTimeout returns the per-call Hub request timeout.
func (c *Config) HubTimeout() time.Duration {
	return time.Duration(c.HubTimeoutSeconds) * time.Second
}

// SessionTTL returns the local session token lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// CredentialMaxAge returns how long cached credentials live without a fresh
// online authentication before maintenance prunes them.
func (c *Config) CredentialMaxAge() time.Duration {
	return time.Duration(c.CredentialMaxAgeDays) * 24 * time.Hour
}

// applyDefaults fills unset fields with defaults.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.OfflineMaxDays == 0 {
		c.OfflineMaxDays = DefaultOfflineMaxDays
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = DefaultPollIntervalSecs
	}
	if c.PollInitialDelaySeconds <= 0 {
		c.PollInitialDelaySeconds = DefaultPollInitialDelaySec
	}
	if c.HubTimeoutSeconds <= 0 {
		c.HubTimeoutSeconds = DefaultHubTimeoutSecs
	}
	if c.SessionTTLHours <= 0 {
		c.SessionTTLHours = DefaultSessionTTLHours
	}
	if c.CredentialMaxAgeDays <= 0 {
		c.CredentialMaxAgeDays = DefaultCredentialMaxAgeDay
	}
	if c.DataDir == "" {
		if dir, err := DefaultConfigDir(); err == nil {
			c.DataDir = dir
		}
	}
}

// applyEnv overlays environment variables onto the file configuration.
func (c *Config) applyEnv() {
	if v := os.Getenv("OUTPOST_HUB_URL"); v != "" {
		c.HubURL = v
	}
	if v := os.Getenv("OUTPOST_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("OUTPOST_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	c.OfflineMaxDays = getEnvInt("OFFLINE_MAX_DAYS", c.OfflineMaxDays)
	c.PollIntervalSeconds = getEnvInt("OUTPOST_POLL_INTERVAL_SECONDS", c.PollIntervalSeconds)
	c.HubTimeoutSeconds = getEnvInt("OUTPOST_HUB_TIMEOUT_SECONDS", c.HubTimeoutSeconds)
}

// Load reads the configuration from the given path, applying defaults and
// environment overrides. A missing file yields a default config.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as
// needed. Restricted permissions: the file carries the device identity.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// SaveDefault saves the configuration to the default path.
func (c *Config) SaveDefault() error {
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.Save(path)
}

// getEnvInt reads an integer from an environment variable, returning the
// default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
