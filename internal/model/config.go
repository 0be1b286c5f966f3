package model

import (
	"fmt"
	"strings"
	"time"
)

// --- Configuration Structures ---

type Config struct {
	InstanceName string `yaml:"instance_name" toml:"instance_name" json:"instance_name"`
	APIURL       string `yaml:"api_url" toml:"api_url" json:"api_url"`
	APIUsername  string `yaml:"api_username" toml:"api_username" json:"api_username"`
	APIPassword  string `yaml:"api_password" toml:"api_password" json:"api_password"`
	APIToken     string `yaml:"api_token,omitempty" toml:"api_token,omitempty" json:"api_token,omitempty"`

	PrinterCheckIntervalSec int `yaml:"printer_check_interval_sec" toml:"printer_check_interval_sec" json:"printer_check_interval_sec"`
	JobCheckIntervalSec     int `yaml:"job_check_interval_sec" toml:"job_check_interval_sec" json:"job_check_interval_sec"`
	StatusCheckIntervalSec  int `yaml:"status_check_interval_sec" toml:"status_check_interval_sec" json:"status_check_interval_sec"`
	JobTimeoutSec           int `yaml:"job_timeout_sec" toml:"job_timeout_sec" json:"job_timeout_sec"`
	ShutdownTimeoutSec      int `yaml:"shutdown_timeout_sec" toml:"shutdown_timeout_sec" json:"shutdown_timeout_sec"`
	ReconnectDelaySec       int `yaml:"reconnect_delay_sec" toml:"reconnect_delay_sec" json:"reconnect_delay_sec"`

	PushEnabled bool          `yaml:"push_enabled" toml:"push_enabled" json:"push_enabled"`
	Push        PushConfig    `yaml:"push" toml:"push" json:"push"`
	Storage     StorageConfig `yaml:"storage" toml:"storage" json:"storage"`
	Logging     LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`
}

// PushConfig describes the Reverb (Pusher protocol) realtime channel.
type PushConfig struct {
	AppID        string `yaml:"app_id" toml:"app_id" json:"app_id"`
	AppKey       string `yaml:"app_key" toml:"app_key" json:"app_key"`
	AppSecret    string `yaml:"app_secret,omitempty" toml:"app_secret,omitempty" json:"app_secret,omitempty"`
	Host         string `yaml:"host" toml:"host" json:"host"`
	UseTLS       bool   `yaml:"use_tls" toml:"use_tls" json:"use_tls"`
	AuthEndpoint string `yaml:"auth_endpoint,omitempty" toml:"auth_endpoint,omitempty" json:"auth_endpoint,omitempty"`
}

type StorageConfig struct {
	PrintersFile string `yaml:"printers_file" toml:"printers_file" json:"printers_file"`
	TempDir      string `yaml:"temp_dir,omitempty" toml:"temp_dir,omitempty" json:"temp_dir,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// DefaultConfig returns the configuration written on first start.
func DefaultConfig() Config {
	return Config{
		InstanceName:            "default-instance",
		APIURL:                  "http://localhost/api",
		APIUsername:             "spooler",
		PrinterCheckIntervalSec: 300,
		JobCheckIntervalSec:     120,
		StatusCheckIntervalSec:  15,
		JobTimeoutSec:           300,
		ShutdownTimeoutSec:      5,
		ReconnectDelaySec:       5,
		PushEnabled:             false,
		Push: PushConfig{
			UseTLS: true,
		},
		Storage: StorageConfig{
			PrintersFile: "printers.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c Config) PrinterCheckInterval() time.Duration {
	return seconds(c.PrinterCheckIntervalSec, 300)
}

func (c Config) JobCheckInterval() time.Duration {
	return seconds(c.JobCheckIntervalSec, 120)
}

func (c Config) StatusCheckInterval() time.Duration {
	return seconds(c.StatusCheckIntervalSec, 15)
}

func (c Config) JobTimeout() time.Duration {
	return seconds(c.JobTimeoutSec, 300)
}

func (c Config) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutSec, 5)
}

func (c Config) ReconnectDelay() time.Duration {
	return seconds(c.ReconnectDelaySec, 5)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.InstanceName) == "" {
		return fmt.Errorf("instance name is required")
	}
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("api url is required")
	}

	intervals := map[string]int{
		"printer_check_interval_sec": c.PrinterCheckIntervalSec,
		"job_check_interval_sec":     c.JobCheckIntervalSec,
		"status_check_interval_sec":  c.StatusCheckIntervalSec,
		"job_timeout_sec":            c.JobTimeoutSec,
		"shutdown_timeout_sec":       c.ShutdownTimeoutSec,
		"reconnect_delay_sec":        c.ReconnectDelaySec,
	}
	for name, v := range intervals {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, v)
		}
	}

	if c.PushEnabled {
		if c.Push.AppKey == "" {
			return fmt.Errorf("push.app_key is required when push is enabled")
		}
		if c.Push.Host == "" {
			return fmt.Errorf("push.host is required when push is enabled")
		}
		if c.Push.AppSecret == "" && c.Push.AuthEndpoint == "" {
			return fmt.Errorf("push.app_secret or push.auth_endpoint is required when push is enabled")
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}
