// Package config loads process configuration from environment variables with
// an optional YAML overlay file. The resulting value is passed explicitly to
// every component; nothing here is package-global.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Remote holds the credentials for the SQL-over-HTTP database endpoint.
// All three are required for any remote operation.
type Remote struct {
	AccountID  string `yaml:"account_id"`
	DatabaseID string `yaml:"database_id"`
	APIToken   string `yaml:"api_token"`
}

// Validate returns an error naming the first missing credential.
func (r Remote) Validate() error {
	switch {
	case r.AccountID == "":
		return fmt.Errorf("remote account id not set (COLASCOPE_ACCOUNT_ID)")
	case r.DatabaseID == "":
		return fmt.Errorf("remote database id not set (COLASCOPE_DATABASE_ID)")
	case r.APIToken == "":
		return fmt.Errorf("remote api token not set (COLASCOPE_API_TOKEN)")
	}
	return nil
}

// Config is the full process configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	Headless bool   `yaml:"headless"`

	Remote Remote `yaml:"remote"`

	// CaptchaTimeout bounds the non-interactive CAPTCHA poll.
	CaptchaTimeout time.Duration `yaml:"captcha_timeout"`
	// DetailTimeout bounds one detail-page load.
	DetailTimeout time.Duration `yaml:"detail_timeout"`
	// RemoteTimeout bounds one HTTP call to the remote database.
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
}

// Load builds a Config from the environment. If a config file is named via
// COLASCOPE_CONFIG (or the path argument, which wins), it is read first and
// environment variables override it.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:        "data",
		LogLevel:       "INFO",
		CaptchaTimeout: 300 * time.Second,
		DetailTimeout:  30 * time.Second,
		RemoteTimeout:  60 * time.Second,
	}

	if path == "" {
		path = os.Getenv("COLASCOPE_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("COLASCOPE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("COLASCOPE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COLASCOPE_HEADLESS"); v != "" {
		cfg.Headless = v == "true" || v == "1"
	}
	if v := os.Getenv("COLASCOPE_ACCOUNT_ID"); v != "" {
		cfg.Remote.AccountID = v
	}
	if v := os.Getenv("COLASCOPE_DATABASE_ID"); v != "" {
		cfg.Remote.DatabaseID = v
	}
	if v := os.Getenv("COLASCOPE_API_TOKEN"); v != "" {
		cfg.Remote.APIToken = v
	}
	return cfg, nil
}
