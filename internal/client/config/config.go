// Package config handles configuration for the client component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the TaskHive CLI client.
//
// Fields:
//   - ServerBaseURL: base URL of the backend HTTP API.
//   - StatusPollInterval: how often the watchdog asks the server for the
//     authoritative remaining refresh-token lifetime.
//   - DialogCountdownSeconds: how many seconds before refresh-token expiry
//     the warning dialog opens. Must match the server's warning threshold
//     for the dialog and automatic rotation to agree.
//   - AccessRenewMargin: how close to access-token expiry a silent refresh
//     is triggered.
//   - StateDir: directory for the persisted profile and refresh cookie.
//     Empty means a ".taskhive" directory under the user's home.
type Config struct {
	ServerBaseURL          string
	StatusPollInterval     time.Duration
	DialogCountdownSeconds int
	AccessRenewMargin      time.Duration
	StateDir               string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.StatusPollInterval = 2 * time.Second
	c.DialogCountdownSeconds = 600
	c.AccessRenewMargin = 60 * time.Second
	c.StateDir = ""
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
