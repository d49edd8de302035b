package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/taskhive/taskhive/internal/flagx"
	"github.com/taskhive/taskhive/internal/timex"
)

// JsonConfig is an intermediate DTO for reading client JSON configuration
// files. Interval fields accept both duration strings and nanosecond
// integers.
type JsonConfig struct {
	ServerBaseURL          string         `json:"server_base_url"`
	StatusPollInterval     timex.Duration `json:"status_poll_interval"`
	DialogCountdownSeconds int            `json:"dialog_countdown_seconds"`
	AccessRenewMargin      timex.Duration `json:"access_renew_margin"`
	StateDir               string         `json:"state_dir"`
}

// parseJson loads configuration values from the JSON file given via the
// -c/-config flags, if any.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.ServerBaseURL = c.ServerBaseURL
	config.StatusPollInterval = time.Duration(c.StatusPollInterval.Duration)
	config.DialogCountdownSeconds = c.DialogCountdownSeconds
	config.AccessRenewMargin = time.Duration(c.AccessRenewMargin.Duration)
	config.StateDir = c.StateDir
}
