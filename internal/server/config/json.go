package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/taskhive/taskhive/internal/flagx"
	"github.com/taskhive/taskhive/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. Duration fields accept both strings such as "15m" and integer
// nanoseconds. After unmarshalling, its fields are copied into the runtime
// Config struct.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	ExpiryWarningThreshold       timex.Duration `json:"expiry_warning_threshold"`
	TokenStore                   string         `json:"token_store"`
	RedisAddr                    string         `json:"redis_addr"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path is taken from the -c/-config flags; when
// neither is present, no JSON file is loaded. An unreadable or invalid file
// panics, since a half-applied config is worse than no startup.
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

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.RefreshTokenValidityDuration = time.Duration(c.RefreshTokenValidityDuration.Duration)
	config.ExpiryWarningThreshold = time.Duration(c.ExpiryWarningThreshold.Duration)
	config.TokenStore = c.TokenStore
	config.RedisAddr = c.RedisAddr
}
