// Package config loads the gateway's startup configuration from the
// environment (and, optionally, a YAML file layered underneath it),
// the way the teacher codebase layers viper-bound env vars over a
// config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the gateway's immutable startup configuration. Everything
// downstream — the auth manager, the model catalog, the HTTP client,
// the server — is constructed from one of these.
type Config struct {
	// ProxyAPIKey is the bearer secret clients must present.
	ProxyAPIKey string

	// RefreshToken seeds the auth manager when no credentials file is
	// configured or the configured file does not exist yet; an existing
	// file's record replaces it.
	RefreshToken string

	// Region templates the upstream host names.
	Region string

	// CredsFile is an optional path to a JSON credentials file the
	// auth manager loads from and persists refreshes to.
	CredsFile string

	// ProfileARN is an optional upstream profile identifier threaded
	// into the credentials record.
	ProfileARN string

	// RefreshThreshold is how long before expiry the auth manager
	// proactively refreshes the access token.
	RefreshThreshold time.Duration

	// MaxRetries bounds the HTTP client's retry attempts on
	// 429/5xx/timeout.
	MaxRetries int

	// ModelCacheTTL is how long the model catalog snapshot is valid
	// before the next demand triggers a re-fetch.
	ModelCacheTTL time.Duration

	// HTTP server bind address.
	Host string
	Port int

	// Log controls the structured logger.
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment (and, if KIRO_CONFIG_FILE
// is set, from that YAML file as a lower-priority layer) and applies the
// spec's defaults for anything left unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("KIRO_REGION", "us-east-1")
	v.SetDefault("TOKEN_REFRESH_THRESHOLD", 600)
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("MODEL_CACHE_TTL", 3600)
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	if file := v.GetString("KIRO_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		ProxyAPIKey:      v.GetString("PROXY_API_KEY"),
		RefreshToken:     v.GetString("REFRESH_TOKEN"),
		Region:           v.GetString("KIRO_REGION"),
		CredsFile:        v.GetString("KIRO_CREDS_FILE"),
		ProfileARN:       v.GetString("PROFILE_ARN"),
		RefreshThreshold: time.Duration(v.GetInt64("TOKEN_REFRESH_THRESHOLD")) * time.Second,
		MaxRetries:       v.GetInt("MAX_RETRIES"),
		ModelCacheTTL:    time.Duration(v.GetInt64("MODEL_CACHE_TTL")) * time.Second,
		Host:             v.GetString("HOST"),
		Port:             v.GetInt("PORT"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogFormat:        v.GetString("LOG_FORMAT"),
	}

	if cfg.RefreshToken == "" && cfg.CredsFile == "" {
		return nil, fmt.Errorf("one of REFRESH_TOKEN or KIRO_CREDS_FILE must be set")
	}

	return cfg, nil
}
