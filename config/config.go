// Package config loads the proxy settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to the environment variable of every setting.
const EnvPrefix = "PROXY_CACHE_"

const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
)

type Config struct {
	// Base URL of the origin, e.g. "http://example.com".
	URL string `yaml:"url" env:"URL"`
	// Port the proxy listens on.
	Port int `yaml:"port" env:"PORT"`
	// Lifetime of cache entries in minutes. Zero selects the default TTL.
	TTLMinutes int `yaml:"ttlMinutes" env:"TTL_MINUTES"`
	// Port of the admin HTTP API. Zero disables it.
	AdminPort int `yaml:"adminPort" env:"ADMIN_PORT"`
	// Cache provider, "memory" or "sqlite".
	Provider string `yaml:"provider" env:"PROVIDER"`
	// SQLite database file, used by the sqlite provider.
	DB string `yaml:"db" env:"DB"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Port:     8080,
		Provider: ProviderMemory,
		DB:       "cache.db",
	}
}

// Load returns the defaults overlaid with the YAML file at filename and then the environment.
// A missing file is not an error; an empty filename skips the file.
// The result is not validated, so that flags can still be applied.
func Load(filename string) (Config, error) {
	config := Default()

	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return config, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(configBytes, &config); err != nil {
				return config, fmt.Errorf("parsing config file %s: %w", filename, err)
			}
		}
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return config, fmt.Errorf("parsing environment: %w", err)
	}
	return config, nil
}

// Validate checks that the settings can be used to start the proxy.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("origin url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("parsing origin url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("origin url must be absolute http(s): %q", c.URL)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		return fmt.Errorf("admin port out of range: %d", c.AdminPort)
	}
	if c.TTLMinutes < 0 {
		return fmt.Errorf("ttl must be positive: %d minutes", c.TTLMinutes)
	}
	switch c.Provider {
	case ProviderMemory:
	case ProviderSQLite:
		if c.DB == "" {
			return errors.New("sqlite provider needs a db file")
		}
	default:
		return fmt.Errorf("unknown cache provider %q", c.Provider)
	}
	return nil
}

// TTL returns the configured entry lifetime, or zero if the default applies.
func (c Config) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// Addr returns the listen address of the proxy.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AdminAddr returns the listen address of the admin API, or "" if it is disabled.
func (c Config) AdminAddr() string {
	if c.AdminPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.AdminPort)
}
