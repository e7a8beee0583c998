// Package config loads server configuration from flags and environment
// variables. Every flag has a GLYPHHUB_ prefixed counterpart, so
// --data-dir maps to GLYPHHUB_DATA_DIR. Flags win over the environment,
// the environment wins over defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the runtime settings of the server process.
type Config struct {
	Addr        string
	DataDir     string
	AllowOrigin string
	UIDir       string
	LogFile     string
	LogLevel    string
}

// Load resolves the configuration from the given flag set plus the
// environment.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GLYPHHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8090")
	v.SetDefault("data-dir", "./data")
	v.SetDefault("allow-origin", "*")
	v.SetDefault("ui-dir", "")
	v.SetDefault("log-file", "")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := &Config{
		Addr:        v.GetString("addr"),
		DataDir:     v.GetString("data-dir"),
		AllowOrigin: v.GetString("allow-origin"),
		UIDir:       v.GetString("ui-dir"),
		LogFile:     v.GetString("log-file"),
		LogLevel:    v.GetString("log-level"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data-dir must not be empty")
	}
	return nil
}
