package main

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is restgraphd's runtime configuration, loaded the way
// dphaener-conduit's internal/cli/config.Load reads a config file plus
// environment overrides into a typed struct via viper.Unmarshal.
type Config struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DatabaseURL     string `mapstructure:"database_url"`
	Strict          bool   `mapstructure:"strict"`
	PageMaxSize     int    `mapstructure:"page_max_size"`
	ReadTimeoutSec  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSec int    `mapstructure:"write_timeout_seconds"`
	Debug           bool   `mapstructure:"debug"`
}

// loadConfig reads restgraphd.yaml from the current directory (if
// present), then layers environment variables (RESTGRAPHD_*) and any
// cobra flags already bound onto v, and unmarshals the result.
func loadConfig(v *viper.Viper) (*Config, error) {
	v.SetConfigName("restgraphd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("restgraphd")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("restgraphd: failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("restgraphd: failed to unmarshal config: %w", err)
	}
	return cfg, nil
}
