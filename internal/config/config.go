// Package config loads the proxy's startup configuration from
// /etc/robby.{yaml,yml,json,toml}, falling back silently to defaults when no
// such file exists.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultBindHost        = "0.0.0.0"
	DefaultBindPort        = 60000
	DefaultRefreshInterval = 10 * time.Second
	DefaultConsulAddr      = "http://127.0.0.1:8500"
)

// Config is the full set of keys the proxy recognizes. Unknown keys in the
// file are silently ignored.
type Config struct {
	BindHost        string        `mapstructure:"bind_host"`
	BindPort        int           `mapstructure:"bind_port"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	ConsulAddr      string        `mapstructure:"consul_addr"`
}

// Addr formats BindHost/BindPort as a dial/listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindHost, c.BindPort)
}

// Load reads /etc/robby (any of .yaml, .yml, .json, .toml) and applies
// defaults for anything missing. A missing file is not an error: it's
// logged as a warning and the defaults are used as-is, matching the
// original's "merge, and if that fails, keep going with defaults" behavior.
// ROBBY_-prefixed environment variables override file values.
func Load(log *zap.Logger) (Config, error) {
	v := viper.New()
	v.SetConfigName("robby")
	v.AddConfigPath("/etc")
	v.SetEnvPrefix("ROBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bind_host", DefaultBindHost)
	v.SetDefault("bind_port", DefaultBindPort)
	v.SetDefault("refresh_interval", DefaultRefreshInterval)
	v.SetDefault("consul_addr", DefaultConsulAddr)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading /etc/robby: %w", err)
		}
		log.Warn("no /etc/robby config file found, using defaults", zap.Error(err))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}
