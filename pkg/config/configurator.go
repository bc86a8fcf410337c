// Package config resolves the bot configuration from defaults, an optional
// config file and SOERBOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	"github.com/small-frappuccino/soerbot/pkg/errutil"
	"github.com/small-frappuccino/soerbot/pkg/util"
)

// Keys consulted by the runner.
const (
	KeyDebug         = "debug"
	KeyDevelopment   = "development"
	KeyUsers         = "users"
	KeyCommandPrefix = "command-prefix"
	KeyKey           = "key"
	KeyCommandsDir   = "commands-dir"
	KeyMetricsListen = "metrics-listen"
	KeyLogLevel      = "log.level"
	KeyLogFormat     = "log.format"
)

const envPrefix = "SOERBOT"

// Provider is the key/value lookup the runner depends on.
type Provider interface {
	Get(key string, def any) any
}

// Configurator is the viper-backed Provider.
type Configurator struct {
	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyDevelopment, false)
	v.SetDefault(KeyCommandPrefix, "!")
	v.SetDefault(KeyCommandsDir, "commands")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. When path is non-empty the file must exist;
// otherwise "config.{yaml,json,toml}" is searched in the working directory and
// util.ConfigDir(), and its absence is not an error.
func Load(path string) (*Configurator, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := errutil.HandleConfigError("read", path, v.ReadInConfig); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrConfigurationFileNotFound, path)
			}
			return nil, err
		}
		return &Configurator{v: v}, nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath(util.ConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return &Configurator{v: v}, nil
}

// FromMap builds a Configurator from literal values on top of the defaults.
// Environment variables still apply.
func FromMap(values map[string]any) *Configurator {
	v := newViper()
	for k, val := range values {
		v.Set(k, val)
	}
	return &Configurator{v: v}
}

// Get returns the value for key, or def when no source sets it.
func (c *Configurator) Get(key string, def any) any {
	if !c.v.IsSet(key) {
		return def
	}
	val := c.v.Get(key)
	if val == nil {
		return def
	}
	return val
}

// File returns the config file in use, if any.
func (c *Configurator) File() string {
	return c.v.ConfigFileUsed()
}
