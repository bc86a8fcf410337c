package config

import (
	"fmt"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"

	"github.com/small-frappuccino/soerbot/pkg/util"
)

// Environment holds the bootstrap settings that decide where the bot keeps
// its files. They come from SOERBOT_* variables only.
type Environment struct {
	ConfigFile string `envconfig:"CONFIG"`
	DataDir    string `envconfig:"DATA_DIR"`
	LogDir     string `envconfig:"LOG_DIR"`
	DBPath     string `envconfig:"DB_PATH"`
}

// LoadEnvironment processes the SOERBOT_* variables and fills platform
// defaults for anything left empty.
func LoadEnvironment() (Environment, error) {
	var env Environment
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return Environment{}, fmt.Errorf("process environment: %w", err)
	}
	if env.DataDir == "" {
		env.DataDir = util.DataDir()
	}
	if env.LogDir == "" {
		env.LogDir = util.LogDir()
	}
	if env.DBPath == "" {
		env.DBPath = filepath.Join(env.DataDir, "settings.db")
	}
	return env, nil
}
