package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvWithLocalBinFallback fills missing environment variables from
// $HOME/.local/bin/.env (never overwriting variables already set) and then
// returns the value of envName.
//
// A non-nil error means envName is still unset after the fallback attempt.
func LoadEnvWithLocalBinFallback(envName string) (string, error) {
	envPath := LoadLocalBinEnv()

	if v := os.Getenv(envName); v != "" {
		return v, nil
	}
	if envPath == "" {
		return "", fmt.Errorf("environment variable %q not set and home directory unresolved", envName)
	}
	return "", fmt.Errorf("environment variable %q not set; attempted to load fallback file %s", envName, envPath)
}

// LoadLocalBinEnv loads $HOME/.local/bin/.env when it exists and returns the
// path it looked at ("" when the home directory is unknown).
func LoadLocalBinEnv() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	envPath := filepath.Join(home, ".local", "bin", ".env")
	if info, statErr := os.Stat(envPath); statErr == nil && !info.IsDir() {
		// godotenv.Load will NOT override variables that are already set.
		_ = godotenv.Load(envPath)
	}
	return envPath
}

// EnvInt64 returns the parsed value of name or def when unset or invalid.
func EnvInt64(name string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
