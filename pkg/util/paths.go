package util

import "strings"

// AppName names the per-user directories. SetAppName changes it before any
// path is resolved.
var AppName = "soerbot"

// SetAppName sets a configured application name. Blank names are ignored.
func SetAppName(name string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	AppName = sanitizeAppNameForPath(name)
}

// ConfigDir returns the base directory for configuration files:
//   - Linux/Unix:  ~/.config/<AppName>
//   - Windows:     %APPDATA%/<AppName>
func ConfigDir() string {
	return platformConfigDir(AppName)
}

// DataDir returns the base directory for persistent state (SQLite settings).
func DataDir() string {
	return platformDataDir(AppName)
}

// LogDir returns the directory receiving rotated log files.
func LogDir() string {
	return platformLogDir(AppName)
}
