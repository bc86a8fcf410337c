package errutil

import (
	"fmt"
	"log/slog"

	"github.com/small-frappuccino/soerbot/pkg/log"
)

// HandleDiscordError executes fn and logs any error that occurs as a Discord-related error.
// It returns whatever error fn returns (unmodified), after logging it.
func HandleDiscordError(operation string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}

	err := fn()
	if err == nil {
		return nil
	}
	log.DiscordLogger().Error("Discord operation failed", "operation", operation, "error", err)
	return err
}

// HandleConfigError executes fn and logs any error that occurs as a configuration-related error.
// It returns a wrapped error with context about the operation and path.
func HandleConfigError(operation, path string, fn func() error) error {
	if fn == nil {
		return fmt.Errorf("nil function provided")
	}

	err := fn()
	if err == nil {
		return nil
	}
	log.ApplicationLogger().Error("Config operation failed", "operation", operation, "path", path, "error", err)
	return fmt.Errorf("config %s %s: %w", operation, path, err)
}

// BestEffort runs fn inside an error boundary. Errors and panics are logged
// and discarded; the caller always continues.
func BestEffort(logger *slog.Logger, operation string, fn func() error) {
	if logger == nil {
		logger = log.ApplicationLogger()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Best-effort operation panicked", "operation", operation, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("Best-effort operation failed", "operation", operation, "error", err)
	}
}

// Discard returns an error callback that logs err and drops it. It pairs with
// futures whose failure must not terminate the loop.
func Discard(logger *slog.Logger, operation string) func(error) {
	if logger == nil {
		logger = log.ApplicationLogger()
	}
	return func(err error) {
		logger.Warn("Best-effort operation failed", "operation", operation, "error", err)
	}
}
