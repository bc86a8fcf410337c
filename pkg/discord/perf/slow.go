// Package perf logs operations that take longer than a configurable threshold.
package perf

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/small-frappuccino/soerbot/pkg/util"
)

const (
	envSlowThresholdMs     = "SOERBOT_SLOW_THRESHOLD_MS"
	defaultSlowThresholdMs = int64(500)
)

var (
	thresholdOnce sync.Once
	threshold     time.Duration
)

func slowThreshold() time.Duration {
	thresholdOnce.Do(func() {
		ms := util.EnvInt64(envSlowThresholdMs, defaultSlowThresholdMs)
		if ms <= 0 {
			threshold = 0
			return
		}
		threshold = time.Duration(ms) * time.Millisecond
	})
	return threshold
}

// Track starts timing operation and returns the function that ends it. The
// end function logs a warning on logger only when the threshold was reached.
// Set SOERBOT_SLOW_THRESHOLD_MS to 0 to disable.
func Track(logger *slog.Logger, operation string, attrs ...slog.Attr) func() {
	return track(logger, slowThreshold(), time.Now, operation, attrs...)
}

func track(logger *slog.Logger, limit time.Duration, now func() time.Time, operation string, attrs ...slog.Attr) func() {
	if limit <= 0 || logger == nil {
		return func() {}
	}

	start := now()
	return func() {
		duration := now().Sub(start)
		if duration < limit {
			return
		}
		name := strings.TrimSpace(operation)
		if name == "" {
			name = "unknown"
		}
		payload := make([]slog.Attr, 0, len(attrs)+3)
		payload = append(payload, slog.String("operation", name))
		payload = append(payload, slog.Duration("duration", duration))
		payload = append(payload, slog.Int64("duration_ms", duration.Milliseconds()))
		payload = append(payload, attrs...)
		args := make([]any, 0, len(payload))
		for _, attr := range payload {
			args = append(args, attr)
		}
		logger.Warn("Slow operation", args...)
	}
}
