package errutil

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestBestEffortSwallowsError(t *testing.T) {
	logger, buf := bufferLogger()
	BestEffort(logger, "greeting", func() error { return errors.New("no channel") })
	if !strings.Contains(buf.String(), "no channel") || !strings.Contains(buf.String(), "operation=greeting") {
		t.Fatalf("expected logged error, got %q", buf.String())
	}
}

func TestBestEffortRecoversPanic(t *testing.T) {
	logger, buf := bufferLogger()
	BestEffort(logger, "greeting", func() error { panic("state missing") })
	if !strings.Contains(buf.String(), "state missing") {
		t.Fatalf("expected logged panic, got %q", buf.String())
	}
}

func TestHandleConfigErrorWraps(t *testing.T) {
	base := errors.New("denied")
	err := HandleConfigError("read", "/tmp/config.yaml", func() error { return base })
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if HandleConfigError("read", "x", func() error { return nil }) != nil {
		t.Fatalf("expected nil on success")
	}
}

func TestHandleDiscordErrorPassesThrough(t *testing.T) {
	base := errors.New("401")
	if err := HandleDiscordError("connect", func() error { return base }); err != base {
		t.Fatalf("expected unmodified error, got %v", err)
	}
	if err := HandleDiscordError("connect", nil); err == nil {
		t.Fatalf("expected error for nil function")
	}
}
