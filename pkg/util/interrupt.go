package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WaitForInterruptContext blocks until an interrupt signal arrives or parent is
// done. The callback only runs for a received signal.
func WaitForInterruptContext(parent context.Context, callback func()) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	if parent.Err() != nil {
		return
	}
	if callback != nil {
		callback()
	}
}
