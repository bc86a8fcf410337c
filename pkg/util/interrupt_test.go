package util

import (
	"context"
	"sync"
	"testing"
)

func TestWaitForInterruptContextParentCancelSkipsCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var called bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		WaitForInterruptContext(ctx, func() { called = true })
	}()

	cancel()
	wg.Wait()

	if called {
		t.Fatalf("callback must not run when the parent context ends")
	}
}
