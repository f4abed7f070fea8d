package runtime

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContext cancels on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

