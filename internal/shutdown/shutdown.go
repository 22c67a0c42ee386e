package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Handler coordinates graceful teardown. Registered functions run in
// reverse registration order so dependents stop before their dependencies,
// the scheduler before the database it writes to.
type Handler struct {
	mu      sync.Mutex
	hooks   []func(context.Context) error
	timeout time.Duration
	signals chan os.Signal
	closing chan struct{}
	started bool
}

// New creates a handler that allows teardown the given total time
func New(timeout time.Duration) *Handler {
	return &Handler{
		timeout: timeout,
		signals: make(chan os.Signal, 1),
		closing: make(chan struct{}),
	}
}

// Register adds a teardown hook. Hooks run LIFO.
func (h *Handler) Register(fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, fn)
}

// Wait blocks until SIGINT or SIGTERM, then runs teardown
func (h *Handler) Wait() {
	signal.Notify(h.signals, syscall.SIGINT, syscall.SIGTERM)
	<-h.signals
	h.Shutdown()
}

// Shutdown runs the hooks once, newest first, under the handler timeout.
// The first hook error is returned after the remaining hooks have run.
func (h *Handler) Shutdown() error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	hooks := h.hooks
	h.mu.Unlock()

	close(h.closing)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var firstErr error
	for i := len(hooks) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			break
		}
		if err := hooks[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// IsShuttingDown reports whether teardown has begun
func (h *Handler) IsShuttingDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// ShutdownChan is closed when teardown begins
func (h *Handler) ShutdownChan() <-chan struct{} {
	return h.closing
}

// TriggerShutdown initiates teardown without an OS signal
func (h *Handler) TriggerShutdown() {
	select {
	case h.signals <- syscall.SIGTERM:
	default:
	}
}
