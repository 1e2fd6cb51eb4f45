package cluster

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultShutdownTimeout bounds a whole Lifecycle shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// Component is something the Lifecycle stops on shutdown.
type Component interface {
	// Name returns the component name for logging
	Name() string

	// Shutdown performs graceful shutdown
	Shutdown(ctx context.Context) error

	// ForceStop performs immediate termination if graceful shutdown fails
	ForceStop() error
}

// Lifecycle stops registered components in reverse registration order.
type Lifecycle struct {
	mu         sync.Mutex
	components []Component
	isShutdown bool
	timeout    time.Duration
}

// NewLifecycle returns a Lifecycle whose shutdown is bounded by timeout.
func NewLifecycle(timeout time.Duration) *Lifecycle {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Lifecycle{timeout: timeout}
}

// Register adds a component. Components registered later stop earlier.
func (l *Lifecycle) Register(c Component) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isShutdown {
		log.Warn("Cannot register component during shutdown", "component", c.Name())
		return
	}
	l.components = append(l.components, c)
	log.Debug("Registered lifecycle component", "name", c.Name())
}

// Shutdown stops every component, falling back to ForceStop for those
// whose graceful shutdown fails. It runs once.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if l.isShutdown {
		l.mu.Unlock()
		return nil
	}
	l.isShutdown = true
	components := append([]Component(nil), l.components...)
	l.mu.Unlock()

	log.Info("Starting graceful shutdown")
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var failed int
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		log.Debug("Shutting down component", "name", c.Name())

		if err := c.Shutdown(ctx); err != nil {
			log.Warn("Component graceful shutdown failed", "name", c.Name(), "error", err)
			if ferr := c.ForceStop(); ferr != nil {
				log.Error("Component force stop failed", "name", c.Name(), "error", ferr)
				failed++
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("shutdown completed with %d errors", failed)
	}
	log.Info("Graceful shutdown complete")
	return nil
}

// SignalContext returns a context canceled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
