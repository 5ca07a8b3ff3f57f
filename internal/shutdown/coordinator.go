// Package shutdown coordinates cleanup work that must run before the
// process exits.
package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hook is a cleanup function run during shutdown.
type Hook func(ctx context.Context) error

// Config holds configuration for the shutdown coordinator.
type Config struct {
	// HookTimeout is the maximum time each hook may take.
	HookTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HookTimeout: 10 * time.Second,
	}
}

type namedHook struct {
	name string
	fn   Hook
}

// Coordinator runs registered cleanup hooks exactly once, in reverse
// registration order. Hook failures are logged, never fatal.
type Coordinator struct {
	config  Config
	logger  zerolog.Logger
	mu      sync.Mutex
	hooks   []namedHook
	doneCh  chan struct{}
	runOnce sync.Once
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(config Config, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		config: config,
		logger: logger.With().Str("component", "shutdown").Logger(),
		doneCh: make(chan struct{}),
	}
}

// Register adds a cleanup hook. Hooks registered later run first.
func (c *Coordinator) Register(name string, fn Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, namedHook{name: name, fn: fn})
}

// Run executes all registered hooks. Subsequent calls return immediately.
func (c *Coordinator) Run(ctx context.Context) {
	c.runOnce.Do(func() {
		c.run(ctx)
		close(c.doneCh)
	})
}

func (c *Coordinator) run(ctx context.Context) {
	c.mu.Lock()
	hooks := make([]namedHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	if len(hooks) == 0 {
		return
	}

	c.logger.Info().Int("hooks", len(hooks)).Msg("running shutdown hooks")

	start := time.Now()
	failed := 0

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]

		// Hooks must still run when shutdown was triggered by a
		// cancelled context, so each gets its own deadline.
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.HookTimeout)
		err := h.fn(hookCtx)
		cancel()

		if err != nil {
			failed++
			c.logger.Error().Err(err).Str("hook", h.name).Msg("shutdown hook failed")
			continue
		}
		c.logger.Debug().Str("hook", h.name).Msg("shutdown hook completed")
	}

	c.logger.Info().
		Dur("duration", time.Since(start)).
		Int("failed", failed).
		Msg("shutdown hooks finished")
}

// Done returns a channel that is closed once all hooks have run.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}
