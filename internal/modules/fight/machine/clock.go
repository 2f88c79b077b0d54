// Package machine drives the round countdown.
package machine

import (
	"context"
	"sync"
	"time"

	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// DefaultInterval is one countdown second
const DefaultInterval = time.Second

// Clock calls a function once per interval until stopped. Missed ticks are
// not replayed; the countdown reflects ticks actually delivered.
type Clock struct {
	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewClock creates a stopped clock. A non-positive interval means DefaultInterval.
func NewClock(interval time.Duration) *Clock {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Clock{interval: interval}
}

// Start begins ticking with a fresh ticker. A running clock is stopped first,
// so there is never more than one ticker alive.
func (c *Clock) Start(ctx context.Context, fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go c.run(runCtx, fn, done)
}

func (c *Clock) run(ctx context.Context, fn func(ctx context.Context), done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.Debug(ctx).Dur("interval", c.interval).Msg("clock started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug(ctx).Msg("clock stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

// Stop cancels the running ticker without waiting for it. It is safe to call
// from inside the tick function and on a stopped clock.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Clock) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Running reports whether a ticker is active
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Wait blocks until the most recently started goroutine has exited
func (c *Clock) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}
