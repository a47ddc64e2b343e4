// Package stopper provides a cooperative-cancellation context used by
// every long-lived activity in the orchestrator. A Context is a
// context.Context plus a WaitGroup-like mechanism: goroutines launched
// with Go are tracked, Stop requests cancellation and waits (up to a
// deadline) for all of them to return.
//
// This mirrors the cooperative task group model in spec.md §5: each
// component runs one process containing several concurrent activities
// that yield at I/O boundaries and all watch the same cancellation
// token.
package stopper

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Context wraps a context.Context with goroutine tracking and a
// "stopping" signal that is distinct from "done": Stopping fires first
// and gives running activities a chance to finish their current
// iteration; Done fires if the grace period elapses.
type Context struct {
	context.Context

	mu       sync.Mutex
	wg       sync.WaitGroup
	errs     []error
	stopping chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// WithContext creates a new stopper.Context as a child of parent.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Context:  ctx,
		stopping: make(chan struct{}),
		cancel:   cancel,
	}
}

// Go launches fn in a tracked goroutine. Any error it returns is
// recorded and will be surfaced from Stop.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		}
	}()
}

// Stopping returns a channel that is closed when Stop is first called.
// Activities should treat this as "finish the current iteration, then
// exit" rather than aborting mid-write.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Stop signals every tracked goroutine to stop and waits up to
// gracePeriod for them to return, after which the underlying context is
// canceled outright. Stop returns any errors recorded by Go callbacks.
func (c *Context) Stop(gracePeriod time.Duration) []error {
	c.stopOnce.Do(func() { close(c.stopping) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
	}
	c.cancel()
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs
}
