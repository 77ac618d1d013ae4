package netfirstcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

var (
	// ErrRegistered is returned when a worker is registered twice.
	ErrRegistered = errors.New("worker already registered")
)

// Controller hosts workers. It delivers their install and activate events and
// routes requests through whichever worker has claimed control. Requests
// arriving while no worker is active go straight to the network.
type Controller struct {
	network http.RoundTripper
	logger  *slog.Logger

	mu sync.Mutex // serialises lifecycle events

	active atomic.Pointer[Worker]
}

// NewController returns a controller with no active worker. A nil network
// uses http.DefaultTransport.
// If the 'logger' is nil, a no-op logger writing to io.Discard will be used.
func NewController(network http.RoundTripper, logger *slog.Logger) *Controller {
	if network == nil {
		network = http.DefaultTransport
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Controller{
		network: network,
		logger:  logger,
	}
}

// Register runs the install and activate events of w. Installed workers
// always skip waiting, so w takes over from the active worker as soon as it
// has activated. Register returns once activation has finished. An activation
// error leaves w redundant and the previously active worker in control.
func (c *Controller) Register(ctx context.Context, w *Worker) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w.State() != StateParsed {
		return ErrRegistered
	}

	reg := &registration{c: c, w: w}

	w.setState(StateInstalling)
	w.generations.Install(reg)
	w.setState(StateInstalled)

	return c.activate(ctx, reg)
}

// Active returns the worker in control, or nil.
func (c *Controller) Active() *Worker {
	return c.active.Load()
}

// RoundTrip implements http.RoundTripper.
func (c *Controller) RoundTrip(r *http.Request) (*http.Response, error) {
	if w := c.active.Load(); w != nil {
		return w.RoundTrip(r)
	}

	return c.network.RoundTrip(r)
}

// Wait blocks until the active worker has no pending snapshot writes.
func (c *Controller) Wait() {
	if w := c.active.Load(); w != nil {
		w.transport.Wait()
	}
}

func (c *Controller) activate(ctx context.Context, reg *registration) error {
	w := reg.w
	w.setState(StateActivating)
	c.logger.DebugContext(ctx, "activating worker", "generation", w.Generation(), "skip_waiting", reg.skipWaiting)

	// the outgoing worker must not write into its generation once pruning starts
	prev := c.active.Load()
	if prev != nil && prev != w {
		prev.transport.retire()
	}

	if err := w.generations.Activate(ctx, reg); err != nil {
		if prev != nil && c.active.Load() == prev {
			prev.transport.resume()
		}
		w.setState(StateRedundant)
		c.logger.ErrorContext(ctx, "worker activation failed", "generation", w.Generation(), "error", err)
		return err
	}

	w.setState(StateActivated)
	return nil
}

// registration is the Host seen by one worker.
type registration struct {
	c *Controller
	w *Worker

	skipWaiting bool
}

func (r *registration) SkipWaiting() {
	r.skipWaiting = true
}

func (r *registration) Claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prev := r.c.active.Swap(r.w)
	if prev != nil && prev != r.w {
		prev.setState(StateRedundant)
	}

	r.c.logger.InfoContext(ctx, "worker claimed clients", "generation", r.w.Generation())
	return nil
}
