package netfirstcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dgduncan/go-netfirst-cache/internal/metrics"
)

var (
	// ErrActivation wraps every store failure that aborts an activation.
	ErrActivation = errors.New("activation failed")
)

// Host is the side of the lifecycle that the worker does not own: the
// process that decides which worker controls traffic.
type Host interface {
	// SkipWaiting asks the host to activate the worker without waiting for
	// the currently active worker to be released.
	SkipWaiting()
	// Claim makes the worker control every open client immediately.
	Claim(ctx context.Context) error
}

// Generations keeps a store converged on a single generation. The current
// generation is fixed when the manager is created.
type Generations struct {
	current string
	store   Store
	logger  *slog.Logger
}

// NewGenerations returns a manager for the generation named current.
// If the 'logger' is nil, a no-op logger writing to io.Discard will be used.
func NewGenerations(store Store, current string, logger *slog.Logger) *Generations {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Generations{
		current: current,
		store:   store,
		logger:  logger,
	}
}

// Current returns the name of the live generation.
func (g *Generations) Current() string {
	return g.current
}

// Install handles the install event. It never blocks and never fails.
func (g *Generations) Install(h Host) {
	g.logger.Debug("installing generation, skipping wait", "generation", g.current)
	h.SkipWaiting()
}

// Activate handles the activate event. The current generation is opened and
// every other generation is deleted before clients are claimed. A store
// failure aborts activation: the error wraps ErrActivation and clients are
// not claimed.
func (g *Generations) Activate(ctx context.Context, h Host) error {
	if _, err := g.store.Open(ctx, g.current); err != nil {
		metrics.ActivationFailures.Inc()
		return fmt.Errorf("%w: opening generation %q: %w", ErrActivation, g.current, err)
	}

	if _, err := g.Prune(ctx); err != nil {
		metrics.ActivationFailures.Inc()
		return fmt.Errorf("%w: %w", ErrActivation, err)
	}

	if err := h.Claim(ctx); err != nil {
		return fmt.Errorf("%w: claiming clients: %w", ErrActivation, err)
	}

	g.logger.InfoContext(ctx, "generation activated", "generation", g.current)
	return nil
}

// Prune deletes every generation in the store except the current one and
// returns the names it deleted. It stops at the first listing error but
// attempts every deletion, joining their errors.
func (g *Generations) Prune(ctx context.Context) ([]string, error) {
	names, err := g.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}

	var (
		deleted []string
		errs    []error
	)
	for _, name := range names {
		if name == g.current {
			continue
		}

		ok, err := g.store.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("deleting generation %q: %w", name, err))
			continue
		}
		if ok {
			deleted = append(deleted, name)
			metrics.GenerationsDeleted.Inc()
			g.logger.InfoContext(ctx, "deleted superseded generation", "generation", name)
		}
	}

	return deleted, errors.Join(errs...)
}
