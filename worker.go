package netfirstcache

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/dgduncan/go-netfirst-cache/caches"
)

// State is the lifecycle position of a Worker.
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Worker is one deployed build of the cache: a generation manager and the
// network-first transport that writes into that generation. Workers are
// driven through their lifecycle by a Controller.
type Worker struct {
	generations *Generations
	transport   *Transport

	state atomic.Int32
}

// NewWorker validates cfg and builds a worker whose transport sends requests
// to network. A nil network uses http.DefaultTransport.
func NewWorker(store Store, cfg Config, network http.RoundTripper, logger *slog.Logger) (*Worker, error) {
	if store == nil {
		return nil, caches.ValidationError{Reason: "nil store"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger != nil {
		logger = logger.With("generation", cfg.Generation)
	}

	return &Worker{
		generations: NewGenerations(store, cfg.Generation, logger),
		transport:   New(store, &cfg, nil, logger)(network),
	}, nil
}

// Generation returns the name of the worker's generation.
func (w *Worker) Generation() string {
	return w.generations.Current()
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Transport returns the worker's fetch handler.
func (w *Worker) Transport() *Transport {
	return w.transport
}

// RoundTrip runs the worker's fetch handler.
func (w *Worker) RoundTrip(r *http.Request) (*http.Response, error) {
	return w.transport.RoundTrip(r)
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}
