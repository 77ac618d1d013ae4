// Package server exposes a Controller as an HTTP reverse proxy in front of a
// single origin, plus a few operational endpoints.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
)

// GenerationsPath lists the generations held by the store.
const GenerationsPath = "/_netfirst/generations"

// conditionalHeaders are stripped before a request reaches the controller.
var conditionalHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
}

type generationsResponse struct {
	Current     string   `json:"current"`
	Generations []string `json:"generations"`
}

// Server routes intercepted traffic through a Controller.
type Server struct {
	controller *netfirstcache.Controller
	store      netfirstcache.Store
	origin     *url.URL
	logger     *slog.Logger
}

// New returns a server proxying to origin. If the 'logger' is nil, a no-op
// logger writing to io.Discard will be used.
func New(controller *netfirstcache.Controller, store netfirstcache.Store, origin *url.URL, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Server{
		controller: controller,
		store:      store,
		origin:     origin,
		logger:     logger,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get(GenerationsPath, s.listGenerations)

	r.Handle("/*", s.proxy())

	return r
}

func (s *Server) listGenerations(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Keys(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "listing generations", "error", err)
		http.Error(w, "listing generations: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := generationsResponse{Generations: names}
	if resp.Generations == nil {
		resp.Generations = []string{}
	}
	if a := s.controller.Active(); a != nil {
		resp.Current = a.Generation()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) proxy() http.Handler {
	target := s.origin

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = s.controller

	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host

		// a 304 would replace the full snapshot of the resource
		for _, h := range conditionalHeaders {
			req.Header.Del(h)
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.WarnContext(r.Context(), "origin unreachable and nothing cached", "url", r.URL.String(), "error", err)
		http.Error(w, "proxy error: "+err.Error(), http.StatusBadGateway)
	}

	return proxy
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.DebugContext(r.Context(), "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
