// Package server provides the HTTP server and router for the proxy.
//
// The server mounts a single catch-all route:
//
//	/{registry}/*  - forwarded through the Proxy Engine to the upstream
//	                 identified by the registry key
//
// Additional endpoints:
//   - /healthz  - liveness check
//   - /metrics  - Prometheus metrics
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ociproxy/registry-gateway/internal/auth"
	"github.com/ociproxy/registry-gateway/internal/config"
	"github.com/ociproxy/registry-gateway/internal/engine"
	"github.com/ociproxy/registry-gateway/internal/metrics"
	"github.com/ociproxy/registry-gateway/internal/registry"
)

// Server is the main proxy server.
type Server struct {
	cfg    *config.Config
	engine *engine.Engine
	logger *slog.Logger
	http   *http.Server
}

// New creates a new Server with the given configuration. It builds the
// Registry Table, resolves Docker Hub credentials from the environment,
// and constructs the Proxy Engine with options sourced from cfg.Blob.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	table := registry.NewTable(cfg.Registries)

	creds := registry.CredentialsFromEnv()
	if !creds.Configured() && cfg.DockerHub.Username != "" && cfg.DockerHub.Password != "" {
		creds = registry.DockerHubCredentials{
			Username: cfg.DockerHub.Username,
			Password: cfg.DockerHub.Password,
		}
	}

	tokenClient := auth.NewClient(http.DefaultClient, creds)

	var tokens engine.TokenGetter = tokenClient
	if cfg.DockerHub.TokenCacheEnabled {
		tokens = auth.NewCachingClient(tokenClient)
	}

	eng := engine.New(table, tokens,
		engine.WithLogger(logger),
		engine.WithCDNFallback(cfg.Blob.CDNFallbackEnabled),
		engine.WithMaxRedirects(cfg.Blob.MaxRedirects),
		engine.WithBlobTimeout(cfg.Blob.Timeout),
	)

	return &Server{
		cfg:    cfg,
		engine: eng,
		logger: logger,
	}, nil
}

// router builds the chi mux with the catch-all forwarding route and the
// ambient /healthz and /metrics endpoints.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(s.LoggerMiddleware)
	r.Use(ActiveRequestsMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc("/{registry}/*", s.handleForward)

	return r
}

// Start starts the HTTP server. It blocks until the listener returns,
// which on a clean shutdown is http.ErrServerClosed.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // large blobs need time
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server", "listen", s.cfg.Listen)

	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "ok")
}

// statusForForwardError maps the engine's error taxonomy (spec.md §7) to an
// HTTP status. Every kind the engine returns — an unsupported registry or
// method, too many blob redirects, an upstream transport failure, or a
// body-read failure — is a proxy-side fault, not a gateway one, so all of
// them surface as 500.
func statusForForwardError(err error) int {
	var unsupportedRegistry *engine.UnsupportedRegistryError
	var unsupportedMethod *engine.UnsupportedMethodError
	switch {
	case errors.As(err, &unsupportedRegistry):
		return http.StatusInternalServerError
	case errors.As(err, &unsupportedMethod):
		return http.StatusInternalServerError
	case errors.Is(err, engine.ErrTooManyRedirects):
		return http.StatusInternalServerError
	case errors.Is(err, engine.ErrUpstreamTransport):
		return http.StatusInternalServerError
	case errors.Is(err, engine.ErrBodyReadFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// handleForward adapts an inbound request into a ProxyRequest, forwards it
// through the Proxy Engine, and writes the resulting ProxyResponse back.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	registryKey := chi.URLParam(r, "registry")
	tail := chi.URLParam(r, "*")

	path := "/" + tail
	query := ""
	if r.URL.RawQuery != "" {
		query = "?" + r.URL.RawQuery
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("%v: %v", engine.ErrBodyReadFailed, err), http.StatusInternalServerError)
			return
		}
	}

	req := engine.ProxyRequest{
		RegistryKey: registryKey,
		Path:        path,
		Query:       query,
		Headers:     r.Header.Clone(),
		Body:        body,
		Method:      r.Method,
	}

	resp, err := s.engine.Forward(r.Context(), req)
	if err != nil {
		s.logger.Warn("forward failed", "registry", registryKey, "path", path, "error", err)
		w.WriteHeader(statusForForwardError(err))
		_, _ = fmt.Fprint(w, err.Error())
		return
	}

	for name, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
