// ABOUTME: Gateway orchestrator wiring the store, authenticator, MCP adapter and HTTP server
// ABOUTME: Manages component lifecycle, route registration and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcopolo39/location-gateway/internal/auth"
	"github.com/marcopolo39/location-gateway/internal/config"
	"github.com/marcopolo39/location-gateway/internal/geocode"
	"github.com/marcopolo39/location-gateway/internal/mcp"
	"github.com/marcopolo39/location-gateway/internal/store"
)

// keyCacheTTL bounds how long a validated API key skips the database.
// Deletions purge the cache, so this only limits staleness across restarts
// of the validating row itself.
const keyCacheTTL = time.Minute

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Gateway orchestrates the location-gateway server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	authenticator *auth.Authenticator
	verifier      auth.TokenVerifier
	adapter       *mcp.Adapter
	httpServer    *http.Server
	logger        *slog.Logger
}

// New creates a gateway from configuration. The SQLite store, API key
// authenticator, session provider and MCP adapter are wired here.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	authenticator := auth.NewAuthenticator(sqlStore, keyCacheTTL, logger)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	var geocoder mcp.Geocoder
	if cfg.Geocoding.GoogleMapsAPIKey != "" {
		gc, err := geocode.New(cfg.Geocoding.GoogleMapsAPIKey, logger)
		if err != nil {
			sqlStore.Close()
			return nil, fmt.Errorf("initializing geocoder: %w", err)
		}
		geocoder = gc
	} else {
		logger.Info("geocoding disabled: no google_maps_api_key configured")
	}

	newServer := func(userID string) *mcp.LocationServer {
		return mcp.NewLocationServer(userID, sqlStore, geocoder, logger)
	}

	var provider mcp.SessionProvider
	switch cfg.MCP.Mode {
	case config.MCPModeStateless:
		provider = mcp.NewStatelessSessions(newServer)
	default:
		provider = mcp.NewStatefulSessions(newServer, cfg.MCP.SessionIdleTimeout, logger)
	}

	gw := &Gateway{
		config:        cfg,
		store:         sqlStore,
		authenticator: authenticator,
		verifier:      verifier,
		adapter:       mcp.NewAdapter(provider, authenticator, logger),
		logger:        logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerRoutes registers all HTTP endpoints on the given ServeMux.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.Handle("/api/mcp", g.adapter)
	mux.HandleFunc("/api/location", g.handleLocation)
	mux.HandleFunc("/api/keys", g.handleKeys)
	mux.HandleFunc("/health", g.handleHealth)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.config.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case serverErr = <-errCh:
		g.logger.Error("HTTP server failed", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := g.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("shutdown error", "error", err)
		if serverErr == nil {
			serverErr = err
		}
	}

	return serverErr
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.adapter.Close()
	g.authenticator.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	return errors.Join(errs...)
}

// handleHealth handles GET /health requests.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
