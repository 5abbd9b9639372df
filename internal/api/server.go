// Package api is the local JSON bridge between the UI layer and the wallet core.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/better-wallet/wallet-core/internal/app"
	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/metrics"
	"github.com/better-wallet/wallet-core/internal/middleware"
)

// Config configures the bridge server
type Config struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

// Server represents the HTTP server
type Server struct {
	config      Config
	wallet      *app.WalletService
	metrics     *metrics.Metrics
	rateLimiter *middleware.RateLimiter
	httpServer  *http.Server
}

// NewServer creates a new API server. m may be nil, in which case /metrics is not served.
func NewServer(cfg Config, wallet *app.WalletService, m *metrics.Metrics) *Server {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}

	s := &Server{
		config:      cfg,
		wallet:      wallet,
		metrics:     m,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Submissions wait up to the submission timeout plus confirmation
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with the middleware chain applied:
// RequestID -> Logging -> RateLimit -> LimitBody -> routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/session/sign-in", s.handleSignIn)
	mux.HandleFunc("POST /v1/session/sign-out", s.handleSignOut)
	mux.HandleFunc("POST /v1/session/switch", s.handleSwitchAccount)
	mux.HandleFunc("GET /v1/session", s.handleGetSession)

	mux.HandleFunc("GET /v1/wallet/address", s.handleGetAddress)
	mux.HandleFunc("POST /v1/wallet/sign", s.handleSign)
	mux.HandleFunc("POST /v1/wallet/submit", s.handleSubmit)
	mux.HandleFunc("POST /v1/wallet/opt-in", s.handleEnsureOptedIn)
	mux.HandleFunc("POST /v1/wallet/opt-in/invalidate", s.handleInvalidateOptIn)

	mux.HandleFunc("POST /v1/auth/biometric", s.handleAuthenticate)
	mux.HandleFunc("GET /v1/auth/biometric", s.handleBiometricState)
	mux.HandleFunc("POST /v1/auth/biometric/clear-lockout", s.handleClearLockout)

	return middleware.RequestID(
		middleware.RequestLogger(s.metrics)(
			s.rateLimiter.Limit(
				middleware.LimitBody(s.config.MaxBodyBytes)(mux))))
}

// Start serves until ctx is canceled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.rateLimiter.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.FromContext(ctx).Info("bridge API listening", slog.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
