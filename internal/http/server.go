package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"skarbnik/internal/log"
	"skarbnik/internal/middleware/ratelimit"
	"skarbnik/internal/middleware/security"
	"skarbnik/internal/middleware/trace"
	"skarbnik/internal/services"
)

// Config tunes the API server.
type Config struct {
	// RequestsPerMinute limits mutating requests per client.
	RequestsPerMinute int
	// TrustedProxies are extra CIDRs allowed to set forwarding headers.
	TrustedProxies []string
}

type Server struct {
	http.Server
	ledger  *services.LedgerService
	logger  *log.Logger
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. Call Shutdown to release the rate limiter.
func NewServer(addr string, ledger *services.LedgerService, logger *log.Logger, cfg Config) (*Server, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	resolver := security.NewClientIPResolver()
	for _, cidr := range cfg.TrustedProxies {
		if err := resolver.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	s := &Server{
		ledger:  ledger,
		logger:  logger,
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RequestsPerMinute}),
		tracer:  trace.NewMiddleware(logger, resolver.ExtractClientIP),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	limit := s.limiter.Middleware(resolver.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldRequestID, trace.GetRequestID(r.Context()),
			log.FieldClientIP, resolver.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
	})
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	s.Server = http.Server{
		Addr:           addr,
		Handler:        s.tracer.Middleware(headers.Middleware(limit(mux))),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/students", s.handleListStudents)
	mux.HandleFunc("POST /api/students", s.handleCreateStudent)
	mux.HandleFunc("PUT /api/students/{id}", s.handleEditStudent)
	mux.HandleFunc("DELETE /api/students/{id}", s.handleDeleteStudent)
	mux.HandleFunc("POST /api/students/{id}/settle", s.handleSettleRefunds)

	mux.HandleFunc("GET /api/collections", s.handleListCollections)
	mux.HandleFunc("POST /api/collections", s.handleCreateCollection)
	mux.HandleFunc("PUT /api/collections/{id}", s.handleEditCollection)
	mux.HandleFunc("DELETE /api/collections/{id}", s.handleDeleteCollection)
	mux.HandleFunc("PUT /api/collections/{id}/payments/{studentID}", s.handleSetPayment)
	mux.HandleFunc("POST /api/collections/{id}/payments/{studentID}/full", s.handlePayInFull)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/refunds", s.handleRefunds)
	mux.HandleFunc("DELETE /api/refunds/{id}", s.handleDeleteRefund)

	mux.HandleFunc("GET /api/themes", s.handleThemes)
	mux.HandleFunc("GET /api/theme", s.handleGetTheme)
	mux.HandleFunc("PUT /api/theme", s.handleSetTheme)

	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("POST /api/import", s.handleImport)
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Serve listens until ctx is cancelled, then shuts down with the given
// grace period.
func (s *Server) Serve(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "Starting API server", log.FieldAddr, s.Addr)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.limiter.Stop()
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Server stopped gracefully")
	return nil
}

// Requests returns how many requests the server has handled.
func (s *Server) Requests() int64 {
	return s.tracer.TotalRequests()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"revision": s.ledger.Revision(),
	})
}
