package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hzinstall/internal/history"
)

const (
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	RequestTimeout = 60 * time.Second

	// Requests per minute per client IP.
	GlobalRateLimit  = 12
	WebhookRateLimit = 4

	ShutdownTimeout = 30 * time.Second
)

// DeployFunc provisions the deployment directory once. It records its own history.
type DeployFunc func(ctx context.Context) error

// Server receives push webhooks for one deployment directory.
type Server struct {
	Target  string
	Branch  string
	Secret  string
	Deploy  DeployFunc
	History *history.History
	Logger  *slog.Logger
	// DisableRateLimit turns off the per-IP limits, for tests.
	DisableRateLimit bool

	locks    *LockManager
	deployWg sync.WaitGroup

	// baseCtx outlives requests; background runs are cancelled through it.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a server for target, re-provisioned with deploy on pushes to branch.
func New(target, branch, secret string, deploy DeployFunc, hist *history.History, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Target:  target,
		Branch:  branch,
		Secret:  secret,
		Deploy:  deploy,
		History: hist,
		Logger:  logger,
		locks:   NewLockManager(),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Router creates the HTTP router.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(requestLogger(s.Logger))

	if !s.DisableRateLimit {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleStatus)

	if !s.DisableRateLimit {
		r.With(NewRateLimitMiddleware(WebhookRateLimit, s.Logger)).Post("/hook", s.HandleWebhook)
	} else {
		r.Post("/hook", s.HandleWebhook)
	}

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down,
// waiting for a running provisioning to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting HTTP server", "addr", addr, "target", s.Target, "branch", s.Branch)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.Shutdown(shutdownCtx)
}

// Shutdown waits for background runs, cancelling them if ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.deployWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
