package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	DefaultAddr = "127.0.0.1:9296"
	DefaultPath = "/metrics"
)

// Server exposes the registry for pull-based scraping.
type Server struct {
	Logger    *zap.Logger
	Registry  *Registry
	Addr      string
	Path      string
	Tokens    []string
	ScrapeRPM int
}

func NewServer(l *zap.Logger, reg *Registry, addr, path string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if path == "" {
		path = DefaultPath
	}
	return &Server{Logger: l, Registry: reg, Addr: addr, Path: path}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	handler := promhttp.HandlerFor(s.Registry.Gatherer(), promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(s.Logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
	r.With(ScrapeLimit(s.ScrapeRPM, 10), RequireToken(s.Tokens)).Get(s.Path, handler.ServeHTTP)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("metrics_listen", zap.String("addr", s.Addr), zap.String("path", s.Path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.Logger.Warn("metrics_shutdown_error", zap.Error(err))
		}
		s.Logger.Info("metrics_stopped")
		return nil
	}
}
