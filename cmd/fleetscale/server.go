package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/rshade/fleetscale/internal/api"
	"github.com/rshade/fleetscale/internal/webhooks"
	"github.com/rshade/fleetscale/internal/webhooks/routers"
)

var shutdownTimeout = 5 * time.Second

type Server struct {
	Router *chi.Mux
	Port   int
}

// NewServer builds the router. recorder is nil unless telemetry is pushed.
func NewServer(port int, status webhooks.StatusProvider, recorder webhooks.SampleRecorder, authToken string) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", routers.StatusHandler(status))

	if recorder != nil {
		r.With(api.AuthMiddleware(authToken)).Post("/webhook/samples", routers.SampleHandler(recorder))
	}

	return &Server{
		Router: r,
		Port:   port,
	}
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return fmt.Errorf("http server on port %d: %w", s.Port, err)
	}
	log.Info().Int("port", s.Port).Msg("Starting server")
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Dur("timeout", shutdownTimeout).Msg("Server shutdown did not complete cleanly")
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server on %s: %w", ln.Addr(), err)
	}
	return nil
}
