package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// StatusFunc returns a JSON-encodable snapshot of the agent.
type StatusFunc func() any

// NewRouter mounts /healthz, /metrics and /status.
func NewRouter(metrics *Metrics, status StatusFunc) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/healthz"))

	if metrics != nil {
		router.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		var body any = map[string]string{}
		if status != nil {
			body = status()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	return router
}

// Serve runs the status server on addr and shuts it down gracefully on ctx cancellation.
func Serve(ctx context.Context, addr string, router http.Handler, logger zerolog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log := logger.With().Str("component", "status_server").Logger()
	log.Info().Str("addr", listener.Addr().String()).Msg("status server listening")

	server := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Msg("status server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
