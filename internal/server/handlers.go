package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/loganszeto/respkv/internal/stats"
)

// MetricsHandler serves /metrics in Prometheus text format and a /healthz
// liveness probe.
func MetricsHandler(st *stats.Stats) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st.WritePrometheus(w)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ServeMetrics runs the metrics endpoint on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, st *stats.Stats, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           MetricsHandler(st),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "err", err)
		}
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
