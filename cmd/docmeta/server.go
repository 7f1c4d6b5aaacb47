package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docmeta/internal/config"
	"docmeta/internal/observability/tracing"
	"docmeta/internal/usecase/metadata"
)

const maxExtractBody = 10 << 20

// HealthResponse represents a simple health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// BreakerHealthResponse reports whether the analysis endpoint is reachable.
type BreakerHealthResponse struct {
	Healthy             bool   `json:"healthy"`
	CircuitState        string `json:"circuit_state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// adminService is what the HTTP handlers need from metadata.Service.
type adminService interface {
	extractor
	Stats() metadata.Stats
	ClearCache(ctx context.Context)
	SweepCache(ctx context.Context) int
	ResetCircuitBreaker()
}

// newHandler builds the admin mux. Every route is traced.
//
// Routes:
//   - GET /metrics - Prometheus metrics
//   - GET /health - liveness probe, always 200
//   - GET /health/breaker - 503 while the circuit breaker is open
//   - GET /stats - cache and retry statistics
//   - POST /extract - analyze the request body as a document
//   - POST /admin/clear-cache - drop every cached result
//   - POST /admin/reset-breaker - force the circuit breaker closed
func newHandler(logger *slog.Logger, svc adminService) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /health/breaker", breakerHealthHandler(svc))
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, svc.Stats())
	})
	mux.HandleFunc("POST /extract", extractHandler(logger, svc))
	mux.HandleFunc("POST /admin/clear-cache", func(w http.ResponseWriter, r *http.Request) {
		svc.ClearCache(r.Context())
		logger.InfoContext(r.Context(), "cache cleared via admin endpoint")
		respondJSON(w, http.StatusOK, HealthResponse{Status: "cleared"})
	})
	mux.HandleFunc("POST /admin/reset-breaker", func(w http.ResponseWriter, r *http.Request) {
		svc.ResetCircuitBreaker()
		logger.InfoContext(r.Context(), "circuit breaker reset via admin endpoint")
		respondJSON(w, http.StatusOK, HealthResponse{Status: "reset"})
	})
	return tracing.Middleware(mux)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func breakerHealthHandler(svc adminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := svc.Stats().Retry
		resp := BreakerHealthResponse{
			Healthy:             st.CircuitState != "open",
			CircuitState:        st.CircuitState,
			ConsecutiveFailures: st.ConsecutiveFailures,
		}
		code := http.StatusOK
		if !resp.Healthy {
			code = http.StatusServiceUnavailable
		}
		respondJSON(w, code, resp)
	}
}

func extractHandler(logger *slog.Logger, svc adminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxExtractBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(w, http.StatusRequestEntityTooLarge, "document too large")
				return
			}
			respondError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		res, err := svc.Extract(r.Context(), string(body))
		if err != nil {
			logger.WarnContext(r.Context(), "extraction aborted", slog.Any("error", err))
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

// serve runs the admin server and the cache janitor until ctx is cancelled.
// When ctx is cancelled the server gets 5 seconds to finish in-flight
// requests.
func serve(ctx context.Context, logger *slog.Logger, svc adminService, cfg *config.Config) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:      newHandler(logger, svc),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	stopJanitor, err := startJanitor(ctx, logger, svc, cfg.Janitor.Schedule)
	if err != nil {
		return err
	}
	defer stopJanitor()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server starting", slog.Int("port", cfg.Metrics.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("admin server shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", slog.Any("error", err))
		return err
	}
	logger.Info("admin server stopped")
	return nil
}

func adminURL(server string, port int) string {
	if server != "" {
		return strings.TrimRight(server, "/")
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

// requestBreakerReset asks a running -serve process to close its breaker.
func requestBreakerReset(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/admin/reset-breaker", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reset breaker: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reset breaker: unexpected status %d", resp.StatusCode)
	}
	return nil
}
