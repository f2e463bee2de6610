// Package server exposes the HTTP surface: health, status, metrics, and the
// session transcript. It includes permissive CORS for development and injects
// correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/reply-tender/telemetry"
)

// NewMux returns the HTTP handler with all routes. The provided context
// bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	handlers := NewHandlers(deps)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)
	mux.HandleFunc("/status", handlers.HandleStatus)
	mux.HandleFunc("/transcript", handlers.HandleTranscript)
	mux.HandleFunc("/transcript/replies", handlers.HandleTranscriptReplies)
	mux.HandleFunc("/transcript/replay", handlers.HandleTranscriptReplay)
	mux.HandleFunc("/admin/send", handlers.HandleAdminSend)
	mux.HandleFunc("/admin/rate", handlers.HandleAdminRate)
	mux.HandleFunc("/admin/block", handlers.HandleAdminBlock)

	// Auth and rate limiting only cover /admin/; health probes and the
	// read-only surface pass straight through.
	admin := adminGuardFromEnv().wrap(rateLimiterFromEnv(ctx).wrap(mux))
	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/admin/") {
			admin.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	return corsPolicyFromEnv().wrap(observed(routed))
}

// observed injects a correlation ID, opens a span per request and records
// the response status on it.
func observed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := correlationID(r)
		w.Header().Set("X-Correlation-ID", corr)
		ctx := telemetry.WithCorrelation(r.Context(), corr)

		spanName := r.Method + " " + r.URL.Path
		ctx, span := telemetry.StartSpan(ctx, "http-server", spanName,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request",
			slog.String("component", "http"),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			span.SetStatus(telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode)))
		}
	})
}

func correlationID(r *http.Request) string {
	if corr := r.Header.Get("X-Correlation-ID"); corr != "" {
		return corr
	}
	return uuid.New().String()
}

// statusRecorder captures the response status for span annotation.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush passes through so the transcript replay SSE keeps streaming.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		grace, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(grace); err != nil {
			slog.Error("http shutdown failed", slog.Any("err", err))
		}
	}()

	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
