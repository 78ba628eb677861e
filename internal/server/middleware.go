package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"bookcatalog/internal/logger"
	"bookcatalog/internal/metrics"
	"bookcatalog/internal/response"
)

var errRateLimited = errors.New("rate limit exceeded")

// CountRequests numbers incoming requests starting from 1, see logger.WithRequestNumber.
func CountRequests() func(http.Handler) http.Handler {
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.WithRequestNumber(r.Context(), counter.Add(1))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LogRequests logs every request on entry and its duration on completion, and feeds m.
func LogRequests(l *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			n, _ := logger.RequestNumber(ctx)

			l.InfoContext(ctx, fmt.Sprintf("Incoming request | #%d | resource: %s | HTTP Verb %s", n, r.URL.Path, r.Method))

			snoop := httpsnoop.CaptureMetrics(next, w, r)

			route := "unmatched"
			if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			m.ObserveRequest(r.Method, route, snoop.Code, snoop.Duration)
			l.DebugContext(ctx, fmt.Sprintf("request #%d duration: %dms", n, snoop.Duration.Milliseconds()),
				slog.Int("status", snoop.Code))
		})
	}
}

// RateLimit rejects requests above rps with 429, a non positive rps disables the limiter.
func RateLimit(rps float64, burst int, rr *response.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}

		limiter := rate.NewLimiter(rate.Limit(rps), max(burst, 1))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				rr.RespondAndLogCustom(w, r.Context(), errRateLimited, slog.LevelWarn, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
