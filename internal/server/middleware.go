package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webrender/webrender/api/schemas"
)

// requestLogger logs a line when a request arrives and one when it is done.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			reqLogger.Info(fmt.Sprintf(">> %s %s", r.Method, r.URL.Path))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				reqLogger.Info(fmt.Sprintf("<< %s %s %d", r.Method, r.URL.Path, status),
					zap.Duration("took", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// recoverer turns a handler panic into a 500 with a JSON error body.
func recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("Handler panicked.",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				respondJSON(w, logger, http.StatusInternalServerError, schemas.ErrorResponse{
					Error: fmt.Sprintf("Unable to handle %s: %v", r.URL.Path, rec),
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit refuses requests beyond limiter's rate with a 429.
func rateLimit(limiter *rate.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				respondJSON(w, logger, http.StatusTooManyRequests, schemas.ErrorResponse{
					Error:     "Too many render requests, try again later.",
					ErrorCode: schemas.ErrorCodeRateLimited,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
