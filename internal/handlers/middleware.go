package handlers

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"climate-explorer/pkg/logging"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.written {
		rec.status = code
		rec.written = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.written {
		rec.status = http.StatusOK
		rec.written = true
	}
	return rec.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// requestID reuses a well-formed incoming X-Request-ID or generates one, and
// stores it in the request context for the logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// recoverer turns a handler panic into a logged 500 response.
func (h *ExplorerHandler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				ctx := r.Context()
				h.logger.Error(ctx, "[API_PANIC] Panic recovered", logging.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"stack":  string(debug.Stack()),
				}, fmt.Errorf("panic: %v", rvr))
				sendJSON(w, ErrorResponse{
					Error:     http.StatusText(http.StatusInternalServerError),
					Message:   "internal server error",
					Code:      http.StatusInternalServerError,
					Reason:    "internal_error",
					RequestID: logging.RequestID(ctx),
				}, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// instrument records request count, latency and an access log line keyed by
// the matched route template so path parameters do not explode label sets.
func (h *ExplorerHandler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := routeTemplate(r)
		d := time.Since(start)
		h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
		h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(rec.status))
		h.logger.Debug(r.Context(), "[API_REQUEST] Request served", logging.Fields{
			"endpoint":    endpoint,
			"method":      r.Method,
			"status":      rec.status,
			"duration_ms": d.Milliseconds(),
		})
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
