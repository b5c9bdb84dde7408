package web

import (
	"log"
	"net/http"
	"time"
)

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code and delegates to the embedded writer.
func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs each request with method, path, status, and duration.
// Status polling is only logged when it fails.
func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		if r.URL.Path == "/status" && sw.status == http.StatusOK {
			return
		}
		logger.Printf("[INFO] %s %s %d %s", r.Method, r.URL.Path, sw.status,
			time.Since(start).Round(time.Microsecond))
	})
}

// recoveryMiddleware turns a handler panic into a logged 500 response.
func recoveryMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Printf("[ERROR] panic recovered on %s: %v", r.URL.Path, v)
				writeFailure(w, http.StatusInternalServerError, MessageInternal)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
