package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type logger interface {
	Info(msg string, args ...any)
}

type logData struct {
	responseStatus int
	responseSize   int
}

type logWriter struct {
	http.ResponseWriter
	data        logData
	wroteHeader bool
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	size, err := w.ResponseWriter.Write(p)
	w.data.responseSize += size
	return size, err
}

func (w *logWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	if !w.wroteHeader {
		w.data.responseStatus = statusCode
		w.wroteHeader = true
	}
}

// Log every request. Request id is taken from chi RequestID middleware if it runs before
func LoggerMiddleware(l logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			lw := &logWriter{
				ResponseWriter: w,
				data:           logData{responseStatus: http.StatusOK, responseSize: 0},
			}

			next.ServeHTTP(lw, r)

			l.Info(
				"got HTTP request",
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"uri", r.RequestURI,
				"duration", time.Since(start),
				"status", lw.data.responseStatus,
				"size", lw.data.responseSize,
			)
		})
	}
}
