package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/render"
)

type errorLogger interface {
	Error(msg string, args ...any)
}

// Turn handler panic into 500 json response
func RecoverMiddleware(l errorLogger) func(http.Handler) http.Handler {
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

				l.Error("handler panicked", "panic", rec, "uri", r.RequestURI, "stack", string(debug.Stack()))
				render.InternalError(w, "Internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
