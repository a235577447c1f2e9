package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type errorLoggerFunc func(string, ...any)

func (f errorLoggerFunc) Error(msg string, v ...any) { f(msg, v...) }

func TestRecoverMiddleware(t *testing.T) {
	t.Run("panic turns into 500", func(t *testing.T) {
		logged := ""
		l := errorLoggerFunc(func(msg string, _ ...any) { logged = msg })
		h := RecoverMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.JSONEq(t, `{"error": "Internal Server Error", "message": "Internal server error"}`, w.Body.String())
		require.Equal(t, "handler panicked", logged)
	})

	t.Run("no panic pass through", func(t *testing.T) {
		l := errorLoggerFunc(func(string, ...any) { t.Fatal("nothing should be logged") })
		h := RecoverMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		require.Equal(t, http.StatusTeapot, w.Code)
	})

	t.Run("abort handler is re-panicked", func(t *testing.T) {
		l := errorLoggerFunc(func(string, ...any) {})
		h := RecoverMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}))

		require.PanicsWithValue(t, http.ErrAbortHandler, func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
		})
	})
}
