package main

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/testutil"
)

func noenv(string) string { return "" }

func Test_run(t *testing.T) {
	getwd := func() (string, error) { return t.TempDir(), nil }

	listenAddr := func(t *testing.T) string {
		port, err := testutil.RandomPort()
		require.NoError(t, err, "failed to get random port to start server")
		return fmt.Sprintf("localhost:%d", port)
	}

	t.Run("memory storage serves requests", func(t *testing.T) {
		addr := listenAddr(t)
		mr, _ := testutil.StartRedis(t)
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- run(ctx, noenv, getwd, []string{
				"--address", addr,
				"--environment", "dev",
				"--storage", "memory",
				"--secret-key", "secret",
				"--redis", "redis://" + mr.Addr(),
				"--cleanup-interval", "10ms",
			})
		}()

		require.Eventually(t, func() bool {
			resp, err := http.Get("http://" + addr + "/health")
			if err != nil {
				return false
			}
			_ = resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		}, 5*time.Second, 20*time.Millisecond, "server should become healthy")

		cancel()
		select {
		case err := <-done:
			require.NoError(t, err, "on correct stop should not return error")
		case <-time.After(5 * time.Second):
			t.Fatal("server should stop on context cancel")
		}
	})

	t.Run("fail without secret", func(t *testing.T) {
		err := run(t.Context(), noenv, getwd, []string{
			"--address", listenAddr(t),
			"--storage", "memory",
		})

		require.ErrorContains(t, err, "secret key is required")
	})

	t.Run("fail on unreachable redis", func(t *testing.T) {
		err := run(t.Context(), noenv, getwd, []string{
			"--address", listenAddr(t),
			"--storage", "memory",
			"--secret-key", "secret",
			"--redis", "redis://127.0.0.1:1",
		})

		require.ErrorContains(t, err, "redis")
	})

	t.Run("postgres storage", func(t *testing.T) {
		pg := testutil.StartPostgresContainer(t)
		t.Cleanup(pg.Terminate)

		ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		err := run(ctx, noenv, getwd, []string{
			"--address", listenAddr(t),
			"--log-level", "debug",
			"--database", pg.DSN,
			"--secret-key", "secret",
		})

		require.NoError(t, err, "on correct stop should not return error")
	})
}
