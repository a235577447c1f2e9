package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel context on SIGINT or SIGTERM
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		slog.Warn("Interrupt signal")
		cancel()
	}()

	if err := run(ctx, os.Getenv, os.Getwd, os.Args[1:]); err != nil {
		slog.Error("depot stopped with error", "error", err.Error())
		os.Exit(1)
	}
}

// Read configuration (defaults, .env, environment, flags), start server and block until ctx cancelled
func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("can't read .env file: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return fmt.Errorf("can't read environment: %w", err)
	}
	if err := c.ParseFlags(args); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	srv, err := NewServerApp(ctx, c)
	if err != nil {
		return fmt.Errorf("can't initialize app, sorry: %w", err)
	}

	err = srv.Run(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
