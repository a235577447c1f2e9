package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/db"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/repository"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/repository/memory"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/repository/postgres"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/service/auth"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/service/auth/tokenmanager"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/service/cleanup"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/service/ratelimit"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	cleaner *cleanup.Cleaner // nil if cleanup disabled
	logger  logger.Logger
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	app := &ServerApp{ListenAddr: c.ListenAddr}

	// Release what was opened if initialization fails halfway
	initialized := false
	defer func() {
		if !initialized {
			app.close()
		}
	}()

	// Initialize logger
	var err error
	app.logger, err = logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	storage, err := app.openStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	// Login throttling is optional
	var limiter auth.LoginLimiter
	if c.RedisURL != "" {
		client, err := ratelimit.Connect(ctx, c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		app.closers = append(app.closers, func() { _ = client.Close() })
		limiter = ratelimit.New(client, ratelimit.Config{})
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTokenTTL,
		RefreshTTL: c.RefreshTokenTTL,
		Logger:     app.logger,
	}, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	userService := user.NewService(auth.DefaultHasher, storage.User())
	authService := auth.NewService(auth.Config{
		CookieSecure: c.CookieSecure,
		Limiter:      limiter,
		Logger:       app.logger,
	}, tokenManager, userService)

	if c.CleanupInterval > 0 {
		app.cleaner = cleanup.New(cleanup.Config{Interval: c.CleanupInterval, Logger: app.logger}, tokenManager)
	}

	app.Handler = handlers.NewRouter(
		handlers.RouterConfig{CORSOrigins: c.CORSOrigins},
		authService,
		userService,
		tokenManager,
		app.logger,
	)

	initialized = true
	return app, nil
}

func (s *ServerApp) openStorage(ctx context.Context, c *Config) (repository.Storage, error) {
	switch c.Storage {
	case StorageMemory:
		s.logger.Warn("Memory storage is used, tokens and users are lost on restart")
		return memory.NewStorage(), nil

	case StoragePostgres:
		// Connect to the database and run migrations
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		return postgres.NewStorage(pool), nil

	default:
		return nil, fmt.Errorf("unknown storage %q", c.Storage)
	}
}

func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	var cleanerStopped <-chan struct{}
	if s.cleaner != nil {
		cleanerStopped = s.cleaner.Run(srvCtx)
	} else {
		stopped := make(chan struct{})
		close(stopped)
		cleanerStopped = stopped
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-cleanerStopped

	return err
}
