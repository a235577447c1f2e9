package cleanup

import (
	"context"
	"time"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
)

const (
	defaultInterval  = time.Hour          // How often expired tokens are purged
	defaultRetention = 7 * 24 * time.Hour // How long expired tokens are kept for reuse detection
)

type expiredDeleter interface {
	DeleteExpired(ctx context.Context, retention time.Duration) (int64, error)
}

type Config struct {
	Interval  time.Duration
	Retention time.Duration
	Logger    logger.Logger
}

// Periodically deletes refresh tokens expired more than Retention ago
// Failures are logged and retried on the next tick
type Cleaner struct {
	interval  time.Duration
	retention time.Duration
	tokens    expiredDeleter
	logger    logger.Logger
}

func New(cfg Config, tokens expiredDeleter) *Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &Cleaner{
		interval:  cfg.Interval,
		retention: cfg.Retention,
		tokens:    tokens,
		logger:    cfg.Logger.With("component", "cleanup"),
	}
}

// Start cleaner in background. Returned channel is closed when cleaner stopped by context
func (c *Cleaner) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	c.logger.Debug("Starting cleaner", "interval", c.interval, "retention", c.retention)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Debug("Cleaner stopped by context")
				return

			case <-ticker.C:
				c.RunOnce(ctx)
			}
		}
	}()

	return idleStopped
}

func (c *Cleaner) RunOnce(ctx context.Context) {
	deleted, err := c.tokens.DeleteExpired(ctx, c.retention)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("Failed to delete expired refresh tokens", "error", err)
		}
		return
	}

	if deleted > 0 {
		c.logger.Info("Expired refresh tokens deleted", "count", deleted)
	}
}
