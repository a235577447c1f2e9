package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultStorage         = StoragePostgres
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 24 * time.Hour
	defaultCleanupInterval = time.Hour
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to. Required for postgres storage
	DatabaseDSN string

	// Secret key to sign access tokens with
	SecretKey string

	// Environment: dev or prod
	Environment string

	// Storage backend: postgres or memory
	Storage string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Redis to throttle logins with. Throttling is disabled if empty
	RedisURL string

	// Browser origins allowed to call API
	CORSOrigins []string

	// How often expired refresh tokens are deleted. Cleanup is disabled if zero
	CleanupInterval time.Duration

	// Send refresh cookie over https only
	CookieSecure bool
}

func NewConfig() *Config {
	return &Config{
		LogLevel:        defaultLoggingLevel,
		ListenAddr:      defaultListenAddr,
		Environment:     defaultEnvironment,
		Storage:         defaultStorage,
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		CleanupInterval: defaultCleanupInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			var items []string
			for _, item := range strings.Split(value, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			*o = items
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":       setString(&c.ListenAddr),
		"DATABASE_URI":      setString(&c.DatabaseDSN),
		"SECRET_KEY":        setString(&c.SecretKey),
		"LOG_LEVEL":         setString(&c.LogLevel),
		"ENVIRONMENT":       setString(&c.Environment),
		"STORAGE":           setString(&c.Storage),
		"ACCESS_TOKEN_TTL":  setDuration(&c.AccessTokenTTL),
		"REFRESH_TOKEN_TTL": setDuration(&c.RefreshTokenTTL),
		"REDIS_URL":         setString(&c.RedisURL),
		"CORS_ORIGINS":      setList(&c.CORSOrigins),
		"CLEANUP_INTERVAL":  setDuration(&c.CleanupInterval),
		"COOKIE_SECURE":     setBool(&c.CookieSecure),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("depot", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign access tokens")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.Storage, "storage", c.Storage, "Storage backend (postgres, memory)")
	fs.DurationVar(&c.AccessTokenTTL, "access-ttl", c.AccessTokenTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTokenTTL, "refresh-ttl", c.RefreshTokenTTL, "Refresh token lifetime")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis url for login throttling, e.g. redis://localhost:6379/0")
	fs.StringSliceVar(&c.CORSOrigins, "cors-origins", c.CORSOrigins, "Allowed CORS origins, comma separated")
	fs.DurationVar(&c.CleanupInterval, "cleanup-interval", c.CleanupInterval, "Expired refresh tokens cleanup interval (0 to disable)")
	fs.BoolVar(&c.CookieSecure, "cookie-secure", c.CookieSecure, "Set Secure attribute on refresh cookie")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	var errs []error

	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}

	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("database uri is required for postgres storage"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q, expected one of: %s, %s", c.Storage, StoragePostgres, StorageMemory))
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.CleanupInterval < 0 {
		errs = append(errs, errors.New("cleanup interval must not be negative"))
	}

	return errors.Join(errs...)
}
