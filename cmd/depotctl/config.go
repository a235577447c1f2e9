package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	defaultAPIURL      = "http://localhost:8000"
	defaultSessionFile = "session.db"
	appDirName         = "depotctl"
)

type Config struct {
	// Server to talk to
	APIURL string

	// SQLite file to keep session in
	SessionFile string

	// Username for login and register
	Username string

	// Read password from stdin instead of terminal prompt
	PasswordStdin bool

	Verbose bool
}

func NewConfig(userConfigDir func() (string, error)) *Config {
	c := &Config{APIURL: defaultAPIURL, SessionFile: defaultSessionFile}

	if dir, err := userConfigDir(); err == nil {
		c.SessionFile = filepath.Join(dir, appDirName, defaultSessionFile)
	}

	return c
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
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	envMap := map[string]func(string){
		"DEPOT_API_URL":      setString(&c.APIURL),
		"DEPOT_SESSION_FILE": setString(&c.SessionFile),
		"DEPOT_USERNAME":     setString(&c.Username),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

// Parse flags and return positional arguments (command and its args)
func (c *Config) ParseFlags(args []string) ([]string, error) {
	fs := pflag.NewFlagSet("depotctl", pflag.ContinueOnError)

	fs.StringVarP(&c.APIURL, "api-url", "a", c.APIURL, "Server address")
	fs.StringVarP(&c.SessionFile, "session", "f", c.SessionFile, "Session file")
	fs.StringVarP(&c.Username, "username", "u", c.Username, "Username for login and register")
	fs.BoolVar(&c.PasswordStdin, "password-stdin", c.PasswordStdin, "Read password from stdin")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "Log token refreshes and requests")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}
