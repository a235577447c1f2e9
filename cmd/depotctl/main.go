package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/client"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/client/sessionstore"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
)

const usage = `usage: depotctl [flags] <command>

commands:
  register   create account and start session (asks password)
  login      start session (asks password)
  me         show current user
  refresh    rotate session tokens
  logout     revoke session
`

// Process environment passed to run
type env struct {
	stdin         io.Reader
	stdout        io.Writer
	stderr        io.Writer
	getenv        func(string) string
	getwd         func() (string, error)
	userConfigDir func() (string, error)

	// Prompt for password. Terminal echo is disabled when stdin is a terminal
	readPassword func(prompt string) (string, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := env{
		stdin:         os.Stdin,
		stdout:        os.Stdout,
		stderr:        os.Stderr,
		getenv:        os.Getenv,
		getwd:         os.Getwd,
		userConfigDir: os.UserConfigDir,
	}
	e.readPassword = terminalPassword(e.stderr)

	if err := run(ctx, e, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "depotctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, e env, args []string) error {
	c := NewConfig(e.userConfigDir)
	if err := c.LoadDotEnv(e.getwd); err != nil {
		return fmt.Errorf("can't read .env file: %w", err)
	}
	c.LoadEnv(e.getenv)

	rest, err := c.ParseFlags(args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		fmt.Fprint(e.stderr, usage)
		return errors.New("exactly one command expected")
	}

	log := logger.NewNoOpLogger()
	if c.Verbose {
		log, err = logger.NewTextLogger(logger.LevelDebug)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(c.SessionFile), 0o700); err != nil {
		return fmt.Errorf("can't create session dir: %w", err)
	}
	store, err := sessionstore.Open(ctx, c.SessionFile)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	session := client.NewSession(store)
	if err := session.Load(ctx); err != nil {
		return err
	}

	api, err := client.New(client.Config{BaseURL: c.APIURL, Logger: log}, session)
	if err != nil {
		return err
	}

	cmd := commands{api: api, cfg: c, env: e}
	switch rest[0] {
	case "register":
		return cmd.register(ctx)
	case "login":
		return cmd.login(ctx)
	case "me":
		return cmd.me(ctx)
	case "refresh":
		return cmd.refresh(ctx)
	case "logout":
		return cmd.logout(ctx)
	default:
		fmt.Fprint(e.stderr, usage)
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

type commands struct {
	api *client.Client
	cfg *Config
	env env
}

func (c commands) credentials() (string, string, error) {
	username := c.cfg.Username
	if username == "" {
		return "", "", errors.New("username is required, use --username")
	}

	var (
		password string
		err      error
	)
	if c.cfg.PasswordStdin {
		password, err = readLine(c.env.stdin)
	} else {
		password, err = c.env.readPassword("Password: ")
	}
	if err != nil {
		return "", "", fmt.Errorf("can't read password: %w", err)
	}
	if password == "" {
		return "", "", errors.New("password must not be empty")
	}

	return username, password, nil
}

func (c commands) register(ctx context.Context) error {
	username, password, err := c.credentials()
	if err != nil {
		return err
	}
	if err := c.api.Register(ctx, username, password); err != nil {
		return err
	}
	fmt.Fprintf(c.env.stdout, "Registered and logged in as %s\n", username)
	return nil
}

func (c commands) login(ctx context.Context) error {
	username, password, err := c.credentials()
	if err != nil {
		return err
	}
	if err := c.api.Login(ctx, username, password); err != nil {
		return err
	}
	fmt.Fprintf(c.env.stdout, "Logged in as %s\n", username)
	return nil
}

func (c commands) me(ctx context.Context) error {
	if c.api.Session().Tokens().IsZero() {
		return errors.New("not logged in")
	}

	user, err := c.api.Me(ctx)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return errors.New("session expired, please login again")
		}
		return err
	}

	fmt.Fprintf(c.env.stdout, "id:       %s\nusername: %s\nadmin:    %t\n", user.ID, user.Username, user.IsAdmin)
	return nil
}

func (c commands) refresh(ctx context.Context) error {
	if err := c.api.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.env.stdout, "Session refreshed, access token valid until %s\n",
		c.api.Session().Tokens().AccessExpiresAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func (c commands) logout(ctx context.Context) error {
	if err := c.api.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.env.stdout, "Logged out")
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func terminalPassword(prompt io.Writer) func(string) (string, error) {
	return func(p string) (string, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return readLine(os.Stdin)
		}

		fmt.Fprint(prompt, p)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
