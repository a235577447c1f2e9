package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
)

const defaultTimeout = 30 * time.Second

const (
	pathRegister = "/api/user/register"
	pathLogin    = "/api/user/login"
	pathRefresh  = "/api/user/refresh"
	pathLogout   = "/api/user/logout"
	pathMe       = "/api/user/me"
)

type Config struct {
	// Server address, e.g. http://localhost:8080
	BaseURL string

	// Transport under the interceptor. http.DefaultTransport if nil
	Base http.RoundTripper

	// Whole request timeout including refresh and replay. 30s if zero
	Timeout time.Duration

	Logger logger.Logger
}

// API client. Requests made with Do or Me recover from expired access token transparently
type Client struct {
	baseURL   string
	session   *Session
	transport *Transport
	http      *http.Client // with interceptor
	raw       *http.Client // plain, for credential endpoints
}

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenData struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func (d tokenData) tokens() Tokens {
	return Tokens{
		Access:           d.AccessToken,
		AccessExpiresAt:  d.AccessExpiresAt,
		Refresh:          d.RefreshToken,
		RefreshExpiresAt: d.RefreshExpiresAt,
	}
}

func New(cfg Config, session *Session) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	baseURL := strings.TrimRight(u.String(), "/")

	if session == nil {
		session = NewSession(nil)
	}
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	transport := NewTransport(TransportConfig{
		Base:       cfg.Base,
		RefreshURL: baseURL + pathRefresh,
		Logger:     cfg.Logger,
	}, session)

	return &Client{
		baseURL:   baseURL,
		session:   session,
		transport: transport,
		http:      &http.Client{Transport: transport, Timeout: cfg.Timeout},
		raw:       &http.Client{Transport: cfg.Base, Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Session() *Session {
	return c.session
}

// Create account and start session
func (c *Client) Register(ctx context.Context, username string, password string) error {
	return c.authenticate(ctx, pathRegister, username, password)
}

// Start session with credentials
func (c *Client) Login(ctx context.Context, username string, password string) error {
	return c.authenticate(ctx, pathLogin, username, password)
}

func (c *Client) authenticate(ctx context.Context, path string, username string, password string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, path, credentials{Login: username, Password: password})
	if err != nil {
		return err
	}

	var data tokenData
	if err := c.doJSON(c.raw, req, &data); err != nil {
		return err
	}

	return c.session.Set(ctx, data.tokens())
}

// Rotate session tokens explicitly
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.transport.Refresh(ctx)
	return err
}

// Revoke refresh token on server and forget session
// Local session is cleared even if server call fails
func (c *Client) Logout(ctx context.Context) error {
	refresh := c.session.Tokens().Refresh

	var callErr error
	if refresh != "" {
		req, err := c.newJSONRequest(ctx, http.MethodPost, pathLogout, refreshRequest{RefreshToken: refresh})
		if err != nil {
			return err
		}
		callErr = c.doJSON(c.raw, req, nil)
	}

	return errors.Join(callErr, c.session.Clear(ctx))
}

func (c *Client) Me(ctx context.Context) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathMe, nil)
	if err != nil {
		return User{}, err
	}

	var user User
	if err := c.doJSON(c.http, req, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Send arbitrary request through the interceptor. Relative URLs are resolved against BaseURL
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !req.URL.IsAbs() {
		u, err := url.Parse(c.baseURL + "/" + strings.TrimLeft(req.URL.String(), "/"))
		if err != nil {
			return nil, err
		}
		req.URL = u
		req.Host = ""
	}
	return c.http.Do(req)
}

func (c *Client) newJSONRequest(ctx context.Context, method string, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) doJSON(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	return decodeResponse(resp, out)
}

// Decode success envelope 'data' into out, or turn error body into *APIError
func decodeResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			apiErr.Code = eb.Error
			apiErr.Message = eb.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
