package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
)

const defaultRefreshTimeout = 10 * time.Second

// Lifecycle of one request passing through Transport
type state int

const (
	statePending state = iota
	stateSent
	stateFulfilled
	stateNeedsRefresh
	stateRefreshing
	stateReplayed
	stateRefreshFailed
	stateRejected
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateSent:
		return "sent"
	case stateFulfilled:
		return "fulfilled"
	case stateNeedsRefresh:
		return "needs_refresh"
	case stateRefreshing:
		return "refreshing"
	case stateReplayed:
		return "replayed"
	case stateRefreshFailed:
		return "refresh_failed"
	case stateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport attaches access token to requests and recovers from 401 once:
// it refreshes the session through the base transport and replays the request.
// Replayed requests and the refresh call never start another refresh.
// Concurrent 401s share one refresh call.
type Transport struct {
	base       http.RoundTripper
	session    *Session
	refreshURL string
	refresh    *url.URL // parsed refreshURL, nil if invalid
	timeout    time.Duration
	logger     logger.Logger

	group singleflight.Group
}

type TransportConfig struct {
	// Transport to send requests with. http.DefaultTransport if nil
	Base http.RoundTripper

	// Full URL of refresh endpoint
	RefreshURL string

	// Max duration of one refresh call. 10s if zero
	RefreshTimeout time.Duration

	Logger logger.Logger
}

func NewTransport(cfg TransportConfig, session *Session) *Transport {
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	refresh, err := url.Parse(cfg.RefreshURL)
	if err != nil {
		refresh = nil
	}

	return &Transport{
		base:       cfg.Base,
		session:    session,
		refreshURL: cfg.RefreshURL,
		refresh:    refresh,
		timeout:    cfg.RefreshTimeout,
		logger:     cfg.Logger.With("component", "client.transport"),
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	st := statePending

	getBody, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	sent := t.session.Tokens()
	resp, err := t.send(req, getBody, sent.Access)
	if err != nil {
		return nil, err
	}
	st = t.next(req, st, stateSent)

	// Without session there is nothing to refresh.
	// Rejected refresh call is final too, otherwise it would refresh itself
	if resp.StatusCode != http.StatusUnauthorized || sent.Refresh == "" || t.isRefreshCall(req) {
		t.next(req, st, stateFulfilled)
		return resp, nil
	}

	drain(resp)
	st = t.next(req, st, stateNeedsRefresh)

	// Other request could refresh the session while this one was in flight
	current := t.session.Tokens()
	if current.Access == "" || current.Access == sent.Access {
		st = t.next(req, st, stateRefreshing)

		current, err = t.refreshShared(req.Context(), current.Refresh)
		if err != nil {
			st = t.next(req, st, stateRefreshFailed)
			t.next(req, st, stateRejected)
			return nil, err
		}
	}

	resp, err = t.send(req, getBody, current.Access)
	if err != nil {
		return nil, err
	}
	st = t.next(req, st, stateReplayed)

	// Replayed response is final even if it is 401 again
	t.next(req, st, stateFulfilled)
	return resp, nil
}

// Refresh the session now. Shares in-flight refresh with RoundTrip
func (t *Transport) Refresh(ctx context.Context) (Tokens, error) {
	return t.refreshShared(ctx, t.session.Tokens().Refresh)
}

func (t *Transport) isRefreshCall(req *http.Request) bool {
	if t.refresh == nil {
		return false
	}
	return strings.EqualFold(req.URL.Scheme, t.refresh.Scheme) &&
		strings.EqualFold(req.URL.Host, t.refresh.Host) &&
		strings.TrimRight(req.URL.Path, "/") == strings.TrimRight(t.refresh.Path, "/")
}

func (t *Transport) next(req *http.Request, from state, to state) state {
	t.logger.Debug("request state changed", "method", req.Method, "url", req.URL.Redacted(), "from", from, "to", to)
	return to
}

func (t *Transport) send(req *http.Request, getBody func() (io.ReadCloser, error), access string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		r.Body = body
	}

	if access != "" {
		r.Header.Set("Authorization", "Bearer "+access)
	}

	return t.base.RoundTrip(r)
}

func (t *Transport) refreshShared(ctx context.Context, refresh string) (Tokens, error) {
	if refresh == "" {
		return Tokens{}, fmt.Errorf("%w: no refresh token", ErrUnauthorized)
	}

	ch := t.group.DoChan(refresh, func() (any, error) {
		// Token was already rotated by a call that finished just before this one
		if current := t.session.Tokens(); current.Refresh != refresh && current.Access != "" {
			return current, nil
		}

		// Shared by several callers, so it must not depend on the first caller lifetime
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()
		return t.refresh(ctx, refresh)
	})

	select {
	case <-ctx.Done():
		return Tokens{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Tokens{}, res.Err
		}
		return res.Val.(Tokens), nil
	}
}

// One refresh call straight through the base transport
func (t *Transport) refresh(ctx context.Context, refresh string) (Tokens, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refresh})
	if err != nil {
		return Tokens{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return Tokens{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Warn("refresh request failed", "error", err)
		return Tokens{}, fmt.Errorf("%w: refresh request failed: %v", ErrUnauthorized, err)
	}
	defer drain(resp)

	var data tokenData
	if err := decodeResponse(resp, &data); err != nil {
		if resp.StatusCode == http.StatusUnauthorized {
			t.logger.Info("refresh rejected, session cleared")
			if clearErr := t.session.Clear(ctx); clearErr != nil {
				t.logger.Error("failed to clear session", "error", clearErr)
			}
		}
		return Tokens{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	tokens := data.tokens()
	if err := t.session.Set(ctx, tokens); err != nil {
		t.logger.Error("failed to save session", "error", err)
	}

	return tokens, nil
}

// Make request body replayable. Request itself is not modified
func bufferBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

// Read rest of the body so connection could be reused
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
