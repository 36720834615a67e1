// Package client is the typed REST client for the Camision API. It owns the
// cross-cutting request behavior the rest of the client core relies on:
// bearer auth, one-shot token refresh on 401, bounded retry on 429, and
// normalization of every failure into an apperrors kind.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/elly-james/camision/pkg/apperrors"
)

// Rate-limited requests are retried this many times, sleeping 2s, 4s, 8s.
const maxRateLimitRetries = 3

// TokenStore is where the client keeps its credentials. Implementations must
// be safe for concurrent use.
type TokenStore interface {
	Tokens() (access, refresh string)
	SetTokens(access, refresh string) error
	ClearTokens() error
}

// Client issues authenticated requests against the API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// onLogout fires when the session cannot be kept alive (refresh failed,
	// or a refreshed token was rejected) and the credentials were cleared.
	onLogout func()

	// refreshMu serializes refresh so concurrent 401s trigger one refresh.
	refreshMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogoutHook registers a callback for forced logout.
func WithLogoutHook(fn func()) Option {
	return func(c *Client) { c.onLogout = fn }
}

// WithSleep overrides the retry sleep. Tests use this to run instantly.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// New creates a Client against baseURL.
func New(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
		tokens:   tokens,
		sleep:    sleepCtx,
		onLogout: func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// request describes one API call. Body and contentType are optional; bodyFn
// rebuilds the body for retries, since a consumed reader cannot be resent.
type request struct {
	method      string
	path        string
	query       string
	contentType string
	bodyFn      func() (io.Reader, error)
	noAuth      bool
}

func jsonBody(v any) func() (io.Reader, error) {
	return func() (io.Reader, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(b), nil
	}
}

// do runs the request with the full retry/refresh policy and decodes a
// successful JSON response into out (when out is non-nil).
func (c *Client) do(ctx context.Context, req request, out any) error {
	resp, err := c.exchange(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "malformed server response", err)
	}
	return nil
}

// exchange performs the HTTP round trips. The caller owns the returned body.
func (c *Client) exchange(ctx context.Context, req request) (*http.Response, error) {
	refreshed := false
	attempt := 0

	for {
		resp, err := c.send(ctx, req)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindTransient, "request failed", err)
		}

		switch {
		case resp.StatusCode < 400:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests && attempt < maxRateLimitRetries:
			drain(resp)
			attempt++
			// 2s, 4s, 8s
			if err := c.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return nil, apperrors.Wrap(apperrors.KindTransient, "rate limited", err)
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized && !req.noAuth:
			drain(resp)
			if refreshed {
				// The refreshed token was rejected too; the session is gone.
				return nil, c.forceLogout(fmt.Errorf("unauthorized after token refresh"))
			}
			if err := c.refresh(ctx); err != nil {
				return nil, err
			}
			refreshed = true
			continue

		default:
			defer resp.Body.Close()
			return nil, normalizeHTTPError(resp)
		}
	}
}

func (c *Client) send(ctx context.Context, req request) (*http.Response, error) {
	var body io.Reader
	if req.bodyFn != nil {
		b, err := req.bodyFn()
		if err != nil {
			return nil, err
		}
		body = b
	}

	url := c.baseURL + req.path
	if req.query != "" {
		url += "?" + req.query
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, url, body)
	if err != nil {
		return nil, err
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	if !req.noAuth {
		access, _ := c.tokens.Tokens()
		if access != "" {
			httpReq.Header.Set("Authorization", "Bearer "+access)
		}
	}

	return c.http.Do(httpReq)
}

// refresh exchanges the stored refresh token for a new pair. On failure the
// stored credentials are cleared and the logout hook fires.
func (c *Client) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	_, refreshToken := c.tokens.Tokens()
	if refreshToken == "" {
		return c.forceLogout(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindAuth, "session expired", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+refreshToken)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "token refresh failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.forceLogout(fmt.Errorf("refresh rejected with status %d", resp.StatusCode))
	}

	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil || pair.AccessToken == "" {
		return c.forceLogout(err)
	}

	if err := c.tokens.SetTokens(pair.AccessToken, pair.RefreshToken); err != nil {
		return apperrors.Wrap(apperrors.KindAuth, "could not store refreshed tokens", err)
	}
	return nil
}

func (c *Client) forceLogout(cause error) error {
	_ = c.tokens.ClearTokens()
	c.onLogout()
	return apperrors.Wrap(apperrors.KindAuth, "session expired", cause)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// normalizeHTTPError maps a failed response to an apperrors kind, pulling the
// server's error envelope through when present.
func normalizeHTTPError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)

	msg := envelope.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var kind apperrors.Kind
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = apperrors.KindAuth
	case resp.StatusCode == http.StatusNotFound:
		kind = apperrors.KindNotFound
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		kind = apperrors.KindTransient
	default:
		kind = apperrors.KindValidation
	}

	e := apperrors.New(kind, msg)
	if envelope.Error.Code != "" {
		e = e.WithDetails(envelope.Error.Code)
	}
	return e
}
