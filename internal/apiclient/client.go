// Package apiclient talks to the gallery API over HTTP.  One Client serves
// as every collaborator of the client core: it dispatches and verifies
// one-time codes, looks up the admin profile, persists the media catalog and
// generates captions.  The tokens returned by verification are kept in the
// client and sent with every later request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotSignedIn is returned by calls that need a session before Verify
// succeeded.
var ErrNotSignedIn = errors.New("not signed in")

// Error is a non-2xx answer from the API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// UserMessage returns text that can be shown to the user.  Only client
// errors carry one; server failures are reported generically by the caller.
func (e *Error) UserMessage() string {
	switch e.Status {
	case http.StatusTooManyRequests:
		return "Too many attempts. Please wait a moment and try again."
	case http.StatusBadRequest, http.StatusUnauthorized:
		return e.Message
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// Client is safe for concurrent use.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Log     *zap.Logger

	mu      sync.Mutex
	access  string
	refresh string
}

// DefaultTimeout bounds a single request when no http.Client is supplied.
const DefaultTimeout = 15 * time.Second

// New returns a client for the API at baseURL (for example
// "http://localhost:8080").
func New(baseURL string, hc *http.Client, log *zap.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc, Log: log}
}

// SignedIn reports whether the client holds an access token.
func (c *Client) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access != ""
}

func (c *Client) tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.refresh
}

func (c *Client) setTokens(access, refresh string) {
	c.mu.Lock()
	c.access, c.refresh = access, refresh
	c.mu.Unlock()
}

// request is one API call.  Bodies are encoded up front so the call can be
// replayed after a token refresh.
type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	auth        bool
}

func jsonRequest(method, path string, in any, auth bool) (request, error) {
	r := request{method: method, path: path, auth: auth}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return r, err
		}
		r.body, r.contentType = b, "application/json"
	}
	return r, nil
}

// call runs r and decodes a JSON answer into out (when out is non-nil).  An
// authenticated call answered with 401 is retried once after rotating the
// refresh token.
func (c *Client) call(ctx context.Context, r request, out any) error {
	resp, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && r.auth {
		_, refresh := c.tokens()
		if refresh != "" {
			resp.Body.Close()
			if rerr := c.Refresh(ctx); rerr != nil {
				c.Log.Debug("token refresh failed", zap.Error(rerr))
				return &Error{Status: http.StatusUnauthorized, Message: "session expired"}
			}
			if resp, err = c.send(ctx, r); err != nil {
				return err
			}
		}
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.BaseURL+r.path, body)
	if err != nil {
		return nil, err
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if r.auth {
		access, _ := c.tokens()
		if access == "" {
			return nil, ErrNotSignedIn
		}
		req.Header.Set("Authorization", "Bearer "+access)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	return resp, nil
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(b, &e)
		msg := e.Error
		if msg == "" {
			msg = e.Message
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
