// Package remote is the client for the grader API, the source of course,
// assignment and account metadata.
package remote

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

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/course"
)

// ErrTransport marks failures to reach the API at all: DNS, connection,
// TLS and timeouts. HTTP error statuses are reported as *RemoteError.
var ErrTransport = errors.New("grader API unreachable")

// ErrResponseTooLarge is returned instead of decoding a truncated body.
var ErrResponseTooLarge = errors.New("grader API response too large")

// ClientOptions configures the API client.
type ClientOptions struct {
	Timeout     time.Duration // per-request timeout (default 15s)
	MaxAttempts int           // attempts per request (default 1, no retry)

	// AccessToken is sent as a Bearer token. When empty, User and Password
	// are sent with basic auth.
	AccessToken string
	User        string
	Password    string

	HTTPClient *http.Client // optional; Timeout is applied to a copy
}

const (
	defaultTimeout       = 15 * time.Second
	responseLimitDefault = 2 << 20 // 2MB
	apiPrefix            = "/api/v1"
)

// Client talks to one grader API deployment.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	token       string
	user        string
	pass        string
	maxAttempts int
}

// NewClient creates an API client for apiURL. Zero-value or negative option
// fields receive defaults.
func NewClient(apiURL string, opts ClientOptions) (*Client, error) {
	apiURL = strings.TrimSpace(apiURL)
	if apiURL == "" {
		return nil, fmt.Errorf("grader API URL is required")
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse grader API URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("grader API URL must include scheme and host")
	}
	u.Path = strings.TrimRight(u.Path, "/")

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	hc := &http.Client{}
	if opts.HTTPClient != nil {
		copied := *opts.HTTPClient
		hc = &copied
	}
	hc.Timeout = opts.Timeout

	return &Client{
		baseURL:     u,
		httpClient:  hc,
		token:       strings.TrimSpace(opts.AccessToken),
		user:        strings.TrimSpace(opts.User),
		pass:        opts.Password,
		maxAttempts: opts.MaxAttempts,
	}, nil
}

// BaseURL returns the normalized API URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Course returns the course this workstation belongs to.
func (c *Client) Course(ctx context.Context) (course.Course, error) {
	var out course.Course
	err := c.getJSON(ctx, "/course", &out)
	return out, err
}

// Assignments returns the caller's assignments in server order.
func (c *Client) Assignments(ctx context.Context) ([]course.Assignment, error) {
	var out []course.Assignment
	if err := c.getJSON(ctx, "/assignments/self", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Self returns the authenticated user.
func (c *Client) Self(ctx context.Context) (course.User, error) {
	var out course.User
	err := c.getJSON(ctx, "/users/self", &out)
	return out, err
}

// Settings returns server settings needed to reach the git host.
func (c *Client) Settings(ctx context.Context) (course.Settings, error) {
	var out course.Settings
	err := c.getJSON(ctx, "/settings", &out)
	return out, err
}

// SetSSHKey registers an authorized public key under name, replacing any
// key previously registered with that name.
func (c *Client) SetSSHKey(ctx context.Context, name, publicKey string) error {
	payload, err := json.Marshal(struct {
		Name string `json:"name"`
		Key  string `json:"key"`
	}{name, strings.TrimSpace(publicKey)})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPut, "/users/self/ssh-keys/"+url.PathEscape(name), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.doWithLimit(req, responseLimitDefault, "")
	return err
}

func (c *Client) getJSON(ctx context.Context, p string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return err
	}
	body, err := c.doWithLimit(req, responseLimitDefault, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", p, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = u.Path + apiPrefix + p
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "zstd")
	return req, nil
}

// doWithLimit sends req and returns the decoded body of a 2xx response.
// Bodies longer than maxBytes fail with ErrResponseTooLarge.
func (c *Client) doWithLimit(req *http.Request, maxBytes int64, expectedContentType string) ([]byte, error) {
	c.applyAuth(req)
	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if isZstdEncoded(resp.Header.Get("Content-Encoding")) {
		zr, err := newZstdReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("decode %s response: %w", req.URL.Path, err)
		}
		defer zr.Close()
		r = zr
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %w", ErrTransport, req.URL.Path, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: %s %s exceeds %d bytes", ErrResponseTooLarge, req.Method, req.URL.Path, maxBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := tryParseRemoteError(body)
		if re == nil {
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			re = &RemoteError{Message: msg}
		}
		re.Status = resp.StatusCode
		re.Method = req.Method
		re.Path = req.URL.Path
		return nil, re
	}

	if expectedContentType != "" {
		ct := resp.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(ct, expectedContentType) {
			return nil, fmt.Errorf("unexpected content type %q (expected %s) from %s %s (status %d)",
				ct, expectedContentType, req.Method, req.URL.Path, resp.StatusCode)
		}
	}
	return body, nil
}

func (c *Client) applyAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}

// RemoteError is an error status returned by the API.
type RemoteError struct {
	Status  int    `json:"-"`
	Method  string `json:"-"`
	Path    string `json:"-"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return fmt.Sprintf("grader API %s %s (%d): %s", e.Method, e.Path, e.Status, msg)
}

// tryParseRemoteError accepts {"message": ...} and {"detail": ...} bodies.
func tryParseRemoteError(body []byte) *RemoteError {
	var re RemoteError
	if err := json.Unmarshal(body, &re); err != nil {
		return nil
	}
	if re.Message == "" && re.Detail == "" {
		return nil
	}
	return &re
}
