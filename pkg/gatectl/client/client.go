/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package client is a typed HTTP client for the tokengate API.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telekom/tokengate/pkg/apiresponses"
	"github.com/telekom/tokengate/pkg/audit"
	"github.com/telekom/tokengate/pkg/auth"
	"github.com/telekom/tokengate/pkg/gateway"
	"github.com/telekom/tokengate/pkg/version"
)

type Client struct {
	http    *resty.Client
	server  string
	token   string
	timeout time.Duration
	tls     *tls.Config
	verbose func(format string, args ...any)
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{timeout: 30 * time.Second}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.server == "" {
		return nil, errors.New("server is required")
	}

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(c.server, "/")).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent("gatectl"))
	if c.tls != nil {
		c.http.SetTLSClientConfig(c.tls)
	}
	if c.token != "" {
		c.http.SetAuthToken(c.token)
	}
	if c.verbose != nil {
		log := c.verbose
		c.http.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			log("%s %s -> %d (%s)", resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time())
			return nil
		})
	}
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("server is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid server: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid server %q: scheme must be http or https", server)
		}
		c.server = server
		return nil
	}
}

func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout > 0 {
			c.timeout = timeout
		}
		return nil
	}
}

// WithVerbose logs every response through logf.
func WithVerbose(logf func(format string, args ...any)) Option {
	return func(c *Client) error {
		c.verbose = logf
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := loadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		c.tls = tlsConfig
		return nil
	}
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} //nolint:gosec // opt-in by the user
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// HTTPError is returned for every response with a status of 400 or above.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Details    string
	// RetryAfter is set for 429 responses
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var apiErr apiresponses.APIError
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}

	httpErr := &HTTPError{
		StatusCode: resp.StatusCode(),
		Message:    strings.TrimSpace(apiErr.Error),
		Code:       apiErr.Code,
		Details:    apiErr.Details,
	}
	if httpErr.Message == "" {
		httpErr.Message = strings.TrimSpace(resp.String())
	}
	if httpErr.Message == "" {
		httpErr.Message = resp.Status()
	}
	if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
		httpErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return httpErr
}

func (c *Client) Login(ctx context.Context, username, password string) (gateway.TokenResponse, error) {
	var out gateway.TokenResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", gateway.LoginRequest{Username: username, Password: password}, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func (c *Client) Refresh(ctx context.Context) (gateway.TokenResponse, error) {
	var out gateway.TokenResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/refresh", nil, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context) (auth.Identity, error) {
	var out auth.Identity
	err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out)
	return out, err
}

func (c *Client) RequestVerificationCode(ctx context.Context, target, channel string) error {
	return c.do(ctx, http.MethodPost, "/api/verification-codes",
		gateway.VerificationCodeRequest{Target: target, Channel: channel}, nil)
}

func (c *Client) SubmitOrder(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/orders", nil, nil)
}

func (c *Client) Policies(ctx context.Context) ([]gateway.PolicyInfo, error) {
	var out []gateway.PolicyInfo
	err := c.do(ctx, http.MethodGet, "/api/admin/ratelimit/policies", nil, &out)
	return out, err
}

func (c *Client) ResetBucket(ctx context.Context, policy, key string) error {
	endpoint := "/api/admin/ratelimit/" + url.PathEscape(policy) + "/" + url.PathEscape(key)
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) RotateKey(ctx context.Context) (gateway.RotationResponse, error) {
	var out gateway.RotationResponse
	err := c.do(ctx, http.MethodPost, "/api/admin/keys/rotate", nil, &out)
	return out, err
}

func (c *Client) AuditHealth(ctx context.Context) ([]audit.QueuedSinkHealth, error) {
	var out []audit.QueuedSinkHealth
	err := c.do(ctx, http.MethodGet, "/api/admin/audit/health", nil, &out)
	return out, err
}

func (c *Client) ServerVersion(ctx context.Context) (version.BuildInfo, error) {
	var out version.BuildInfo
	err := c.do(ctx, http.MethodGet, "/api/version", nil, &out)
	return out, err
}
