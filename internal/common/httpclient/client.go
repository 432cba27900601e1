// Package httpclient is a small JSON-over-HTTP wrapper shared by the executor
// client and the CLI.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultMaxBodyBytes = 8 << 20

// ResponseInfo carries response details.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration

	// Headers are set on every request before per-call headers.
	Headers map[string]string

	// HeaderProvider is evaluated per request, e.g. for a token that can change.
	HeaderProvider func() map[string]string

	// MaxBodyBytes bounds how much of a response body is read.
	MaxBodyBytes int64

	// Transport overrides the default transport, mainly for tests.
	Transport http.RoundTripper
}

// Client wraps HTTP requests against one base URL. Do is safe for concurrent
// use; the setters are meant for single-goroutine callers such as the CLI.
type Client struct {
	baseURL  string
	http     *http.Client
	headers  map[string]string
	provider func() map[string]string
	maxBody  int64
}

func New(baseURL string, opts Options) *Client {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		headers:  headers,
		provider: opts.HeaderProvider,
		maxBody:  maxBody,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.http.Timeout = timeout
	}
}

// Do sends body to baseURL+path. Non-2xx statuses are not errors; callers inspect StatusCode.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	setHeaders(req, c.headers)
	if c.provider != nil {
		setHeaders(req, c.provider())
	}
	setHeaders(req, headers)

	start := time.Now()
	resp, err := c.http.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	info.Body = bodyBytes
	return info, nil
}

func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
}
