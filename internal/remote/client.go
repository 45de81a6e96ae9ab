// Package remote provides the shared HTTP plumbing for the detector and
// recognizer collaborator services: multipart uploads, health probes and the
// error taxonomy that distinguishes "unreachable" from "reachable but failing".
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single inference round trip.
	DefaultTimeout = 60 * time.Second

	// DefaultHealthTimeout bounds a liveness probe.
	DefaultHealthTimeout = 5 * time.Second

	// maxErrorBody limits how much of a collaborator error payload is
	// embedded into the returned error message.
	maxErrorBody = 2048
)

// Client is a thin base client for one collaborator service.
type Client struct {
	service       string
	baseURL       string
	httpClient    *http.Client
	healthClient  *http.Client
	healthPath    string
	limiter       *rate.Limiter
	limiterActive bool
}

// Options configures a collaborator client.
type Options struct {
	Timeout       time.Duration
	HealthTimeout time.Duration
	HealthPath    string
	// MaxRPS throttles outbound requests; zero disables throttling.
	MaxRPS float64
}

// NewClient validates the base URL and builds a client for the named service.
func NewClient(service, baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s service URL %q", service, baseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}

	c := &Client{
		service:      service,
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: opts.Timeout},
		healthClient: &http.Client{Timeout: opts.HealthTimeout},
		healthPath:   opts.HealthPath,
	}
	if opts.MaxRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
		c.limiterActive = true
	}
	return c, nil
}

// Service returns the collaborator name used in errors and logs.
func (c *Client) Service() string { return c.service }

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Healthy probes the collaborator's health endpoint. Any transport error or
// non-200 answer counts as unavailable; health probing never fails hard.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.healthClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode == http.StatusOK
}

// PostImage submits image bytes plus form fields as multipart/form-data and
// decodes the JSON response into out. Transport failures map to
// *UnavailableError, non-2xx and undecodable payloads to *StatusError.
func (c *Client) PostImage(ctx context.Context, path string, image []byte, fields map[string]string, out any) error {
	if c.limiterActive {
		if err := c.limiter.Wait(ctx); err != nil {
			return &UnavailableError{Service: c.service, Err: err}
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "image.jpg")
	if err != nil {
		return fmt.Errorf("build multipart request: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return fmt.Errorf("build multipart request: %w", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("build multipart request: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnavailableError{Service: c.service, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Service:    c.service,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &StatusError{Service: c.service, Message: err.Error()}
		}
	}
	return nil
}
