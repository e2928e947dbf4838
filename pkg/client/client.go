// Package client provides the authenticated, rate-limited HTTP client used for
// every call against the source and destination CRM APIs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/crm-migrate/pkg/metrics"
	"github.com/Sternrassler/crm-migrate/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxErrorBody bounds how much of an error response body ends up in HTTPError.Message.
const maxErrorBody = 512

// Requester performs one API call. *Client and the retry wrapper implement it.
type Requester interface {
	Do(ctx context.Context, method, path string, body any) (*Response, error)
}

// Client is a CRM API client bound to one base URL and one rate budget.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Name labels metrics and logs ("source", "destination").
	Name string

	// BaseURL is prefixed to every request path.
	BaseURL string

	// APIKey is sent as "<AuthScheme> <APIKey>" in the Authorization header.
	APIKey     string
	AuthScheme string

	// Timeout applies to each request individually.
	Timeout time.Duration

	// RateLimit is the maximum number of requests per second.
	RateLimit int

	UserAgent string

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// DefaultConfig returns the configuration used by the migrator: bearer auth,
// a 10 second request timeout and 5 requests per second.
func DefaultConfig(name, baseURL, apiKey string) Config {
	return Config{
		Name:       name,
		BaseURL:    baseURL,
		APIKey:     apiKey,
		AuthScheme: "Bearer",
		Timeout:    10 * time.Second,
		RateLimit:  5,
		UserAgent:  "crm-migrate/1.0",
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	if cfg.Name == "" {
		cfg.Name = "api"
	}

	logger := log.With().
		Str("component", "crm-client").
		Str("client", cfg.Name).
		Logger()

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON unmarshals the response body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// Do sends one request. A non-nil body is JSON encoded. The call waits for the
// rate limiter first, then fails with *HTTPError on transport errors and
// non-2xx responses.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	waited, err := c.limiter.Wait(ctx)
	metrics.RateLimitWait.WithLabelValues(c.config.Name).Observe(waited.Seconds())
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	defer func() {
		metrics.RequestDuration.WithLabelValues(c.config.Name).Observe(time.Since(startTime).Seconds())
	}()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", path).
		Msg("Executing CRM request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(c.config.Name, method, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", path).Msg("HTTP request failed")
		return nil, &HTTPError{
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(c.config.Name, method, "network_error").Inc()
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	metrics.RequestsTotal.WithLabelValues(c.config.Name, method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    errorMessage(resp.Status, data),
		}
		c.logger.Warn().
			Str("endpoint", path).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(httpErr.Class)).
			Msg("CRM request error")
		return nil, httpErr
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Name returns the client's metric and log label.
func (c *Client) Name() string {
	return c.config.Name
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	scheme := c.config.AuthScheme
	if scheme == "" {
		scheme = "Bearer"
	}
	req.Header.Set("Authorization", scheme+" "+c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	return req, nil
}

func errorMessage(status string, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return status
	}
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return msg
}
