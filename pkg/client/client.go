// Package client provides the Close API HTTP transport with rate limiting,
// retries, and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/close-api-client/pkg/ratelimit"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Close client operations.
var (
	closeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_requests_total",
		Help: "Total Close API requests by method and status",
	}, []string{"method", "status"})

	closeRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "close_request_duration_seconds",
		Help:    "Close API request duration in seconds by method, retries included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	closeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "close_errors_total",
		Help: "Total Close API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the Close REST API root.
const DefaultBaseURL = "https://api.close.com/api/v1/"

// Request is one call against the API. Path is relative to the base URL,
// e.g. "opportunity/oppo_123/".
type Request struct {
	Method string
	Path   string
	Query  url.Values

	// Body is marshalled as JSON when non-nil.
	Body any
}

// Response is a successful (2xx) API response with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport executes API requests. Non-2xx responses are returned as *APIError.
// Implementations must be safe for concurrent use.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Client is the Close API transport.
type Client struct {
	http        *retryablehttp.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	pacer       *ratelimit.Pacer
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// APIKey is sent as the HTTP Basic username. Either APIKey or AccessToken
	// is required.
	APIKey string

	// AccessToken is sent as a Bearer token (OAuth apps).
	AccessToken string

	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// UserAgent identifies the calling tool.
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Retry
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// Client-side pacing; RequestsPerSecond <= 0 disables it.
	RequestsPerSecond float64
	Burst             int

	// RateLimitStore shares observed rate limit state. Nil keeps it in memory.
	RateLimitStore ratelimit.StateStore

	// HTTPClient overrides the underlying HTTP client (tests, proxies).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:            apiKey,
		BaseURL:           DefaultBaseURL,
		UserAgent:         "close-api-client/1.0",
		Timeout:           30 * time.Second,
		MaxRetries:        3,
		RetryWaitMin:      1 * time.Second,
		RetryWaitMax:      60 * time.Second,
		RequestsPerSecond: 0,
		Burst:             1,
	}
}

// New creates a new Close API client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && cfg.AccessToken == "" {
		return nil, ErrMissingCredentials
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	logger := log.With().Str("component", "close-client").Logger()

	rateLimiter := ratelimit.NewTracker(cfg.RateLimitStore,
		log.With().Str("component", "rate-limit").Logger())

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.Logger = leveledLogger{logger: logger}
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.CheckRetry = checkRetry
	rc.Backoff = newBackoff(logger)
	rc.ErrorHandler = newErrorHandler(logger)
	rc.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		// Every attempt refreshes the shared rate limit state.
		if err := rateLimiter.UpdateFromHeaders(resp.Request.Context(), resp.Header); err != nil {
			logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	return &Client{
		http:        rc,
		baseURL:     baseURL,
		rateLimiter: rateLimiter,
		pacer:       ratelimit.NewPacer(cfg.RequestsPerSecond, cfg.Burst),
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do performs an API request with pacing, rate limit gating, and retries.
// Non-2xx responses are returned as *APIError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	startTime := time.Now()
	defer func() {
		closeRequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	httpReq, err := c.newRequest(ctx, method, req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("path", req.Path).
		Str("method", method).
		Msg("Executing Close request")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		closeErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		closeRequestsTotal.WithLabelValues(method, "network_error").Inc()
		c.logger.Error().Err(err).Str("path", req.Path).Msg("HTTP request failed")
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		closeErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}

	closeRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := NewAPIError(method, req.Path, resp.StatusCode, body)
		closeErrorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		c.logger.Warn().
			Str("path", req.Path).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.Class)).
			Msg("Close request error")
		return nil, apiErr
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// newRequest builds the retryable request with auth and JSON headers.
func (c *Client) newRequest(ctx context.Context, method string, req *Request) (*retryablehttp.Request, error) {
	rel, err := url.Parse(strings.TrimPrefix(req.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", req.Path, err)
	}
	u := c.baseURL.ResolveReference(rel)
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body any
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.config.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	} else {
		httpReq.SetBasicAuth(c.config.APIKey, "")
	}
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// Get performs a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	return DecodeJSON(resp, out)
}

// RateLimitState returns the last observed rate limit window.
func (c *Client) RateLimitState(ctx context.Context) (*ratelimit.RateLimitState, error) {
	return c.rateLimiter.GetState(ctx)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.HTTPClient.CloseIdleConnections()
	return nil
}

// DecodeJSON unmarshals a response body into out. A nil out discards the body.
func DecodeJSON(resp *Response, out any) error {
	if out == nil || resp == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
