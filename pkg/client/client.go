// Package client forwards GraphQL requests to the upstream server with
// retries, header filtering, and metrics.
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
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/gql-response-cache/pkg/logging"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gqlcache_upstream_requests_total",
		Help: "Total upstream GraphQL requests by status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gqlcache_upstream_duration_seconds",
		Help:    "Upstream GraphQL request duration in seconds, retries included",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// maxResponseSize bounds how much of an upstream body is buffered.
const maxResponseSize = 32 << 20

// hopHeaders are connection-level headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type idempotentKey struct{}

// WithIdempotent marks the request carried by ctx as safe to retry.
// Queries are idempotent; mutations are not and are sent exactly once.
func WithIdempotent(ctx context.Context) context.Context {
	return context.WithValue(ctx, idempotentKey{}, true)
}

// IsIdempotent reports whether ctx was marked by WithIdempotent.
func IsIdempotent(ctx context.Context) bool {
	v, _ := ctx.Value(idempotentKey{}).(bool)
	return v
}

// Config holds the upstream client configuration.
type Config struct {
	// Endpoint is the absolute URL of the upstream GraphQL server.
	Endpoint string

	// UserAgent overrides the caller's User-Agent when set.
	UserAgent string

	// Timeout bounds a single upstream attempt.
	Timeout time.Duration

	// Retry selects the retry configuration per error class.
	Retry RetryPolicy

	// HTTPClient replaces the default transport (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a default configuration for endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint: endpoint,
		Timeout:  30 * time.Second,
		Retry:    RetryConfigForErrorClass,
	}
}

// Result is a fully buffered upstream response.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client forwards GraphQL requests to a single upstream endpoint.
type Client struct {
	endpoint   *url.URL
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("upstream endpoint is required")
	}

	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse upstream endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("upstream endpoint must be http or https (got %q)", cfg.Endpoint)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("upstream endpoint has no host (got %q)", cfg.Endpoint)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = RetryConfigForErrorClass
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		config:     cfg,
		logger:     logging.NewLogger("upstream"),
	}, nil
}

// Forward sends body to the upstream with r's method, query string, and
// end-to-end headers. Idempotent requests are retried on server, rate limit,
// and network failures. When retries are exhausted on an HTTP failure the
// last upstream Result is returned together with the error.
func (c *Client) Forward(r *http.Request, body []byte) (*Result, error) {
	ctx := r.Context()

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	policy := c.config.Retry
	if !IsIdempotent(ctx) {
		policy = func(ErrorClass) RetryConfig {
			return RetryConfig{MaxAttempts: 1}
		}
	}

	var result *Result

	err := retryWithBackoff(ctx, policy, func() error {
		res, err := c.attempt(ctx, r, body)
		if err != nil {
			result = nil
			upstreamRequestsTotal.WithLabelValues("network_error").Inc()
			c.logger.Warn().Err(err).Str("method", r.Method).Msg("Upstream request failed")
			return err
		}

		result = res
		upstreamRequestsTotal.WithLabelValues(strconv.Itoa(res.StatusCode)).Inc()

		errClass := classifyStatus(res.StatusCode)
		if errClass == "" {
			return nil
		}

		c.logger.Warn().
			Int("status", res.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream error response")

		if !shouldRetry(errClass) {
			// Client errors pass through for the caller to handle
			return nil
		}

		return &UpstreamError{
			StatusCode: res.StatusCode,
			ErrorClass: errClass,
			Message:    http.StatusText(res.StatusCode),
		}
	}, classifyError)

	if err != nil {
		return result, err
	}
	return result, nil
}

// attempt performs one upstream round trip and buffers the response.
func (c *Client) attempt(ctx context.Context, r *http.Request, body []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	target := *c.endpoint
	if r.URL != nil && r.URL.RawQuery != "" {
		target.RawQuery = r.URL.RawQuery
	}

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	copyHeader(req.Header, r.Header)
	// The transport negotiates compression itself and decodes the body
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Content-Length")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", target.String()).
		Msg("Executing upstream request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	header := make(http.Header, len(resp.Header))
	copyHeader(header, resp.Header)
	header.Del("Content-Length")
	header.Del("Content-Encoding")

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       data,
	}, nil
}

// ServeHTTP forwards r upstream and writes the upstream response. When the
// upstream cannot be reached a 502 with a GraphQL error body is written.
func (c *Client) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeGraphQLError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		body = data
	}

	result, err := c.Forward(r, body)
	if err != nil {
		if errors.Is(err, ErrContextCancelled) || errors.Is(r.Context().Err(), context.Canceled) {
			c.logger.Debug().Err(err).Msg("Caller went away before upstream answered")
		} else {
			c.logger.Error().Err(err).Msg("Upstream unavailable")
		}
		if result == nil {
			writeGraphQLError(w, http.StatusBadGateway, "upstream unavailable")
			return
		}
	}

	copyHeader(w.Header(), result.Header)
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

type graphQLError struct {
	Message string `json:"message"`
}

func writeGraphQLError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string][]graphQLError{
		"errors": {{Message: message}},
	})
}
