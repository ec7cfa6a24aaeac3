// Package client fetches access tokens and search result pages from the
// search API, with request pacing, rate limit gating, retries and metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/ratelimit"
	"github.com/Sternrassler/search-harvester/pkg/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_requests_total",
		Help: "Total search API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_request_duration_seconds",
		Help:    "Search API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_errors_total",
		Help: "Total search API errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// DefaultBaseURL is the search API host.
const DefaultBaseURL = "https://api.twitter.com"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 16 << 20

// Client talks to the search API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, without trailing slash.
	BaseURL string

	// User-Agent header sent with every request.
	UserAgent string

	// Timeout of a single HTTP exchange.
	Timeout time.Duration

	// Pacing: requests per second and burst. RateLimit <= 0 disables pacing.
	RateLimit float64
	Burst     int

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration

	// StateStore holds rate limit windows. Nil keeps them in memory.
	StateStore ratelimit.StateStore
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		RateLimit:      1,
		Burst:          1,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
	}
}

// New creates a new search API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "search-client").Logger()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		tracker: ratelimit.NewTracker(cfg.StateStore, logger),
		config:  cfg,
		logger:  logger,
	}, nil
}

// FetchToken exchanges the consumer credentials for an application bearer
// token. It is attempted exactly once; every failure is fatal to the caller.
func (c *Client) FetchToken(ctx context.Context, consumerKey, consumerSecret string) (search.AccessToken, error) {
	const op = "fetch token"

	if consumerKey == "" || consumerSecret == "" {
		return "", search.Errorf(search.KindAuth, op, "consumer key and secret are required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", search.Wrap(search.KindTransport, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+tokenPath,
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", search.Wrap(search.KindTransport, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Basic "+BasicCredentials(consumerKey, consumerSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")

	body, err := c.do(req, tokenPath)
	if err != nil {
		switch classOf(err) {
		case ErrorClassClient:
			return "", search.Wrap(search.KindAuth, op, err)
		case ErrorClassRateLimit:
			return "", search.Wrap(search.KindRateLimit, op, err)
		default:
			return "", search.Wrap(search.KindTransport, op, err)
		}
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", search.Wrap(search.KindAuth, op, fmt.Errorf("parse token response: %w", err))
	}
	if resp.AccessToken == nil || *resp.AccessToken == "" {
		return "", search.Errorf(search.KindAuth, op, "token response has no access_token")
	}

	c.logger.Debug().Str("token_type", resp.TokenType).Msg("Access token obtained")
	return search.AccessToken(*resp.AccessToken), nil
}

// FetchFirstPage requests the first page of results for query.
func (c *Client) FetchFirstPage(ctx context.Context, token search.AccessToken, query string) (*search.Page, error) {
	return c.fetchPage(ctx, "fetch first page", token, firstPageURL(c.config.BaseURL, query))
}

// FetchNextPage follows a continuation cursor. A nil or empty cursor yields
// search.ErrNoNextResult without any network call.
func (c *Client) FetchNextPage(ctx context.Context, token search.AccessToken, cursor *string) (*search.Page, error) {
	if cursor == nil || *cursor == "" {
		return nil, search.ErrNoNextResult
	}
	return c.fetchPage(ctx, "fetch next page", token, nextPageURL(c.config.BaseURL, *cursor))
}

// fetchPage gates, paces and retries one search request and decodes the page.
// The rate limit gate is consulted before every attempt.
func (c *Client) fetchPage(ctx context.Context, op string, token search.AccessToken, rawURL string) (*search.Page, error) {
	var body []byte
	err := retryWithBackoff(ctx, c.logger, c.retryConfig(), func() error {
		if err := c.gate(ctx); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+string(token))

		body, err = c.do(req, searchPath)
		return err
	})
	if err != nil {
		return nil, toSearchError(op, err)
	}

	page, err := search.DecodePage(body)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", searchPath).Msg("Malformed search response")
		return nil, err
	}

	c.logger.Debug().
		Int("items", len(page.Items)).
		Int64("max_id", page.Metadata.MaxID).
		Bool("has_next", page.Metadata.HasNext()).
		Msg("Page fetched")

	return page, nil
}

// gate asks the tracker whether the search endpoint may be called now.
func (c *Client) gate(ctx context.Context) error {
	allowed, err := c.tracker.ShouldAllowRequest(ctx, searchPath)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().Str("endpoint", searchPath).Msg("Request blocked by rate limiter")
		requestsTotal.WithLabelValues(searchPath, "rate_limited").Inc()
		return ErrRateLimited
	}
	return nil
}

func (c *Client) retryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = c.config.MaxRetries + 1
	if c.config.InitialBackoff > 0 {
		cfg.InitialBackoff = c.config.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return cfg
}

// do executes one HTTP exchange, records metrics and rate limit headers, and
// returns the body of a 2xx response. Failures are *APIError.
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	ctx := req.Context()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if err := c.tracker.UpdateFromHeaders(ctx, endpoint, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errClass := classifyStatus(resp.StatusCode)
		if errClass == "" {
			errClass = ErrorClassClient
		}
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Request error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status + ": " + snippet(body),
		}
	}

	return body, nil
}

// snippet shortens a response body for error messages.
func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Tracker returns the rate limit tracker.
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}
