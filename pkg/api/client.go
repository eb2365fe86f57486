// Package api provides the HTTP client for the cloud posture API along
// with error classification, retry backoff, and filter composition.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posture_requests_total",
		Help: "Total posture API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posture_request_duration_seconds",
		Help:    "Posture API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posture_errors_total",
		Help: "Total posture API errors by class",
	}, []string{"class"})
)

// API endpoints.
const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://api.xdr.trendmicro.com"

	// AccountsEndpoint lists managed cloud accounts.
	AccountsEndpoint = "/beta/cloudPosture/accounts"

	// ChecksEndpoint queries compliance check results.
	ChecksEndpoint = "/beta/cloudPosture/checks"

	// ServicesEndpoint lists the service catalog.
	ServicesEndpoint = "/beta/cloudPosture/services"
)

// Page size bounds enforced by the checks endpoint.
const (
	MaxPageSize = 200
	MinPageSize = 50
)

// ClampPageSize clamps a requested page size into the accepted range.
func ClampPageSize(top int) int {
	if top < MinPageSize {
		return MinPageSize
	}
	if top > MaxPageSize {
		return MaxPageSize
	}
	return top
}

// Config holds client configuration.
type Config struct {
	// BaseURL of the API host. Defaults to DefaultBaseURL.
	BaseURL string

	// Token is the bearer credential attached to every request. Required;
	// treated as opaque.
	Token string

	// Timeout per request. Defaults to 30s.
	Timeout time.Duration
}

// Client is a single-shot HTTP client for the posture API. It performs no
// retries itself; callers drive retry through Backoff so they can adjust
// page size between attempts.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     zerolog.Logger
}

// New creates an API client. The token is required.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		logger:     log.With().Str("component", "api-client").Logger(),
	}, nil
}

// BaseURL returns the configured API host.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// GetJSON issues a GET against an endpoint path, attaching the bearer
// token, the optional filter header, and query parameters, and decodes
// the JSON response into out. Failures are returned as *APIError.
func (c *Client) GetJSON(ctx context.Context, endpoint, filter string, params url.Values, out any) error {
	return c.GetJSONURL(ctx, c.baseURL+endpoint, filter, params, out)
}

// GetJSONURL is GetJSON for a fully qualified URL, used when following
// server-provided next-page links. Params are merged into any query the
// link already carries, overriding on conflict: the API does not
// reliably preserve date-range parameters across next links, so callers
// re-attach them here.
func (c *Client) GetJSONURL(ctx context.Context, rawURL, filter string, params url.Values, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &APIError{Class: ErrorClassClient, Message: fmt.Sprintf("bad URL %q", rawURL), Err: err}
	}
	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	endpoint := u.Path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &APIError{Class: ErrorClassClient, Message: "create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if filter != "" {
		req.Header.Set(FilterHeader, filter)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := ClassifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 800))
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Str("filter", filter).
			Msg("Posture API request error")

		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    truncateBody(body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Malformed JSON response body")
		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Message:    "decode response body",
			Err:        err,
		}
	}
	return nil
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
