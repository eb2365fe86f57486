// Package fetch executes one logical filtered query end-to-end across all
// of its pages, detecting the API's fixed result ceiling.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudposture/checks-export/pkg/api"
	"github.com/cloudposture/checks-export/pkg/posture"
)

// Prometheus metrics for page fetching.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posture_pages_fetched_total",
		Help: "Total check pages fetched",
	})

	checksFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posture_checks_fetched_total",
		Help: "Total check records fetched before client-side filtering",
	})

	ceilingHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posture_ceiling_hits_total",
		Help: "Total sub-queries that hit the result ceiling",
	})
)

const (
	// ResultCeiling is the API's hard cap on results per filtered query.
	// Queries matching more records are silently truncated at this count.
	ResultCeiling = 10000

	// ceilingMargin flags a completed query as possibly truncated when the
	// accumulated count lands within 2% of the ceiling: the API has been
	// observed to stop paging slightly short of the exact cap.
	ceilingMargin = 0.98

	// DefaultMaxPages bounds the pages walked per sub-query. 60 pages at
	// the maximum page size covers a full ceiling-sized result set with
	// headroom.
	DefaultMaxPages = 60
)

// dateTimeTarget is the only server-side date filter the API supports.
const dateTimeTarget = "createdDate"

// Options tune a single fetch.
type Options struct {
	// PageSize is the initial `top` parameter, clamped to the API bounds.
	PageSize int

	// MaxPages bounds the page walk; reaching it forces HitCeiling since
	// completeness cannot be proven.
	MaxPages int
}

func (o Options) withDefaults() Options {
	o.PageSize = api.ClampPageSize(o.PageSize)
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	return o
}

// Result is the outcome of one logical query.
type Result struct {
	Items []posture.Check

	// HitCeiling is true when the result set may be incomplete: the count
	// reached (or closely approached) the ceiling, or the page budget ran
	// out with pages remaining.
	HitCeiling bool

	// Pages actually fetched.
	Pages int

	// Err is set for a degraded fetch: retries exhausted or a permanent
	// request error. Items holds whatever was accumulated before the
	// failure; it is never silently dropped.
	Err error
}

// checksPage is the wire envelope for the checks endpoint. Older API
// revisions used "checks" instead of "items".
type checksPage struct {
	Items    []posture.Check `json:"items"`
	Checks   []posture.Check `json:"checks"`
	Count    *int            `json:"count"`
	NextLink string          `json:"nextLink"`
}

func (p *checksPage) items() []posture.Check {
	if len(p.Items) > 0 {
		return p.Items
	}
	return p.Checks
}

// Fetcher walks all pages of one filtered query. Safe for concurrent use;
// per-query state lives on the stack.
type Fetcher struct {
	client  *api.Client
	backoff *api.Backoff
	logger  zerolog.Logger
}

// New creates a fetcher sharing the given client and backoff gate.
func New(client *api.Client, backoff *api.Backoff) *Fetcher {
	return &Fetcher{
		client:  client,
		backoff: backoff,
		logger:  log.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch resolves one query across all its pages.
//
// The first page carries the full filter and date range; subsequent pages
// follow the server's next link with the date parameters re-attached
// explicitly, because the API does not reliably preserve them. Transient
// failures retry the same page after backoff with a halved page size;
// a 4xx other than 429 aborts immediately with the error populated.
func (f *Fetcher) Fetch(ctx context.Context, q posture.Query, opts Options) Result {
	opts = opts.withDefaults()
	filter := api.ComposeQuery(q)
	pageSize := opts.PageSize

	var items []posture.Check
	next := f.client.BaseURL() + api.ChecksEndpoint
	pages := 0

	for next != "" {
		page, err := f.fetchPage(ctx, next, filter, q, &pageSize)
		if err != nil {
			return Result{Items: items, Pages: pages, Err: err}
		}

		got := page.items()
		items = append(items, got...)
		pages++
		pagesFetchedTotal.Inc()
		checksFetchedTotal.Add(float64(len(got)))

		if len(items) >= ResultCeiling {
			ceilingHitsTotal.Inc()
			f.logger.Warn().
				Str("account_id", q.AccountID).
				Str("status", string(q.Status)).
				Int("items", len(items)).
				Msg("Result ceiling reached, stopping page walk")
			return Result{Items: items[:ResultCeiling], Pages: pages, HitCeiling: true}
		}

		if page.NextLink == "" || len(got) == 0 {
			hit := float64(len(items)) >= ceilingMargin*ResultCeiling
			if hit {
				ceilingHitsTotal.Inc()
			}
			return Result{Items: items, Pages: pages, HitCeiling: hit}
		}

		if pages >= opts.MaxPages {
			ceilingHitsTotal.Inc()
			f.logger.Warn().
				Str("account_id", q.AccountID).
				Int("max_pages", opts.MaxPages).
				Int("items", len(items)).
				Msg("Page budget exhausted, result set may be incomplete")
			return Result{Items: items, Pages: pages, HitCeiling: true}
		}

		next = page.NextLink
	}

	return Result{Items: items, Pages: pages}
}

// fetchPage retrieves a single page, retrying transient failures with a
// shrinking page size. The same URL is retried; a page is never skipped.
func (f *Fetcher) fetchPage(ctx context.Context, rawURL, filter string, q posture.Query, pageSize *int) (*checksPage, error) {
	for attempt := 1; ; attempt++ {
		var page checksPage
		err := f.client.GetJSONURL(ctx, rawURL, filter, f.params(q, *pageSize), &page)
		if err == nil {
			return &page, nil
		}
		if !api.IsRetryable(err) {
			return nil, err
		}

		class := classOf(err)
		if !f.backoff.ShouldRetry(ctx, attempt, class) {
			return nil, fmt.Errorf("%w after %d attempts (last top=%d): %v",
				api.ErrRetryExhausted, attempt, *pageSize, err)
		}

		// Smaller pages load the backend less; shrink before retrying.
		shrunk := api.ClampPageSize(*pageSize / 2)
		if shrunk != *pageSize {
			f.logger.Debug().
				Int("attempt", attempt).
				Int("top", shrunk).
				Str("error_class", string(class)).
				Msg("Retrying page with reduced page size")
			*pageSize = shrunk
		}
	}
}

// params builds the per-request query parameters. Date range and target
// are attached on every request, including next-link follows.
func (f *Fetcher) params(q posture.Query, pageSize int) url.Values {
	v := url.Values{}
	v.Set("top", strconv.Itoa(pageSize))
	v.Set("startDateTime", q.From.UTC().Format(time.RFC3339))
	v.Set("endDateTime", q.To.UTC().Format(time.RFC3339))
	v.Set("dateTimeTarget", dateTimeTarget)
	return v
}

func classOf(err error) api.ErrorClass {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return api.ErrorClassNetwork
}
