package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cloudposture/checks-export/internal/testutil"
	"github.com/cloudposture/checks-export/pkg/api"
	"github.com/cloudposture/checks-export/pkg/posture"
)

func newTestFetcher(t *testing.T, mock *testutil.MockPosture, maxRetries int) *Fetcher {
	t.Helper()
	client, err := api.New(api.Config{BaseURL: mock.URL(), Token: "test-token"})
	if err != nil {
		t.Fatalf("api.New() error: %v", err)
	}
	backoff := api.NewBackoffWithConfig(api.BackoffConfig{
		MaxRetries: maxRetries,
		DelayShift: 1,
		MaxDelay:   10 * time.Millisecond,
	})
	return New(client, backoff)
}

func testQuery() posture.Query {
	return posture.Query{
		AccountID:  "acc-1",
		Status:     posture.StatusFailure,
		RiskLevels: []posture.RiskLevel{posture.RiskHigh},
		From:       time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
	}
}

func seedChecks(mock *testutil.MockPosture, n int) {
	for i := 0; i < n; i++ {
		mock.AddCheck(testutil.NewCheck(
			fmt.Sprintf("chk-%d", i), "acc-1", "FAILURE", "HIGH", "s3", "us-east-1"))
	}
}

func TestFetchFollowsNextLinks(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, 130)

	f := newTestFetcher(t, mock, 3)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: 50})

	if res.Err != nil {
		t.Fatalf("Fetch() error: %v", res.Err)
	}
	if len(res.Items) != 130 {
		t.Errorf("got %d items, want 130", len(res.Items))
	}
	if res.Pages != 3 {
		t.Errorf("Pages = %d, want 3", res.Pages)
	}
	if res.HitCeiling {
		t.Error("HitCeiling = true for a small result set")
	}
}

func TestFetchReattachesDateParamsOnEveryPage(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, 120)

	f := newTestFetcher(t, mock, 3)
	q := testQuery()
	res := f.Fetch(context.Background(), q, Options{PageSize: 50})
	if res.Err != nil {
		t.Fatalf("Fetch() error: %v", res.Err)
	}

	reqs := mock.ChecksRequests()
	if len(reqs) < 2 {
		t.Fatalf("expected multiple page requests, got %d", len(reqs))
	}
	wantStart := q.From.UTC().Format(time.RFC3339)
	for i, r := range reqs {
		if r.Start != wantStart {
			t.Errorf("page %d startDateTime = %q, want %q", i, r.Start, wantStart)
		}
		if r.Filter == "" {
			t.Errorf("page %d sent an empty filter header", i)
		}
	}
	// Next-link pages must advance skip rather than refetch page one.
	if reqs[1].Skip == 0 {
		t.Error("second page request did not carry the skip offset")
	}
}

func TestFetchStopsAtResultCeiling(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, ResultCeiling+300)

	f := newTestFetcher(t, mock, 3)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: api.MaxPageSize})

	if res.Err != nil {
		t.Fatalf("Fetch() error: %v", res.Err)
	}
	if !res.HitCeiling {
		t.Error("HitCeiling = false at the ceiling, want true")
	}
	if len(res.Items) != ResultCeiling {
		t.Errorf("got %d items, want truncation at %d", len(res.Items), ResultCeiling)
	}
}

func TestFetchFlagsNearCeilingCompletion(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	// Just under the cap: the walk completes normally but lands inside the
	// detection margin, so the result must still be treated as suspect.
	seedChecks(mock, 9850)

	f := newTestFetcher(t, mock, 3)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: api.MaxPageSize})

	if res.Err != nil {
		t.Fatalf("Fetch() error: %v", res.Err)
	}
	if !res.HitCeiling {
		t.Errorf("HitCeiling = false with %d items, want margin detection", len(res.Items))
	}
	if len(res.Items) != 9850 {
		t.Errorf("got %d items, want 9850", len(res.Items))
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, 10)
	mock.FailChecks(2, http.StatusTooManyRequests)

	f := newTestFetcher(t, mock, 5)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: 50})

	if res.Err != nil {
		t.Fatalf("Fetch() error after transient failures: %v", res.Err)
	}
	if len(res.Items) != 10 {
		t.Errorf("got %d items, want 10", len(res.Items))
	}
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("request count = %d, want 2 failures + 1 success", got)
	}
}

func TestFetchShrinksPageSizeOnRetry(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, 10)
	mock.FailChecks(2, http.StatusServiceUnavailable)

	f := newTestFetcher(t, mock, 5)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: api.MaxPageSize})
	if res.Err != nil {
		t.Fatalf("Fetch() error: %v", res.Err)
	}

	reqs := mock.ChecksRequests()
	if len(reqs) != 3 {
		t.Fatalf("got %d requests, want 3", len(reqs))
	}
	if reqs[0].Top != 200 || reqs[1].Top != 100 || reqs[2].Top != 50 {
		t.Errorf("page sizes = %d, %d, %d, want 200, 100, 50",
			reqs[0].Top, reqs[1].Top, reqs[2].Top)
	}
}

func TestFetchPageSizeNeverShrinksBelowMinimum(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, 5)
	mock.FailChecks(3, http.StatusServiceUnavailable)

	f := newTestFetcher(t, mock, 5)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: 50})
	if res.Err != nil {
		t.Fatalf("Fetch() error: %v", res.Err)
	}

	for i, r := range mock.ChecksRequests() {
		if r.Top < api.MinPageSize {
			t.Errorf("request %d top = %d, below minimum %d", i, r.Top, api.MinPageSize)
		}
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, 10)

	maxRetries := 3
	mock.FailChecks(10, http.StatusServiceUnavailable)

	f := newTestFetcher(t, mock, maxRetries)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: 50})

	if !errors.Is(res.Err, api.ErrRetryExhausted) {
		t.Errorf("Fetch() error = %v, want ErrRetryExhausted", res.Err)
	}
	// Exactly maxRetries requests go on the wire, no more.
	if got := mock.GetRequestCount(); got != maxRetries {
		t.Errorf("request count = %d, want %d", got, maxRetries)
	}
}

func TestFetchAbortsOnClientError(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, 10)
	mock.FailChecks(1, http.StatusBadRequest)

	f := newTestFetcher(t, mock, 5)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: 50})

	var apiErr *api.APIError
	if !errors.As(res.Err, &apiErr) || apiErr.Class != api.ErrorClassClient {
		t.Errorf("Fetch() error = %v, want client-class API error", res.Err)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("request count = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestFetchMaxPagesForcesCeilingFlag(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, 300)

	f := newTestFetcher(t, mock, 3)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: 50, MaxPages: 2})

	if res.Err != nil {
		t.Fatalf("Fetch() error: %v", res.Err)
	}
	if res.Pages != 2 {
		t.Errorf("Pages = %d, want 2", res.Pages)
	}
	if !res.HitCeiling {
		t.Error("HitCeiling = false with pages remaining, want true")
	}
	if len(res.Items) != 100 {
		t.Errorf("got %d items, want 100", len(res.Items))
	}
}

func TestFetchKeepsPartialItemsOnFailure(t *testing.T) {
	mock := testutil.NewMockPosture()
	defer mock.Close()
	seedChecks(mock, 120)

	// Page one lands, then the endpoint goes down for good.
	mock.ScriptChecks(0, http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	f := newTestFetcher(t, mock, 2)
	res := f.Fetch(context.Background(), testQuery(), Options{PageSize: 50})

	if !errors.Is(res.Err, api.ErrRetryExhausted) {
		t.Fatalf("Fetch() error = %v, want ErrRetryExhausted", res.Err)
	}
	if len(res.Items) != 50 {
		t.Errorf("got %d partial items, want the completed first page of 50", len(res.Items))
	}
	if res.Pages != 1 {
		t.Errorf("Pages = %d, want 1", res.Pages)
	}
}
