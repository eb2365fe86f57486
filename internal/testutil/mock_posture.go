// Package testutil provides testing utilities for the posture export
// engine, chiefly a configurable mock of the cloud posture API.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ChecksRequest records one observed request to the checks endpoint.
type ChecksRequest struct {
	Filter string
	Top    int
	Skip   int
	Start  string
	End    string
}

// MockPosture is a configurable mock posture API server. It serves the
// accounts, services, and checks endpoints from in-memory fixtures,
// honors the filter header and top/skip paging, and can be scripted to
// fail requests before succeeding.
type MockPosture struct {
	server *httptest.Server

	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	accounts []map[string]any
	services []map[string]any
	checks   []map[string]any
	failures map[string][]int

	// Tracking
	RequestCount  int
	ChecksServed  []ChecksRequest
	LastAuthToken string
}

// NewMockPosture creates a new mock posture API server.
func NewMockPosture() *MockPosture {
	mock := &MockPosture{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures: make(map[string][]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastAuthToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		// Scripted failures are consumed before any handler runs; a zero
		// entry means "serve this request normally".
		if queue := mock.failures[r.URL.Path]; len(queue) > 0 {
			code := queue[0]
			mock.failures[r.URL.Path] = queue[1:]
			if code != 0 {
				// Failed checks requests still count as observed requests.
				if r.URL.Path == "/beta/cloudPosture/checks" {
					mock.ChecksServed = append(mock.ChecksServed, ChecksRequest{
						Filter: r.Header.Get("TMV1-Filter"),
						Top:    intParam(r, "top", 200),
						Skip:   intParam(r, "skip", 0),
						Start:  r.URL.Query().Get("startDateTime"),
						End:    r.URL.Query().Get("endDateTime"),
					})
				}
				mock.mu.Unlock()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(code)
				fmt.Fprintf(w, `{"error": {"code": %d}}`, code)
				return
			}
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case "/beta/cloudPosture/accounts":
			mock.serveAccounts(w)
		case "/beta/cloudPosture/services":
			mock.serveServices(w)
		case "/beta/cloudPosture/checks":
			mock.serveChecks(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": {"code": 404}}`))
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockPosture) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockPosture) Close() {
	m.server.Close()
}

// Reset clears fixtures, scripted failures, and tracking counters.
func (m *MockPosture) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = nil
	m.services = nil
	m.checks = nil
	m.failures = make(map[string][]int)
	m.RequestCount = 0
	m.ChecksServed = nil
	m.LastAuthToken = ""
}

// SetHandler sets a custom handler for a specific path, overriding the
// built-in endpoint behavior.
func (m *MockPosture) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// AddAccount registers an account fixture.
func (m *MockPosture) AddAccount(id, name, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = append(m.accounts, map[string]any{
		"id":       id,
		"name":     name,
		"provider": provider,
	})
}

// AddService registers a service catalog entry.
func (m *MockPosture) AddService(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, map[string]any{"name": name})
}

// AddCheck registers a check fixture. The map is served verbatim; the
// filter matcher looks at accountId, status, riskLevel, service, and
// region keys.
func (m *MockPosture) AddCheck(check map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, check)
}

// NewCheck builds a minimal check fixture.
func NewCheck(id, accountID, status, riskLevel, service, region string) map[string]any {
	return map[string]any{
		"id":        id,
		"accountId": accountID,
		"status":    status,
		"riskLevel": riskLevel,
		"service":   service,
		"region":    region,
	}
}

// FailNext scripts the next n requests to a path to return the given
// status code before built-in behavior resumes.
func (m *MockPosture) FailNext(path string, n, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures[path] = append(m.failures[path], statusCode)
	}
}

// FailChecks scripts failures for the checks endpoint.
func (m *MockPosture) FailChecks(n, statusCode int) {
	m.FailNext("/beta/cloudPosture/checks", n, statusCode)
}

// ScriptChecks sets the exact status sequence for upcoming checks
// requests. A zero serves the request normally.
func (m *MockPosture) ScriptChecks(codes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures["/beta/cloudPosture/checks"] = append(m.failures["/beta/cloudPosture/checks"], codes...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockPosture) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// ChecksRequests returns a copy of the observed checks requests.
func (m *MockPosture) ChecksRequests() []ChecksRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChecksRequest, len(m.ChecksServed))
	copy(out, m.ChecksServed)
	return out
}

func (m *MockPosture) serveAccounts(w http.ResponseWriter) {
	m.mu.RLock()
	items := m.accounts
	m.mu.RUnlock()
	writeEnvelope(w, items, len(items), "")
}

func (m *MockPosture) serveServices(w http.ResponseWriter) {
	m.mu.RLock()
	items := m.services
	m.mu.RUnlock()
	writeEnvelope(w, items, len(items), "")
}

func (m *MockPosture) serveChecks(w http.ResponseWriter, r *http.Request) {
	filter := r.Header.Get("TMV1-Filter")
	top := intParam(r, "top", 200)
	skip := intParam(r, "skip", 0)

	m.mu.Lock()
	m.ChecksServed = append(m.ChecksServed, ChecksRequest{
		Filter: filter,
		Top:    top,
		Skip:   skip,
		Start:  r.URL.Query().Get("startDateTime"),
		End:    r.URL.Query().Get("endDateTime"),
	})
	all := m.checks
	m.mu.Unlock()

	matched := make([]map[string]any, 0, len(all))
	pred := parseFilter(filter)
	for _, c := range all {
		if pred(c) {
			matched = append(matched, c)
		}
	}

	if skip > len(matched) {
		skip = len(matched)
	}
	end := skip + top
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[skip:end]

	nextLink := ""
	if end < len(matched) {
		nextLink = fmt.Sprintf("%s/beta/cloudPosture/checks?skip=%d", m.server.URL, end)
	}
	writeEnvelope(w, page, len(matched), nextLink)
}

func writeEnvelope(w http.ResponseWriter, items any, count int, nextLink string) {
	env := map[string]any{
		"items": items,
		"count": count,
	}
	if nextLink != "" {
		env["nextLink"] = nextLink
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(env)
}

func intParam(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

var clauseRe = regexp.MustCompile(`(\w+) (eq|ne) '((?:[^']|'')*)'`)

// parseFilter turns a filter expression into a predicate over check
// fixtures. Groups joined by "and" must all match; clauses inside a
// group are joined by "or".
func parseFilter(filter string) func(map[string]any) bool {
	groups := splitTopLevel(filter)
	return func(c map[string]any) bool {
		for _, g := range groups {
			if !matchGroup(g, c) {
				return false
			}
		}
		return true
	}
}

func matchGroup(group string, c map[string]any) bool {
	clauses := clauseRe.FindAllStringSubmatch(group, -1)
	if len(clauses) == 0 {
		return true
	}
	for _, m := range clauses {
		field, op, value := m[1], m[2], strings.ReplaceAll(m[3], "''", "'")
		got, _ := c[field].(string)
		if op == "eq" && got == value {
			return true
		}
		if op == "ne" && got != value {
			return true
		}
	}
	return false
}

// splitTopLevel splits a filter on " and " outside parentheses.
func splitTopLevel(filter string) []string {
	var groups []string
	depth := 0
	start := 0
	for i := 0; i < len(filter); i++ {
		switch filter[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ' ':
			if depth == 0 && strings.HasPrefix(filter[i:], " and ") {
				groups = append(groups, filter[start:i])
				start = i + len(" and ")
				i = start - 1
			}
		}
	}
	if start < len(filter) {
		groups = append(groups, filter[start:])
	}
	return groups
}
