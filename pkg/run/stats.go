package run

import (
	"sort"
	"sync"

	"github.com/cloudposture/checks-export/pkg/partition"
)

// Stats is the run-scoped aggregate shared by account workers. All state
// lives here rather than in package globals and every mutation holds the
// lock.
type Stats struct {
	mu       sync.Mutex
	warnings []partition.Warning
	errors   []partition.SubError
	services map[string]int
}

// NewStats creates an empty aggregate.
func NewStats() *Stats {
	return &Stats{services: map[string]int{}}
}

// AddOutcome folds one partition outcome's caveats and discovered
// services into the aggregate.
func (s *Stats) AddOutcome(out partition.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, out.Warnings...)
	s.errors = append(s.errors, out.Errors...)
	for _, c := range out.Items {
		if c.Service != "" {
			s.services[c.Service]++
		}
	}
}

// Warnings returns the collected incompleteness warnings as strings.
func (s *Stats) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.warnings))
	for i, w := range s.warnings {
		out[i] = w.String()
	}
	return out
}

// Errors returns the collected sub-query errors as strings.
func (s *Stats) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errors))
	for i, e := range s.errors {
		out[i] = e.Error()
	}
	return out
}

// DiscoveredServices returns the services seen in fetched checks, sorted.
func (s *Stats) DiscoveredServices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.services))
	for svc := range s.services {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}
