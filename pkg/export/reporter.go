// Package export buffers the engine's record stream and writes the CSV,
// XLSX, and terminal outputs.
package export

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudposture/checks-export/pkg/posture"
)

// DefaultBatchSize is how many records a batch buffers before sealing.
const DefaultBatchSize = 500

// Record is one flat export row tagged with its check status.
type Record struct {
	Status posture.Status
	Fields map[string]any
}

// FlattenCheck turns a check into an export record. The full raw payload
// becomes the row; account identity is filled in when the API omitted it.
func FlattenCheck(c posture.Check, account posture.Account) Record {
	fields := make(map[string]any, len(c.Raw)+2)
	for k, v := range c.Raw {
		fields[k] = v
	}
	if _, ok := fields["accountId"]; !ok {
		fields["accountId"] = account.ID
	}
	if _, ok := fields["accountName"]; !ok {
		fields["accountName"] = account.Name
	}
	return Record{Status: c.Status, Fields: fields}
}

// flattenValue renders nested values as JSON strings so every cell is
// scalar.
func flattenValue(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, float64, int, int64:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Reporter accumulates records in fixed-size batches and combines them
// for the final export. Safe for concurrent producers. Every record added
// appears in exactly one batch, so delivery to the outputs is exactly
// once.
type Reporter struct {
	batchSize int
	logger    zerolog.Logger

	mu      sync.Mutex
	sealed  [][]Record
	current []Record
	counts  map[posture.Status]int
}

// NewReporter creates a reporter. batchSize <= 0 selects the default.
func NewReporter(batchSize int) *Reporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Reporter{
		batchSize: batchSize,
		logger:    log.With().Str("component", "reporter").Logger(),
		counts:    map[posture.Status]int{},
	}
}

// Add buffers one record, sealing the current batch when full.
func (r *Reporter) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = append(r.current, rec)
	r.counts[rec.Status]++
	if len(r.current) >= r.batchSize {
		r.sealed = append(r.sealed, r.current)
		r.current = nil
	}
}

// AddChecks buffers every check as a record for the given account.
func (r *Reporter) AddChecks(checks []posture.Check, account posture.Account) {
	for _, c := range checks {
		r.Add(FlattenCheck(c, account))
	}
}

// Records seals the current batch and returns all records in insertion
// order.
func (r *Reporter) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.current) > 0 {
		r.sealed = append(r.sealed, r.current)
		r.current = nil
	}
	var out []Record
	for _, b := range r.sealed {
		out = append(out, b...)
	}
	return out
}

// Count returns how many records carry the given status.
func (r *Reporter) Count(status posture.Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[status]
}
