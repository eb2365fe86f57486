package export

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudposture/checks-export/pkg/posture"
)

func failureCheck(id string, raw map[string]any) posture.Check {
	if raw == nil {
		raw = map[string]any{}
	}
	raw["id"] = id
	return posture.Check{ID: id, Status: posture.StatusFailure, Raw: raw}
}

func TestFlattenCheckFillsAccountIdentity(t *testing.T) {
	account := posture.Account{ID: "acc-1", Name: "prod"}
	c := failureCheck("chk-1", map[string]any{"service": "s3"})

	rec := FlattenCheck(c, account)

	assert.Equal(t, posture.StatusFailure, rec.Status)
	assert.Equal(t, "acc-1", rec.Fields["accountId"])
	assert.Equal(t, "prod", rec.Fields["accountName"])
	assert.Equal(t, "s3", rec.Fields["service"])
}

func TestFlattenCheckKeepsAPIIdentity(t *testing.T) {
	account := posture.Account{ID: "acc-1", Name: "prod"}
	c := failureCheck("chk-1", map[string]any{
		"accountId":   "acc-api",
		"accountName": "from-api",
	})

	rec := FlattenCheck(c, account)

	assert.Equal(t, "acc-api", rec.Fields["accountId"], "API-provided identity wins")
	assert.Equal(t, "from-api", rec.Fields["accountName"])
}

func TestReporterBatchesAndPreservesOrder(t *testing.T) {
	r := NewReporter(3)

	for i := 0; i < 10; i++ {
		r.Add(Record{Status: posture.StatusFailure, Fields: map[string]any{"idx": i}})
	}

	records := r.Records()
	assert.Len(t, records, 10)
	for i, rec := range records {
		assert.Equal(t, i, rec.Fields["idx"], "insertion order must survive batching")
	}
}

func TestReporterCounts(t *testing.T) {
	r := NewReporter(0)
	r.Add(Record{Status: posture.StatusFailure, Fields: map[string]any{}})
	r.Add(Record{Status: posture.StatusFailure, Fields: map[string]any{}})
	r.Add(Record{Status: posture.StatusSuccess, Fields: map[string]any{}})

	assert.Equal(t, 2, r.Count(posture.StatusFailure))
	assert.Equal(t, 1, r.Count(posture.StatusSuccess))
}

func TestReporterConcurrentProducers(t *testing.T) {
	r := NewReporter(16)

	var wg sync.WaitGroup
	producers, each := 8, 50
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				r.Add(Record{Status: posture.StatusFailure, Fields: map[string]any{}})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, r.Records(), producers*each, "every record lands exactly once")
	assert.Equal(t, producers*each, r.Count(posture.StatusFailure))
}

func TestFlattenValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil becomes empty", nil, ""},
		{"string passes", "x", "x"},
		{"number passes", 3.5, 3.5},
		{"bool passes", true, true},
		{"slice becomes JSON", []any{"a", "b"}, `["a","b"]`},
		{"map becomes JSON", map[string]any{"k": "v"}, `{"k":"v"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flattenValue(tt.in))
		})
	}
}
