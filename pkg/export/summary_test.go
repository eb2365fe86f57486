package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudposture/checks-export/pkg/posture"
)

func TestTotalRecords(t *testing.T) {
	s := RunSummary{
		Accounts: []AccountSummary{
			{Resolved: 10, Failures: 5},
			{Resolved: 2, Failures: 8},
			{Skipped: true},
		},
	}
	assert.Equal(t, 25, s.TotalRecords())
}

func TestPrintSummaryRendersAccountsAndCaveats(t *testing.T) {
	r := NewReporter(0)
	r.Add(Record{Status: posture.StatusFailure, Fields: map[string]any{}})

	s := testSummary()
	s.Errors = []string{"account=acc-2 status=SUCCESS partition=service=s3: retry attempts exhausted"}

	var buf bytes.Buffer
	r.PrintSummary(&buf, s)
	out := buf.String()

	assert.Contains(t, out, "sess-1")
	assert.Contains(t, out, "prod")
	assert.Contains(t, out, "staging")
	assert.Contains(t, out, "skipped (checkpoint)")
	assert.Contains(t, out, "Possible incompleteness")
	assert.Contains(t, out, "Sub-query errors")
	assert.Contains(t, out, "retry attempts exhausted")
}

func TestPrintSummaryNoCaveatTablesWhenClean(t *testing.T) {
	r := NewReporter(0)
	s := testSummary()
	s.Warnings = nil

	var buf bytes.Buffer
	r.PrintSummary(&buf, s)
	out := buf.String()

	assert.NotContains(t, out, "Possible incompleteness")
	assert.NotContains(t, out, "Sub-query errors")
}

func TestAccountState(t *testing.T) {
	assert.Equal(t, "ok", accountState(AccountSummary{}))
	assert.Equal(t, "failed", accountState(AccountSummary{Failed: true}))
	assert.Equal(t, "skipped (checkpoint)", accountState(AccountSummary{Skipped: true}))
	assert.Equal(t, "failed", accountState(AccountSummary{Failed: true, Skipped: true}))
}
