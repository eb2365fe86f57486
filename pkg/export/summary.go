package export

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/cloudposture/checks-export/pkg/posture"
)

// AccountSummary is one account's line in the run summary.
type AccountSummary struct {
	ID       string
	Name     string
	Provider posture.Provider
	Resolved int
	Failures int
	Skipped  bool
	Failed   bool
}

// RunSummary is the run metadata written to the Summary sheet and the
// terminal, including every completeness caveat the engine reported.
type RunSummary struct {
	SessionID string
	Window    posture.Window

	// FetchFrom is the widened created-date lookback actually sent to the
	// API; resolutions older than this could not have been fetched.
	FetchFrom time.Time

	Statuses   []posture.Status
	RiskLevels []posture.RiskLevel

	Started  time.Time
	Finished time.Time

	Accounts []AccountSummary

	// Warnings enumerate partitions with possible incompleteness; never
	// hidden from the operator.
	Warnings []string

	// Errors enumerate degraded sub-queries.
	Errors []string
}

// TotalRecords sums exported records across accounts.
func (s *RunSummary) TotalRecords() int {
	n := 0
	for _, a := range s.Accounts {
		n += a.Resolved + a.Failures
	}
	return n
}

// PrintSummary renders the run summary as terminal tables.
func (r *Reporter) PrintSummary(w io.Writer, s RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Export %s - %s to %s", s.SessionID,
		s.Window.Start.Format("2006-01-02"), s.Window.End.Format("2006-01-02"))
	t.AppendHeader(table.Row{"Account", "Provider", "Resolved", "Open Failures", "State"})
	for _, a := range s.Accounts {
		t.AppendRow(table.Row{a.Name, a.Provider, a.Resolved, a.Failures, accountState(a)})
	}
	t.AppendFooter(table.Row{"Total", "", r.Count(posture.StatusSuccess), r.Count(posture.StatusFailure), ""})
	t.Render()

	if len(s.Warnings) > 0 {
		wt := table.NewWriter()
		wt.SetOutputMirror(w)
		wt.SetStyle(table.StyleLight)
		wt.SetTitle("Possible incompleteness - re-run affected accounts with a narrower window")
		wt.AppendHeader(table.Row{"#", "Warning"})
		for i, warn := range s.Warnings {
			wt.AppendRow(table.Row{i + 1, warn})
		}
		wt.Render()
	}

	if len(s.Errors) > 0 {
		et := table.NewWriter()
		et.SetOutputMirror(w)
		et.SetStyle(table.StyleLight)
		et.SetTitle("Sub-query errors")
		et.AppendHeader(table.Row{"#", "Error"})
		for i, e := range s.Errors {
			et.AppendRow(table.Row{i + 1, e})
		}
		et.Render()
	}
}

func accountState(a AccountSummary) string {
	switch {
	case a.Failed:
		return "failed"
	case a.Skipped:
		return "skipped (checkpoint)"
	default:
		return "ok"
	}
}
