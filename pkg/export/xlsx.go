package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"

	"github.com/cloudposture/checks-export/pkg/posture"
)

// Sheet names in the workbook.
const (
	sheetResolved = "Resolved"
	sheetFailures = "Open Failures"
	sheetSummary  = "Summary"
)

// WriteXLSX writes the buffered records to a workbook: one sheet per
// status plus a summary sheet of run metadata and completeness caveats.
func (r *Reporter) WriteXLSX(path string, s RunSummary) error {
	records := r.Records()

	f := excelize.NewFile()
	defer f.Close()

	if err := writeRecordSheet(f, sheetResolved, filterStatus(records, posture.StatusSuccess)); err != nil {
		return err
	}
	if err := writeRecordSheet(f, sheetFailures, filterStatus(records, posture.StatusFailure)); err != nil {
		return err
	}
	if err := writeSummarySheet(f, s); err != nil {
		return err
	}

	// Drop excelize's default sheet.
	if idx, err := f.GetSheetIndex("Sheet1"); err == nil && idx >= 0 {
		_ = f.DeleteSheet("Sheet1")
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	r.logger.Info().
		Str("path", path).
		Int("records", len(records)).
		Msg("XLSX export complete")
	return nil
}

func filterStatus(records []Record, status posture.Status) []Record {
	return lo.Filter(records, func(rec Record, _ int) bool { return rec.Status == status })
}

func writeRecordSheet(f *excelize.File, name string, records []Record) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	keySet := map[string]struct{}{}
	for _, rec := range records {
		for k := range rec.Fields {
			keySet[k] = struct{}{}
		}
	}
	headers := lo.Keys(keySet)
	sort.Strings(headers)

	if err := writeRow(f, name, 1, lo.Map(headers, func(h string, _ int) any { return h })); err != nil {
		return err
	}
	for i, rec := range records {
		row := make([]any, len(headers))
		for j, h := range headers {
			row[j] = flattenValue(rec.Fields[h])
		}
		if err := writeRow(f, name, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, s RunSummary) error {
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheetSummary, err)
	}

	rows := [][]any{
		{"Session", s.SessionID},
		{"Window start", s.Window.Start.Format("2006-01-02 15:04:05 MST")},
		{"Window end", s.Window.End.Format("2006-01-02 15:04:05 MST")},
		{"Created-date lookback from", s.FetchFrom.Format("2006-01-02 15:04:05 MST")},
		{"Statuses", joinStatuses(s.Statuses)},
		{"Risk levels", joinRisks(s.RiskLevels)},
		{"Accounts", len(s.Accounts)},
		{"Records exported", s.TotalRecords()},
		{"Started", s.Started.Format("2006-01-02 15:04:05 MST")},
		{"Finished", s.Finished.Format("2006-01-02 15:04:05 MST")},
		{},
		{"Account", "Provider", "Resolved", "Open Failures", "State"},
	}
	for _, a := range s.Accounts {
		rows = append(rows, []any{a.Name, string(a.Provider), a.Resolved, a.Failures, accountState(a)})
	}
	if len(s.Warnings) > 0 {
		rows = append(rows, []any{}, []any{"Possible incompleteness"})
		for _, w := range s.Warnings {
			rows = append(rows, []any{w})
		}
	}
	if len(s.Errors) > 0 {
		rows = append(rows, []any{}, []any{"Sub-query errors"})
		for _, e := range s.Errors {
			rows = append(rows, []any{e})
		}
	}

	for i, row := range rows {
		if err := writeRow(f, sheetSummary, i+1, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func joinStatuses(statuses []posture.Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

func joinRisks(levels []posture.RiskLevel) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ", ")
}
