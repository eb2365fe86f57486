package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"
)

// WriteCSV writes all buffered records to path. Headers are the sorted
// union of keys across every record plus a leading status column, so
// columns the vendor adds show up without a schema change here.
func (r *Reporter) WriteCSV(path string) error {
	records := r.Records()
	if len(records) == 0 {
		r.logger.Warn().Str("path", path).Msg("No records to export")
		return nil
	}

	keySet := map[string]struct{}{}
	for _, rec := range records {
		for k := range rec.Fields {
			keySet[k] = struct{}{}
		}
	}
	headers := lo.Keys(keySet)
	sort.Strings(headers)
	headers = append([]string{"checkStatus"}, headers...)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create CSV: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	row := make([]string, len(headers))
	for _, rec := range records {
		row[0] = string(rec.Status)
		for i, h := range headers[1:] {
			row[i+1] = cellString(rec.Fields[h])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush CSV: %w", err)
	}

	r.logger.Info().
		Str("path", path).
		Int("records", len(records)).
		Int("columns", len(headers)).
		Msg("CSV export complete")
	return nil
}

func cellString(v any) string {
	flat := flattenValue(v)
	if flat == nil {
		return ""
	}
	if s, ok := flat.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", flat)
}
