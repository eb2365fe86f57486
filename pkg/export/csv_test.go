package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudposture/checks-export/pkg/posture"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteCSVHeaderUnion(t *testing.T) {
	r := NewReporter(0)
	r.Add(Record{Status: posture.StatusFailure, Fields: map[string]any{
		"id": "chk-1", "service": "s3",
	}})
	r.Add(Record{Status: posture.StatusSuccess, Fields: map[string]any{
		"id": "chk-2", "region": "us-east-1",
	}})

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, r.WriteCSV(path))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)

	// Status column leads; the rest is the sorted union of record keys.
	assert.Equal(t, []string{"checkStatus", "id", "region", "service"}, rows[0])
	assert.Equal(t, []string{"FAILURE", "chk-1", "", "s3"}, rows[1])
	assert.Equal(t, []string{"SUCCESS", "chk-2", "us-east-1", ""}, rows[2])
}

func TestWriteCSVNestedValues(t *testing.T) {
	r := NewReporter(0)
	r.Add(Record{Status: posture.StatusFailure, Fields: map[string]any{
		"id":   "chk-1",
		"tags": []any{"pci", "prod"},
		"meta": map[string]any{"ttl": "7d"},
	}})

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, r.WriteCSV(path))

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"checkStatus", "id", "meta", "tags"}, rows[0])
	assert.Equal(t, `{"ttl":"7d"}`, rows[1][2])
	assert.Equal(t, `["pci","prod"]`, rows[1][3])
}

func TestWriteCSVNoRecords(t *testing.T) {
	r := NewReporter(0)
	path := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, r.WriteCSV(path))

	// Nothing to export writes nothing.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
