package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeMetadata(t *testing.T, rows []map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.tsv")
	tab := &table{
		columns: []string{"sample", "lims_id", "Date", "QC_Status"},
		rows:    rows,
	}
	require.NoError(t, tab.writeTSV(path))
	return path
}

func TestMergeSupplementary_CSV(t *testing.T) {
	metadataPath := writeMetadata(t, []map[string]string{
		{"sample": "S1", "lims_id": "L1", "Date": "2025-06-01", "QC_Status": "passed"},
		{"sample": "S2", "lims_id": "L2", "Date": "Unknown", "QC_Status": "passed"},
	})

	suppPath := filepath.Join(t.TempDir(), "supp.csv")
	require.NoError(t, os.WriteFile(suppPath, []byte(
		"sample,lims_id,PostCode,Hospital,Date\n"+
			"S1,L1,12345,Karolinska,2024-01-01\n"+
			"S2,L2,SE-54321,Sahlgrenska,2025-03-03\n",
	), 0o644))

	require.NoError(t, MergeSupplementary(metadataPath, suppPath))

	merged, err := readTSV(metadataPath)
	require.NoError(t, err)
	require.Len(t, merged.rows, 2)

	// Bare postcode gets the SE- prefix; prefixed one is untouched.
	assert.Equal(t, "SE-12345", merged.rows[0]["PostCode"])
	assert.Equal(t, "SE-54321", merged.rows[1]["PostCode"])
	assert.Equal(t, "Karolinska", merged.rows[0]["Hospital"])

	// Date backfilled only where missing or Unknown.
	assert.Equal(t, "2025-06-01", merged.rows[0]["Date"])
	assert.Equal(t, "2025-03-03", merged.rows[1]["Date"])
}

func TestMergeSupplementary_UnmatchedRowKept(t *testing.T) {
	metadataPath := writeMetadata(t, []map[string]string{
		{"sample": "S1", "lims_id": "L1", "Date": "2025-06-01", "QC_Status": "passed"},
	})

	suppPath := filepath.Join(t.TempDir(), "supp.csv")
	require.NoError(t, os.WriteFile(suppPath, []byte(
		"sample,lims_id,PostCode,Hospital,Date\nOTHER,LX,111,Hosp,2020-01-01\n",
	), 0o644))

	require.NoError(t, MergeSupplementary(metadataPath, suppPath))

	merged, err := readTSV(metadataPath)
	require.NoError(t, err)
	assert.Equal(t, "", merged.rows[0]["PostCode"])
	assert.Equal(t, "passed", merged.rows[0]["QC_Status"])
}

func TestMergeSupplementary_XLSX(t *testing.T) {
	metadataPath := writeMetadata(t, []map[string]string{
		{"sample": "S1", "lims_id": "L1", "Date": "", "QC_Status": "passed"},
	})

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rec := range [][]string{
		{"sample", "lims_id", "PostCode", "Hospital", "Date"},
		{"S1", "L1", "98765", "Danderyd", "2025-02-02"},
	} {
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().SetString(v)
		}
	}
	suppPath := filepath.Join(t.TempDir(), "supp.xlsx")
	require.NoError(t, f.Save(suppPath))

	require.NoError(t, MergeSupplementary(metadataPath, suppPath))

	merged, err := readTSV(metadataPath)
	require.NoError(t, err)
	assert.Equal(t, "SE-98765", merged.rows[0]["PostCode"])
	assert.Equal(t, "Danderyd", merged.rows[0]["Hospital"])
	assert.Equal(t, "2025-02-02", merged.rows[0]["Date"])
}

func TestMergeSupplementary_MissingColumn(t *testing.T) {
	metadataPath := writeMetadata(t, []map[string]string{
		{"sample": "S1", "lims_id": "L1"},
	})
	suppPath := filepath.Join(t.TempDir(), "supp.csv")
	require.NoError(t, os.WriteFile(suppPath, []byte("sample,PostCode\nS1,111\n"), 0o644))

	err := MergeSupplementary(metadataPath, suppPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}
