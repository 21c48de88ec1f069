package pipeline

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// supplementaryColumns are the columns merged into the full metadata file.
// sample and lims_id together form the join key.
var supplementaryColumns = []string{"sample", "lims_id", "PostCode", "Hospital", "Date"}

// MergeSupplementary updates the full metadata file in place with PostCode
// and Hospital from a supplementary CSV or XLSX file, keyed on sample and
// lims_id. Postcodes get the SE- country prefix when missing. The Date
// column is overwritten only where the fetched value is empty or Unknown.
func MergeSupplementary(metadataPath, supplementaryPath string) error {
	supp, err := readSupplementary(supplementaryPath)
	if err != nil {
		return err
	}

	metadata, err := readTSV(metadataPath)
	if err != nil {
		return err
	}
	metadata.addColumn("PostCode")
	metadata.addColumn("Hospital")

	type key struct{ sample, limsID string }
	lookup := make(map[key]map[string]string, len(supp.rows))
	for _, row := range supp.rows {
		lookup[key{row["sample"], row["lims_id"]}] = row
	}

	matched := 0
	for _, row := range metadata.rows {
		extra, ok := lookup[key{row["sample"], row["lims_id"]}]
		if !ok {
			continue
		}
		matched++
		row["PostCode"] = normalizePostcode(extra["PostCode"])
		row["Hospital"] = extra["Hospital"]
		if dateMissing(row["Date"]) {
			row["Date"] = extra["Date"]
		}
	}
	zap.L().Info("merged supplementary metadata",
		zap.String("file", supplementaryPath),
		zap.Int("matched", matched),
		zap.Int("rows", len(metadata.rows)))

	return metadata.writeTSV(metadataPath)
}

// normalizePostcode prefixes bare Swedish postcodes with SE-.
func normalizePostcode(pc string) string {
	if pc == "" || strings.HasPrefix(pc, "SE-") {
		return pc
	}
	return "SE-" + pc
}

func dateMissing(date string) bool {
	trimmed := strings.TrimSpace(date)
	return trimmed == "" || strings.EqualFold(trimmed, "unknown")
}

func readSupplementary(path string) (*table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readSupplementaryXLSX(path)
	default:
		return readSupplementaryCSV(path)
	}
}

func readSupplementaryCSV(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open supplementary %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read supplementary %s", path)
	}
	return supplementaryTable(records, path)
}

func readSupplementaryXLSX(path string) (*table, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open supplementary %s", path)
	}
	if len(wb.Sheets) == 0 {
		return nil, eris.Errorf("pipeline: supplementary %s has no sheets", path)
	}

	var records [][]string
	for _, row := range wb.Sheets[0].Rows {
		var rec []string
		for _, cell := range row.Cells {
			rec = append(rec, strings.TrimSpace(cell.String()))
		}
		records = append(records, rec)
	}
	return supplementaryTable(records, path)
}

func supplementaryTable(records [][]string, path string) (*table, error) {
	if len(records) == 0 {
		return nil, eris.Errorf("pipeline: supplementary %s is empty", path)
	}

	header := records[0]
	index := map[string]int{}
	for i, col := range header {
		index[col] = i
	}
	for _, required := range supplementaryColumns {
		if _, ok := index[required]; !ok {
			return nil, eris.Errorf("pipeline: supplementary %s missing column %s", path, required)
		}
	}

	t := &table{columns: append([]string(nil), supplementaryColumns...)}
	for _, rec := range records[1:] {
		row := make(map[string]string, len(supplementaryColumns))
		for _, col := range supplementaryColumns {
			if i := index[col]; i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			}
		}
		if row["sample"] == "" {
			continue
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}
