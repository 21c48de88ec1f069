package pipeline

import (
	"encoding/csv"
	"os"

	"github.com/rotisserie/eris"
)

// table is an ordered-column TSV held in memory. Rows are keyed by column
// name; absent cells read as empty strings.
type table struct {
	columns []string
	rows    []map[string]string
}

func (t *table) hasColumn(name string) bool {
	for _, c := range t.columns {
		if c == name {
			return true
		}
	}
	return false
}

func (t *table) addColumn(name string) {
	if !t.hasColumn(name) {
		t.columns = append(t.columns, name)
	}
}

// writeTSV writes the table with a header row.
func (t *table) writeTSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create %s", path)
	}

	w := csv.NewWriter(f)
	w.Comma = '\t'
	if err := w.Write(t.columns); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "pipeline: write header %s", path)
	}
	record := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, col := range t.columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			f.Close() //nolint:errcheck
			return eris.Wrapf(err, "pipeline: write row %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "pipeline: flush %s", path)
	}
	return eris.Wrapf(f.Close(), "pipeline: close %s", path)
}

// readTSV loads a header-first TSV file.
func readTSV(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("pipeline: %s has no header row", path)
	}

	t := &table{columns: records[0]}
	for _, rec := range records[1:] {
		row := make(map[string]string, len(t.columns))
		for i, col := range t.columns {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}
