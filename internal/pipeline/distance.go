package pipeline

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/mimosa-project/mimosa-sync/internal/model"
)

// ProcessDistance parses ReporTree's hamming distance matrix and newick tree
// into the per-profile distance document.
func ProcessDistance(distPath, newickPath, profileName string) (*model.Distance, error) {
	samples, matrix, err := parseDistanceMatrix(distPath)
	if err != nil {
		return nil, err
	}

	newick, err := os.ReadFile(newickPath)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read newick %s", newickPath)
	}

	return &model.Distance{
		AnalysisProfile: profileName,
		Samples:         samples,
		Matrix:          matrix,
		Newick:          strings.TrimSpace(string(newick)),
	}, nil
}

// parseDistanceMatrix reads a square matrix TSV whose first row and first
// column are sample names.
func parseDistanceMatrix(path string) ([]string, [][]int, error) {
	t, err := readTSV(path)
	if err != nil {
		return nil, nil, err
	}
	if len(t.columns) < 2 {
		return nil, nil, eris.Errorf("pipeline: distance matrix %s has no samples", path)
	}

	samples := t.columns[1:]
	matrix := make([][]int, 0, len(t.rows))
	for _, row := range t.rows {
		dists := make([]int, len(samples))
		for i, sample := range samples {
			n, err := strconv.Atoi(strings.TrimSpace(row[sample]))
			if err != nil {
				return nil, nil, eris.Wrapf(err, "pipeline: distance matrix %s cell %s", path, sample)
			}
			dists[i] = n
		}
		matrix = append(matrix, dists)
	}
	if len(matrix) != len(samples) {
		return nil, nil, eris.Errorf("pipeline: distance matrix %s is not square (%d samples, %d rows)",
			path, len(samples), len(matrix))
	}
	return samples, matrix, nil
}
