package pipeline

import (
	"strconv"
	"strings"
	"time"

	"github.com/mimosa-project/mimosa-sync/internal/model"
)

// ProcessClusters parses ReporTree's clusterComposition file into per-sample
// cluster assignments. Cluster names of the form cluster_N become numeric
// IDs; singleton and other names stay as strings.
func ProcessClusters(clustersPath, profileName string, now time.Time) (*model.ClusteringResult, error) {
	t, err := readTSV(clustersPath)
	if err != nil {
		return nil, err
	}

	var assignments []model.ClusterAssignment
	for _, row := range t.rows {
		clusterID := parseClusterID(strings.TrimSpace(row["cluster"]))
		partition := strings.TrimSpace(row["#partition"])
		for _, sample := range strings.Split(row["samples"], ",") {
			sample = strings.TrimSpace(sample)
			if sample == "" {
				continue
			}
			assignments = append(assignments, model.ClusterAssignment{
				ID:        sample,
				ClusterID: clusterID,
				Partition: partition,
			})
		}
	}

	return &model.ClusteringResult{
		Results:         assignments,
		AnalysisProfile: profileName,
		CreatedAt:       now.UTC(),
	}, nil
}

func parseClusterID(raw string) any {
	if strings.HasPrefix(strings.ToLower(raw), "cluster_") {
		if n, err := strconv.Atoi(raw[len("cluster_"):]); err == nil {
			return n
		}
	}
	return raw
}
