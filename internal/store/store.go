// Package store persists the pipeline's derived artefacts: feature documents,
// similarity records, clustering results, distance matrices, and per-sample
// change logs, each keyed by sample identifier.
package store

import (
	"context"

	"github.com/mimosa-project/mimosa-sync/internal/model"
)

// Counts summarises collection sizes for the status command.
type Counts struct {
	Features     int            `json:"features"`
	ByProfile    map[string]int `json:"by_profile"`
	Similarities int            `json:"similarities"`
	Clusterings  int            `json:"clusterings"`
	Logs         int            `json:"logs"`
}

// Store is the document store interface. Lookups return (nil, nil) when no
// document exists; write errors are fatal to the calling batch.
type Store interface {
	// Features: at most one document per sample ID, superseded in place.
	GetFeature(ctx context.Context, sampleID string) (*model.Feature, error)
	InsertFeature(ctx context.Context, profile string, f model.Feature) error
	ReplaceFeature(ctx context.Context, profile string, f model.Feature) error
	ListFeatureIDs(ctx context.Context, profile string) ([]string, error)
	DeleteFeature(ctx context.Context, sampleID string) error

	// Similarity: replace-by-ID semantics, one record retained per sample.
	GetSimilarity(ctx context.Context, sampleID string) (*model.Similarity, error)
	ListSimilarities(ctx context.Context) ([]model.Similarity, error)
	ReplaceSimilarity(ctx context.Context, rec model.Similarity) error
	DeleteSimilarity(ctx context.Context, sampleID string) error

	// Clustering: one document per analysis run; readers take the latest.
	InsertClustering(ctx context.Context, res model.ClusteringResult) error
	LatestClustering(ctx context.Context, profile string) (*model.ClusteringResult, error)

	// Distance: one document per profile.
	ReplaceDistance(ctx context.Context, d model.Distance) error
	GetDistance(ctx context.Context, profile string) (*model.Distance, error)

	// Sample logs: append-only update entries per sample.
	GetSampleLog(ctx context.Context, sampleID string) (*model.SampleLog, error)
	InsertSampleLog(ctx context.Context, log model.SampleLog) error
	AppendLogUpdate(ctx context.Context, sampleID string, entry model.UpdateEntry) error
	DeleteSampleLog(ctx context.Context, sampleID string) error

	Counts(ctx context.Context) (*Counts, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
