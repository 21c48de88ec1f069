// Package pipeline drives the staged sync run: per-profile metadata
// preparation, ReporTree clustering, artefact processing and upload, followed
// by a single global similarity reconciliation pass.
package pipeline

import "github.com/mimosa-project/mimosa-sync/internal/ledger"

// Stage names recorded in the ledger.
const (
	StagePrepareMetadata  = "prepare_metadata"
	StageRunReportree     = "run_reportree"
	StageProcessFeatures  = "process_features"
	StageUploadFeatures   = "upload_features"
	StageUploadClustering = "upload_clustering"
	StageUploadDistance   = "upload_distance"
	StageRunSimilarity    = "run_similarity"
	StageUploadSimilarity = "upload_similarity"
)

// ProfileStages lists the per-profile stages in execution order.
var ProfileStages = []string{
	StagePrepareMetadata,
	StageRunReportree,
	StageProcessFeatures,
	StageUploadFeatures,
	StageUploadClustering,
	StageUploadDistance,
}

// GlobalStages lists the cross-profile similarity stages.
var GlobalStages = []string{
	StageRunSimilarity,
	StageUploadSimilarity,
}

// RenderConfig is the display grouping for the live status table.
func RenderConfig() ledger.RendererConfig {
	return ledger.RendererConfig{
		Title: "MIMOSA sync",
		ProfileGroups: []ledger.Group{
			{Label: "Prepare metadata", Stages: []string{StagePrepareMetadata}},
			{Label: "Run ReporTree", Stages: []string{StageRunReportree}},
			{Label: "Process features", Stages: []string{StageProcessFeatures}},
			{Label: "Upload", Stages: []string{
				StageUploadFeatures, StageUploadClustering, StageUploadDistance,
			}},
		},
		GlobalGroups: []ledger.Group{
			{Label: "Compute neighbors", Stages: []string{StageRunSimilarity}},
			{Label: "Upload similarity", Stages: []string{StageUploadSimilarity}},
		},
		CountStage:  StagePrepareMetadata,
		ExpandLabel: "Upload",
		StageLabels: map[string]string{
			StageUploadFeatures:   "features",
			StageUploadClustering: "clustering",
			StageUploadDistance:   "distance",
		},
		ProgressLabel: "Compute neighbors",
	}
}

// Scopes returns the ledger scopes for a run: one per profile plus the
// reserved global scope.
func Scopes(profiles []string) []string {
	return append(append([]string(nil), profiles...), ledger.GlobalScope)
}

// AllStages returns the union of per-profile and global stage names.
func AllStages() []string {
	return append(append([]string(nil), ProfileStages...), GlobalStages...)
}
