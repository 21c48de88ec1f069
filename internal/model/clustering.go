package model

import "time"

// ClusterAssignment places one sample in a cluster at a given partition
// threshold. ClusterID is an int for numeric "cluster_N" labels and falls
// back to the raw label for singletons and other non-numeric clusters.
type ClusterAssignment struct {
	ID        string `json:"ID"`
	ClusterID any    `json:"Cluster_ID"`
	Partition string `json:"Partition"`
}

// ClusteringResult is the full cluster assignment set from one analysis run.
type ClusteringResult struct {
	Results         []ClusterAssignment `json:"results"`
	AnalysisProfile string              `json:"analysis_profile,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// Distance holds the pairwise allele distance matrix and the minimum
// spanning tree for one profile, produced by the external tree builder.
type Distance struct {
	AnalysisProfile string   `json:"analysis_profile"`
	Samples         []string `json:"samples"`
	Matrix          [][]int  `json:"matrix"`
	Newick          string   `json:"newick"`
}
