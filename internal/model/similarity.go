package model

import "time"

// Neighbor is one entry in a sample's neighbor list: another sample reported
// as similar, with its similarity score.
type Neighbor struct {
	ID         string  `json:"ID"`
	Similarity float64 `json:"similarity"`
}

// Similarity is one sample's neighbor set at a point in time. The store keeps
// at most one record per ID; a new computation replaces the prior one.
type Similarity struct {
	ID        string     `json:"ID"`
	Similar   []Neighbor `json:"similar"`
	CreatedAt time.Time  `json:"createdAt"`
}
