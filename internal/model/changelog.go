package model

import "time"

// FieldChange records the old and new value of one changed field.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// UpdateEntry is one append-only audit record for a sample: when it changed,
// which fields changed, and the old/new value per field. Never mutated after
// creation.
type UpdateEntry struct {
	Date          time.Time              `json:"date"`
	UpdatedFields []string               `json:"updated_fields"`
	Changes       map[string]FieldChange `json:"changes"`
	Actor         string                 `json:"actor,omitempty"`
}

// SampleLog is the per-sample change log document. AddedAt marks the
// first-time insert; Updates grows by appending only.
type SampleLog struct {
	SampleID string        `json:"sample_id"`
	Profile  string        `json:"profile"`
	AddedAt  time.Time     `json:"added_at"`
	Updates  []UpdateEntry `json:"updates"`
}
