package model

// Typing holds the MLST typing snapshot for a sample: the sequence type and
// the per-gene allele calls it was derived from.
type Typing struct {
	ST      string            `json:"ST,omitempty"`
	Alleles map[string]string `json:"alleles,omitempty"`
}

// Properties is the flat metadata block of a feature document. ID is the
// sample identifier and the join key across all collections.
type Properties struct {
	PostCode        string  `json:"PostCode"`
	Hospital        string  `json:"Hospital"`
	AnalysisProfile string  `json:"analysis_profile"`
	PipelineVersion string  `json:"Pipeline_Version"`
	PipelineDate    string  `json:"Pipeline_Date"`
	Date            string  `json:"Date"`
	ID              string  `json:"ID"`
	QCStatus        string  `json:"QC_Status"`
	Typing          *Typing `json:"typing,omitempty"`
}

// Geometry is the GeoJSON geometry attached to a feature. Coordinates are
// filled in by the dashboard from postcode data, not by the pipeline.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Feature is one sample's current typing and metadata snapshot, stored as a
// GeoJSON feature document. At most one feature exists per sample ID; updates
// supersede it in place.
type Feature struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	Geometry   Geometry   `json:"geometry"`
}

// NewFeature wraps properties in a feature document with an empty point
// geometry, matching the stored document shape.
func NewFeature(props Properties) Feature {
	return Feature{
		Type:       "Feature",
		Properties: props,
		Geometry:   Geometry{Type: "Point", Coordinates: []float64{}},
	}
}
