package pipeline

import (
	"strings"

	"github.com/mimosa-project/mimosa-sync/internal/model"
)

// metadataBaseFields are the full-metadata columns that are not MLST allele
// columns. Every other column is treated as a gene name.
var metadataBaseFields = map[string]bool{
	"sample": true, "lims_id": true, "Date": true, "Time": true,
	"Pipeline_Version": true, "Pipeline_Date": true, "Profile": true,
	"QC_Status": true, "ST": true, "PostCode": true, "Hospital": true,
}

// ProcessFeatures builds feature documents from the clustered sample set.
// partitionsPath is ReporTree's metadata_w_partitions file and names which
// samples survived clustering; every metadata field is restored from the full
// metadata file, since ReporTree only saw the restricted one.
func ProcessFeatures(partitionsPath, fullMetadataPath string) ([]model.Feature, error) {
	full, err := readTSV(fullMetadataPath)
	if err != nil {
		return nil, err
	}

	lookup := make(map[string]model.Properties, len(full.rows))
	for _, row := range full.rows {
		id := strings.TrimSpace(row["sample"])
		if id == "" {
			continue
		}
		lookup[id] = rowProperties(id, row, full.columns)
	}

	partitions, err := readTSV(partitionsPath)
	if err != nil {
		return nil, err
	}

	var features []model.Feature
	for _, row := range partitions.rows {
		id := strings.TrimSpace(row["sample"])
		if id == "" {
			continue
		}
		props, ok := lookup[id]
		if !ok {
			continue
		}
		features = append(features, model.NewFeature(props))
	}
	return features, nil
}

func rowProperties(id string, row map[string]string, columns []string) model.Properties {
	props := model.Properties{
		PostCode:        strings.TrimSpace(row["PostCode"]),
		Hospital:        strings.TrimSpace(row["Hospital"]),
		AnalysisProfile: strings.TrimSpace(row["Profile"]),
		PipelineVersion: strings.TrimSpace(row["Pipeline_Version"]),
		PipelineDate:    strings.TrimSpace(row["Pipeline_Date"]),
		Date:            strings.TrimSpace(row["Date"]),
		ID:              id,
		QCStatus:        strings.TrimSpace(row["QC_Status"]),
	}

	typing := model.Typing{
		ST:      strings.TrimSpace(row["ST"]),
		Alleles: map[string]string{},
	}
	for _, col := range columns {
		if metadataBaseFields[col] {
			continue
		}
		if v := strings.TrimSpace(row[col]); v != "" {
			typing.Alleles[col] = v
		}
	}
	if typing.ST != "" || len(typing.Alleles) > 0 {
		props.Typing = &typing
	}
	return props
}
