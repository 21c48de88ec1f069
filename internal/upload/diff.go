package upload

import (
	"sort"

	"github.com/mimosa-project/mimosa-sync/internal/model"
)

// diff is the changed-field set between a stored feature and a candidate,
// keyed by field name with old/new values. Allele changes are keyed by gene
// name so the change log reads the same as the nested document.
type diff map[string]model.FieldChange

func (d diff) fields() []string {
	out := make([]string, 0, len(d))
	for _, f := range topLevelFields {
		if _, ok := d[f]; ok {
			out = append(out, f)
		}
	}
	var alleles []string
	for f := range d {
		if !isTopLevel(f) {
			alleles = append(alleles, f)
		}
	}
	sort.Strings(alleles)
	return append(out, alleles...)
}

var topLevelFields = []string{
	"PostCode", "Hospital", "analysis_profile",
	"Pipeline_Version", "Pipeline_Date", "Date", "QC_Status", "ST",
}

func isTopLevel(f string) bool {
	for _, t := range topLevelFields {
		if f == t {
			return true
		}
	}
	return false
}

// diffQC compares only the QC status. It backs the always-on QC update that
// applies even when a full reconciliation was not requested.
func diffQC(existing, candidate model.Properties) diff {
	d := diff{}
	if existing.QCStatus != candidate.QCStatus {
		d["QC_Status"] = model.FieldChange{Old: existing.QCStatus, New: candidate.QCStatus}
	}
	return d
}

// diffProperties compares every top-level property plus the nested typing
// block. ST is compared directly; each allele key is compared independently
// against the prior allele map. Alleles present only in the candidate count
// as changed; alleles absent from the candidate are not flagged as removed.
func diffProperties(existing, candidate model.Properties) diff {
	d := diffQC(existing, candidate)

	compare := func(field, oldVal, newVal string) {
		if oldVal != newVal {
			d[field] = model.FieldChange{Old: oldVal, New: newVal}
		}
	}
	compare("PostCode", existing.PostCode, candidate.PostCode)
	compare("Hospital", existing.Hospital, candidate.Hospital)
	compare("analysis_profile", existing.AnalysisProfile, candidate.AnalysisProfile)
	compare("Pipeline_Version", existing.PipelineVersion, candidate.PipelineVersion)
	compare("Pipeline_Date", existing.PipelineDate, candidate.PipelineDate)
	compare("Date", existing.Date, candidate.Date)

	oldTyping := existing.Typing
	newTyping := candidate.Typing
	if newTyping == nil {
		return d
	}
	if oldTyping == nil {
		oldTyping = &model.Typing{}
	}

	compare("ST", oldTyping.ST, newTyping.ST)
	for gene, allele := range newTyping.Alleles {
		compare(gene, oldTyping.Alleles[gene], allele)
	}
	return d
}
