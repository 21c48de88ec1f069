package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mimosa-project/mimosa-sync/internal/profile"
	"github.com/mimosa-project/mimosa-sync/pkg/bonsai"
)

// Base metadata columns, in TSV order. MLST columns (ST plus gene names)
// follow for profiles typed with MLST.
var metadataColumns = []string{
	"sample", "lims_id", "Date", "Time",
	"Pipeline_Version", "Pipeline_Date", "Profile", "QC_Status",
}

// cgmlstMissingCodes are chewBBACA allele call codes that mean "no usable
// call"; ReporTree expects them replaced with "0".
var cgmlstMissingCodes = map[string]bool{
	"ASM": true, "EXC": true, "INF": true, "LNF": true,
	"PLNF": true, "PLOT3": true, "PLOT5": true, "LOTSC": true,
	"NIPH": true, "NIPHEM": true, "PAMA": true, "ALM": true,
}

// Artifacts are the per-profile files produced by metadata preparation.
type Artifacts struct {
	// FullMetadata carries every metadata column and is the source feature
	// records are restored from after clustering.
	FullMetadata string
	// ReportreeMetadata is the restricted file handed to ReporTree.
	ReportreeMetadata string
	// CGMLST is the allele matrix ReporTree clusters on.
	CGMLST string
	// SampleCount is the number of samples with metadata rows.
	SampleCount int
}

// PrepareMetadata fetches per-sample detail records and writes the metadata
// TSV pair plus the cgMLST allele matrix for one profile. Samples without a
// cgMLST typing result are logged and left out of the matrix.
func PrepareMetadata(ctx context.Context, client bonsai.Client, p profile.Profile, sampleIDs []string, dir string) (*Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "pipeline: create output dir")
	}

	metadata := &table{columns: append([]string(nil), metadataColumns...)}
	cgmlst := &table{columns: []string{"sample"}}

	for _, id := range sampleIDs {
		detail, err := client.SampleDetail(ctx, id)
		if err != nil {
			return nil, err
		}

		row := metadataRow(detail)
		if p.MLST {
			metadata.addColumn("ST")
			st, alleles := mlstTyping(detail)
			row["ST"] = st
			for _, gene := range sortedKeys(alleles) {
				metadata.addColumn(gene)
				row[gene] = alleles[gene]
			}
		}
		metadata.rows = append(metadata.rows, row)

		alleles, ok := cgmlstAlleles(detail)
		if !ok {
			zap.L().Warn("no cgMLST data for sample", zap.String("sample_id", id))
			continue
		}
		alleleRow := map[string]string{"sample": id}
		for _, locus := range sortedKeys(alleles) {
			cgmlst.addColumn(locus)
			alleleRow[locus] = replaceMissing(alleles[locus])
		}
		cgmlst.rows = append(cgmlst.rows, alleleRow)
	}

	if len(metadata.rows) == 0 {
		return nil, eris.Errorf("pipeline: no metadata rows for profile %s", p.Name)
	}
	if len(cgmlst.rows) == 0 {
		return nil, eris.Errorf("pipeline: no cgMLST data for profile %s", p.Name)
	}

	a := &Artifacts{
		FullMetadata:      filepath.Join(dir, fmt.Sprintf("metadata_%s.tsv", p.Name)),
		ReportreeMetadata: filepath.Join(dir, fmt.Sprintf("metadata_%s_reportree.tsv", p.Name)),
		CGMLST:            filepath.Join(dir, fmt.Sprintf("cgmlst_%s.tsv", p.Name)),
		SampleCount:       len(metadata.rows),
	}
	if err := metadata.writeTSV(a.FullMetadata); err != nil {
		return nil, err
	}
	if err := reportreeSafe(metadata).writeTSV(a.ReportreeMetadata); err != nil {
		return nil, err
	}
	if err := cgmlst.writeTSV(a.CGMLST); err != nil {
		return nil, err
	}
	return a, nil
}

func metadataRow(detail *bonsai.SampleDetail) map[string]string {
	datePart, timePart := splitTimestamp(detail.SequencingDate)
	pipelineDate := detail.Pipeline.Date
	if i := strings.Index(pipelineDate, "T"); i >= 0 {
		pipelineDate = pipelineDate[:i]
	}
	return map[string]string{
		"sample":           detail.SampleID,
		"lims_id":          detail.LimsID.Or("Unknown"),
		"Date":             datePart,
		"Time":             timePart,
		"Pipeline_Version": orUnknown(detail.Pipeline.Version),
		"Pipeline_Date":    pipelineDate,
		"Profile":          detail.Pipeline.AnalysisProfile.Or("Unknown"),
		"QC_Status":        orUnknown(detail.QC.Status),
	}
}

// splitTimestamp splits an ISO timestamp into date and time; a bare date
// keeps "Unknown" as the time part.
func splitTimestamp(ts string) (date, clock string) {
	if ts == "" {
		return "Unknown", "Unknown"
	}
	if i := strings.Index(ts, "T"); i >= 0 {
		return ts[:i], ts[i+1:]
	}
	return ts, "Unknown"
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func mlstTyping(detail *bonsai.SampleDetail) (string, map[string]string) {
	for _, tr := range detail.TypingResults {
		if strings.EqualFold(tr.Type, "mlst") {
			alleles := make(map[string]string, len(tr.Result.Alleles))
			for gene, allele := range tr.Result.Alleles {
				alleles[gene] = string(allele)
			}
			return tr.Result.SequenceType.Or("Unknown"), alleles
		}
	}
	return "Unknown", nil
}

func cgmlstAlleles(detail *bonsai.SampleDetail) (map[string]string, bool) {
	for _, tr := range detail.TypingResults {
		if strings.EqualFold(tr.Type, "cgmlst") {
			alleles := make(map[string]string, len(tr.Result.Alleles))
			for locus, allele := range tr.Result.Alleles {
				alleles[locus] = string(allele)
			}
			return alleles, true
		}
	}
	return nil, false
}

func replaceMissing(allele string) string {
	if cgmlstMissingCodes[allele] {
		return "0"
	}
	return allele
}

// reportreeSafe restricts the metadata to the columns ReporTree consumes;
// the full file stays untouched for feature restoration.
func reportreeSafe(metadata *table) *table {
	out := &table{columns: []string{"sample", "Date"}}
	for _, row := range metadata.rows {
		out.rows = append(out.rows, map[string]string{
			"sample": row["sample"],
			"Date":   row["Date"],
		})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
