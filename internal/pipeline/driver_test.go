package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimosa-project/mimosa-sync/internal/ledger"
	"github.com/mimosa-project/mimosa-sync/internal/profile"
	"github.com/mimosa-project/mimosa-sync/internal/similarity"
	"github.com/mimosa-project/mimosa-sync/internal/store"
	"github.com/mimosa-project/mimosa-sync/internal/upload"
	"github.com/mimosa-project/mimosa-sync/pkg/bonsai"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// fakeReporTree intercepts the docker invocation and fabricates the output
// files a real ReporTree run would leave behind.
func fakeReporTree(t *testing.T, samples []string, withDistance bool) *ReporTree {
	t.Helper()
	rt := NewReporTree()
	rt.runCommand = func(_ context.Context, name string, args ...string) ([]byte, error) {
		require.Equal(t, "docker", name)

		// Recover the mounted directory and profile from the args.
		var dir, profileName string
		for i, a := range args {
			if a == "-v" {
				dir = strings.TrimSuffix(args[i+1], ":/data")
			}
			if strings.HasPrefix(a, "reportree.py") {
				fields := strings.Fields(a)
				for j, f := range fields {
					if f == "-out" {
						profileName = strings.TrimPrefix(fields[j+1], "/data/")
					}
				}
			}
		}
		require.NotEmpty(t, dir)
		require.NotEmpty(t, profileName)

		partitions, clusters, dist, newick := OutputPaths(dir, profileName)

		var pb strings.Builder
		pb.WriteString("sample\tMST-9x1.0\n")
		for _, s := range samples {
			fmt.Fprintf(&pb, "%s\tcluster_1\n", s)
		}
		require.NoError(t, writeFile(partitions, pb.String()))

		require.NoError(t, writeFile(clusters, fmt.Sprintf(
			"#partition\tcluster\tcluster_length\tsamples\nMST-9x1.0\tcluster_1\t%d\t%s\n",
			len(samples), strings.Join(samples, ","))))

		if withDistance {
			var db strings.Builder
			db.WriteString("dists\t" + strings.Join(samples, "\t") + "\n")
			for _, s := range samples {
				db.WriteString(s)
				for range samples {
					db.WriteString("\t0")
				}
				db.WriteString("\n")
			}
			require.NoError(t, writeFile(dist, db.String()))
			require.NoError(t, writeFile(newick, "("+strings.Join(samples, ",")+");"))
		}
		return []byte("done"), nil
	}
	return rt
}

func newTestDriver(t *testing.T, client *fakeBonsai, opts Options, withDistance bool, samples []string) (*Driver, store.Store, *ledger.State) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}

	state := ledger.NewState(Scopes([]string{"staphylococcus_aureus"}), AllStages())
	runner := ledger.NewRunner(state, nil)

	simEngine := similarity.NewEngine(client, similarity.WithPolling(time.Millisecond, 2))
	uploader := upload.NewEngine(st, "pipeline")
	d := NewDriver(client, st, uploader, simEngine, fakeReporTree(t, samples, withDistance), runner, opts)
	return d, st, state
}

func testClient(ids ...string) *fakeBonsai {
	c := &fakeBonsai{details: map[string]*bonsai.SampleDetail{}}
	for _, id := range ids {
		c.samples = append(c.samples, bonsai.Sample{SampleID: id, Profile: "staphylococcus_aureus"})
		c.details[id] = sampleDetail(id, "staphylococcus_aureus")
	}
	return c
}

func TestDriver_FullRun(t *testing.T) {
	client := testClient("S1", "S2")
	d, st, state := newTestDriver(t, client, Options{}, true, []string{"S1", "S2"})
	ctx := context.Background()

	summary, err := d.Run(ctx, []profile.Profile{aureus()})
	require.NoError(t, err)
	assert.Equal(t, upload.Result{Inserted: 2}, summary.Results["staphylococcus_aureus"])
	assert.Equal(t, 2, summary.SimilarityCount)
	assert.Empty(t, summary.Failed)

	for _, stage := range ProfileStages {
		assert.Equal(t, ledger.StatusDone, state.Entry("staphylococcus_aureus", stage).Status, stage)
	}
	assert.Equal(t, ledger.StatusDone, state.Entry(ledger.GlobalScope, StageRunSimilarity).Status)

	ids, err := st.ListFeatureIDs(ctx, "staphylococcus_aureus")
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2"}, ids)

	clustering, err := st.LatestClustering(ctx, "staphylococcus_aureus")
	require.NoError(t, err)
	require.NotNil(t, clustering)
	assert.Len(t, clustering.Results, 2)

	distance, err := st.GetDistance(ctx, "staphylococcus_aureus")
	require.NoError(t, err)
	require.NotNil(t, distance)
	assert.Equal(t, []string{"S1", "S2"}, distance.Samples)
}

func TestDriver_DistanceSkippedWhenArtefactsMissing(t *testing.T) {
	client := testClient("S1")
	d, _, state := newTestDriver(t, client, Options{}, false, []string{"S1"})

	_, err := d.Run(context.Background(), []profile.Profile{aureus()})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSkipped, state.Entry("staphylococcus_aureus", StageUploadDistance).Status)
}

func TestDriver_NoNewSamplesSkipsProfile(t *testing.T) {
	client := testClient("S1")
	d, st, _ := newTestDriver(t, client, Options{}, true, []string{"S1"})
	ctx := context.Background()

	// First run inserts S1; second run sees nothing new.
	_, err := d.Run(ctx, []profile.Profile{aureus()})
	require.NoError(t, err)

	state2 := ledger.NewState(Scopes([]string{"staphylococcus_aureus"}), AllStages())
	d2 := NewDriver(client, st, upload.NewEngine(st, "pipeline"),
		similarity.NewEngine(client, similarity.WithPolling(time.Millisecond, 2)),
		fakeReporTree(t, []string{"S1"}, true),
		ledger.NewRunner(state2, nil), Options{OutputDir: t.TempDir()})

	summary, err := d2.Run(ctx, []profile.Profile{aureus()})
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
	assert.Equal(t, ledger.StatusSkipped, state2.Entry("staphylococcus_aureus", StagePrepareMetadata).Status)
	assert.Equal(t, ledger.StatusSkipped, state2.Entry(ledger.GlobalScope, StageRunSimilarity).Status)
}

func TestDriver_UpdateModeSkipsClustering(t *testing.T) {
	client := testClient("S1")
	d, st, _ := newTestDriver(t, client, Options{}, true, []string{"S1"})
	ctx := context.Background()

	_, err := d.Run(ctx, []profile.Profile{aureus()})
	require.NoError(t, err)

	// Change QC upstream, rerun in update mode.
	client.details["S1"].QC.Status = "failed"

	state2 := ledger.NewState(Scopes([]string{"staphylococcus_aureus"}), AllStages())
	d2 := NewDriver(client, st, upload.NewEngine(st, "pipeline"),
		similarity.NewEngine(client, similarity.WithPolling(time.Millisecond, 2)),
		fakeReporTree(t, []string{"S1"}, true),
		ledger.NewRunner(state2, nil),
		Options{OutputDir: t.TempDir(), Update: true})

	summary, err := d2.Run(ctx, []profile.Profile{aureus()})
	require.NoError(t, err)
	assert.Equal(t, upload.Result{Updated: 1}, summary.Results["staphylococcus_aureus"])
	assert.Equal(t, ledger.StatusSkipped, state2.Entry("staphylococcus_aureus", StageRunReportree).Status)
	assert.Equal(t, ledger.StatusSkipped, state2.Entry("staphylococcus_aureus", StageUploadClustering).Status)

	f, err := st.GetFeature(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "failed", f.Properties.QCStatus)
}

func TestDriver_SkipSimilarity(t *testing.T) {
	client := testClient("S1")
	d, _, state := newTestDriver(t, client, Options{SkipSimilarity: true}, true, []string{"S1"})

	_, err := d.Run(context.Background(), []profile.Profile{aureus()})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSkipped, state.Entry(ledger.GlobalScope, StageRunSimilarity).Status)
	assert.Equal(t, ledger.StatusSkipped, state.Entry(ledger.GlobalScope, StageUploadSimilarity).Status)
}
