package similarity

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimosa-project/mimosa-sync/internal/model"
	"github.com/mimosa-project/mimosa-sync/pkg/bonsai"
)

// fakeJobService serves canned neighbor lists keyed by sample ID and records
// submissions. Jobs report "running" for pendingPolls polls before finishing.
type fakeJobService struct {
	mu           sync.Mutex
	neighbors    map[string][]bonsai.JobNeighbor
	submitErrs   map[string]error
	statusErrs   map[string]error
	pendingPolls int
	neverFinish  map[string]bool

	submitted []string
	polls     map[string]int
	lastReq   bonsai.SimilarityJobRequest
}

func newFakeJobService() *fakeJobService {
	return &fakeJobService{
		neighbors:   map[string][]bonsai.JobNeighbor{},
		submitErrs:  map[string]error{},
		statusErrs:  map[string]error{},
		neverFinish: map[string]bool{},
		polls:       map[string]int{},
	}
}

func (f *fakeJobService) SubmitSimilarityJob(_ context.Context, sampleID string, req bonsai.SimilarityJobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.submitErrs[sampleID]; err != nil {
		return "", err
	}
	f.submitted = append(f.submitted, sampleID)
	f.lastReq = req
	return "job-" + sampleID, nil
}

func (f *fakeJobService) JobStatus(_ context.Context, token string) (*bonsai.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := token[len("job-"):]
	if err := f.statusErrs[id]; err != nil {
		return nil, err
	}
	f.polls[id]++
	if f.neverFinish[id] || f.polls[id] <= f.pendingPolls {
		return &bonsai.JobStatus{Status: "running"}, nil
	}
	return &bonsai.JobStatus{Status: "completed", Result: f.neighbors[id]}, nil
}

func newTestEngine(jobs JobService, opts ...Option) *Engine {
	opts = append([]Option{WithPolling(time.Millisecond, 3), WithConcurrency(2)}, opts...)
	e := NewEngine(jobs, opts...)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestCompute_NormalizesNeighbors(t *testing.T) {
	svc := newFakeJobService()
	svc.neighbors["S1"] = []bonsai.JobNeighbor{
		{SampleID: "S1", Similarity: 1.0},  // self
		{SampleID: "S2", Similarity: 0.9},
		{SampleID: "", Similarity: 0.8},    // missing ID
		{SampleID: "S2", Similarity: 0.7},  // duplicate
		{SampleID: "S3", Similarity: 0.6},
	}
	e := newTestEngine(svc)

	results := e.Compute(context.Background(), []string{"S1"})
	require.Len(t, results, 1)
	assert.Equal(t, []model.Neighbor{
		{ID: "S2", Similarity: 0.9},
		{ID: "S3", Similarity: 0.6},
	}, results[0].Similar)
	assert.False(t, results[0].CreatedAt.IsZero())
}

func TestCompute_DedupesInputPreservingOrder(t *testing.T) {
	svc := newFakeJobService()
	e := newTestEngine(svc, WithConcurrency(1))

	results := e.Compute(context.Background(), []string{"B", "A", "B", "A"})
	require.Len(t, results, 2)
	assert.Equal(t, "B", results[0].ID)
	assert.Equal(t, "A", results[1].ID)
}

func TestCompute_JobParameters(t *testing.T) {
	svc := newFakeJobService()
	e := newTestEngine(svc)

	e.Compute(context.Background(), []string{"S1"})

	assert.Equal(t, 10, svc.lastReq.Limit)
	assert.Equal(t, 0.5, svc.lastReq.Similarity)
	assert.Equal(t, "mlst", svc.lastReq.TypingMethod)
	assert.Equal(t, "single", svc.lastReq.ClusterMethod)
	assert.False(t, svc.lastReq.Cluster)
}

func TestCompute_SubmitFailureYieldsEmptyRecord(t *testing.T) {
	svc := newFakeJobService()
	svc.submitErrs["S1"] = eris.New("boom")
	svc.neighbors["S2"] = []bonsai.JobNeighbor{{SampleID: "S3", Similarity: 0.7}}
	e := newTestEngine(svc)

	results := e.Compute(context.Background(), []string{"S1", "S2"})
	require.Len(t, results, 2)
	assert.Equal(t, "S1", results[0].ID)
	assert.Empty(t, results[0].Similar)
	require.Len(t, results[1].Similar, 1)
}

func TestCompute_PollBudgetExhaustedFailsSoft(t *testing.T) {
	svc := newFakeJobService()
	svc.neverFinish["S1"] = true
	e := newTestEngine(svc)

	results := e.Compute(context.Background(), []string{"S1"})
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Similar)
	assert.Equal(t, 3, svc.polls["S1"])
}

func TestCompute_WaitsThroughPendingPolls(t *testing.T) {
	svc := newFakeJobService()
	svc.pendingPolls = 2
	svc.neighbors["S1"] = []bonsai.JobNeighbor{{SampleID: "S2", Similarity: 0.8}}
	e := newTestEngine(svc)

	results := e.Compute(context.Background(), []string{"S1"})
	require.Len(t, results[0].Similar, 1)
	assert.Equal(t, 3, svc.polls["S1"])
}

func TestCompute_Progress(t *testing.T) {
	svc := newFakeJobService()
	var last int
	e := newTestEngine(svc, WithProgress(func(done int) { last = done }))

	e.Compute(context.Background(), []string{"S1", "S2", "S3"})
	assert.Equal(t, 3, last)
}

func TestReconcile_OneHop(t *testing.T) {
	svc := newFakeJobService()
	svc.neighbors["D"] = []bonsai.JobNeighbor{{SampleID: "B", Similarity: 0.9}}
	svc.neighbors["B"] = []bonsai.JobNeighbor{
		{SampleID: "A", Similarity: 0.8},
		{SampleID: "D", Similarity: 0.9},
	}
	e := newTestEngine(svc)

	existing := []model.Similarity{
		{ID: "A", Similar: []model.Neighbor{{ID: "B", Similarity: 0.8}}},
		{ID: "B", Similar: []model.Neighbor{{ID: "A", Similarity: 0.8}}},
		{ID: "C", Similar: []model.Neighbor{}},
	}

	merged := e.Reconcile(context.Background(), existing, []string{"D"})

	byID := map[string]model.Similarity{}
	for _, rec := range merged {
		byID[rec.ID] = rec
	}
	require.Len(t, byID, 4)

	// D is new, B was recomputed because D now names it as a neighbor.
	assert.Equal(t, []model.Neighbor{{ID: "B", Similarity: 0.9}}, byID["D"].Similar)
	assert.Equal(t, []model.Neighbor{
		{ID: "A", Similarity: 0.8},
		{ID: "D", Similarity: 0.9},
	}, byID["B"].Similar)

	// A and C carry over unchanged.
	assert.Equal(t, existing[0].Similar, byID["A"].Similar)
	assert.Empty(t, byID["C"].Similar)

	var recomputed []string
	recomputed = append(recomputed, svc.submitted...)
	sort.Strings(recomputed)
	assert.Equal(t, []string{"B", "D"}, recomputed)
}

func TestReconcile_NoAffected(t *testing.T) {
	svc := newFakeJobService()
	svc.neighbors["X"] = []bonsai.JobNeighbor{{SampleID: "Y", Similarity: 0.6}}
	e := newTestEngine(svc)

	// Y is not in the store, so nothing beyond X is recomputed.
	merged := e.Reconcile(context.Background(), nil, []string{"X"})
	require.Len(t, merged, 1)
	assert.Equal(t, []string{"X"}, svc.submitted)
}
