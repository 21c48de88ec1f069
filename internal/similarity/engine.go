// Package similarity computes per-sample neighbor lists through the Bonsai
// asynchronous job API and reconciles them against previously stored records.
package similarity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mimosa-project/mimosa-sync/internal/model"
	"github.com/mimosa-project/mimosa-sync/pkg/bonsai"
)

// JobService is the subset of the Bonsai client the engine needs.
type JobService interface {
	SubmitSimilarityJob(ctx context.Context, sampleID string, req bonsai.SimilarityJobRequest) (string, error)
	JobStatus(ctx context.Context, jobToken string) (*bonsai.JobStatus, error)
}

// Engine submits one neighbor-search job per sample and polls to completion.
type Engine struct {
	jobs JobService

	// Job parameters.
	Limit         int
	Threshold     float64
	TypingMethod  string
	ClusterMethod string

	// Polling behaviour.
	PollInterval time.Duration
	MaxAttempts  int
	Concurrency  int

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	onProgress func(done int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolling overrides the poll interval and attempt budget.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(e *Engine) {
		e.PollInterval = interval
		e.MaxAttempts = attempts
	}
}

// WithConcurrency bounds the number of samples processed at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.Concurrency = n
		}
	}
}

// WithProgress registers a callback invoked after each sample completes,
// with the running count of completed samples.
func WithProgress(fn func(done int)) Option {
	return func(e *Engine) { e.onProgress = fn }
}

// NewEngine creates an Engine with the default job parameters.
func NewEngine(jobs JobService, opts ...Option) *Engine {
	e := &Engine{
		jobs:          jobs,
		Limit:         10,
		Threshold:     0.5,
		TypingMethod:  "mlst",
		ClusterMethod: "single",
		PollInterval:  3 * time.Second,
		MaxAttempts:   10,
		Concurrency:   4,
		now:           time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute returns one similarity record per deduplicated input identifier,
// preserving first-seen order. A submit or poll failure for one sample yields
// an empty neighbor list for that sample rather than failing the batch.
func (e *Engine) Compute(ctx context.Context, ids []string) []model.Similarity {
	ids = dedupe(ids)
	results := make([]model.Similarity, len(ids))

	var mu sync.Mutex
	var done int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			neighbors, err := e.computeOne(gctx, id)
			if err != nil {
				zap.L().Warn("similarity lookup failed, storing empty neighbor list",
					zap.String("sample_id", id), zap.Error(err))
				neighbors = nil
			}
			results[i] = model.Similarity{
				ID:        id,
				Similar:   normalize(id, neighbors),
				CreatedAt: e.now().UTC(),
			}

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			if e.onProgress != nil {
				e.onProgress(n)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return results
}

func (e *Engine) computeOne(ctx context.Context, id string) ([]bonsai.JobNeighbor, error) {
	token, err := e.jobs.SubmitSimilarityJob(ctx, id, bonsai.SimilarityJobRequest{
		Limit:         e.Limit,
		Similarity:    e.Threshold,
		Cluster:       false,
		TypingMethod:  e.TypingMethod,
		ClusterMethod: e.ClusterMethod,
	})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < e.MaxAttempts; attempt++ {
		status, err := e.jobs.JobStatus(ctx, token)
		if err != nil {
			return nil, err
		}
		if terminal(status.Status) {
			return status.Result, nil
		}
		if err := e.sleep(ctx, e.PollInterval); err != nil {
			return nil, err
		}
	}

	// Attempt budget exhausted: treat as an empty result, not a failure.
	zap.L().Warn("similarity job did not finish within attempt budget",
		zap.String("sample_id", id), zap.Int("attempts", e.MaxAttempts))
	return nil, nil
}

func terminal(status string) bool {
	return status == "completed" || status == "finished"
}

// normalize drops neighbors with no identifier, self-matches, and duplicate
// identifiers (first occurrence wins).
func normalize(selfID string, raw []bonsai.JobNeighbor) []model.Neighbor {
	out := []model.Neighbor{}
	seen := map[string]bool{}
	for _, n := range raw {
		if n.SampleID == "" || n.SampleID == selfID || seen[n.SampleID] {
			continue
		}
		seen[n.SampleID] = true
		out = append(out, model.Neighbor{ID: n.SampleID, Similarity: n.Similarity})
	}
	return out
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
