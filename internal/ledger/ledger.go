// Package ledger tracks per-stage pipeline progress: a pure in-memory state
// of every (scope, stage) pair plus the runner that drives entries through
// the stage state machine.
package ledger

import (
	"sync"
	"time"
)

// Status is the state of a single pipeline stage.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// severity orders statuses for aggregation: a composite view surfaces the
// worst sub-state, but a finished-and-partially-skipped group reads as done.
var severity = map[Status]int{
	StatusFailed:  4,
	StatusRunning: 3,
	StatusPending: 2,
	StatusDone:    1,
	StatusSkipped: 0,
}

// Severity returns the aggregation rank of s. Unknown statuses rank lowest.
func (s Status) Severity() int {
	return severity[s]
}

// GlobalScope is the reserved scope for cross-profile work (similarity).
const GlobalScope = "__global__"

// Entry is the ledger record for one (scope, stage) pair.
type Entry struct {
	Status     Status
	Count      int
	Done       int
	Total      int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// AggregateStatus returns the highest-severity status among entries.
// Returns StatusSkipped for an empty set.
func AggregateStatus(entries []Entry) Status {
	agg := StatusSkipped
	for _, e := range entries {
		if e.Status.Severity() > agg.Severity() {
			agg = e.Status
		}
	}
	return agg
}

// AggregateProgress sums done/total counters across entries for proportional
// progress display.
func AggregateProgress(entries []Entry) (done, total int) {
	for _, e := range entries {
		done += e.Done
		total += e.Total
	}
	return done, total
}

// State holds one Entry per (scope, stage) pair for a single pipeline run.
// All access goes through the mutex so the runner, the similarity pool's
// progress updates, and the render callback serialize.
type State struct {
	mu     sync.Mutex
	order  []string
	stages []string
	scopes map[string]map[string]*Entry
}

// NewState creates a ledger with every declared stage of every scope set to
// pending with zero counters. Scope iteration order is preserved for
// rendering.
func NewState(scopes, stages []string) *State {
	s := &State{
		order:  append([]string(nil), scopes...),
		stages: append([]string(nil), stages...),
		scopes: make(map[string]map[string]*Entry, len(scopes)),
	}
	for _, scope := range scopes {
		entries := make(map[string]*Entry, len(stages))
		for _, stage := range stages {
			entries[stage] = &Entry{Status: StatusPending}
		}
		s.scopes[scope] = entries
	}
	return s
}

// Scopes returns scope names in declaration order.
func (s *State) Scopes() []string {
	return append([]string(nil), s.order...)
}

// Stages returns the declared stage names in order.
func (s *State) Stages() []string {
	return append([]string(nil), s.stages...)
}

// Entry returns a snapshot of one ledger entry. The zero Entry is returned
// for unknown pairs.
func (s *State) Entry(scope, stage string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.lookup(scope, stage); e != nil {
		return *e
	}
	return Entry{}
}

// Entries returns snapshots for the named stages of one scope, in order.
func (s *State) Entries(scope string, stages []string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(stages))
	for _, stage := range stages {
		if e := s.lookup(scope, stage); e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// MarkSkipped marks a stage skipped. Only stages that never started running
// can be skipped; later transitions are ignored.
func (s *State) MarkSkipped(scope, stage string) {
	s.update(scope, stage, func(e *Entry) {
		if e.Status == StatusPending {
			e.Status = StatusSkipped
		}
	})
}

// SetCount records the number of items a stage processed.
func (s *State) SetCount(scope, stage string, count int) {
	s.update(scope, stage, func(e *Entry) {
		e.Count = count
	})
}

// SetProgress updates the done/total sub-progress counters of a long-running
// stage.
func (s *State) SetProgress(scope, stage string, done, total int) {
	s.update(scope, stage, func(e *Entry) {
		e.Done = done
		e.Total = total
	})
}

// ScopeDuration sums recorded stage durations for one scope.
func (s *State) ScopeDuration(scope string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d time.Duration
	for _, e := range s.scopes[scope] {
		d += e.Duration
	}
	return d
}

func (s *State) update(scope, stage string, fn func(*Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.lookup(scope, stage); e != nil {
		fn(e)
	}
}

// lookup must be called with the mutex held.
func (s *State) lookup(scope, stage string) *Entry {
	entries, ok := s.scopes[scope]
	if !ok {
		return nil
	}
	return entries[stage]
}
